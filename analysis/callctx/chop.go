// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package callctx

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Capacity is the maximum number of call targets a chop can hold.
const Capacity = 3

// Chop is the set of distinct call targets visited along one analysis branch. Its members are kept sorted so that
// equal sets are equal values; a Chop can be used as a map key.
type Chop struct {
	n     int
	addrs [Capacity]uint64
}

// ClampLimit returns the effective chop limit for a configured value: values outside 1..Capacity mean Capacity.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > Capacity {
		return Capacity
	}
	return limit
}

// Add returns the chop extended with addr. If addr is already a member, the chop is returned unchanged. If adding
// addr would make the chop hold more than limit targets, ok is false and the branch must be dropped.
func (c Chop) Add(addr uint64, limit int) (res Chop, ok bool) {
	if c.Contains(addr) {
		return c, true
	}
	if c.n >= ClampLimit(limit) {
		return Chop{}, false
	}
	res = c
	res.addrs[res.n] = addr
	res.n++
	slices.Sort(res.addrs[:res.n])
	return res, true
}

// Contains returns true when addr is a member of the chop.
func (c Chop) Contains(addr uint64) bool {
	return slices.Contains(c.addrs[:c.n], addr)
}

// Len returns the number of targets in the chop.
func (c Chop) Len() int { return c.n }

// Addrs returns the sorted members of the chop.
func (c Chop) Addrs() []uint64 {
	return slices.Clone(c.addrs[:c.n])
}

func (c Chop) String() string {
	parts := make([]string, c.n)
	for i, a := range c.addrs[:c.n] {
		parts[i] = fmt.Sprintf("0x%x", a)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
