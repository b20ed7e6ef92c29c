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
	"encoding/binary"
	"hash/fnv"
)

// TraceID identifies one step of a witness trace. It hashes the previous step, the context, and the location of the
// step, so that two traces reaching the same location through different paths get different identifiers.
type TraceID uint64

// TraceRoot is the previous step of the first step of every trace.
const TraceRoot TraceID = 0

// NextTrace returns the identifier of the step at (bin, addr) under context ctx that follows prev.
func NextTrace(prev TraceID, ctx ID, bin string, addr uint64) TraceID {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(prev))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(ctx))
	h.Write(buf[:])
	h.Write([]byte(bin))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], addr)
	h.Write(buf[:])
	id := TraceID(h.Sum64())
	if id == TraceRoot {
		id = 1
	}
	return id
}

// CanExtend returns true when a trace of length n may receive one more step under the bound max.
func CanExtend(n, max int) bool {
	return n < max
}
