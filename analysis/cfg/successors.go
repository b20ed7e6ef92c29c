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

// Package cfg resolves the control-transfer targets of a lifted instruction. Calls are classified separately by the
// lifter: for a call instruction the resolver returns the callee address when it is constant, and the caller decides
// how to step over it.
package cfg

import (
	"fmt"
	"strings"

	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"golang.org/x/exp/slices"
)

// MaxNesting bounds the depth of nested conditional blocks the resolver descends into. Deeper blocks are treated as
// unresolved control flow.
const MaxNesting = 64

// Targets is an upper set of successor addresses. When Top is true, the instruction transfers control somewhere that
// could not be resolved statically and Addrs lists only the targets that could.
type Targets struct {
	Top   bool
	Addrs []uint64
}

func (t Targets) String() string {
	parts := make([]string, 0, len(t.Addrs)+1)
	for _, a := range t.Addrs {
		parts = append(parts, fmt.Sprintf("0x%x", a))
	}
	if t.Top {
		parts = append(parts, "T")
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// resolution is the result of scanning a statement list: the targets found, whether control can reach the end of
// the list, and whether some transfer could not be resolved.
type resolution struct {
	targets    []uint64
	falls      bool
	unresolved bool
}

// stmtSucc scans stmts left to right.
func stmtSucc(stmts []ir.Stmt, depth int) resolution {
	var res resolution
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case ir.Jump:
			if k, ok := s.Target.(ir.Const); ok {
				res.targets = append(res.targets, k.Value)
			} else {
				res.unresolved = true
			}
			return res
		case ir.If:
			if depth >= MaxNesting {
				res.unresolved = true
				return res
			}
			then := stmtSucc(s.Then, depth+1)
			els := stmtSucc(s.Else, depth+1)
			res.targets = append(res.targets, then.targets...)
			res.targets = append(res.targets, els.targets...)
			res.unresolved = res.unresolved || then.unresolved || els.unresolved
			if !then.falls && !els.falls {
				return res
			}
		case ir.While:
			if depth >= MaxNesting {
				res.unresolved = true
				return res
			}
			body := stmtSucc(s.Body, depth+1)
			res.targets = append(res.targets, body.targets...)
			res.unresolved = res.unresolved || body.unresolved
			if !body.falls {
				return res
			}
		}
	}
	res.falls = true
	return res
}

// Successors returns the resolved successor addresses of the instruction. The fallthrough address is included iff
// control can reach the end of the statement list. A jump to a non-constant expression contributes no target and
// no fallthrough.
func Successors(sema *ir.Sema) []uint64 {
	res := stmtSucc(sema.Stmts, 0)
	targets := dedup(res.targets)
	if res.falls && !slices.Contains(targets, sema.Fall) {
		targets = append(targets, sema.Fall)
	}
	return targets
}

// UpperSuccessors returns the successors of the instruction as an upper set. The set is Top when some control transfer
// could not be resolved, or when no successor at all could be found.
func UpperSuccessors(sema *ir.Sema) Targets {
	res := stmtSucc(sema.Stmts, 0)
	targets := dedup(res.targets)
	if res.falls && !slices.Contains(targets, sema.Fall) {
		targets = append(targets, sema.Fall)
	}
	return Targets{Top: res.unresolved || len(targets) == 0, Addrs: targets}
}

func dedup(xs []uint64) []uint64 {
	out := make([]uint64, 0, len(xs))
	for _, x := range xs {
		if !slices.Contains(out, x) {
			out = append(out, x)
		}
	}
	return out
}
