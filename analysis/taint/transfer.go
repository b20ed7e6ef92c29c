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

// Package taint implements the per-instruction abstract transfer functions of the use-after-free analysis.
//
// [XferTaint] propagates a tracked location through the statements of one instruction. [DerefVar] decides whether an
// instruction genuinely dereferences a tracked location, as opposed to copying or comparing it. [StackEscape] is
// the variant used by the stack escape check: it reports when a tracked value is written at an address that cannot
// be tracked.
package taint

import (
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/awslabs/ar-bin-tools/internal/funcutil"
)

// Set is a small ordered set of locations.
type Set []location.Var

func (s Set) contains(v location.Var) bool {
	return funcutil.Contains(s, v)
}

func (s Set) add(v location.Var) Set {
	if s.contains(v) {
		return s
	}
	return append(s, v)
}

func (s Set) remove(v location.Var) Set {
	return funcutil.Filter(s, func(x location.Var) bool { return x != v })
}

// matches returns true when e reads a tracked location directly: a tracked register, or a load whose index
// promotes to a tracked cell.
func (s Set) matches(e ir.Expr) bool {
	switch x := e.(type) {
	case ir.Var:
		return s.contains(location.Register(x.V))
	case ir.Load:
		idx := location.PromoteIndex(x.Index)
		return idx.IsSome() && s.contains(idx.Value())
	default:
		return false
	}
}

// state is the fold state of the transfer functions. escaped short-circuits the fold once set.
type state struct {
	tracked Set
	escaped bool
}

func step(st state, stmt ir.Stmt, escapes bool) state {
	if st.escaped {
		return st
	}
	mv, ok := stmt.(ir.Move)
	if !ok {
		return st
	}
	switch {
	case mv.Lhs.IsRegister():
		reg := location.Register(mv.Lhs)
		if st.tracked.matches(mv.Rhs) {
			st.tracked = st.tracked.add(reg)
		} else {
			st.tracked = st.tracked.remove(reg)
		}
	case mv.Lhs.IsMemory():
		store, ok := mv.Rhs.(ir.Store)
		if !ok {
			return st
		}
		idx := location.PromoteIndex(store.Index)
		if st.tracked.matches(store.Value) {
			if idx.IsNone() {
				st.escaped = escapes
				return st
			}
			st.tracked = st.tracked.add(idx.Value())
		} else if idx.IsSome() {
			st.tracked = st.tracked.remove(idx.Value())
		}
	}
	return st
}

// XferTaint returns the locations that hold the tracked value after the instruction executes, starting from the
// single location v. Temporaries and flags are filtered out of the result.
func XferTaint(sema *ir.Sema, v location.Var) []location.Var {
	st := state{tracked: Set{v}}
	for _, stmt := range sema.Stmts {
		st = step(st, stmt, false)
	}
	return funcutil.Filter(st.tracked, location.Var.NotTemp)
}

// StackEscape returns true when the instruction writes a value derived from v to an address that cannot be promoted
// to a trackable location.
func StackEscape(v location.Var, sema *ir.Sema) bool {
	st := state{tracked: Set{v}}
	for _, stmt := range sema.Stmts {
		st = step(st, stmt, true)
	}
	return st.escaped
}

// DerefVar returns true iff some statement of the instruction loads or stores through v. Only registers can be
// dereferenced, and the index must be exactly the register: cells and offset indexes never match.
func DerefVar(sema *ir.Sema, v location.Var) bool {
	return funcutil.Exists(sema.Stmts, func(stmt ir.Stmt) bool { return derefStmt(stmt, v) })
}

func derefStmt(stmt ir.Stmt, v location.Var) bool {
	switch s := stmt.(type) {
	case ir.Move:
		return derefExpr(s.Rhs, v)
	case ir.Jump:
		return derefExpr(s.Target, v)
	default:
		return false
	}
}

func checkIndex(idx ir.Expr, v location.Var) bool {
	x, ok := idx.(ir.Var)
	return ok && !v.HasOffset && v.Base == x.V
}

func derefExpr(e ir.Expr, v location.Var) bool {
	switch x := e.(type) {
	case ir.Load:
		return checkIndex(x.Index, v) || derefExpr(x.Mem, v)
	case ir.Store:
		return checkIndex(x.Index, v) || derefExpr(x.Mem, v) || derefExpr(x.Value, v)
	case ir.Cast:
		return derefExpr(x.Arg, v)
	case ir.UnOp:
		return derefExpr(x.Arg, v)
	case ir.BinOp:
		return derefExpr(x.Lhs, v) || derefExpr(x.Rhs, v)
	default:
		return false
	}
}
