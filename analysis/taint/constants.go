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

package taint

import (
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/location"
)

// Binding records that a location holds a constant.
type Binding struct {
	Var   location.Var
	Value uint64
}

// ConstInit returns the registers the instruction sets to a constant. Only plain moves of constants are considered,
// there is no arithmetic folding.
func ConstInit(sema *ir.Sema) []Binding {
	env := map[location.Var]uint64{}
	var order []location.Var
	for _, stmt := range sema.Stmts {
		mv, ok := stmt.(ir.Move)
		if !ok || !mv.Lhs.IsRegister() {
			continue
		}
		reg := location.Register(mv.Lhs)
		if k, ok := mv.Rhs.(ir.Const); ok {
			if _, seen := env[reg]; !seen {
				order = append(order, reg)
			}
			env[reg] = k.Value
		} else {
			delete(env, reg)
		}
	}
	return collect(env, order)
}

// ConstProp steps the binding v=k over the instruction: the binding survives if v is not redefined, and it is
// copied to every register moved from v.
func ConstProp(sema *ir.Sema, v location.Var, k uint64) []Binding {
	env := map[location.Var]uint64{v: k}
	order := []location.Var{v}
	for _, stmt := range sema.Stmts {
		mv, ok := stmt.(ir.Move)
		if !ok || !mv.Lhs.IsRegister() {
			continue
		}
		reg := location.Register(mv.Lhs)
		if src, ok := mv.Rhs.(ir.Var); ok {
			if val, bound := env[location.Register(src.V)]; bound {
				if _, seen := env[reg]; !seen {
					order = append(order, reg)
				}
				env[reg] = val
				continue
			}
		}
		delete(env, reg)
	}
	return collect(env, order)
}

func collect(env map[location.Var]uint64, order []location.Var) []Binding {
	var res []Binding
	seen := map[location.Var]bool{}
	for _, v := range order {
		if val, ok := env[v]; ok && !seen[v] && v.NotTemp() {
			seen[v] = true
			res = append(res, Binding{Var: v, Value: val})
		}
	}
	return res
}
