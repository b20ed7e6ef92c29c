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
	"testing"

	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/google/go-cmp/cmp"
)

func TestConstInit(t *testing.T) {
	s := sema(
		ir.Move{Lhs: rdi, Rhs: ir.Const{Value: 0x4000, Width: 64}},
		ir.Move{Lhs: rax, Rhs: ir.Const{Value: 1, Width: 64}},
		ir.Move{Lhs: rax, Rhs: ir.Var{V: rbx}},
		ir.Move{Lhs: tmp, Rhs: ir.Const{Value: 2, Width: 64}},
	)
	got := ConstInit(s)
	want := []Binding{{Var: location.Register(rdi), Value: 0x4000}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected bindings (-want +got):\n%s", diff)
	}
}

func TestConstProp(t *testing.T) {
	s := sema(ir.Move{Lhs: rdi, Rhs: ir.Var{V: rax}})
	got := ConstProp(s, location.Register(rax), 0x4000)
	want := []Binding{{Var: location.Register(rax), Value: 0x4000}, {Var: location.Register(rdi), Value: 0x4000}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected bindings (-want +got):\n%s", diff)
	}
}

func TestConstPropKill(t *testing.T) {
	s := sema(ir.Move{Lhs: rax, Rhs: load(ir.Var{V: rbx})})
	if got := ConstProp(s, location.Register(rax), 7); len(got) != 0 {
		t.Errorf("expected the binding to be killed, got %v", got)
	}
}
