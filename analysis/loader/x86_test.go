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

package loader

import (
	"testing"

	"github.com/awslabs/ar-bin-tools/analysis/cfg"
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/awslabs/ar-bin-tools/analysis/taint"
	"github.com/google/go-cmp/cmp"
)

func lift(t *testing.T, addr uint64, code ...byte) *ir.Sema {
	s, err := X86Lifter{}.Lift(addr, code)
	if err != nil {
		t.Fatalf("failed to lift % x: %v", code, err)
	}
	if s.Len != len(code) {
		t.Fatalf("% x: expected length %d, got %d", code, len(code), s.Len)
	}
	return s
}

var (
	rax = ir.Reg("RAX", 64)
	rdi = ir.Reg("RDI", 64)
)

func TestLiftLoad(t *testing.T) {
	// mov rax, [rdi].
	s := lift(t, 0x1000, 0x48, 0x8b, 0x07)
	want := []ir.Stmt{ir.Move{Lhs: rax, Rhs: ir.Load{Mem: ir.Var{V: memory}, Index: ir.Var{V: rdi}, Size: 64}}}
	if diff := cmp.Diff(want, s.Stmts); diff != "" {
		t.Errorf("unexpected statements (-want +got):\n%s", diff)
	}
	if s.Fall != 0x1003 || s.IsCall || s.IsRet {
		t.Errorf("unexpected instruction attributes %+v", s)
	}
	if !taint.DerefVar(s, location.Register(rdi)) {
		t.Errorf("mov rax, [rdi] should dereference RDI")
	}
	if s.Disasm == "" {
		t.Errorf("missing disassembly")
	}
}

func TestLiftSpill(t *testing.T) {
	// mov [rbp-0x8], rax.
	s := lift(t, 0x1000, 0x48, 0x89, 0x45, 0xf8)
	got := taint.XferTaint(s, location.Register(rax))
	want := []location.Var{location.Register(rax), location.Cell(rbp, 0xfffffffffffffff8)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected locations (-want +got):\n%s", diff)
	}
}

func TestLiftCall(t *testing.T) {
	// call 0x1015.
	s := lift(t, 0x1000, 0xe8, 0x10, 0x00, 0x00, 0x00)
	if !s.IsCall || s.Fall != 0x1005 {
		t.Errorf("expected a call falling to 0x1005, got %+v", s)
	}
	if diff := cmp.Diff([]uint64{0x1015}, cfg.Successors(s)); diff != "" {
		t.Errorf("unexpected successors (-want +got):\n%s", diff)
	}
}

func TestLiftRet(t *testing.T) {
	s := lift(t, 0x1000, 0xc3)
	if !s.IsRet {
		t.Errorf("expected a return")
	}
	if targets := cfg.UpperSuccessors(s); !targets.Top {
		t.Errorf("a return has unresolved successors, got %s", targets)
	}
	if len(s.Stmts) != 3 {
		t.Errorf("expected load, stack adjustment and jump, got %v", s.Stmts)
	}
}

func TestLiftJumps(t *testing.T) {
	// jmp 0x1007.
	s := lift(t, 0x1000, 0xeb, 0x05)
	if diff := cmp.Diff([]uint64{0x1007}, cfg.Successors(s)); diff != "" {
		t.Errorf("unexpected successors of jmp (-want +got):\n%s", diff)
	}
	// je 0x1004.
	s = lift(t, 0x1000, 0x74, 0x02)
	if diff := cmp.Diff([]uint64{0x1004, 0x1002}, cfg.Successors(s)); diff != "" {
		t.Errorf("unexpected successors of je (-want +got):\n%s", diff)
	}
	// jmp rax
	s = lift(t, 0x1000, 0xff, 0xe0)
	if !cfg.UpperSuccessors(s).Top {
		t.Errorf("an indirect jump is unresolved")
	}
}

func TestLiftXorClears(t *testing.T) {
	// xor eax, eax.
	s := lift(t, 0x1000, 0x31, 0xc0)
	if got := taint.XferTaint(s, location.Register(rax)); len(got) != 0 {
		t.Errorf("xor eax, eax should clear RAX, got %v", got)
	}
}

func TestLiftRipRelative(t *testing.T) {
	// lea rax, [rip+0x1000].
	s := lift(t, 0x1000, 0x48, 0x8d, 0x05, 0x00, 0x10, 0x00, 0x00)
	want := []ir.Stmt{ir.Move{Lhs: rax, Rhs: ir.Const{Value: 0x2007, Width: 64}}}
	if diff := cmp.Diff(want, s.Stmts); diff != "" {
		t.Errorf("unexpected statements (-want +got):\n%s", diff)
	}
}

func TestLiftPushPop(t *testing.T) {
	// push rdi; pop rax.
	push := lift(t, 0x1000, 0x57)
	cell := location.Cell(rsp, 0)
	if got := taint.XferTaint(push, location.Register(rdi)); !cmp.Equal(got,
		[]location.Var{location.Register(rdi), cell}) {
		t.Errorf("push should spill RDI to [RSP], got %v", got)
	}
	pop := lift(t, 0x1001, 0x58)
	got := taint.XferTaint(pop, cell)
	found := false
	for _, v := range got {
		found = found || v == location.Register(rax)
	}
	if !found {
		t.Errorf("pop should reload [RSP] into RAX, got %v", got)
	}
}

func TestLiftEndbr(t *testing.T) {
	s := lift(t, 0x1000, 0xf3, 0x0f, 0x1e, 0xfa)
	if len(s.Stmts) != 0 || s.Fall != 0x1004 {
		t.Errorf("endbr64 should be a no-op, got %+v", s)
	}
}

func TestLiftTrap(t *testing.T) {
	s := lift(t, 0x1000, 0x0f, 0x0b)
	if len(cfg.Successors(s)) != 0 {
		t.Errorf("ud2 has no successor")
	}
}

func TestLiftFailure(t *testing.T) {
	if _, err := (X86Lifter{}).Lift(0x1000, nil); err == nil {
		t.Errorf("lifting no bytes should fail")
	}
}

func TestBinaryLift(t *testing.T) {
	code := []byte{0x48, 0x8b, 0x07, 0xc3}
	var ids IDs
	seg := Segment{ID: ids.Next(), Data: code, Start: 0x400000, End: 0x400010, Readable: true, Executable: true}
	b, err := NewBinary("test", ir.ArchX86_64, 0x400000, []Segment{seg}, nil, nil)
	if err != nil {
		t.Fatalf("could not build binary: %v", err)
	}
	s, err := b.Lift(0x400003)
	if err != nil || !s.IsRet {
		t.Errorf("expected ret at 0x400003, got %v, %v", s, err)
	}
	if _, err := b.Lift(0x400008); err == nil {
		t.Errorf("lifting past the file data should fail")
	}
	if _, err := b.Lift(0x500000); err == nil {
		t.Errorf("lifting outside of segments should fail")
	}
	if _, err := NewBinary("arm", ir.Arch("aarch64"), 0, nil, nil, nil); err == nil {
		t.Errorf("expected an error for an unsupported architecture")
	}
}
