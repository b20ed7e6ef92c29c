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

package uaf

import (
	"fmt"

	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/datalog"
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/location"
)

// Site is an address in a binary.
type Site struct {
	Bin  string
	Addr uint64
}

func (s Site) String() string {
	return fmt.Sprintf("%s@0x%x", s.Bin, s.Addr)
}

// Discovery facts

// File is a loaded binary.
type File struct {
	Bin string
}

func (f File) Row() []datalog.Value { return []datalog.Value{datalog.String(f.Bin)} }

// Arch is the architecture of a binary.
type Arch struct {
	Bin  string
	Arch ir.Arch
}

func (a Arch) Row() []datalog.Value {
	return []datalog.Value{datalog.String(a.Bin), datalog.String(string(a.Arch))}
}

// Segment is a loadable segment of a binary.
type Segment struct {
	Bin        string
	ID         uint64
	Start, End uint64
	R, W, X    bool
}

func (s Segment) Row() []datalog.Value {
	return []datalog.Value{datalog.String(s.Bin), datalog.Int(int64(s.ID)), datalog.Address(s.Start),
		datalog.Address(s.End), datalog.Bool(s.R), datalog.Bool(s.W), datalog.Bool(s.X)}
}

// LinkPad is an import stub: calling Addr calls the routine Name of another object.
type LinkPad struct {
	Bin  string
	Name string
	Addr uint64
}

func (l LinkPad) Row() []datalog.Value {
	return []datalog.Value{datalog.String(l.Bin), datalog.String(l.Name), datalog.Address(l.Addr)}
}

// Entry is a function symbol.
type Entry struct {
	Bin  string
	Name string
	Addr uint64
}

func (e Entry) Row() []datalog.Value {
	return []datalog.Value{datalog.String(e.Bin), datalog.String(e.Name), datalog.Address(e.Addr)}
}

// Live is an address that holds reachable code.
type Live struct {
	Bin  string
	Addr uint64
}

func (l Live) Row() []datalog.Value {
	return []datalog.Value{datalog.String(l.Bin), datalog.Address(l.Addr)}
}

// SegLive places a live address in its segment.
type SegLive struct {
	Bin  string
	Seg  uint64
	Addr uint64
}

func (l SegLive) Row() []datalog.Value {
	return []datalog.Value{datalog.String(l.Bin), datalog.Int(int64(l.Seg)), datalog.Address(l.Addr)}
}

// Sema is the lifted semantics of a live instruction.
type Sema struct {
	Bin  string
	Addr uint64
	Sema *ir.Sema
}

func (s Sema) Row() []datalog.Value {
	return []datalog.Value{datalog.String(s.Bin), datalog.Address(s.Addr), datalog.Int(int64(len(s.Sema.Stmts)))}
}

// Disasm is the disassembly of a live instruction.
type Disasm struct {
	Bin  string
	Addr uint64
	Text string
}

func (d Disasm) Row() []datalog.Value {
	return []datalog.Value{datalog.String(d.Bin), datalog.Address(d.Addr), datalog.String(d.Text)}
}

// Succ is a resolved control transfer. For calls, Dst is the callee.
type Succ struct {
	Bin    string
	Src    uint64
	Dst    uint64
	IsCall bool
}

func (s Succ) Row() []datalog.Value {
	return []datalog.Value{datalog.String(s.Bin), datalog.Address(s.Src), datalog.Address(s.Dst),
		datalog.Bool(s.IsCall)}
}

// MayJump records that an instruction has control transfers that could not be resolved.
type MayJump struct {
	Bin  string
	Addr uint64
}

func (m MayJump) Row() []datalog.Value {
	return []datalog.Value{datalog.String(m.Bin), datalog.Address(m.Addr)}
}

// IsCall marks call instructions.
type IsCall struct {
	Bin  string
	Addr uint64
}

func (c IsCall) Row() []datalog.Value {
	return []datalog.Value{datalog.String(c.Bin), datalog.Address(c.Addr)}
}

// IsRet marks return instructions.
type IsRet struct {
	Bin  string
	Addr uint64
}

func (r IsRet) Row() []datalog.Value {
	return []datalog.Value{datalog.String(r.Bin), datalog.Address(r.Addr)}
}

// SuccOver links a call to the instruction it returns to.
type SuccOver struct {
	Bin      string
	Src, Dst uint64
}

func (s SuccOver) Row() []datalog.Value {
	return []datalog.Value{datalog.String(s.Bin), datalog.Address(s.Src), datalog.Address(s.Dst)}
}

// Func records that Addr is intraprocedurally reachable from the function entry Entry.
type Func struct {
	Bin   string
	Entry uint64
	Addr  uint64
}

func (f Func) Row() []datalog.Value {
	return []datalog.Value{datalog.String(f.Bin), datalog.Address(f.Entry), datalog.Address(f.Addr)}
}

// CallSite is a call whose callee is a function of a loaded binary.
type CallSite struct {
	Bin       string
	Addr      uint64
	TargetBin string
	Target    uint64
}

func (c CallSite) Row() []datalog.Value {
	return []datalog.Value{datalog.String(c.Bin), datalog.Address(c.Addr), datalog.String(c.TargetBin),
		datalog.Address(c.Target)}
}

// Routine classification facts

// MallocCall is a call to an allocator.
type MallocCall struct {
	Bin  string
	Addr uint64
}

func (c MallocCall) Row() []datalog.Value {
	return []datalog.Value{datalog.String(c.Bin), datalog.Address(c.Addr)}
}

// FreeCall is a call to a deallocator.
type FreeCall struct {
	Bin  string
	Addr uint64
}

func (c FreeCall) Row() []datalog.Value {
	return []datalog.Value{datalog.String(c.Bin), datalog.Address(c.Addr)}
}

// FormatCall is a call to a printf-like routine whose format string is in argument Arg.
type FormatCall struct {
	Bin  string
	Addr uint64
	Arg  int
}

func (c FormatCall) Row() []datalog.Value {
	return []datalog.Value{datalog.String(c.Bin), datalog.Address(c.Addr), datalog.Int(int64(c.Arg))}
}

// FuncUses records that the call at Addr reads through Var.
type FuncUses struct {
	Bin  string
	Addr uint64
	Var  location.Var
}

func (f FuncUses) Row() []datalog.Value {
	return []datalog.Value{datalog.String(f.Bin), datalog.Address(f.Addr), datalog.Var(f.Var)}
}

// SkipFunc is a call stepped over: its callee is not analyzed, and only clobbers the return register.
type SkipFunc struct {
	Bin  string
	Addr uint64
}

func (s SkipFunc) Row() []datalog.Value {
	return []datalog.Value{datalog.String(s.Bin), datalog.Address(s.Addr)}
}

// Constant facts

// PossConst records that Var may hold Value before the instruction at Addr executes.
type PossConst struct {
	Bin   string
	Addr  uint64
	Var   location.Var
	Value uint64
}

func (p PossConst) Row() []datalog.Value {
	return []datalog.Value{datalog.String(p.Bin), datalog.Address(p.Addr), datalog.Var(p.Var),
		datalog.Address(p.Value)}
}

// PossString is a NUL-terminated printable string found at Addr.
type PossString struct {
	Bin  string
	Addr uint64
	Str  string
}

func (p PossString) Row() []datalog.Value {
	return []datalog.Value{datalog.String(p.Bin), datalog.Address(p.Addr), datalog.String(p.Str)}
}

// Path alias facts

// AliasKey identifies a path-alias state: Var may hold the object allocated at (Src, SrcAddr) before the instruction
// at (Bin, Addr) executes, in context Ctx, after visiting the call targets of Chop. The freed flag is the value of the
// state in the lattice.
type AliasKey struct {
	Src     string
	SrcAddr uint64
	Ctx     callctx.ID
	Chop    callctx.Chop
	Bin     string
	Addr    uint64
	Var     location.Var
}

func (k AliasKey) Row() []datalog.Value {
	return []datalog.Value{datalog.String(k.Src), datalog.Address(k.SrcAddr), datalog.Stack(k.Ctx),
		datalog.Chop(k.Chop), datalog.String(k.Bin), datalog.Address(k.Addr), datalog.Var(k.Var)}
}

// group is the key of the freed-flag upgrade: all the states of an object at one program point in one context.
type group struct {
	Src     string
	SrcAddr uint64
	Ctx     callctx.ID
	Bin     string
	Addr    uint64
}

func (k AliasKey) group() group {
	return group{Src: k.Src, SrcAddr: k.SrcAddr, Ctx: k.Ctx, Bin: k.Bin, Addr: k.Addr}
}

// StackFrame records the push of a frame: Child is Parent with (Bin, Ret) on top.
type StackFrame struct {
	Child  callctx.ID
	Parent callctx.ID
	Bin    string
	Ret    uint64
}

func (s StackFrame) Row() []datalog.Value {
	return []datalog.Value{datalog.Stack(s.Child), datalog.Stack(s.Parent), datalog.String(s.Bin),
		datalog.Address(s.Ret)}
}

// Flow is a use of a freed object found by the path-alias analysis.
type Flow struct {
	Src     string
	SrcAddr uint64
	Ctx     callctx.ID
	Bin     string
	Addr    uint64
	Var     location.Var
}

func (f Flow) Row() []datalog.Value {
	return []datalog.Value{datalog.String(f.Src), datalog.Address(f.SrcAddr), datalog.Stack(f.Ctx),
		datalog.String(f.Bin), datalog.Address(f.Addr), datalog.Var(f.Var)}
}

// Trace facts

// Trace is a step of a witness trace from the allocation at (Src, SrcAddr). Len counts the steps from the root.
type Trace struct {
	ID      callctx.TraceID
	Ctx     callctx.ID
	Prev    callctx.TraceID
	Src     string
	SrcAddr uint64
	Bin     string
	Addr    uint64
	Len     int
}

func (t Trace) Row() []datalog.Value {
	return []datalog.Value{datalog.Trace(t.ID), datalog.Stack(t.Ctx), datalog.Trace(t.Prev), datalog.String(t.Src),
		datalog.Address(t.SrcAddr), datalog.String(t.Bin), datalog.Address(t.Addr), datalog.Int(int64(t.Len))}
}

// TraceKey is a path-alias state along a trace.
type TraceKey struct {
	Trace callctx.TraceID
	Var   location.Var
}

func (k TraceKey) Row() []datalog.Value {
	return []datalog.Value{datalog.Trace(k.Trace), datalog.Var(k.Var)}
}

// UseAfterFree is a flow witnessed by a trace.
type UseAfterFree struct {
	Src     string
	SrcAddr uint64
	Bin     string
	Addr    uint64
	Var     location.Var
	Trace   callctx.TraceID
}

func (u UseAfterFree) Row() []datalog.Value {
	return []datalog.Value{datalog.String(u.Src), datalog.Address(u.SrcAddr), datalog.String(u.Bin),
		datalog.Address(u.Addr), datalog.Var(u.Var), datalog.Trace(u.Trace)}
}

// Grading and stack escape facts

// Graded is a flow classified by the _bad/_good naming convention.
type Graded struct {
	Src     string
	SrcAddr uint64
	Bin     string
	Addr    uint64
}

func (g Graded) Row() []datalog.Value {
	return []datalog.Value{datalog.String(g.Src), datalog.Address(g.SrcAddr), datalog.String(g.Bin),
		datalog.Address(g.Addr)}
}

// StackKey is a stack-alias state: Var may hold a pointer into the frame of the function Func before Addr executes.
type StackKey struct {
	Bin  string
	Func uint64
	Addr uint64
	Var  location.Var
}

func (k StackKey) Row() []datalog.Value {
	return []datalog.Value{datalog.String(k.Bin), datalog.Address(k.Func), datalog.Address(k.Addr),
		datalog.Var(k.Var)}
}

// StackEscape is an instruction of Func storing a stack pointer where it cannot be tracked.
type StackEscape struct {
	Bin  string
	Func uint64
	Addr uint64
}

func (s StackEscape) Row() []datalog.Value {
	return []datalog.Value{datalog.String(s.Bin), datalog.Address(s.Func), datalog.Address(s.Addr)}
}
