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
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/loader"
)

// Programs of the tests are written directly in the lifted semantics: every instruction is instLen bytes long, and
// the import stubs are not lifted.
const instLen = 4

const (
	stubMalloc  = 0x100
	stubFree    = 0x110
	stubPrintf  = 0x120
	stubPuts    = 0x130
	rodataStart = 0xa000
)

var (
	mem = ir.Mem("mem", 64)
	rax = ir.Reg("RAX", 64)
	rbx = ir.Reg("RBX", 64)
	rdi = ir.Reg("RDI", 64)
	rsi = ir.Reg("RSI", 64)
	rsp = ir.Reg("RSP", 64)
	rbp = ir.Reg("RBP", 64)
	tmp = ir.Temp("T0", 64)
	zf  = ir.Flag("ZF")
)

type fakeProgram struct {
	name     string
	symbols  []loader.Symbol
	imports  []loader.Import
	segments []loader.Segment
	code     map[uint64]*ir.Sema
}

func newProgram(name string, imports ...string) *fakeProgram {
	p := &fakeProgram{
		name: name,
		code: map[uint64]*ir.Sema{},
		segments: []loader.Segment{
			{ID: 0, Start: 0x100, End: 0x9000, Readable: true, Executable: true},
		},
	}
	p.imports = []loader.Import{
		{Name: "malloc", Stub: stubMalloc},
		{Name: "free", Stub: stubFree},
		{Name: "printf", Stub: stubPrintf},
		{Name: "puts", Stub: stubPuts},
	}
	for i, imp := range imports {
		p.imports = append(p.imports, loader.Import{Name: imp, Stub: 0x200 + uint64(i)*0x10})
	}
	return p
}

func (p *fakeProgram) Name() string               { return p.name }
func (p *fakeProgram) Arch() ir.Arch              { return ir.ArchX86_64 }
func (p *fakeProgram) Entry() uint64              { return 0 }
func (p *fakeProgram) Segments() []loader.Segment { return p.segments }
func (p *fakeProgram) Symbols() []loader.Symbol   { return p.symbols }
func (p *fakeProgram) Imports() []loader.Import   { return p.imports }

func (p *fakeProgram) Lift(addr uint64) (*ir.Sema, error) {
	if s, ok := p.code[addr]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no instruction at %#x", addr)
}

// stub returns the address of the import stub of name.
func (p *fakeProgram) stub(name string) uint64 {
	for _, imp := range p.imports {
		if imp.Name == name {
			return imp.Stub
		}
	}
	panic("no import " + name)
}

// rodata adds a read-only data segment holding data.
func (p *fakeProgram) rodata(data string) {
	p.segments = append(p.segments, loader.Segment{ID: 1, Data: []byte(data), Start: rodataStart,
		End: rodataStart + uint64(len(data)), Readable: true})
}

// op is an instruction of a test program. Its statements are built once its fall-through address is known.
type op struct {
	text  string
	stmts func(fall uint64) []ir.Stmt
	call  bool
	ret   bool
}

// function lays out ops from start and adds the function symbol.
func (p *fakeProgram) function(name string, start uint64, ops ...op) {
	p.symbols = append(p.symbols, loader.Symbol{Name: name, Start: start, End: start + uint64(len(ops))*instLen})
	for i, o := range ops {
		addr := at(start, i)
		fall := addr + instLen
		var stmts []ir.Stmt
		if o.stmts != nil {
			stmts = o.stmts(fall)
		}
		p.code[addr] = &ir.Sema{Addr: addr, Len: instLen, Fall: fall, Disasm: o.text, IsCall: o.call, IsRet: o.ret,
			Stmts: stmts}
	}
}

// at returns the address of the i-th instruction of the function starting at start.
func at(start uint64, i int) uint64 {
	return start + uint64(i)*instLen
}

func k64(x uint64) ir.Expr { return ir.Const{Value: x, Width: 64} }

func v(x ir.Variable) ir.Expr { return ir.Var{V: x} }

func frameSlot(off int64) ir.Expr {
	return ir.BinOp{Op: ir.Add, Lhs: v(rbp), Rhs: k64(uint64(off))}
}

func call(target uint64) op {
	return op{
		text: fmt.Sprintf("call %#x", target),
		call: true,
		stmts: func(fall uint64) []ir.Stmt {
			return []ir.Stmt{
				ir.Move{Lhs: rsp, Rhs: ir.BinOp{Op: ir.Sub, Lhs: v(rsp), Rhs: k64(8)}},
				ir.Move{Lhs: mem, Rhs: ir.Store{Mem: v(mem), Index: v(rsp), Value: k64(fall), Size: 8}},
				ir.Jump{Target: k64(target)},
			}
		},
	}
}

func ret() op {
	return op{
		text: "ret",
		ret:  true,
		stmts: func(uint64) []ir.Stmt {
			return []ir.Stmt{
				ir.Move{Lhs: tmp, Rhs: ir.Load{Mem: v(mem), Index: v(rsp), Size: 8}},
				ir.Move{Lhs: rsp, Rhs: ir.BinOp{Op: ir.Add, Lhs: v(rsp), Rhs: k64(8)}},
				ir.Jump{Target: v(tmp)},
			}
		},
	}
}

func jmp(target uint64) op {
	return op{
		text:  fmt.Sprintf("jmp %#x", target),
		stmts: func(uint64) []ir.Stmt { return []ir.Stmt{ir.Jump{Target: k64(target)}} },
	}
}

func je(target uint64) op {
	return op{
		text: fmt.Sprintf("je %#x", target),
		stmts: func(uint64) []ir.Stmt {
			return []ir.Stmt{ir.If{Cond: v(zf), Then: []ir.Stmt{ir.Jump{Target: k64(target)}}}}
		},
	}
}

func mov(dst, src ir.Variable) op {
	return op{
		text:  fmt.Sprintf("mov %s, %s", dst, src),
		stmts: func(uint64) []ir.Stmt { return []ir.Stmt{ir.Move{Lhs: dst, Rhs: v(src)}} },
	}
}

func movImm(dst ir.Variable, x uint64) op {
	return op{
		text:  fmt.Sprintf("mov %s, %#x", dst, x),
		stmts: func(uint64) []ir.Stmt { return []ir.Stmt{ir.Move{Lhs: dst, Rhs: k64(x)}} },
	}
}

// storeThrough writes a constant through the pointer in base.
func storeThrough(base ir.Variable) op {
	return op{
		text: fmt.Sprintf("mov qword ptr [%s], 0x0", base),
		stmts: func(uint64) []ir.Stmt {
			return []ir.Stmt{ir.Move{Lhs: mem, Rhs: ir.Store{Mem: v(mem), Index: v(base), Value: k64(0), Size: 8}}}
		},
	}
}

// loadThrough loads dst through the pointer in base.
func loadThrough(dst, base ir.Variable) op {
	return op{
		text: fmt.Sprintf("mov %s, qword ptr [%s]", dst, base),
		stmts: func(uint64) []ir.Stmt {
			return []ir.Stmt{ir.Move{Lhs: dst, Rhs: ir.Load{Mem: v(mem), Index: v(base), Size: 8}}}
		},
	}
}

func spill(off int64, src ir.Variable) op {
	return op{
		text: fmt.Sprintf("mov qword ptr [rbp%+d], %s", off, src),
		stmts: func(uint64) []ir.Stmt {
			return []ir.Stmt{ir.Move{Lhs: mem, Rhs: ir.Store{Mem: v(mem), Index: frameSlot(off), Value: v(src), Size: 8}}}
		},
	}
}

func reload(dst ir.Variable, off int64) op {
	return op{
		text: fmt.Sprintf("mov %s, qword ptr [rbp%+d]", dst, off),
		stmts: func(uint64) []ir.Stmt {
			return []ir.Stmt{ir.Move{Lhs: dst, Rhs: ir.Load{Mem: v(mem), Index: frameSlot(off), Size: 8}}}
		},
	}
}

// scaledStore writes src at an index the analysis cannot track.
func scaledStore(index, src ir.Variable) op {
	return op{
		text: fmt.Sprintf("mov qword ptr [%s*8], %s", index, src),
		stmts: func(uint64) []ir.Stmt {
			idx := ir.BinOp{Op: ir.Mul, Lhs: v(index), Rhs: k64(8)}
			return []ir.Stmt{ir.Move{Lhs: mem, Rhs: ir.Store{Mem: v(mem), Index: idx, Value: v(src), Size: 8}}}
		},
	}
}

func testConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.LogLevel = int(config.ErrLevel)
	return cfg
}

func quietLogger(cfg *config.Config) *config.LogGroup {
	l := config.NewLogGroup(cfg)
	l.SetAllOutput(io.Discard)
	return l
}

// analyze runs the analysis on the programs and fails the test on error.
func analyze(t *testing.T, cfg *config.Config, programs ...loader.Program) (*State, *Result) {
	t.Helper()
	s, res, err := Analyze(context.Background(), cfg, quietLogger(cfg), programs)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	return s, res
}

// useSites returns the use sites of the findings.
func useSites(res *Result) []Site {
	var sites []Site
	for _, f := range res.Findings {
		sites = append(sites, f.Use)
	}
	return sites
}
