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
	"bytes"
	"fmt"

	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"golang.org/x/arch/x86/x86asm"
)

// X86Lifter lifts x86-64 machine code. It models the data movement of the integer instructions precisely (moves,
// loads, stores, stack operations, calls and returns) and approximates everything else by writing an unknown value
// to the destination.
type X86Lifter struct{}

var (
	memory = ir.Mem("mem", 64)
	rsp    = ir.Reg("RSP", 64)
	rbp    = ir.Reg("RBP", 64)
	zf     = ir.Flag("ZF")
	cf     = ir.Flag("CF")
	sf     = ir.Flag("SF")
	of     = ir.Flag("OF")
	pf     = ir.Flag("PF")

	endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}
)

// Lift lifts the instruction at the start of code.
func (X86Lifter) Lift(addr uint64, code []byte) (*ir.Sema, error) {
	if bytes.HasPrefix(code, endbr64) {
		return &ir.Sema{Addr: addr, Len: len(endbr64), Fall: addr + uint64(len(endbr64)), Disasm: "endbr64"}, nil
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x86-64 instruction at %#x: %w", addr, err)
	}
	l := x86Lifting{inst: inst, fall: addr + uint64(inst.Len)}
	l.lift()
	return &ir.Sema{
		Addr:   addr,
		Len:    inst.Len,
		Fall:   l.fall,
		Disasm: x86asm.IntelSyntax(inst, addr, nil),
		IsCall: l.isCall,
		IsRet:  l.isRet,
		Stmts:  l.stmts,
	}, nil
}

type x86Lifting struct {
	inst   x86asm.Inst
	fall   uint64
	stmts  []ir.Stmt
	isCall bool
	isRet  bool
}

func (l *x86Lifting) emit(s ...ir.Stmt) {
	l.stmts = append(l.stmts, s...)
}

// gpr returns the 64-bit register containing r and the width of r, if r is a general purpose register.
func gpr(r x86asm.Reg) (ir.Variable, int, bool) {
	var idx, width int
	switch {
	case r >= x86asm.AL && r <= x86asm.BL:
		idx, width = int(r-x86asm.AL), 8
	case r >= x86asm.AH && r <= x86asm.BH:
		idx, width = int(r-x86asm.AH), 8
	case r >= x86asm.SPB && r <= x86asm.R15B:
		idx, width = int(r-x86asm.SPB)+4, 8
	case r >= x86asm.AX && r <= x86asm.R15W:
		idx, width = int(r-x86asm.AX), 16
	case r >= x86asm.EAX && r <= x86asm.R15L:
		idx, width = int(r-x86asm.EAX), 32
	case r >= x86asm.RAX && r <= x86asm.R15:
		idx, width = int(r-x86asm.RAX), 64
	default:
		return ir.Variable{}, 0, false
	}
	full := x86asm.RAX + x86asm.Reg(idx)
	return ir.Reg(full.String(), 64), width, true
}

func imm(v int64) ir.Expr {
	return ir.Const{Value: uint64(v), Width: 64}
}

func add(a, b ir.Expr) ir.Expr {
	return ir.BinOp{Op: ir.Add, Lhs: a, Rhs: b}
}

// address returns the effective address of a memory operand.
func (l *x86Lifting) address(m x86asm.Mem) ir.Expr {
	if m.Segment == x86asm.FS || m.Segment == x86asm.GS {
		return ir.Unknown{Desc: "segment " + m.Segment.String(), Width: 64}
	}
	if m.Base == x86asm.RIP {
		return ir.Const{Value: l.fall + uint64(m.Disp), Width: 64}
	}
	var parts []ir.Expr
	if base, width, ok := gpr(m.Base); ok && width == 64 {
		parts = append(parts, ir.Var{V: base})
	} else if m.Base != 0 {
		return ir.Unknown{Desc: "base " + m.Base.String(), Width: 64}
	}
	if m.Index != 0 {
		index, width, ok := gpr(m.Index)
		if !ok || width != 64 {
			return ir.Unknown{Desc: "index " + m.Index.String(), Width: 64}
		}
		var e ir.Expr = ir.Var{V: index}
		if m.Scale > 1 {
			e = ir.BinOp{Op: ir.Mul, Lhs: e, Rhs: imm(int64(m.Scale))}
		}
		parts = append(parts, e)
	}
	if m.Disp != 0 || len(parts) == 0 {
		parts = append(parts, imm(m.Disp))
	}
	e := parts[0]
	for _, p := range parts[1:] {
		e = add(e, p)
	}
	return e
}

func (l *x86Lifting) memBits() int {
	if l.inst.MemBytes > 0 {
		return l.inst.MemBytes * 8
	}
	return 64
}

// read returns the value of an operand.
func (l *x86Lifting) read(a x86asm.Arg) ir.Expr {
	switch x := a.(type) {
	case x86asm.Reg:
		reg, width, ok := gpr(x)
		if !ok {
			return ir.Unknown{Desc: x.String(), Width: 64}
		}
		if width == 64 {
			return ir.Var{V: reg}
		}
		return ir.Cast{Kind: ir.Low, Width: width, Arg: ir.Var{V: reg}}
	case x86asm.Mem:
		return ir.Load{Mem: ir.Var{V: memory}, Index: l.address(x), Size: l.memBits()}
	case x86asm.Imm:
		return imm(int64(x))
	case x86asm.Rel:
		return ir.Const{Value: l.fall + uint64(int64(x)), Width: 64}
	default:
		return ir.Unknown{Desc: "operand", Width: 64}
	}
}

// write assigns e to an operand. Writing a 32-bit register zero-extends into the full register; narrower writes
// only change part of the register, whose new value is unknown.
func (l *x86Lifting) write(a x86asm.Arg, e ir.Expr) {
	switch x := a.(type) {
	case x86asm.Reg:
		reg, width, ok := gpr(x)
		if !ok {
			l.emit(ir.Special{Desc: "write " + x.String()})
			return
		}
		switch width {
		case 64:
			l.emit(ir.Move{Lhs: reg, Rhs: e})
		case 32:
			l.emit(ir.Move{Lhs: reg, Rhs: ir.Cast{Kind: ir.Unsigned, Width: 64, Arg: e}})
		default:
			l.emit(ir.Move{Lhs: reg, Rhs: ir.Unknown{Desc: "partial " + x.String(), Width: 64}})
		}
	case x86asm.Mem:
		l.store(l.address(x), e, l.memBits())
	default:
		l.emit(ir.Special{Desc: "write operand"})
	}
}

func (l *x86Lifting) store(index ir.Expr, value ir.Expr, size int) {
	l.emit(ir.Move{Lhs: memory, Rhs: ir.Store{Mem: ir.Var{V: memory}, Index: index, Value: value, Size: size}})
}

func (l *x86Lifting) push(value ir.Expr) {
	l.emit(ir.Move{Lhs: rsp, Rhs: ir.BinOp{Op: ir.Sub, Lhs: ir.Var{V: rsp}, Rhs: imm(8)}})
	l.store(ir.Var{V: rsp}, value, 64)
}

func (l *x86Lifting) pop() ir.Expr {
	return ir.Load{Mem: ir.Var{V: memory}, Index: ir.Var{V: rsp}, Size: 64}
}

func (l *x86Lifting) bumpStack() {
	l.emit(ir.Move{Lhs: rsp, Rhs: add(ir.Var{V: rsp}, imm(8))})
}

// flags sets the flags after an operation whose result is in dst.
func (l *x86Lifting) flags(result ir.Expr) {
	l.emit(
		ir.Move{Lhs: zf, Rhs: ir.BinOp{Op: ir.Eq, Lhs: result, Rhs: imm(0)}},
		ir.Move{Lhs: sf, Rhs: ir.Unknown{Desc: "sign", Width: 1}},
		ir.Move{Lhs: cf, Rhs: ir.Unknown{Desc: "carry", Width: 1}},
		ir.Move{Lhs: of, Rhs: ir.Unknown{Desc: "overflow", Width: 1}},
		ir.Move{Lhs: pf, Rhs: ir.Unknown{Desc: "parity", Width: 1}},
	)
}

var binOps = map[x86asm.Op]ir.BinOpKind{
	x86asm.ADD:  ir.Add,
	x86asm.SUB:  ir.Sub,
	x86asm.AND:  ir.And,
	x86asm.OR:   ir.Or,
	x86asm.XOR:  ir.Xor,
	x86asm.SHL:  ir.Shl,
	x86asm.SHR:  ir.Shr,
	x86asm.SAR:  ir.Shr,
	x86asm.IMUL: ir.Mul,
}

// condition returns the condition of a conditional jump or move.
func condition(op x86asm.Op) (ir.Expr, bool) {
	flag := func(f ir.Variable) ir.Expr { return ir.Var{V: f} }
	not := func(f ir.Variable) ir.Expr { return ir.UnOp{Op: ir.Not, Arg: ir.Var{V: f}} }
	switch op {
	case x86asm.JE, x86asm.CMOVE:
		return flag(zf), true
	case x86asm.JNE, x86asm.CMOVNE:
		return not(zf), true
	case x86asm.JB, x86asm.CMOVB:
		return flag(cf), true
	case x86asm.JAE, x86asm.CMOVAE:
		return not(cf), true
	case x86asm.JS, x86asm.CMOVS:
		return flag(sf), true
	case x86asm.JNS, x86asm.CMOVNS:
		return not(sf), true
	case x86asm.JO, x86asm.CMOVO:
		return flag(of), true
	case x86asm.JNO, x86asm.CMOVNO:
		return not(of), true
	case x86asm.JP, x86asm.CMOVP:
		return flag(pf), true
	case x86asm.JNP, x86asm.CMOVNP:
		return not(pf), true
	case x86asm.JA, x86asm.JBE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.CMOVA, x86asm.CMOVBE, x86asm.CMOVG, x86asm.CMOVGE, x86asm.CMOVL, x86asm.CMOVLE:
		return ir.Unknown{Desc: op.String(), Width: 1}, true
	default:
		return nil, false
	}
}

func (l *x86Lifting) lift() {
	inst := l.inst
	args := inst.Args
	switch inst.Op {
	case x86asm.NOP, x86asm.PAUSE, x86asm.PREFETCHT0, x86asm.PREFETCHNTA:
		// nothing
	case x86asm.MOV:
		l.write(args[0], l.read(args[1]))
	case x86asm.MOVZX:
		l.write(args[0], ir.Cast{Kind: ir.Unsigned, Width: 64, Arg: l.read(args[1])})
	case x86asm.MOVSX, x86asm.MOVSXD:
		l.write(args[0], ir.Cast{Kind: ir.Signed, Width: 64, Arg: l.read(args[1])})
	case x86asm.LEA:
		if m, ok := args[1].(x86asm.Mem); ok {
			l.write(args[0], l.address(m))
		}
	case x86asm.XCHG:
		t := ir.Temp("T", 64)
		l.emit(ir.Move{Lhs: t, Rhs: l.read(args[0])})
		l.write(args[0], l.read(args[1]))
		l.write(args[1], ir.Var{V: t})
	case x86asm.PUSH:
		l.push(l.read(args[0]))
	case x86asm.POP:
		// the value is read before RSP moves, and written after, as in "pop rsp"
		t := ir.Temp("T", 64)
		l.emit(ir.Move{Lhs: t, Rhs: l.pop()})
		l.bumpStack()
		l.write(args[0], ir.Var{V: t})
	case x86asm.LEAVE:
		l.emit(ir.Move{Lhs: rsp, Rhs: ir.Var{V: rbp}})
		l.emit(ir.Move{Lhs: rbp, Rhs: l.pop()})
		l.bumpStack()
	case x86asm.CALL:
		l.isCall = true
		target := l.read(args[0])
		l.push(ir.Const{Value: l.fall, Width: 64})
		l.emit(ir.Jump{Target: target})
	case x86asm.RET:
		l.isRet = true
		t := ir.Temp("T", 64)
		l.emit(ir.Move{Lhs: t, Rhs: l.pop()})
		l.bumpStack()
		if n, ok := args[0].(x86asm.Imm); ok {
			l.emit(ir.Move{Lhs: rsp, Rhs: add(ir.Var{V: rsp}, imm(int64(n)))})
		}
		l.emit(ir.Jump{Target: ir.Var{V: t}})
	case x86asm.JMP:
		l.emit(ir.Jump{Target: l.read(args[0])})
	case x86asm.HLT, x86asm.UD2, x86asm.UD1, x86asm.INT:
		l.emit(ir.Special{Desc: inst.Op.String()}, ir.Jump{Target: ir.Unknown{Desc: "trap", Width: 64}})
	case x86asm.CMP:
		lhs, rhs := l.read(args[0]), l.read(args[1])
		l.emit(
			ir.Move{Lhs: zf, Rhs: ir.BinOp{Op: ir.Eq, Lhs: lhs, Rhs: rhs}},
			ir.Move{Lhs: cf, Rhs: ir.BinOp{Op: ir.Lt, Lhs: lhs, Rhs: rhs}},
			ir.Move{Lhs: sf, Rhs: ir.Unknown{Desc: "sign", Width: 1}},
			ir.Move{Lhs: of, Rhs: ir.Unknown{Desc: "overflow", Width: 1}},
			ir.Move{Lhs: pf, Rhs: ir.Unknown{Desc: "parity", Width: 1}},
		)
	case x86asm.TEST:
		l.flags(ir.BinOp{Op: ir.And, Lhs: l.read(args[0]), Rhs: l.read(args[1])})
	case x86asm.INC, x86asm.DEC:
		op := ir.Add
		if inst.Op == x86asm.DEC {
			op = ir.Sub
		}
		l.write(args[0], ir.BinOp{Op: op, Lhs: l.read(args[0]), Rhs: imm(1)})
		l.flags(l.read(args[0]))
	case x86asm.NEG, x86asm.NOT:
		op := ir.Neg
		if inst.Op == x86asm.NOT {
			op = ir.Not
		}
		l.write(args[0], ir.UnOp{Op: op, Arg: l.read(args[0])})
		if inst.Op == x86asm.NEG {
			l.flags(l.read(args[0]))
		}
	case x86asm.SYSCALL:
		l.emit(ir.Special{Desc: "syscall"})
		for _, r := range []string{"RAX", "RCX", "R11"} {
			l.emit(ir.Move{Lhs: ir.Reg(r, 64), Rhs: ir.Unknown{Desc: "syscall", Width: 64}})
		}
	default:
		if cond, ok := condition(inst.Op); ok {
			l.conditional(cond)
			return
		}
		if op, ok := binOps[inst.Op]; ok && args[1] != nil && args[2] == nil {
			l.binary(op)
			return
		}
		l.unknown()
	}
}

func (l *x86Lifting) conditional(cond ir.Expr) {
	args := l.inst.Args
	if l.inst.Op >= x86asm.CMOVA && l.inst.Op <= x86asm.CMOVS {
		src := l.read(args[1])
		inner := &x86Lifting{inst: l.inst, fall: l.fall}
		inner.write(args[0], src)
		l.emit(ir.If{Cond: cond, Then: inner.stmts})
		return
	}
	l.emit(ir.If{Cond: cond, Then: []ir.Stmt{ir.Jump{Target: l.read(args[0])}}})
}

func (l *x86Lifting) binary(op ir.BinOpKind) {
	args := l.inst.Args
	// xor reg, reg and sub reg, reg clear the register.
	if r, ok := args[0].(x86asm.Reg); ok && args[1] == r && (op == ir.Xor || op == ir.Sub) {
		l.write(args[0], imm(0))
		l.flags(imm(0))
		return
	}
	l.write(args[0], ir.BinOp{Op: op, Lhs: l.read(args[0]), Rhs: l.read(args[1])})
	l.flags(l.read(args[0]))
}

// unknown approximates an instruction the lifter does not model: its first operand, if it is a destination, gets an
// unknown value.
func (l *x86Lifting) unknown() {
	desc := l.inst.Op.String()
	switch a := l.inst.Args[0].(type) {
	case x86asm.Reg:
		if _, _, ok := gpr(a); ok {
			l.write(a, ir.Unknown{Desc: desc, Width: 64})
			return
		}
	case x86asm.Mem:
		if isStoreLike(l.inst.Op) {
			l.write(a, ir.Unknown{Desc: desc, Width: l.memBits()})
			return
		}
	}
	l.emit(ir.Special{Desc: desc})
}

// isStoreLike returns true for the unmodeled instructions whose memory first operand is written.
func isStoreLike(op x86asm.Op) bool {
	switch op {
	case x86asm.CMP, x86asm.TEST, x86asm.BT, x86asm.PUSH, x86asm.NOP:
		return false
	default:
		return true
	}
}
