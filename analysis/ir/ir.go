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

// Package ir defines the architecture-independent instruction semantics produced by a lifter. Statements and
// expressions form closed tagged unions: every consumer matches them with a type switch and a default case that
// treats unknown shapes conservatively.
package ir

// TypeKind distinguishes register-like variables from memory variables.
type TypeKind int

const (
	// Immediate is a bitvector-typed variable (registers, flags, temporaries).
	Immediate TypeKind = iota
	// Memory is a memory-typed variable (the memory of the machine).
	Memory
)

// Type is the type of a variable. Width is in bits for immediates and is the address width for memories.
type Type struct {
	Kind  TypeKind
	Width int
}

// Variable is a named storage location in the lifted semantics. Variables are comparable and can be used as map keys.
type Variable struct {
	Name string
	Type Type
	// Tmp marks variables introduced by the lifter that do not survive the instruction.
	Tmp bool
}

// Reg returns a register variable of the given width.
func Reg(name string, width int) Variable {
	return Variable{Name: name, Type: Type{Kind: Immediate, Width: width}}
}

// Flag returns a single-bit flag register.
func Flag(name string) Variable {
	return Variable{Name: name, Type: Type{Kind: Immediate, Width: 1}}
}

// Temp returns a lifter temporary of the given width.
func Temp(name string, width int) Variable {
	return Variable{Name: name, Type: Type{Kind: Immediate, Width: width}, Tmp: true}
}

// Mem returns the memory variable with the given address width.
func Mem(name string, addrWidth int) Variable {
	return Variable{Name: name, Type: Type{Kind: Memory, Width: addrWidth}}
}

// IsRegister returns true when v is bitvector-typed.
func (v Variable) IsRegister() bool { return v.Type.Kind == Immediate }

// IsMemory returns true when v is memory-typed.
func (v Variable) IsMemory() bool { return v.Type.Kind == Memory }

// IsFlag returns true when v is a single-bit register.
func (v Variable) IsFlag() bool { return v.Type.Kind == Immediate && v.Type.Width == 1 }

func (v Variable) String() string { return v.Name }

// BinOpKind is the operator of a binary expression.
type BinOpKind int

// Binary operators produced by the lifters.
const (
	Add BinOpKind = iota
	Sub
	Mul
	Div
	And
	Or
	Xor
	Shl
	Shr
	Eq
	Neq
	Lt
	Le
)

// UnOpKind is the operator of a unary expression.
type UnOpKind int

// Unary operators
const (
	Neg UnOpKind = iota
	Not
)

// CastKind is the kind of a width cast.
type CastKind int

// Casts
const (
	Unsigned CastKind = iota
	Signed
	Low
	High
)

// Expr is an expression of the lifted semantics.
type Expr interface {
	isExpr()
}

// Var reads a variable.
type Var struct {
	V Variable
}

// Const is a constant bitvector.
type Const struct {
	Value uint64
	Width int
}

// Load reads Size bytes of memory Mem at address Index.
type Load struct {
	Mem   Expr
	Index Expr
	Size  int
}

// Store is the memory obtained by writing Value at address Index in Mem.
type Store struct {
	Mem   Expr
	Index Expr
	Value Expr
	Size  int
}

// BinOp is a binary operation.
type BinOp struct {
	Op  BinOpKind
	Lhs Expr
	Rhs Expr
}

// UnOp is a unary operation.
type UnOp struct {
	Op  UnOpKind
	Arg Expr
}

// Cast changes the width of Arg.
type Cast struct {
	Kind  CastKind
	Width int
	Arg   Expr
}

// Unknown is a value the lifter does not model.
type Unknown struct {
	Desc  string
	Width int
}

func (Var) isExpr()     {}
func (Const) isExpr()   {}
func (Load) isExpr()    {}
func (Store) isExpr()   {}
func (BinOp) isExpr()   {}
func (UnOp) isExpr()    {}
func (Cast) isExpr()    {}
func (Unknown) isExpr() {}

// Stmt is a statement of the lifted semantics.
type Stmt interface {
	isStmt()
}

// Move assigns Rhs to Lhs. A memory write is a Move whose Lhs is a memory variable and whose Rhs is a Store.
type Move struct {
	Lhs Variable
	Rhs Expr
}

// Jump transfers control to Target.
type Jump struct {
	Target Expr
}

// If executes Then when Cond holds, Else otherwise.
type If struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// While executes Body as long as Cond holds.
type While struct {
	Cond Expr
	Body []Stmt
}

// Special is an instruction effect the lifter cannot express (e.g. hlt, syscall).
type Special struct {
	Desc string
}

func (Move) isStmt()    {}
func (Jump) isStmt()    {}
func (If) isStmt()      {}
func (While) isStmt()   {}
func (Special) isStmt() {}

// Sema is the semantics of one instruction at one address. It is produced once per (binary, address) and never
// mutated afterwards.
type Sema struct {
	Addr   uint64
	Len    int
	Fall   uint64
	Disasm string
	IsCall bool
	IsRet  bool
	Stmts  []Stmt
}

// Arch identifies the instruction set of a binary.
type Arch string

// Architectures known to the lifters.
const (
	ArchUnknown Arch = ""
	ArchX86_64  Arch = "x86_64"
)
