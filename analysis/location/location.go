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

// Package location implements the abstract storage locations tracked by the use-after-free analysis. A location is
// either a register or a memory cell identified by a base variable and a constant offset.
package location

import (
	"fmt"

	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/internal/funcutil"
)

// Var is a register (HasOffset is false) or the memory cell at Base+Offset (HasOffset is true).
// Two memory cells are equal iff both base and offset match exactly.
type Var struct {
	Base      ir.Variable
	Offset    uint64
	HasOffset bool
}

// Register returns the location of register v.
func Register(v ir.Variable) Var {
	return Var{Base: v}
}

// Cell returns the memory cell at base+offset.
func Cell(base ir.Variable, offset uint64) Var {
	return Var{Base: base, Offset: offset, HasOffset: true}
}

// IsRegister returns true when v denotes a register.
func (v Var) IsRegister() bool {
	return !v.HasOffset && v.Base.IsRegister()
}

// IsMemory returns true when v denotes a memory cell.
func (v Var) IsMemory() bool {
	return v.HasOffset
}

// NotTemp returns true when v may persist across instructions: temporaries and flags are never taint carriers.
func (v Var) NotTemp() bool {
	return !v.Base.Tmp && !v.Base.IsFlag()
}

func (v Var) String() string {
	if !v.HasOffset {
		return v.Base.Name
	}
	off := int64(v.Offset)
	switch {
	case off == 0:
		return fmt.Sprintf("[%s]", v.Base.Name)
	case off < 0:
		return fmt.Sprintf("[%s-0x%x]", v.Base.Name, -off)
	default:
		return fmt.Sprintf("[%s+0x%x]", v.Base.Name, off)
	}
}

// PromoteIndex turns a memory index expression into a trackable cell. Only a bare variable (offset 0) and the sums
// variable+constant and constant+variable are trackable; any other shape returns none.
func PromoteIndex(idx ir.Expr) funcutil.Optional[Var] {
	switch e := idx.(type) {
	case ir.Var:
		return funcutil.Some(Cell(e.V, 0))
	case ir.BinOp:
		if e.Op != ir.Add {
			return funcutil.None[Var]()
		}
		if v, ok := e.Lhs.(ir.Var); ok {
			if k, ok := e.Rhs.(ir.Const); ok {
				return funcutil.Some(Cell(v.V, k.Value))
			}
		}
		if k, ok := e.Lhs.(ir.Const); ok {
			if v, ok := e.Rhs.(ir.Var); ok {
				return funcutil.Some(Cell(v.V, k.Value))
			}
		}
	}
	return funcutil.None[Var]()
}

// Convention describes the registers of a calling convention that the analysis needs to seed and recognize events.
type Convention struct {
	Return Var
	Args   []Var
	Stack  Var
	Frame  Var
}

// ArgumentRegister returns the i-th argument register, if the convention passes it in a register.
func (c Convention) ArgumentRegister(i int) funcutil.Optional[Var] {
	if i < 0 || i >= len(c.Args) {
		return funcutil.None[Var]()
	}
	return funcutil.Some(c.Args[i])
}

// IsStackPointer returns true when v is the stack or frame pointer register.
func (c Convention) IsStackPointer(v Var) bool {
	return v == c.Stack || v == c.Frame
}

// IsReturn returns true when v is the return-value register.
func (c Convention) IsReturn(v Var) bool {
	return v == c.Return
}

// SysVAMD64 is the System V AMD64 calling convention.
var SysVAMD64 = Convention{
	Return: Register(ir.Reg("RAX", 64)),
	Args: []Var{
		Register(ir.Reg("RDI", 64)),
		Register(ir.Reg("RSI", 64)),
		Register(ir.Reg("RDX", 64)),
		Register(ir.Reg("RCX", 64)),
		Register(ir.Reg("R8", 64)),
		Register(ir.Reg("R9", 64)),
	},
	Stack: Register(ir.Reg("RSP", 64)),
	Frame: Register(ir.Reg("RBP", 64)),
}

// ConventionOf returns the calling convention used for binaries of the given architecture.
func ConventionOf(arch ir.Arch) funcutil.Optional[Convention] {
	switch arch {
	case ir.ArchX86_64:
		return funcutil.Some(SysVAMD64)
	default:
		return funcutil.None[Convention]()
	}
}

// ReturnRegister returns the return-value register of the default architecture.
func ReturnRegister() Var { return SysVAMD64.Return }

// FirstArgument returns the first argument register of the default architecture.
func FirstArgument() Var { return SysVAMD64.Args[0] }
