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

package ir

import (
	"fmt"
	"strings"
)

var binOpSymbols = map[BinOpKind]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", And: "&", Or: "|", Xor: "^", Shl: "<<", Shr: ">>",
	Eq: "==", Neq: "<>", Lt: "<", Le: "<=",
}

// ExprString returns a BIL-like rendering of e.
func ExprString(e Expr) string {
	switch x := e.(type) {
	case Var:
		return x.V.Name
	case Const:
		return fmt.Sprintf("0x%x:%d", x.Value, x.Width)
	case Load:
		return fmt.Sprintf("%s[%s]:%d", ExprString(x.Mem), ExprString(x.Index), x.Size*8)
	case Store:
		return fmt.Sprintf("%s with [%s] <- %s", ExprString(x.Mem), ExprString(x.Index), ExprString(x.Value))
	case BinOp:
		return fmt.Sprintf("(%s %s %s)", ExprString(x.Lhs), binOpSymbols[x.Op], ExprString(x.Rhs))
	case UnOp:
		if x.Op == Neg {
			return "-" + ExprString(x.Arg)
		}
		return "~" + ExprString(x.Arg)
	case Cast:
		return fmt.Sprintf("cast%d(%s)", x.Width, ExprString(x.Arg))
	case Unknown:
		return fmt.Sprintf("unknown[%s]", x.Desc)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%v", x)
	}
}

// StmtString returns a BIL-like rendering of s.
func StmtString(s Stmt) string {
	var b strings.Builder
	writeStmt(&b, s, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeStmt(b *strings.Builder, s Stmt, indent int) {
	pad := strings.Repeat("  ", indent)
	switch x := s.(type) {
	case Move:
		fmt.Fprintf(b, "%s%s := %s\n", pad, x.Lhs.Name, ExprString(x.Rhs))
	case Jump:
		fmt.Fprintf(b, "%sjmp %s\n", pad, ExprString(x.Target))
	case If:
		fmt.Fprintf(b, "%sif (%s) {\n", pad, ExprString(x.Cond))
		for _, t := range x.Then {
			writeStmt(b, t, indent+1)
		}
		fmt.Fprintf(b, "%s} else {\n", pad)
		for _, t := range x.Else {
			writeStmt(b, t, indent+1)
		}
		fmt.Fprintf(b, "%s}\n", pad)
	case While:
		fmt.Fprintf(b, "%swhile (%s) {\n", pad, ExprString(x.Cond))
		for _, t := range x.Body {
			writeStmt(b, t, indent+1)
		}
		fmt.Fprintf(b, "%s}\n", pad)
	case Special:
		fmt.Fprintf(b, "%sspecial(%s)\n", pad, x.Desc)
	default:
		fmt.Fprintf(b, "%s%v\n", pad, x)
	}
}

func (s *Sema) String() string {
	if s == nil {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{\n")
	for _, stmt := range s.Stmts {
		writeStmt(&b, stmt, 1)
	}
	b.WriteString("}")
	return b.String()
}
