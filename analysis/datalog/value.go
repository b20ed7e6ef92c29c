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

package datalog

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/location"
)

// Kind is the tag of a Value.
type Kind int

// The kinds of values that appear in relation columns.
const (
	KindAddress Kind = iota
	KindString
	KindBool
	KindInt
	KindBytes
	KindVar
	KindStack
	KindTrace
	KindChop
)

var kindNames = [...]string{
	KindAddress: "address",
	KindString:  "string",
	KindBool:    "bool",
	KindInt:     "int",
	KindBytes:   "bytes",
	KindVar:     "var",
	KindStack:   "stack",
	KindTrace:   "trace",
	KindChop:    "chop",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Value is one column of a row of a relation. Values are only used to render and persist relations; rules work on
// the typed facts directly.
type Value struct {
	kind  Kind
	num   uint64
	str   string
	bytes []byte
	addrs []uint64
}

// Address returns an address value.
func Address(a uint64) Value { return Value{kind: KindAddress, num: a} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: uint64(i)} }

// Bytes returns a byte blob value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// Var returns a value holding a location.
func Var(v location.Var) Value { return Value{kind: KindVar, str: v.String()} }

// Stack returns a value holding a call context identifier.
func Stack(id callctx.ID) Value { return Value{kind: KindStack, num: uint64(id)} }

// Trace returns a value holding a trace identifier.
func Trace(id callctx.TraceID) Value { return Value{kind: KindTrace, num: uint64(id)} }

// Chop returns a value holding the members of a chop.
func Chop(c callctx.Chop) Value { return Value{kind: KindChop, addrs: c.Addrs()} }

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// Uint returns the numeric payload of address, integer, boolean, stack and trace values.
func (v Value) Uint() uint64 { return v.num }

// Text returns the payload of string and var values.
func (v Value) Text() string { return v.str }

// Blob returns the payload of byte values.
func (v Value) Blob() []byte { return v.bytes }

// Addrs returns the payload of chop values.
func (v Value) Addrs() []uint64 { return v.addrs }

func (v Value) String() string {
	switch v.kind {
	case KindAddress:
		return fmt.Sprintf("0x%x", v.num)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindBool:
		return fmt.Sprintf("%t", v.num != 0)
	case KindInt:
		return fmt.Sprintf("%d", int64(v.num))
	case KindBytes:
		if len(v.bytes) > 16 {
			return hex.EncodeToString(v.bytes[:16]) + "..."
		}
		return hex.EncodeToString(v.bytes)
	case KindVar:
		return v.str
	case KindStack, KindTrace:
		return fmt.Sprintf("#%016x", v.num)
	case KindChop:
		parts := make([]string, len(v.addrs))
		for i, a := range v.addrs {
			parts[i] = fmt.Sprintf("0x%x", a)
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return "?"
	}
}

// Fact is the constraint on the element types of relations: comparable values that can render themselves as a row.
type Fact interface {
	comparable
	Row() []Value
}

// A Table is the untyped view of a relation used to dump or persist it.
type Table interface {
	Name() string
	Columns() []string
	Len() int
	Rows() [][]Value
}
