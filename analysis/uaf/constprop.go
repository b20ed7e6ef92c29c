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
	"unicode"

	"github.com/awslabs/ar-bin-tools/analysis/taint"
)

// maxStringLength bounds the strings read from segment data.
const maxStringLength = 4096

// constantRules registers the constant propagation heuristics: possible register constants along straight-line
// code, the strings they point to, and the arguments printf-like routines read through according to those strings.
// Arithmetic, branches and calls are not modeled.
func (s *State) constantRules() error {
	reg := &registrar{}
	reg.add(s.semas.On("const-init", func(x Sema) {
		if x.Sema.IsCall {
			return
		}
		for _, b := range taint.ConstInit(x.Sema) {
			s.propagateConst(x.Bin, x.Addr, b)
		}
	}))
	reg.add(s.possConsts.On("const-prop", func(p PossConst) {
		sema := s.sema(p.Bin, p.Addr)
		if sema == nil || sema.IsCall {
			return
		}
		for _, b := range taint.ConstProp(sema, p.Var, p.Value) {
			s.propagateConst(p.Bin, p.Addr, b)
		}
	}))
	reg.add(s.possConsts.On("format-string", s.formatString))
	return reg.err
}

// propagateConst records binding b before every intraprocedural successor of (bin, addr).
func (s *State) propagateConst(bin string, addr uint64, b taint.Binding) {
	for _, x := range s.succFrom.Get(Site{bin, addr}) {
		if !x.IsCall {
			s.possConsts.Insert(PossConst{Bin: bin, Addr: x.Dst, Var: b.Var, Value: b.Value})
		}
	}
}

// formatString reads the format string of a printf-like call when its format register holds a constant.
func (s *State) formatString(p PossConst) {
	conv := s.convention(p.Bin)
	if conv.IsNone() {
		return
	}
	for _, call := range s.formatAt.Get(Site{p.Bin, p.Addr}) {
		reg := conv.Value().ArgumentRegister(call.Arg)
		if reg.IsNone() || reg.Value() != p.Var {
			continue
		}
		str, ok := s.readString(p.Bin, p.Value)
		if !ok {
			continue
		}
		s.possStrings.Insert(PossString{Bin: p.Bin, Addr: p.Value, Str: str})
		for _, v := range taint.FormatArgs(str, call.Arg, conv.Value()) {
			s.funcUses.Insert(FuncUses{Bin: p.Bin, Addr: call.Addr, Var: v})
		}
	}
}

// readString returns the NUL-terminated string of printable characters at addr in a readable segment of bin.
func (s *State) readString(bin string, addr uint64) (string, bool) {
	p, ok := s.programs[bin]
	if !ok {
		return "", false
	}
	for _, seg := range p.Segments() {
		if !seg.Readable || !seg.Contains(addr) {
			continue
		}
		off := addr - seg.Start
		if off >= uint64(len(seg.Data)) {
			return "", false
		}
		data := seg.Data[off:]
		for i := 0; i < len(data) && i < maxStringLength; i++ {
			c := data[i]
			if c == 0 {
				return string(data[:i]), true
			}
			if c >= unicode.MaxASCII || !(unicode.IsPrint(rune(c)) || unicode.IsSpace(rune(c))) {
				return "", false
			}
		}
		return "", false
	}
	return "", false
}
