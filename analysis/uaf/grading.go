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
	"strings"

	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/taint"
)

const (
	badMarker  = "_bad"
	goodMarker = "_good"
)

// gradingRules classifies the use-after-free findings of benchmark binaries, whose functions are named after the
// expected result: a finding in a function named *_bad*, or reached through a call made from one, is a true
// positive; *_good* marks false positives.
func (s *State) gradingRules() error {
	return s.uafs.On("grade", func(u UseAfterFree) {
		names := s.functionNames(u.Bin, u.Addr)
		for _, t := range s.traceByID.Get(u.Trace) {
			names = append(names, s.contextFunctions(t.Ctx)...)
		}
		g := Graded{Src: u.Src, SrcAddr: u.SrcAddr, Bin: u.Bin, Addr: u.Addr}
		for _, name := range names {
			if strings.Contains(name, badMarker) {
				s.truePositives.Insert(g)
			}
			if strings.Contains(name, goodMarker) {
				s.falsePositives.Insert(g)
			}
		}
	})
}

// contextFunctions returns the names of the functions the calls of a context were made from.
func (s *State) contextFunctions(ctx callctx.ID) []string {
	stack, ok := s.stacks.Get(ctx)
	if !ok {
		return nil
	}
	var names []string
	for _, f := range stack.Frames() {
		names = append(names, s.functionNames(f.Binary, f.Return)...)
	}
	return names
}

// escapeRules registers the stack escape check: the stack pointer is tracked from each function entry, and an
// instruction storing it where it cannot be tracked is reported. The check is intraprocedural: calls only clobber the
// return register.
func (s *State) escapeRules() error {
	reg := &registrar{}
	reg.add(s.entries.On("stack-seed", func(e Entry) {
		if conv := s.convention(e.Bin); conv.IsSome() {
			s.stackAlias.Insert(StackKey{Bin: e.Bin, Func: e.Addr, Addr: e.Addr, Var: conv.Value().Stack})
		}
	}))
	reg.add(s.stackAlias.On("stack-step", func(k StackKey) {
		sema := s.sema(k.Bin, k.Addr)
		conv := s.convention(k.Bin)
		if sema == nil || conv.IsNone() {
			return
		}
		if taint.StackEscape(k.Var, sema) {
			s.stackEscapes.Insert(StackEscape{Bin: k.Bin, Func: k.Func, Addr: k.Addr})
			return
		}
		switch {
		case sema.IsRet:
		case sema.IsCall:
			if !conv.Value().IsReturn(k.Var) {
				s.stackAlias.Insert(StackKey{Bin: k.Bin, Func: k.Func, Addr: sema.Fall, Var: k.Var})
			}
		default:
			vars := taint.XferTaint(sema, k.Var)
			for _, succ := range s.succFrom.Get(Site{k.Bin, k.Addr}) {
				if succ.IsCall {
					continue
				}
				for _, v := range vars {
					s.stackAlias.Insert(StackKey{Bin: k.Bin, Func: k.Func, Addr: succ.Dst, Var: v})
				}
			}
		}
	}))
	return reg.err
}
