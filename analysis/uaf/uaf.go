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
	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/datalog"
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/awslabs/ar-bin-tools/analysis/taint"
	"github.com/awslabs/ar-bin-tools/internal/funcutil"
)

// aliasRules registers the first stage of the path-alias analysis: seeds at allocation sites, propagation along
// intraprocedural successors, skip calls, calls into loaded functions and returns to a known frame, the free and
// upgrade rules, and the sinks.
func (s *State) aliasRules() error {
	reg := &registrar{}
	reg.add(s.mallocCalls.On("seed", s.seedAllocation))
	if s.Config.SeedHeapLoads {
		reg.add(s.semas.On("seed-heap-load", s.seedHeapLoad))
	}
	reg.add(s.pathAlias.On("step", s.step))
	reg.add(s.pathAlias.On("upgrade", s.upgrade))
	reg.add(s.pathAlias.On("sink", s.sink))
	return reg.err
}

// returnJoinRules registers the second stage: a return with an empty context resumes after every call site of the
// returning function. This is the only context-insensitive join of the analysis.
func (s *State) returnJoinRules() error {
	return s.pathAlias.On("return-join", func(e datalog.Entry[AliasKey, bool]) {
		k := e.Key
		if k.Ctx != callctx.EmptyID {
			return
		}
		sema := s.sema(k.Bin, k.Addr)
		if sema == nil || !sema.IsRet {
			return
		}
		vars := taint.XferTaint(sema, k.Var)
		for _, f := range s.funcAt.Get(Site{k.Bin, k.Addr}) {
			for _, cs := range s.callSiteTo.Get(Site{k.Bin, f.Entry}) {
				call := s.sema(cs.Bin, cs.Addr)
				if call == nil {
					continue
				}
				for _, v := range vars {
					s.pathAlias.Insert(k.moved(callctx.EmptyID, k.Chop, cs.Bin, call.Fall, v), e.Value)
				}
			}
		}
	})
}

// moved returns the key of the same object at another program point.
func (k AliasKey) moved(ctx callctx.ID, chop callctx.Chop, bin string, addr uint64, v location.Var) AliasKey {
	return AliasKey{Src: k.Src, SrcAddr: k.SrcAddr, Ctx: ctx, Chop: chop, Bin: bin, Addr: addr, Var: v}
}

// seedAllocation tracks the return register after each call to an allocator.
func (s *State) seedAllocation(m MallocCall) {
	conv := s.convention(m.Bin)
	sema := s.sema(m.Bin, m.Addr)
	if conv.IsNone() || sema == nil {
		return
	}
	k := AliasKey{Src: m.Bin, SrcAddr: m.Addr, Ctx: callctx.EmptyID, Bin: m.Bin, Addr: sema.Fall,
		Var: conv.Value().Return}
	s.pathAlias.Insert(k, false)
}

// seedHeapLoad tracks the registers written by a load through a pointer that is not a stack or frame pointer. The
// loading instruction is the source of the object.
func (s *State) seedHeapLoad(x Sema) {
	conv := s.convention(x.Bin)
	if conv.IsNone() || x.Sema.IsCall {
		return
	}
	for _, dst := range heapLoads(x.Sema, conv.Value()) {
		for _, succ := range s.succFrom.Get(Site{x.Bin, x.Addr}) {
			if !succ.IsCall {
				k := AliasKey{Src: x.Bin, SrcAddr: x.Addr, Ctx: callctx.EmptyID, Bin: x.Bin, Addr: succ.Dst, Var: dst}
				s.pathAlias.Insert(k, false)
			}
		}
	}
}

// heapLoads returns the registers the instruction loads from memory through a non-stack pointer.
func heapLoads(sema *ir.Sema, conv location.Convention) []location.Var {
	var res []location.Var
	for _, stmt := range sema.Stmts {
		mv, ok := stmt.(ir.Move)
		if !ok || !mv.Lhs.IsRegister() {
			continue
		}
		load, ok := mv.Rhs.(ir.Load)
		if !ok {
			continue
		}
		cell := location.PromoteIndex(load.Index)
		if cell.IsNone() || conv.IsStackPointer(location.Register(cell.Value().Base)) {
			continue
		}
		if dst := location.Register(mv.Lhs); dst.NotTemp() {
			res = append(res, dst)
		}
	}
	return res
}

// sourceVars returns the variables holding the object allocated at (bin, addr) right after its allocation.
func (s *State) sourceVars(bin string, addr uint64) []location.Var {
	conv := s.convention(bin)
	if conv.IsNone() {
		return nil
	}
	if len(s.mallocAt.Get(Site{bin, addr})) > 0 {
		return []location.Var{conv.Value().Return}
	}
	if sema := s.sema(bin, addr); sema != nil && s.Config.SeedHeapLoads {
		return heapLoads(sema, conv.Value())
	}
	return nil
}

// step propagates a state over the instruction at its program point.
func (s *State) step(e datalog.Entry[AliasKey, bool]) {
	k := e.Key
	sema := s.sema(k.Bin, k.Addr)
	if sema == nil {
		return
	}
	switch {
	case sema.IsCall:
		s.stepCall(e, sema)
	case sema.IsRet:
		if k.Ctx != callctx.EmptyID {
			s.stepReturn(e, sema)
		}
	default:
		vars := taint.XferTaint(sema, k.Var)
		for _, succ := range s.succFrom.Get(Site{k.Bin, k.Addr}) {
			if succ.IsCall {
				continue
			}
			for _, v := range vars {
				s.pathAlias.Insert(k.moved(k.Ctx, k.Chop, k.Bin, succ.Dst, v), e.Value)
			}
		}
	}
}

// stepCall propagates a state over a call. A skip call only clobbers the return register. A call to a loaded
// function pushes the return frame and enters the callee, unless the chop is full or the frame is already on the
// context.
func (s *State) stepCall(e datalog.Entry[AliasKey, bool], sema *ir.Sema) {
	k := e.Key
	conv := s.convention(k.Bin)
	if conv.IsNone() {
		return
	}
	site := Site{k.Bin, k.Addr}
	if len(s.freeAt.Get(site)) > 0 && k.Var == conv.Value().Args[0] {
		s.pathAlias.Insert(k.moved(k.Ctx, k.Chop, k.Bin, sema.Fall, k.Var), true)
	}
	if len(s.skipAt.Get(site)) > 0 {
		if !conv.Value().IsReturn(k.Var) {
			s.pathAlias.Insert(k.moved(k.Ctx, k.Chop, k.Bin, sema.Fall, k.Var), e.Value)
		}
		return
	}
	calls := s.callSiteAt.Get(site)
	if len(calls) == 0 {
		return
	}
	frame := callctx.Frame{Binary: k.Bin, Return: sema.Fall}
	parent, ok := s.stacks.Get(k.Ctx)
	if !ok || parent.Contains(func(f callctx.Frame) bool { return f == frame }) {
		return
	}
	child, ok := s.stacks.Push(k.Ctx, frame)
	if !ok {
		return
	}
	s.frames.Insert(StackFrame{Child: child, Parent: k.Ctx, Bin: k.Bin, Ret: sema.Fall})
	vars := taint.XferTaint(sema, k.Var)
	for _, cs := range calls {
		chop, ok := k.Chop.Add(cs.Target, s.Config.MaxChop)
		if !ok {
			continue
		}
		for _, v := range vars {
			s.pathAlias.Insert(k.moved(child, chop, cs.TargetBin, cs.Target, v), e.Value)
		}
	}
}

// stepReturn pops the top frame of the context and resumes at its return address.
func (s *State) stepReturn(e datalog.Entry[AliasKey, bool], sema *ir.Sema) {
	k := e.Key
	stack, ok := s.stacks.Get(k.Ctx)
	if !ok {
		s.Logger.Warnf("unknown context %s at %s", k.Ctx, Site{k.Bin, k.Addr})
		return
	}
	top, rest, ok := stack.Pop()
	if !ok {
		return
	}
	for _, v := range taint.XferTaint(sema, k.Var) {
		s.pathAlias.Insert(k.moved(rest.ID(), k.Chop, top.Binary, top.Return, v), e.Value)
	}
}

// upgrade applies a free call to the other states of the freed object. When one state of a group at a free site
// holds the argument of the call, every state of the group is freed after the call, except the clobbered return
// register. The flag does not spread at other program points, so a new allocation from the same site starts unfreed.
func (s *State) upgrade(e datalog.Entry[AliasKey, bool]) {
	k := e.Key
	if len(s.freeAt.Get(Site{k.Bin, k.Addr})) == 0 {
		return
	}
	conv := s.convention(k.Bin)
	sema := s.sema(k.Bin, k.Addr)
	if conv.IsNone() || sema == nil {
		return
	}
	arg := conv.Value().Args[0]
	isArg := func(o AliasKey) bool { return o.Var == arg }
	members := s.aliasGroup.Get(k.group())
	freed := []AliasKey{k}
	if isArg(k) {
		freed = members
	} else if !funcutil.Exists(members, isArg) {
		return
	}
	for _, o := range freed {
		if !conv.Value().IsReturn(o.Var) {
			s.pathAlias.Insert(o.moved(o.Ctx, o.Chop, o.Bin, sema.Fall, o.Var), true)
		}
	}
}

// sink reports a freed state whose variable is dereferenced or consumed by the instruction at its program point.
func (s *State) sink(e datalog.Entry[AliasKey, bool]) {
	if !e.Value {
		return
	}
	k := e.Key
	if s.uses(k.Bin, k.Addr, k.Var) {
		s.flows.Insert(Flow{Src: k.Src, SrcAddr: k.SrcAddr, Ctx: k.Ctx, Bin: k.Bin, Addr: k.Addr, Var: k.Var})
	}
}

// uses returns true when the instruction at (bin, addr) reads through v.
func (s *State) uses(bin string, addr uint64, v location.Var) bool {
	sema := s.sema(bin, addr)
	if sema == nil {
		return false
	}
	if taint.DerefVar(sema, v) {
		return true
	}
	for _, u := range s.usesAt.Get(Site{bin, addr}) {
		if u.Var == v {
			return true
		}
	}
	return false
}
