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

// traceRules registers the trace propagation: one root per allocation site with a flow, extended along the same
// transitions as the path-alias analysis. A trace only steps to program points the path-alias analysis reached for
// the same allocation and context, and never grows past the configured length.
func (s *State) traceRules() error {
	reg := &registrar{}
	reg.add(s.flows.On("trace-root", func(f Flow) {
		id := callctx.NextTrace(callctx.TraceRoot, callctx.EmptyID, f.Src, f.SrcAddr)
		s.traces.Insert(Trace{ID: id, Ctx: callctx.EmptyID, Prev: callctx.TraceRoot, Src: f.Src, SrcAddr: f.SrcAddr,
			Bin: f.Src, Addr: f.SrcAddr, Len: 1})
	}))
	reg.add(s.traces.On("extend", s.extendTrace))
	return reg.err
}

// extendTrace adds the successors of a trace step.
func (s *State) extendTrace(t Trace) {
	if !callctx.CanExtend(t.Len, s.Config.MaxTraceLength) {
		return
	}
	sema := s.sema(t.Bin, t.Addr)
	if sema == nil {
		return
	}
	site := Site{t.Bin, t.Addr}
	switch {
	case sema.IsCall:
		if len(s.skipAt.Get(site)) > 0 {
			s.traceStep(t, t.Ctx, t.Bin, sema.Fall)
			return
		}
		child := callctx.Hash(t.Ctx, callctx.Frame{Binary: t.Bin, Return: sema.Fall})
		for _, cs := range s.callSiteAt.Get(site) {
			s.traceStep(t, child, cs.TargetBin, cs.Target)
		}
	case sema.IsRet && t.Ctx != callctx.EmptyID:
		stack, ok := s.stacks.Get(t.Ctx)
		if !ok {
			return
		}
		if top, rest, ok := stack.Pop(); ok {
			s.traceStep(t, rest.ID(), top.Binary, top.Return)
		}
	case sema.IsRet:
		for _, f := range s.funcAt.Get(site) {
			for _, cs := range s.callSiteTo.Get(Site{t.Bin, f.Entry}) {
				if call := s.sema(cs.Bin, cs.Addr); call != nil {
					s.traceStep(t, callctx.EmptyID, cs.Bin, call.Fall)
				}
			}
		}
	default:
		for _, succ := range s.succFrom.Get(site) {
			if !succ.IsCall {
				s.traceStep(t, t.Ctx, t.Bin, succ.Dst)
			}
		}
	}
}

// traceStep extends t to (bin, addr) in context ctx, if the path-alias analysis reached that point.
func (s *State) traceStep(t Trace, ctx callctx.ID, bin string, addr uint64) {
	g := group{Src: t.Src, SrcAddr: t.SrcAddr, Ctx: ctx, Bin: bin, Addr: addr}
	if len(s.aliasGroup.Get(g)) == 0 {
		return
	}
	id := callctx.NextTrace(t.ID, ctx, bin, addr)
	s.traces.Insert(Trace{ID: id, Ctx: ctx, Prev: t.ID, Src: t.Src, SrcAddr: t.SrcAddr, Bin: bin, Addr: addr,
		Len: t.Len + 1})
}

// traceAliasRules registers the resolution of the path-alias states along the traces. A state of a trace step holds
// before the instruction of the step executes.
func (s *State) traceAliasRules() error {
	reg := &registrar{}
	reg.add(s.traces.On("trace-seed", func(t Trace) {
		if t.Prev == callctx.TraceRoot {
			return
		}
		for _, root := range s.traceByID.Get(t.Prev) {
			if root.Prev != callctx.TraceRoot || root.Src != t.Src || root.SrcAddr != t.SrcAddr {
				continue
			}
			for _, v := range s.sourceVars(t.Src, t.SrcAddr) {
				s.traceAlias.Insert(TraceKey{Trace: t.ID, Var: v}, false)
			}
		}
	}))
	reg.add(s.traceAlias.On("trace-step", s.stepTrace))
	reg.add(s.traceAlias.On("trace-upgrade", s.upgradeTrace))
	reg.add(s.traceAlias.On("trace-sink", func(e datalog.Entry[TraceKey, bool]) {
		if !e.Value {
			return
		}
		for _, t := range s.traceByID.Get(e.Key.Trace) {
			if s.uses(t.Bin, t.Addr, e.Key.Var) {
				s.uafs.Insert(UseAfterFree{Src: t.Src, SrcAddr: t.SrcAddr, Bin: t.Bin, Addr: t.Addr, Var: e.Key.Var,
					Trace: t.ID})
			}
		}
	}))
	return reg.err
}

// stepTrace propagates a state of a trace step to the following steps.
func (s *State) stepTrace(e datalog.Entry[TraceKey, bool]) {
	for _, t := range s.traceByID.Get(e.Key.Trace) {
		sema := s.sema(t.Bin, t.Addr)
		conv := s.convention(t.Bin)
		if sema == nil || conv.IsNone() {
			continue
		}
		for _, next := range s.traceByPrev.Get(t.ID) {
			for v, freed := range s.traceTransfer(t, sema, conv.Value(), e.Key.Var, e.Value) {
				s.traceAlias.Insert(TraceKey{Trace: next.ID, Var: v}, freed)
			}
		}
	}
}

// traceTransfer returns the variables holding the object after the instruction of step t, with their freed flag.
func (s *State) traceTransfer(t Trace, sema *ir.Sema, conv location.Convention, v location.Var,
	freed bool) map[location.Var]bool {
	res := map[location.Var]bool{}
	site := Site{t.Bin, t.Addr}
	if sema.IsCall && len(s.skipAt.Get(site)) > 0 {
		if len(s.freeAt.Get(site)) > 0 && v == conv.Args[0] {
			res[v] = true
		}
		if !conv.IsReturn(v) {
			res[v] = res[v] || freed
		}
		return res
	}
	for _, x := range taint.XferTaint(sema, v) {
		res[x] = freed
	}
	return res
}

// upgradeTrace applies a free call of a trace step to the other states of the step, as upgrade does for the
// path-alias states.
func (s *State) upgradeTrace(e datalog.Entry[TraceKey, bool]) {
	for _, t := range s.traceByID.Get(e.Key.Trace) {
		conv := s.convention(t.Bin)
		if conv.IsNone() || len(s.freeAt.Get(Site{t.Bin, t.Addr})) == 0 {
			continue
		}
		arg := conv.Value().Args[0]
		isArg := func(k TraceKey) bool { return k.Var == arg }
		members := s.traceAliasAt.Get(t.ID)
		freed := []TraceKey{e.Key}
		if isArg(e.Key) {
			freed = members
		} else if !funcutil.Exists(members, isArg) {
			continue
		}
		for _, next := range s.traceByPrev.Get(t.ID) {
			for _, k := range freed {
				if !conv.Value().IsReturn(k.Var) {
					s.traceAlias.Insert(TraceKey{Trace: next.ID, Var: k.Var}, true)
				}
			}
		}
	}
}
