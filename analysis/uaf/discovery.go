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
	"github.com/awslabs/ar-bin-tools/analysis/cfg"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/awslabs/ar-bin-tools/internal/funcutil"
)

// registrar collects the first error returned while registering the rules of a phase.
type registrar struct {
	err error
}

func (r *registrar) add(err error) {
	if r.err == nil {
		r.err = err
	}
}

// seedDiscovery inserts the facts read directly from the binaries: files, architectures, segments, import stubs
// and function symbols. Symbols and entry points are the roots of the live code.
func (s *State) seedDiscovery() {
	for _, bin := range s.order {
		p := s.programs[bin]
		s.files.Insert(File{Bin: bin})
		s.archs.Insert(Arch{Bin: bin, Arch: p.Arch()})
		for _, seg := range p.Segments() {
			s.segments.Insert(Segment{Bin: bin, ID: seg.ID, Start: seg.Start, End: seg.End,
				R: seg.Readable, W: seg.Writable, X: seg.Executable})
		}
		for _, imp := range p.Imports() {
			s.linkPads.Insert(LinkPad{Bin: bin, Name: imp.Name, Addr: imp.Stub})
		}
		for _, sym := range p.Symbols() {
			s.entries.Insert(Entry{Bin: bin, Name: sym.Name, Addr: sym.Start})
			s.live.Insert(Live{Bin: bin, Addr: sym.Start})
		}
		if p.Entry() != 0 {
			s.live.Insert(Live{Bin: bin, Addr: p.Entry()})
		}
	}
}

// discoveryRules registers the rules discovering the reachable code, its control flow and the calls to known
// routines.
func (s *State) discoveryRules() error {
	reg := &registrar{}
	reg.add(s.live.On("lift", s.lift))
	reg.add(s.semas.On("successors", s.successors))
	reg.add(s.succs.On("call-site", s.resolveCall))

	reg.add(s.entries.On("func-entry", func(e Entry) {
		s.funcs.Insert(Func{Bin: e.Bin, Entry: e.Addr, Addr: e.Addr})
	}))
	reg.add(s.funcs.On("func-step", func(f Func) {
		for _, x := range s.succFrom.Get(Site{f.Bin, f.Addr}) {
			if !x.IsCall {
				s.funcs.Insert(Func{Bin: f.Bin, Entry: f.Entry, Addr: x.Dst})
			}
		}
		for _, x := range s.succOverFrom.Get(Site{f.Bin, f.Addr}) {
			s.funcs.Insert(Func{Bin: f.Bin, Entry: f.Entry, Addr: x.Dst})
		}
	}))
	reg.add(s.succs.On("func-step", func(x Succ) {
		if x.IsCall {
			return
		}
		for _, f := range s.funcAt.Get(Site{x.Bin, x.Src}) {
			s.funcs.Insert(Func{Bin: x.Bin, Entry: f.Entry, Addr: x.Dst})
		}
	}))
	reg.add(s.succOver.On("func-step", func(x SuccOver) {
		for _, f := range s.funcAt.Get(Site{x.Bin, x.Src}) {
			s.funcs.Insert(Func{Bin: x.Bin, Entry: f.Entry, Addr: x.Dst})
		}
	}))
	return reg.err
}

// lift derives the semantics of a live address. An address that cannot be lifted yields no facts.
func (s *State) lift(l Live) {
	p, ok := s.programs[l.Bin]
	if !ok {
		return
	}
	sema, err := p.Lift(l.Addr)
	if err != nil {
		s.Logger.Debugf("no instruction at %s: %v", Site{l.Bin, l.Addr}, err)
		return
	}
	s.semas.Insert(Sema{Bin: l.Bin, Addr: l.Addr, Sema: sema})
	s.disasm.Insert(Disasm{Bin: l.Bin, Addr: l.Addr, Text: sema.Disasm})
	for _, seg := range p.Segments() {
		if seg.Contains(l.Addr) {
			s.segLive.Insert(SegLive{Bin: l.Bin, Seg: seg.ID, Addr: l.Addr - seg.Start})
		}
	}
}

// successors derives the control flow of an instruction. The successor of a call is its callee; the instruction the
// call returns to is recorded separately in succ_over.
func (s *State) successors(x Sema) {
	sema := x.Sema
	targets := cfg.UpperSuccessors(sema)
	if targets.Top {
		s.mayJumps.Insert(MayJump{Bin: x.Bin, Addr: x.Addr})
	}
	if sema.IsRet {
		s.isRets.Insert(IsRet{Bin: x.Bin, Addr: x.Addr})
	}
	if sema.IsCall {
		s.isCalls.Insert(IsCall{Bin: x.Bin, Addr: x.Addr})
		s.succOver.Insert(SuccOver{Bin: x.Bin, Src: x.Addr, Dst: sema.Fall})
		s.live.Insert(Live{Bin: x.Bin, Addr: sema.Fall})
	}
	for _, dst := range targets.Addrs {
		s.succs.Insert(Succ{Bin: x.Bin, Src: x.Addr, Dst: dst, IsCall: sema.IsCall})
		s.live.Insert(Live{Bin: x.Bin, Addr: dst})
	}
}

// resolveCall links a call to the functions it may enter, and classifies it by the name of its callee. A call to an
// import stub enters the function of the same name in every other loaded binary.
func (s *State) resolveCall(x Succ) {
	if !x.IsCall {
		return
	}
	target := Site{x.Bin, x.Dst}
	if len(s.entryAt.Get(target)) > 0 {
		s.callSites.Insert(CallSite{Bin: x.Bin, Addr: x.Src, TargetBin: x.Bin, Target: x.Dst})
	}
	for _, pad := range s.linkPadAt.Get(target) {
		for _, e := range s.entryByName.Get(pad.Name) {
			if e.Bin != x.Bin {
				s.callSites.Insert(CallSite{Bin: x.Bin, Addr: x.Src, TargetBin: e.Bin, Target: e.Addr})
			}
		}
	}
	if name := s.calleeName(x.Bin, x.Dst); name.IsSome() {
		s.classify(x.Bin, x.Src, name.Value())
	}
}

// classify records the calls to allocators, deallocators, printf-like and consuming routines.
func (s *State) classify(bin string, addr uint64, name string) {
	switch {
	case s.Config.IsAllocator(name):
		s.mallocCalls.Insert(MallocCall{Bin: bin, Addr: addr})
	case s.Config.IsDeallocator(name):
		s.freeCalls.Insert(FreeCall{Bin: bin, Addr: addr})
	}
	if arg := s.Config.FormatArg(name); arg.IsSome() {
		s.formatCalls.Insert(FormatCall{Bin: bin, Addr: addr, Arg: arg.Value()})
	}
	if arg := s.Config.ConsumedArg(name); arg.IsSome() {
		reg := funcutil.BindOption(s.convention(bin), func(c location.Convention) funcutil.Optional[location.Var] {
			return c.ArgumentRegister(arg.Value())
		})
		if reg.IsSome() {
			s.funcUses.Insert(FuncUses{Bin: bin, Addr: addr, Var: reg.Value()})
		}
	}
}

// knownRoutine returns true when the call at (bin, addr) calls a routine named in the configuration.
func (s *State) knownRoutine(bin string, addr uint64) bool {
	for _, x := range s.succFrom.Get(Site{bin, addr}) {
		name := s.calleeName(bin, x.Dst)
		if name.IsNone() {
			continue
		}
		n := name.Value()
		if s.Config.IsAllocator(n) || s.Config.IsDeallocator(n) || s.Config.FormatArg(n).IsSome() ||
			s.Config.ConsumedArg(n).IsSome() {
			return true
		}
	}
	return false
}

// skipRules classifies the calls stepped over by the path-alias analysis. It needs the call sites of the closed
// discovery phase: a call without call site is only known to be unresolved once discovery has quiesced.
func (s *State) skipRules() error {
	return s.isCalls.On("skip", func(c IsCall) {
		site := Site{c.Bin, c.Addr}
		if s.knownRoutine(c.Bin, c.Addr) ||
			(s.Config.SkipUnresolved && len(s.callSiteAt.Get(site)) == 0) {
			s.skipFuncs.Insert(SkipFunc{Bin: c.Bin, Addr: c.Addr})
		}
	})
}
