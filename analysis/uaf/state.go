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
	"fmt"

	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/datalog"
	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"github.com/awslabs/ar-bin-tools/analysis/loader"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/awslabs/ar-bin-tools/internal/funcutil"
)

// State holds the relations, indexes and inputs of one analysis session. It is built by NewState and driven by
// Analyze; tests can also drive the phases one by one.
type State struct {
	Config *config.Config
	Logger *config.LogGroup

	engine   *datalog.Engine
	programs map[string]loader.Program
	order    []string
	stacks   *callctx.Registry

	// discovery
	files     *datalog.Relation[File]
	archs     *datalog.Relation[Arch]
	segments  *datalog.Relation[Segment]
	linkPads  *datalog.Relation[LinkPad]
	entries   *datalog.Relation[Entry]
	live      *datalog.Relation[Live]
	segLive   *datalog.Relation[SegLive]
	semas     *datalog.Relation[Sema]
	disasm    *datalog.Relation[Disasm]
	succs     *datalog.Relation[Succ]
	mayJumps  *datalog.Relation[MayJump]
	isCalls   *datalog.Relation[IsCall]
	isRets    *datalog.Relation[IsRet]
	succOver  *datalog.Relation[SuccOver]
	funcs     *datalog.Relation[Func]
	callSites *datalog.Relation[CallSite]

	// routines
	mallocCalls *datalog.Relation[MallocCall]
	freeCalls   *datalog.Relation[FreeCall]
	formatCalls *datalog.Relation[FormatCall]
	funcUses    *datalog.Relation[FuncUses]
	skipFuncs   *datalog.Relation[SkipFunc]

	// constants
	possConsts  *datalog.Relation[PossConst]
	possStrings *datalog.Relation[PossString]

	// path alias
	pathAlias *datalog.Lattice[AliasKey, bool]
	frames    *datalog.Relation[StackFrame]
	flows     *datalog.Relation[Flow]

	// traces
	traces     *datalog.Relation[Trace]
	traceAlias *datalog.Lattice[TraceKey, bool]
	uafs       *datalog.Relation[UseAfterFree]

	// grading and stack escape.
	truePositives  *datalog.Relation[Graded]
	falsePositives *datalog.Relation[Graded]
	stackAlias     *datalog.Relation[StackKey]
	stackEscapes   *datalog.Relation[StackEscape]

	// indexes
	semaAt       *datalog.Index[Site, Sema]
	entryAt      *datalog.Index[Site, Entry]
	entryByName  *datalog.Index[string, Entry]
	linkPadAt    *datalog.Index[Site, LinkPad]
	succFrom     *datalog.Index[Site, Succ]
	succOverFrom *datalog.Index[Site, SuccOver]
	funcAt       *datalog.Index[Site, Func]
	funcByEntry  *datalog.Index[Site, Func]
	callSiteAt   *datalog.Index[Site, CallSite]
	callSiteTo   *datalog.Index[Site, CallSite]
	mallocAt     *datalog.Index[Site, MallocCall]
	freeAt       *datalog.Index[Site, FreeCall]
	formatAt     *datalog.Index[Site, FormatCall]
	usesAt       *datalog.Index[Site, FuncUses]
	skipAt       *datalog.Index[Site, SkipFunc]
	aliasGroup   *datalog.Index[group, AliasKey]
	traceByID    *datalog.Index[callctx.TraceID, Trace]
	traceByPrev  *datalog.Index[callctx.TraceID, Trace]
	traceAliasAt *datalog.Index[callctx.TraceID, TraceKey]
}

// NewState creates the relations of an analysis of the programs. Programs with the same name are renamed so that
// every binary has a unique name in the facts.
func NewState(cfg *config.Config, logger *config.LogGroup, programs []loader.Program) *State {
	if logger == nil {
		logger = config.NewLogGroup(cfg)
	}
	e := datalog.NewEngine(logger, cfg.Workers)
	s := &State{
		Config:   cfg,
		Logger:   logger,
		engine:   e,
		programs: map[string]loader.Program{},
		stacks:   callctx.NewRegistry(),
	}
	for _, p := range programs {
		name := p.Name()
		for i := 2; s.programs[name] != nil; i++ {
			name = fmt.Sprintf("%s#%d", p.Name(), i)
		}
		s.programs[name] = p
		s.order = append(s.order, name)
	}

	s.files = datalog.NewRelation[File](e, "file", "bin")
	s.archs = datalog.NewRelation[Arch](e, "arch", "bin", "arch")
	s.segments = datalog.NewRelation[Segment](e, "segment", "bin", "id", "start", "end", "r", "w", "x")
	s.linkPads = datalog.NewRelation[LinkPad](e, "link_pad", "bin", "name", "addr")
	s.entries = datalog.NewRelation[Entry](e, "entry", "bin", "name", "addr")
	s.live = datalog.NewRelation[Live](e, "live", "bin", "addr")
	s.segLive = datalog.NewRelation[SegLive](e, "seglive", "bin", "seg", "addr")
	s.semas = datalog.NewRelation[Sema](e, "sema", "bin", "addr", "stmts")
	s.disasm = datalog.NewRelation[Disasm](e, "disasm", "bin", "addr", "text")
	s.succs = datalog.NewRelation[Succ](e, "succ", "bin", "src", "dst", "is_call")
	s.mayJumps = datalog.NewRelation[MayJump](e, "may_jump", "bin", "addr")
	s.isCalls = datalog.NewRelation[IsCall](e, "is_call", "bin", "addr")
	s.isRets = datalog.NewRelation[IsRet](e, "is_ret", "bin", "addr")
	s.succOver = datalog.NewRelation[SuccOver](e, "succ_over", "bin", "src", "dst")
	s.funcs = datalog.NewRelation[Func](e, "func", "bin", "entry", "addr")
	s.callSites = datalog.NewRelation[CallSite](e, "call_site", "bin", "addr", "target_bin", "target")

	s.mallocCalls = datalog.NewRelation[MallocCall](e, "malloc_call", "bin", "addr")
	s.freeCalls = datalog.NewRelation[FreeCall](e, "free_call", "bin", "addr")
	s.formatCalls = datalog.NewRelation[FormatCall](e, "format_call", "bin", "addr", "arg")
	s.funcUses = datalog.NewRelation[FuncUses](e, "func_uses", "bin", "addr", "var")
	s.skipFuncs = datalog.NewRelation[SkipFunc](e, "skip_func", "bin", "addr")

	s.possConsts = datalog.NewRelation[PossConst](e, "poss_const", "bin", "addr", "var", "value")
	s.possStrings = datalog.NewRelation[PossString](e, "poss_string", "bin", "addr", "str")

	s.pathAlias = datalog.NewLattice[AliasKey, bool](e, "path_alias", datalog.Or, datalog.Bool,
		"src", "src_addr", "stack", "chop", "bin", "addr", "var", "freed")
	s.frames = datalog.NewRelation[StackFrame](e, "stack", "child", "parent", "bin", "ret")
	s.flows = datalog.NewRelation[Flow](e, "use_after_free_flow", "src", "src_addr", "stack", "bin", "addr", "var")

	s.traces = datalog.NewRelation[Trace](e, "trace", "id", "stack", "prev", "src", "src_addr", "bin", "addr", "len")
	s.traceAlias = datalog.NewLattice[TraceKey, bool](e, "path_alias_trace", datalog.Or, datalog.Bool,
		"trace", "var", "freed")
	s.uafs = datalog.NewRelation[UseAfterFree](e, "use_after_free", "src", "src_addr", "bin", "addr", "var", "trace")

	s.truePositives = datalog.NewRelation[Graded](e, "true_positive", "src", "src_addr", "bin", "addr")
	s.falsePositives = datalog.NewRelation[Graded](e, "false_positive", "src", "src_addr", "bin", "addr")
	s.stackAlias = datalog.NewRelation[StackKey](e, "stack_alias", "bin", "func", "addr", "var")
	s.stackEscapes = datalog.NewRelation[StackEscape](e, "stack_escape", "bin", "func", "addr")

	s.semaAt = datalog.NewIndex(s.semas, func(x Sema) Site { return Site{x.Bin, x.Addr} })
	s.entryAt = datalog.NewIndex(s.entries, func(x Entry) Site { return Site{x.Bin, x.Addr} })
	s.entryByName = datalog.NewIndex(s.entries, func(x Entry) string { return x.Name })
	s.linkPadAt = datalog.NewIndex(s.linkPads, func(x LinkPad) Site { return Site{x.Bin, x.Addr} })
	s.succFrom = datalog.NewIndex(s.succs, func(x Succ) Site { return Site{x.Bin, x.Src} })
	s.succOverFrom = datalog.NewIndex(s.succOver, func(x SuccOver) Site { return Site{x.Bin, x.Src} })
	s.funcAt = datalog.NewIndex(s.funcs, func(x Func) Site { return Site{x.Bin, x.Addr} })
	s.funcByEntry = datalog.NewIndex(s.funcs, func(x Func) Site { return Site{x.Bin, x.Entry} })
	s.callSiteAt = datalog.NewIndex(s.callSites, func(x CallSite) Site { return Site{x.Bin, x.Addr} })
	s.callSiteTo = datalog.NewIndex(s.callSites, func(x CallSite) Site { return Site{x.TargetBin, x.Target} })
	s.mallocAt = datalog.NewIndex(s.mallocCalls, func(x MallocCall) Site { return Site{x.Bin, x.Addr} })
	s.freeAt = datalog.NewIndex(s.freeCalls, func(x FreeCall) Site { return Site{x.Bin, x.Addr} })
	s.formatAt = datalog.NewIndex(s.formatCalls, func(x FormatCall) Site { return Site{x.Bin, x.Addr} })
	s.usesAt = datalog.NewIndex(s.funcUses, func(x FuncUses) Site { return Site{x.Bin, x.Addr} })
	s.skipAt = datalog.NewIndex(s.skipFuncs, func(x SkipFunc) Site { return Site{x.Bin, x.Addr} })
	s.aliasGroup = datalog.NewKeyIndex(s.pathAlias, AliasKey.group)
	s.traceByID = datalog.NewIndex(s.traces, func(x Trace) callctx.TraceID { return x.ID })
	s.traceByPrev = datalog.NewIndex(s.traces, func(x Trace) callctx.TraceID { return x.Prev })
	s.traceAliasAt = datalog.NewKeyIndex(s.traceAlias, func(k TraceKey) callctx.TraceID { return k.Trace })
	return s
}

// Tables returns all the relations of the analysis.
func (s *State) Tables() []datalog.Table {
	return s.engine.Tables()
}

// Files returns the names of the analyzed binaries, in input order.
func (s *State) Files() []string {
	return append([]string(nil), s.order...)
}

// Program returns the program named bin.
func (s *State) Program(bin string) (loader.Program, bool) {
	p, ok := s.programs[bin]
	return p, ok
}

// sema returns the lifted instruction at (bin, addr), or nil when the address is not live.
func (s *State) sema(bin string, addr uint64) *ir.Sema {
	for _, x := range s.semaAt.Get(Site{bin, addr}) {
		return x.Sema
	}
	return nil
}

// convention returns the calling convention of the binary.
func (s *State) convention(bin string) funcutil.Optional[location.Convention] {
	p, ok := s.programs[bin]
	if !ok {
		return funcutil.None[location.Convention]()
	}
	return location.ConventionOf(p.Arch())
}

// calleeName returns the name of the routine called when jumping to (bin, addr): the name of an import stub or of a
// function symbol.
func (s *State) calleeName(bin string, addr uint64) funcutil.Optional[string] {
	for _, l := range s.linkPadAt.Get(Site{bin, addr}) {
		return funcutil.Some(l.Name)
	}
	for _, e := range s.entryAt.Get(Site{bin, addr}) {
		return funcutil.Some(e.Name)
	}
	return funcutil.None[string]()
}

// functionNames returns the names of the functions containing (bin, addr).
func (s *State) functionNames(bin string, addr uint64) []string {
	var names []string
	for _, f := range s.funcAt.Get(Site{bin, addr}) {
		for _, e := range s.entryAt.Get(Site{bin, f.Entry}) {
			if !funcutil.Contains(names, e.Name) {
				names = append(names, e.Name)
			}
		}
	}
	return names
}
