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
	"context"
	"testing"

	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/loader"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/google/go-cmp/cmp"
)

const mainBin = "main.bin"

// freeThenStore frees an object, then writes through a copy of the pointer.
func freeThenStore(p *fakeProgram, name string, f uint64) {
	p.function(name, f,
		call(stubMalloc),
		mov(rbx, rax),
		mov(rdi, rax),
		call(stubFree),
		storeThrough(rbx),
		ret())
}

func TestAnalyze_useAfterFree(t *testing.T) {
	p := newProgram(mainBin)
	f := uint64(0x1000)
	freeThenStore(p, "uaf", f)
	_, res := analyze(t, testConfig(), p)

	want := []Finding{{
		Source:    Site{mainBin, at(f, 0)},
		Use:       Site{mainBin, at(f, 4)},
		Var:       location.Register(rbx),
		Functions: []string{"uaf"},
		Contexts:  1,
		Witness: []Site{{mainBin, at(f, 0)}, {mainBin, at(f, 1)}, {mainBin, at(f, 2)}, {mainBin, at(f, 3)},
			{mainBin, at(f, 4)}},
	}}
	if diff := cmp.Diff(want, res.Findings); diff != "" {
		t.Errorf("unexpected findings (-want +got):\n%s", diff)
	}
	if res.Witnessed != 1 {
		t.Errorf("expected the finding to be witnessed, got %d witnessed", res.Witnessed)
	}
	if res.Partial {
		t.Errorf("analysis without time limit should not be partial")
	}
}

func TestAnalyze_useBeforeFree(t *testing.T) {
	p := newProgram(mainBin)
	p.function("use_then_free", 0x1000,
		call(stubMalloc),
		mov(rdi, rax),
		storeThrough(rax),
		call(stubFree),
		ret())
	_, res := analyze(t, testConfig(), p)
	if len(res.Findings) != 0 {
		t.Errorf("expected no finding, got %v", res.Findings)
	}
}

func TestAnalyze_unreachableUse(t *testing.T) {
	p := newProgram(mainBin)
	f := uint64(0x1000)
	p.function("skip_use", f,
		call(stubMalloc),
		mov(rdi, rax),
		mov(rbx, rax),
		call(stubFree),
		jmp(at(f, 6)),
		storeThrough(rbx),
		ret())
	s, res := analyze(t, testConfig(), p)
	if len(res.Findings) != 0 {
		t.Errorf("expected no finding, got %v", res.Findings)
	}
	if s.sema(mainBin, at(f, 5)) != nil {
		t.Errorf("instruction after the jump should not be live")
	}
}

func TestAnalyze_reallocation(t *testing.T) {
	p := newProgram(mainBin)
	p.function("realloc", 0x1000,
		call(stubMalloc),
		spill(-8, rax),
		mov(rdi, rax),
		call(stubFree),
		call(stubMalloc),
		spill(-8, rax),
		reload(rax, -8),
		storeThrough(rax),
		ret())
	_, res := analyze(t, testConfig(), p)
	if len(res.Findings) != 0 {
		t.Errorf("store through the second allocation is not a use after free, got %v", res.Findings)
	}
}

func TestAnalyze_reallocationInLoop(t *testing.T) {
	p := newProgram(mainBin)
	f := uint64(0x1000)
	p.function("loop", f,
		call(stubMalloc),
		spill(-8, rax),
		reload(rax, -8),
		storeThrough(rax),
		reload(rdi, -8),
		call(stubFree),
		je(at(f, 0)),
		ret())
	s, res := analyze(t, testConfig(), p)
	if len(res.Findings) != 0 {
		t.Errorf("each iteration writes through a fresh allocation, got %v", res.Findings)
	}
	seed := AliasKey{Src: mainBin, SrcAddr: f, Ctx: callctx.EmptyID, Bin: mainBin, Addr: at(f, 1),
		Var: location.Register(rax)}
	if freed, ok := s.pathAlias.Get(seed); !ok || freed {
		t.Errorf("allocation seed should be live and not freed, got %v (present: %v)", freed, ok)
	}
	// the pointer freed in the previous iteration still reaches the allocation.
	stale := AliasKey{Src: mainBin, SrcAddr: f, Ctx: callctx.EmptyID, Bin: mainBin, Addr: at(f, 1),
		Var: location.Register(rdi)}
	if freed, _ := s.pathAlias.Get(stale); !freed {
		t.Errorf("pointer freed in the previous iteration should stay freed")
	}
	checkFreeUpgrade(t, s)
}

func TestAnalyze_loopTerminates(t *testing.T) {
	p := newProgram(mainBin)
	f := uint64(0x1000)
	p.function("loop", f,
		call(stubMalloc),
		mov(rbx, rax),
		mov(rdi, rbx),
		call(stubFree),
		storeThrough(rbx),
		je(at(f, 0)),
		ret())
	s, res := analyze(t, testConfig(), p)
	if !containsSite(useSites(res), Site{mainBin, at(f, 4)}) {
		t.Errorf("expected a finding at %#x, got %v", at(f, 4), res.Findings)
	}
	checkFreeUpgrade(t, s)
}

func TestAnalyze_recursionTerminates(t *testing.T) {
	p := newProgram(mainBin)
	f := uint64(0x1000)
	p.function("rec", f,
		call(stubMalloc),
		mov(rdi, rax),
		call(stubFree),
		storeThrough(rdi),
		call(f),
		ret())
	s, res := analyze(t, testConfig(), p)
	if !containsSite(useSites(res), Site{mainBin, at(f, 3)}) {
		t.Errorf("expected a finding at %#x, got %v", at(f, 3), res.Findings)
	}
	if res.Recursive != 1 {
		t.Errorf("expected one recursive function, got %d", res.Recursive)
	}
	// a frame is never pushed twice on a context.
	for _, e := range s.pathAlias.All() {
		stack, ok := s.stacks.Get(e.Key.Ctx)
		if !ok {
			t.Fatalf("unknown context %s", e.Key.Ctx)
		}
		seen := map[callctx.Frame]bool{}
		for _, fr := range stack.Frames() {
			if seen[fr] {
				t.Errorf("frame %s pushed twice in %s", fr, stack)
			}
			seen[fr] = true
		}
	}
}

// nestedFree frees the object two calls deep, then writes through it in the caller.
func nestedFree() (*fakeProgram, uint64) {
	p := newProgram(mainBin)
	main, f, g := uint64(0x1000), uint64(0x1100), uint64(0x1200)
	p.function("main", main,
		call(stubMalloc),
		mov(rdi, rax),
		mov(rbx, rax),
		call(f),
		storeThrough(rbx),
		ret())
	p.function("f", f,
		call(g),
		ret())
	p.function("g", g,
		call(stubFree),
		ret())
	return p, at(main, 4)
}

func TestAnalyze_interprocedural(t *testing.T) {
	p, use := nestedFree()
	s, res := analyze(t, testConfig(), p)
	if diff := cmp.Diff([]Site{{mainBin, use}}, useSites(res)); diff != "" {
		t.Errorf("unexpected uses (-want +got):\n%s", diff)
	}
	if res.Witnessed != 1 {
		t.Errorf("expected the finding to be witnessed, got %d", res.Witnessed)
	}
	// the witness enters f and g and returns through both.
	if n := len(res.Findings[0].Witness); n != 9 {
		t.Errorf("expected a witness of 9 steps, got %v", res.Findings[0].Witness)
	}
	checkFreeUpgrade(t, s)
	checkChops(t, s, 3)
}

func TestAnalyze_returnToCallers(t *testing.T) {
	p := newProgram(mainBin)
	main, alloc := uint64(0x1000), uint64(0x1100)
	p.function("main", main,
		call(alloc),
		mov(rdi, rax),
		mov(rbx, rax),
		call(stubFree),
		storeThrough(rbx),
		ret())
	p.function("alloc", alloc,
		call(stubMalloc),
		ret())
	_, res := analyze(t, testConfig(), p)
	if len(res.Findings) != 1 {
		t.Fatalf("expected one finding, got %v", res.Findings)
	}
	got := res.Findings[0]
	if got.Source != (Site{mainBin, alloc}) || got.Use != (Site{mainBin, at(main, 4)}) {
		t.Errorf("unexpected finding %v", got)
	}
	want := []Site{{mainBin, alloc}, {mainBin, at(alloc, 1)}, {mainBin, at(main, 1)}, {mainBin, at(main, 2)},
		{mainBin, at(main, 3)}, {mainBin, at(main, 4)}}
	if diff := cmp.Diff(want, got.Witness); diff != "" {
		t.Errorf("unexpected witness (-want +got):\n%s", diff)
	}
	if res.Witnessed != 1 {
		t.Errorf("expected the finding to be witnessed, got %d", res.Witnessed)
	}
}

func TestAnalyze_chopLimit(t *testing.T) {
	p, _ := nestedFree()
	cfg := testConfig()
	cfg.MaxChop = 1
	s, res := analyze(t, cfg, p)
	if len(res.Findings) != 0 {
		t.Errorf("free beyond the chop limit should not be found, got %v", res.Findings)
	}
	checkChops(t, s, 1)
}

func TestAnalyze_shortTraces(t *testing.T) {
	p, _ := nestedFree()
	cfg := testConfig()
	cfg.MaxTraceLength = 4
	s, res := analyze(t, cfg, p)
	if len(res.Findings) != 1 {
		t.Fatalf("expected one finding, got %v", res.Findings)
	}
	if res.Witnessed != 0 || len(res.Findings[0].Witness) != 0 {
		t.Errorf("witness should not fit in 4 steps, got %v", res.Findings[0].Witness)
	}
	for _, tr := range s.traces.All() {
		if tr.Len > 4 {
			t.Errorf("trace step %v exceeds the length bound", tr)
		}
	}

	cfg.WitnessedOnly = true
	_, res = analyze(t, cfg, p)
	if len(res.Findings) != 0 {
		t.Errorf("unwitnessed finding should be dropped, got %v", res.Findings)
	}
}

func TestAnalyze_crossBinary(t *testing.T) {
	lib := newProgram("lib.so")
	lib.function("release", 0x1000,
		call(stubFree),
		ret())
	p := newProgram(mainBin, "release")
	f := uint64(0x1000)
	p.function("main", f,
		call(stubMalloc),
		mov(rdi, rax),
		mov(rbx, rax),
		call(p.stub("release")),
		storeThrough(rbx),
		ret())
	s, res := analyze(t, testConfig(), p, lib)

	want := []CallSite{{Bin: mainBin, Addr: at(f, 3), TargetBin: "lib.so", Target: 0x1000}}
	if diff := cmp.Diff(want, s.callSites.All()); diff != "" {
		t.Errorf("unexpected call sites (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Site{{mainBin, at(f, 4)}}, useSites(res)); diff != "" {
		t.Errorf("unexpected uses (-want +got):\n%s", diff)
	}
}

func TestAnalyze_duplicateNames(t *testing.T) {
	a, b := newProgram(mainBin), newProgram(mainBin)
	freeThenStore(a, "uaf", 0x1000)
	s, res := analyze(t, testConfig(), a, b)
	if _, ok := s.Program(mainBin + "#2"); !ok {
		t.Errorf("second program should be renamed")
	}
	if len(res.Findings) != 1 || res.Findings[0].Use.Bin != mainBin {
		t.Errorf("expected one finding in the first program, got %v", res.Findings)
	}
}

func TestAnalyze_consumingRoutines(t *testing.T) {
	p := newProgram(mainBin)
	p.rodata("value: %s\x00")
	show, say := uint64(0x1000), uint64(0x1100)
	p.function("show", show,
		call(stubMalloc),
		mov(rsi, rax),
		mov(rdi, rax),
		call(stubFree),
		movImm(rdi, rodataStart),
		call(stubPrintf),
		ret())
	p.function("say", say,
		call(stubMalloc),
		mov(rdi, rax),
		mov(rbx, rax),
		call(stubFree),
		mov(rdi, rbx),
		call(stubPuts),
		ret())

	s, res := analyze(t, testConfig(), p)
	var got []string
	for _, f := range res.Findings {
		got = append(got, f.Use.String()+" "+f.Var.String())
	}
	want := []string{"main.bin@0x1014 RSI", "main.bin@0x1114 RDI"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected findings (-want +got):\n%s", diff)
	}
	if !s.possStrings.Contains(PossString{Bin: mainBin, Addr: rodataStart, Str: "value: %s"}) {
		t.Errorf("format string not found, got %v", s.possStrings.All())
	}

	cfg := testConfig()
	cfg.ConstantPropagation = false
	_, res = analyze(t, cfg, p)
	if diff := cmp.Diff([]Site{{mainBin, at(say, 5)}}, useSites(res)); diff != "" {
		t.Errorf("without constants only the consuming routine is a use (-want +got):\n%s", diff)
	}
}

func TestAnalyze_heapLoads(t *testing.T) {
	p := newProgram(mainBin)
	f := uint64(0x1000)
	p.function("field", f,
		loadThrough(rbx, rdi),
		mov(rdi, rbx),
		call(stubFree),
		storeThrough(rbx),
		ret())

	_, res := analyze(t, testConfig(), p)
	if len(res.Findings) != 0 {
		t.Errorf("loads are not sources by default, got %v", res.Findings)
	}
	cfg := testConfig()
	cfg.SeedHeapLoads = true
	_, res = analyze(t, cfg, p)
	if len(res.Findings) != 1 {
		t.Fatalf("expected one finding, got %v", res.Findings)
	}
	if got := res.Findings[0]; got.Source != (Site{mainBin, f}) || got.Use != (Site{mainBin, at(f, 3)}) {
		t.Errorf("unexpected finding %v", got)
	}
	if res.Witnessed != 1 {
		t.Errorf("expected the finding to be witnessed")
	}
}

func TestAnalyze_grading(t *testing.T) {
	p := newProgram(mainBin)
	bad, good, caller, sink := uint64(0x1000), uint64(0x1100), uint64(0x1200), uint64(0x1300)
	freeThenStore(p, "CWE416_malloc_01_bad", bad)
	freeThenStore(p, "CWE416_malloc_01_good", good)
	p.function("CWE416_malloc_02_bad", caller,
		call(stubMalloc),
		mov(rdi, rax),
		mov(rbx, rax),
		call(stubFree),
		mov(rdi, rbx),
		call(sink),
		ret())
	p.function("sink", sink,
		storeThrough(rdi),
		ret())

	cfg := testConfig()
	cfg.Grade = true
	_, res := analyze(t, cfg, p)
	got := map[Site]Grade{}
	for _, f := range res.Findings {
		got[f.Use] = f.Grade
	}
	want := map[Site]Grade{
		{mainBin, at(bad, 4)}:  TruePositive,
		{mainBin, at(good, 4)}: FalsePositive,
		{mainBin, sink}:        TruePositive,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected grades (-want +got):\n%s", diff)
	}
	if res.TruePositives != 2 || res.FalsePositives != 1 {
		t.Errorf("expected 2 true and 1 false positives, got %d and %d", res.TruePositives, res.FalsePositives)
	}
}

func TestAnalyze_stackEscape(t *testing.T) {
	p := newProgram(mainBin)
	leak, keep := uint64(0x1000), uint64(0x1100)
	p.function("leak", leak,
		mov(rax, rsp),
		scaledStore(rdi, rax),
		ret())
	p.function("keep", keep,
		mov(rax, rsp),
		spill(-8, rax),
		ret())
	cfg := testConfig()
	cfg.CheckStackEscape = true
	_, res := analyze(t, cfg, p)
	want := []StackEscape{{Bin: mainBin, Func: leak, Addr: at(leak, 1)}}
	if diff := cmp.Diff(want, res.StackEscapes); diff != "" {
		t.Errorf("unexpected escapes (-want +got):\n%s", diff)
	}
}

func TestAnalyze_idempotent(t *testing.T) {
	p, _ := nestedFree()
	s, _ := analyze(t, testConfig(), p)
	size := s.engine.Size()
	stats, err := s.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if stats.Derived != 0 || s.engine.Size() != size {
		t.Errorf("rerun derived %d facts", stats.Derived)
	}
}

func TestAnalyze_deterministic(t *testing.T) {
	run := func(workers int) []Finding {
		p, _ := nestedFree()
		freeThenStore(p, "uaf", 0x2000)
		cfg := testConfig()
		cfg.Workers = workers
		_, res := analyze(t, cfg, p)
		return res.Findings
	}
	if diff := cmp.Diff(run(1), run(4)); diff != "" {
		t.Errorf("findings depend on the number of workers (-1 +4):\n%s", diff)
	}
}

func TestAnalyze_cancelled(t *testing.T) {
	p, _ := nestedFree()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig()
	_, res, err := Analyze(ctx, cfg, quietLogger(cfg), []loader.Program{p})
	if err != nil {
		t.Fatalf("cancelled analysis should not fail: %v", err)
	}
	if !res.Partial {
		t.Errorf("cancelled analysis should be partial")
	}
}

// checkFreeUpgrade checks that the states of an object at a free site holding the argument of the call are all freed
// after the call, except the return register.
func checkFreeUpgrade(t *testing.T, s *State) {
	t.Helper()
	for _, e := range s.pathAlias.All() {
		k := e.Key
		if len(s.freeAt.Get(Site{k.Bin, k.Addr})) == 0 || k.Var != location.Register(rdi) {
			continue
		}
		fall := s.sema(k.Bin, k.Addr).Fall
		for _, o := range s.aliasGroup.Get(k.group()) {
			if o.Var == location.Register(rax) {
				continue
			}
			after := o.moved(o.Ctx, o.Chop, o.Bin, fall, o.Var)
			if freed, _ := s.pathAlias.Get(after); !freed {
				t.Errorf("state %v is not freed after the call to free", after)
			}
		}
	}
}

func checkChops(t *testing.T, s *State, limit int) {
	t.Helper()
	for _, e := range s.pathAlias.All() {
		if e.Key.Chop.Len() > limit {
			t.Errorf("state %v exceeds the chop limit", e.Key)
		}
	}
}

func containsSite(sites []Site, site Site) bool {
	for _, s := range sites {
		if s == site {
			return true
		}
	}
	return false
}
