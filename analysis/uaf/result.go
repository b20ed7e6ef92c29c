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
	"sort"
	"strings"
	"time"

	"github.com/awslabs/ar-bin-tools/analysis/callctx"
	"github.com/awslabs/ar-bin-tools/analysis/location"
	"github.com/awslabs/ar-bin-tools/internal/graphutil"
	"github.com/google/uuid"
)

// Grade is the classification of a finding in a benchmark binary.
type Grade int

const (
	// Ungraded findings are in functions that do not follow the _bad/_good naming convention, or grading is disabled.
	Ungraded Grade = iota
	TruePositive
	FalsePositive
)

func (g Grade) String() string {
	switch g {
	case TruePositive:
		return "true positive"
	case FalsePositive:
		return "false positive"
	default:
		return "ungraded"
	}
}

// Finding is a use of a freed object found by the path-alias analysis. A finding whose Witness is empty has no trace
// within the length bound: it may come from a context the traces cannot follow, or be a false positive of the
// context-insensitive joins. Set the witnessed-only option to drop those findings.
type Finding struct {
	// Source is the allocation site of the object.
	Source Site
	// Use is the instruction reading through the freed pointer.
	Use Site
	// Var is the location holding the freed pointer at Use.
	Var location.Var
	// Functions are the names of the functions containing Use.
	Functions []string
	// Contexts is the number of call contexts in which the use was found.
	Contexts int
	// Witness is a path from the allocation to the use. It is empty when no trace within the length bound reaches
	// the use.
	Witness []Site
	Grade   Grade
}

func (f Finding) String() string {
	return fmt.Sprintf("use of %s at %s, allocated at %s", f.Var, f.Use, f.Source)
}

// Result summarizes an analysis.
type Result struct {
	// RunID identifies the analysis run in the fact store.
	RunID uuid.UUID
	// Partial is true when the time limit stopped the analysis: the findings are then a lower bound.
	Partial bool
	Phases  []PhaseStats
	Elapsed time.Duration

	Findings []Finding
	// Witnessed is the number of findings confirmed by a trace.
	Witnessed      int
	TruePositives  int
	FalsePositives int
	// StackEscapes are the instructions storing a stack pointer where it cannot be tracked.
	StackEscapes []StackEscape
	// Functions is the number of function symbols, Recursive the number of those that are part of a cycle of the
	// call graph.
	Functions int
	Recursive int
}

type findingKey struct {
	src, use Site
	v        location.Var
}

// collect extracts the findings from the facts.
func (s *State) collect(res *Result) {
	byKey := map[findingKey]*Finding{}
	var keys []findingKey
	contexts := map[findingKey]map[callctx.ID]bool{}
	for _, f := range s.flows.All() {
		k := findingKey{src: Site{f.Src, f.SrcAddr}, use: Site{f.Bin, f.Addr}, v: f.Var}
		if _, ok := byKey[k]; !ok {
			names := s.functionNames(f.Bin, f.Addr)
			sort.Strings(names)
			byKey[k] = &Finding{Source: k.src, Use: k.use, Var: f.Var, Functions: names}
			keys = append(keys, k)
			contexts[k] = map[callctx.ID]bool{}
		}
		contexts[k][f.Ctx] = true
	}
	for _, u := range s.uafs.All() {
		k := findingKey{src: Site{u.Src, u.SrcAddr}, use: Site{u.Bin, u.Addr}, v: u.Var}
		f, ok := byKey[k]
		if !ok {
			continue
		}
		if w := s.witness(u.Trace); len(f.Witness) == 0 || shorter(w, f.Witness) {
			f.Witness = w
		}
	}
	for _, g := range s.truePositives.All() {
		grade(byKey, g, TruePositive)
	}
	for _, g := range s.falsePositives.All() {
		grade(byKey, g, FalsePositive)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	for _, k := range keys {
		f := byKey[k]
		if s.Config.WitnessedOnly && len(f.Witness) == 0 {
			continue
		}
		f.Contexts = len(contexts[k])
		res.Findings = append(res.Findings, *f)
		if len(f.Witness) > 0 {
			res.Witnessed++
		}
	}
	res.TruePositives = s.truePositives.Len()
	res.FalsePositives = s.falsePositives.Len()
	res.StackEscapes = append(res.StackEscapes, s.stackEscapes.All()...)
	sort.Slice(res.StackEscapes, func(i, j int) bool {
		a, b := res.StackEscapes[i], res.StackEscapes[j]
		return Site{a.Bin, a.Addr}.less(Site{b.Bin, b.Addr})
	})
	res.Functions = s.entries.Len()
	cg := s.CallGraph()
	res.Recursive = len(graphutil.Recursive(cg))
}

// grade sets the grade of the findings at the graded use. A finding graded both ways keeps the first grade.
func grade(byKey map[findingKey]*Finding, g Graded, value Grade) {
	for k, f := range byKey {
		if k.src == (Site{g.Src, g.SrcAddr}) && k.use == (Site{g.Bin, g.Addr}) && f.Grade == Ungraded {
			f.Grade = value
		}
	}
}

func (k findingKey) less(o findingKey) bool {
	if k.src != o.src {
		return k.src.less(o.src)
	}
	if k.use != o.use {
		return k.use.less(o.use)
	}
	return k.v.String() < o.v.String()
}

func (s Site) less(o Site) bool {
	if s.Bin != o.Bin {
		return s.Bin < o.Bin
	}
	return s.Addr < o.Addr
}

// shorter orders witnesses by length, then by their steps, so that the reported witness does not depend on the
// order in which traces were derived.
func shorter(a, b []Site) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i].less(b[i])
		}
	}
	return false
}

// witness returns the steps of the trace ending with id, from the allocation site.
func (s *State) witness(id callctx.TraceID) []Site {
	var steps []Site
	seen := map[callctx.TraceID]bool{}
	for id != callctx.TraceRoot && !seen[id] {
		seen[id] = true
		ts := s.traceByID.Get(id)
		if len(ts) == 0 {
			break
		}
		steps = append(steps, Site{ts[0].Bin, ts[0].Addr})
		id = ts[0].Prev
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}

// CallGraph returns the call graph of the functions of the loaded binaries, as resolved by the discovery phase.
// Nodes are labeled bin:function.
func (s *State) CallGraph() graphutil.CGraph {
	b := graphutil.NewBuilder()
	for _, e := range s.entries.All() {
		b.Node(functionLabel(e.Bin, e.Name))
	}
	for _, cs := range s.callSites.All() {
		callees := s.entryAt.Get(Site{cs.TargetBin, cs.Target})
		for _, caller := range s.functionNames(cs.Bin, cs.Addr) {
			for _, callee := range callees {
				b.Edge(functionLabel(cs.Bin, caller), functionLabel(callee.Bin, callee.Name))
			}
		}
	}
	return b.Graph()
}

// Graded returns true when the findings were classified by the grading phase.
func (r *Result) Graded() bool {
	for _, p := range r.Phases {
		if p.Name == gradingPhase {
			return true
		}
	}
	return false
}

func functionLabel(bin, name string) string {
	return bin + ":" + name
}

// String returns a one-line summary of the result.
func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d findings (%d witnessed)", len(r.Findings), r.Witnessed)
	if r.TruePositives+r.FalsePositives > 0 {
		fmt.Fprintf(&b, ", %d true positives, %d false positives", r.TruePositives, r.FalsePositives)
	}
	if r.Partial {
		b.WriteString(", partial")
	}
	return b.String()
}
