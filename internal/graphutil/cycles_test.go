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

package graphutil_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/awslabs/ar-bin-tools/internal/funcutil"
	"github.com/awslabs/ar-bin-tools/internal/graphutil"
	"github.com/google/go-cmp/cmp"
	"github.com/yourbasic/graph"
)

// callGraph builds:
//
//	main -> a -> b -> c -> a
//	main -> d -> d
//	main -> e.
func callGraph() graphutil.CGraph {
	b := graphutil.NewBuilder()
	for _, e := range [][2]string{
		{"main", "a"}, {"a", "b"}, {"b", "c"}, {"c", "a"}, {"b", "a"},
		{"main", "d"}, {"d", "d"},
		{"main", "e"},
	} {
		b.Edge(e[0], e[1])
	}
	return b.Graph()
}

func labels(cg graphutil.CGraph, ids []int64) []string {
	return funcutil.Map(ids, cg.Label)
}

func TestFindAllElementaryCycles(t *testing.T) {
	cg := callGraph()
	stats := graph.Check(cg)
	if stats.Size != 8 || stats.Loops != 1 {
		t.Errorf("unexpected graph stats: size %d, loops %d", stats.Size, stats.Loops)
	}
	var results []string
	for _, cycle := range graphutil.FindAllElementaryCycles(cg) {
		results = append(results, strings.Join(labels(cg, cycle), "->"))
	}
	sort.Strings(results)
	expected := []string{"a->b->a", "a->b->c->a", "d->d"}
	if diff := cmp.Diff(expected, results); diff != "" {
		t.Errorf("unexpected cycles (-want +got):\n%s", diff)
	}
}

func TestRecursive(t *testing.T) {
	cg := callGraph()
	got := labels(cg, graphutil.Recursive(cg))
	sort.Strings(got)
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, got); diff != "" {
		t.Errorf("unexpected recursive functions (-want +got):\n%s", diff)
	}
}

func TestSubgraphKeepsIDs(t *testing.T) {
	cg := callGraph()
	b := graphutil.NewBuilder()
	ids := []int64{b.Node("main"), b.Node("a"), b.Node("b")}
	sub := graphutil.Subgraph(cg, ids)
	if sub.Order() != cg.Order() {
		t.Errorf("subgraph order %d, want %d", sub.Order(), cg.Order())
	}
	if !sub.HasEdgeFromTo(ids[1], ids[2]) || sub.HasEdgeFromTo(ids[0], 4) {
		t.Errorf("subgraph edges not restricted to included nodes: %v", sub.Edges)
	}
	if n := sub.Nodes().Len(); n != 3 {
		t.Errorf("subgraph has %d nodes, want 3", n)
	}
	if len(graphutil.Recursive(graphutil.Subgraph(cg, []int64{ids[0], ids[1]}))) != 0 {
		t.Errorf("main and a alone do not form a cycle")
	}
}

func TestNodeIterator(t *testing.T) {
	cg := callGraph()
	it := cg.From(0)
	var got []string
	for it.Next() {
		got = append(got, it.Node().(graphutil.CNode).Label)
	}
	if diff := cmp.Diff([]string{"a", "d", "e"}, got); diff != "" {
		t.Errorf("unexpected successors of main (-want +got):\n%s", diff)
	}
	it.Reset()
	if it.Len() != 3 {
		t.Errorf("reset iterator should have 3 nodes left, got %d", it.Len())
	}
}

func TestMarshalDOT(t *testing.T) {
	b, err := graphutil.MarshalDOT(callGraph(), "callgraph")
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}
	out := string(b)
	for _, want := range []string{"strict digraph callgraph {", "main -> a", "c -> a", "d [color=red]"} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "e [color=red]") {
		t.Errorf("e is not recursive:\n%s", out)
	}
}
