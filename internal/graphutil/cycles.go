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

package graphutil

import (
	"sort"

	"github.com/yourbasic/graph"
)

// FindAllElementaryCycles finds all elementary cycles in the graph CGraph
// This uses Donald B. Johnson's algorithm presented in
// "Finding All The Elementary Circuits of a Directed Graph", 1975
//
//	cg : the graph with cycles
//
// Self-loops are reported as cycles of length one.
func FindAllElementaryCycles(cg CGraph) [][]int64 {
	s := &state{
		blocked: map[int64]bool{},
		blist:   map[int64]map[int64]bool{},
		stack:   []int64{},
		cycles:  [][]int64{},
	}
	for _, k := range cg.Keys {
		if cg.Edges[k][k] {
			s.cycles = append(s.cycles, []int64{k, k})
		}
	}
	from := 0
	for from < len(cg.Keys) {
		fg := Subgraph(cg, cg.Keys[from:])
		start, ok := leastCyclicNode(fg)
		if !ok {
			break
		}
		s.stack = []int64{}
		s.blocked = map[int64]bool{}
		s.blist = map[int64]map[int64]bool{}
		s.circuit(start, start, Subgraph(fg, componentOf(fg, start)))
		from = sort.Search(len(cg.Keys), func(i int) bool { return cg.Keys[i] > start })
	}
	return s.cycles
}

// leastCyclicNode returns the smallest node of the graph that belongs to a strongly connected component with at
// least two nodes.
func leastCyclicNode(g CGraph) (int64, bool) {
	var best int64
	found := false
	for _, component := range graph.StrongComponents(g) {
		if len(component) < 2 {
			continue
		}
		for _, v := range component {
			if !found || int64(v) < best {
				best, found = int64(v), true
			}
		}
	}
	return best, found
}

// componentOf returns the nodes of the strongly connected component of v.
func componentOf(g CGraph, v int64) []int64 {
	for _, component := range graph.StrongComponents(g) {
		for _, w := range component {
			if int64(w) == v {
				res := make([]int64, len(component))
				for i, x := range component {
					res[i] = int64(x)
				}
				return res
			}
		}
	}
	return []int64{v}
}

// Recursive returns the nodes that belong to a cycle of the graph, sorted: the members of the strongly connected
// components with at least two nodes, and the nodes with a self-loop.
func Recursive(cg CGraph) []int64 {
	var res []int64
	for _, component := range graph.StrongComponents(cg) {
		for _, v := range component {
			if len(component) > 1 || cg.Edges[int64(v)][int64(v)] {
				if _, ok := cg.IDMap[int64(v)]; ok {
					res = append(res, int64(v))
				}
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

type state struct {
	blocked map[int64]bool
	blist   map[int64]map[int64]bool
	stack   []int64
	cycles  [][]int64
}

func (s *state) unblock(u int64) {
	s.blocked[u] = false
	for w := range s.blist[u] {
		delete(s.blist[u], w)
		if s.blocked[w] {
			s.unblock(w)
		}
	}
}

// circuit enumerates the cycles through i of the component g, starting from v.
func (s *state) circuit(v int64, i int64, g CGraph) bool {
	f := false
	s.stack = append(s.stack, v)
	s.blocked[v] = true
	for _, w := range sortedKeys(g.Edges[v]) {
		if w == v {
			continue
		}
		if w == i {
			cycle := make([]int64, len(s.stack), len(s.stack)+1)
			copy(cycle, s.stack)
			s.cycles = append(s.cycles, append(cycle, w))
			f = true
		} else if !s.blocked[w] {
			if s.circuit(w, i, g) {
				f = true
			}
		}
	}

	if f {
		s.unblock(v)
	} else {
		for w := range g.Edges[v] {
			if s.blist[w] == nil {
				s.blist[w] = map[int64]bool{}
			}
			s.blist[w][v] = true
		}
	}
	s.stack = s.stack[:len(s.stack)-1]
	return f
}
