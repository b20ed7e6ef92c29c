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

// Package graphutil contains a small directed graph of labeled nodes, used to represent the call graph recovered
// from binaries, with adapters to the graph libraries the tools rely on: github.com/yourbasic/graph for strongly
// connected components and gonum for DOT export.
package graphutil

import (
	"sort"

	"gonum.org/v1/gonum/graph"
)

// CGraph is a directed graph whose nodes are numbered from 0 to Order()-1. It implements yourbasic's
// graph.Iterator and gonum's graph.Directed.
type CGraph struct {
	// order is the number of node ids of the graph, including those excluded from a subgraph.
	order int

	// IDMap maps from node IDs to CNodes.
	IDMap map[int64]CNode

	// Keys are all the node IDs, sorted.
	Keys []int64

	// Edges is an adjacency matrix: Edges[x][y] means there is a directed edge between IDMap[x] and IDMap[y].
	Edges map[int64]map[int64]bool
}

// Builder builds a CGraph from labeled nodes. Adding the same label twice returns the same node.
type Builder struct {
	ids    map[string]int64
	labels []string
	edges  map[int64]map[int64]bool
}

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{ids: map[string]int64{}, edges: map[int64]map[int64]bool{}}
}

// Node returns the id of the node labeled label, adding it if needed.
func (b *Builder) Node(label string) int64 {
	if id, ok := b.ids[label]; ok {
		return id
	}
	id := int64(len(b.labels))
	b.ids[label] = id
	b.labels = append(b.labels, label)
	b.edges[id] = map[int64]bool{}
	return id
}

// Edge adds an edge between the nodes labeled from and to.
func (b *Builder) Edge(from, to string) {
	x, y := b.Node(from), b.Node(to)
	b.edges[x][y] = true
}

// Graph returns the graph built so far.
func (b *Builder) Graph() CGraph {
	n := len(b.labels)
	idmap := make(map[int64]CNode, n)
	edges := make(map[int64]map[int64]bool, n)
	keys := make([]int64, n)
	for i, label := range b.labels {
		id := int64(i)
		keys[i] = id
		idmap[id] = CNode{id: id, Label: label}
		edges[id] = make(map[int64]bool, len(b.edges[id]))
		for w := range b.edges[id] {
			edges[id][w] = true
		}
	}
	return CGraph{order: n, IDMap: idmap, Keys: keys, Edges: edges}
}

// Subgraph returns a new graph that is the original graph with only the nodes in include. Only the edges that have
// both the origin and destination nodes in the include nodes are kept in the resulting graph.
// Node ids stay consistent across subgraphs.
func Subgraph(original CGraph, include []int64) CGraph {
	idmap := make(map[int64]CNode, len(include))
	edges := make(map[int64]map[int64]bool, len(include))
	keys := make([]int64, 0, len(include))

	for _, i := range include {
		if n, ok := original.IDMap[i]; ok {
			keys = append(keys, i)
			idmap[i] = n
		}
	}
	for _, i := range keys {
		edges[i] = map[int64]bool{}
		for e := range original.Edges[i] {
			if _, ok := idmap[e]; ok {
				edges[i][e] = true
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return CGraph{order: original.Order(), IDMap: idmap, Keys: keys, Edges: edges}
}

// Label returns the label of node id, or "" if the graph has no such node.
func (c CGraph) Label(id int64) string {
	return c.IDMap[id].Label
}

// Order implements the order of the graph.Iterator interface for the CGraph.
func (c CGraph) Order() int {
	return c.order
}

// Visit implements the graph.Iterator interface for the CGraph.
func (c CGraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	if _, ok := c.IDMap[int64(v)]; !ok {
		return false
	}
	for _, w := range sortedKeys(c.Edges[int64(v)]) {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// *************** Graph interface implementation **********************

// Node implements the Graph interface.
func (c CGraph) Node(id int64) graph.Node {
	n, ok := c.IDMap[id]
	if !ok {
		return nil
	}
	return n
}

// Nodes returns the set of nodes in the graph.
func (c CGraph) Nodes() graph.Nodes {
	return c.nodeSet(c.Keys)
}

// From returns the set of nodes reachable from the id in one step.
func (c CGraph) From(id int64) graph.Nodes {
	return c.nodeSet(sortedKeys(c.Edges[id]))
}

// To returns the set of nodes from which id is reachable in one step.
func (c CGraph) To(id int64) graph.Nodes {
	var ids []int64
	for _, k := range c.Keys {
		if c.Edges[k][id] {
			ids = append(ids, k)
		}
	}
	return c.nodeSet(ids)
}

// HasEdgeBetween returns a boolean indicating whether an edge exists between the two node identifiers.
func (c CGraph) HasEdgeBetween(xid, yid int64) bool {
	return c.Edges[xid][yid] || c.Edges[yid][xid]
}

// HasEdgeFromTo returns whether there is an edge from uid to vid.
func (c CGraph) HasEdgeFromTo(uid, vid int64) bool {
	return c.Edges[uid][vid]
}

// Edge returns the edge between the two identifiers (nil if none exists).
func (c CGraph) Edge(uid, vid int64) graph.Edge {
	if c.Edges[uid][vid] {
		return CEdge{from: c.IDMap[uid], to: c.IDMap[vid]}
	}
	return nil
}

func (c CGraph) nodeSet(ids []int64) *NodeSet {
	return &NodeSet{nodes: c.IDMap, ids: ids, cur: -1}
}

func sortedKeys(m map[int64]bool) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// *************** Nodes implementation **********************

// CNode is a labeled node of a CGraph.
type CNode struct {
	id     int64
	Label  string
	cyclic bool
}

// ID returns the id of the node.
func (n CNode) ID() int64 {
	return n.id
}

func (n CNode) String() string {
	return n.Label
}

// NodeSet implements the graph.Nodes interface, an iterator over a set of nodes.
type NodeSet struct {
	// nodes is the set of nodes in the iterator.
	nodes map[int64]CNode

	// ids is the set of node ids in the iterator.
	ids []int64

	// cur is the current index of the iterator. The current node is nodes[ids[cur]]. Before the first call to Next,
	// cur is -1.
	cur int
}

// Next moves the current node to the next, and returns true if such a node exists. Otherwise, returns false
// and the current node has not changed.
func (ns *NodeSet) Next() bool {
	if ns.cur < len(ns.ids)-1 {
		ns.cur++
		return true
	}
	return false
}

// Len returns the number of nodes left in the iterator.
func (ns *NodeSet) Len() int {
	return len(ns.ids) - ns.cur - 1
}

// Reset restarts the iteration.
func (ns *NodeSet) Reset() {
	ns.cur = -1
}

// Node return the current node in the set.
func (ns *NodeSet) Node() graph.Node {
	if ns.cur < 0 || ns.cur >= len(ns.ids) {
		return nil
	}
	return ns.nodes[ns.ids[ns.cur]]
}

// *************** Edge implementation **********************

// CEdge implements the graph.Edge interface.
type CEdge struct {
	from CNode
	to   CNode
}

// From returns the origin of the edge.
func (e CEdge) From() graph.Node {
	return e.from
}

// To returns the destination of the edge.
func (e CEdge) To() graph.Node {
	return e.to
}

// ReversedEdge returns a new value representing the reversed edge.
func (e CEdge) ReversedEdge() graph.Edge {
	return CEdge{from: e.to, to: e.from}
}
