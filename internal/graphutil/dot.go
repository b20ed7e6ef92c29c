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
	"fmt"

	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
)

// DOTID returns the label of the node, used as its DOT identifier.
func (n CNode) DOTID() string {
	return n.Label
}

// Attributes implements encoding.Attributer. Nodes that belong to a cycle are drawn in red.
func (n CNode) Attributes() []encoding.Attribute {
	if n.cyclic {
		return []encoding.Attribute{{Key: "color", Value: "red"}}
	}
	return nil
}

// MarshalDOT renders the graph in the DOT language. Nodes belonging to a cycle are highlighted.
func MarshalDOT(cg CGraph, name string) ([]byte, error) {
	marked := CGraph{order: cg.order, IDMap: make(map[int64]CNode, len(cg.IDMap)), Keys: cg.Keys, Edges: cg.Edges}
	for id, n := range cg.IDMap {
		marked.IDMap[id] = n
	}
	for _, id := range Recursive(cg) {
		n := marked.IDMap[id]
		n.cyclic = true
		marked.IDMap[id] = n
	}
	b, err := dot.Marshal(marked, name, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render graph %s: %w", name, err)
	}
	return b, nil
}
