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

package datalog

import (
	"sync"
)

// Entry is a key of a lattice relation with its current value.
type Entry[K Fact, V comparable] struct {
	Key   K
	Value V
}

// Lattice is a relation mapping keys to values of a join semi-lattice. Inserting (k, v) joins v into the value of k;
// the entry is new in the next round only when its value changed. Values therefore only grow, and a rule observing
// an entry may observe it again later with a larger value.
type Lattice[K Fact, V comparable] struct {
	name    string
	columns []string
	engine  *Engine
	join    func(V, V) V
	render  func(V) Value

	facts map[K]V
	order []K
	delta []Entry[K, V]

	mu      sync.Mutex
	pending map[K]V
	pendOrd []K

	indexes []func(K)
	rules   []*rule[Entry[K, V]]
}

// NewLattice creates a lattice relation registered in the engine e. join must be commutative, associative and
// idempotent; render turns values into the last column of the rows.
func NewLattice[K Fact, V comparable](e *Engine, name string, join func(V, V) V, render func(V) Value,
	columns ...string) *Lattice[K, V] {
	l := &Lattice[K, V]{
		name:    name,
		columns: columns,
		engine:  e,
		join:    join,
		render:  render,
		facts:   map[K]V{},
		pending: map[K]V{},
	}
	e.register(l)
	return l
}

// Name returns the name of the relation.
func (l *Lattice[K, V]) Name() string { return l.name }

// Columns returns the column names of the relation.
func (l *Lattice[K, V]) Columns() []string { return l.columns }

// Len returns the number of committed keys.
func (l *Lattice[K, V]) Len() int { return len(l.order) }

// Insert joins v into the value of k. The change is visible after the next commit.
func (l *Lattice[K, V]) Insert(k K, v V) {
	if old, ok := l.facts[k]; ok && l.join(old, v) == old {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.pending[k]; ok {
		l.pending[k] = l.join(old, v)
		return
	}
	l.pending[k] = v
	l.pendOrd = append(l.pendOrd, k)
}

// Get returns the committed value of k.
func (l *Lattice[K, V]) Get(k K) (V, bool) {
	v, ok := l.facts[k]
	return v, ok
}

// All returns the committed entries in the order their keys were first inserted.
func (l *Lattice[K, V]) All() []Entry[K, V] {
	res := make([]Entry[K, V], len(l.order))
	for i, k := range l.order {
		res[i] = Entry[K, V]{Key: k, Value: l.facts[k]}
	}
	return res
}

// Rows returns the committed entries rendered as rows.
func (l *Lattice[K, V]) Rows() [][]Value {
	rows := make([][]Value, len(l.order))
	for i, k := range l.order {
		rows[i] = append(k.Row(), l.render(l.facts[k]))
	}
	return rows
}

// On registers a rule triggered on each new or changed entry.
func (l *Lattice[K, V]) On(name string, fn func(Entry[K, V])) error {
	if err := l.engine.checkIdle(); err != nil {
		return err
	}
	l.rules = append(l.rules, &rule[Entry[K, V]]{name: l.name + "/" + name, fn: fn, fresh: true})
	return nil
}

func (l *Lattice[K, V]) addIndex(f func(K)) {
	for _, k := range l.order {
		f(k)
	}
	l.indexes = append(l.indexes, f)
}

func (l *Lattice[K, V]) commit() int {
	l.mu.Lock()
	pending, order := l.pending, l.pendOrd
	l.pending, l.pendOrd = map[K]V{}, nil
	l.mu.Unlock()

	l.delta = l.delta[:0]
	for _, k := range order {
		v := pending[k]
		old, ok := l.facts[k]
		if !ok {
			l.facts[k] = v
			l.order = append(l.order, k)
			for _, index := range l.indexes {
				index(k)
			}
			l.delta = append(l.delta, Entry[K, V]{Key: k, Value: v})
			continue
		}
		if j := l.join(old, v); j != old {
			l.facts[k] = j
			l.delta = append(l.delta, Entry[K, V]{Key: k, Value: j})
		}
	}
	return len(l.delta)
}

func (l *Lattice[K, V]) tasks(chunk int) []task {
	var res []task
	for _, ru := range l.rules {
		facts := l.delta
		if ru.fresh {
			facts = l.All()
		}
		res = append(res, split(ru.name, facts, ru.fn, chunk)...)
	}
	return res
}

func (l *Lattice[K, V]) settle() {
	for _, ru := range l.rules {
		ru.fresh = false
	}
}

// Or is the join of the boolean lattice false < true.
func Or(a, b bool) bool { return a || b }
