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

// relation is the part of a relation the engine drives between rounds.
type relation interface {
	Table
	// commit moves the facts derived during the round into the committed state, and returns the number of new
	// facts. The new facts become the delta seen by the rules in the next round.
	commit() int
	// tasks returns the rule evaluations of the next round
	tasks(chunk int) []task
	// settle marks every rule of the relation as having seen all committed facts
	settle()
}

// task evaluates a rule on a slice of facts.
type task struct {
	rule string
	run  func(stop func() bool)
}

type rule[T any] struct {
	name  string
	fn    func(T)
	fresh bool
}

// Relation is a monotonically growing set of facts of type T. Facts are inserted into a pending set and become
// visible to readers (Contains, All, indexes) only when the engine commits them between two rounds; readers therefore
// always see a consistent snapshot while rules run concurrently.
type Relation[T Fact] struct {
	name    string
	columns []string
	engine  *Engine

	facts map[T]struct{}
	order []T
	delta []T

	mu         sync.Mutex
	pending    []T
	pendingSet map[T]struct{}

	indexes []func(T)
	rules   []*rule[T]
}

// NewRelation creates a relation named name registered in the engine e.
func NewRelation[T Fact](e *Engine, name string, columns ...string) *Relation[T] {
	r := &Relation[T]{
		name:       name,
		columns:    columns,
		engine:     e,
		facts:      map[T]struct{}{},
		pendingSet: map[T]struct{}{},
	}
	e.register(r)
	return r
}

// Name returns the name of the relation.
func (r *Relation[T]) Name() string { return r.name }

// Columns returns the column names of the relation.
func (r *Relation[T]) Columns() []string { return r.columns }

// Len returns the number of committed facts.
func (r *Relation[T]) Len() int { return len(r.order) }

// Insert adds t to the relation. The fact is visible after the next commit. Insert is safe to call from rules
// running concurrently.
func (r *Relation[T]) Insert(t T) {
	if _, ok := r.facts[t]; ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingSet[t]; ok {
		return
	}
	r.pendingSet[t] = struct{}{}
	r.pending = append(r.pending, t)
}

// Contains returns true if t is a committed fact.
func (r *Relation[T]) Contains(t T) bool {
	_, ok := r.facts[t]
	return ok
}

// All returns the committed facts in insertion order. The returned slice must not be modified.
func (r *Relation[T]) All() []T {
	return r.order[:len(r.order):len(r.order)]
}

// Rows returns the committed facts rendered as rows.
func (r *Relation[T]) Rows() [][]Value {
	rows := make([][]Value, len(r.order))
	for i, t := range r.order {
		rows[i] = t.Row()
	}
	return rows
}

// On registers a rule triggered on each new fact of the relation. A rule registered after facts have been committed
// first runs on all of them. Rules must only read committed state and Insert derived facts; they run concurrently
// with other rules of the same round.
func (r *Relation[T]) On(name string, fn func(T)) error {
	if err := r.engine.checkIdle(); err != nil {
		return err
	}
	r.rules = append(r.rules, &rule[T]{name: r.name + "/" + name, fn: fn, fresh: true})
	return nil
}

func (r *Relation[T]) addIndex(f func(T)) {
	for _, t := range r.order {
		f(t)
	}
	r.indexes = append(r.indexes, f)
}

func (r *Relation[T]) commit() int {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.pendingSet = map[T]struct{}{}
	r.mu.Unlock()

	r.delta = r.delta[:0]
	for _, t := range pending {
		if _, ok := r.facts[t]; ok {
			continue
		}
		r.facts[t] = struct{}{}
		r.order = append(r.order, t)
		r.delta = append(r.delta, t)
		for _, index := range r.indexes {
			index(t)
		}
	}
	return len(r.delta)
}

func (r *Relation[T]) tasks(chunk int) []task {
	var res []task
	for _, ru := range r.rules {
		facts := r.delta
		if ru.fresh {
			facts = r.order
		}
		res = append(res, split(ru.name, facts, ru.fn, chunk)...)
	}
	return res
}

func (r *Relation[T]) settle() {
	for _, ru := range r.rules {
		ru.fresh = false
	}
}

// split turns the evaluation of fn on facts into tasks of at most chunk facts each.
func split[T any](name string, facts []T, fn func(T), chunk int) []task {
	var res []task
	for start := 0; start < len(facts); start += chunk {
		end := start + chunk
		if end > len(facts) {
			end = len(facts)
		}
		part := facts[start:end]
		res = append(res, task{
			rule: name,
			run: func(stop func() bool) {
				for i, t := range part {
					if i%64 == 0 && stop() {
						return
					}
					fn(t)
				}
			},
		})
	}
	return res
}
