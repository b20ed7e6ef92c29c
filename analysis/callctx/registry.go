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

package callctx

import (
	"sync"
)

// A Registry maps identifiers back to the stacks they were computed from. Relations only store identifiers; the
// registry is how rules recover the frames of a context when they need to pop it.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stacks map[ID]*Stack
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stacks: map[ID]*Stack{}}
}

// Intern records s and returns its identifier. The first stack interned for an identifier wins: two distinct stacks
// whose hashes collide are merged into the same context.
func (r *Registry) Intern(s *Stack) ID {
	if s == nil {
		return EmptyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stacks[s.id]; !ok {
		r.stacks[s.id] = s
	}
	return s.id
}

// Push interns the stack obtained by pushing frame onto the stack identified by parent. The parent must have been
// interned before, except for the empty stack.
func (r *Registry) Push(parent ID, frame Frame) (ID, bool) {
	p, ok := r.Get(parent)
	if !ok {
		return EmptyID, false
	}
	return r.Intern(p.Push(frame)), true
}

// Get returns the stack with identifier id. The empty identifier always resolves to the empty stack.
func (r *Registry) Get(id ID) (*Stack, bool) {
	if id == EmptyID {
		return nil, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stacks[id]
	return s, ok
}

// Len returns the number of non-empty stacks in the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stacks)
}
