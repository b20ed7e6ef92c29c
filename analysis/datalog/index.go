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

// Index is a hash index of the committed facts of a relation. It is updated when facts are committed, so lookups
// from rules always see the same snapshot as the relation itself.
type Index[K comparable, T any] struct {
	buckets map[K][]T
}

// Get returns the facts indexed under k, in commit order. The returned slice must not be modified.
func (ix *Index[K, T]) Get(k K) []T {
	b := ix.buckets[k]
	return b[:len(b):len(b)]
}

// Keys returns the number of distinct keys of the index.
func (ix *Index[K, T]) Keys() int {
	return len(ix.buckets)
}

func (ix *Index[K, T]) add(k K, t T) {
	ix.buckets[k] = append(ix.buckets[k], t)
}

// NewIndex indexes the facts of r by key. Facts already committed are indexed immediately. Indexes must be created
// between runs.
func NewIndex[K comparable, T Fact](r *Relation[T], key func(T) K) *Index[K, T] {
	ix := &Index[K, T]{buckets: map[K][]T{}}
	r.addIndex(func(t T) { ix.add(key(t), t) })
	return ix
}

// NewMultiIndex indexes each fact of r under all the keys returned by keys.
func NewMultiIndex[K comparable, T Fact](r *Relation[T], keys func(T) []K) *Index[K, T] {
	ix := &Index[K, T]{buckets: map[K][]T{}}
	r.addIndex(func(t T) {
		for _, k := range keys(t) {
			ix.add(k, t)
		}
	})
	return ix
}

// NewKeyIndex indexes the keys of the lattice l. The current value of a key is obtained with l.Get.
func NewKeyIndex[IK comparable, K Fact, V comparable](l *Lattice[K, V], key func(K) IK) *Index[IK, K] {
	ix := &Index[IK, K]{buckets: map[IK][]K{}}
	l.addIndex(func(k K) { ix.add(key(k), k) })
	return ix
}
