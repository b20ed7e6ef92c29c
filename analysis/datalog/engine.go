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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awslabs/ar-bin-tools/analysis/config"
	"golang.org/x/sync/errgroup"
)

// ErrPhaseOrder is returned when a rule is registered while the engine is running a fixpoint.
var ErrPhaseOrder = errors.New("rule registered while a fixpoint is running")

// chunkSize is the number of facts handled by one task.
const chunkSize = 512

// Stats summarizes one call to Run.
type Stats struct {
	// Rounds is the number of rounds evaluated.
	Rounds int
	// Derived is the number of new facts (or changed lattice entries) committed.
	Derived int
	// Partial is true when the run stopped before reaching the fixpoint.
	Partial bool
	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

func (s Stats) String() string {
	partial := ""
	if s.Partial {
		partial = " (partial)"
	}
	return fmt.Sprintf("%d facts in %d rounds, %s%s", s.Derived, s.Rounds, s.Elapsed, partial)
}

// Engine evaluates rules over its relations to a fixpoint. Each round runs every rule on the facts committed by the
// previous round, then commits the derived facts at once. Rules of a round run in parallel over a read-only state;
// the engine is the only writer of committed state.
type Engine struct {
	logger  *config.LogGroup
	workers int

	mu        sync.Mutex
	running   bool
	relations []relation
}

// NewEngine returns an engine evaluating up to workers rule tasks in parallel. The logger may be nil.
func NewEngine(logger *config.LogGroup, workers int) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{logger: logger, workers: workers}
}

func (e *Engine) register(r relation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.relations = append(e.relations, r)
}

func (e *Engine) checkIdle() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrPhaseOrder
	}
	return nil
}

// Tables returns the relations of the engine, in creation order.
func (e *Engine) Tables() []Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	tables := make([]Table, len(e.relations))
	for i, r := range e.relations {
		tables[i] = r
	}
	return tables
}

// Size returns the total number of committed facts.
func (e *Engine) Size() int {
	n := 0
	for _, t := range e.Tables() {
		n += t.Len()
	}
	return n
}

// Run evaluates the rules to a fixpoint. If ctx is done before the fixpoint is reached, Run commits what has been
// derived so far and returns with Stats.Partial set; this is not an error. Calling Run again without new facts or
// rules derives nothing.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Stats{}, fmt.Errorf("engine already running")
	}
	e.running = true
	relations := e.relations
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	start := time.Now()
	stats := Stats{}
	commit := func() int {
		n := 0
		for _, r := range relations {
			n += r.commit()
		}
		return n
	}
	stats.Derived += commit()

	for {
		var tasks []task
		for _, r := range relations {
			tasks = append(tasks, r.tasks(chunkSize)...)
		}
		if len(tasks) == 0 {
			break
		}
		if ctx.Err() != nil {
			stats.Partial = true
			break
		}
		stopped := e.round(ctx, tasks)
		for _, r := range relations {
			r.settle()
		}
		n := commit()
		stats.Derived += n
		stats.Rounds++
		if e.logger != nil {
			e.logger.Debugf("round %d: %d tasks, %d new facts", stats.Rounds, len(tasks), n)
		}
		if stopped {
			stats.Partial = true
			break
		}
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// round runs the tasks and returns true if ctx was done before all of them completed.
func (e *Engine) round(ctx context.Context, tasks []task) bool {
	var stopped atomic.Bool
	stop := func() bool {
		if ctx.Err() != nil {
			stopped.Store(true)
			return true
		}
		return false
	}
	if e.workers == 1 {
		for _, t := range tasks {
			if stop() {
				break
			}
			t.run(stop)
		}
		return stopped.Load()
	}
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if stop() {
				return nil
			}
			t.run(stop)
			return nil
		})
	}
	_ = g.Wait()
	return stopped.Load()
}
