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
	"context"
	"fmt"
	"time"

	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/datalog"
	"github.com/awslabs/ar-bin-tools/analysis/loader"
	"github.com/google/uuid"
)

// A phase registers rules, then runs the engine until they quiesce. Phases run in order: the rules of a phase
// consume relations that are only complete once the earlier phases have quiesced.
type phase struct {
	name    string
	enabled func(*config.Config) bool
	rules   func(*State) error
	done    string
}

const gradingPhase = "grading"

var phases = []phase{
	{
		name:  "discovery",
		rules: func(s *State) error { s.seedDiscovery(); return s.discoveryRules() },
		done:  "Basic analysis complete",
	},
	{
		name:  "routines",
		rules: (*State).skipRules,
		done:  "Call classification complete",
	},
	{
		name:    "constants",
		enabled: func(c *config.Config) bool { return c.ConstantPropagation },
		rules:   (*State).constantRules,
		done:    "Constant propagation complete",
	},
	{
		name:  "path-alias",
		rules: (*State).aliasRules,
		done:  "Path alias analysis complete",
	},
	{
		name:  "return-join",
		rules: (*State).returnJoinRules,
		done:  "Empty stack returns resolved",
	},
	{
		name:  "trace",
		rules: (*State).traceRules,
		done:  "Trace propagation complete",
	},
	{
		name:  "trace-resolution",
		rules: (*State).traceAliasRules,
		done:  "Trace resolution complete",
	},
	{
		name:    gradingPhase,
		enabled: func(c *config.Config) bool { return c.Grade },
		rules:   (*State).gradingRules,
		done:    "Grading complete",
	},
	{
		name:    "stack-escape",
		enabled: func(c *config.Config) bool { return c.CheckStackEscape },
		rules:   (*State).escapeRules,
		done:    "Stack escape check complete",
	},
}

// PhaseStats are the statistics of the run of one phase.
type PhaseStats struct {
	Name string
	datalog.Stats
}

// Analyze runs the use-after-free analysis on the programs. If the time limit of the configuration is hit, or ctx is
// done, the analysis stops and returns the facts derived so far with Result.Partial set: the findings are then a
// lower bound.
func Analyze(ctx context.Context, cfg *config.Config, logger *config.LogGroup,
	programs []loader.Program) (*State, *Result, error) {
	s := NewState(cfg, logger, programs)
	res, err := s.Run(ctx)
	return s, res, err
}

// Run runs the phases of the analysis in order. A State can only be run once.
func (s *State) Run(ctx context.Context) (*Result, error) {
	if s.Config.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.TimeLimit)
		defer cancel()
	}
	res := &Result{RunID: uuid.New()}
	start := time.Now()
	for _, p := range phases {
		if p.enabled != nil && !p.enabled(s.Config) {
			continue
		}
		stats, err := s.runPhase(ctx, p)
		if err != nil {
			return nil, err
		}
		res.Phases = append(res.Phases, PhaseStats{Name: p.name, Stats: stats})
		if stats.Partial {
			res.Partial = true
			break
		}
	}
	res.Elapsed = time.Since(start)
	s.collect(res)
	return res, nil
}

// Discover only runs the discovery phase, which is enough to build the call graph of the programs.
func (s *State) Discover(ctx context.Context) (datalog.Stats, error) {
	return s.runPhase(ctx, phases[0])
}

func (s *State) runPhase(ctx context.Context, p phase) (datalog.Stats, error) {
	if err := p.rules(s); err != nil {
		return datalog.Stats{}, fmt.Errorf("failed to register rules of phase %s: %w", p.name, err)
	}
	stats, err := s.engine.Run(ctx)
	if err != nil {
		return stats, fmt.Errorf("phase %s failed: %w", p.name, err)
	}
	if stats.Partial {
		s.Logger.Warnf("Time limit reached during phase %s, results are partial", p.name)
	} else {
		s.Logger.Infof("%s (%s)", p.done, stats)
	}
	return stats, nil
}
