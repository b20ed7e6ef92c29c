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

// Package datalog implements the fixpoint engine the analyses are written in: typed relations that only grow,
// lattice relations whose values only go up, hash indexes over committed facts, and rules triggered by new facts.
//
// Evaluation is semi-naive and round-based. In each round, every rule runs once on each fact committed in the
// previous round (a rule registered after facts were committed first runs on all of them). Facts derived during the
// round are deduplicated and committed together at the end of the round. Rules only read committed state, so they
// can run in parallel within a round.
//
// Analyses are staged by registering the rules of a phase, calling [Engine.Run] until it quiesces, then registering
// the rules of the next phase. A later phase can then rely on the relations of the earlier phases being complete,
// which is what makes negation over those relations safe. Registering a rule while a run is in progress returns
// [ErrPhaseOrder].
//
// A rule that joins two relations growing in the same phase must be registered on both of them.
package datalog
