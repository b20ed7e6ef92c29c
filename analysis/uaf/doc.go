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

/*
Package uaf implements the use-after-free analysis of binaries. The main entry point of the analysis is the [Analyze]
function, which loads the facts of the programs in a fresh [State], runs the phases of the analysis and returns a
[Result] with the findings.

The analysis is a set of rules over the relations of a [datalog.Engine], run in phases:
  - discovery lifts the code reachable from the function symbols and resolves calls, including calls through import
    stubs into other loaded binaries;
  - routines classifies calls to allocators, deallocators, printf-like and consuming routines, and marks the calls
    that are stepped over;
  - constants finds the format strings of printf-like calls, and the arguments they read through;
  - path-alias tracks, for every allocation site, the locations that may hold the object in each bounded call
    context, and whether the object may have been freed. A use through a freed location is a flow;
  - return-join resumes returns in the empty context after every call site of the returning function;
  - trace and trace-resolution rebuild a witness path from the allocation to each use, within a length bound;
  - grading and stack-escape are optional benchmark checks.

The facts of a run can be dumped to YAML with [State.DumpTables] and summarized with [WriteReport].
*/
package uaf
