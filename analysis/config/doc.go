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
Package config provides a simple way to manage the configuration of the binary analyses.

Use [Load](filename) to load a configuration from a specific filename.

Use [SetGlobalConfig](filename) to set filename as the global config, and then [LoadGlobal]() to load the global config.

A config file should be in yaml format. The top-level fields can be any of the fields defined in the Config
struct type. For example, a valid config file is as follows:

	options:
	  log-level: 4
	  max-trace-length: 16
	  time-limit: 10m
	  skip-unresolved: true
	allocators: [malloc, xmalloc]
	deallocators: [free]
	consuming-functions:
	  - name: puts
	    arg: 0

Fields omitted from the file keep their default value (see [NewDefault]).

# Unsound options

The chop and trace bounds, the time limit and skip-unresolved all trade completeness for termination: with any of
them, the analysis may miss findings, but it never reports a finding that is not witnessed by a derivation.
*/
package config
