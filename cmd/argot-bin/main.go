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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/ar-bin-tools/analysis"
	"github.com/awslabs/ar-bin-tools/cmd/argot-bin/render"
	"github.com/awslabs/ar-bin-tools/cmd/argot-bin/tools"
	"github.com/awslabs/ar-bin-tools/cmd/argot-bin/uaf"
)

const usage = `Argot-bin: Automated Reasoning tools for binaries
Usage:
  argot-bin [tool] [options] <binary or .deb path(s)>
Tools:
  - uaf: finds uses of freed heap objects, across the functions of the binaries and the libraries they call into
  - render: renders the call graph discovered in the binaries, and its cycles
Examples:
  Run the use-after-free analysis: argot-bin uaf -config config.yaml ./a.out libfoo.so
  Render the call graph: argot-bin render -cgout callgraph.dot ./a.out`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "error: expected subcommand\n%s\n", usage)
		os.Exit(2)
	}

	// hardcode help flag.
	if snd := os.Args[1]; snd == "-help" || snd == "--help" {
		fmt.Println(usage)
		return
	}

	// hardcode version flag.
	if snd := os.Args[1]; snd == "-version" || snd == "--version" {
		fmt.Println(analysis.Version)
		return
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "uaf":
		flags, err := uaf.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := uaf.Run(flags); err != nil {
			errExit(err)
		}
	case "render":
		flags, err := render.NewFlags(args)
		if err != nil {
			errExit(err)
		}
		if err := render.Run(flags); err != nil {
			errExit(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unexpected command: %v\n", cmd)
		fmt.Fprintf(os.Stderr, "usage:\n%s\n", usage)
		os.Exit(2)
	}
}

func errExit(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	hint := tools.HintForErrorMessage(err.Error())
	if hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	os.Exit(2)
}
