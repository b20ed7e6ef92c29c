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

// Package render implements a tool rendering the call graph of binaries.
// -cgout Given a path for a .dot file, writes the call graph discovered in the binaries in that file.
// -cycles Prints the elementary cycles of the call graph.
package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/uaf"
	"github.com/awslabs/ar-bin-tools/cmd/argot-bin/tools"
	"github.com/awslabs/ar-bin-tools/internal/formatutil"
	"github.com/awslabs/ar-bin-tools/internal/graphutil"
)

const usage = `Render the call graph of binaries.
Usage:
  argot-bin render [options] <binary or .deb path(s)>
Examples:
Write the call graph of a binary and the libraries it calls into
  % argot-bin render -cgout callgraph.dot ./a.out libfoo.so
Print the recursive cycles of the call graph
  % argot-bin render -cycles ./a.out
`

// Flags represents the parsed render sub-command flags.
type Flags struct {
	tools.CommonFlags
	cgOut  string
	cycles bool
}

// NewFlags returns the parsed render sub-command flags from args.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("render")
	cgOut := flags.FlagSet.String("cgout", "", "output file for call graph (standard output if not specified)")
	cycles := flags.FlagSet.Bool("cycles", false, "print the elementary cycles of the call graph")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{CommonFlags: common, cgOut: *cgOut, cycles: *cycles}, nil
}

// Run runs the discovery of the binaries and renders their call graph.
func Run(flags Flags) error {
	cfg, err := tools.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.Verbose {
		cfg.LogLevel = int(config.DebugLevel)
	}
	logger := config.NewLogGroup(cfg)
	ctx := context.Background()

	programs, err := tools.LoadPrograms(ctx, cfg, logger, flags.FlagSet.Args())
	if err != nil {
		return err
	}
	state := uaf.NewState(cfg, logger, programs)
	if _, err := state.Discover(ctx); err != nil {
		return err
	}
	cg := state.CallGraph()

	if flags.cycles {
		WriteCycles(os.Stdout, cg)
	}
	if flags.cgOut == "" && flags.cycles {
		return nil
	}
	b, err := graphutil.MarshalDOT(cg, "callgraph")
	if err != nil {
		return fmt.Errorf("could not render call graph: %w", err)
	}
	if flags.cgOut == "" {
		_, err = os.Stdout.Write(b)
		return err
	}
	if err := os.WriteFile(flags.cgOut, b, 0600); err != nil {
		return fmt.Errorf("could not write call graph: %w", err)
	}
	logger.Infof("Call graph with %d functions written in %s", cg.Order(), flags.cgOut)
	return nil
}

// WriteCycles prints the elementary cycles of cg, one per line.
func WriteCycles(w io.Writer, cg graphutil.CGraph) {
	cycles := graphutil.FindAllElementaryCycles(cg)
	fmt.Fprintf(w, "%s\n", formatutil.Bold(formatutil.Plural(len(cycles), "cycle")))
	for _, c := range cycles {
		labels := make([]string, len(c))
		for i, id := range c {
			labels[i] = formatutil.Sanitize(cg.Label(id))
		}
		fmt.Fprintf(w, "  %s\n", strings.Join(labels, " -> "))
	}
}
