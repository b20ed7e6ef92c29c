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

// Package tools contains utility types and functions for the argot-bin tool frontends.
package tools

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/loader"
)

// UnparsedCommonFlags represents an unparsed CLI sub-command flags.
type UnparsedCommonFlags struct {
	FlagSet    *flag.FlagSet
	ConfigPath *string
	Verbose    *bool
}

// NewUnparsedCommonFlags returns an unparsed flag set with a given name.
// This is useful for creating sub-commands that have the flags -config and -verbose but need other flags in
// addition.
func NewUnparsedCommonFlags(name string) UnparsedCommonFlags {
	cmd := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := cmd.String("config", "", "config file path for analysis (default configuration if empty)")
	verbose := cmd.Bool("verbose", false, "verbose printing on standard output")
	return UnparsedCommonFlags{
		FlagSet:    cmd,
		ConfigPath: configPath,
		Verbose:    verbose,
	}
}

// CommonFlags represents a parsed CLI sub-command flags.
// E.g., for the command `argot-bin uaf ...`, "uaf" is the sub-command.
type CommonFlags struct {
	FlagSet    *flag.FlagSet
	ConfigPath string
	Verbose    bool
}

// Parse parses args and returns the common flags.
func (u UnparsedCommonFlags) Parse(args []string) (CommonFlags, error) {
	if err := u.FlagSet.Parse(args); err != nil {
		return CommonFlags{}, fmt.Errorf("failed to parse command %s with args %v: %v", u.FlagSet.Name(), args, err)
	}
	return CommonFlags{
		FlagSet:    u.FlagSet,
		ConfigPath: *u.ConfigPath,
		Verbose:    *u.Verbose,
	}, nil
}

// IsSet returns true when the flag name was given on the command line.
func (c CommonFlags) IsSet(name string) bool {
	set := false
	c.FlagSet.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// SetUsage sets cmd's usage (for --help flag) to output the string cmdUsage
// followed by each flag's documentation.
func SetUsage(cmd *flag.FlagSet, cmdUsage string) {
	cmd.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n", cmdUsage)
		fmt.Fprintf(os.Stderr, "Options:\n")
		cmd.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  %s: %s (default: %q)\n", f.Name, f.Usage, f.DefValue)
		})
	}
}

// LoadConfig loads the config file from configPath. The default configuration is returned when configPath is
// empty.
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.NewDefault(), nil
	}
	config.SetGlobalConfig(configPath)
	cfg, err := config.LoadGlobal()
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %v", configPath, err)
	}
	return cfg, nil
}

// LoadPrograms loads the binaries in paths. Files that cannot be loaded are reported as warnings; it is an error if
// no binary could be loaded at all.
func LoadPrograms(ctx context.Context, cfg *config.Config, logger *config.LogGroup,
	paths []string) ([]loader.Program, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input binary")
	}
	for _, path := range paths {
		if strings.HasPrefix(path, "-") {
			return nil, fmt.Errorf("unexpected flag %s after the input binaries", path)
		}
	}
	programs, errs := loader.LoadAll(ctx, paths, &loader.IDs{}, cfg.Workers)
	for _, err := range errs {
		logger.Warnf("%v", err)
	}
	if len(programs) == 0 {
		return nil, fmt.Errorf("could not load any binary from %v", paths)
	}
	for _, p := range programs {
		logger.Debugf("Loaded %s (%s, %d symbols, %d imports)", p.Name(), p.Arch(), len(p.Symbols()),
			len(p.Imports()))
	}
	return programs, nil
}
