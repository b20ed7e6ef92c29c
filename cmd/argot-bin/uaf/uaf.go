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

// Package uaf implements the frontend of the use-after-free analysis
package uaf

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/awslabs/ar-bin-tools/analysis"
	"github.com/awslabs/ar-bin-tools/analysis/config"
	"github.com/awslabs/ar-bin-tools/analysis/factstore"
	"github.com/awslabs/ar-bin-tools/analysis/uaf"
	"github.com/awslabs/ar-bin-tools/cmd/argot-bin/tools"
	"github.com/awslabs/ar-bin-tools/internal/formatutil"
)

const usage = ` Find uses of freed heap objects in binaries.
Usage:
  argot-bin uaf [options] <binary or .deb path(s)>
Examples:
  % argot-bin uaf -config config.yaml ./a.out libfoo.so
  % argot-bin uaf -time-limit 10m -database postgres://localhost/facts package.deb
`

// Flags represents the parsed flags of the use-after-free analysis.
type Flags struct {
	tools.CommonFlags
	maxTraceLength int
	timeLimit      time.Duration
	skip           bool
	database       string
}

// NewFlags returns the parsed flags of the use-after-free analysis with args.
func NewFlags(args []string) (Flags, error) {
	flags := tools.NewUnparsedCommonFlags("uaf")
	maxTraceLength := flags.FlagSet.Int("max-trace-length", 0, "override the bound on the length of witness traces")
	timeLimit := flags.FlagSet.Duration("time-limit", 0, "wall-clock budget of the analysis, e.g. 30s or 10m")
	skip := flags.FlagSet.Bool("skip", true, "step over calls to imported routines that no input defines")
	database := flags.FlagSet.String("database", "", "PostgreSQL connection string of the fact store")
	tools.SetUsage(flags.FlagSet, usage)
	common, err := flags.Parse(args)
	if err != nil {
		return Flags{}, err
	}
	return Flags{
		CommonFlags:    common,
		maxTraceLength: *maxTraceLength,
		timeLimit:      *timeLimit,
		skip:           *skip,
		database:       *database,
	}, nil
}

// Run runs the use-after-free analysis with flags.
func Run(flags Flags) error {
	cfg, err := tools.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}

	// Override config parameters with command-line parameters.
	if flags.Verbose {
		cfg.LogLevel = int(config.DebugLevel)
	}
	if flags.maxTraceLength > 0 {
		cfg.MaxTraceLength = flags.maxTraceLength
	}
	if flags.timeLimit > 0 {
		cfg.TimeLimit = flags.timeLimit
	}
	if flags.IsSet("skip") {
		cfg.SkipUnresolved = flags.skip
	}
	if flags.database != "" {
		cfg.Database = flags.database
	}

	logger := config.NewLogGroup(cfg)
	logger.Infof(formatutil.Faint("Argot use-after-free tool - " + analysis.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	programs, err := tools.LoadPrograms(ctx, cfg, logger, flags.FlagSet.Args())
	if err != nil {
		return err
	}
	start := time.Now()
	state, result, err := uaf.Analyze(ctx, cfg, logger, programs)
	if err != nil {
		return fmt.Errorf("use-after-free analysis failed: %w", err)
	}
	logger.Infof("Analysis took %3.4f s", time.Since(start).Seconds())

	uaf.WriteReport(os.Stdout, result)
	if cfg.ReportsDir != "" {
		if err := state.DumpTables(cfg.ReportsDir); err != nil {
			return err
		}
		logger.Infof("Relations written in %s", cfg.ReportsDir)
	}
	if cfg.Database != "" {
		if err := store(ctx, cfg, logger, state, result, start); err != nil {
			return err
		}
	}
	return nil
}

func store(ctx context.Context, cfg *config.Config, logger *config.LogGroup, state *uaf.State, result *uaf.Result,
	start time.Time) error {
	db, err := factstore.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	run := factstore.Run{
		ID:       result.RunID,
		Started:  start,
		Binaries: state.Files(),
		Findings: len(result.Findings),
		Partial:  result.Partial,
	}
	if err := db.Save(ctx, run, state.Tables()); err != nil {
		return err
	}
	logger.Infof("Facts of run %s stored", result.RunID)
	return nil
}
