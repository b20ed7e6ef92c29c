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

package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/awslabs/ar-bin-tools/internal/funcutil"
	"gopkg.in/yaml.v3"
)

var (
	// The global config file.
	configFile string
)

// SetGlobalConfig sets the global config filename.
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig. If no file has been set, the default
// configuration is returned.
func LoadGlobal() (*Config, error) {
	if configFile == "" {
		return NewDefault(), nil
	}
	return Load(configFile)
}

// Config contains the options of the analysis and the lists of routines it recognizes.
// If some field is not defined in the config file, it keeps its default value.
// private fields are not populated from a yaml file, but computed after initialization.
type Config struct {
	Options

	sourceFile string

	// Allocators are the routines whose return value is a fresh heap object.
	Allocators []string `yaml:"allocators"`

	// Deallocators are the routines that free the object passed as their first argument.
	Deallocators []string `yaml:"deallocators"`

	// ConsumingFunctions are external routines that read through one of their arguments. Passing a freed pointer to
	// one of them is a use.
	ConsumingFunctions []RoutineSpec `yaml:"consuming-functions"`

	// PrintfLike are the routines taking a printf format string. Arg is the index of the format argument.
	PrintfLike []RoutineSpec `yaml:"printf-like"`
}

// RoutineSpec identifies an argument of an external routine.
type RoutineSpec struct {
	// Name is the symbol name of the routine.
	Name string `yaml:"name"`

	// Arg is the index of the argument in the calling convention.
	Arg int `yaml:"arg"`
}

// Options are the tuning knobs of the analysis.
type Options struct {
	// ReportsDir is the directory where the relation dumps are written. If empty, no dump is written.
	ReportsDir string `yaml:"reports-dir"`

	// Loglevel controls the verbosity of the tool.
	LogLevel int `yaml:"log-level"`

	// MaxTraceLength bounds the length of witness traces. If MaxTraceLength <= 0, DefaultMaxTraceLength is used.
	MaxTraceLength int `yaml:"max-trace-length"`

	// MaxChop bounds the number of distinct call targets along one branch. Values outside 1..3 mean 3.
	MaxChop int `yaml:"max-chop"`

	// TimeLimit is the wall-clock budget of the analysis. Zero means unbounded. When the limit is hit, the results
	// are partial.
	TimeLimit time.Duration `yaml:"time-limit"`

	// SkipUnresolved treats calls to imported routines that no loaded binary defines as skip routines.
	SkipUnresolved bool `yaml:"skip-unresolved"`

	// SeedHeapLoads seeds a fresh alias at every load through a non-stack pointer.
	SeedHeapLoads bool `yaml:"seed-heap-loads"`

	// ConstantPropagation enables the constant, string and printf argument heuristics.
	ConstantPropagation bool `yaml:"constant-propagation"`

	// CheckStackEscape runs the stack pointer escape check.
	CheckStackEscape bool `yaml:"check-stack-escape"`

	// WitnessedOnly reports only the findings confirmed by a trace within MaxTraceLength.
	WitnessedOnly bool `yaml:"witnessed-only"`

	// Grade classifies findings as true or false positives using the _bad/_good naming convention.
	Grade bool `yaml:"grade"`

	// Workers is the number of rule tasks evaluated in parallel in a round.
	Workers int `yaml:"workers"`

	// Database is the connection string of the fact store. If empty, facts are not persisted.
	Database string `yaml:"database"`
}

// NewDefault returns the default config.
func NewDefault() *Config {
	return &Config{
		sourceFile:   "",
		Allocators:   []string{"malloc", "xmalloc", "calloc", "xcalloc", "qcalloc", "qmalloc"},
		Deallocators: []string{"free", "qfree"},
		ConsumingFunctions: []RoutineSpec{
			{Name: "puts", Arg: 0},
		},
		PrintfLike: []RoutineSpec{
			{Name: "printf", Arg: 0},
		},
		Options: Options{
			ReportsDir:          "",
			LogLevel:            int(InfoLevel),
			MaxTraceLength:      DefaultMaxTraceLength,
			MaxChop:             DefaultMaxChop,
			TimeLimit:           0,
			SkipUnresolved:      true,
			SeedHeapLoads:       false,
			ConstantPropagation: true,
			CheckStackEscape:    false,
			WitnessedOnly:       false,
			Grade:               false,
			Workers:             1,
			Database:            "",
		},
	}
}

// Load reads a configuration from a file.
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return Parse(filename, b)
}

// Parse reads a configuration from the contents b of the file filename. Relative paths in the configuration are
// relative to filename.
func Parse(filename string, b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file: %w", err)
	}

	cfg.sourceFile = filename

	// If logLevel has not been specified (i.e. it is 0) set the default to Info.
	if cfg.LogLevel == 0 {
		cfg.LogLevel = int(InfoLevel)
	}
	if cfg.MaxTraceLength <= 0 {
		cfg.MaxTraceLength = DefaultMaxTraceLength
	}
	if cfg.MaxChop <= 0 || cfg.MaxChop > DefaultMaxChop {
		cfg.MaxChop = DefaultMaxChop
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TimeLimit < 0 {
		return nil, fmt.Errorf("negative time-limit %s", cfg.TimeLimit)
	}

	if cfg.ReportsDir != "" {
		if err := setReportsDir(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func setReportsDir(c *Config) error {
	c.ReportsDir = c.RelPath(c.ReportsDir)
	err := os.Mkdir(c.ReportsDir, 0750)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("could not create directory %s: %w", c.ReportsDir, err)
	}
	return nil
}

// RelPath returns filename path relative to the config source file.
func (c Config) RelPath(filename string) string {
	if path.IsAbs(filename) {
		return filename
	}
	return path.Join(path.Dir(c.sourceFile), filename)
}

// Verbose returns true is the configuration verbosity setting is larger than Info (i.e. Debug or Trace).
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}

// IsAllocator returns true if name is the symbol of a routine returning a fresh heap object.
func (c Config) IsAllocator(name string) bool {
	return funcutil.Contains(c.Allocators, name)
}

// IsDeallocator returns true if name is the symbol of a routine freeing its first argument.
func (c Config) IsDeallocator(name string) bool {
	return funcutil.Contains(c.Deallocators, name)
}

// ConsumedArg returns the argument index that the routine name reads through, if name is a consuming routine.
func (c Config) ConsumedArg(name string) funcutil.Optional[int] {
	return findArg(c.ConsumingFunctions, name)
}

// FormatArg returns the argument index of the format string, if name is a printf-like routine.
func (c Config) FormatArg(name string) funcutil.Optional[int] {
	return findArg(c.PrintfLike, name)
}

func findArg(specs []RoutineSpec, name string) funcutil.Optional[int] {
	for _, s := range specs {
		if s.Name == name {
			return funcutil.Some(s.Arg)
		}
	}
	return funcutil.None[int]()
}
