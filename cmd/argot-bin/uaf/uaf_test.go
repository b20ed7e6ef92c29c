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
	"testing"
	"time"
)

func TestNewFlags(t *testing.T) {
	flags, err := NewFlags([]string{"-max-trace-length", "16", "-time-limit", "90s", "-skip=false", "a.out"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if flags.maxTraceLength != 16 || flags.timeLimit != 90*time.Second || flags.skip || !flags.IsSet("skip") {
		t.Errorf("unexpected flags %+v", flags)
	}
	if args := flags.FlagSet.Args(); len(args) != 1 || args[0] != "a.out" {
		t.Errorf("unexpected arguments %v", args)
	}

	flags, err = NewFlags([]string{"a.out"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if flags.IsSet("skip") || flags.database != "" {
		t.Errorf("unexpected defaults %+v", flags)
	}
}
