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

package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/awslabs/ar-bin-tools/internal/formatutil"
	"github.com/awslabs/ar-bin-tools/internal/graphutil"
)

func TestWriteCycles(t *testing.T) {
	formatutil.SetColor(false)
	b := graphutil.NewBuilder()
	b.Edge("a.out:main", "a.out:walk")
	b.Edge("a.out:walk", "a.out:walk")
	var buf bytes.Buffer
	WriteCycles(&buf, b.Graph())
	out := buf.String()
	if !strings.HasPrefix(out, "1 cycle\n") || !strings.Contains(out, "a.out:walk -> a.out:walk") {
		t.Errorf("unexpected cycles:\n%s", out)
	}
}

func TestNewFlags(t *testing.T) {
	flags, err := NewFlags([]string{"-cycles", "-cgout", "cg.dot", "a.out"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !flags.cycles || flags.cgOut != "cg.dot" || flags.FlagSet.NArg() != 1 {
		t.Errorf("unexpected flags %+v", flags)
	}
}
