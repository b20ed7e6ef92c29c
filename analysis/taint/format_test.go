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

package taint

import (
	"testing"

	"github.com/awslabs/ar-bin-tools/analysis/location"
)

func TestFormatArgs(t *testing.T) {
	conv := location.SysVAMD64
	tests := []struct {
		format string
		want   []string
	}{
		{"hello\n", nil},
		{"%s\n", []string{"RSI"}},
		{"%d %s", []string{"RDX"}},
		{"100%% %s", []string{"RSI"}},
		{"%-10.*s|%n", []string{"RDX", "RCX"}},
		{"%*d %lu %s", []string{"R8"}},
		{"%d %d %d %d %d %s", nil},
		{"%p %x %c", nil},
		{"%s %", []string{"RSI"}},
	}
	for _, test := range tests {
		got := FormatArgs(test.format, 0, conv)
		if len(got) != len(test.want) {
			t.Errorf("FormatArgs(%q) = %v, want %v", test.format, got, test.want)
			continue
		}
		for i, v := range got {
			if v.String() != test.want[i] {
				t.Errorf("FormatArgs(%q)[%d] = %s, want %s", test.format, i, v, test.want[i])
			}
		}
	}
}

func TestFormatArgsAfterStream(t *testing.T) {
	// fprintf(stream, format, ...).
	got := FormatArgs("%s: %s", 1, location.SysVAMD64)
	if len(got) != 2 || got[0].String() != "RDX" || got[1].String() != "RCX" {
		t.Errorf("FormatArgs with format in second argument = %v, want [RDX RCX]", got)
	}
}
