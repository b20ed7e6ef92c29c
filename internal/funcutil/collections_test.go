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

package funcutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFilterMap(t *testing.T) {
	xs := []int{1, 2, 3, 4, 5}
	even := Filter(xs, func(x int) bool { return x%2 == 0 })
	if diff := cmp.Diff([]int{2, 4}, even); diff != "" {
		t.Errorf("Filter (-want +got):\n%s", diff)
	}
	doubled := Map(even, func(x int) int { return 2 * x })
	if diff := cmp.Diff([]int{4, 8}, doubled); diff != "" {
		t.Errorf("Map (-want +got):\n%s", diff)
	}
	if !Contains(xs, 3) || Contains(xs, 6) {
		t.Errorf("Contains is wrong on %v", xs)
	}
}

func TestOptional(t *testing.T) {
	half := func(x int) Optional[int] {
		if x%2 != 0 {
			return None[int]()
		}
		return Some(x / 2)
	}
	if v := BindOption(Some(8), half); !v.IsSome() || v.Value() != 4 {
		t.Errorf("BindOption(Some(8)) = %v, expected 4", v)
	}
	if v := BindOption(Some(3), half); v.IsSome() {
		t.Errorf("BindOption(Some(3)) = %v, expected none", v)
	}
	if v := BindOption(None[int](), half); v.ValueOr(-1) != -1 {
		t.Errorf("BindOption(None) should be none")
	}
}
