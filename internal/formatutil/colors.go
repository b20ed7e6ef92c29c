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

// Package formatutil contains the formatting helpers of the reports: terminal colors, and sanitization of the
// strings read from binaries before they are printed.
package formatutil

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

var (
	Bold   = Color("\033[1m%s\033[0m")
	Faint  = Color("\033[2m%s\033[0m")
	Red    = Color("\033[1;31m%s\033[0m")
	Green  = Color("\033[1;32m%s\033[0m")
	Yellow = Color("\033[1;33m%s\033[0m")
	Cyan   = Color("\033[1;36m%s\033[0m")
)

// colorMode is 0 when colors are enabled only on terminals, 1 when forced on and 2 when forced off.
var colorMode atomic.Int32

// SetColor forces colors on or off, regardless of whether stdout is a terminal.
func SetColor(enabled bool) {
	if enabled {
		colorMode.Store(1)
	} else {
		colorMode.Store(2)
	}
}

func colorsEnabled() bool {
	switch colorMode.Load() {
	case 1:
		return true
	case 2:
		return false
	default:
		return term.IsTerminal(int(os.Stdout.Fd()))
	}
}

// Color returns a function printing its arguments with the escape sequence colorString when colors are enabled.
func Color(colorString string) func(...interface{}) string {
	return func(args ...interface{}) string {
		if colorsEnabled() {
			return fmt.Sprintf(colorString, fmt.Sprint(args...))
		}
		return fmt.Sprint(args...)
	}
}

// Sanitize is a simple sanitizer that removes all escape sequences.
func Sanitize(s string) string {
	r := fmt.Sprintf("%q", s)
	if len(r) >= 2 {
		return r[1 : len(r)-1]
	}
	return r
}

// Plural returns "n word" with an s appended to word when n is not 1.
func Plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
