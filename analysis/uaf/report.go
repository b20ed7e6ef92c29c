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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/ar-bin-tools/analysis/datalog"
	"github.com/awslabs/ar-bin-tools/internal/formatutil"
	"gopkg.in/yaml.v3"
)

// WriteReport prints a summary of the result and the findings to w.
func WriteReport(w io.Writer, res *Result) {
	fmt.Fprintf(w, "%s\n", formatutil.Bold("Use-after-free analysis ", res.RunID))
	for _, p := range res.Phases {
		fmt.Fprintf(w, "  %-18s %s\n", p.Name, formatutil.Faint(p.Stats))
	}
	fmt.Fprintf(w, "  %s, %d recursive\n", formatutil.Plural(res.Functions, "function"), res.Recursive)
	if res.Partial {
		fmt.Fprintf(w, "%s\n", formatutil.Yellow("Time limit reached: the findings below are a lower bound"))
	}
	if len(res.Findings) == 0 {
		fmt.Fprintf(w, "%s\n", formatutil.Green("No use-after-free found"))
	} else {
		fmt.Fprintf(w, "%s (%d witnessed)\n", formatutil.Red(formatutil.Plural(len(res.Findings), "finding")),
			res.Witnessed)
	}
	for i, f := range res.Findings {
		fmt.Fprintf(w, "[%d] %s\n", i+1, formatutil.Sanitize(f.String()))
		if len(f.Functions) > 0 {
			fmt.Fprintf(w, "    in %s\n", formatutil.Sanitize(strings.Join(f.Functions, ", ")))
		}
		if f.Grade != Ungraded {
			fmt.Fprintf(w, "    %s\n", f.Grade)
		}
		if f.Contexts > 1 {
			fmt.Fprintf(w, "    found in %d contexts\n", f.Contexts)
		}
		for _, step := range f.Witness {
			fmt.Fprintf(w, "      %s\n", formatutil.Faint(formatutil.Sanitize(step.String())))
		}
	}
	if res.Graded() {
		fmt.Fprintf(w, "True positives: %d\nFalse positives: %d\n", res.TruePositives, res.FalsePositives)
	}
	for _, e := range res.StackEscapes {
		fmt.Fprintf(w, "%s stack pointer escapes at %s (function at 0x%x)\n", formatutil.Yellow("!"),
			Site{e.Bin, e.Addr}, e.Func)
	}
}

// DumpTables writes every relation of the analysis as a YAML file in dir, one file per relation.
func (s *State) DumpTables(dir string) error {
	for _, t := range s.Tables() {
		b, err := MarshalTable(t)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, t.Name()+".yaml")
		if err := os.WriteFile(name, b, 0600); err != nil {
			return fmt.Errorf("could not write %s: %w", name, err)
		}
		s.Logger.Debugf("Wrote %d rows to %s", t.Len(), name)
	}
	return nil
}

// MarshalTable renders the rows of a relation as a YAML sequence of mappings from column names to values.
func MarshalTable(t datalog.Table) ([]byte, error) {
	columns := t.Columns()
	rows := make([]yaml.Node, 0, t.Len())
	for _, row := range t.Rows() {
		m := yaml.Node{Kind: yaml.MappingNode}
		for i, v := range row {
			key := fmt.Sprintf("col%d", i)
			if i < len(columns) {
				key = columns[i]
			}
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				scalar(v))
		}
		rows = append(rows, m)
	}
	doc := yaml.Node{Kind: yaml.MappingNode}
	seq := yaml.Node{Kind: yaml.SequenceNode}
	for i := range rows {
		seq.Content = append(seq.Content, &rows[i])
	}
	doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: t.Name()}, &seq)
	b, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("could not marshal relation %s: %w", t.Name(), err)
	}
	return b, nil
}

// scalar renders a value as a YAML scalar. Only integers and booleans are left plain; the rendering of the other
// kinds may contain YAML indicators.
func scalar(v datalog.Value) *yaml.Node {
	switch v.Kind() {
	case datalog.KindInt, datalog.KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v.String()}
	case datalog.KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v.Text(), Style: yaml.DoubleQuotedStyle}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v.String(), Style: yaml.DoubleQuotedStyle}
	}
}
