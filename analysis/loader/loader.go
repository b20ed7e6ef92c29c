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

// Package loader turns binary files into the programs analyzed by the use-after-free analysis: it reads the loadable
// segments, the symbols and the import stubs of ELF binaries, lifts machine code into [ir.Sema] values, and unpacks
// Debian packages in-process.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/awslabs/ar-bin-tools/analysis/ir"
	"golang.org/x/sync/errgroup"
)

// Segment is a loadable segment of a binary. Data holds the file-backed bytes, which may be shorter than End-Start.
type Segment struct {
	ID         uint64
	Data       []byte
	Start      uint64
	End        uint64
	Readable   bool
	Writable   bool
	Executable bool
}

// Contains returns true if addr is in the segment.
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End
}

// Symbol is a function symbol. End is zero when the size of the function is unknown.
type Symbol struct {
	Name  string
	Start uint64
	End   uint64
}

// Import is a stub through which a binary calls an imported routine.
type Import struct {
	Name string
	Stub uint64
}

// A Program is a loaded binary.
type Program interface {
	// Name identifies the binary in the facts and in the reports
	Name() string
	Arch() ir.Arch
	Entry() uint64
	Segments() []Segment
	Symbols() []Symbol
	Imports() []Import
	// Lift returns the semantics of the instruction at addr. An error means the address holds no decodable
	// instruction; callers derive no facts for it.
	Lift(addr uint64) (*ir.Sema, error)
}

// A Lifter lifts the instruction at the start of code, located at addr.
type Lifter interface {
	Lift(addr uint64, code []byte) (*ir.Sema, error)
}

// LifterFor returns the lifter of the architecture.
func LifterFor(arch ir.Arch) (Lifter, error) {
	switch arch {
	case ir.ArchX86_64:
		return X86Lifter{}, nil
	default:
		return nil, fmt.Errorf("no lifter for architecture %q", arch)
	}
}

// IDs allocates segment identifiers. One allocator is owned by an analysis session, so identifiers are unique within
// that session only.
type IDs struct {
	next atomic.Uint64
}

// Next returns a fresh identifier.
func (ids *IDs) Next() uint64 {
	return ids.next.Add(1)
}

// maxInstructionLength is the longest x86-64 instruction.
const maxInstructionLength = 15

// Binary is a Program backed by the contents of a file.
type Binary struct {
	name     string
	arch     ir.Arch
	entry    uint64
	segments []Segment
	symbols  []Symbol
	imports  []Import
	lifter   Lifter

	mu    sync.Mutex
	cache map[uint64]*ir.Sema
}

func (b *Binary) Name() string        { return b.name }
func (b *Binary) Arch() ir.Arch       { return b.arch }
func (b *Binary) Entry() uint64       { return b.entry }
func (b *Binary) Segments() []Segment { return b.segments }
func (b *Binary) Symbols() []Symbol   { return b.symbols }
func (b *Binary) Imports() []Import   { return b.imports }

// Lift lifts the instruction at addr from the executable segment that contains it. Results are cached.
func (b *Binary) Lift(addr uint64) (*ir.Sema, error) {
	b.mu.Lock()
	if s, ok := b.cache[addr]; ok {
		b.mu.Unlock()
		return s, nil
	}
	b.mu.Unlock()

	for _, seg := range b.segments {
		if !seg.Executable || !seg.Contains(addr) {
			continue
		}
		off := addr - seg.Start
		if off >= uint64(len(seg.Data)) {
			return nil, fmt.Errorf("address 0x%x is not backed by file data", addr)
		}
		end := off + maxInstructionLength
		if end > uint64(len(seg.Data)) {
			end = uint64(len(seg.Data))
		}
		s, err := b.lifter.Lift(addr, seg.Data[off:end])
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.cache[addr] = s
		b.mu.Unlock()
		return s, nil
	}
	return nil, fmt.Errorf("address 0x%x is not in an executable segment", addr)
}

var (
	elfMagic = []byte("\x7fELF")
	arMagic  = []byte("!<arch>\n")
)

// Open loads the binaries contained in the file at path: the file itself if it is an ELF binary, or the ELF members
// of a Debian package.
func Open(path string, ids *IDs) ([]Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	return Parse(filepath.Base(path), data, ids)
}

// Parse loads the binaries contained in data, named name.
func Parse(name string, data []byte, ids *IDs) ([]Program, error) {
	switch {
	case bytes.HasPrefix(data, elfMagic):
		b, err := ParseELF(name, data, ids)
		if err != nil {
			return nil, err
		}
		return []Program{b}, nil
	case bytes.HasPrefix(data, arMagic):
		members, err := DebMembers(data)
		if err != nil {
			return nil, fmt.Errorf("could not unpack %s: %w", name, err)
		}
		var programs []Program
		for _, m := range members {
			if !bytes.HasPrefix(m.Data, elfMagic) {
				continue
			}
			b, err := ParseELF(name+":"+m.Name, m.Data, ids)
			if err != nil {
				// a package may ship ELF files for other architectures, or objects without loadable segments
				continue
			}
			programs = append(programs, b)
		}
		return programs, nil
	default:
		return nil, fmt.Errorf("%s is neither an ELF binary nor a Debian package", name)
	}
}

// LoadAll opens all the files in parallel. A file that cannot be loaded is reported in the returned errors and
// contributes no program; the order of the programs follows the order of the paths.
func LoadAll(ctx context.Context, paths []string, ids *IDs, workers int) ([]Program, []error) {
	results := make([][]Program, len(paths))
	errs := make([]error, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = ctx.Err()
				return nil
			}
			results[i], errs[i] = Open(path, ids)
			return nil
		})
	}
	_ = g.Wait()
	var programs []Program
	var failed []error
	for i := range paths {
		programs = append(programs, results[i]...)
		if errs[i] != nil {
			failed = append(failed, errs[i])
		}
	}
	return programs, failed
}
