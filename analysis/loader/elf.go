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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/awslabs/ar-bin-tools/analysis/ir"
)

// NewBinary returns a program from already parsed parts. The lifter is chosen from the architecture.
func NewBinary(name string, arch ir.Arch, entry uint64, segments []Segment, symbols []Symbol,
	imports []Import) (*Binary, error) {
	lifter, err := LifterFor(arch)
	if err != nil {
		return nil, err
	}
	return &Binary{
		name:     name,
		arch:     arch,
		entry:    entry,
		segments: segments,
		symbols:  symbols,
		imports:  imports,
		lifter:   lifter,
		cache:    map[uint64]*ir.Sema{},
	}, nil
}

// Architecture returns the architecture of the ELF file f.
func Architecture(f *elf.File) (ir.Arch, error) {
	switch {
	case f.Machine == elf.EM_X86_64 && f.Class == elf.ELFCLASS64:
		return ir.ArchX86_64, nil
	default:
		return ir.ArchUnknown, fmt.Errorf("unsupported architecture %s/%s", f.Machine, f.Class)
	}
}

// ParseELF loads an ELF binary.
func ParseELF(name string, data []byte, ids *IDs) (*Binary, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", name, err)
	}
	defer f.Close()

	arch, err := Architecture(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	segments, err := loadSegments(f, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%s has no loadable segment", name)
	}
	symbols, err := functionSymbols(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	imports, err := ImportStubs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return NewBinary(name, arch, f.Entry, segments, symbols, imports)
}

func loadSegments(f *elf.File, ids *IDs) ([]Segment, error) {
	var segments []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data, err := io.ReadAll(p.Open())
		if err != nil {
			return nil, fmt.Errorf("could not read segment at 0x%x: %w", p.Vaddr, err)
		}
		segments = append(segments, Segment{
			ID:         ids.Next(),
			Data:       data,
			Start:      p.Vaddr,
			End:        p.Vaddr + p.Memsz,
			Readable:   p.Flags&elf.PF_R != 0,
			Writable:   p.Flags&elf.PF_W != 0,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}
	return segments, nil
}

// functionSymbols returns the defined function symbols of the static and dynamic symbol tables, sorted by address.
// Stripped binaries still export their dynamic symbols.
func functionSymbols(f *elf.File) ([]Symbol, error) {
	seen := map[Symbol]bool{}
	var symbols []Symbol
	add := func(syms []elf.Symbol, err error) error {
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				return nil
			}
			return err
		}
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF || s.Value == 0 {
				continue
			}
			sym := Symbol{Name: s.Name, Start: s.Value}
			if s.Size > 0 {
				sym.End = s.Value + s.Size
			}
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
		return nil
	}
	if err := add(f.Symbols()); err != nil {
		return nil, fmt.Errorf("could not read symbols: %w", err)
	}
	if err := add(f.DynamicSymbols()); err != nil {
		return nil, fmt.Errorf("could not read dynamic symbols: %w", err)
	}
	sort.SliceStable(symbols, func(i, j int) bool { return symbols[i].Start < symbols[j].Start })
	return symbols, nil
}

const (
	relaEntrySize = 24
	pltEntrySize  = 16
)

// ImportStubs returns the PLT stubs of the binary with the name of the routine each one jumps to. Stubs are found
// from the jump slot relocations of .rela.plt: the i-th relocation is served by the i-th entry of .plt.sec when the
// binary has one, and by the (i+1)-th entry of .plt otherwise (the first .plt entry is the resolver trampoline).
func ImportStubs(f *elf.File) ([]Import, error) {
	rela := f.Section(".rela.plt")
	if rela == nil {
		return nil, nil
	}
	data, err := rela.Data()
	if err != nil {
		return nil, fmt.Errorf("could not read .rela.plt: %w", err)
	}
	dynsyms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("could not read dynamic symbols: %w", err)
	}
	var base uint64
	first := uint64(1)
	if sec := f.Section(".plt.sec"); sec != nil {
		base, first = sec.Addr, 0
	} else if plt := f.Section(".plt"); plt != nil {
		base = plt.Addr
	} else {
		return nil, nil
	}
	names := make([]string, len(dynsyms))
	for i, s := range dynsyms {
		names[i] = s.Name
	}
	return pltStubs(data, names, base, first), nil
}

// pltStubs decodes the jump slot relocations of data. names are the dynamic symbol names, without the null symbol.
func pltStubs(data []byte, names []string, base uint64, first uint64) []Import {
	var imports []Import
	slot := uint64(0)
	for off := 0; off+relaEntrySize <= len(data); off += relaEntrySize {
		info := binary.LittleEndian.Uint64(data[off+8:])
		typ := elf.R_X86_64(info & 0xffffffff)
		sym := info >> 32
		if typ != elf.R_X86_64_JMP_SLOT {
			continue
		}
		stub := base + pltEntrySize*(slot+first)
		slot++
		if sym == 0 || sym > uint64(len(names)) {
			continue
		}
		imports = append(imports, Import{Name: names[sym-1], Stub: stub})
	}
	return imports
}
