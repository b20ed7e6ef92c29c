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
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
)

func arMember(name string, data []byte) []byte {
	hdr := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8s%-10d`\n", name, 0, 0, 0, "100644", len(data))
	b := append([]byte(hdr), data...)
	if len(data)%2 == 1 {
		b = append(b, '\n')
	}
	return b
}

func tarball(t *testing.T, files map[string][]byte, order []string) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "./usr/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatalf("tar: %v", err)
	}
	for _, name := range order {
		data := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644,
			Size: int64(len(data))}); err != nil {
			t.Fatalf("tar: %v", err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatalf("tar: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar: %v", err)
	}
	return buf.Bytes()
}

func tarGz(t *testing.T, files map[string][]byte, order []string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(tarball(t, files, order)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return buf.Bytes()
}

func tarZst(t *testing.T, files map[string][]byte, order []string) []byte {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(tarball(t, files, order), nil)
}

func TestDebMembers(t *testing.T) {
	files := map[string][]byte{
		"./usr/bin/tool":       []byte("\x7fELF not really"),
		"./usr/share/doc/copy": []byte("text"),
	}
	deb := append([]byte{}, arMagic...)
	deb = append(deb, arMember("debian-binary", []byte("2.0\n"))...)
	deb = append(deb, arMember("control.tar.gz", []byte("x"))...)
	deb = append(deb, arMember("data.tar.gz", tarGz(t, files, []string{"./usr/bin/tool", "./usr/share/doc/copy"}))...)

	members, err := DebMembers(deb)
	if err != nil {
		t.Fatalf("could not read package: %v", err)
	}
	var names []string
	for _, m := range members {
		names = append(names, m.Name)
	}
	if diff := cmp.Diff([]string{"usr/bin/tool", "usr/share/doc/copy"}, names); diff != "" {
		t.Errorf("unexpected members (-want +got):\n%s", diff)
	}
	if string(members[1].Data) != "text" {
		t.Errorf("unexpected member contents %q", members[1].Data)
	}

	// the fake ELF member is skipped, so the package contributes no program.
	var ids IDs
	programs, err := Parse("pkg.deb", deb, &ids)
	if err != nil || len(programs) != 0 {
		t.Errorf("expected no program and no error, got %v, %v", programs, err)
	}
}

func TestDebMembersZstd(t *testing.T) {
	files := map[string][]byte{"./usr/lib/libx.so": []byte("library")}
	deb := append([]byte{}, arMagic...)
	deb = append(deb, arMember("debian-binary", []byte("2.0\n"))...)
	deb = append(deb, arMember("control.tar.zst", []byte("x"))...)
	deb = append(deb, arMember("data.tar.zst/", tarZst(t, files, []string{"./usr/lib/libx.so"}))...)

	members, err := DebMembers(deb)
	if err != nil {
		t.Fatalf("could not read package: %v", err)
	}
	want := []Member{{Name: "usr/lib/libx.so", Data: []byte("library")}}
	if diff := cmp.Diff(want, members); diff != "" {
		t.Errorf("unexpected members (-want +got):\n%s", diff)
	}
}

func TestDebErrors(t *testing.T) {
	if _, err := DebMembers([]byte("not an archive")); err == nil {
		t.Errorf("expected an error for a non-ar input")
	}
	noData := append(append([]byte{}, arMagic...), arMember("debian-binary", []byte("2.0\n"))...)
	if _, err := DebMembers(noData); err == nil {
		t.Errorf("expected an error for a package without data archive")
	}
	bz2 := append(append([]byte{}, arMagic...), arMember("data.tar.bz2", []byte("x"))...)
	if _, err := DebMembers(bz2); err == nil {
		t.Errorf("expected an error for an unsupported compression")
	}
	truncated := append(append([]byte{}, arMagic...), arMember("data.tar", []byte("abcdef"))[:64]...)
	if _, err := DebMembers(truncated); err == nil {
		t.Errorf("expected an error for a truncated member")
	}
}

func TestParseRejectsUnknownFormats(t *testing.T) {
	var ids IDs
	if _, err := Parse("script.sh", []byte("#!/bin/sh\n"), &ids); err == nil {
		t.Errorf("expected an error for a non-binary file")
	}
}

func rela(info ...uint64) []byte {
	b := make([]byte, 24*len(info))
	for i, x := range info {
		binary.LittleEndian.PutUint64(b[24*i:], 0x4018+8*uint64(i))
		binary.LittleEndian.PutUint64(b[24*i+8:], x)
	}
	return b
}

func TestPltStubs(t *testing.T) {
	names := []string{"free", "malloc", "puts"}
	// symbol 2 (malloc), an irrelevant relocation, then symbol 1 (free) and symbol 3 (puts).
	data := rela(2<<32|7, 2<<32|8, 1<<32|7, 3<<32|7)
	got := pltStubs(data, names, 0x1020, 1)
	want := []Import{{"malloc", 0x1030}, {"free", 0x1040}, {"puts", 0x1050}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected stubs with .plt (-want +got):\n%s", diff)
	}
	got = pltStubs(data, names, 0x1100, 0)
	want = []Import{{"malloc", 0x1100}, {"free", 0x1110}, {"puts", 0x1120}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected stubs with .plt.sec (-want +got):\n%s", diff)
	}
}

func TestIDsAreUnique(t *testing.T) {
	var ids IDs
	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		id := ids.Next()
		if seen[id] || id == 0 {
			t.Fatalf("duplicate or zero id %d", id)
		}
		seen[id] = true
	}
}
