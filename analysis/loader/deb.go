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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Member is a regular file of a package.
type Member struct {
	Name string
	Data []byte
}

// maxMemberSize bounds the size of an extracted file.
const maxMemberSize = 1 << 30

// decompress returns a reader of the uncompressed contents of a data.tar member, according to its extension.
func decompress(name string, data []byte) (io.ReadCloser, error) {
	r := bytes.NewReader(data)
	switch {
	case strings.HasSuffix(name, ".tar"):
		return io.NopCloser(r), nil
	case strings.HasSuffix(name, ".tar.gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case strings.HasSuffix(name, ".tar.zst"):
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression for %s", name)
	}
}

// DebMembers returns the regular files of the data archive of a Debian package.
func DebMembers(data []byte) ([]Member, error) {
	if !bytes.HasPrefix(data, arMagic) {
		return nil, errors.New("not an ar archive")
	}
	rd := ar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := rd.Next()
		if err == io.EOF {
			return nil, errors.New("no data archive in package")
		}
		if err != nil {
			return nil, fmt.Errorf("could not read package: %w", err)
		}
		// GNU ar terminates member names with a slash
		name := strings.TrimRight(hdr.Name, "/")
		if !strings.HasPrefix(name, "data.tar") {
			continue
		}
		if hdr.Size < 0 || hdr.Size > maxMemberSize {
			return nil, fmt.Errorf("bad size %d for %s", hdr.Size, name)
		}
		b, err := io.ReadAll(rd)
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", name, err)
		}
		if int64(len(b)) != hdr.Size {
			return nil, fmt.Errorf("truncated ar member %s", name)
		}
		r, err := decompress(name, b)
		if err != nil {
			return nil, err
		}
		members, err := readTar(r)
		r.Close()
		return members, err
	}
}

func readTar(r io.Reader) ([]Member, error) {
	var members []Member
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return members, nil
		}
		if err != nil {
			return nil, fmt.Errorf("could not read data archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || hdr.Size > maxMemberSize {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("could not read %s: %w", hdr.Name, err)
		}
		members = append(members, Member{Name: strings.TrimPrefix(hdr.Name, "./"), Data: b})
	}
}
