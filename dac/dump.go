// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/mod/semver"

	"gclab/gcerr"
)

// A dump file is
//
//	magic      "gclabdmp"
//	version    length byte, then a semantic version string
//	checksum   BLAKE2b-256 of the uncompressed body
//	body       gzip stream
//
// The body is a region count followed by each region's address, length
// and bytes. All integers are little-endian uint64.
const dumpMagic = "gclabdmp"

// DumpVersion is the dump format version WriteDump writes. ReadDump
// accepts any version with the same major version.
const DumpVersion = "v1.1.0"

// maxDumpRegion bounds region lengths read from a dump.
const maxDumpRegion = 1 << 32

// WriteDump writes img to w.
func WriteDump(w io.Writer, img *Image) error {
	var body bytes.Buffer
	var word [8]byte
	putWord := func(v uint64) {
		binary.LittleEndian.PutUint64(word[:], v)
		body.Write(word[:])
	}
	putWord(uint64(len(img.regions)))
	for addr, data := range img.Regions() {
		putWord(uint64(addr))
		putWord(uint64(len(data)))
		body.Write(data)
	}
	sum := blake2b.Sum256(body.Bytes())

	bw := bufio.NewWriter(w)
	bw.WriteString(dumpMagic)
	bw.WriteByte(byte(len(DumpVersion)))
	bw.WriteString(DumpVersion)
	bw.Write(sum[:])
	zw, err := gzip.NewWriterLevel(bw, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := zw.Write(body.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadDump reads a dump written by WriteDump.
func ReadDump(r io.Reader) (*Image, error) {
	img, err := readDump(bufio.NewReader(r))
	return img, gcerr.WrapExternal("read dump", err)
}

func readDump(r *bufio.Reader) (*Image, error) {
	magic := make([]byte, len(dumpMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if string(magic) != dumpMagic {
		return nil, fmt.Errorf("bad magic number %q", magic)
	}
	n, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	vers := make([]byte, n)
	if _, err := io.ReadFull(r, vers); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	v := string(vers)
	if !semver.IsValid(v) {
		return nil, fmt.Errorf("bad format version %q", v)
	}
	if semver.Major(v) != semver.Major(DumpVersion) {
		return nil, fmt.Errorf("unsupported format version %s (want %s.x)", v, semver.Major(DumpVersion))
	}
	var sum [blake2b.Size256]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if blake2b.Sum256(body) != sum {
		return nil, fmt.Errorf("checksum mismatch")
	}

	word := func() (uint64, error) {
		if len(body) < 8 {
			return 0, io.ErrUnexpectedEOF
		}
		v := binary.LittleEndian.Uint64(body)
		body = body[8:]
		return v, nil
	}
	count, err := word()
	if err != nil {
		return nil, err
	}
	img := NewImage()
	for i := uint64(0); i < count; i++ {
		addr, err := word()
		if err != nil {
			return nil, err
		}
		size, err := word()
		if err != nil {
			return nil, err
		}
		if size > maxDumpRegion || size > uint64(len(body)) {
			return nil, fmt.Errorf("region %d at %v: bad length %d", i, TAddr(addr), size)
		}
		if err := img.Map(TAddr(addr), body[:size:size]); err != nil {
			return nil, err
		}
		body = body[size:]
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%d trailing bytes", len(body))
	}
	return img, nil
}
