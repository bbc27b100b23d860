// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gclab/gcerr"
)

func TestDumpRoundTrip(t *testing.T) {
	img := testImage(t, true)
	var buf bytes.Buffer
	if err := WriteDump(&buf, img); err != nil {
		t.Fatal(err)
	}
	img2, err := ReadDump(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if img2.Size() != img.Size() {
		t.Fatalf("read %d bytes, wrote %d", img2.Size(), img.Size())
	}
	for addr, data := range img.Regions() {
		got := make([]byte, len(data))
		if err := img2.ReadMemory(addr, got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("region at %v differs", addr)
		}
	}
	w, err := NewWalker(img2)
	if err != nil {
		t.Fatal(err)
	}
	g, err := w.Graph()
	if err != nil {
		t.Fatal(err)
	}
	if g.NumNodes() != 5 {
		t.Fatalf("%d objects after round trip", g.NumNodes())
	}
}

func TestDumpErrors(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDump(&buf, testImage(t, false)); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()
	sumOff := len(dumpMagic) + 1 + len(DumpVersion)

	for _, tc := range []struct {
		name   string
		mangle func(b []byte) []byte
		want   string
	}{
		{"magic", func(b []byte) []byte {
			b[0] = 'x'
			return b
		}, "bad magic"},
		{"major version", func(b []byte) []byte {
			return bytes.Replace(b, []byte(DumpVersion), []byte("v2.0.0"), 1)
		}, "unsupported format version v2.0.0"},
		{"bad version", func(b []byte) []byte {
			return bytes.Replace(b, []byte(DumpVersion), []byte("v1.x.0"), 1)
		}, "bad format version"},
		{"checksum", func(b []byte) []byte {
			b[sumOff] ^= 0xff
			return b
		}, "checksum mismatch"},
		{"truncated", func(b []byte) []byte {
			return b[:len(b)/2]
		}, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.mangle(bytes.Clone(good))
			_, err := ReadDump(bytes.NewReader(b))
			if err == nil {
				t.Fatal("ReadDump succeeded")
			}
			if !errors.Is(err, gcerr.ErrExternal) {
				t.Errorf("error %v is not External", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %v, want %q", err, tc.want)
			}
		})
	}

	// A newer minor version is accepted.
	b := bytes.Replace(bytes.Clone(good), []byte(DumpVersion), []byte("v1.9.0"), 1)
	if _, err := ReadDump(bytes.NewReader(b)); err != nil {
		t.Fatalf("minor version bump rejected: %v", err)
	}
}
