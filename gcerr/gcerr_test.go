// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcerr

import (
	"errors"
	"io"
	"testing"
)

func TestKinds(t *testing.T) {
	err := WrapExternal("read", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrExternal) {
		t.Errorf("%v is not external", err)
	}
	if errors.Is(err, ErrFatal) {
		t.Errorf("%v is fatal", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("%v does not unwrap to io.ErrUnexpectedEOF", err)
	}
	if WrapExternal("read", nil) != nil {
		t.Errorf("WrapExternal(nil) != nil")
	}
	// Wrapping twice keeps the original kind and op.
	if got := WrapExternal("outer", err); got != err {
		t.Errorf("rewrapped external error: %v", got)
	}
}

func TestGuard(t *testing.T) {
	var got *Error
	old := SetFatalHandler(func(err *Error) { got = err })
	defer SetFatalHandler(old)

	Guard("job", func() { Throw("double enqueue") })
	if got == nil {
		t.Fatal("fatal handler not called")
	}
	if got.Kind != Fatal || got.Op != "job" {
		t.Errorf("got %+v, want fatal error for op job", got)
	}
	if got.Error() != "fatal: job: double enqueue" {
		t.Errorf("got message %q", got.Error())
	}

	got = nil
	Guard("job", func() { panic("plain panic") })
	if got == nil || got.Kind != Fatal {
		t.Errorf("plain panic not converted to fatal error: %v", got)
	}
}
