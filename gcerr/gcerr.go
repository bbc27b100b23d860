// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcerr defines the collector's error taxonomy.
//
// Collector invariant violations are never returned to callers. They are
// raised with Throw and eventually handed to the process-wide fatal
// handler, which is responsible for terminating the process. Failures
// reading another process's memory are ordinary errors of kind External.
package gcerr

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// Kind classifies an Error.
type Kind int

const (
	// Fatal is an internal invariant violation. The heap cannot be
	// trusted afterwards.
	Fatal Kind = iota
	// Recoverable failures are local and skipped by their owner.
	Recoverable
	// External failures originate outside the collector, such as a
	// failed read of a target process.
	External
)

func (k Kind) String() string {
	switch k {
	case Fatal:
		return "fatal"
	case Recoverable:
		return "recoverable"
	case External:
		return "external"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is an error with a Kind. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind with no Op
// or Err, which lets callers write errors.Is(err, gcerr.ErrExternal).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrFatal       = &Error{Kind: Fatal}
	ErrRecoverable = &Error{Kind: Recoverable}
	ErrExternal    = &Error{Kind: External}
)

// Externalf returns an External error for op.
func Externalf(op string, format string, args ...any) error {
	return &Error{Kind: External, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapExternal wraps err as an External error for op. It returns nil if
// err is nil and leaves errors that already carry a Kind alone.
func WrapExternal(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: External, Op: op, Err: err}
}

// Recoverablef returns a Recoverable error for op.
func Recoverablef(op string, format string, args ...any) error {
	return &Error{Kind: Recoverable, Op: op, Err: fmt.Errorf(format, args...)}
}

// Throw raises a fatal invariant violation. It does not return.
func Throw(msg string) {
	panic(&Error{Kind: Fatal, Err: errors.New(msg)})
}

// Throwf is like Throw with a formatted message.
func Throwf(format string, args ...any) {
	panic(&Error{Kind: Fatal, Err: fmt.Errorf(format, args...)})
}

// A FatalHandler is called with a fatal error. It must not return
// normally if the process is to honor the no-recovery rule; the default
// handler exits.
type FatalHandler func(err *Error)

var (
	handlerMu sync.Mutex
	handler   FatalHandler = defaultHandler
)

func defaultHandler(err *Error) {
	log.Printf("fatal error: %v", err)
	os.Exit(2)
}

// SetFatalHandler installs h as the process-wide fatal handler and
// returns the previous one. Hosts and tests use this to observe fatal
// errors; h == nil restores the default.
func SetFatalHandler(h FatalHandler) FatalHandler {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	old := handler
	if h == nil {
		h = defaultHandler
	}
	handler = h
	return old
}

// Die reports err to the fatal handler.
func Die(err *Error) {
	handlerMu.Lock()
	h := handler
	handlerMu.Unlock()
	h(err)
}

// FromPanic converts a recovered panic value into a fatal *Error. Any
// panic inside collector code is fatal, whether it was raised by Throw
// or not.
func FromPanic(op string, r any) *Error {
	if e, ok := r.(*Error); ok {
		if e.Op == "" {
			e.Op = op
		}
		e.Kind = Fatal
		return e
	}
	if err, ok := r.(error); ok {
		return &Error{Kind: Fatal, Op: op, Err: err}
	}
	return &Error{Kind: Fatal, Op: op, Err: fmt.Errorf("%v", r)}
}

// Guard runs f and sends any panic to the fatal handler. It is used at
// the top of every collector goroutine.
func Guard(op string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			Die(FromPanic(op, r))
		}
	}()
	f()
}
