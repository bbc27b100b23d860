// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config parses collector parameters.
//
// Parameters come from two comma-separated option strings, normally the
// GCLAB_PARAMS and GCLAB_DEBUG environment variables. Each option is
// either a bare name or name=value. Sizes accept k, m and g suffixes.
//
// A Config is a plain value. It is passed to the constructors that need
// it; nothing in the module reads the environment except FromEnv.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gclab/heap"
)

// Config holds collector parameters.
type Config struct {
	// Workers is the number of marking worker threads. Zero means one
	// per processor.
	Workers int

	NurseryBytes heap.Bytes
	MaxHeapBytes heap.Bytes // Zero means unlimited

	Cementing       bool
	CementThreshold int

	// ConcurrentSweep sweeps the old generation in the background
	// after a major collection instead of during the pause.
	ConcurrentSweep bool

	StealableStackSize int
	SplitCount         int // Zero derives it from the worker count

	Debug Debug
}

// Debug holds debugging and sampling options.
type Debug struct {
	PrintPinning       bool
	PrintLayout        bool
	PrintWorkers       bool
	PrintBench         bool
	VerifyAfterCollect bool

	SamplerInterval  time.Duration
	SamplerAfter     time.Duration
	SamplerMethods   int
	SamplerThreshold int
}

// Default returns the default parameters.
func Default() Config {
	return Config{
		NurseryBytes:       4 * heap.MiB,
		Cementing:          true,
		CementThreshold:    1000,
		StealableStackSize: 512,
		Debug: Debug{
			SamplerInterval:  100 * time.Millisecond,
			SamplerAfter:     0,
			SamplerMethods:   10,
			SamplerThreshold: 1,
		},
	}
}

type option struct {
	name string
	// set applies the option. val is "" for a bare option.
	set func(c *Config, val string) error
}

func boolOpt(name string, f func(c *Config) *bool, v bool) option {
	return option{name, func(c *Config, val string) error {
		if val != "" {
			return fmt.Errorf("option %s takes no value", name)
		}
		*f(c) = v
		return nil
	}}
}

func intOpt(name string, f func(c *Config) *int) option {
	return option{name, func(c *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("option %s: bad value %q", name, val)
		}
		*f(c) = n
		return nil
	}}
}

func sizeOpt(name string, f func(c *Config) *heap.Bytes) option {
	return option{name, func(c *Config, val string) error {
		n, err := ParseSize(val)
		if err != nil {
			return fmt.Errorf("option %s: %w", name, err)
		}
		*f(c) = n
		return nil
	}}
}

func msOpt(name string, f func(c *Config) *time.Duration) option {
	return option{name, func(c *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return fmt.Errorf("option %s: bad value %q", name, val)
		}
		*f(c) = time.Duration(n) * time.Millisecond
		return nil
	}}
}

var paramOpts = []option{
	intOpt("workers", func(c *Config) *int { return &c.Workers }),
	sizeOpt("nursery-size", func(c *Config) *heap.Bytes { return &c.NurseryBytes }),
	sizeOpt("max-heap-size", func(c *Config) *heap.Bytes { return &c.MaxHeapBytes }),
	boolOpt("cementing", func(c *Config) *bool { return &c.Cementing }, true),
	boolOpt("no-cementing", func(c *Config) *bool { return &c.Cementing }, false),
	intOpt("cement-threshold", func(c *Config) *int { return &c.CementThreshold }),
	{"major", func(c *Config, val string) error {
		switch val {
		case "marksweep":
			c.ConcurrentSweep = false
		case "marksweep-conc":
			c.ConcurrentSweep = true
		default:
			return fmt.Errorf("unknown major collector %q", val)
		}
		return nil
	}},
	intOpt("stealable-stack-size", func(c *Config) *int { return &c.StealableStackSize }),
	intOpt("split-count", func(c *Config) *int { return &c.SplitCount }),
}

var debugOpts = []option{
	boolOpt("print-pinning", func(c *Config) *bool { return &c.Debug.PrintPinning }, true),
	boolOpt("print-layout", func(c *Config) *bool { return &c.Debug.PrintLayout }, true),
	boolOpt("print-workers", func(c *Config) *bool { return &c.Debug.PrintWorkers }, true),
	boolOpt("print-bench", func(c *Config) *bool { return &c.Debug.PrintBench }, true),
	boolOpt("verify-after-collect", func(c *Config) *bool { return &c.Debug.VerifyAfterCollect }, true),
	msOpt("sampler-interval", func(c *Config) *time.Duration { return &c.Debug.SamplerInterval }),
	msOpt("sampler-after", func(c *Config) *time.Duration { return &c.Debug.SamplerAfter }),
	intOpt("sampler-methods", func(c *Config) *int { return &c.Debug.SamplerMethods }),
	intOpt("sampler-threshold", func(c *Config) *int { return &c.Debug.SamplerThreshold }),
}

// Parse applies the options in params and debug to the defaults. It
// returns the resulting Config and, if any option was unknown or
// malformed, an error joining one error per bad option. Bad options are
// skipped; the rest still apply.
func Parse(params, debug string) (Config, error) {
	c := Default()
	var errs []error
	errs = apply(&c, params, paramOpts, errs)
	errs = apply(&c, debug, debugOpts, errs)
	if c.SamplerIntervalInvalid() {
		errs = append(errs, fmt.Errorf("sampler-interval must be positive"))
		c.Debug.SamplerInterval = Default().Debug.SamplerInterval
	}
	return c, errors.Join(errs...)
}

// SamplerIntervalInvalid reports whether the sampling interval is
// unusable.
func (c *Config) SamplerIntervalInvalid() bool {
	return c.Debug.SamplerInterval <= 0
}

func apply(c *Config, s string, opts []option, errs []error) []error {
	for p := s; p != ""; {
		field := ""
		i := strings.IndexByte(p, ',')
		if i < 0 {
			field, p = p, ""
		} else {
			field, p = p[:i], p[i+1:]
		}
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, val, _ := strings.Cut(field, "=")
		found := false
		for _, o := range opts {
			if o.name == key {
				found = true
				if err := o.set(c, val); err != nil {
					errs = append(errs, err)
				}
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("unknown option %q", key))
		}
	}
	return errs
}

// FromEnv parses GCLAB_PARAMS and GCLAB_DEBUG. Bad options are logged
// and ignored.
func FromEnv() Config {
	c, err := Parse(os.Getenv("GCLAB_PARAMS"), os.Getenv("GCLAB_DEBUG"))
	if err != nil {
		log.Printf("gclab: %v", err)
	}
	return c
}

// ParseSize parses a byte count with an optional k, m or g suffix.
func ParseSize(s string) (heap.Bytes, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := heap.Bytes(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = heap.KiB
	case 'm', 'M':
		mult = heap.MiB
	case 'g', 'G':
		mult = heap.GiB
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q", s)
	}
	return heap.Bytes(n) * mult, nil
}
