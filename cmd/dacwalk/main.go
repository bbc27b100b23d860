// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Dacwalk inspects the heap of a collector from outside, the way a
// debugger does: it reads only target memory and follows the layout the
// collector publishes.
//
// Usage:
//
//	dacwalk -dump file [-serve] [-http addr] [command...]
//	dacwalk -remote socket [command...]
//
// The target is either a heap dump written by gclab -dump or a dacwalk
// -serve process reached over its Unix socket. With arguments, dacwalk
// runs them as one command and exits. Otherwise it reads commands
// interactively; type help for a list.
//
// With -http, dacwalk also serves a web view of the heap's reference
// cycles.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"

	"gclab/dac"
	"gclab/dac/viewer"
)

var (
	flagDump   = flag.String("dump", "", "read the heap dump `file`")
	flagRemote = flag.String("remote", "", "read target memory from the server at Unix `socket`")
	flagServe  = flag.Bool("serve", false, "serve the dump's memory on a Unix socket until interrupted")
	flagHTTP   = flag.String("http", "", "serve a web view of the heap on `addr`")
	flagCache  = flag.Bool("cache", true, "cache remote reads")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("dacwalk: ")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: dacwalk (-dump file | -remote socket) [flags] [command...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if (*flagDump == "") == (*flagRemote == "") {
		flag.Usage()
		os.Exit(2)
	}

	var t dac.Target
	if *flagDump != "" {
		img, err := readDump(*flagDump)
		if err != nil {
			log.Fatal(err)
		}
		t = img
	} else {
		r, err := dac.Dial("unix", *flagRemote)
		if err != nil {
			log.Fatal(err)
		}
		defer r.Close()
		t = r
		if *flagCache {
			t = dac.NewCachedTarget(r)
		}
	}

	if *flagServe {
		if *flagRemote != "" {
			log.Fatal("-serve requires -dump")
		}
		serve(t)
		return
	}

	w, err := dac.NewWalker(t)
	if err != nil {
		log.Fatal(err)
	}
	sh := &shell{w: w, out: os.Stdout}

	if *flagHTTP != "" {
		g, err := sh.heapGraph()
		if err != nil {
			log.Fatal(err)
		}
		v := &viewer.Server{Addr: *flagHTTP, Graph: g}
		if err := v.Start(); err != nil {
			log.Fatal(err)
		}
		defer v.Close()
		log.Printf("serving heap view at http://%s/", v.Addr)
	}

	if flag.NArg() > 0 {
		if err := sh.exec(strings.Join(flag.Args(), " ")); err != nil && err != errQuit {
			log.Fatal(err)
		}
		return
	}
	if err := interact(sh); err != nil {
		log.Fatal(err)
	}
}

func readDump(path string) (*dac.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := dac.ReadDump(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// serve serves t on a Unix socket until interrupted.
func serve(t dac.Target) {
	srv, err := dac.Listen(t)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("dacwalk -remote %s\n", srv.Addr())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		srv.Shutdown()
	}()
	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}

// interact reads and runs commands until quit or end of input.
func interact(sh *shell) error {
	var items []readline.PrefixCompleterInterface
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(dacwalk) ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := sh.exec(line); err == errQuit {
			return nil
		} else if err != nil {
			fmt.Fprintln(rl.Stderr(), err)
		}
	}
}
