// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dac

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"gclab/gcerr"
)

// The remote protocol carries memory reads. A request is an address
// and a length:
//
//	addr   uint64
//	n      uint32
//
// The response is a status byte. Status 0 is followed by n bytes. Any
// other status is followed by a uint32 message length and the message.
// All integers are little-endian.
const (
	statusOK = iota
	statusUnmapped
	statusError
)

// MaxRemoteRead is the largest read sent in one request. Longer reads
// are split.
const MaxRemoteRead = 1 << 20

// Server serves a Target's memory to remote walkers.
type Server struct {
	// SockPath is the path of the server's socket if it was created
	// by Listen.
	SockPath string

	sockDir string
	l       net.Listener
	t       Target

	connLock sync.Mutex
	conns    map[net.Conn]bool
	closed   bool
	wg       sync.WaitGroup
}

// Listen creates a server for t on a new Unix socket in a temporary
// directory.
func Listen(t Target) (*Server, error) {
	tmpDir, err := os.MkdirTemp("", "dacwalk-")
	if err != nil {
		return nil, fmt.Errorf("creating temporary directory for socket: %w", err)
	}
	sockPath := filepath.Join(tmpDir, "s")
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("creating socket: %w", err)
	}
	s := NewServer(t, l)
	s.SockPath, s.sockDir = sockPath, tmpDir
	return s, nil
}

// NewServer returns a server for t that accepts connections on l.
func NewServer(t Target, l net.Listener) *Server {
	return &Server{l: l, t: t, conns: make(map[net.Conn]bool)}
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

// Shutdown stops the server and closes all connections.
func (s *Server) Shutdown() {
	s.l.Close()
	s.connLock.Lock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.connLock.Unlock()
	s.wg.Wait()
	if s.sockDir != "" {
		os.RemoveAll(s.sockDir)
	}
}

// Run accepts connections until Shutdown.
func (s *Server) Run() error {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			return err
		}

		s.connLock.Lock()
		if s.closed {
			s.connLock.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = true
		s.wg.Add(1)
		s.connLock.Unlock()
		go s.run1(conn)
	}
}

func (s *Server) run1(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connLock.Lock()
		delete(s.conns, conn)
		s.connLock.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	var req [12]byte
	var buf []byte
	for {
		if _, err := io.ReadFull(r, req[:]); err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("dac server: %v", err)
			}
			return
		}
		addr := TAddr(binary.LittleEndian.Uint64(req[0:]))
		n := binary.LittleEndian.Uint32(req[8:])
		if n > MaxRemoteRead {
			writeStatus(w, statusError, fmt.Sprintf("read of %d bytes exceeds limit", n))
		} else {
			if cap(buf) < int(n) {
				buf = make([]byte, n)
			}
			buf = buf[:n]
			if err := s.t.ReadMemory(addr, buf); err != nil {
				status := statusError
				if errors.Is(err, ErrUnmapped) {
					status = statusUnmapped
				}
				writeStatus(w, byte(status), err.Error())
			} else {
				w.WriteByte(statusOK)
				w.Write(buf)
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func writeStatus(w *bufio.Writer, status byte, msg string) {
	var hdr [5]byte
	hdr[0] = status
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(msg)))
	w.Write(hdr[:])
	w.WriteString(msg)
}

// Remote is a Target served by a Server. It is safe for concurrent use;
// requests are serialized.
type Remote struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	err  error // Sticky transport error
}

// Dial connects to a server.
func Dial(network, address string) (*Remote, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, gcerr.WrapExternal("dial", err)
	}
	return NewRemote(conn), nil
}

// NewRemote returns a Remote that talks to a server over conn.
func NewRemote(conn net.Conn) *Remote {
	return &Remote{conn: conn, r: bufio.NewReader(conn)}
}

// Close closes the connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

// ReadMemory implements Target. After a transport error every later
// read fails with the same error.
func (r *Remote) ReadMemory(addr TAddr, buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(buf) > 0 {
		n := min(len(buf), MaxRemoteRead)
		if err := r.read1(addr, buf[:n]); err != nil {
			return err
		}
		addr += TAddr(n)
		buf = buf[n:]
	}
	return nil
}

func (r *Remote) read1(addr TAddr, buf []byte) error {
	if r.err != nil {
		return r.err
	}
	var req [12]byte
	binary.LittleEndian.PutUint64(req[0:], uint64(addr))
	binary.LittleEndian.PutUint32(req[8:], uint32(len(buf)))
	if _, err := r.conn.Write(req[:]); err != nil {
		r.err = gcerr.WrapExternal("remote read", err)
		return r.err
	}
	status, err := r.r.ReadByte()
	if err != nil {
		r.err = gcerr.WrapExternal("remote read", err)
		return r.err
	}
	if status == statusOK {
		if _, err := io.ReadFull(r.r, buf); err != nil {
			r.err = gcerr.WrapExternal("remote read", err)
			return r.err
		}
		return nil
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		r.err = gcerr.WrapExternal("remote read", err)
		return r.err
	}
	msg := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r.r, msg); err != nil {
		r.err = gcerr.WrapExternal("remote read", err)
		return r.err
	}
	if status == statusUnmapped {
		return gcerr.Externalf("remote read", "%s: %w", msg, ErrUnmapped)
	}
	return gcerr.Externalf("remote read", "%s", msg)
}
