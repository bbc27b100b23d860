// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threadpool

import "golang.org/x/sys/unix"

// threadID returns the calling OS thread's ID.
func threadID() int {
	return unix.Gettid()
}
