// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package threadpool

// threadID returns -1: without a thread ID, IsPoolThread always reports
// false.
func threadID() int {
	return -1
}
