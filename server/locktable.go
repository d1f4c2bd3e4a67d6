// The MIT License (MIT)
//
// # Copyright (c) 2024 Sebastian Law
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/SebbyLaw/httpserver/rwlock"
)

// fileLock is one interned URI and its reader/writer lock. The users count
// tracks in-flight requests holding the slot; the slot frees when it drops
// to zero.
type fileLock struct {
	lock  *rwlock.RWLock
	uri   string
	users int
}

// lockTable interns URIs to shared fileLock handles. It holds exactly one
// slot per worker: a worker holds at most one slot at a time, so the table
// can never run out while that invariant holds.
type lockTable struct {
	mu    sync.Mutex
	slots []fileLock
}

func newLockTable(size int) *lockTable {
	t := &lockTable{slots: make([]fileLock, size)}
	for i := range t.slots {
		// writer-preferring: at most one reader between writers
		t.slots[i].lock = rwlock.New(rwlock.NWay, 1)
	}
	return t
}

// acquire returns the slot interning uri, claiming a free slot when the URI
// is not in flight. Exhaustion means the one-slot-per-worker invariant was
// broken and surfaces as an error.
func (t *lockTable) acquire(uri string) (*fileLock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var free *fileLock
	for i := range t.slots {
		s := &t.slots[i]
		if s.users > 0 && s.uri == uri {
			s.users++
			return s, nil
		}
		if free == nil && s.users == 0 {
			free = s
		}
	}

	if free == nil {
		return nil, errors.Errorf("lock table full interning %q", uri)
	}

	free.uri = uri
	free.users = 1
	return free, nil
}

// release drops one user of the slot, freeing it on the last release.
func (t *lockTable) release(s *fileLock) {
	t.mu.Lock()
	if s.users--; s.users == 0 {
		s.uri = ""
	}
	t.mu.Unlock()
}
