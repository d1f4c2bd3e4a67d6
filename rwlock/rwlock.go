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

// Package rwlock implements a reader/writer lock whose priority policy is
// selected at construction.
//
// Three policies are available:
//
//   - Readers: readers bypass waiting writers. Any arriving reader acquires
//     the lock whenever no writer is holding it, even if writers wait.
//   - Writers: writers bypass waiting readers. A waiting writer is admitted
//     before any arriving reader.
//   - NWay: bounded fairness. While at least one writer waits, at most n
//     readers are admitted between two consecutive writers.
//
// All acquisitions are blocking with no timeout and no try-variant. The lock
// is not reentrant; an unlock must pair with a matching lock on the same
// goroutine's critical section.
package rwlock

import "sync"

// Priority selects the admission policy of an RWLock.
type Priority int

const (
	// Readers gives arriving readers precedence over waiting writers.
	Readers Priority = iota
	// Writers gives waiting writers precedence over arriving readers.
	Writers
	// NWay bounds the number of readers admitted between two writers.
	NWay
)

// State for the N_WAY priority policy.
type nwayState struct {
	// the "N" in N-way priority
	n uint32
	// how many readers are currently waiting for the lock
	readersWaiting uint32
	// how many readers have passed since the last writer released the lock
	readersPassed uint32
	// how many writers are currently waiting for the lock,
	// including the writer that is currently holding it, if any
	writersWaiting uint32
	// signals to writers that they can try to acquire the lock
	wrCond *sync.Cond
	// signals to readers that they can try to acquire the lock
	rdCond *sync.Cond
}

// State for the reader priority policy.
type rdPriorityState struct {
	// whether a writer is currently holding the lock
	writerHolding bool
	// how many writers are currently waiting for the lock,
	// not including a writer that is currently holding it
	writersWaiting uint32
	// signals to writers that they can try to acquire the lock
	wrCond *sync.Cond
}

// State for the writer priority policy.
type wrPriorityState struct {
	// how many writers are currently waiting for the lock,
	// including the writer that is currently holding it, if any
	writersWaiting uint32
	// how many readers are currently waiting for the lock
	readersWaiting uint32
	// signals to readers that they can try to acquire the lock
	rdCond *sync.Cond
}

// RWLock is a shared/exclusive lock with a fixed priority policy.
// The zero value is not usable; construct with New.
type RWLock struct {
	priority Priority

	// how many readers are currently holding the lock
	readersHolding uint32

	// mutex guarding internal state
	mu sync.Mutex

	// binary semaphore implementing the write lock. It holds one token when
	// the lock is free; taken iff readers hold the lock or a writer does.
	writeLock chan struct{}

	// per-policy state; only the record matching priority is used
	nway nwayState
	rd   rdPriorityState
	wr   wrPriorityState
}

// New creates an RWLock with the given priority policy. The n argument is
// only meaningful for NWay and must be at least 1; New returns nil for an
// NWay lock with n == 0 or for an unknown priority.
func New(p Priority, n uint32) *RWLock {
	rw := &RWLock{
		priority:  p,
		writeLock: make(chan struct{}, 1),
	}
	rw.writeLock <- struct{}{}

	switch p {
	case NWay:
		if n == 0 {
			// invalid n
			return nil
		}
		rw.nway.n = n
		rw.nway.wrCond = sync.NewCond(&rw.mu)
		rw.nway.rdCond = sync.NewCond(&rw.mu)
	case Readers:
		rw.rd.wrCond = sync.NewCond(&rw.mu)
	case Writers:
		rw.wr.rdCond = sync.NewCond(&rw.mu)
	default:
		return nil
	}

	return rw
}

// ReaderLock acquires the lock shared, blocking until the policy admits the
// caller.
func (rw *RWLock) ReaderLock() {
	switch rw.priority {
	case NWay:
		rw.nwayReaderLock()
	case Readers:
		rw.rdPriorityReaderLock()
	case Writers:
		rw.wrPriorityReaderLock()
	}
}

// ReaderUnlock releases a shared acquisition.
func (rw *RWLock) ReaderUnlock() {
	switch rw.priority {
	case NWay:
		rw.nwayReaderUnlock()
	case Readers:
		rw.rdPriorityReaderUnlock()
	case Writers:
		rw.wrPriorityReaderUnlock()
	}
}

// WriterLock acquires the lock exclusive, blocking until the policy admits
// the caller.
func (rw *RWLock) WriterLock() {
	switch rw.priority {
	case NWay:
		rw.nwayWriterLock()
	case Readers:
		rw.rdPriorityWriterLock()
	case Writers:
		rw.wrPriorityWriterLock()
	}
}

// WriterUnlock releases an exclusive acquisition.
func (rw *RWLock) WriterUnlock() {
	switch rw.priority {
	case NWay:
		rw.nwayWriterUnlock()
	case Readers:
		rw.rdPriorityWriterUnlock()
	case Writers:
		rw.wrPriorityWriterUnlock()
	}
}

// READER PRIORITY
//
// Any number of readers can hold the lock simultaneously, one writer at a
// time. The lock is unfair in favor of readers: readers always get the lock
// unless a writer is holding it.

func (rw *RWLock) rdPriorityReaderLock() {
	rw.mu.Lock()

	if rw.readersHolding == 0 {
		// first reader takes the write lock
		<-rw.writeLock
	}

	rw.readersHolding++

	rw.mu.Unlock()
}

func (rw *RWLock) rdPriorityReaderUnlock() {
	rw.mu.Lock()
	rw.readersHolding--

	if rw.readersHolding == 0 {
		// last reader releases the write lock
		rw.writeLock <- struct{}{}
		if rw.rd.writersWaiting > 0 {
			rw.rd.wrCond.Signal()
		}
	}

	rw.mu.Unlock()
}

func (rw *RWLock) rdPriorityWriterLock() {
	rw.mu.Lock()

	rw.rd.writersWaiting++
	for rw.readersHolding > 0 || rw.rd.writerHolding {
		// wait until there are no readers before trying to take the write lock
		rw.rd.wrCond.Wait()
	}

	rw.rd.writersWaiting--
	rw.rd.writerHolding = true
	rw.mu.Unlock()
	<-rw.writeLock
}

func (rw *RWLock) rdPriorityWriterUnlock() {
	// release the semaphore before taking the mutex: a reader may be holding
	// the mutex waiting on the semaphore, and it should be let through first
	rw.writeLock <- struct{}{}

	rw.mu.Lock()

	rw.rd.writerHolding = false
	if rw.readersHolding == 0 && rw.rd.writersWaiting > 0 {
		rw.rd.wrCond.Signal()
	}

	rw.mu.Unlock()
}

// WRITER PRIORITY
//
// Any number of readers can hold the lock simultaneously, one writer at a
// time. The lock is unfair in favor of writers: a waiting writer always gets
// the lock before an arriving reader.

func (rw *RWLock) wrPriorityReaderLock() {
	rw.mu.Lock()

	rw.wr.readersWaiting++
	for rw.wr.writersWaiting > 0 {
		// wait until there are no writers before trying to take the write lock
		rw.wr.rdCond.Wait()
	}

	if rw.readersHolding == 0 {
		// first reader takes the write lock
		<-rw.writeLock
	}

	rw.wr.readersWaiting--
	rw.readersHolding++

	rw.mu.Unlock()
}

func (rw *RWLock) wrPriorityReaderUnlock() {
	rw.mu.Lock()

	rw.readersHolding--
	if rw.readersHolding == 0 {
		// last reader releases the write lock
		rw.writeLock <- struct{}{}
	} else if rw.wr.writersWaiting == 0 && rw.wr.readersWaiting > 0 {
		rw.wr.rdCond.Broadcast()
	}

	rw.mu.Unlock()
}

func (rw *RWLock) wrPriorityWriterLock() {
	rw.mu.Lock()

	rw.wr.writersWaiting++
	rw.mu.Unlock()
	<-rw.writeLock
}

func (rw *RWLock) wrPriorityWriterUnlock() {
	rw.mu.Lock()

	rw.wr.writersWaiting--
	if rw.wr.writersWaiting == 0 && rw.wr.readersWaiting > 0 {
		// no more writers waiting, wake up the readers
		rw.wr.rdCond.Broadcast()
	}

	rw.writeLock <- struct{}{}
	rw.mu.Unlock()
}

// N-WAY PRIORITY
//
// Any number of readers can hold the lock simultaneously, one writer at a
// time. With no writers waiting, readers get the lock; with no readers
// waiting, writers get the lock. While a writer waits, at most n readers can
// get the lock before the writer is guaranteed to get it. readersPassed
// counts admissions in the current generation and resets each time a writer
// releases the lock.

func (rw *RWLock) nwayReaderLock() {
	rw.mu.Lock()

	rw.nway.readersWaiting++
	// admitted once fewer than n readers have passed or no writer is waiting
	for rw.nway.readersPassed >= rw.nway.n && rw.nway.writersWaiting > 0 {
		rw.nway.rdCond.Wait()
	}

	if rw.nway.readersPassed < rw.nway.n {
		// capped to avoid overflow
		rw.nway.readersPassed++
	}

	rw.nway.readersWaiting--

	if rw.readersHolding == 0 {
		// first reader takes the write lock
		<-rw.writeLock
	}

	rw.readersHolding++

	rw.mu.Unlock()
}

func (rw *RWLock) nwayReaderUnlock() {
	rw.mu.Lock()

	rw.readersHolding--
	if rw.readersHolding == 0 {
		// last reader releases the write lock
		rw.writeLock <- struct{}{}

		if rw.nway.writersWaiting > 0 {
			if rw.nway.readersPassed >= rw.nway.n || rw.nway.readersWaiting == 0 {
				// the generation is exhausted or no readers want in
				rw.nway.wrCond.Signal()
			} else {
				// wake only as many readers as the generation still admits;
				// a broadcast here stampedes when readersWaiting >> n
				shouldWake := rw.nway.n - rw.nway.readersPassed
				if shouldWake > rw.nway.readersWaiting {
					rw.nway.rdCond.Broadcast()
				} else {
					for i := uint32(0); i < shouldWake; i++ {
						rw.nway.rdCond.Signal()
					}
				}
			}
		} else {
			// no writers waiting
			rw.nway.rdCond.Broadcast()
		}
	}

	rw.mu.Unlock()
}

func (rw *RWLock) nwayWriterLock() {
	rw.mu.Lock()

	rw.nway.writersWaiting++
	// admitted once no readers hold the lock and the current generation has
	// either run out of admissions or out of interested readers
	for rw.readersHolding > 0 || (rw.nway.readersPassed < rw.nway.n && rw.nway.readersWaiting > 0) {
		rw.nway.wrCond.Wait()
	}

	rw.mu.Unlock()
	<-rw.writeLock
}

func (rw *RWLock) nwayWriterUnlock() {
	// release the semaphore before taking the mutex, same as reader priority
	rw.writeLock <- struct{}{}

	rw.mu.Lock()

	rw.nway.writersWaiting--
	// a writer release starts a new generation
	rw.nway.readersPassed = 0

	if rw.nway.readersWaiting > 0 {
		// wake at most n readers
		if rw.nway.readersWaiting > rw.nway.n {
			for i := uint32(0); i < rw.nway.n; i++ {
				rw.nway.rdCond.Signal()
			}
		} else {
			rw.nway.rdCond.Broadcast()
		}
	} else {
		rw.nway.wrCond.Signal()
	}

	rw.mu.Unlock()
}
