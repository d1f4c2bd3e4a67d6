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

// Package queue provides a bounded FIFO queue safe for any number of
// concurrent producers and consumers.
package queue

import "sync"

// Queue is a fixed-capacity circular buffer. Push blocks while the queue is
// full and Pop blocks while it is empty.
//
// Producers and consumers never contend on the same mutex: the head index is
// guarded by the producer lock and the tail index by the consumer lock. Two
// counting semaphores provide the backpressure in both directions.
type Queue[T any] struct {
	// capacity of the queue
	size int
	// circular buffer
	buf []T

	head int
	tail int

	// lock for producers
	wrLock sync.Mutex
	// lock for consumers
	rdLock sync.Mutex

	// semaphore for consumers, counts filled slots
	rdSem chan struct{}
	// semaphore for producers, counts empty slots
	wrSem chan struct{}
}

// New creates a queue with the given capacity.
// Returns nil if size is not positive.
func New[T any](size int) *Queue[T] {
	if size <= 0 {
		// bad queue size
		return nil
	}

	q := &Queue[T]{
		size:  size,
		buf:   make([]T, size),
		rdSem: make(chan struct{}, size),
		wrSem: make(chan struct{}, size),
	}

	// every slot starts out empty
	for i := 0; i < size; i++ {
		q.wrSem <- struct{}{}
	}

	return q
}

// Push appends elem, blocking while the queue is full.
// It returns false only on a nil queue.
func (q *Queue[T]) Push(elem T) bool {
	if q == nil {
		return false
	}

	<-q.wrSem

	q.wrLock.Lock()
	q.buf[q.head] = elem
	q.head = (q.head + 1) % q.size
	q.wrLock.Unlock()

	q.rdSem <- struct{}{}

	return true
}

// Pop removes and returns the oldest element, blocking while the queue is
// empty. It returns false only on a nil queue.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}

	<-q.rdSem

	q.rdLock.Lock()
	elem := q.buf[q.tail]
	q.buf[q.tail] = zero
	q.tail = (q.tail + 1) % q.size
	q.rdLock.Unlock()

	q.wrSem <- struct{}{}

	return elem, true
}
