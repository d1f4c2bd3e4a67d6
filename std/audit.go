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

package std

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Sink is the process-wide audit destination. Lines are serialized under a
// mutex so concurrent workers never interleave records.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func() error
	closer io.Closer
}

// NewSink wraps an arbitrary writer, typically os.Stderr.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// OpenSink appends to the audit file at path. With compress set the file is
// written as a snappy stream, flushed per line so records survive a crash.
func OpenSink(path string, compress bool) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "open audit log")
	}

	if compress {
		w := snappy.NewBufferedWriter(f)
		return &Sink{w: w, flush: w.Flush, closer: f}, nil
	}
	return &Sink{w: f, closer: f}, nil
}

// Log appends one audit record:
//
//	<METHOD>,/<uri>,<status>,<request-id>\n
//
// The caller must still hold the per-URI lock of the operation being logged.
func (s *Sink) Log(method Method, uri string, status int, requestID string) {
	s.mu.Lock()
	fmt.Fprintf(s.w, "%s,/%s,%d,%s\n", method, uri, status, requestID)
	if s.flush != nil {
		s.flush()
	}
	s.mu.Unlock()
}

// Close flushes and closes a file-backed sink. It is a no-op for writer
// sinks created with NewSink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flush != nil {
		if err := s.flush(); err != nil {
			return err
		}
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
