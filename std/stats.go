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
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Stats collects process-wide request counters. All fields are updated
// atomically; read them through Copy.
type Stats struct {
	Accepted     uint64 // connections accepted
	GetServed    uint64 // GET requests dispatched
	PutServed    uint64 // PUT requests dispatched
	Status2xx    uint64 // responses with 200/201
	Status4xx    uint64 // responses with 400/403/404
	Status5xx    uint64 // responses with 500/501/505
	BytesRead    uint64 // body bytes read from clients
	BytesWritten uint64 // body bytes streamed to clients
}

// DefaultStats is the counter set the server updates.
var DefaultStats = new(Stats)

func (s *Stats) AddAccepted()            { atomic.AddUint64(&s.Accepted, 1) }
func (s *Stats) AddGet()                 { atomic.AddUint64(&s.GetServed, 1) }
func (s *Stats) AddPut()                 { atomic.AddUint64(&s.PutServed, 1) }
func (s *Stats) AddBytesRead(n int64)    { atomic.AddUint64(&s.BytesRead, uint64(n)) }
func (s *Stats) AddBytesWritten(n int64) { atomic.AddUint64(&s.BytesWritten, uint64(n)) }

// AddStatus records one emitted response by status class.
func (s *Stats) AddStatus(status int) {
	switch {
	case status < 400:
		atomic.AddUint64(&s.Status2xx, 1)
	case status < 500:
		atomic.AddUint64(&s.Status4xx, 1)
	default:
		atomic.AddUint64(&s.Status5xx, 1)
	}
}

// Copy returns a consistent-enough snapshot for logging.
func (s *Stats) Copy() Stats {
	var d Stats
	d.Accepted = atomic.LoadUint64(&s.Accepted)
	d.GetServed = atomic.LoadUint64(&s.GetServed)
	d.PutServed = atomic.LoadUint64(&s.PutServed)
	d.Status2xx = atomic.LoadUint64(&s.Status2xx)
	d.Status4xx = atomic.LoadUint64(&s.Status4xx)
	d.Status5xx = atomic.LoadUint64(&s.Status5xx)
	d.BytesRead = atomic.LoadUint64(&s.BytesRead)
	d.BytesWritten = atomic.LoadUint64(&s.BytesWritten)
	return d
}

// Header returns the column names matching ToSlice.
func (s *Stats) Header() []string {
	return []string{
		"Accepted", "GetServed", "PutServed",
		"Status2xx", "Status4xx", "Status5xx",
		"BytesRead", "BytesWritten",
	}
}

// ToSlice returns the current values formatted for a CSV row.
func (s *Stats) ToSlice() []string {
	d := s.Copy()
	return []string{
		fmt.Sprint(d.Accepted), fmt.Sprint(d.GetServed), fmt.Sprint(d.PutServed),
		fmt.Sprint(d.Status2xx), fmt.Sprint(d.Status4xx), fmt.Sprint(d.Status5xx),
		fmt.Sprint(d.BytesRead), fmt.Sprint(d.BytesWritten),
	}
}

// WriteStatsRow appends one timestamped CSV row of DefaultStats to the file
// at path. The filename part of path is passed through time.Now().Format, so
// a path like ./stats-20060102.log rolls daily. A header row is written when
// the file is empty.
func WriteStatsRow(path string) error {
	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	// write header in empty file
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, DefaultStats.Header()...)); err != nil {
			return err
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, DefaultStats.ToSlice()...)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// StatsLogger periodically appends DefaultStats to path. It returns only when
// disabled or after a failed write; run it in its own goroutine. A zero
// interval or empty path disables it.
func StatsLogger(path string, interval int) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := WriteStatsRow(path); err != nil {
			log.Println(err)
			return
		}
	}
}
