package rwlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadArguments(t *testing.T) {
	assert.Nil(t, New(NWay, 0))
	assert.Nil(t, New(Priority(42), 1))
	assert.NotNil(t, New(Readers, 0))
	assert.NotNil(t, New(Writers, 0))
	assert.NotNil(t, New(NWay, 1))
}

// checkMutualExclusion hammers the lock with mixed readers and writers and
// asserts the core invariant: at most one writer at a time, and never a
// reader alongside a writer.
func checkMutualExclusion(t *testing.T, rw *RWLock) {
	t.Helper()

	var readers, writers int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		if i%4 == 0 {
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					rw.WriterLock()
					assert.EqualValues(t, 1, atomic.AddInt32(&writers, 1))
					assert.EqualValues(t, 0, atomic.LoadInt32(&readers))
					atomic.AddInt32(&writers, -1)
					rw.WriterUnlock()
				}
			}()
		} else {
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					rw.ReaderLock()
					atomic.AddInt32(&readers, 1)
					assert.EqualValues(t, 0, atomic.LoadInt32(&writers))
					atomic.AddInt32(&readers, -1)
					rw.ReaderUnlock()
				}
			}()
		}
	}

	wg.Wait()
}

func TestMutualExclusionReaders(t *testing.T) {
	checkMutualExclusion(t, New(Readers, 0))
}

func TestMutualExclusionWriters(t *testing.T) {
	checkMutualExclusion(t, New(Writers, 0))
}

func TestMutualExclusionNWay(t *testing.T) {
	checkMutualExclusion(t, New(NWay, 4))
}

func TestReadersShareTheLock(t *testing.T) {
	for _, rw := range []*RWLock{New(Readers, 0), New(Writers, 0), New(NWay, 8)} {
		done := make(chan struct{})
		go func() {
			// three concurrent shared holders, none may block
			rw.ReaderLock()
			rw.ReaderLock()
			rw.ReaderLock()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("concurrent readers blocked each other")
		}

		rw.ReaderUnlock()
		rw.ReaderUnlock()
		rw.ReaderUnlock()
	}
}

func TestWriterPriorityAdmitsWriterFirst(t *testing.T) {
	rw := New(Writers, 0)

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	rw.ReaderLock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rw.WriterLock()
		record("writer")
		rw.WriterUnlock()
	}()

	// let the writer start waiting before the late reader arrives
	time.Sleep(20 * time.Millisecond)

	go func() {
		defer wg.Done()
		rw.ReaderLock()
		record("reader")
		rw.ReaderUnlock()
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Empty(t, order, "nobody may be admitted while the first reader holds the lock")
	mu.Unlock()

	rw.ReaderUnlock()
	wg.Wait()

	assert.Equal(t, []string{"writer", "reader"}, order)
}

func TestReaderPriorityBypassesWaitingWriter(t *testing.T) {
	rw := New(Readers, 0)

	rw.ReaderLock()

	writerDone := make(chan struct{})
	go func() {
		rw.WriterLock()
		rw.WriterUnlock()
		close(writerDone)
	}()

	// let the writer start waiting
	time.Sleep(20 * time.Millisecond)

	// an arriving reader is admitted immediately while no writer holds the
	// lock, regardless of the waiting writer
	admitted := make(chan struct{})
	go func() {
		rw.ReaderLock()
		close(admitted)
	}()

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("arriving reader was blocked behind a waiting writer")
	}

	rw.ReaderUnlock()
	rw.ReaderUnlock()

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock after the readers left")
	}
}

func TestNWayFairnessBound(t *testing.T) {
	const n = 2
	rw := New(NWay, n)

	// hold the lock shared so the writer has to wait
	rw.ReaderLock()

	writerAcquired := make(chan struct{})
	go func() {
		rw.WriterLock()
		close(writerAcquired)
		rw.WriterUnlock()
	}()

	// let the writer start waiting
	time.Sleep(20 * time.Millisecond)

	var admittedBefore int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rw.ReaderLock()
			select {
			case <-writerAcquired:
			default:
				atomic.AddInt32(&admittedBefore, 1)
			}
			time.Sleep(5 * time.Millisecond)
			rw.ReaderUnlock()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	rw.ReaderUnlock()

	wg.Wait()
	<-writerAcquired

	// once the writer was waiting, at most n further readers got in first;
	// the bound includes the generation's earlier admissions
	assert.LessOrEqual(t, atomic.LoadInt32(&admittedBefore), int32(n))
}

func TestNWayAdmitsReadersBetweenWriters(t *testing.T) {
	rw := New(NWay, 1)

	var counter uint32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				rw.WriterLock()
				counter++
				rw.WriterUnlock()

				rw.ReaderLock()
				_ = counter
				rw.ReaderUnlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8*200, counter)
}
