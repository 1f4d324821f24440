package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Fake is a scriptable Model for tests. It records call counts and tracks
// whether invocations ever overlapped.
type Fake struct {
	Segments []Segment
	Err      error
	Info     string
	Delay    time.Duration
	Gate     chan struct{} // when non-nil, Transcribe blocks until closed

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu     sync.Mutex
	calls  int
	closed int
}

func (f *Fake) Factory() Factory {
	return func(string) (Model, error) {
		return f, nil
	}
}

func (f *Fake) Transcribe(samples []float32, threads int) ([]Segment, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Gate != nil {
		<-f.Gate
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Segments, nil
}

func (f *Fake) SystemInfo() string {
	if f.Info != "" {
		return f.Info
	}
	return "FAKE = 1"
}

func (f *Fake) BenchMemcpy(threads int) (string, error) {
	return "memcpy: fake\n", nil
}

func (f *Fake) BenchMatMul(threads int) (string, error) {
	return "ggml_mul_mat: fake\n", nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) MaxInFlight() int {
	return int(f.maxInFlight.Load())
}
