package engine

import (
	"sync"

	"murmur/log"
)

// Handle owns one Model and funnels every call through a single worker
// goroutine. The native engine forbids concurrent calls on one instance;
// serializing here makes that a structural guarantee instead of a caller
// convention.
type Handle struct {
	mu       sync.Mutex
	released bool
	jobs     chan func()
	model    Model
}

func NewHandle(model Model) *Handle {
	h := &Handle{
		model: model,
		jobs:  make(chan func()),
	}
	go func() {
		for job := range h.jobs {
			job()
		}
	}()
	return h
}

// submit runs fn on the worker and waits for it. Submissions are funneled
// under the mutex so Release can close the jobs channel safely.
func (h *Handle) submit(fn func()) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ErrReleased
	}
	done := make(chan struct{})
	h.jobs <- func() {
		defer close(done)
		fn()
	}
	h.mu.Unlock()
	<-done
	return nil
}

// Transcribe runs a full transcription and formats the result. With
// timestamps each segment renders as "[start --> end]: text" on its own
// line; without, segment texts are concatenated as the engine emitted
// them.
func (h *Handle) Transcribe(samples []float32, threads int, withTimestamps bool) (string, error) {
	var (
		text string
		err  error
	)
	if serr := h.submit(func() {
		var segments []Segment
		segments, err = h.model.Transcribe(samples, threads)
		if err != nil {
			return
		}
		text = FormatSegments(segments, withTimestamps)
	}); serr != nil {
		return "", serr
	}
	return text, err
}

func (h *Handle) SystemInfo() (string, error) {
	var info string
	if err := h.submit(func() {
		info = h.model.SystemInfo()
	}); err != nil {
		return "", err
	}
	return info, nil
}

func (h *Handle) BenchMemcpy(threads int) (string, error) {
	var (
		report string
		err    error
	)
	if serr := h.submit(func() {
		report, err = h.model.BenchMemcpy(threads)
	}); serr != nil {
		return "", serr
	}
	return report, err
}

func (h *Handle) BenchMatMul(threads int) (string, error) {
	var (
		report string
		err    error
	)
	if serr := h.submit(func() {
		report, err = h.model.BenchMatMul(threads)
	}); serr != nil {
		return "", serr
	}
	return report, err
}

// Release frees the model on the worker and shuts it down. Safe to call
// more than once; close failures are logged and swallowed.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	done := make(chan struct{})
	h.jobs <- func() {
		defer close(done)
		if err := h.model.Close(); err != nil {
			log.Warnf("engine release: %v", err)
		}
	}
	close(h.jobs)
	h.mu.Unlock()
	<-done
}
