// Package engine wraps the native transcription library. A Model is one
// loaded acoustic model instance; a Handle serializes every call against
// it, because the native engine forbids concurrent access to a single
// instance.
package engine

import "errors"

// Segment is one contiguous span of recognized speech, timed in the
// engine's native ticks (10 ms units).
type Segment struct {
	Start int64
	End   int64
	Text  string
}

// Model is one loaded model instance. Implementations are not safe for
// concurrent use; callers go through a Handle.
type Model interface {
	// Transcribe runs a full pass over mono 16 kHz float32 samples and
	// returns segments in the engine's emission order.
	Transcribe(samples []float32, threads int) ([]Segment, error)
	// SystemInfo reports the engine build capabilities (SIMD flags etc).
	SystemInfo() string
	// BenchMemcpy measures memory bandwidth and returns a report.
	BenchMemcpy(threads int) (string, error)
	// BenchMatMul measures matrix-multiply throughput and returns a report.
	BenchMatMul(threads int) (string, error)
	Close() error
}

// Factory constructs a Model from a model file on disk.
type Factory func(path string) (Model, error)

// ErrUnavailable is returned by New when the binary was built without the
// native backend.
var ErrUnavailable = errors.New("engine: native backend not built in (build with -tags whispercpp)")

// ErrReleased is returned by Handle methods after Release.
var ErrReleased = errors.New("engine: handle released")
