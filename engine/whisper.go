//go:build whispercpp

package engine

import (
	"fmt"
	"io"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperModel backs Model with the whisper.cpp bindings.
type whisperModel struct {
	model whisper.Model
}

func New(path string) (Model, error) {
	m, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("engine: load model %q: %w", path, err)
	}
	return &whisperModel{model: m}, nil
}

func (m *whisperModel) Transcribe(samples []float32, threads int) ([]Segment, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("engine: create context: %w", err)
	}
	ctx.SetThreads(uint(threads))

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("engine: process: %w", err)
	}

	var segments []Segment
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("engine: next segment: %w", err)
		}
		segments = append(segments, Segment{
			Start: int64(seg.Start / (10 * time.Millisecond)),
			End:   int64(seg.End / (10 * time.Millisecond)),
			Text:  seg.Text,
		})
	}
	return segments, nil
}

func (m *whisperModel) SystemInfo() string {
	ctx, err := m.model.NewContext()
	if err != nil {
		return ""
	}
	return ctx.SystemInfo()
}

// The bindings do not export whisper's built-in bench entry points, so the
// reports come from the Go-level benchmarks in bench.go.
func (m *whisperModel) BenchMemcpy(threads int) (string, error) {
	return benchMemcpy(threads), nil
}

func (m *whisperModel) BenchMatMul(threads int) (string, error) {
	return benchMatMul(threads), nil
}

func (m *whisperModel) Close() error {
	return m.model.Close()
}
