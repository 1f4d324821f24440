package encoder

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type WavEncoder struct {
	enc         *wav.Encoder
	totalFrames uint64
}

func NewWav(ws io.WriteSeeker) *WavEncoder {
	return &WavEncoder{
		enc: wav.NewEncoder(ws, SampleRate, BitsPerSample, Channels, 1),
	}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: BitsPerSample,
	}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav block: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	return e.enc.Close()
}

func (e *WavEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

// WriteWAV encodes mono 16 kHz samples into a WAV file at path.
func WriteWAV(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	enc := NewWav(f)
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			f.Close()
			return err
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return f.Close()
}
