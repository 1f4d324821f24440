// Package decoder converts audio files into the normalized form the
// transcription engine expects: mono 16 kHz float32 PCM in [-1, 1].
package decoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SampleRate is the rate every decoded clip is resampled to.
const SampleRate = 16000

// clip is an intermediate decode result before normalization.
type clip struct {
	samples  []float32 // interleaved, scaled to [-1, 1]
	channels int
	rate     int
}

// Decode reads an audio file and returns normalized mono 16 kHz samples.
// WAV, FLAC and MP3 containers are supported; the container is picked by
// extension with a header sniff as fallback.
func Decode(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("decoding %s: empty file", path)
	}

	c, err := decodeClip(path, data)
	if err != nil {
		return nil, err
	}
	return normalize(c), nil
}

func decodeClip(path string, data []byte) (clip, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(data)
	case ".flac":
		return decodeFLAC(data)
	case ".mp3":
		return decodeMP3(data)
	}

	// No usable extension: sniff the header.
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return decodeWAV(data)
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return decodeFLAC(data)
	default:
		return decodeMP3(data)
	}
}

func normalize(c clip) []float32 {
	mono := downmix(c.samples, c.channels)
	return resample(mono, c.rate, SampleRate)
}
