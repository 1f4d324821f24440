package decoder

import (
	"bytes"
	"fmt"

	"github.com/go-audio/wav"
)

func decodeWAV(data []byte) (clip, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return clip{}, fmt.Errorf("decoding wav: not a valid wav file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return clip{}, fmt.Errorf("decoding wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return clip{}, fmt.Errorf("decoding wav: missing format")
	}

	scale := float32(int64(1) << (d.BitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / scale
	}

	return clip{
		samples:  samples,
		channels: buf.Format.NumChannels,
		rate:     buf.Format.SampleRate,
	}, nil
}
