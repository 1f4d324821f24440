package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/tosone/minimp3"
)

func decodeMP3(data []byte) (clip, error) {
	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return clip{}, fmt.Errorf("decoding mp3: %w", err)
	}
	if len(pcm) < 2 {
		return clip{}, fmt.Errorf("decoding mp3: no audio frames")
	}

	// minimp3 emits S16LE.
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768
	}

	return clip{
		samples:  samples,
		channels: dec.Channels,
		rate:     dec.SampleRate,
	}, nil
}
