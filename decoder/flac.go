package decoder

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

func decodeFLAC(data []byte) (clip, error) {
	stream, err := flac.Parse(bytes.NewReader(data))
	if err != nil {
		return clip{}, fmt.Errorf("decoding flac: %w", err)
	}

	channels := int(stream.Info.NChannels)
	scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))

	var samples []float32
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return clip{}, fmt.Errorf("decoding flac frame: %w", err)
		}
		n := f.Subframes[0].NSamples
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, float32(f.Subframes[ch].Samples[i])/scale)
			}
		}
	}

	return clip{
		samples:  samples,
		channels: channels,
		rate:     int(stream.Info.SampleRate),
	}, nil
}
