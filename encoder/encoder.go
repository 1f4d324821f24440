// Package encoder turns captured PCM into container files. WAV is the
// recording format; FLAC is an optional archival format.
package encoder

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	TotalFrames() uint64
}
