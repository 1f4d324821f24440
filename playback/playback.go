// Package playback plays recorded clips through the audio device layer.
package playback

import (
	"encoding/binary"
	"fmt"
	"sync"

	"murmur/audio"
	"murmur/decoder"
)

// Player plays at most one clip at a time; starting a new clip stops the
// previous one.
type Player struct {
	ctx audio.Context

	mu  sync.Mutex
	dev audio.PlaybackDevice
}

func New(ctx audio.Context) *Player {
	return &Player{ctx: ctx}
}

// clipReader hands out S16LE bytes to the device callback.
type clipReader struct {
	mu   sync.Mutex
	data []byte
	pos  int
}

func (r *clipReader) read(out []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(out, r.data[r.pos:])
	r.pos += n
	return n
}

// PlayFile decodes path and starts playing it. Playback runs until the
// clip ends or Stop is called.
func (p *Player) PlayFile(path string) error {
	samples, err := decoder.Decode(path)
	if err != nil {
		return fmt.Errorf("playback decode: %w", err)
	}

	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}

	p.Stop()

	reader := &clipReader{data: pcm}
	dev, err := p.ctx.NewPlayback(audio.StreamConfig{
		SampleRate: decoder.SampleRate,
		Channels:   1,
	}, reader.read)
	if err != nil {
		return fmt.Errorf("playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		return fmt.Errorf("playback start: %w", err)
	}

	p.mu.Lock()
	p.dev = dev
	p.mu.Unlock()
	return nil
}

// Stop halts any playing clip. Safe to call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	dev := p.dev
	p.dev = nil
	p.mu.Unlock()
	if dev != nil {
		dev.Stop()
		dev.Close()
	}
}
