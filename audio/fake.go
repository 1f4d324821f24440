package audio

import (
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext feeds canned PCM through the capture interface. Tests use it
// to drive the recording pipeline without touching real devices.
type FakeContext struct {
	PCM        []byte
	CaptureErr error // returned from NewCapture when set
	StartErr   error // returned from CaptureDevice.Start when set

	mu       sync.Mutex
	started  int
	playback int
}

func NewFakeContext(pcm []byte) *FakeContext {
	return &FakeContext{PCM: pcm}
}

// CapturesStarted reports how many capture devices have been started.
func (f *FakeContext) CapturesStarted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// PlaybacksStarted reports how many playback devices have been started.
func (f *FakeContext) PlaybacksStarted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playback
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ StreamConfig) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	return &FakeCapture{ctx: f, pcm: f.PCM}, nil
}

func (f *FakeContext) NewPlayback(_ StreamConfig, read ReadCallback) (PlaybackDevice, error) {
	return &fakePlayback{ctx: f, read: read}, nil
}

func (f *FakeContext) Close() {}

type FakeCapture struct {
	ctx *FakeContext
	pcm []byte

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (c *FakeCapture) SetCallback(cb DataCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *FakeCapture) ClearCallback() {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

func (c *FakeCapture) DeviceName() string { return "fake" }

func (c *FakeCapture) callback() DataCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(c.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, c.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

func (c *FakeCapture) Start() error {
	if c.ctx.StartErr != nil {
		return c.ctx.StartErr
	}

	c.ctx.mu.Lock()
	c.ctx.started++
	c.ctx.mu.Unlock()

	c.stopCh = make(chan struct{})
	c.feedDone = make(chan struct{})
	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	// Feed the canned PCM immediately, then emit silence until stopped so
	// the pipeline sees a live device.
	if cb := c.callback(); cb != nil {
		for pos := 0; pos < len(c.pcm); {
			pos = c.feedChunk(cb, pos, chunkBytes)
		}
	}

	go func() {
		defer close(c.feedDone)
		silence := make([]byte, chunkBytes)
		for {
			select {
			case <-c.stopCh:
				return
			case <-time.After(time.Millisecond):
			}
			if cb := c.callback(); cb != nil {
				cb(silence, fakeFrameSize)
			}
		}
	}()

	return nil
}

func (c *FakeCapture) Stop() {
	if c.stopCh == nil {
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.feedDone
}

func (c *FakeCapture) Close() {}

type fakePlayback struct {
	ctx  *FakeContext
	read ReadCallback
}

func (p *fakePlayback) Start() error {
	p.ctx.mu.Lock()
	p.ctx.playback++
	p.ctx.mu.Unlock()
	// Drain the whole clip synchronously; fake playback has no clock.
	buf := make([]byte, fakeFrameSize*fakeBytesPerFrame)
	for p.read(buf) > 0 {
	}
	return nil
}

func (p *fakePlayback) Stop()  {}
func (p *fakePlayback) Close() {}
