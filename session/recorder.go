package session

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"murmur/audio"
	"murmur/encoder"
	"murmur/log"
)

// stopTimeout bounds the join on the capture goroutine.
const stopTimeout = 2 * time.Second

// Recorder owns one microphone capture at a time. Each Start spawns a
// goroutine that accumulates PCM until Stop, then encodes the buffer to
// the output file. Failures along the way go to the error callback and
// leave no file behind.
type Recorder struct {
	ctx      audio.Context
	device   *audio.DeviceInfo
	keepFLAC bool

	mu     sync.Mutex
	active *captureRun
}

type captureRun struct {
	dev     audio.CaptureDevice
	path    string
	onError func(error)
	data    chan []byte
	stop    chan struct{}
	done    chan struct{}
	vad     *vadProcessor
	flac    bool
}

func NewRecorder(ctx audio.Context, device *audio.DeviceInfo, keepFLAC bool) *Recorder {
	return &Recorder{ctx: ctx, device: device, keepFLAC: keepFLAC}
}

// Start begins capturing into outPath. If a capture is already running it
// is stopped and joined first. onError fires asynchronously when the
// capture pipeline fails after Start has returned.
func (r *Recorder) Start(outPath string, onError func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		if err := r.stopLocked(); err != nil {
			log.Warnf("stopping previous capture: %v", err)
		}
	}

	dev, err := r.ctx.NewCapture(r.device, audio.StreamConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return fmt.Errorf("creating capture device: %w", err)
	}

	if onError == nil {
		onError = func(error) {}
	}
	run := &captureRun{
		dev:     dev,
		path:    outPath,
		onError: onError,
		data:    make(chan []byte, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		flac:    r.keepFLAC,
	}
	if vad, err := newVADProcessor(); err == nil {
		run.vad = vad
	} else {
		log.Warnf("vad unavailable: %v", err)
	}

	dev.SetCallback(func(data []byte, _ uint32) {
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case run.data <- buf:
		default:
			// Accumulator stalled; dropping is better than blocking the
			// device callback.
		}
	})

	if err := dev.Start(); err != nil {
		dev.Close()
		return fmt.Errorf("starting capture: %w", err)
	}

	go run.loop()
	r.active = run
	return nil
}

// Stop signals the capture goroutine and joins it with a bounded wait.
// No-op when nothing is recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Recorder) stopLocked() error {
	run := r.active
	if run == nil {
		return nil
	}
	r.active = nil

	select {
	case <-run.stop:
	default:
		close(run.stop)
	}

	select {
	case <-run.done:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("capture did not stop within %s", stopTimeout)
	}
}

func (run *captureRun) loop() {
	defer close(run.done)

	var samples []int16
	for {
		select {
		case chunk := <-run.data:
			samples = run.appendChunk(samples, chunk)
		case <-run.stop:
			run.dev.Stop()
			run.dev.ClearCallback()
			run.dev.Close()
			// Drain whatever the device delivered before it stopped.
			for {
				select {
				case chunk := <-run.data:
					samples = run.appendChunk(samples, chunk)
					continue
				default:
				}
				break
			}
			run.finish(samples)
			return
		}
	}
}

func (run *captureRun) appendChunk(samples []int16, chunk []byte) []int16 {
	for i := 0; i+1 < len(chunk); i += 2 {
		samples = append(samples, int16(binary.LittleEndian.Uint16(chunk[i:])))
	}
	if run.vad != nil {
		run.vad.Process(chunk)
	}
	return samples
}

func (run *captureRun) finish(samples []int16) {
	if err := encoder.WriteWAV(run.path, samples); err != nil {
		run.onError(fmt.Errorf("encoding recording: %w", err))
		return
	}
	if run.flac {
		flacPath := strings.TrimSuffix(run.path, ".wav") + ".flac"
		if err := encoder.WriteFLAC(flacPath, samples); err != nil {
			log.Warnf("flac archive: %v", err)
		}
	}

	ratio := 0.0
	if run.vad != nil {
		ratio = run.vad.SpeechRatio()
	}
	log.RecordingMetrics(
		float64(len(samples))/float64(encoder.SampleRate),
		uint64(len(samples)),
		ratio,
		run.dev.DeviceName(),
	)
}
