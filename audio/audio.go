// Package audio abstracts PCM capture and playback devices behind one
// interface so the recording pipeline can run against malgo, PulseAudio,
// or an in-memory fake.
package audio

import "strings"

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives raw S16LE PCM from a capture device.
type DataCallback func(data []byte, frameCount uint32)

// ReadCallback fills out with up to len(out) bytes of S16LE PCM for a
// playback device and returns the number of bytes written. Returning 0
// signals end of clip; the device then emits silence until stopped.
type ReadCallback func(out []byte) int

type StreamConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config StreamConfig) (CaptureDevice, error)
	NewPlayback(config StreamConfig, read ReadCallback) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

type PlaybackDevice interface {
	Start() error
	Stop()
	Close()
}
