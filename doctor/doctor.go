// Package doctor runs interactive system diagnostics: audio backend,
// microphone capture, the encode/decode round trip, and the engine.
package doctor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"murmur/audio"
	"murmur/decoder"
	"murmur/encoder"
	"murmur/engine"
	"murmur/log"
)

const recordSeconds = 3

// Run executes the diagnostic checks and returns an exit code (0=all pass,
// 1=any fail). modelPath may be empty; the engine check is skipped then.
func Run(modelPath string) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("murmur doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := true

	if !checkLogDir() {
		allPass = false
	}
	if allPass && !checkMicAndPipeline() {
		allPass = false
	}
	if allPass && !checkEngine(modelPath) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkLogDir() bool {
	fmt.Println()
	fmt.Println("[1/3] Log directory")

	dir, err := log.ResolveDir("")
	if err != nil {
		fmt.Printf("  FAIL: cannot resolve log directory: %v\n", err)
		return false
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("  FAIL: cannot create %s: %v\n", dir, err)
		return false
	}
	probe := filepath.Join(dir, ".doctor_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		fmt.Printf("  FAIL: %s not writable: %v\n", dir, err)
		return false
	}
	os.Remove(probe)
	fmt.Printf("  PASS: %s is writable\n", dir)
	return true
}

func checkMicAndPipeline() bool {
	fmt.Println()
	fmt.Println("[2/3] Microphone and audio pipeline")

	reader := bufio.NewReader(os.Stdin)

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio backend: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	var device *audio.DeviceInfo
	if len(devices) == 1 {
		device = &devices[0]
		fmt.Printf("Using device: %s\n", device.Name)
	} else {
		fmt.Println()
		fmt.Println("Select input device:")
		for i, d := range devices {
			fmt.Printf("  %d. %s\n", i+1, d.Name)
		}
		fmt.Printf("Choice [1-%d]: ", len(devices))

		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)
		idx := 0
		if choice != "" {
			fmt.Sscanf(choice, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(devices) {
			fmt.Println("  FAIL: invalid choice")
			return false
		}
		device = &devices[idx]
		fmt.Printf("Selected: %s\n", device.Name)
	}
	if audio.IsBluetooth(device.Name) {
		fmt.Println("  NOTE: bluetooth microphones often capture at degraded quality")
	}

	fmt.Println()
	fmt.Printf("Press Enter and speak for %d seconds...", recordSeconds)
	reader.ReadString('\n')

	samples, err := recordSamples(ctx, device)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(samples) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	var peak int16
	for _, s := range samples {
		if s > peak {
			peak = s
		}
		if -s > peak {
			peak = -s
		}
	}
	fmt.Printf("  captured %.1fs, peak level %.0f%%\n",
		float64(len(samples))/float64(encoder.SampleRate), float64(peak)/32768*100)
	if peak < 100 {
		fmt.Println("  FAIL: captured audio is silent; check the microphone")
		return false
	}

	// Round-trip the capture through the encoder and decoder.
	tmp := filepath.Join(os.TempDir(), "murmur_doctor.wav")
	defer os.Remove(tmp)
	if err := encoder.WriteWAV(tmp, samples); err != nil {
		fmt.Printf("  FAIL: cannot write WAV: %v\n", err)
		return false
	}
	decoded, err := decoder.Decode(tmp)
	if err != nil {
		fmt.Printf("  FAIL: cannot decode written WAV: %v\n", err)
		return false
	}
	if len(decoded) != len(samples) {
		fmt.Printf("  FAIL: decode returned %d samples, want %d\n", len(decoded), len(samples))
		return false
	}

	fmt.Println("  PASS: capture, encode and decode all work")
	return true
}

func recordSamples(ctx audio.Context, device *audio.DeviceInfo) ([]int16, error) {
	dev, err := ctx.NewCapture(device, audio.StreamConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	var mu sync.Mutex
	var samples []int16
	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		for i := 0; i+1 < len(data); i += 2 {
			samples = append(samples, int16(binary.LittleEndian.Uint16(data[i:])))
		}
		mu.Unlock()
	})

	if err := dev.Start(); err != nil {
		return nil, err
	}
	time.Sleep(recordSeconds * time.Second)
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	return samples, nil
}

func checkEngine(modelPath string) bool {
	fmt.Println()
	fmt.Println("[3/3] Transcription engine")

	if modelPath == "" {
		fmt.Println("  SKIP: no -model given")
		return true
	}

	model, err := engine.New(modelPath)
	if errors.Is(err, engine.ErrUnavailable) {
		fmt.Println("  SKIP: built without the native engine")
		return true
	}
	if err != nil {
		fmt.Printf("  FAIL: cannot load model: %v\n", err)
		return false
	}
	defer model.Close()

	fmt.Printf("  engine: %s\n", model.SystemInfo())

	// A second of silence exercises the full inference path.
	silence := make([]float32, encoder.SampleRate)
	start := time.Now()
	if _, err := model.Transcribe(silence, 1); err != nil {
		fmt.Printf("  FAIL: inference error: %v\n", err)
		return false
	}
	fmt.Printf("  PASS: model loads and runs (%.0fms for 1s of silence)\n",
		float64(time.Since(start).Milliseconds()))
	return true
}
