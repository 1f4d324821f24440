// Package session is the orchestration layer between the caller-facing
// API and the native transcription engine. It tracks model/recording/busy
// state, drives the record -> stop -> decode -> transcribe pipeline, and
// reports results and failures through an event sink.
package session

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/audio"
	"murmur/decoder"
	"murmur/engine"
	"murmur/log"
	"murmur/playback"
)

// maxThreads caps engine thread count; beyond this speech models stop
// scaling on consumer hardware.
const maxThreads = 4

// PermissionFunc reports whether microphone access is currently granted.
type PermissionFunc func() (bool, error)

type Options struct {
	// Device selects the capture device; nil means system default.
	Device *audio.DeviceInfo
	// Threads overrides the engine thread count; 0 picks a clamped default.
	Threads int
	// Playback plays the clip through the speakers while it transcribes.
	Playback bool
	// KeepFLAC archives each finished recording as FLAC next to the WAV.
	KeepFLAC bool
	// ScratchDir holds transient recordings; default is the user cache dir.
	ScratchDir string
	// NewModel constructs engine models; default is the native backend.
	NewModel engine.Factory
	// Permission probes system mic permission; default asks the capture
	// backend for devices.
	Permission PermissionFunc
}

// Session owns at most one engine handle and one recorder. All state
// transitions happen inside the public operations; events go out through
// a single dispatcher goroutine.
type Session struct {
	opts       Options
	audioCtx   audio.Context
	recorder   *Recorder
	player     *playback.Player
	newModel   engine.Factory
	permission PermissionFunc
	scratchDir string

	mu            sync.Mutex
	modelLoaded   bool
	canTranscribe bool
	recording     bool
	micGranted    bool
	recordedFile  string
	handle        *engine.Handle
	sink          Sink
	closed        bool

	events       chan func(Sink)
	dispatchDone chan struct{}
	cleanupOnce  sync.Once

	msgLog MessageLog
}

func New(audioCtx audio.Context, opts Options) (*Session, error) {
	scratch := opts.ScratchDir
	if scratch == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			cache = os.TempDir()
		}
		scratch = filepath.Join(cache, "murmur")
	}
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, err
	}

	s := &Session{
		opts:         opts,
		audioCtx:     audioCtx,
		player:       playback.New(audioCtx),
		newModel:     opts.NewModel,
		permission:   opts.Permission,
		scratchDir:   scratch,
		sink:         NoopSink{},
		events:       make(chan func(Sink), 64),
		dispatchDone: make(chan struct{}),
	}
	s.recorder = NewRecorder(audioCtx, opts.Device, opts.KeepFLAC)
	if s.newModel == nil {
		s.newModel = engine.New
	}
	if s.permission == nil {
		s.permission = func() (bool, error) {
			devices, err := audioCtx.Devices()
			if err != nil {
				return false, err
			}
			return len(devices) > 0, nil
		}
	}

	go s.dispatch()
	return s, nil
}

// SetSink wires the caller's event receiver. The session never owns it.
func (s *Session) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = NoopSink{}
	}
	s.sink = sink
}

func (s *Session) dispatch() {
	defer close(s.dispatchDone)
	for fn := range s.events {
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		fn(sink)
	}
}

func (s *Session) notify(fn func(Sink)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- fn:
	default:
		log.Warn("event queue full, dropping event")
	}
}

func (s *Session) logf(format string, args ...any) {
	s.msgLog.Appendf(format, args...)
	log.Infof(format, args...)
}

func (s *Session) threads() int {
	n := s.opts.Threads
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if limit := min(maxThreads, runtime.NumCPU()); n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// LoadModelFromPath loads a model file, releasing any previously held
// handle first. Blocking; run it off any thread that must stay
// responsive.
func (s *Session) LoadModelFromPath(path string, logEnabled bool) error {
	if path == "" {
		return ErrPathEmpty
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ErrModelNotFound
	}
	return s.loadModel(path, logEnabled)
}

// LoadModelFromAsset loads a model bundled in an fs.FS. The bytes are
// staged to a scratch file for the native loader. A missing asset maps to
// ErrModelNotFound, distinct from a load failure.
func (s *Session) LoadModelFromAsset(assets fs.FS, name string, logEnabled bool) error {
	if name == "" {
		return ErrPathEmpty
	}
	data, err := fs.ReadFile(assets, name)
	if err != nil {
		return ErrModelNotFound
	}

	staged := filepath.Join(s.scratchDir, "model-"+uuid.NewString()+".bin")
	if err := os.WriteFile(staged, data, 0644); err != nil {
		return unableToLoad("staging asset "+name, err)
	}
	defer os.Remove(staged)

	return s.loadModel(staged, logEnabled)
}

func (s *Session) loadModel(path string, logEnabled bool) error {
	// Release the old handle fully before constructing the new one; two
	// live handles must never coexist, even transiently.
	s.mu.Lock()
	old := s.handle
	s.handle = nil
	s.modelLoaded = false
	s.canTranscribe = false
	s.mu.Unlock()
	if old != nil {
		old.Release()
	}

	start := time.Now()
	model, err := s.newModel(path)
	if err != nil {
		s.logf("model load failed: %v", err)
		return unableToLoad(path, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		engine.NewHandle(model).Release()
		return unableToLoad(path, nil)
	}
	s.handle = engine.NewHandle(model)
	s.modelLoaded = true
	// A capture may have kept running across the load; the busy gate stays
	// shut until it stops.
	s.canTranscribe = !s.recording
	s.mu.Unlock()

	if logEnabled {
		s.logf("model loaded from %s in %dms", path, time.Since(start).Milliseconds())
	} else {
		s.logf("model loaded")
	}
	return nil
}

// StartRecording begins a new capture into a fresh scratch file. Guard
// failures are reported through the sink, never raised.
func (s *Session) StartRecording() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.micGranted {
		s.mu.Unlock()
		s.logf("recording rejected: no microphone permission")
		s.notify(func(k Sink) { k.PermissionRequestNeeded() })
		s.notify(func(k Sink) { k.RecordingFailed(ErrMicPermissionDenied) })
		return
	}
	if s.recording {
		s.mu.Unlock()
		return
	}
	if !s.modelLoaded {
		s.mu.Unlock()
		s.logf("recording rejected: no model loaded")
		return
	}
	if !s.canTranscribe {
		// A transcription or benchmark holds the engine; capture and
		// engine work never overlap.
		s.mu.Unlock()
		s.logf("recording rejected: engine busy")
		return
	}
	stale := s.recordedFile
	s.recordedFile = ""
	s.mu.Unlock()

	s.player.Stop()
	if stale != "" {
		os.Remove(stale)
	}

	path := filepath.Join(s.scratchDir, "rec-"+uuid.NewString()+".wav")
	if err := s.recorder.Start(path, s.onCaptureError); err != nil {
		s.mu.Lock()
		s.recording = false
		s.recordedFile = ""
		s.canTranscribe = s.modelLoaded
		s.mu.Unlock()
		s.logf("recording start failed: %v", err)
		s.notify(func(k Sink) { k.RecordingFailed(recordingFailed(err)) })
		return
	}

	s.mu.Lock()
	s.recording = true
	s.canTranscribe = false
	s.recordedFile = path
	s.mu.Unlock()

	s.logf("recording started")
	s.notify(func(k Sink) { k.RecordingStarted() })
}

// onCaptureError handles asynchronous capture-layer failures.
func (s *Session) onCaptureError(err error) {
	s.mu.Lock()
	s.recording = false
	stale := s.recordedFile
	s.recordedFile = ""
	s.canTranscribe = s.modelLoaded
	s.mu.Unlock()

	if stale != "" {
		os.Remove(stale)
	}
	s.logf("capture error: %v", err)
	s.notify(func(k Sink) { k.RecordingFailed(recordingFailed(err)) })
}

// StopRecording stops the capture, emits RecordingStopped, and feeds the
// recorded file straight into transcription when possible. No-op when not
// recording.
func (s *Session) StopRecording() {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return
	}
	s.recording = false
	file := s.recordedFile
	s.mu.Unlock()

	stopErr := s.recorder.Stop()
	if stopErr != nil {
		// Logged but never blocks forward progress.
		s.logf("capture stop: %v", stopErr)
	}

	s.notify(func(k Sink) { k.RecordingStopped() })

	s.mu.Lock()
	s.canTranscribe = s.modelLoaded
	modelLoaded := s.modelLoaded
	s.mu.Unlock()

	switch {
	case stopErr != nil:
		s.notify(func(k Sink) { k.TranscriptionFailed(recordingFailed(stopErr)) })
	case !modelLoaded:
		s.notify(func(k Sink) { k.TranscriptionFailed(ErrModelNotLoaded) })
	case file == "" || !fileExists(file):
		s.notify(func(k Sink) { k.TranscriptionFailed(ErrMissingRecordedFile) })
	default:
		s.TranscribeFile(file, true, false)
	}

	// The recorded-file reference is consumed exactly once, whatever the
	// branch above did.
	s.mu.Lock()
	s.recordedFile = ""
	s.mu.Unlock()
}

// ToggleRecording flips between start and stop.
func (s *Session) ToggleRecording() {
	if s.IsRecording() {
		s.StopRecording()
	} else {
		s.StartRecording()
	}
}

// TranscribeFile decodes the file and runs it through the engine,
// reporting through the sink. Overlapping calls are rejected by the busy
// gate: the loser returns silently without touching the engine.
func (s *Session) TranscribeFile(path string, logEnabled, withTimestamps bool) {
	s.mu.Lock()
	if !s.modelLoaded {
		s.mu.Unlock()
		s.notify(func(k Sink) { k.TranscriptionFailed(ErrModelNotLoaded) })
		return
	}
	handle := s.handle
	if handle == nil {
		// Loaded flag without a handle is a defect; fail soft instead of
		// crashing the host.
		s.mu.Unlock()
		s.logf("state desync: model loaded but no engine handle")
		s.notify(func(k Sink) { k.TranscriptionFailed(ErrModelNotLoaded) })
		return
	}
	if !s.canTranscribe {
		s.mu.Unlock()
		s.logf("transcription already in progress, ignoring request")
		return
	}
	s.canTranscribe = false
	s.mu.Unlock()

	// Guaranteed restoration, even when the pipeline fails mid-way. The
	// flag only comes back while a model is loaded and no capture runs.
	defer func() {
		s.mu.Lock()
		if s.modelLoaded && !s.recording {
			s.canTranscribe = true
		}
		s.mu.Unlock()
	}()

	decodeStart := time.Now()
	samples, err := decoder.Decode(path)
	if err != nil {
		s.logf("decode failed: %v", err)
		s.notify(func(k Sink) { k.TranscriptionFailed(transcriptionFailed("decode", err)) })
		return
	}
	decodeMs := float64(time.Since(decodeStart).Milliseconds())

	if s.opts.Playback {
		if err := s.player.PlayFile(path); err != nil {
			log.Warnf("playback: %v", err)
		}
	}

	threads := s.threads()
	engineStart := time.Now()
	text, err := handle.Transcribe(samples, threads, withTimestamps)
	if err != nil {
		s.logf("engine failed: %v", err)
		s.notify(func(k Sink) { k.TranscriptionFailed(transcriptionFailed("engine", err)) })
		return
	}

	if logEnabled {
		log.TranscriptionMetrics(
			float64(len(samples))/float64(decoder.SampleRate),
			decodeMs,
			float64(time.Since(engineStart).Milliseconds()),
			threads,
			withTimestamps,
		)
	}
	log.TranscriptionText(text)
	s.msgLog.Append(text)
	s.notify(func(k Sink) { k.Transcribed(text) })
}

// BenchmarkModel runs the engine's memcpy and matmul benchmarks and
// appends the raw reports to the message log. Shares the busy gate with
// transcription.
func (s *Session) BenchmarkModel() {
	s.mu.Lock()
	if !s.modelLoaded || !s.canTranscribe || s.handle == nil {
		s.mu.Unlock()
		s.logf("benchmark skipped: engine busy or no model")
		return
	}
	handle := s.handle
	s.canTranscribe = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.modelLoaded && !s.recording {
			s.canTranscribe = true
		}
		s.mu.Unlock()
	}()

	threads := s.threads()
	s.logf("benchmark: %d threads", threads)

	if report, err := handle.BenchMemcpy(threads); err != nil {
		s.logf("memcpy bench failed: %v", err)
	} else {
		s.msgLog.Append(report)
	}
	if report, err := handle.BenchMatMul(threads); err != nil {
		s.logf("matmul bench failed: %v", err)
	} else {
		s.msgLog.Append(report)
	}
}

// SystemInfo reports the engine build capabilities.
func (s *Session) SystemInfo() (string, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return "", ErrModelNotLoaded
	}
	return handle.SystemInfo()
}

// RefreshMicPermission re-probes system permission and stores the result.
func (s *Session) RefreshMicPermission() bool {
	granted, err := s.permission()
	if err != nil {
		log.Warnf("permission probe: %v", err)
		granted = false
	}
	s.mu.Lock()
	s.micGranted = granted
	s.mu.Unlock()
	return granted
}

// SetMicPermission overwrites the cached permission status, typically
// from a host permission dialog result.
func (s *Session) SetMicPermission(granted bool) {
	s.mu.Lock()
	s.micGranted = granted
	s.mu.Unlock()
}

// ResetState releases the engine, stops playback and capture, and puts
// every flag back to its initial value.
func (s *Session) ResetState() {
	if err := s.recorder.Stop(); err != nil {
		log.Warnf("reset: %v", err)
	}
	s.player.Stop()

	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	file := s.recordedFile
	s.recordedFile = ""
	s.modelLoaded = false
	s.canTranscribe = false
	s.recording = false
	s.mu.Unlock()

	if handle != nil {
		handle.Release()
	}
	if file != "" {
		os.Remove(file)
	}
	s.msgLog.Reset()
}

// Cleanup resets state and tears down the dispatcher. Idempotent.
func (s *Session) Cleanup() {
	s.ResetState()
	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		<-s.dispatchDone
	})
}

// MessageLog returns the session's diagnostic trail.
func (s *Session) MessageLog() string {
	return s.msgLog.String()
}

func (s *Session) ModelLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelLoaded
}

func (s *Session) CanTranscribe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canTranscribe
}

func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *Session) MicPermissionGranted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micGranted
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
