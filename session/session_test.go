package session

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"murmur/audio"
	"murmur/encoder"
	"murmur/engine"
)

type recEvent struct {
	name string
	text string
	err  error
}

// recorderSink funnels sink callbacks into a channel so tests can assert
// on event order.
type recorderSink struct {
	ch chan recEvent
}

func newRecorderSink() *recorderSink {
	return &recorderSink{ch: make(chan recEvent, 64)}
}

func (r *recorderSink) Transcribed(text string) { r.ch <- recEvent{name: "transcribed", text: text} }
func (r *recorderSink) RecordingStarted()       { r.ch <- recEvent{name: "recording_started"} }
func (r *recorderSink) RecordingStopped()       { r.ch <- recEvent{name: "recording_stopped"} }
func (r *recorderSink) RecordingFailed(err error) {
	r.ch <- recEvent{name: "recording_failed", err: err}
}
func (r *recorderSink) TranscriptionFailed(err error) {
	r.ch <- recEvent{name: "transcription_failed", err: err}
}
func (r *recorderSink) PermissionRequestNeeded() {
	r.ch <- recEvent{name: "permission_request_needed"}
}

func (r *recorderSink) next(t *testing.T) recEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return recEvent{}
	}
}

func (r *recorderSink) expect(t *testing.T, name string) recEvent {
	t.Helper()
	ev := r.next(t)
	if ev.name != name {
		t.Fatalf("got event %q, want %q", ev.name, name)
	}
	return ev
}

func (r *recorderSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %q", ev.name)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestSession(t *testing.T, ctx *audio.FakeContext, fake *engine.Fake) (*Session, *recorderSink) {
	t.Helper()
	opts := Options{ScratchDir: t.TempDir()}
	if fake != nil {
		opts.NewModel = fake.Factory()
	}
	s, err := New(ctx, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink := newRecorderSink()
	s.SetSink(sink)
	t.Cleanup(s.Cleanup)
	return s, sink
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, []byte("not a real model"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTestWAV(t *testing.T) string {
	t.Helper()
	samples := make([]int16, encoder.SampleRate/2)
	for i := range samples {
		samples[i] = 1000
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := encoder.WriteWAV(path, samples); err != nil {
		t.Fatal(err)
	}
	return path
}

// tonePCM returns raw S16LE bytes holding n frames of a constant sample.
func tonePCM(n int, value int16) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(value))
	}
	return pcm
}

func TestLoadModelFromPathGuards(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)

	if err := s.LoadModelFromPath("", false); !errors.Is(err, ErrPathEmpty) {
		t.Errorf("empty path: got %v, want ErrPathEmpty", err)
	}
	if err := s.LoadModelFromPath(filepath.Join(t.TempDir(), "missing.bin"), false); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("missing file: got %v, want ErrModelNotFound", err)
	}
	if err := s.LoadModelFromPath(t.TempDir(), false); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("directory: got %v, want ErrModelNotFound", err)
	}
	if s.ModelLoaded() {
		t.Error("failed guards must not flip the loaded flag")
	}
}

func TestLoadModelFromPath(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)

	if err := s.LoadModelFromPath(writeModelFile(t), true); err != nil {
		t.Fatalf("LoadModelFromPath: %v", err)
	}
	if !s.ModelLoaded() || !s.CanTranscribe() {
		t.Error("loaded model must enable transcription")
	}
}

func TestLoadModelFactoryFailure(t *testing.T) {
	boom := errors.New("backend exploded")
	factory := func(string) (engine.Model, error) { return nil, boom }
	s, err := New(audio.NewFakeContext(nil), Options{ScratchDir: t.TempDir(), NewModel: factory})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Cleanup)

	err = s.LoadModelFromPath(writeModelFile(t), false)
	if !errors.Is(err, ErrUnableToLoad) {
		t.Fatalf("got %v, want ErrUnableToLoad", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if s.ModelLoaded() {
		t.Error("failed load must leave the session without a model")
	}
}

func TestLoadModelFromAsset(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)

	assets := fstest.MapFS{
		"models/tiny.bin": &fstest.MapFile{Data: []byte("bundled model bytes")},
	}

	if err := s.LoadModelFromAsset(assets, "models/absent.bin", false); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("missing asset: got %v, want ErrModelNotFound", err)
	}
	if err := s.LoadModelFromAsset(assets, "models/tiny.bin", false); err != nil {
		t.Fatalf("LoadModelFromAsset: %v", err)
	}
	if !s.ModelLoaded() {
		t.Error("asset load must enable transcription")
	}
}

func TestReloadReleasesOldModel(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)
	path := writeModelFile(t)

	if err := s.LoadModelFromPath(path, false); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadModelFromPath(path, false); err != nil {
		t.Fatal(err)
	}
	if got := fake.Closed(); got != 1 {
		t.Errorf("old model closed %d times, want 1", got)
	}
}

func TestStartRecordingWithoutPermission(t *testing.T) {
	fake := &engine.Fake{}
	s, sink := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.StartRecording()

	sink.expect(t, "permission_request_needed")
	ev := sink.expect(t, "recording_failed")
	if !errors.Is(ev.err, ErrMicPermissionDenied) {
		t.Errorf("got %v, want ErrMicPermissionDenied", ev.err)
	}
	if s.IsRecording() {
		t.Error("denied permission must not start a recording")
	}
}

func TestStartRecordingWithoutModel(t *testing.T) {
	s, sink := newTestSession(t, audio.NewFakeContext(nil), nil)
	s.SetMicPermission(true)

	s.StartRecording()

	sink.expectNone(t)
	if s.IsRecording() {
		t.Error("no model, no recording")
	}
}

func TestStartRecordingDeviceFailure(t *testing.T) {
	ctx := audio.NewFakeContext(nil)
	ctx.StartErr = errors.New("device gone")
	fake := &engine.Fake{}
	s, sink := newTestSession(t, ctx, fake)
	s.SetMicPermission(true)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.StartRecording()

	ev := sink.expect(t, "recording_failed")
	if !errors.Is(ev.err, ErrRecordingFailed) {
		t.Errorf("got %v, want ErrRecordingFailed", ev.err)
	}
	if s.IsRecording() || !s.CanTranscribe() {
		t.Error("failed start must restore the idle state")
	}
}

func TestRecordStopTranscribePipeline(t *testing.T) {
	pcm := tonePCM(encoder.SampleRate/2, 1200)
	fake := &engine.Fake{Segments: []engine.Segment{{Start: 0, End: 50, Text: "hello world"}}}
	s, sink := newTestSession(t, audio.NewFakeContext(pcm), fake)
	s.SetMicPermission(true)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.StartRecording()
	sink.expect(t, "recording_started")
	if !s.IsRecording() || s.CanTranscribe() {
		t.Fatal("recording must hold the busy gate")
	}

	s.StopRecording()
	sink.expect(t, "recording_stopped")
	ev := sink.expect(t, "transcribed")
	if ev.text != "hello world" {
		t.Errorf("transcript = %q, want %q", ev.text, "hello world")
	}
	if s.IsRecording() || !s.CanTranscribe() {
		t.Error("pipeline must return to idle")
	}
	if fake.Calls() != 1 {
		t.Errorf("engine calls = %d, want 1", fake.Calls())
	}
}

func TestStopRecordingWhileIdle(t *testing.T) {
	s, sink := newTestSession(t, audio.NewFakeContext(nil), &engine.Fake{})
	s.StopRecording()
	sink.expectNone(t)
}

func TestStartRecordingWhileRecording(t *testing.T) {
	pcm := tonePCM(encoder.SampleRate/4, 500)
	fake := &engine.Fake{Segments: []engine.Segment{{Text: "x"}}}
	s, sink := newTestSession(t, audio.NewFakeContext(pcm), fake)
	s.SetMicPermission(true)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.StartRecording()
	sink.expect(t, "recording_started")
	s.StartRecording()
	sink.expectNone(t)

	s.StopRecording()
	sink.expect(t, "recording_stopped")
	sink.expect(t, "transcribed")
}

func TestLoadModelWhileRecording(t *testing.T) {
	pcm := tonePCM(encoder.SampleRate/4, 900)
	fake := &engine.Fake{Segments: []engine.Segment{{Text: "after reload"}}}
	s, sink := newTestSession(t, audio.NewFakeContext(pcm), fake)
	s.SetMicPermission(true)
	path := writeModelFile(t)
	if err := s.LoadModelFromPath(path, false); err != nil {
		t.Fatal(err)
	}

	s.StartRecording()
	sink.expect(t, "recording_started")

	if err := s.LoadModelFromPath(path, false); err != nil {
		t.Fatal(err)
	}
	if !s.IsRecording() {
		t.Fatal("reload must not stop the running capture")
	}
	if s.CanTranscribe() {
		t.Fatal("busy gate must stay shut while capture runs")
	}

	s.StopRecording()
	sink.expect(t, "recording_stopped")
	if ev := sink.expect(t, "transcribed"); ev.text != "after reload" {
		t.Errorf("transcript = %q", ev.text)
	}
	if !s.CanTranscribe() {
		t.Error("gate must reopen once the capture has finished")
	}
}

func TestStartRecordingWhileTranscribing(t *testing.T) {
	ctx := audio.NewFakeContext(nil)
	fake := &engine.Fake{
		Gate:     make(chan struct{}),
		Segments: []engine.Segment{{Text: "slow"}},
	}
	s, sink := newTestSession(t, ctx, fake)
	s.SetMicPermission(true)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	go s.TranscribeFile(writeTestWAV(t), false, false)
	waitUntil(t, func() bool { return fake.Calls() == 1 })

	s.StartRecording()
	sink.expectNone(t)
	if s.IsRecording() {
		t.Fatal("capture must not start while the engine is busy")
	}
	if ctx.CapturesStarted() != 0 {
		t.Fatalf("capture devices started = %d, want 0", ctx.CapturesStarted())
	}

	close(fake.Gate)
	sink.expect(t, "transcribed")
	waitUntil(t, s.CanTranscribe)
}

func TestTranscribeFileWithoutModel(t *testing.T) {
	s, sink := newTestSession(t, audio.NewFakeContext(nil), nil)

	s.TranscribeFile(writeTestWAV(t), false, false)

	ev := sink.expect(t, "transcription_failed")
	if !errors.Is(ev.err, ErrModelNotLoaded) {
		t.Errorf("got %v, want ErrModelNotLoaded", ev.err)
	}
}

func TestTranscribeFileDecodeFailure(t *testing.T) {
	fake := &engine.Fake{}
	s, sink := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.TranscribeFile(filepath.Join(t.TempDir(), "absent.wav"), false, false)

	ev := sink.expect(t, "transcription_failed")
	if !errors.Is(ev.err, ErrTranscriptionFailed) {
		t.Errorf("got %v, want ErrTranscriptionFailed", ev.err)
	}
	if !s.CanTranscribe() {
		t.Error("busy gate must reopen after a decode failure")
	}
	if fake.Calls() != 0 {
		t.Error("engine must not run on undecodable input")
	}
}

func TestTranscribeFileEngineFailure(t *testing.T) {
	fake := &engine.Fake{Err: errors.New("inference blew up")}
	s, sink := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.TranscribeFile(writeTestWAV(t), false, false)

	ev := sink.expect(t, "transcription_failed")
	if !errors.Is(ev.err, ErrTranscriptionFailed) {
		t.Errorf("got %v, want ErrTranscriptionFailed", ev.err)
	}
	if !s.CanTranscribe() {
		t.Error("busy gate must reopen after an engine failure")
	}
}

func TestTranscribeFileBusyGate(t *testing.T) {
	fake := &engine.Fake{
		Gate:     make(chan struct{}),
		Segments: []engine.Segment{{Text: "late answer"}},
	}
	s, sink := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}
	clip := writeTestWAV(t)

	go s.TranscribeFile(clip, false, false)
	waitUntil(t, func() bool { return fake.Calls() == 1 })

	// Second caller loses the gate and walks away without touching the
	// engine or emitting anything.
	s.TranscribeFile(clip, false, false)
	sink.expectNone(t)
	if fake.Calls() != 1 {
		t.Fatalf("engine calls = %d, want 1", fake.Calls())
	}

	close(fake.Gate)
	ev := sink.expect(t, "transcribed")
	if ev.text != "late answer" {
		t.Errorf("transcript = %q", ev.text)
	}
	waitUntil(t, s.CanTranscribe)
}

func TestTranscribeFileTimestamps(t *testing.T) {
	fake := &engine.Fake{Segments: []engine.Segment{
		{Start: 0, End: 100, Text: "first"},
		{Start: 100, End: 250, Text: "second"},
	}}
	s, sink := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.TranscribeFile(writeTestWAV(t), false, true)

	want := "[00:00:00.000 --> 00:00:01.000]: first\n" +
		"[00:00:01.000 --> 00:00:02.500]: second\n"
	if ev := sink.expect(t, "transcribed"); ev.text != want {
		t.Errorf("transcript = %q, want %q", ev.text, want)
	}
}

func TestBenchmarkModel(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.BenchmarkModel()

	logText := s.MessageLog()
	for _, want := range []string{"memcpy:", "ggml_mul_mat:"} {
		if !strings.Contains(logText, want) {
			t.Errorf("message log missing %q:\n%s", want, logText)
		}
	}
	if !s.CanTranscribe() {
		t.Error("benchmark must release the busy gate")
	}
}

func TestBenchmarkModelWithoutModel(t *testing.T) {
	s, _ := newTestSession(t, audio.NewFakeContext(nil), nil)
	s.BenchmarkModel()
	if strings.Contains(s.MessageLog(), "memcpy:") {
		t.Error("benchmark must not run without a model")
	}
}

func TestSystemInfo(t *testing.T) {
	fake := &engine.Fake{Info: "AVX2 = 1 | NEON = 0"}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)

	if _, err := s.SystemInfo(); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("no model: got %v, want ErrModelNotLoaded", err)
	}

	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}
	info, err := s.SystemInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info != "AVX2 = 1 | NEON = 0" {
		t.Errorf("info = %q", info)
	}
}

func TestRefreshMicPermission(t *testing.T) {
	s, _ := newTestSession(t, audio.NewFakeContext(nil), &engine.Fake{})

	// Default probe asks the backend for devices; the fake always has one.
	if !s.RefreshMicPermission() {
		t.Error("device present, permission should be granted")
	}
	if !s.MicPermissionGranted() {
		t.Error("refresh must cache the result")
	}
}

func TestRefreshMicPermissionProbeError(t *testing.T) {
	probe := func() (bool, error) { return true, errors.New("probe broken") }
	s, err := New(audio.NewFakeContext(nil), Options{
		ScratchDir: t.TempDir(),
		NewModel:   (&engine.Fake{}).Factory(),
		Permission: probe,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Cleanup)

	if s.RefreshMicPermission() {
		t.Error("probe errors must read as denied")
	}
}

func TestResetState(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}
	s.msgLog.Append("leftover")

	s.ResetState()

	if s.ModelLoaded() || s.CanTranscribe() || s.IsRecording() {
		t.Error("reset must clear all state flags")
	}
	if fake.Closed() != 1 {
		t.Errorf("model closed %d times, want 1", fake.Closed())
	}
	if s.MessageLog() != "" {
		t.Error("reset must clear the message log")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	fake := &engine.Fake{}
	s, _ := newTestSession(t, audio.NewFakeContext(nil), fake)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.Cleanup()
	s.Cleanup()

	if fake.Closed() != 1 {
		t.Errorf("model closed %d times, want 1", fake.Closed())
	}
}

func TestToggleRecording(t *testing.T) {
	pcm := tonePCM(encoder.SampleRate/4, 800)
	fake := &engine.Fake{Segments: []engine.Segment{{Text: "toggled"}}}
	s, sink := newTestSession(t, audio.NewFakeContext(pcm), fake)
	s.SetMicPermission(true)
	if err := s.LoadModelFromPath(writeModelFile(t), false); err != nil {
		t.Fatal(err)
	}

	s.ToggleRecording()
	sink.expect(t, "recording_started")
	s.ToggleRecording()
	sink.expect(t, "recording_stopped")
	if ev := sink.expect(t, "transcribed"); ev.text != "toggled" {
		t.Errorf("transcript = %q", ev.text)
	}
}

func TestThreadsClamp(t *testing.T) {
	tests := []struct {
		name    string
		threads int
	}{
		{"default", 0},
		{"one", 1},
		{"excessive", 99},
		{"negative", -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(audio.NewFakeContext(nil), Options{
				ScratchDir: t.TempDir(),
				Threads:    tt.threads,
				NewModel:   (&engine.Fake{}).Factory(),
			})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(s.Cleanup)
			got := s.threads()
			if got < 1 || got > maxThreads {
				t.Errorf("threads(%d) = %d, want within [1, %d]", tt.threads, got, maxThreads)
			}
			if tt.threads == 1 && got != 1 {
				t.Errorf("explicit 1 thread must stay 1, got %d", got)
			}
		})
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
