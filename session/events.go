package session

// Sink receives session events. Implementations are invoked from a single
// dispatcher goroutine so UI-facing updates arrive in order; the Session
// does not own the sink's lifetime.
type Sink interface {
	Transcribed(text string)
	RecordingStarted()
	RecordingStopped()
	RecordingFailed(err error)
	TranscriptionFailed(err error)
	PermissionRequestNeeded()
}

// NoopSink keeps the session flowing when no sink is wired.
type NoopSink struct{}

func (NoopSink) Transcribed(string)        {}
func (NoopSink) RecordingStarted()         {}
func (NoopSink) RecordingStopped()         {}
func (NoopSink) RecordingFailed(error)     {}
func (NoopSink) TranscriptionFailed(error) {}
func (NoopSink) PermissionRequestNeeded()  {}
