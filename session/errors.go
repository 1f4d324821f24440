package session

import (
	"errors"
	"fmt"
)

// Load errors. Each load attempt is terminal; the caller retries
// explicitly.
var (
	ErrPathEmpty     = errors.New("model path is empty")
	ErrModelNotFound = errors.New("model file not found")
	ErrUnableToLoad  = errors.New("unable to load model")
)

// Operation errors, delivered through the event sink.
var (
	ErrMissingRecordedFile = errors.New("no recorded file to transcribe")
	ErrMicPermissionDenied = errors.New("microphone permission denied")
	ErrModelNotLoaded      = errors.New("model is not loaded")
	ErrRecordingFailed     = errors.New("recording failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

func unableToLoad(details string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUnableToLoad, details)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnableToLoad, details, cause)
}

func recordingFailed(cause error) error {
	if cause == nil {
		return ErrRecordingFailed
	}
	return fmt.Errorf("%w: %w", ErrRecordingFailed, cause)
}

func transcriptionFailed(stage string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrTranscriptionFailed, stage)
	}
	return fmt.Errorf("%w: %s: %w", ErrTranscriptionFailed, stage, cause)
}
