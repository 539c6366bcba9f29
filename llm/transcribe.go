package llm

import "context"

type TranscribeRequest struct {
	Audio    []byte
	Filename string
	Model    string
	// Language is an optional BCP-47 hint. Empty means provider auto-detect.
	Language string
}

type Transcription struct {
	Text         string
	Language     string
	AudioSeconds float64
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (Transcription, error)
}
