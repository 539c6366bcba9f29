package speech

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/llm"
)

type fakeTranscriber struct {
	fn    func(req llm.TranscribeRequest) (llm.Transcription, error)
	calls []llm.TranscribeRequest
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req llm.TranscribeRequest) (llm.Transcription, error) {
	f.calls = append(f.calls, req)
	return f.fn(req)
}

type permanentError struct{}

func (e *permanentError) Error() string   { return "unsupported audio" }
func (e *permanentError) HTTPStatus() int { return 415 }
func (e *permanentError) APICode() string { return "unsupported_media" }

func TestTranscribeSuccess(t *testing.T) {
	t.Parallel()

	ft := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{Text: " hello world ", Language: "en", AudioSeconds: 3.5}, nil
	}}
	cache, _ := NewLanguageCache("", nil)
	stage := &Stage{
		Transcriber: ft,
		Retry:       &apiretry.Client{Step: time.Millisecond, MaxJitter: 1},
		Cache:       cache,
	}

	res, err := stage.Transcribe(context.Background(), Request{Audio: []byte("ogg"), Filename: "a.ogg", UserID: "u1"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("Text = %q, want trimmed transcript", res.Text)
	}
	if res.Language != "en" || res.AudioSeconds != 3.5 {
		t.Fatalf("Result = %+v", res)
	}

	// Detection is folded into the cache.
	lang, ok := cache.Hint("u1")
	if !ok || lang != "en" {
		t.Fatalf("Hint() after success = %q, %v", lang, ok)
	}
}

func TestTranscribeUsesCachedHint(t *testing.T) {
	t.Parallel()

	cache, _ := NewLanguageCache("", nil)
	cache.Observe("u1", "ru", 0.9)

	ft := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{Text: "привет", Language: "ru"}, nil
	}}
	stage := &Stage{
		Transcriber: ft,
		Retry:       &apiretry.Client{Step: time.Millisecond, MaxJitter: 1},
		Cache:       cache,
	}

	if _, err := stage.Transcribe(context.Background(), Request{Audio: []byte("ogg"), UserID: "u1"}); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(ft.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(ft.calls))
	}
	if ft.calls[0].Language != "ru" {
		t.Fatalf("hint = %q, want ru", ft.calls[0].Language)
	}
}

func TestTranscribeNoHintForUnknownUser(t *testing.T) {
	t.Parallel()

	cache, _ := NewLanguageCache("", nil)
	ft := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{Text: "hi", Language: "en"}, nil
	}}
	stage := &Stage{
		Transcriber: ft,
		Retry:       &apiretry.Client{Step: time.Millisecond, MaxJitter: 1},
		Cache:       cache,
	}

	if _, err := stage.Transcribe(context.Background(), Request{Audio: []byte("ogg"), UserID: "new"}); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if ft.calls[0].Language != "" {
		t.Fatalf("hint = %q, want provider auto-detect", ft.calls[0].Language)
	}
}

func TestTranscribePropagatesTerminalFailure(t *testing.T) {
	t.Parallel()

	notices := 0
	ft := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{}, &permanentError{}
	}}
	stage := &Stage{
		Transcriber: ft,
		Retry: &apiretry.Client{
			Step:      time.Millisecond,
			MaxJitter: 1,
			Notifier: apiretry.NotifierFunc(func(ctx context.Context, kind apiretry.Kind, message string) {
				notices++
			}),
		},
	}

	_, err := stage.Transcribe(context.Background(), Request{Audio: []byte("ogg"), UserID: "u1"})
	var terminal *apiretry.TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("Transcribe() error = %v, want *TerminalError", err)
	}
	if terminal.Kind != apiretry.KindPermanent {
		t.Fatalf("Kind = %s, want permanent", terminal.Kind)
	}
	if !terminal.UserNotified || notices != 1 {
		t.Fatalf("UserNotified = %v, notices = %d", terminal.UserNotified, notices)
	}
	if len(ft.calls) != 1 {
		t.Fatalf("calls = %d, want 1 for a permanent failure", len(ft.calls))
	}
}

func TestTranscribeRetriesTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	ft := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		calls++
		if calls < 2 {
			return llm.Transcription{}, fmt.Errorf("connection reset")
		}
		return llm.Transcription{Text: "ok", Language: "en"}, nil
	}}
	stage := &Stage{
		Transcriber: ft,
		Retry:       &apiretry.Client{Step: time.Millisecond, MaxJitter: 1},
	}

	res, err := stage.Transcribe(context.Background(), Request{Audio: []byte("ogg"), UserID: "u1"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "ok" || calls != 2 {
		t.Fatalf("Text = %q, calls = %d", res.Text, calls)
	}
}
