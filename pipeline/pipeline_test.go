package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/llm"
	"github.com/tonyazhuuki/tldr-buddy/render"
	"github.com/tonyazhuuki/tldr-buddy/speech"
)

type fakeChat struct {
	fn func(ctx context.Context, req llm.Request) (llm.Result, error)
}

func (f *fakeChat) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	return f.fn(ctx, req)
}

type fakeTranscriber struct {
	fn func(req llm.TranscribeRequest) (llm.Transcription, error)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req llm.TranscribeRequest) (llm.Transcription, error) {
	return f.fn(req)
}

type permanentError struct{}

func (e *permanentError) Error() string   { return "bad audio" }
func (e *permanentError) HTTPStatus() int { return 400 }
func (e *permanentError) APICode() string { return "invalid_request_error" }

func modeStore(t *testing.T, names ...string) *analysis.Store {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		content := fmt.Sprintf("name: %s\nmodel: model-%s\nprompt: Analyze.\nenabled: true\n", name, name)
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	store := analysis.NewStore(dir, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return store
}

func testOrchestrator(t *testing.T, chat *fakeChat, tr *fakeTranscriber, deadline time.Duration, names ...string) *Orchestrator {
	t.Helper()
	retry := &apiretry.Client{Step: time.Millisecond, MaxJitter: 1, MaxAttempts: 1}
	return &Orchestrator{
		Speech: &speech.Stage{
			Transcriber: tr,
			Retry:       retry,
		},
		Analysis: &analysis.Stage{
			Modes:    modeStore(t, names...),
			LLM:      chat,
			Retry:    retry,
			Deadline: deadline,
		},
		Formatter: render.Formatter{},
	}
}

func TestHandleVoiceFullPipeline(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{Text: "hello world", Language: "en"}, nil
	}}
	chat := &fakeChat{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		if req.Model == "model-summary" {
			return llm.Result{Text: `{"summary": "Greets the world.", "bullets": ["hello", "world", "greeting"]}`}, nil
		}
		return llm.Result{Text: "Cheerful."}, nil
	}}

	orch := testOrchestrator(t, chat, tr, 0, "summary", "tone")
	outcome, err := orch.HandleVoice(context.Background(), speech.Request{Audio: []byte("ogg"), UserID: "u1"})
	if err != nil {
		t.Fatalf("HandleVoice() error = %v", err)
	}

	if outcome.Transcript != "hello world" {
		t.Fatalf("Transcript = %q", outcome.Transcript)
	}
	if outcome.Partial {
		t.Fatal("Partial = true, want full success")
	}
	if !strings.Contains(outcome.Reply, "Greets the world.") || !strings.Contains(outcome.Reply, "Cheerful.") {
		t.Fatalf("Reply = %q, want both sections populated", outcome.Reply)
	}
	if strings.Contains(outcome.Reply, "unavailable") {
		t.Fatalf("Reply has unavailable marker: %q", outcome.Reply)
	}
	if outcome.RequestID == "" {
		t.Fatal("RequestID empty")
	}
}

func TestHandleVoicePartialWithinDeadline(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{Text: "hello world", Language: "en"}, nil
	}}
	chat := &fakeChat{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		if req.Model == "model-tone" {
			<-ctx.Done()
			return llm.Result{}, ctx.Err()
		}
		return llm.Result{Text: `{"summary": "Fast enough.", "bullets": ["quick"]}`}, nil
	}}

	orch := testOrchestrator(t, chat, tr, 200*time.Millisecond, "summary", "tone")
	start := time.Now()
	outcome, err := orch.HandleVoice(context.Background(), speech.Request{Audio: []byte("ogg"), UserID: "u1"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("HandleVoice() error = %v", err)
	}

	if elapsed > 2*time.Second {
		t.Fatalf("HandleVoice() took %s, want bounded by the stage deadline", elapsed)
	}
	if !outcome.Partial {
		t.Fatal("Partial = false, want true")
	}
	if !strings.Contains(outcome.Reply, "Fast enough.") {
		t.Fatalf("populated section missing: %q", outcome.Reply)
	}
	if !strings.Contains(outcome.Reply, "unavailable") {
		t.Fatalf("unavailable marker missing: %q", outcome.Reply)
	}
}

func TestHandleVoiceTerminalTranscriptionFailure(t *testing.T) {
	t.Parallel()

	tr := &fakeTranscriber{fn: func(req llm.TranscribeRequest) (llm.Transcription, error) {
		return llm.Transcription{}, &permanentError{}
	}}
	chat := &fakeChat{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		t.Error("analysis should not run after transcription failure")
		return llm.Result{}, nil
	}}

	orch := testOrchestrator(t, chat, tr, 0, "summary")
	_, err := orch.HandleVoice(context.Background(), speech.Request{Audio: []byte("ogg"), UserID: "u1"})

	var terminal *apiretry.TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("HandleVoice() error = %v, want *TerminalError passed through unwrapped", err)
	}
}

func TestHandleText(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		return llm.Result{Text: `{"summary": "Text in, summary out."}`}, nil
	}}
	orch := testOrchestrator(t, chat, nil, 0, "summary")

	outcome, err := orch.HandleText(context.Background(), "a long forwarded text")
	if err != nil {
		t.Fatalf("HandleText() error = %v", err)
	}
	if outcome.Transcript != "a long forwarded text" {
		t.Fatalf("Transcript = %q", outcome.Transcript)
	}
	if !strings.Contains(outcome.Reply, "Text in, summary out.") {
		t.Fatalf("Reply = %q", outcome.Reply)
	}
}

func TestHandleTextEmpty(t *testing.T) {
	t.Parallel()

	orch := testOrchestrator(t, &fakeChat{}, nil, 0)
	if _, err := orch.HandleText(context.Background(), "   "); err == nil {
		t.Fatal("HandleText() error = nil, want failure on empty input")
	}
}
