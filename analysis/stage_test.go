package analysis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/llm"
)

type permanentError struct{ msg string }

func (e *permanentError) Error() string   { return e.msg }
func (e *permanentError) HTTPStatus() int { return 400 }
func (e *permanentError) APICode() string { return "invalid_request_error" }

// fakeClient dispatches on the request model name.
type fakeClient struct {
	fn func(ctx context.Context, req llm.Request) (llm.Result, error)
}

func (f *fakeClient) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	return f.fn(ctx, req)
}

func testStore(t *testing.T, modes ...string) *Store {
	t.Helper()
	dir := t.TempDir()
	for _, name := range modes {
		content := fmt.Sprintf("name: %s\nmodel: model-%s\nprompt: Analyze.\nenabled: true\n", name, name)
		writeMode(t, dir, name+".yaml", content)
	}
	store := NewStore(dir, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return store
}

func TestAnalyzeAllSucceed(t *testing.T) {
	t.Parallel()

	store := testStore(t, "summary", "tone")
	client := &fakeClient{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		return llm.Result{Text: "result for " + req.Model}, nil
	}}
	stage := &Stage{Modes: store, LLM: client, Retry: &apiretry.Client{Step: time.Millisecond, MaxJitter: 1}}

	rs := stage.Analyze(context.Background(), "hello world")
	if len(rs.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(rs.Results))
	}
	if rs.Partial() {
		t.Fatalf("Partial() = true, unavailable: %v", rs.Unavailable())
	}
	for name, res := range rs.Results {
		if res.Unavailable || res.Text == "" {
			t.Fatalf("mode %s = %+v, want populated", name, res)
		}
	}
}

func TestAnalyzePartialFailure(t *testing.T) {
	t.Parallel()

	store := testStore(t, "summary", "tone", "emotion")
	client := &fakeClient{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		if req.Model == "model-tone" {
			return llm.Result{}, &permanentError{msg: "unsupported"}
		}
		return llm.Result{Text: "ok"}, nil
	}}
	stage := &Stage{Modes: store, LLM: client, Retry: &apiretry.Client{Step: time.Millisecond, MaxJitter: 1}}

	rs := stage.Analyze(context.Background(), "hello world")
	if len(rs.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3 entries even with a failure", len(rs.Results))
	}
	if got := rs.Unavailable(); len(got) != 1 || got[0] != "tone" {
		t.Fatalf("Unavailable() = %v, want [tone]", got)
	}
	if !rs.Partial() {
		t.Fatal("Partial() = false, want true")
	}
}

func TestAnalyzeAllFail(t *testing.T) {
	t.Parallel()

	store := testStore(t, "summary", "tone")
	client := &fakeClient{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		return llm.Result{}, &permanentError{msg: "nope"}
	}}
	stage := &Stage{Modes: store, LLM: client, Retry: &apiretry.Client{Step: time.Millisecond, MaxJitter: 1}}

	rs := stage.Analyze(context.Background(), "hello world")
	if len(rs.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(rs.Results))
	}
	if got := rs.Unavailable(); len(got) != 2 {
		t.Fatalf("Unavailable() = %v, want both", got)
	}
}

func TestAnalyzeSharedDeadline(t *testing.T) {
	t.Parallel()

	store := testStore(t, "summary", "tone")
	client := &fakeClient{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		if req.Model == "model-tone" {
			<-ctx.Done()
			return llm.Result{}, ctx.Err()
		}
		return llm.Result{Text: "fast"}, nil
	}}
	stage := &Stage{
		Modes:    store,
		LLM:      client,
		Retry:    &apiretry.Client{Step: time.Millisecond, MaxJitter: 1, MaxAttempts: 1},
		Deadline: 200 * time.Millisecond,
	}

	start := time.Now()
	rs := stage.Analyze(context.Background(), "hello world")
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("Analyze() took %s, want bounded by the stage deadline", elapsed)
	}
	summary, _ := rs.Get("summary")
	if summary.Unavailable {
		t.Fatal("fast mode marked unavailable")
	}
	tone, _ := rs.Get("tone")
	if !tone.Unavailable {
		t.Fatal("stalled mode not marked unavailable")
	}
}

func TestAnalyzeNoModes(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	stage := &Stage{Modes: store, LLM: &fakeClient{}, Retry: &apiretry.Client{}}
	rs := stage.Analyze(context.Background(), "hello")
	if len(rs.Results) != 0 {
		t.Fatalf("len(Results) = %d, want 0", len(rs.Results))
	}
	if rs.Partial() {
		t.Fatal("Partial() = true with no modes")
	}
}

func TestAnalyzeEmptyCompletionUnavailable(t *testing.T) {
	t.Parallel()

	store := testStore(t, "summary")
	client := &fakeClient{fn: func(ctx context.Context, req llm.Request) (llm.Result, error) {
		return llm.Result{Text: "   "}, nil
	}}
	stage := &Stage{
		Modes: store,
		LLM:   client,
		Retry: &apiretry.Client{Step: time.Millisecond, MaxJitter: 1, MaxAttempts: 1},
	}
	rs := stage.Analyze(context.Background(), "hello")
	if got := rs.Unavailable(); len(got) != 1 {
		t.Fatalf("Unavailable() = %v, want the blank mode", got)
	}
}

func TestBuildMessages(t *testing.T) {
	t.Parallel()

	msgs := buildMessages(Mode{Prompt: "Summarize."}, "the transcript")
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "Summarize.") {
		t.Fatalf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content != "the transcript" {
		t.Fatalf("user message = %+v", msgs[1])
	}
}
