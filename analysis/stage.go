package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/llm"
)

const defaultStageDeadline = 45 * time.Second

type ModeResult struct {
	Text        string
	Unavailable bool
	Latency     time.Duration
}

// Resultset always carries one entry per enabled mode, failed ones included.
type Resultset struct {
	Results map[string]ModeResult
}

func (r Resultset) Get(name string) (ModeResult, bool) {
	res, ok := r.Results[name]
	return res, ok
}

// Unavailable lists the modes that produced no result, sorted by name.
func (r Resultset) Unavailable() []string {
	var out []string
	for name, res := range r.Results {
		if res.Unavailable {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r Resultset) Partial() bool { return len(r.Unavailable()) > 0 }

// Stage runs every enabled mode concurrently over the transcript under one
// shared deadline. Per-mode failures become "unavailable" entries; Analyze
// itself never fails.
type Stage struct {
	Modes    *Store
	LLM      llm.Client
	Retry    *apiretry.Client
	Deadline time.Duration
	Logger   *slog.Logger
}

func (s *Stage) Analyze(ctx context.Context, transcript string) Resultset {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deadline := s.Deadline
	if deadline <= 0 {
		deadline = defaultStageDeadline
	}

	modes := s.Modes.Enabled()
	rs := Resultset{Results: make(map[string]ModeResult, len(modes))}
	if len(modes) == 0 {
		return rs
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, mode := range modes {
		wg.Add(1)
		go func(mode Mode) {
			defer wg.Done()
			start := time.Now()
			text, err := s.runMode(ctx, mode, transcript)
			latency := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("mode_unavailable",
					"mode", mode.Name,
					"latency", latency.String(),
					"error", err.Error(),
				)
				rs.Results[mode.Name] = ModeResult{Unavailable: true, Latency: latency}
				return
			}
			rs.Results[mode.Name] = ModeResult{Text: text, Latency: latency}
		}(mode)
	}
	wg.Wait()

	logger.Info("analysis_completed",
		"modes", len(modes),
		"unavailable", len(rs.Unavailable()),
	)
	return rs
}

func (s *Stage) runMode(ctx context.Context, mode Mode, transcript string) (string, error) {
	var out llm.Result
	err := s.Retry.Do(ctx, "mode_"+mode.Name, func(ctx context.Context) error {
		var callErr error
		out, callErr = s.LLM.Chat(ctx, llm.Request{
			Model:       mode.Model,
			Messages:    buildMessages(mode, transcript),
			ForceJSON:   mode.wantsJSON(),
			MaxTokens:   mode.MaxTokens,
			Temperature: mode.Temperature,
		})
		return callErr
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("mode %s: empty completion", mode.Name)
	}
	return text, nil
}

func buildMessages(mode Mode, transcript string) []llm.Message {
	return []llm.Message{
		llm.SystemMessage(mode.Prompt),
		llm.UserMessage(transcript),
	}
}
