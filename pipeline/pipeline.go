package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
	"github.com/tonyazhuuki/tldr-buddy/render"
	"github.com/tonyazhuuki/tldr-buddy/speech"
)

// Outcome is the aggregate of one inbound message's run. It lives only until
// the reply has been sent.
type Outcome struct {
	RequestID  string
	Transcript string
	Language   string
	Results    analysis.Resultset
	Reply      string
	Partial    bool
}

// Orchestrator composes transcription, parallel analysis and formatting into
// the end-to-end flow invoked per inbound message.
type Orchestrator struct {
	Speech    *speech.Stage
	Analysis  *analysis.Stage
	Formatter render.Formatter
	Logger    *slog.Logger
}

// HandleVoice runs the full pipeline over raw audio. A terminal transcription
// failure is returned as-is; the retry client has already notified the user.
func (o *Orchestrator) HandleVoice(ctx context.Context, req speech.Request) (*Outcome, error) {
	logger, requestID := o.requestLogger()
	start := time.Now()
	logger.Info("pipeline_started", "kind", "voice", "user_id", req.UserID, "audio_bytes", len(req.Audio))

	tr, err := o.Speech.Transcribe(ctx, req)
	if err != nil {
		logger.Warn("pipeline_transcription_failed", "error", err.Error())
		return nil, err
	}
	if tr.Text == "" {
		return nil, fmt.Errorf("pipeline: empty transcript")
	}

	outcome := o.analyzeAndFormat(ctx, logger, tr.Text)
	outcome.RequestID = requestID
	outcome.Language = tr.Language

	logger.Info("pipeline_completed",
		"kind", "voice",
		"partial", outcome.Partial,
		"reply_chars", len(outcome.Reply),
		"duration", time.Since(start).String(),
	)
	return outcome, nil
}

// HandleText skips transcription and analyzes already-textual content, e.g. a
// forwarded text message.
func (o *Orchestrator) HandleText(ctx context.Context, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("pipeline: empty text")
	}

	logger, requestID := o.requestLogger()
	start := time.Now()
	logger.Info("pipeline_started", "kind", "text", "chars", len(text))

	outcome := o.analyzeAndFormat(ctx, logger, text)
	outcome.RequestID = requestID

	logger.Info("pipeline_completed",
		"kind", "text",
		"partial", outcome.Partial,
		"reply_chars", len(outcome.Reply),
		"duration", time.Since(start).String(),
	)
	return outcome, nil
}

func (o *Orchestrator) analyzeAndFormat(ctx context.Context, logger *slog.Logger, transcript string) *Outcome {
	rs := o.Analysis.Analyze(ctx, transcript)
	if names := rs.Unavailable(); len(names) > 0 {
		logger.Warn("pipeline_partial_analysis", "unavailable", strings.Join(names, ","))
	}
	return &Outcome{
		Transcript: transcript,
		Results:    rs,
		Reply:      o.Formatter.Format(rs),
		Partial:    rs.Partial(),
	}
}

func (o *Orchestrator) requestLogger() (*slog.Logger, string) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return logger.With("request_id", id.String()), id.String()
}
