package speech

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/llm"
)

// detectionConfidence is the weight given to one provider detection when
// updating the language cache. The transcription API reports the language
// but no probability, so a single fixed observation weight is used.
const detectionConfidence = 0.9

type Request struct {
	Audio    []byte
	Filename string
	UserID   string
}

type Result struct {
	Text         string
	Language     string
	AudioSeconds float64
	Duration     time.Duration
}

// Stage turns audio into text through the retrying client, learning each
// user's language preference as a side effect.
type Stage struct {
	Transcriber llm.Transcriber
	Retry       *apiretry.Client
	Cache       *LanguageCache
	Model       string
	Logger      *slog.Logger
}

func (s *Stage) Transcribe(ctx context.Context, req Request) (Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hint := ""
	if s.Cache != nil {
		if lang, ok := s.Cache.Hint(req.UserID); ok {
			hint = lang
		}
	}

	start := time.Now()
	var tr llm.Transcription
	err := s.Retry.Do(ctx, "transcription", func(ctx context.Context) error {
		var callErr error
		tr, callErr = s.Transcriber.Transcribe(ctx, llm.TranscribeRequest{
			Audio:    req.Audio,
			Filename: req.Filename,
			Model:    s.Model,
			Language: hint,
		})
		return callErr
	})
	if err != nil {
		return Result{}, err
	}

	if s.Cache != nil && tr.Language != "" {
		s.Cache.Observe(req.UserID, tr.Language, detectionConfidence)
	}

	res := Result{
		Text:         strings.TrimSpace(tr.Text),
		Language:     tr.Language,
		AudioSeconds: tr.AudioSeconds,
		Duration:     time.Since(start),
	}
	logger.Info("transcription_completed",
		"user_id", req.UserID,
		"language", res.Language,
		"audio_seconds", res.AudioSeconds,
		"chars", len(res.Text),
		"duration", res.Duration.String(),
	)
	return res, nil
}
