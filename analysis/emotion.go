package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tonyazhuuki/tldr-buddy/archetype"
)

// ParseEmotion extracts the emotion score vector from the emotion mode's
// completion. Values are clamped to [0, 1]; anything unparseable is an error
// and the caller treats the scores as unavailable.
func ParseEmotion(completion string) (archetype.Score, error) {
	raw := extractJSONObject(completion)
	if raw == "" {
		return archetype.Score{}, fmt.Errorf("emotion: no json object in completion")
	}

	var payload struct {
		Sarcasm      *float64 `json:"sarcasm"`
		Toxicity     *float64 `json:"toxicity"`
		Manipulation *float64 `json:"manipulation"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return archetype.Score{}, fmt.Errorf("emotion: decode: %w", err)
	}
	if payload.Sarcasm == nil && payload.Toxicity == nil && payload.Manipulation == nil {
		return archetype.Score{}, fmt.Errorf("emotion: no score fields in completion")
	}

	score := archetype.Score{}
	if payload.Sarcasm != nil {
		score.Sarcasm = clamp01(*payload.Sarcasm)
	}
	if payload.Toxicity != nil {
		score.Toxicity = clamp01(*payload.Toxicity)
	}
	if payload.Manipulation != nil {
		score.Manipulation = clamp01(*payload.Manipulation)
	}
	return score, nil
}

// extractJSONObject tolerates code fences and prose around the object.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
