package analysis

import (
	"fmt"
	"strings"
)

// Well-known mode names the formatter and archetype flow look for. Any other
// name is executed and rendered as a free-form section.
const (
	ModeSummary = "summary"
	ModeTone    = "tone"
	ModeEmotion = "emotion"
)

// Mode is one named analysis configuration, loaded from a YAML file in the
// modes directory.
type Mode struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	Prompt      string  `yaml:"prompt"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Enabled     bool    `yaml:"enabled"`
	// ResponseFormat is "text" or "json". Empty means text, except for the
	// summary and emotion modes which default to json.
	ResponseFormat string `yaml:"response_format"`
}

// ValidationError rejects one mode file. It is operator-facing only and
// never reaches the end user.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mode config %s: %s", e.File, e.Reason)
}

func (m *Mode) validate(file string) error {
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{File: file, Reason: "missing name"}
	}
	if strings.TrimSpace(m.Model) == "" {
		return &ValidationError{File: file, Reason: "missing model"}
	}
	if strings.TrimSpace(m.Prompt) == "" {
		return &ValidationError{File: file, Reason: "missing prompt"}
	}
	if m.MaxTokens < 0 {
		return &ValidationError{File: file, Reason: "negative max_tokens"}
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return &ValidationError{File: file, Reason: "temperature out of range"}
	}
	switch strings.ToLower(strings.TrimSpace(m.ResponseFormat)) {
	case "", "text", "json":
	default:
		return &ValidationError{File: file, Reason: fmt.Sprintf("unknown response_format %q", m.ResponseFormat)}
	}
	return nil
}

func (m Mode) wantsJSON() bool {
	switch strings.ToLower(strings.TrimSpace(m.ResponseFormat)) {
	case "json":
		return true
	case "text":
		return false
	}
	return m.Name == ModeSummary || m.Name == ModeEmotion
}
