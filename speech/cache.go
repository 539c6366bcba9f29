package speech

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/internal/fsstore"
)

const (
	// cacheUseThreshold is the minimum confidence before a cached language
	// is offered as a transcription hint.
	cacheUseThreshold = 0.7
	// cacheTTL expires entries that have not been touched in a month.
	cacheTTL = 30 * 24 * time.Hour

	sameLanguageDecay   = 0.9
	sameLanguageWeight  = 0.1
	switchLanguageScale = 0.5
	newUserScale        = 0.8
)

type languageEntry struct {
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LanguageCache remembers each user's detected language with an
// exponentially weighted confidence, persisted as one JSON file.
type LanguageCache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]languageEntry
}

func NewLanguageCache(path string, logger *slog.Logger) (*LanguageCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &LanguageCache{
		path:    path,
		logger:  logger,
		entries: map[string]languageEntry{},
	}
	if path != "" {
		if _, err := fsstore.ReadJSON(path, &c.entries); err != nil {
			return nil, err
		}
		if c.entries == nil {
			c.entries = map[string]languageEntry{}
		}
	}
	return c, nil
}

// Hint returns the cached language for the user when it is confident and
// fresh enough to bias the provider's detection.
func (c *LanguageCache) Hint(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return "", false
	}
	if time.Since(entry.UpdatedAt) > cacheTTL {
		delete(c.entries, userID)
		return "", false
	}
	if entry.Confidence < cacheUseThreshold {
		return "", false
	}
	return entry.Language, true
}

// Observe folds a new detection into the user's entry. A repeated language
// moves confidence toward 1; a different language switches the entry and
// resets confidence low.
func (c *LanguageCache) Observe(userID, language string, confidence float64) {
	language = strings.ToLower(strings.TrimSpace(language))
	if userID == "" || language == "" {
		return
	}
	confidence = clamp01(confidence)

	c.mu.Lock()
	entry, ok := c.entries[userID]
	switch {
	case !ok || time.Since(entry.UpdatedAt) > cacheTTL:
		entry = languageEntry{Language: language, Confidence: confidence * newUserScale}
	case entry.Language == language:
		conf := entry.Confidence*sameLanguageDecay + confidence*sameLanguageWeight
		if conf > 1 {
			conf = 1
		}
		entry.Confidence = conf
	default:
		entry = languageEntry{Language: language, Confidence: confidence * switchLanguageScale}
	}
	entry.UpdatedAt = time.Now().UTC()
	c.entries[userID] = entry
	snapshot := make(map[string]languageEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if c.path == "" {
		return
	}
	if err := fsstore.WriteJSONAtomic(c.path, snapshot, fsstore.FileOptions{}); err != nil {
		c.logger.Warn("language_cache_persist_failed", "error", err.Error())
	}
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
