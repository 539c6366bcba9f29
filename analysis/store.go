package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Store holds the active mode set loaded from a directory of YAML files, one
// mode per file. Reload is all-or-nothing: a single bad file keeps the
// previous set active.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	modes map[string]Mode
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		modes:  map[string]Mode{},
	}
}

func (s *Store) Dir() string { return s.dir }

// Load reads the directory and replaces the active set. The first load must
// succeed for startup to proceed; later calls behave like Reload.
func (s *Store) Load() error {
	modes, err := loadModeDir(s.dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.modes = modes
	s.mu.Unlock()
	s.logger.Info("mode_config_loaded", "dir", s.dir, "modes", len(modes))
	return nil
}

// Reload swaps in a fresh set, or keeps the current one when any file fails
// validation. The error is an operator diagnostic only.
func (s *Store) Reload() error {
	modes, err := loadModeDir(s.dir)
	if err != nil {
		s.logger.Warn("mode_config_rejected", "dir", s.dir, "error", err.Error())
		return err
	}
	s.mu.Lock()
	s.modes = modes
	s.mu.Unlock()
	return nil
}

// Enabled returns the enabled modes, sorted by name for stable display.
func (s *Store) Enabled() []Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mode, 0, len(s.modes))
	for _, m := range s.modes {
		if m.Enabled {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every loaded mode, enabled or not.
func (s *Store) All() map[string]Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Mode, len(s.modes))
	for k, v := range s.modes {
		out[k] = v
	}
	return out
}

// Watch reloads the directory on the given interval until ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Reload()
		}
	}
}

func loadModeDir(dir string) (map[string]Mode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read modes dir %s: %w", dir, err)
	}

	modes := map[string]Mode{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ValidationError{File: name, Reason: err.Error()}
		}
		var mode Mode
		if err := yaml.Unmarshal(data, &mode); err != nil {
			return nil, &ValidationError{File: name, Reason: fmt.Sprintf("invalid yaml: %v", err)}
		}
		if err := mode.validate(name); err != nil {
			return nil, err
		}
		mode.Name = strings.ToLower(strings.TrimSpace(mode.Name))
		if _, dup := modes[mode.Name]; dup {
			return nil, &ValidationError{File: name, Reason: fmt.Sprintf("duplicate mode name %q", mode.Name)}
		}
		modes[mode.Name] = mode
	}
	return modes, nil
}
