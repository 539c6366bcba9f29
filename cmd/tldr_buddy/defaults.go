package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Completion provider (OpenAI-compatible).
	viper.SetDefault("endpoint", "https://api.openai.com")
	viper.SetDefault("api_key", "")
	viper.SetDefault("llm.request_timeout", 90*time.Second)

	// Transcription
	viper.SetDefault("transcription.model", "whisper-1")

	// Modes
	viper.SetDefault("modes.dir", "modes")
	viper.SetDefault("modes.reload_interval", 30*time.Second)
	viper.SetDefault("analysis.deadline", 45*time.Second)

	// Instance guard
	viper.SetDefault("guard.enabled", true)
	viper.SetDefault("guard.lock_path", filepath.Join(os.TempDir(), "tldr-buddy.lock"))
	viper.SetDefault("guard.grace_wait", 5*time.Second)

	// Per-user language cache
	viper.SetDefault("language_cache.path", filepath.Join(os.TempDir(), "tldr-buddy-languages.json"))

	// Downloaded audio cache
	viper.SetDefault("file_cache_dir", filepath.Join(os.TempDir(), ".tldr-buddy-cache"))
	viper.SetDefault("file_cache.max_age", 24*time.Hour)
	viper.SetDefault("file_cache.max_files", 500)
	viper.SetDefault("file_cache.max_total_bytes", int64(256*1024*1024))

	// Telegram
	viper.SetDefault("telegram.base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.max_concurrency", 3)
	viper.SetDefault("telegram.queue_size", 16)
	viper.SetDefault("telegram.max_audio_bytes", int64(20*1024*1024))
	viper.SetDefault("telegram.transcript_cache_size", 100)
	viper.SetDefault("telegram.transcript_ttl", 1*time.Hour)
}
