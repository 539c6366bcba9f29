package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/internal/instanceguard"
	"github.com/tonyazhuuki/tldr-buddy/internal/logutil"
	"github.com/tonyazhuuki/tldr-buddy/internal/telegramutil"
	"github.com/tonyazhuuki/tldr-buddy/providers/openai"
	"github.com/tonyazhuuki/tldr-buddy/speech"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			token := strings.TrimSpace(flagOrViperString(cmd, "telegram-bot-token", "telegram.bot_token"))
			if token == "" {
				return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or TLDR_BUDDY_TELEGRAM_BOT_TOKEN)")
			}
			apiKey := strings.TrimSpace(flagOrViperString(cmd, "api-key", "api_key"))
			if apiKey == "" {
				return fmt.Errorf("missing api_key (set via --api-key or TLDR_BUDDY_API_KEY)")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var lock *instanceguard.Handle
			if flagOrViperBool(cmd, "guard", "guard.enabled") {
				lock, err = instanceguard.Acquire(ctx, logger, instanceguard.Config{
					LockPath:  flagOrViperString(cmd, "lock-path", "guard.lock_path"),
					Signature: filepath.Base(os.Args[0]) + " serve",
					GraceWait: flagOrViperDuration(cmd, "guard-grace-wait", "guard.grace_wait"),
				})
				if err != nil {
					logger.Error("instance_lock_failed", "error", err.Error())
					return err
				}
				defer lock.Release()
			}

			cacheDir := viper.GetString("file_cache_dir")
			if cacheDir != "" {
				if err := telegramutil.EnsureSecureCacheDir(cacheDir); err != nil {
					return fmt.Errorf("file cache dir: %w", err)
				}
				go cacheCleanupLoop(ctx, logger, cacheDir)
			}

			modes := analysis.NewStore(flagOrViperString(cmd, "modes-dir", "modes.dir"), logger)
			if err := modes.Load(); err != nil {
				return fmt.Errorf("load modes: %w", err)
			}
			go modes.Watch(ctx, viper.GetDuration("modes.reload_interval"))

			langCache, err := speech.NewLanguageCache(viper.GetString("language_cache.path"), logger)
			if err != nil {
				return fmt.Errorf("language cache: %w", err)
			}

			provider := openai.New(viper.GetString("endpoint"), apiKey)
			if t := viper.GetDuration("llm.request_timeout"); t > 0 {
				provider.HTTP = &http.Client{Timeout: t}
			}

			// Per-mode failures are absorbed into the reply, so the parallel
			// stage runs without a user notifier.
			stage := &analysis.Stage{
				Modes:    modes,
				LLM:      provider,
				Retry:    &apiretry.Client{Logger: logger},
				Deadline: viper.GetDuration("analysis.deadline"),
				Logger:   logger,
			}

			api := newTelegramAPI(nil, viper.GetString("telegram.base_url"), token)
			cfg := botConfig{
				PollTimeout:         viper.GetDuration("telegram.poll_timeout"),
				MaxConcurrency:      flagOrViperInt(cmd, "max-concurrency", "telegram.max_concurrency"),
				QueueSize:           viper.GetInt("telegram.queue_size"),
				MaxAudioBytes:       flagOrViperInt64(cmd, "max-audio-bytes", "telegram.max_audio_bytes"),
				FileCacheDir:        cacheDir,
				TranscribeModel:     viper.GetString("transcription.model"),
				AdviceModel:         flagOrViperString(cmd, "model", "model"),
				TranscriptCacheSize: viper.GetInt("telegram.transcript_cache_size"),
				TranscriptTTL:       viper.GetDuration("telegram.transcript_ttl"),
			}

			b := newBot(api, logger, cfg, provider, langCache, provider, stage, modes, lock)
			return b.run(ctx)
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("api-key", "", "Provider API key.")
	cmd.Flags().String("model", "gpt-4o-mini", "Model used for archetype advice completions.")
	cmd.Flags().String("modes-dir", "", "Directory of analysis mode YAML files.")
	cmd.Flags().Bool("guard", true, "Enforce single-instance startup.")
	cmd.Flags().String("lock-path", "", "Instance lock file path.")
	cmd.Flags().Duration("guard-grace-wait", 5*time.Second, "How long duplicates get to exit after SIGTERM.")
	cmd.Flags().Int("max-concurrency", 3, "Maximum concurrently processed messages.")
	cmd.Flags().Int64("max-audio-bytes", 20*1024*1024, "Largest accepted audio file.")

	return cmd
}

func cacheCleanupLoop(ctx context.Context, logger *slog.Logger, dir string) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := telegramutil.CleanupCacheDir(dir,
				viper.GetDuration("file_cache.max_age"),
				viper.GetInt("file_cache.max_files"),
				viper.GetInt64("file_cache.max_total_bytes"),
			)
			if err != nil {
				logger.Warn("file_cache_cleanup_failed", "dir", dir, "error", err.Error())
			}
		}
	}
}
