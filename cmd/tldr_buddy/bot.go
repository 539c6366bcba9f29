package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
	"github.com/tonyazhuuki/tldr-buddy/archetype"
	"github.com/tonyazhuuki/tldr-buddy/internal/apiretry"
	"github.com/tonyazhuuki/tldr-buddy/internal/instanceguard"
	"github.com/tonyazhuuki/tldr-buddy/llm"
	"github.com/tonyazhuuki/tldr-buddy/pipeline"
	"github.com/tonyazhuuki/tldr-buddy/render"
	"github.com/tonyazhuuki/tldr-buddy/speech"
)

const (
	callbackAdvice     = "advice"
	callbackTranscript = "transcript"
	callbackAuto       = "auto"
)

type botConfig struct {
	PollTimeout         time.Duration
	MaxConcurrency      int
	QueueSize           int
	MaxAudioBytes       int64
	FileCacheDir        string
	TranscribeModel     string
	AdviceModel         string
	TranscriptCacheSize int
	TranscriptTTL       time.Duration
}

type bot struct {
	api    *telegramAPI
	logger *slog.Logger
	cfg    botConfig

	transcriber   llm.Transcriber
	langCache     *speech.LanguageCache
	llmClient     llm.Client
	analysisStage *analysis.Stage
	formatter     render.Formatter
	modes         *analysis.Store
	lock          *instanceguard.Handle

	transcripts *transcriptCache
	startedAt   time.Time

	mu      sync.Mutex
	workers map[int64]chan telegramUpdate
	sem     chan struct{}
	wg      sync.WaitGroup
}

func newBot(api *telegramAPI, logger *slog.Logger, cfg botConfig, transcriber llm.Transcriber, langCache *speech.LanguageCache, client llm.Client, stage *analysis.Stage, modes *analysis.Store, lock *instanceguard.Handle) *bot {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &bot{
		api:           api,
		logger:        logger,
		cfg:           cfg,
		transcriber:   transcriber,
		langCache:     langCache,
		llmClient:     client,
		analysisStage: stage,
		formatter:     render.Formatter{MaxLen: telegramMaxMessageLen},
		modes:         modes,
		lock:          lock,
		transcripts:   newTranscriptCache(cfg.TranscriptCacheSize, cfg.TranscriptTTL),
		startedAt:     time.Now(),
		workers:       map[int64]chan telegramUpdate{},
		sem:           make(chan struct{}, cfg.MaxConcurrency),
	}
}

// run polls for updates until ctx is cancelled, then drains the per-chat
// workers.
func (b *bot) run(ctx context.Context) error {
	me, err := b.api.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	b.logger.Info("telegram_bot_started", "username", me.Username, "id", me.ID)

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		default:
		}

		updates, next, err := b.api.getUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.shutdown()
				return nil
			}
			b.logger.Warn("telegram_poll_failed", "error", err.Error())
			select {
			case <-ctx.Done():
				b.shutdown()
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		offset = next

		for _, update := range updates {
			chatID, ok := updateChatID(update)
			if !ok {
				continue
			}
			b.dispatch(ctx, chatID, update)
		}
	}
}

func (b *bot) dispatch(ctx context.Context, chatID int64, update telegramUpdate) {
	b.mu.Lock()
	jobs, ok := b.workers[chatID]
	if !ok {
		jobs = make(chan telegramUpdate, b.cfg.QueueSize)
		b.workers[chatID] = jobs
		b.wg.Add(1)
		go b.chatWorker(ctx, chatID, jobs)
	}
	b.mu.Unlock()

	select {
	case jobs <- update:
	default:
		b.logger.Warn("telegram_chat_queue_full", "chat_id", chatID)
	}
}

func (b *bot) chatWorker(ctx context.Context, chatID int64, jobs chan telegramUpdate) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-jobs:
			b.sem <- struct{}{}
			b.handleUpdate(ctx, chatID, update)
			<-b.sem
		}
	}
}

func (b *bot) shutdown() {
	b.wg.Wait()
	b.logger.Info("telegram_bot_stopped")
}

func updateChatID(u telegramUpdate) (int64, bool) {
	if u.Message != nil && u.Message.Chat != nil {
		return u.Message.Chat.ID, true
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil {
		return u.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}

func (b *bot) handleUpdate(ctx context.Context, chatID int64, update telegramUpdate) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, chatID, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, chatID, update.Message)
	}
}

func (b *bot) handleMessage(ctx context.Context, chatID int64, msg *telegramMessage) {
	if msg.From != nil && msg.From.IsBot {
		return
	}

	if cmd, ok := slashCommand(msg.Text); ok {
		b.handleCommand(ctx, chatID, cmd)
		return
	}

	switch {
	case msg.Voice != nil:
		b.handleAudio(ctx, chatID, msg, msg.Voice.FileID, msg.Voice.FileSize, "voice.ogg")
	case msg.VideoNote != nil:
		b.handleAudio(ctx, chatID, msg, msg.VideoNote.FileID, msg.VideoNote.FileSize, "video_note.mp4")
	case msg.Audio != nil:
		name := msg.Audio.FileName
		if name == "" {
			name = "audio.mp3"
		}
		b.handleAudio(ctx, chatID, msg, msg.Audio.FileID, msg.Audio.FileSize, name)
	case strings.TrimSpace(msg.Text) != "":
		b.handleText(ctx, chatID, msg.Text)
	}
}

func (b *bot) handleCommand(ctx context.Context, chatID int64, cmd string) {
	switch cmd {
	case "/start":
		_ = b.api.sendMessage(ctx, chatID, "Hi! Forward me a voice message (or a wall of text) and I'll send back a summary with key points. Buttons under the reply give you the raw transcript or advice in one of four voices.", nil)
	case "/help":
		_ = b.api.sendMessage(ctx, chatID, "Send or forward a voice message, video note or long text.\n\n/start – intro\n/health – bot status\n\nUnder each reply: Transcript shows the raw text, Advice answers in a chosen voice.", nil)
	case "/health":
		_ = b.api.sendMessage(ctx, chatID, b.healthText(), nil)
	default:
		_ = b.api.sendMessage(ctx, chatID, "Unknown command. Try /help.", nil)
	}
}

func (b *bot) healthText() string {
	uptime := time.Since(b.startedAt).Round(time.Second)
	enabled := len(b.modes.Enabled())
	lockPID := 0
	if b.lock != nil {
		lockPID = b.lock.Owner().PID
	}
	return fmt.Sprintf("OK\nuptime: %s\nenabled modes: %d\nlock pid: %d", uptime, enabled, lockPID)
}

func (b *bot) handleAudio(ctx context.Context, chatID int64, msg *telegramMessage, fileID string, fileSize int64, fallbackName string) {
	if b.cfg.MaxAudioBytes > 0 && fileSize > b.cfg.MaxAudioBytes {
		_ = b.api.sendMessage(ctx, chatID, "That file is too large for me to process.", nil)
		return
	}
	_ = b.api.sendChatAction(ctx, chatID, "typing")

	file, err := b.api.getFile(ctx, fileID)
	if err != nil {
		b.logger.Warn("telegram_get_file_failed", "chat_id", chatID, "error", err.Error())
		_ = b.api.sendMessage(ctx, chatID, "I couldn't fetch that file from Telegram. Please try again.", nil)
		return
	}
	audio, err := b.api.downloadFile(ctx, file.FilePath, b.cfg.MaxAudioBytes)
	if err != nil {
		b.logger.Warn("telegram_download_failed", "chat_id", chatID, "error", err.Error())
		_ = b.api.sendMessage(ctx, chatID, "I couldn't download that file. Please try again.", nil)
		return
	}
	b.cacheAudio(chatID, file, audio, fallbackName)

	userID := ""
	if msg.From != nil {
		userID = fmt.Sprintf("%d", msg.From.ID)
	}

	orch := b.orchestrator(chatID)
	outcome, err := orch.HandleVoice(ctx, speech.Request{
		Audio:    audio,
		Filename: filepath.Base(file.FilePath),
		UserID:   userID,
	})
	if err != nil {
		b.reportPipelineError(ctx, chatID, err)
		return
	}
	b.deliver(ctx, chatID, outcome)
}

func (b *bot) handleText(ctx context.Context, chatID int64, text string) {
	_ = b.api.sendChatAction(ctx, chatID, "typing")
	orch := b.orchestrator(chatID)
	outcome, err := orch.HandleText(ctx, text)
	if err != nil {
		b.reportPipelineError(ctx, chatID, err)
		return
	}
	b.deliver(ctx, chatID, outcome)
}

// reportPipelineError sends a fallback notice only when the retry client has
// not already delivered one.
func (b *bot) reportPipelineError(ctx context.Context, chatID int64, err error) {
	var terminal *apiretry.TerminalError
	if errors.As(err, &terminal) && terminal.UserNotified {
		return
	}
	_ = b.api.sendMessage(ctx, chatID, "Something went wrong with that message. Please try again later.", nil)
}

func (b *bot) deliver(ctx context.Context, chatID int64, outcome *pipeline.Outcome) {
	score, hasScore := emotionScore(outcome.Results)
	b.transcripts.put(chatID, transcriptEntry{
		Text:     outcome.Transcript,
		Score:    score,
		HasScore: hasScore,
	})

	markup := &telegramInlineKeyboard{InlineKeyboard: [][]telegramInlineButton{{
		{Text: "🧭 Advice", CallbackData: callbackAdvice},
		{Text: "📄 Transcript", CallbackData: callbackTranscript},
	}}}
	if err := b.api.sendMessageChunked(ctx, chatID, outcome.Reply, markup); err != nil {
		b.logger.Warn("telegram_reply_failed", "chat_id", chatID, "error", err.Error())
	}
}

func (b *bot) handleCallback(ctx context.Context, chatID int64, cq *telegramCallbackQuery) {
	action, arg := parseCallback(cq.Data)
	if action != callbackTranscript && action != callbackAdvice {
		b.logger.Warn("telegram_unknown_callback", "chat_id", chatID, "data", cq.Data)
		_ = b.api.answerCallbackQuery(ctx, cq.ID, "🤷")
		return
	}
	_ = b.api.answerCallbackQuery(ctx, cq.ID, "")

	entry, ok := b.transcripts.get(chatID)
	if !ok {
		_ = b.api.sendMessage(ctx, chatID, "That message has expired. Send a new one first.", nil)
		return
	}

	switch action {
	case callbackTranscript:
		_ = b.api.sendMessageChunked(ctx, chatID, "📄 "+entry.Text, nil)
	case callbackAdvice:
		if arg == "" {
			b.sendAdviceMenu(ctx, chatID)
			return
		}
		// Clear the menu keyboard once a choice is made.
		if cq.Message != nil {
			_ = b.api.editMessageReplyMarkup(ctx, chatID, cq.Message.MessageID, nil)
		}
		b.sendAdvice(ctx, chatID, entry, arg)
	}
}

func (b *bot) sendAdviceMenu(ctx context.Context, chatID int64) {
	rows := [][]telegramInlineButton{
		{{Text: "✨ Auto-select", CallbackData: callbackAdvice + ":" + callbackAuto}},
	}
	var row []telegramInlineButton
	for _, a := range archetype.All() {
		row = append(row, telegramInlineButton{
			Text:         a.Title(),
			CallbackData: callbackAdvice + ":" + string(a),
		})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	_ = b.api.sendMessage(ctx, chatID, "Whose voice should the advice be in?", &telegramInlineKeyboard{InlineKeyboard: rows})
}

func (b *bot) sendAdvice(ctx context.Context, chatID int64, entry transcriptEntry, arg string) {
	var selected archetype.Archetype
	if arg == callbackAuto {
		selected = archetype.Select(entry.Score)
	} else {
		var ok bool
		selected, ok = archetype.Parse(arg)
		if !ok {
			b.logger.Warn("telegram_unknown_archetype", "chat_id", chatID, "arg", arg)
			return
		}
	}

	_ = b.api.sendChatAction(ctx, chatID, "typing")
	retry := &apiretry.Client{Logger: b.logger, Notifier: b.notifier(chatID)}
	var out llm.Result
	err := retry.Do(ctx, "advice_completion", func(ctx context.Context) error {
		var callErr error
		out, callErr = b.llmClient.Chat(ctx, llm.Request{
			Model: b.cfg.AdviceModel,
			Messages: []llm.Message{
				llm.SystemMessage(selected.Persona()),
				llm.UserMessage(entry.Text),
			},
			Temperature: 0.7,
		})
		return callErr
	})
	if err != nil {
		// The retry client already notified the user.
		return
	}
	_ = b.api.sendMessageChunked(ctx, chatID, "🧭 "+selected.Title()+": "+strings.TrimSpace(out.Text), nil)
}

// orchestrator builds the per-chat pipeline so transcription failures notify
// the right chat exactly once.
func (b *bot) orchestrator(chatID int64) *pipeline.Orchestrator {
	return &pipeline.Orchestrator{
		Speech: &speech.Stage{
			Transcriber: b.transcriber,
			Retry:       &apiretry.Client{Logger: b.logger, Notifier: b.notifier(chatID)},
			Cache:       b.langCache,
			Model:       b.cfg.TranscribeModel,
			Logger:      b.logger,
		},
		Analysis:  b.analysisStage,
		Formatter: b.formatter,
		Logger:    b.logger,
	}
}

func (b *bot) notifier(chatID int64) apiretry.Notifier {
	return apiretry.NotifierFunc(func(ctx context.Context, kind apiretry.Kind, message string) {
		// Deliver the notice even when the request context is already done.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := b.api.sendMessage(sendCtx, chatID, message, nil); err != nil {
			b.logger.Warn("failure_notice_send_failed", "chat_id", chatID, "error", err.Error())
		}
	})
}

func (b *bot) cacheAudio(chatID int64, file *telegramFile, audio []byte, fallbackName string) {
	if b.cfg.FileCacheDir == "" {
		return
	}
	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = filepath.Ext(fallbackName)
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	path := filepath.Join(b.cfg.FileCacheDir, fmt.Sprintf("%d_%s%s", chatID, id.String(), ext))
	if err := writeCacheFile(path, audio); err != nil {
		b.logger.Warn("audio_cache_write_failed", "path", path, "error", err.Error())
	}
}

// emotionScore pulls the emotion mode's parsed vector out of the results.
func emotionScore(rs analysis.Resultset) (archetype.Score, bool) {
	res, ok := rs.Get(analysis.ModeEmotion)
	if !ok || res.Unavailable {
		return archetype.Score{}, false
	}
	score, err := analysis.ParseEmotion(res.Text)
	if err != nil {
		return archetype.Score{}, false
	}
	return score, true
}

// slashCommand extracts a normalized "/cmd", stripping any @BotName suffix.
func slashCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := text
	if i := strings.IndexAny(cmd, " \t\n"); i >= 0 {
		cmd = cmd[:i]
	}
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}

// parseCallback splits callback data into action and optional argument.
func parseCallback(data string) (action, arg string) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 2)
	action = parts[0]
	if len(parts) == 2 {
		arg = parts[1]
	}
	return action, arg
}

func writeCacheFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}
