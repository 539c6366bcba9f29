package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type telegramAPI struct {
	http    *http.Client
	baseURL string
	token   string
}

func newTelegramAPI(httpClient *http.Client, baseURL, token string) *telegramAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 65 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &telegramAPI{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type telegramUpdate struct {
	UpdateID      int64                  `json:"update_id"`
	Message       *telegramMessage       `json:"message"`
	CallbackQuery *telegramCallbackQuery `json:"callback_query"`
}

type telegramMessage struct {
	MessageID int64              `json:"message_id"`
	From      *telegramUser      `json:"from"`
	Chat      *telegramChat      `json:"chat"`
	Date      int64              `json:"date"`
	Text      string             `json:"text"`
	Voice     *telegramVoice     `json:"voice"`
	Audio     *telegramAudio     `json:"audio"`
	VideoNote *telegramVideoNote `json:"video_note"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type telegramVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type telegramAudio struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	FileName string `json:"file_name"`
}

type telegramVideoNote struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	FileSize int64  `json:"file_size"`
}

type telegramCallbackQuery struct {
	ID      string           `json:"id"`
	From    *telegramUser    `json:"from"`
	Message *telegramMessage `json:"message"`
	Data    string           `json:"data"`
}

type telegramFile struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

type telegramInlineKeyboard struct {
	InlineKeyboard [][]telegramInlineButton `json:"inline_keyboard"`
}

type telegramInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type telegramGetMeResponse struct {
	OK     bool          `json:"ok"`
	Result *telegramUser `json:"result"`
}

type telegramGetUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

type telegramOKResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (api *telegramAPI) method(name string) string {
	return api.baseURL + "/bot" + api.token + "/" + name
}

func (api *telegramAPI) postJSON(ctx context.Context, name string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.method(name), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("telegram %s: decode: %w", name, err)
		}
	}
	var ok telegramOKResponse
	if err := json.Unmarshal(raw, &ok); err == nil && !ok.OK {
		return fmt.Errorf("telegram %s: %s", name, ok.Description)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s: http %d", name, resp.StatusCode)
	}
	return nil
}

func (api *telegramAPI) getMe(ctx context.Context) (*telegramUser, error) {
	var out telegramGetMeResponse
	if err := api.postJSON(ctx, "getMe", map[string]any{}, &out); err != nil {
		return nil, err
	}
	if !out.OK || out.Result == nil {
		return nil, fmt.Errorf("telegram getMe: empty result")
	}
	return out.Result, nil
}

func (api *telegramAPI) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegramUpdate, int64, error) {
	payload := map[string]any{
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}
	var out telegramGetUpdatesResponse
	if err := api.postJSON(ctx, "getUpdates", payload, &out); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range out.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return out.Result, next, nil
}

func (api *telegramAPI) sendMessage(ctx context.Context, chatID int64, text string, markup *telegramInlineKeyboard) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return api.postJSON(ctx, "sendMessage", payload, nil)
}

const telegramMaxMessageLen = 4096

// sendMessageChunked splits long texts on line boundaries where possible.
// Only the last chunk carries the keyboard.
func (api *telegramAPI) sendMessageChunked(ctx context.Context, chatID int64, text string, markup *telegramInlineKeyboard) error {
	chunks := splitMessage(text, telegramMaxMessageLen)
	for i, chunk := range chunks {
		var m *telegramInlineKeyboard
		if i == len(chunks)-1 {
			m = markup
		}
		if err := api.sendMessage(ctx, chatID, chunk, m); err != nil {
			return err
		}
	}
	return nil
}

func (api *telegramAPI) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return api.postJSON(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// editMessageReplyMarkup replaces a message's inline keyboard; nil clears it.
func (api *telegramAPI) editMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *telegramInlineKeyboard) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return api.postJSON(ctx, "editMessageReplyMarkup", payload, nil)
}

func (api *telegramAPI) answerCallbackQuery(ctx context.Context, id, text string) error {
	payload := map[string]any{"callback_query_id": id}
	if text != "" {
		payload["text"] = text
	}
	return api.postJSON(ctx, "answerCallbackQuery", payload, nil)
}

func (api *telegramAPI) getFile(ctx context.Context, fileID string) (*telegramFile, error) {
	var out struct {
		OK     bool          `json:"ok"`
		Result *telegramFile `json:"result"`
	}
	if err := api.postJSON(ctx, "getFile", map[string]any{"file_id": fileID}, &out); err != nil {
		return nil, err
	}
	if !out.OK || out.Result == nil || out.Result.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile: empty result")
	}
	return out.Result, nil
}

// downloadFile fetches the file content for a getFile path, bounded by
// maxBytes.
func (api *telegramAPI) downloadFile(ctx context.Context, filePath string, maxBytes int64) ([]byte, error) {
	u := api.baseURL + "/file/bot" + api.token + "/" + filePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram file download: http %d", resp.StatusCode)
	}
	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("telegram file download: exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// splitMessage breaks text into max-sized chunks, preferring newline
// boundaries in the trailing quarter of each chunk.
func splitMessage(text string, max int) []string {
	if max <= 0 || len([]rune(text)) <= max {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, string(runes))
			break
		}
		cut := max
		for i := max - 1; i >= max*3/4; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	return chunks
}
