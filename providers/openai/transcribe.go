package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tonyazhuuki/tldr-buddy/llm"
)

const defaultTranscribeModel = "whisper-1"

type transcriptionResponse struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Duration float64       `json:"duration"`
	Error    *apiErrorBody `json:"error,omitempty"`
}

// Transcribe posts audio to the /v1/audio/transcriptions endpoint and returns
// the transcript with the detected language.
func (c *Client) Transcribe(ctx context.Context, req llm.TranscribeRequest) (llm.Transcription, error) {
	if len(req.Audio) == 0 {
		return llm.Transcription{}, fmt.Errorf("openai: empty audio")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = defaultTranscribeModel
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "audio.ogg"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return llm.Transcription{}, err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return llm.Transcription{}, err
	}
	if err := mw.WriteField("model", model); err != nil {
		return llm.Transcription{}, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return llm.Transcription{}, err
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return llm.Transcription{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return llm.Transcription{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return llm.Transcription{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return llm.Transcription{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Transcription{}, err
	}

	var out transcriptionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return llm.Transcription{}, newAPIError(resp.StatusCode, nil, raw)
		}
		return llm.Transcription{}, fmt.Errorf("openai: decode transcription: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.Transcription{}, newAPIError(resp.StatusCode, out.Error, raw)
	}

	return llm.Transcription{
		Text:         strings.TrimSpace(out.Text),
		Language:     strings.ToLower(strings.TrimSpace(out.Language)),
		AudioSeconds: out.Duration,
	}, nil
}
