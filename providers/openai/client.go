package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/llm"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []llm.Message `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiErrorBody `json:"error,omitempty"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	do := func(forceJSON bool) (llm.Result, int, *apiErrorBody, []byte, error) {
		body := chatCompletionRequest{
			Model:       req.Model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}
		if forceJSON {
			body.ResponseFormat = map[string]string{"type": "json_object"}
		}

		b, err := json.Marshal(body)
		if err != nil {
			return llm.Result{}, 0, nil, nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
		if err != nil {
			return llm.Result{}, 0, nil, nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.HTTP.Do(httpReq)
		if err != nil {
			return llm.Result{}, 0, nil, nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return llm.Result{}, 0, nil, nil, err
		}

		var out chatCompletionResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return llm.Result{}, resp.StatusCode, nil, raw, nil
			}
			return llm.Result{}, resp.StatusCode, nil, raw, fmt.Errorf("openai: decode response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return llm.Result{}, resp.StatusCode, out.Error, raw, nil
		}

		if len(out.Choices) == 0 {
			return llm.Result{}, resp.StatusCode, nil, raw, fmt.Errorf("openai: empty choices")
		}

		return llm.Result{
			Text: out.Choices[0].Message.Content,
			Usage: llm.Usage{
				InputTokens:  out.Usage.PromptTokens,
				OutputTokens: out.Usage.CompletionTokens,
				TotalTokens:  out.Usage.TotalTokens,
			},
			Duration: time.Since(start),
		}, resp.StatusCode, nil, raw, nil
	}

	res, status, apiErr, raw, err := do(req.ForceJSON)
	if err != nil {
		return llm.Result{}, err
	}
	if status >= 200 && status < 300 {
		return res, nil
	}

	// Some OpenAI-compatible backends reject response_format; retry once
	// without it before giving up.
	if req.ForceJSON && apiErr != nil && strings.Contains(strings.ToLower(apiErr.Message), "response_format") {
		res, status, apiErr, raw, err = do(false)
		if err != nil {
			return llm.Result{}, err
		}
		if status >= 200 && status < 300 {
			return res, nil
		}
	}

	return llm.Result{}, newAPIError(status, apiErr, raw)
}

func newAPIError(status int, body *apiErrorBody, raw []byte) *APIError {
	e := &APIError{Status: status}
	if body != nil {
		e.Code = body.Code
		e.Type = body.Type
		e.Message = body.Message
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
		if len(e.Message) > 512 {
			e.Message = e.Message[:512]
		}
	}
	return e
}
