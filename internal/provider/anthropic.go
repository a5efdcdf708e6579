package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens          int `json:"input_tokens"`
		OutputTokens         int `json:"output_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPCallFunc returns a CallFunc speaking the Anthropic messages API.
// Transport and non-2xx failures come back as *Error so the retry
// classification applies. A nil client falls back to a 2-minute-timeout
// default; the Client wrapper enforces the effective per-call deadline.
func NewHTTPCallFunc(baseURL, apiKey string, client *http.Client) CallFunc {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	endpoint := baseURL + "/v1/messages"

	return func(ctx context.Context, req Request) (Response, error) {
		body, err := json.Marshal(anthropicRequest{
			Model:     req.Model,
			MaxTokens: req.MaxTokens,
			Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		})
		if err != nil {
			return Response{}, fmt.Errorf("marshal provider request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return Response{}, fmt.Errorf("build provider request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)

		httpResp, err := client.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return Response{}, err
			}
			return Response{}, &Error{Kind: KindNetwork, Message: err.Error()}
		}
		defer func() {
			_ = httpResp.Body.Close()
		}()

		raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return Response{}, &Error{Kind: KindNetwork, Message: err.Error()}
		}

		var parsed anthropicResponse
		_ = json.Unmarshal(raw, &parsed)

		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			message := parsed.Error.Message
			if message == "" {
				message = http.StatusText(httpResp.StatusCode)
			}
			perr := FromStatus(httpResp.StatusCode, message)
			if secs, err := strconv.Atoi(httpResp.Header.Get("Retry-After")); err == nil && secs > 0 {
				perr.RetryAfter = time.Duration(secs) * time.Second
			}
			return Response{}, perr
		}

		var text string
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}

		return Response{
			Text:         text,
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			CachedTokens: parsed.Usage.CacheReadInputTokens,
		}, nil
	}
}
