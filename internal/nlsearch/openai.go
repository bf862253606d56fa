package nlsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const (
	// DefaultModel is the chat model asked for function calls.
	DefaultModel = "gpt-4o"
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	functionName = "filter_cves"
)

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	MaxElapsed time.Duration
}

// OpenAIClient is a LanguageModel backed by an OpenAI-compatible
// chat-completions endpoint. Every request forces a filter_cves call.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIClient returns a client for cfg.
func NewOpenAIClient(cfg OpenAIConfig, client *http.Client, logger *zap.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{cfg: cfg, client: client, logger: logger}
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Temperature float64    `json:"temperature"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Tools       []chatTool `json:"tools"`
	ToolChoice  chatTool   `json:"tool_choice"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// filterCVEsSchema describes the function arguments to the model.
var filterCVEsSchema = map[string]any{
	"type":     "object",
	"required": []string{filterParamsKey, sortParamsKey},
	"properties": map[string]any{
		filterParamsKey: map[string]any{
			"type":        "array",
			"description": "Filters applied to the CVE database. Each names a parameter and has either included_values or included_range.",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"parameter"},
				"properties": map[string]any{
					"parameter":       map[string]any{"type": "string"},
					"included_values": map[string]any{"type": "array"},
					"included_range": map[string]any{
						"type":       "object",
						"properties": map[string]any{"min": map[string]any{}, "max": map[string]any{}},
					},
				},
			},
		},
		sortParamsKey: map[string]any{
			"type":        "array",
			"description": "Sort keys in priority order. Direction is low or high.",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"parameter", "direction"},
				"properties": map[string]any{
					"parameter": map[string]any{"type": "string"},
					"direction": map[string]any{"type": "string", "enum": []string{"low", "high"}},
				},
			},
		},
	},
}

// Complete sends the transcript and returns the function call arguments,
// falling back to the message text when the model answered without a call.
func (c *OpenAIClient) Complete(ctx context.Context, transcript Transcript) (string, error) {
	fn := chatTool{Type: "function", Function: toolFunction{
		Name:        functionName,
		Description: "Filter the CVE database for records that match the user's search.",
		Parameters:  filterCVEsSchema,
	}}
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    transcript.Messages(),
		Temperature: 0,
		MaxTokens:   c.cfg.MaxTokens,
		Tools:       []chatTool{fn},
		ToolChoice:  chatTool{Type: "function", Function: toolFunction{Name: functionName}},
	})
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("failed to read completion: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("completion endpoint returned %s", resp.Status)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("completion endpoint returned %s: %s", resp.Status, bytes.TrimSpace(data)))
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid completion response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = c.cfg.MaxElapsed
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Retrying completion request", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return "", err
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	msg := parsed.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name == functionName {
			return call.Function.Arguments, nil
		}
	}
	return msg.Content, nil
}
