// Package llm calls an OpenAI-compatible chat completions endpoint to
// generate unified diffs for candidate files.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/fixbot/internal/config"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/prompt"
)

// temperature is pinned low so regenerated diffs stay close to the
// minimal-change instruction.
const temperature = 0.1

// maxGenerationAttempts bounds the validate-and-regenerate loop per file.
const maxGenerationAttempts = 3

// Client talks to the configured completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// New builds a Client from the LLM configuration.
func New(cfg config.LLMConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion and returns the raw content of the
// first choice. Every call carries a request identifier that shows up in
// the logs on both success and failure.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	requestID := uuid.NewString()
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "marshal completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("LLM request failed", logfields.RequestID(requestID), logfields.Error(err))
		return "", apperrors.WrapRetryable(err, apperrors.CategoryNetwork, apperrors.SeverityWarning, "llm request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", apperrors.WrapRetryable(err, apperrors.CategoryNetwork, apperrors.SeverityWarning, "read llm response")
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("LLM request rejected",
			logfields.RequestID(requestID),
			slog.Int("status", resp.StatusCode))
		return "", apperrors.FromHTTPStatus(resp.StatusCode, nil,
			fmt.Sprintf("llm endpoint returned %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryLLM, apperrors.SeverityError, "parse llm response")
	}
	if len(parsed.Choices) == 0 {
		return "", apperrors.New(apperrors.CategoryLLM, apperrors.SeverityError, "llm response contained no choices")
	}

	slog.Info("LLM completion",
		logfields.RequestID(requestID),
		slog.String("model", parsed.Model),
		slog.Int("total_tokens", parsed.Usage.TotalTokens),
		slog.String("finish_reason", parsed.Choices[0].FinishReason),
		logfields.DurationMS(time.Since(start)))
	return parsed.Choices[0].Message.Content, nil
}

// GenerateDiff prompts for a unified diff against one candidate file,
// regenerating up to maxGenerationAttempts times when the response fails
// diff validation. The returned diff is fence-stripped and validated.
func (c *Client) GenerateDiff(ctx context.Context, in prompt.Input) (string, error) {
	system := prompt.System(in.Project)
	user := prompt.User(in)

	var lastErr error
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		content, err := c.Complete(ctx, system, user)
		if err != nil {
			return "", err
		}

		diff := StripFences(content)
		if err := ValidateDiff(diff); err != nil {
			lastErr = err
			slog.Warn("Model response failed diff validation",
				logfields.Path(in.FilePath),
				logfields.Attempt(attempt),
				logfields.Error(err))
			user = prompt.User(in) + prompt.RegenerationHint(err.Error())
			continue
		}
		return diff, nil
	}
	return "", apperrors.Wrap(lastErr, apperrors.CategoryLLM, apperrors.SeverityError,
		fmt.Sprintf("no valid diff after %d attempts", maxGenerationAttempts))
}
