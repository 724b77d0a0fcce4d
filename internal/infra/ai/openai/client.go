package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/certimed/internal/domain/reports"
	"github.com/bryanwahyu/certimed/internal/domain/summarization"
	"github.com/bryanwahyu/certimed/internal/infra/ai/prompt"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 45 * time.Second
	maxTokens      = 1024
	backoffBase    = 500 * time.Millisecond
)

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional override, e.g. an OpenAI-compatible gateway
	Timeout    time.Duration
	MaxRetries int // extra attempts after the first, for retryable reasons only
}

type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger
	sleep  func(time.Duration) // overridable in tests
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Summarize sends the extracted text to the model and validates the
// response shape before returning. Retries with exponential backoff are
// limited to transient reasons; a malformed response surfaces immediately.
func (c *Client) Summarize(ctx context.Context, text reports.ExtractedText) (reports.Summary, error) {
	clean := prompt.CleanReportText(text.Text)

	req := openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(clean)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("llm.summarize.retry", "attempt", attempt, "error", lastErr)
			c.sleep(backoffBase << (attempt - 1))
		}

		summary, err := c.once(ctx, req)
		if err == nil {
			c.logger.Info("llm.summarize.ok", "model", c.cfg.Model, "terms", len(summary.Terms))
			return summary, nil
		}
		lastErr = err

		var suErr *summarization.Error
		if !errors.As(err, &suErr) || !suErr.Reason.Retryable() {
			return reports.Summary{}, err
		}
	}
	return reports.Summary{}, lastErr
}

func (c *Client) once(ctx context.Context, req openai.ChatCompletionRequest) (reports.Summary, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(cctx, req)
	if err != nil {
		return reports.Summary{}, classifyAPIErr(cctx, err)
	}
	if len(resp.Choices) == 0 {
		return reports.Summary{}, summarization.NewError(summarization.ReasonMalformedResponse,
			fmt.Errorf("no choices in response"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := validateAgainstSchema(summarySchema(), []byte(content)); err != nil {
		return reports.Summary{}, summarization.NewError(summarization.ReasonMalformedResponse, err)
	}

	var out reports.Summary
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return reports.Summary{}, summarization.NewError(summarization.ReasonMalformedResponse, err)
	}
	if dup := duplicateTerm(out.Terms); dup != "" {
		return reports.Summary{}, summarization.NewError(summarization.ReasonMalformedResponse,
			fmt.Errorf("duplicate term %q", dup))
	}
	return out, nil
}

// duplicateTerm enforces term uniqueness, which the JSON schema can't.
func duplicateTerm(terms []reports.TermExplanation) string {
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		key := strings.ToLower(t.Term)
		if seen[key] {
			return t.Term
		}
		seen[key] = true
	}
	return ""
}

func classifyAPIErr(ctx context.Context, err error) *summarization.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return summarization.NewError(summarization.ReasonTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return summarization.NewError(summarization.ReasonRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return summarization.NewError(summarization.ReasonServiceUnavailable, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == 429 {
		return summarization.NewError(summarization.ReasonRateLimited, err)
	}
	return summarization.NewError(summarization.ReasonServiceUnavailable, err)
}
