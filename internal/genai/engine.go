// Package genai generates notification content. The primary path asks an
// external chat-completions backend; every failure mode falls back to the
// deterministic per-type templates, so callers always end up with content.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/orbita/neurolink/internal/model"
)

// Config tunes the engine. Zero values fall back to the shipped defaults:
// 3 attempts, 2s initial delay doubling per attempt, 30s request timeout.
type Config struct {
	APIURL  string
	Token   string
	Model   string
	Timeout time.Duration
	Retry   retry.Strategy
}

// Content is a generated or templated notification body. Title and Message
// always respect the model length bounds.
type Content struct {
	Title           string `json:"title"`
	Message         string `json:"message"`
	Tone            string `json:"tone"`
	Emoji           string `json:"emoji"`
	GeneratedWithAI bool   `json:"-"`
}

var (
	ErrNotConfigured = errors.New("content backend not configured")
	ErrEmptyReply    = errors.New("content backend returned no choices")
	ErrNoJSON        = errors.New("no JSON object in backend reply")
	ErrIncomplete    = errors.New("backend reply missing title or message")
)

// Engine talks to the text-generation backend.
type Engine struct {
	apiURL   string
	token    string
	model    string
	client   *http.Client
	strategy retry.Strategy
}

func NewEngine(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.Strategy{Attempts: 3, Delay: 2 * time.Second, Backoff: 2}
	}
	if cfg.Model == "" {
		cfg.Model = "auto"
	}

	return &Engine{
		apiURL:   cfg.APIURL,
		token:    cfg.Token,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		strategy: cfg.Retry,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces content for the given context. On any failure it returns
// the error alongside nothing useful; callers are expected to use Fallback.
func (e *Engine) Generate(ctx context.Context, nc model.NotificationContext) (Content, error) {
	if e.apiURL == "" || e.token == "" {
		return Content{}, ErrNotConfigured
	}

	raw, err := e.complete(ctx, BuildPrompt(nc))
	if err != nil {
		return Content{}, fmt.Errorf("complete prompt: %w", err)
	}

	content, err := parseReply(raw)
	if err != nil {
		return Content{}, fmt.Errorf("parse reply: %w", err)
	}
	return content, nil
}

// complete submits the prompt with a bounded attempt loop. The delay grows by
// the strategy backoff factor between attempts; each attempt carries the
// client's own request timeout.
func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       e.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	delay := e.strategy.Delay

	for attempt := 1; attempt <= e.strategy.Attempts; attempt++ {
		reply, err := e.post(ctx, body)
		if err == nil {
			return reply, nil
		}

		lastErr = err
		zlog.Logger.Warn().Err(err).Int("attempt", attempt).Int("max", e.strategy.Attempts).
			Msg("content backend request failed")

		if attempt == e.strategy.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * e.strategy.Backoff)
	}

	return "", lastErr
}

func (e *Engine) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("content backend status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyReply
	}

	return parsed.Choices[0].Message.Content, nil
}

// parseReply extracts the first JSON object from the raw model output,
// requires title and message, and clamps lengths to the hard bounds.
func parseReply(raw string) (Content, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Content{}, ErrNoJSON
	}

	var content Content
	if err := json.Unmarshal([]byte(raw[start:end+1]), &content); err != nil {
		return Content{}, fmt.Errorf("%w: %s", ErrNoJSON, err)
	}
	if content.Title == "" || content.Message == "" {
		return Content{}, ErrIncomplete
	}

	content.Title = model.Sanitize(content.Title, model.MaxTitleLen)
	content.Message = model.Sanitize(content.Message, model.MaxMessageLen)
	if content.Tone == "" {
		content.Tone = "neutral"
	}
	if content.Emoji == "" {
		content.Emoji = "📝"
	}
	content.GeneratedWithAI = true

	return content, nil
}
