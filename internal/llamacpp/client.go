// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/model"
)

// Defaults for a locally started llama-server.
const (
	DefaultBaseURL = "http://127.0.0.1:8080/v1"
	DefaultModel   = "local"
	// llama-server ignores the key unless started with --api-key.
	DefaultAPIKey = "sk-no-key-required"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client streams chat completions from a llama.cpp server.
type Client struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

var _ llm.Backend = (*Client)(nil)

// New creates a Client, filling zero fields of cfg with defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.APIKey == "" {
		cfg.APIKey = DefaultAPIKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		// A retried stream would replay deltas the caller already consumed.
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger.Named("llamacpp"),
	}
}

// Name implements llm.Backend.
func (c *Client) Name() string {
	return "llamacpp"
}

// Stream implements llm.Backend. Connection and HTTP errors surface from the
// first call to Next.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p := req.Params
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toMessages(req.Messages),
		Temperature: openai.Float(p.Temperature),
		TopP:        openai.Float(p.TopP),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}

	opts := []option.RequestOption{
		option.WithJSONSet("repeat_penalty", p.RepeatPenalty),
		option.WithJSONSet("mirostat", p.Mirostat),
	}
	if len(p.Stop) > 0 {
		opts = append(opts, option.WithJSONSet("stop", p.Stop))
	}

	c.logger.Debug("chat stream",
		zap.String("model", c.model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("max_tokens", p.MaxTokens))

	return &stream{s: c.client.Chat.Completions.NewStreaming(ctx, params, opts...)}, nil
}

func toMessages(msgs []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// =============================================================================
// STREAM
// =============================================================================

type stream struct {
	s    *ssestream.Stream[openai.ChatCompletionChunk]
	done bool
}

func (s *stream) Next() (llm.Delta, error) {
	if s.done {
		return llm.Delta{}, io.EOF
	}
	if !s.s.Next() {
		s.done = true
		if err := s.s.Err(); err != nil {
			return llm.Delta{}, classify(err)
		}
		return llm.Delta{}, io.EOF
	}

	chunk := s.s.Current()
	if len(chunk.Choices) == 0 {
		// Usage-only chunk.
		return llm.Delta{}, nil
	}
	choice := chunk.Choices[0]
	reason := string(choice.FinishReason)
	return llm.Delta{
		Content:      choice.Delta.Content,
		Done:         reason != "",
		FinishReason: reason,
	}, nil
}

func (s *stream) Close() error {
	s.done = true
	return s.s.Close()
}

// classify maps SDK errors onto the llm error contract.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if llm.LooksLikeContextExceeded(err.Error()) {
		return fmt.Errorf("llamacpp: %w: %v", llm.ErrContextExceeded, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("llamacpp: server returned %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("llamacpp stream: %w", err)
}
