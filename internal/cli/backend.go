// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// backend.go - Model server and tokenizer construction from config.

package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/config"
	"github.com/jeranaias/ctxchat/internal/llamacpp"
	"github.com/jeranaias/ctxchat/internal/llm"
	"github.com/jeranaias/ctxchat/internal/ollama"
	"github.com/jeranaias/ctxchat/internal/tokenizer"
)

// newBackend builds the model server client named by cfg.Backend.
func newBackend(cfg *config.Config, logger *zap.Logger) (llm.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendOllama:
		oc := ollama.DefaultConfig()
		if cfg.Backend.URL != "" {
			oc.BaseURL = cfg.Backend.URL
		}
		if cfg.Backend.Model != "" {
			oc.DefaultModel = cfg.Backend.Model
		}
		if cfg.Backend.StreamTimeoutSecs > 0 {
			oc.StreamTimeout = time.Duration(cfg.Backend.StreamTimeoutSecs) * time.Second
		}
		oc.NumCtx = cfg.AI.ContextSize
		oc.Logger = logger
		return ollama.NewClientWithConfig(oc), nil

	case config.BackendLlamaCpp:
		return llamacpp.New(llamacpp.Config{
			BaseURL: cfg.Backend.URL,
			Model:   cfg.Backend.Model,
			APIKey:  cfg.Backend.APIKey,
			Logger:  logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
	}
}

// checkBackend reports an unreachable Ollama server, or a model that has not
// been pulled, up front. Other backends are checked by their first request.
func checkBackend(ctx context.Context, b llm.Backend) error {
	client, ok := b.(*ollama.Client)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.CheckRunning(ctx); err != nil {
		return fmt.Errorf("%w at %s (start it with: ollama serve)", err, client.GetConfig().BaseURL)
	}

	name := client.GetConfig().DefaultModel
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models at %s: %w", client.GetConfig().BaseURL, err)
	}
	for _, m := range models {
		if sameModel(m.Name, name) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (pull it with: ollama pull %s)", ollama.ErrModelNotFound, name, name)
}

// sameModel compares model names, treating a missing tag as ":latest".
func sameModel(a, b string) bool {
	tagged := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return tagged(a) == tagged(b)
}

// newCounter returns the SentencePiece counter when a tokenizer model is
// configured, and the estimator otherwise.
func newCounter(cfg *config.Config, logger *zap.Logger) tokenizer.Counter {
	if cfg.AI.TokenizerPath == "" {
		return tokenizer.Estimator{}
	}
	return tokenizer.NewSentencePiece(cfg.AI.TokenizerPath, logger)
}

// =============================================================================
// RELOADABLE BACKEND
// =============================================================================

// backendKey holds the settings a backend client is built from.
type backendKey struct {
	config.BackendConfig
	contextSize int
}

func keyOf(cfg *config.Config) backendKey {
	return backendKey{BackendConfig: cfg.Backend, contextSize: cfg.AI.ContextSize}
}

// swappableBackend forwards to a client rebuilt whenever the backend
// settings change on disk. A stream already started keeps its client.
type swappableBackend struct {
	mu      sync.RWMutex
	current llm.Backend
	key     backendKey
	logger  *zap.Logger
	build   func(*config.Config, *zap.Logger) (llm.Backend, error)
}

func newSwappableBackend(cfg *config.Config, logger *zap.Logger) (*swappableBackend, error) {
	s := &swappableBackend{logger: logger, build: newBackend}
	b, err := s.build(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.current, s.key = b, keyOf(cfg)
	return s, nil
}

var _ llm.Backend = (*swappableBackend)(nil)

// Name implements llm.Backend.
func (s *swappableBackend) Name() string {
	return s.Current().Name()
}

// Stream implements llm.Backend.
func (s *swappableBackend) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return s.Current().Stream(ctx, req)
}

// Current returns the active client.
func (s *swappableBackend) Current() llm.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update rebuilds the client if cfg changed its settings. It reports whether
// a new client was installed.
func (s *swappableBackend) Update(cfg *config.Config) (bool, error) {
	key := keyOf(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.key {
		return false, nil
	}
	b, err := s.build(cfg, s.logger)
	if err != nil {
		return false, err
	}
	s.current, s.key = b, key
	s.logger.Info("backend rebuilt",
		zap.String("kind", cfg.Backend.Kind),
		zap.String("model", cfg.Backend.Model),
		zap.Int("context_size", cfg.AI.ContextSize))
	return true, nil
}
