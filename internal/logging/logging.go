// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/ctxchat/internal/config"
)

// DefaultFileName is the log file created in the config directory.
const DefaultFileName = "ctxchat.log"

// Options configures New.
type Options struct {
	// Debug lowers the level to debug.
	Debug bool
	// Path is a file path, "stderr" or "stdout". Empty means
	// ~/.ctxchat/ctxchat.log.
	Path string
}

// New builds a production JSON logger writing to the configured path.
func New(opts Options) (*zap.Logger, error) {
	path, err := resolvePath(opts.Path)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.DisableStacktrace = !opts.Debug

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Named("ctxchat"), nil
}

// FromConfig builds the logger described by cfg.Log.
func FromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(Options{Debug: cfg.Log.Debug, Path: cfg.Log.Path})
}

func resolvePath(path string) (string, error) {
	switch path {
	case "stderr", "stdout":
		return path, nil
	case "":
		dir, err := config.ConfigDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, DefaultFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return path, nil
}
