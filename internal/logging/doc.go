// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zap logger used across ctxchat.
//
// The chat REPL owns the terminal, so logs go to a file under ~/.ctxchat
// rather than stderr unless a path says otherwise.
//
// # Usage
//
//	logger, err := logging.New(logging.Options{Debug: cfg.Log.Debug, Path: cfg.Log.Path})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
package logging
