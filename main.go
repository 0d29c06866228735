// ctxchat - Chat with a local model inside a fixed context window.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/jeranaias/ctxchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version, cli.GitCommit, cli.BuildDate = Version, GitCommit, BuildDate
	os.Exit(cli.Execute(os.Args[1:]))
}
