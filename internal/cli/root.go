// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// root.go - Command tree for ctxchat.
//
// Running ctxchat with no subcommand starts the chat REPL.
//
// Examples:
//   ctxchat                              Start chatting with the configured model
//   ctxchat --context-size 4096 --context-mgmt periodic_summary
//   ctxchat analyze notes.txt            Analyse a file and exit
//   ctxchat config init                  Write the default config file
//   ctxchat config set ai.context_size 4096

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/config"
	"github.com/jeranaias/ctxchat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags override the config file for one run.
type globalFlags struct {
	configPath  string
	debug       bool
	backend     string
	url         string
	model       string
	contextSize int
	contextMgmt string
	noHistory   bool
}

// app carries what the commands share once the root has loaded the config.
type app struct {
	flags   globalFlags
	cfgPath string
	cfg     *config.Config
	logger  *zap.Logger
	// overrides reapplies the command line flags to a reloaded config.
	overrides func(*config.Config)

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	return execute(args, os.Stdin, os.Stdout, os.Stderr)
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.newRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(a.stderr, ErrorStyle.Render("Error:"), err)
	}
	return ExitCode(err)
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ctxchat",
		Short: "Chat with a local model inside a fixed context window",
		Long: "ctxchat talks to a local Ollama or llama.cpp server and keeps the conversation\n" +
			"inside the configured token budget, by sliding the window or summarising.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Message: err.Error()}
	})

	f := root.PersistentFlags()
	f.StringVarP(&a.flags.configPath, "config", "c", "", "config file (default ~/.ctxchat/config.toml)")
	f.BoolVar(&a.flags.debug, "debug", false, "debug logging")
	f.StringVar(&a.flags.backend, "backend", "", "model server: ollama or llamacpp")
	f.StringVar(&a.flags.url, "url", "", "model server URL")
	f.StringVarP(&a.flags.model, "model", "m", "", "model name")
	f.IntVar(&a.flags.contextSize, "context-size", 0, "context size in tokens")
	f.StringVar(&a.flags.contextMgmt, "context-mgmt", "", "sliding_window or periodic_summary")
	f.BoolVar(&a.flags.noHistory, "no-history", false, "answer each message without earlier turns")

	root.AddCommand(a.newChatCmd())
	root.AddCommand(a.newAnalyzeCmd())
	root.AddCommand(a.newConfigCmd())
	root.AddCommand(a.newVersionCmd())
	return root
}

// setup loads the config, applies flags and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.flags.configPath
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			return err
		}
		path = found
	}
	a.cfgPath = path

	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFromPath(path)
	}
	if err != nil {
		// config subcommands must still work on a broken file.
		if isConfigCmd(cmd) {
			cfg = config.Default()
		} else {
			return err
		}
	}

	a.overrides = func(c *config.Config) { a.applyFlags(cmd, c) }
	a.overrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.FromConfig(cfg)
	if err != nil {
		return err
	}
	a.logger = logger
	logger.Debug("config loaded",
		zap.String("path", path),
		zap.String("backend", cfg.Backend.Kind),
		zap.Int("context_size", cfg.AI.ContextSize),
		zap.String("context_mgmt", cfg.AI.ContextMgmt))
	return nil
}

// applyFlags copies explicitly set flags over cfg.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("debug") {
		cfg.Log.Debug = a.flags.debug
	}
	if changed("backend") {
		cfg.Backend.Kind = a.flags.backend
	}
	if changed("url") {
		cfg.Backend.URL = a.flags.url
	}
	if changed("model") {
		cfg.Backend.Model = a.flags.model
	}
	if changed("context-size") {
		cfg.AI.ContextSize = a.flags.contextSize
	}
	if changed("context-mgmt") {
		cfg.AI.ContextMgmt = a.flags.contextMgmt
	}
	if changed("no-history") {
		cfg.AI.HistoryEnabled = !a.flags.noHistory
	}
}

func isConfigCmd(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return true
		}
	}
	return false
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ctxchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}
