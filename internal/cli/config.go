// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for ctxchat.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   path                Show the configuration file path
//   init                Write a default configuration file
//   get <key>           Print one value
//   set <key> <value>   Change one value in the file
//   keys                List the keys get and set accept
//
// Examples:
//   ctxchat config show --format json
//   ctxchat config init --format yaml
//   ctxchat config set ai.context_mgmt periodic_summary
//   ctxchat config set sampling.stop "</s>,User:"

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ctxchat/internal/config"
)

func (a *app) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.configShow(cmd, string(config.FormatTOML))
		},
	}

	var showFormat string
	show := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.configShow(cmd, showFormat)
		},
	}
	show.Flags().StringVar(&showFormat, "format", "toml", "output format: toml, yaml or json")

	path := &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.targetPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var (
		initFormat string
		force      bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.configInit(cmd, initFormat, force)
		},
	}
	initCmd.Flags().StringVar(&initFormat, "format", "toml", "file format: toml, yaml or json")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Message: err.Error()}
			}
			if strings.EqualFold(args[0], "backend.api_key") && v != "" {
				v = "[REDACTED]"
			}
			if list, ok := v.([]string); ok {
				v = strings.Join(list, ",")
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one value in the configuration file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.configSet(cmd, args[0], args[1])
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List configuration keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(config.Keys(), "\n"))
			return nil
		},
	}

	cmd.AddCommand(show, path, initCmd, get, set, keys)
	return cmd
}

func parseFormat(s string) (config.Format, error) {
	switch f := config.Format(strings.ToLower(s)); f {
	case config.FormatTOML, config.FormatYAML, config.FormatJSON:
		return f, nil
	case "yml":
		return config.FormatYAML, nil
	}
	return "", &UsageError{Message: fmt.Sprintf("unknown format %q (want toml, yaml or json)", s)}
}

// targetPath is the file config commands read and write: the loaded file,
// or the default TOML file.
func (a *app) targetPath() (string, error) {
	if a.cfgPath != "" {
		return a.cfgPath, nil
	}
	return config.ConfigPathTOML()
}

func (a *app) configShow(cmd *cobra.Command, format string) error {
	f, err := parseFormat(format)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if f == config.FormatTOML {
		fmt.Fprint(out, a.cfg.String())
	} else {
		safe := a.cfg.Clone()
		if safe.Backend.APIKey != "" {
			safe.Backend.APIKey = "[REDACTED]"
		}
		data, err := config.Encode(safe, f)
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(data))
	}

	source := a.cfgPath
	if source == "" {
		source = "(defaults)"
	}
	fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("# source: "+source))
	return nil
}

func (a *app) configInit(cmd *cobra.Command, format string, force bool) error {
	f, err := parseFormat(format)
	if err != nil {
		return err
	}
	path := a.flags.configPath
	if path == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config."+string(f))
	}
	if _, err := os.Stat(path); err == nil && !force {
		return &CommandError{Command: "config", Action: "init",
			Err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
	}
	if err := config.SaveToPath(config.Default(), path); err != nil {
		return &CommandError{Command: "config", Action: "init", Err: err}
	}
	fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote "+path))
	return nil
}

// configSet edits the file itself, so values from flags and the environment
// are not written back.
func (a *app) configSet(cmd *cobra.Command, key, value string) error {
	path, err := a.targetPath()
	if err != nil {
		return err
	}

	cfg := config.Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = config.Decode(data, config.FormatOf(path)); err != nil {
			return &CommandError{Command: "config", Action: "set", Err: err}
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return &CommandError{Command: "config", Action: "set", Err: err}
	}

	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveToPath(cfg, path); err != nil {
		return &CommandError{Command: "config", Action: "set", Err: err}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", SuccessStyle.Render("Set"), key, value)
	return nil
}
