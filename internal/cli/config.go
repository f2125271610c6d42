// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

// DefaultConfig returns the default configuration. Keys match the flag
// names they provide defaults for.
func DefaultConfig() map[string]any {
	def := eventlogs.DefaultSettings()
	return map[string]any{
		"endpoint":        def.Endpoint,
		"app-id":          "",
		"api-key":         "",
		"output":          def.OutputDir,
		"history-output":  def.HistoryDir,
		"timeout":         def.Timeout,
		"retries":         def.Retries,
		"backoff-initial": def.BackoffInitial,
		"backoff-max":     def.BackoffMax,
		"verify":          def.Verify,
		"skip-existing":   false,
		"no-snapshot":     false,
		"snapshot":        false,
		"limit":           0,
	}
}

// defaultConfigPath is where config init writes and config show reads when
// no file exists yet.
func defaultConfigPath(ext string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".config", "eventlogs"+ext), nil
}

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd(ro))
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd(ro))

	return cmd
}

func newConfigInitCmd(ro *RootOpts) *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/eventlogs.json (or .yaml)

The configuration file sets default values for the command flags and may
hold the Parse credentials. CLI flags always override config file values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			path := ro.Config
			if path == "" {
				p, err := defaultConfigPath(ext)
				if err != nil {
					return err
				}
				path = p
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := DefaultConfig()
			var (
				data []byte
				err  error
			)
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}

			// Credentials may end up in this file.
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}
			ro.log.Debug().Str("path", path).Msg("config file written")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created config file: %s\n\n", path)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Set app-id and api-key for the Parse backend")
			fmt.Fprintln(out, "  - Change the default output directory")
			fmt.Fprintln(out, "  - Adjust retry and timeout settings")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			path := configPath(ro.Config)
			if path == "" {
				def, err := defaultConfigPath(".json")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "No config file found.")
				fmt.Fprintf(out, "Run 'eventlogs config init' to create one at:\n  %s\n", def)
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Config file: %s\n\n", path)
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}

func newConfigPathCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(ro.Config)
			if path == "" {
				p, err := defaultConfigPath(".json")
				if err != nil {
					return err
				}
				path = p
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
