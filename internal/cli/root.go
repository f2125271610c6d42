// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/groupmodeling/eventlogs/internal/logging"
	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

const (
	envAppID    = "PARSE_APP_ID"
	envAPIKey   = "PARSE_REST_API_KEY"
	envEndpoint = "PARSE_ENDPOINT"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	AppID    string
	APIKey   string
	Endpoint string
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string

	log *logging.Logger
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()
	if err := newRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd(version string) *cobra.Command {
	ro := &RootOpts{log: logging.Nop()}

	root := &cobra.Command{
		Use:           "eventlogs",
		Short:         "Download EventLogger logs and model files, named after matching local models",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.New(logging.Options{
				Level:   ro.LogLevel,
				Verbose: ro.Verbose,
				Quiet:   ro.Quiet,
				File:    ro.LogFile,
				Console: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			ro.log = l
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ro.log.Close()
		},
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.StringVar(&ro.AppID, "app-id", "", "Parse application id (also reads "+envAppID+" env)")
	pf.StringVar(&ro.APIKey, "api-key", "", "Parse REST API key (also reads "+envAPIKey+" env)")
	pf.StringVar(&ro.Endpoint, "endpoint", eventlogs.DefaultEndpoint, "Parse API endpoint (also reads "+envEndpoint+" env)")
	pf.BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	pf.BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (plain progress lines, warnings only in logs)")
	pf.BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	pf.StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	pf.StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	pf.StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	downloadCmd := newDownloadCmd(ro)
	root.AddCommand(downloadCmd)
	root.AddCommand(newHistoryCmd(ro))
	root.AddCommand(newHashCmd(ro))
	root.AddCommand(newServeCmd(ro, version))
	root.AddCommand(newConfigCmd(ro))
	root.AddCommand(newVersionCmd(ro, version))

	// Make download the default command when no subcommand is given
	root.Args = downloadCmd.Args
	root.Flags().AddFlagSet(downloadCmd.Flags())
	root.PreRunE = downloadCmd.PreRunE
	root.RunE = downloadCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// usageArgs rejects the wrong number of positional arguments with the
// given usage lines.
func usageArgs(n int, usage ...string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%s", strings.Join(usage, "\n"))
		}
		return nil
	}
}

// settingsFlags registers the flags shared by every command that talks to
// the backend.
func settingsFlags(fs *pflag.FlagSet, cfg *eventlogs.Settings) {
	def := eventlogs.DefaultSettings()
	fs.IntVar(&cfg.Retries, "retries", def.Retries, "Max retry attempts per HTTP request")
	fs.StringVar(&cfg.BackoffInitial, "backoff-initial", def.BackoffInitial, "Initial retry backoff duration")
	fs.StringVar(&cfg.BackoffMax, "backoff-max", def.BackoffMax, "Maximum retry backoff duration")
	fs.StringVar(&cfg.Timeout, "timeout", def.Timeout, "Timeout for each HTTP request")
	fs.StringVar(&cfg.Verify, "verify", def.Verify, "Model verification: none|sha1 (sha1 checks the ending hash)")
	fs.BoolVar(&cfg.SkipExisting, "skip-existing", false, "Skip records already on disk whose model still matches the ending hash")
	fs.IntVar(&cfg.Limit, "limit", 0, "Parse query limit (0 uses the server default, max 1000)")
}

// finalize merges credentials from flags and environment into cfg.
func finalize(ro *RootOpts, cfg eventlogs.Settings) eventlogs.Settings {
	pick := func(flag, env string) string {
		if v := strings.TrimSpace(flag); v != "" {
			return v
		}
		return strings.TrimSpace(os.Getenv(env))
	}
	cfg.AppID = pick(ro.AppID, envAppID)
	cfg.APIKey = pick(ro.APIKey, envAPIKey)
	cfg.Endpoint = ro.Endpoint
	if v := strings.TrimSpace(os.Getenv(envEndpoint)); v != "" && ro.Endpoint == eventlogs.DefaultEndpoint {
		cfg.Endpoint = v
	}
	if cfg.AppID == "" || cfg.APIKey == "" {
		ro.log.Warn().Msg("Parse credentials are not set; pass --app-id/--api-key or set " + envAppID + "/" + envAPIKey)
	}
	return cfg
}

// configPath returns the explicit config file or the first default one
// that exists.
func configPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	home, _ := os.UserHomeDir()
	for _, name := range []string{"eventlogs.json", "eventlogs.yaml", "eventlogs.yml"} {
		p := filepath.Join(home, ".config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfigFile decodes a JSON or YAML config file into a flat map.
func loadConfigFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	return cfg, nil
}

// applySettingsDefaults fills flags the user did not set from the config file.
func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, dst *eventlogs.Settings) error {
	path := configPath(ro.Config)
	if path == "" {
		return nil
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return err
	}
	ro.log.Debug().Str("path", path).Msg("loaded config file")

	// Keys are matched to the flag that would override them; the history
	// command binds --output to the history directory.
	flags := cmd.Flags()
	changed := func(flagName string) bool {
		f := flags.Lookup(flagName)
		return f != nil && f.Changed
	}
	outputFlag, historyFlag := "output", "history-output"
	if cmd.Name() == "history" {
		outputFlag, historyFlag = "", "output"
	}
	setStr := func(key, flagName string, set func(string)) {
		if changed(flagName) {
			return
		}
		if v, ok := cfg[key]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(key string, set func(int)) {
		if changed(key) {
			return
		}
		if v, ok := cfg[key]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}
	setBool := func(key string, set func(bool)) {
		if changed(key) {
			return
		}
		if v, ok := cfg[key]; ok && v != nil {
			set(fmt.Sprint(v) == "true")
		}
	}

	setStr("output", outputFlag, func(v string) { dst.OutputDir = v })
	setStr("history-output", historyFlag, func(v string) { dst.HistoryDir = v })
	setInt("retries", func(v int) { dst.Retries = v })
	setStr("backoff-initial", "backoff-initial", func(v string) { dst.BackoffInitial = v })
	setStr("backoff-max", "backoff-max", func(v string) { dst.BackoffMax = v })
	setStr("timeout", "timeout", func(v string) { dst.Timeout = v })
	setStr("verify", "verify", func(v string) { dst.Verify = v })
	setBool("skip-existing", func(v bool) { dst.SkipExisting = v })
	setBool("no-snapshot", func(v bool) { dst.NoSnapshot = v })
	setBool("snapshot", func(v bool) { dst.SnapshotHistory = v })
	setInt("limit", func(v int) { dst.Limit = v })
	setStr("endpoint", "endpoint", func(v string) { ro.Endpoint = v })

	if !flags.Changed("app-id") && os.Getenv(envAppID) == "" {
		if v, ok := cfg["app-id"]; ok && v != nil {
			ro.AppID = fmt.Sprint(v)
		}
	}
	if !flags.Changed("api-key") && os.Getenv(envAPIKey) == "" {
		if v, ok := cfg["api-key"]; ok && v != nil {
			ro.APIKey = fmt.Sprint(v)
		}
	}
	return nil
}

// progressFor picks the progress handler for the current output mode and
// mirrors every event into the debug log.
func progressFor(ro *RootOpts, w io.Writer, interactive func() eventlogs.ProgressFunc) eventlogs.ProgressFunc {
	var show eventlogs.ProgressFunc
	switch {
	case ro.JSONOut:
		show = jsonProgress(w)
	case ro.Quiet || interactive == nil:
		show = cliProgress(w)
	default:
		show = interactive()
	}
	return func(ev eventlogs.ProgressEvent) {
		ro.log.Debug().
			Str("event", ev.Event).
			Int("record", ev.Record).
			Str("gid", ev.GID).
			Str("path", ev.Path).
			Msg(ev.Message)
		show(ev)
	}
}

// cliProgress returns a simple text-based progress handler that prints the
// same lines the original scripts did.
func cliProgress(w io.Writer) eventlogs.ProgressFunc {
	return func(ev eventlogs.ProgressEvent) {
		switch ev.Event {
		case "scan_start", "scan_done", "query_start", "query_done", "record_start", "done":
			fmt.Fprintln(w, ev.Message)
		case "snapshot":
			if ev.Message != "" {
				fmt.Fprintln(w, ev.Message)
			}
		case "record_skip":
			fmt.Fprintf(w, "skip: %s %s\n", ev.Path, ev.Message)
		case "retry":
			fmt.Fprintf(w, "retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) eventlogs.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev eventlogs.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
