// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/spf13/cobra"

	"github.com/groupmodeling/eventlogs/internal/server"
	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

func newServeCmd(ro *RootOpts, version string) *cobra.Command {
	var (
		addr    string
		port    int
		dropbox string
		origins []string
	)
	cfg := eventlogs.DefaultSettings()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an HTTP server that runs downloads on request",
		Long: `Start an HTTP server that provides:
  - REST API to hash the dropbox and start download or history jobs
  - WebSocket for live job progress

Output paths and credentials are configured server-side only (not via API).

Example:
  eventlogs serve --dropbox ../Dropbox
  eventlogs serve --dropbox ../Dropbox --port 3000 -o ./Event_Logs`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			final := finalize(ro, cfg)
			if err := final.Validate(); err != nil {
				return err
			}

			srv := server.New(server.Config{
				Addr:           addr,
				Port:           port,
				DropboxDir:     dropbox,
				Settings:       final,
				AllowedOrigins: origins,
				Version:        version,
				Logger:         ro.log.Logger,
			})
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&dropbox, "dropbox", ".", "Dropbox directory hashed by every job")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "Allowed CORS origins (default: any)")
	cmd.Flags().StringVarP(&cfg.OutputDir, "output", "o", eventlogs.DefaultOutputDir, "Destination directory for full downloads")
	cmd.Flags().StringVar(&cfg.HistoryDir, "history-output", cfg.HistoryDir, "Destination directory for history downloads")
	cmd.Flags().BoolVar(&cfg.NoSnapshot, "no-snapshot", false, "Do not write "+eventlogs.SnapshotFile+" for full downloads")
	cmd.Flags().BoolVar(&cfg.SnapshotHistory, "snapshot", false, "Also write "+eventlogs.SnapshotFile+" for history downloads")
	settingsFlags(cmd.Flags(), &cfg)

	return cmd
}
