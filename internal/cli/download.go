// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/groupmodeling/eventlogs/internal/tui"
	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

func newDownloadCmd(ro *RootOpts) *cobra.Command {
	cfg := eventlogs.DefaultSettings()

	cmd := &cobra.Command{
		Use:   "download <dropbox-path>",
		Short: "Download every EventLogger record and its files",
		Long: `Hashes the .txt and .mdl files under the dropbox path, downloads every
EventLogger record and writes its event log and model file under the output
directory, grouped per gid. The raw query result is saved as database.json.`,
		Example: `  eventlogs download ../Dropbox/
  eventlogs download ../Dropbox/ -o ./Event_Logs --skip-existing`,
		Args: usageArgs(1, "Please enter a path to Dropbox", "ex. eventlogs download ../Dropbox/"),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			final := finalize(ro, cfg)

			var ui *tui.LiveRenderer
			progress := progressFor(ro, cmd.OutOrStdout(), func() eventlogs.ProgressFunc {
				ui = tui.NewLiveRenderer()
				return ui.Handler()
			})
			if ui != nil {
				defer ui.Close()
			}

			sum, err := eventlogs.DownloadAll(cmd.Context(), args[0], final, progress)
			if err != nil {
				return err
			}
			ro.log.Info().
				Int("records", sum.Records).
				Int("written", sum.Written).
				Int("skipped", sum.Skipped).
				Int("unmatched", sum.Unmatched).
				Msg("download finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.OutputDir, "output", "o", eventlogs.DefaultOutputDir, "Destination directory")
	cmd.Flags().BoolVar(&cfg.NoSnapshot, "no-snapshot", false, "Do not write "+eventlogs.SnapshotFile)
	settingsFlags(cmd.Flags(), &cfg)

	return cmd
}

func newHistoryCmd(ro *RootOpts) *cobra.Command {
	cfg := eventlogs.DefaultSettings()

	cmd := &cobra.Command{
		Use:   "history <file> <dropbox-path>",
		Short: "Download the full history of the group that produced a model file",
		Long: `Hashes <file>, finds the EventLogger record whose ending hash matches it and
downloads every record of that record's gid, oldest first, into id<gid>/
under the output directory.`,
		Example: `  eventlogs history ../Dropbox/lake.mdl ../Dropbox/`,
		Args: usageArgs(2,
			"Please enter a file name and a path to Dropbox",
			"ex. eventlogs history ../Dropbox/model.mdl ../Dropbox/"),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			final := finalize(ro, cfg)

			var ui *tui.LiveRenderer
			progress := progressFor(ro, cmd.OutOrStdout(), func() eventlogs.ProgressFunc {
				ui = tui.NewLiveRenderer()
				return ui.Handler()
			})
			if ui != nil {
				defer ui.Close()
			}

			sum, err := eventlogs.DownloadHistory(cmd.Context(), args[0], args[1], final, progress)
			if err != nil {
				return err
			}
			ro.log.Info().
				Int("records", sum.Records).
				Int("written", sum.Written).
				Strs("dirs", sum.Dirs).
				Msg("history finished")
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.HistoryDir, "output", "o", cfg.HistoryDir, "Directory that receives id<gid>/")
	cmd.Flags().BoolVar(&cfg.SnapshotHistory, "snapshot", false, "Also write "+eventlogs.SnapshotFile+" inside id<gid>/")
	settingsFlags(cmd.Flags(), &cfg)

	return cmd
}

func newHashCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <dropbox-path>",
		Short: "Print the hash of every .txt and .mdl file under a directory",
		Args:  usageArgs(1, "Please enter a path to Dropbox", "ex. eventlogs hash ../Dropbox/"),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := eventlogs.HashDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ro.log.Debug().Int("files", len(index)).Str("path", args[0]).Msg("hashed dropbox")

			out := cmd.OutOrStdout()
			if ro.JSONOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if index == nil {
					index = eventlogs.HashIndex{}
				}
				return enc.Encode(index)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HASH\tNAME")
			for _, h := range index {
				fmt.Fprintf(tw, "%s\t%s\n", h.Hash, h.Name)
			}
			return tw.Flush()
		},
	}
	return cmd
}
