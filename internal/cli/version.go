// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// BuildInfo holds version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Commit    string `json:"commit"`
	BuildTime string `json:"built"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Commit = setting.Value
				if len(info.Commit) > 7 {
					info.Commit = info.Commit[:7]
				}
			case "vcs.time":
				info.BuildTime = setting.Value
			}
		}
	}
	return info
}

func newVersionCmd(ro *RootOpts, version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo(version)
			out := cmd.OutOrStdout()

			switch {
			case short:
				fmt.Fprintln(out, info.Version)
			case ro.JSONOut:
				return json.NewEncoder(out).Encode(info)
			default:
				fmt.Fprintf(out, "eventlogs %s\n", info.Version)
				fmt.Fprintf(out, "  Go:       %s\n", info.GoVersion)
				fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", info.OS, info.Arch)
				fmt.Fprintf(out, "  Commit:   %s\n", info.Commit)
				fmt.Fprintf(out, "  Built:    %s\n", info.BuildTime)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}
