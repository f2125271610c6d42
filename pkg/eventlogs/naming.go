// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"fmt"
	"path/filepath"
)

const (
	// UnknownModelName names model files whose hash matched nothing locally.
	UnknownModelName = "unknown.mdl"

	// DefaultOutputDir is where full downloads are written.
	DefaultOutputDir = "./Event_Logs"

	// SnapshotFile is the name of the raw query dump.
	SnapshotFile = "database.json"

	logExtension = ".csv"
)

// Sequencer numbers records within a group. The counter starts at 1 and
// restarts whenever the group differs from the previous call's.
type Sequencer struct {
	current GroupID
	n       int
	started bool
}

// Next returns the sequence number for the next record of gid.
func (s *Sequencer) Next(gid GroupID) int {
	if !s.started || gid != s.current {
		s.current = gid
		s.n = 0
		s.started = true
	}
	s.n++
	return s.n
}

// GroupDir returns the directory holding a group's files.
func GroupDir(outDir string, gid GroupID) string {
	return filepath.Join(outDir, "id"+gid.String())
}

// ArtifactNamesFor computes where a record's log and model files go.
//
// For gid 3, sequence 2 and model "tank.mdl" under out this gives
// out/id3/id3_2_tank.csv and out/id3/id3_2_tank.mdl.
func ArtifactNamesFor(outDir string, gid GroupID, seq int, modelName string) ArtifactNames {
	dir := GroupDir(outDir, gid)
	prefix := fmt.Sprintf("id%s_%d_", gid.String(), seq)
	return ArtifactNames{
		Dir:       dir,
		LogFile:   filepath.Join(dir, prefix+stripExtension(modelName)+logExtension),
		ModelFile: filepath.Join(dir, prefix+modelName),
	}
}

// stripExtension drops the 4-character extension (".mdl", ".txt") shared
// by every name the index can produce.
func stripExtension(name string) string {
	if len(name) < 4 {
		return ""
	}
	return name[:len(name)-4]
}
