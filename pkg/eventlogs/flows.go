// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DownloadAll hashes dropboxPath, fetches every EventLogger record, writes
// the database.json snapshot and materializes all records under
// cfg.OutputDir.
func DownloadAll(ctx context.Context, dropboxPath string, cfg Settings, progress ProgressFunc) (Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	emit := newEmitter(progress)

	index, err := scanDropbox(ctx, dropboxPath, emit)
	if err != nil {
		return Summary{}, fail(emit, err)
	}

	client, err := NewClient(cfg, progress)
	if err != nil {
		return Summary{}, fail(emit, err)
	}

	emit(ProgressEvent{Event: "query_start", Message: "Retrieving data from the database"})
	res, err := client.FetchAll(ctx)
	if err != nil {
		return Summary{}, fail(emit, fmt.Errorf("query %s: %w", ClassName, err))
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return Summary{}, fail(emit, err)
	}
	if !cfg.NoSnapshot {
		path := filepath.Join(cfg.OutputDir, SnapshotFile)
		if err := WriteSnapshot(path, res.Raw); err != nil {
			return Summary{}, fail(emit, err)
		}
		emit(ProgressEvent{Event: "snapshot", Path: path, Message: "Finished retrieving data from the database"})
	}
	emit(ProgressEvent{
		Event:   "query_done",
		Total:   len(res.Records),
		Message: fmt.Sprintf("There are %d records in the database", len(res.Records)),
	})

	sum, err := Materialize(ctx, client, res.Records, index, cfg.OutputDir, cfg, progress)
	if err != nil {
		return sum, fail(emit, err)
	}
	emit(ProgressEvent{
		Event:   "done",
		Total:   sum.Records,
		Path:    cfg.OutputDir,
		Message: fmt.Sprintf("Completed! Results written to folder %s", cfg.OutputDir),
	})
	return sum, nil
}

// DownloadHistory finds the record whose ending hash equals the hash of
// filePath, then downloads every record of that record's group, oldest
// first, under cfg.HistoryDir.
//
// When no record matches the file, ErrNoMatchingRecord is returned and
// nothing is written.
func DownloadHistory(ctx context.Context, filePath, dropboxPath string, cfg Settings, progress ProgressFunc) (Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	emit := newEmitter(progress)

	if err := requireFile(filePath); err != nil {
		return Summary{}, fail(emit, err)
	}
	inputHash, err := HashFile(filePath)
	if err != nil {
		return Summary{}, fail(emit, fmt.Errorf("issue reading %s: %w", filePath, err))
	}

	index, err := scanDropbox(ctx, dropboxPath, emit)
	if err != nil {
		return Summary{}, fail(emit, err)
	}

	client, err := NewClient(cfg, progress)
	if err != nil {
		return Summary{}, fail(emit, err)
	}

	emit(ProgressEvent{Event: "query_start", Message: "Looking up " + filepath.Base(filePath)})
	match, err := client.FetchByEndingHash(ctx, inputHash)
	if err != nil && !errors.Is(err, ErrNoResults) {
		return Summary{}, fail(emit, fmt.Errorf("query %s: %w", ClassName, err))
	}
	if err != nil || len(match.Records) == 0 || match.Records[0].GID.IsZero() {
		return Summary{}, fail(emit, fmt.Errorf("%s: %w", filepath.Base(filePath), ErrNoMatchingRecord))
	}
	gid := match.Records[0].GID

	hist, err := client.FetchByGroup(ctx, gid)
	if errors.Is(err, ErrNoResults) {
		return Summary{}, fail(emit, fmt.Errorf("gid %s: %w", gid, ErrNoMatchingRecord))
	}
	if err != nil {
		return Summary{}, fail(emit, fmt.Errorf("query %s: %w", ClassName, err))
	}
	emit(ProgressEvent{
		Event:   "query_done",
		Total:   len(hist.Records),
		GID:     gid.String(),
		Message: fmt.Sprintf("There are %d records in the database linked to %s", len(hist.Records), filePath),
	})

	if cfg.SnapshotHistory {
		path := filepath.Join(GroupDir(cfg.HistoryDir, gid), SnapshotFile)
		if err := WriteSnapshot(path, hist.Raw); err != nil {
			return Summary{}, fail(emit, err)
		}
		emit(ProgressEvent{Event: "snapshot", Path: path})
	}

	sum, err := Materialize(ctx, client, hist.Records, index, cfg.HistoryDir, cfg, progress)
	if err != nil {
		return sum, fail(emit, err)
	}
	dir := GroupDir(cfg.HistoryDir, gid)
	emit(ProgressEvent{
		Event:   "done",
		Total:   sum.Records,
		GID:     gid.String(),
		Path:    dir,
		Message: "Success! Data written to folder: " + dir,
	})
	return sum, nil
}

func scanDropbox(ctx context.Context, dropboxPath string, emit func(ProgressEvent)) (HashIndex, error) {
	emit(ProgressEvent{Event: "scan_start", Path: dropboxPath, Message: "Processing files in " + dropboxPath})
	index, err := HashDirectory(ctx, dropboxPath)
	if err != nil {
		return nil, err
	}
	emit(ProgressEvent{
		Event:   "scan_done",
		Path:    dropboxPath,
		Total:   len(index),
		Message: fmt.Sprintf("Processed %d mdl or txt files in %s", len(index), dropboxPath),
	})
	return index, nil
}

func fail(emit func(ProgressEvent), err error) error {
	emit(ProgressEvent{Level: "error", Event: "error", Message: err.Error()})
	return err
}
