// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"context"
	"fmt"
	"os"
)

// Materialize downloads the files of each record and writes them under
// outDir, one id<gid>/ directory per group.
//
// Records are handled one at a time in list order. The model name comes
// from the first entry of index whose hash equals the record's ending hash,
// or UnknownModelName. A record without a gid is a failure. The first
// failure stops the loop; files already written are left in place.
func Materialize(ctx context.Context, f Fetcher, records []RemoteRecord, index HashIndex, outDir string, cfg Settings, progress ProgressFunc) (Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.withDefaults()
	emit := newEmitter(progress)

	sum := Summary{Records: len(records)}
	seenDirs := map[string]bool{}
	var seq Sequencer

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if rec.GID.String() == "" {
			return sum, &DownloadError{Record: i + 1, Err: fmt.Errorf("record has no gid")}
		}

		n := seq.Next(rec.GID)
		endHash := rec.EndingHash.Base64
		modelName := index.ModelName(endHash)
		if modelName == UnknownModelName {
			sum.Unmatched++
		}
		names := ArtifactNamesFor(outDir, rec.GID, n, modelName)
		if !seenDirs[names.Dir] {
			seenDirs[names.Dir] = true
			sum.Dirs = append(sum.Dirs, names.Dir)
		}

		emit(ProgressEvent{
			Event:   "record_start",
			Record:  i + 1,
			Total:   len(records),
			GID:     rec.GID.String(),
			Path:    names.ModelFile,
			Message: fmt.Sprintf("Processing record id number %d", i+1),
		})

		if cfg.SkipExisting {
			skip, reason, err := shouldSkipLocal(names, endHash)
			if err != nil {
				return sum, &DownloadError{Record: i + 1, Path: names.ModelFile, Err: err}
			}
			if skip {
				sum.Skipped++
				emit(ProgressEvent{Event: "record_skip", Record: i + 1, Total: len(records), GID: rec.GID.String(), Path: names.ModelFile, Message: "skip (" + reason + ")"})
				continue
			}
		}

		if err := materializeRecord(ctx, f, rec, names, cfg, i+1, emit); err != nil {
			return sum, err
		}
		sum.Written++
		emit(ProgressEvent{Event: "record_done", Record: i + 1, Total: len(records), GID: rec.GID.String(), Path: names.ModelFile})
	}
	return sum, nil
}

func materializeRecord(ctx context.Context, f Fetcher, rec RemoteRecord, names ArtifactNames, cfg Settings, pos int, emit func(ProgressEvent)) error {
	if rec.EventLog.URL == "" {
		return &DownloadError{Record: pos, Path: names.LogFile, Err: fmt.Errorf("record has no EventLog url")}
	}
	if rec.ModelFile.URL == "" {
		return &DownloadError{Record: pos, Path: names.ModelFile, Err: fmt.Errorf("record has no ModelFile url")}
	}

	logBody, err := f.Fetch(ctx, rec.EventLog.URL)
	if err != nil {
		return &DownloadError{Record: pos, Path: names.LogFile, Err: err}
	}
	model, err := f.Fetch(ctx, rec.ModelFile.URL)
	if err != nil {
		return &DownloadError{Record: pos, Path: names.ModelFile, Err: err}
	}
	if cfg.Verify == "sha1" {
		if err := verifySHA1(names.ModelFile, model, rec.EndingHash.Base64); err != nil {
			return &DownloadError{Record: pos, Path: names.ModelFile, Err: err}
		}
	}

	if err := os.MkdirAll(names.Dir, 0o755); err != nil {
		return &DownloadError{Record: pos, Path: names.Dir, Err: err}
	}
	if err := writeFileAtomic(names.LogFile, logBody); err != nil {
		return &DownloadError{Record: pos, Path: names.LogFile, Err: err}
	}
	emit(ProgressEvent{Event: "file_done", Record: pos, GID: rec.GID.String(), Path: names.LogFile, Bytes: int64(len(logBody))})

	if err := writeFileAtomic(names.ModelFile, model); err != nil {
		return &DownloadError{Record: pos, Path: names.ModelFile, Err: err}
	}
	emit(ProgressEvent{Event: "file_done", Record: pos, GID: rec.GID.String(), Path: names.ModelFile, Bytes: int64(len(model))})
	return nil
}
