// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package eventlogs downloads the event logs and model files uploaded to the
EventLogger class of a Parse backend and names them after the local model
files they were recorded from.

A local directory (usually a shared Dropbox folder) is scanned for .txt and
.mdl files, each identified by the base64 SHA-1 digest of its contents. Every
remote record carries the same kind of digest as its EndingHash, which links
the record back to a file name.

# Downloading everything

	cfg := eventlogs.DefaultSettings()
	cfg.AppID = os.Getenv("PARSE_APP_ID")
	cfg.APIKey = os.Getenv("PARSE_REST_API_KEY")

	sum, err := eventlogs.DownloadAll(ctx, "../Dropbox", cfg, nil)

This writes ./Event_Logs/database.json and, for each group, files such as

	./Event_Logs/id7/id7_1_tank.csv
	./Event_Logs/id7/id7_1_tank.mdl
	./Event_Logs/id7/id7_2_tank.csv

Records whose hash matches no local file are named after unknown.mdl.

# History of one file

	sum, err := eventlogs.DownloadHistory(ctx, "tank.mdl", "../Dropbox", cfg, nil)

The record whose EndingHash equals the file's digest gives a gid; all records
of that gid are then downloaded oldest first into ./id<gid>/. If nothing
matches, the error wraps ErrNoMatchingRecord.

# Lower level

HashDirectory, Client, Materialize and WriteSnapshot are the building blocks
of both flows and can be used on their own. Materialize accepts any Fetcher,
which makes it easy to feed it files from somewhere other than HTTP.
*/
package eventlogs
