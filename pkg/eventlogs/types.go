// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// HashRecord pairs a local file name with the base64 SHA-1 digest of its contents.
type HashRecord struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// HashIndex is the ordered result of a directory scan, in discovery order.
// Identical hashes are kept; lookups return the first one found.
type HashIndex []HashRecord

// Lookup scans the index for an exact hash match.
func (ix HashIndex) Lookup(hash string) (HashRecord, bool) {
	for _, h := range ix {
		if h.Hash == hash {
			return h, true
		}
	}
	return HashRecord{}, false
}

// ModelName returns the name of the first file hashing to hash, or
// UnknownModelName when nothing matches.
func (ix HashIndex) ModelName(hash string) string {
	if h, ok := ix.Lookup(hash); ok {
		return h.Name
	}
	return UnknownModelName
}

// GroupID is the gid column of an EventLogger row.
//
// The backend stores it as a number for records written by the app, but
// nothing prevents a string. The textual form is used for directory and
// file names; the original JSON type is kept so that the value can be
// sent back unchanged in a where clause.
type GroupID struct {
	value  string
	quoted bool
}

// NumericGroupID returns a GroupID that encodes as a JSON number.
func NumericGroupID(n int64) GroupID {
	return GroupID{value: fmt.Sprint(n)}
}

// StringGroupID returns a GroupID that encodes as a JSON string.
func StringGroupID(s string) GroupID {
	return GroupID{value: s, quoted: true}
}

func (g GroupID) String() string { return g.value }

// IsZero reports whether the gid was absent.
func (g GroupID) IsZero() bool { return g.value == "" && !g.quoted }

func (g GroupID) MarshalJSON() ([]byte, error) {
	if g.quoted {
		return json.Marshal(g.value)
	}
	if g.value == "" {
		return []byte("null"), nil
	}
	return []byte(g.value), nil
}

func (g *GroupID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*g = GroupID{}
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*g = StringGroupID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("gid: %w", err)
		}
		*g = GroupID{value: n.String()}
	}
	return nil
}

// File is a Parse file pointer.
type File struct {
	Type string `json:"__type,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Bytes is a Parse binary column, carried as base64.
type Bytes struct {
	Type   string `json:"__type,omitempty"`
	Base64 string `json:"base64"`
}

// RemoteRecord is one row of the EventLogger class. Only the columns
// requested through the keys parameter are populated.
type RemoteRecord struct {
	ObjectID   string  `json:"objectId,omitempty"`
	UserID     string  `json:"UserID,omitempty"`
	GID        GroupID `json:"gid"`
	EventLog   File    `json:"EventLog"`
	ModelFile  File    `json:"ModelFile"`
	EndingHash Bytes   `json:"EndingHash"`
	CreatedAt  string  `json:"createdAt,omitempty"`
}

// QueryResult holds a decoded query response.
//
// Raw is the body decoded generically (numbers preserved as json.Number)
// and is what gets written to the database snapshot.
type QueryResult struct {
	Records []RemoteRecord
	Raw     any
}

// ArtifactNames is where one record's files land on disk.
type ArtifactNames struct {
	Dir       string `json:"dir"`
	LogFile   string `json:"logFile"`
	ModelFile string `json:"modelFile"`
}

// Summary describes the outcome of materializing a list of records.
type Summary struct {
	Records   int      `json:"records"`
	Written   int      `json:"written"`
	Skipped   int      `json:"skipped"`
	Unmatched int      `json:"unmatched"`
	Dirs      []string `json:"dirs,omitempty"`
}

// Settings configures the client and the download flows.
//
// Zero values are replaced by DefaultSettings when a flow starts.
//
// Example:
//
//	cfg := eventlogs.DefaultSettings()
//	cfg.AppID = os.Getenv("PARSE_APP_ID")
//	cfg.APIKey = os.Getenv("PARSE_REST_API_KEY")
type Settings struct {
	// Endpoint is the scheme and host of the Parse API.
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,url"`

	// AppID and APIKey are sent as X-Parse-Application-Id and
	// X-Parse-REST-API-Key on every query.
	AppID  string `json:"appId" yaml:"appId"`
	APIKey string `json:"apiKey" yaml:"apiKey"`

	// OutputDir receives database.json and the id<gid>/ folders of a full
	// download. Defaults to "./Event_Logs".
	OutputDir string `json:"output" yaml:"output" validate:"required"`

	// HistoryDir receives the id<gid>/ folder of a single-file history.
	// Defaults to the current directory.
	HistoryDir string `json:"historyOutput" yaml:"historyOutput" validate:"required"`

	// Timeout bounds each HTTP request, e.g. "60s".
	Timeout string `json:"timeout" yaml:"timeout"`

	// Retries is the number of extra attempts for failed requests.
	Retries int `json:"retries" yaml:"retries" validate:"gte=0,lte=10"`

	// BackoffInitial and BackoffMax shape the exponential retry delay.
	BackoffInitial string `json:"backoffInitial" yaml:"backoffInitial"`
	BackoffMax     string `json:"backoffMax" yaml:"backoffMax"`

	// Verify is "none" or "sha1". With "sha1" each downloaded model must
	// hash to the record's ending hash.
	Verify string `json:"verify" yaml:"verify" validate:"omitempty,oneof=none sha1"`

	// SkipExisting leaves records alone whose files are already on disk
	// and whose model file still matches the ending hash.
	SkipExisting bool `json:"skipExisting" yaml:"skipExisting"`

	// Limit is passed as the Parse limit parameter when > 0.
	Limit int `json:"limit" yaml:"limit" validate:"gte=0,lte=1000"`

	// NoSnapshot disables database.json for full downloads.
	NoSnapshot bool `json:"noSnapshot" yaml:"noSnapshot"`

	// SnapshotHistory writes database.json next to a history download.
	SnapshotHistory bool `json:"snapshotHistory" yaml:"snapshotHistory"`

	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// DefaultSettings returns Settings with defaults filled in. Credentials are
// left empty.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:       DefaultEndpoint,
		OutputDir:      DefaultOutputDir,
		HistoryDir:     ".",
		Timeout:        "60s",
		Retries:        2,
		BackoffInitial: "400ms",
		BackoffMax:     "10s",
		Verify:         "none",
	}
}

// ProgressEvent is emitted while a flow runs.
//
// Event is one of:
//   - "scan_start", "scan_done": hashing the dropbox directory
//   - "query_start", "query_done": talking to the backend
//   - "snapshot": database.json was written
//   - "record_start", "record_done", "record_skip": per record
//   - "file_done": one file of a record was written
//   - "retry": a request is being retried
//   - "error": the flow failed
//   - "done": the flow finished
type ProgressEvent struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level,omitempty"`
	Event   string    `json:"event"`
	Record  int       `json:"record,omitempty"`
	Total   int       `json:"total,omitempty"`
	GID     string    `json:"gid,omitempty"`
	Path    string    `json:"path,omitempty"`
	Bytes   int64     `json:"bytes,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Message string    `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Flows call it from a single
// goroutine.
type ProgressFunc func(ProgressEvent)
