// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

// parseRow is one EventLogger row served by newFakeParse.
type parseRow struct {
	GID        int
	EndingHash string
}

// fakeParse serves the EventLogger class and its files. When hold is not
// nil, class queries wait for it to be closed or for the client to go away.
type fakeParse struct {
	srv  *httptest.Server
	rows []parseRow
	hold chan struct{}
}

func newFakeParse(t *testing.T, rows ...parseRow) *fakeParse {
	t.Helper()
	fp := &fakeParse{rows: rows}
	mux := http.NewServeMux()
	mux.HandleFunc("/1/classes/EventLogger", fp.handleClass)
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body of " + filepath.Base(r.URL.Path)))
	})
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeParse) handleClass(w http.ResponseWriter, r *http.Request) {
	if fp.hold != nil {
		select {
		case <-fp.hold:
		case <-r.Context().Done():
			return
		}
	}

	var where map[string]any
	if s := r.URL.Query().Get("where"); s != "" {
		_ = json.Unmarshal([]byte(s), &where)
	}
	results := []map[string]any{}
	for i, row := range fp.rows {
		if h, ok := where["EndingHash"]; ok && h != row.EndingHash {
			continue
		}
		if g, ok := where["gid"].(float64); ok && int(g) != row.GID {
			continue
		}
		results = append(results, map[string]any{
			"objectId":   "row" + string(rune('a'+i)),
			"gid":        row.GID,
			"EndingHash": map[string]any{"__type": "Bytes", "base64": row.EndingHash},
			"EventLog":   map[string]any{"__type": "File", "name": "log", "url": fp.srv.URL + "/files/log" + string(rune('a'+i))},
			"ModelFile":  map[string]any{"__type": "File", "name": "mdl", "url": fp.srv.URL + "/files/mdl" + string(rune('a'+i))},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

func (fp *fakeParse) settings(t *testing.T) eventlogs.Settings {
	cfg := eventlogs.DefaultSettings()
	cfg.Endpoint = fp.srv.URL
	cfg.AppID = "app-id-1234"
	cfg.APIKey = "rest-key-5678"
	cfg.OutputDir = filepath.Join(t.TempDir(), "Event_Logs")
	cfg.HistoryDir = t.TempDir()
	cfg.Retries = 0
	return cfg
}

func hashOf(content string) string {
	return eventlogs.HashBytes([]byte(content))
}

func writeDropbox(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func newTestServer(t *testing.T, dropbox string, settings eventlogs.Settings) *Server {
	t.Helper()
	return New(Config{
		Addr:       "127.0.0.1",
		DropboxDir: dropbox,
		Settings:   settings,
		Version:    "1.2.3-test",
	})
}

// waitForJob reads updates until the job with id reaches a final state.
func waitForJob(t *testing.T, updates <-chan Job, id string) Job {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case j := <-updates:
			if j.ID != id {
				continue
			}
			switch j.Status {
			case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
				return j
			}
		case <-timeout:
			t.Fatalf("job %s did not finish", id)
		}
	}
}
