// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testAppID  = "app-123"
	testAPIKey = "rest-456"
)

// fakeRow is a record as stored by fakeParse.
type fakeRow struct {
	GID        any
	EndingHash string
	Log        string
	Model      string
}

// fakeParse serves the EventLogger class and the files it references.
type fakeParse struct {
	t    *testing.T
	srv  *httptest.Server
	rows []fakeRow

	mu       sync.Mutex
	queries  []map[string]string
	fileHits int
	// failures makes the next n class queries answer 503.
	failures int
}

func newFakeParse(t *testing.T, rows []fakeRow) *fakeParse {
	t.Helper()
	fp := &fakeParse{t: t, rows: rows}
	mux := http.NewServeMux()
	mux.HandleFunc("/1/classes/EventLogger", fp.handleClass)
	mux.HandleFunc("/files/", fp.handleFile)
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeParse) settings(t *testing.T) Settings {
	cfg := DefaultSettings()
	cfg.Endpoint = fp.srv.URL
	cfg.AppID = testAppID
	cfg.APIKey = testAPIKey
	cfg.OutputDir = filepath.Join(t.TempDir(), "Event_Logs")
	cfg.HistoryDir = t.TempDir()
	cfg.BackoffInitial = "1ms"
	cfg.BackoffMax = "5ms"
	return cfg
}

func (fp *fakeParse) handleClass(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Parse-Application-Id") != testAppID || r.Header.Get("X-Parse-REST-API-Key") != testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}

	fp.mu.Lock()
	fp.queries = append(fp.queries, q)
	fail := fp.failures > 0
	if fail {
		fp.failures--
	}
	fp.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var where map[string]any
	if s := q["where"]; s != "" {
		if err := json.Unmarshal([]byte(s), &where); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":102,"error":"bad where"}`))
			return
		}
	}

	results := []map[string]any{}
	for i, row := range fp.rows {
		if h, ok := where["EndingHash"]; ok && h != row.EndingHash {
			continue
		}
		if g, ok := where["gid"]; ok && !sameGID(g, row.GID) {
			continue
		}
		results = append(results, map[string]any{
			"objectId":   "obj" + string(rune('A'+i)),
			"gid":        row.GID,
			"EndingHash": map[string]any{"__type": "Bytes", "base64": row.EndingHash},
			"EventLog":   map[string]any{"__type": "File", "name": "log", "url": fp.srv.URL + "/files/" + row.Log},
			"ModelFile":  map[string]any{"__type": "File", "name": "model", "url": fp.srv.URL + "/files/" + row.Model},
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": results})
}

func sameGID(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func (fp *fakeParse) handleFile(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	fp.fileHits++
	fp.mu.Unlock()
	w.Write([]byte("content of " + filepath.Base(r.URL.Path)))
}

func (fp *fakeParse) lastQuery() map[string]string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.queries) == 0 {
		return nil
	}
	return fp.queries[len(fp.queries)-1]
}

// writeFile creates path under dir with the given content and returns the
// full path.
func writeFile(t *testing.T, dir, path, content string) string {
	t.Helper()
	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

// mapFetcher serves file bodies from memory.
type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	b, ok := m[url]
	if !ok {
		return nil, &APIError{StatusCode: 404, Status: "404 Not Found", URL: url}
	}
	return b, nil
}
