// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

func newManager(t *testing.T, dropbox string, settings eventlogs.Settings) *JobManager {
	t.Helper()
	return NewJobManager(Config{DropboxDir: dropbox, Settings: settings, Logger: zerolog.Nop()}, nil)
}

func TestJobManager_FullDownload(t *testing.T) {
	fp := newFakeParse(t,
		parseRow{GID: 7, EndingHash: hashOf("lake v1")},
		parseRow{GID: 7, EndingHash: hashOf("lake v2")},
		parseRow{GID: 9, EndingHash: "unmatched"},
	)
	dropbox := writeDropbox(t, map[string]string{"lake.mdl": "lake v2", "old/lake1.mdl": "lake v1"})
	settings := fp.settings(t)
	mgr := newManager(t, dropbox, settings)
	updates := mgr.Subscribe()
	defer mgr.Unsubscribe(updates)

	job, existing, err := mgr.CreateJob(SyncRequest{})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, JobKindDownload, job.Kind)
	assert.Equal(t, settings.OutputDir, job.OutputDir)

	final := waitForJob(t, updates, job.ID)
	require.Equal(t, JobStatusCompleted, final.Status, final.Error)
	assert.Equal(t, 3, final.Progress.TotalRecords)
	assert.Equal(t, 3, final.Progress.CompletedRecords)
	assert.Positive(t, final.Progress.Bytes)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 1, final.Summary.Unmatched)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.EndedAt)

	for _, p := range []string{
		"database.json",
		"id7/id7_1_lake1.csv",
		"id7/id7_1_lake1.mdl",
		"id7/id7_2_lake.csv",
		"id7/id7_2_lake.mdl",
		"id9/id9_1_unknown.mdl",
	} {
		assert.FileExists(t, filepath.Join(settings.OutputDir, p))
	}
}

func TestJobManager_History(t *testing.T) {
	fp := newFakeParse(t,
		parseRow{GID: 4, EndingHash: hashOf("first")},
		parseRow{GID: 5, EndingHash: hashOf("other")},
		parseRow{GID: 4, EndingHash: hashOf("second")},
	)
	dropbox := writeDropbox(t, map[string]string{"models/pond.mdl": "second"})
	settings := fp.settings(t)
	mgr := newManager(t, dropbox, settings)
	updates := mgr.Subscribe()
	defer mgr.Unsubscribe(updates)

	job, _, err := mgr.CreateJob(SyncRequest{File: "models/pond.mdl"})
	require.NoError(t, err)
	assert.Equal(t, JobKindHistory, job.Kind)
	assert.Equal(t, "models/pond.mdl", job.File)
	assert.Equal(t, settings.HistoryDir, job.OutputDir)

	final := waitForJob(t, updates, job.ID)
	require.Equal(t, JobStatusCompleted, final.Status, final.Error)
	assert.Equal(t, 2, final.Summary.Records)

	entries, err := os.ReadDir(filepath.Join(settings.HistoryDir, "id4"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"id4_1_unknown.csv", "id4_1_unknown.mdl", "id4_2_pond.csv", "id4_2_pond.mdl"}, names)
	assert.NoDirExists(t, filepath.Join(settings.HistoryDir, "id5"))
}

func TestJobManager_HistoryWithoutMatch(t *testing.T) {
	fp := newFakeParse(t, parseRow{GID: 1, EndingHash: hashOf("x")})
	dropbox := writeDropbox(t, map[string]string{"stray.mdl": "no record has this"})
	mgr := newManager(t, dropbox, fp.settings(t))
	updates := mgr.Subscribe()
	defer mgr.Unsubscribe(updates)

	job, _, err := mgr.CreateJob(SyncRequest{File: "stray.mdl"})
	require.NoError(t, err)

	final := waitForJob(t, updates, job.ID)
	assert.Equal(t, JobStatusFailed, final.Status)
	assert.Contains(t, final.Error, eventlogs.ErrNoMatchingRecord.Error())
}

func TestJobManager_DeduplicatesAndQueues(t *testing.T) {
	fp := newFakeParse(t, parseRow{GID: 1, EndingHash: hashOf("a")})
	fp.hold = make(chan struct{})
	defer close(fp.hold)
	dropbox := writeDropbox(t, map[string]string{"a.mdl": "a"})
	mgr := newManager(t, dropbox, fp.settings(t))

	first, existing, err := mgr.CreateJob(SyncRequest{})
	require.NoError(t, err)
	require.False(t, existing)

	again, existing, err := mgr.CreateJob(SyncRequest{File: "  "})
	require.NoError(t, err)
	assert.True(t, existing, "a blank file is a full download too")
	assert.Equal(t, first.ID, again.ID)

	history, existing, err := mgr.CreateJob(SyncRequest{File: "a.mdl"})
	require.NoError(t, err)
	assert.False(t, existing)
	assert.NotEqual(t, first.ID, history.ID)

	assert.Eventually(t, func() bool {
		j, _ := mgr.GetJob(first.ID)
		return j.Status == JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	queued, ok := mgr.GetJob(history.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusQueued, queued.Status, "only one job runs at a time")

	mgr.CancelAll()
	for _, id := range []string{first.ID, history.ID} {
		j, _ := mgr.GetJob(id)
		assert.Equal(t, JobStatusCancelled, j.Status)
		assert.NotNil(t, j.EndedAt)
	}
}

func TestJobManager_RunsInCreationOrder(t *testing.T) {
	fp := newFakeParse(t, parseRow{GID: 1, EndingHash: hashOf("a")})
	fp.hold = make(chan struct{})
	defer close(fp.hold)
	dropbox := writeDropbox(t, map[string]string{"a.mdl": "a", "b.mdl": "b", "c.mdl": "c"})
	mgr := newManager(t, dropbox, fp.settings(t))
	defer mgr.CancelAll()

	var jobs []Job
	for _, file := range []string{"", "a.mdl", "b.mdl", "c.mdl"} {
		j, _, err := mgr.CreateJob(SyncRequest{File: file})
		require.NoError(t, err)
		jobs = append(jobs, j)
	}

	status := func(id string) JobStatus {
		j, _ := mgr.GetJob(id)
		return j.Status
	}
	assert.Eventually(t, func() bool {
		return status(jobs[0].ID) == JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)
	for _, j := range jobs[1:] {
		assert.Equal(t, JobStatusQueued, status(j.ID))
	}

	// A job cancelled while queued is skipped.
	require.True(t, mgr.CancelJob(jobs[1].ID))
	require.True(t, mgr.CancelJob(jobs[0].ID))

	assert.Eventually(t, func() bool {
		return status(jobs[2].ID) == JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, JobStatusQueued, status(jobs[3].ID))

	skipped, _ := mgr.GetJob(jobs[1].ID)
	assert.Equal(t, JobStatusCancelled, skipped.Status)
	assert.Nil(t, skipped.StartedAt)
}

func TestJobManager_CancelJob(t *testing.T) {
	fp := newFakeParse(t)
	fp.hold = make(chan struct{})
	defer close(fp.hold)
	mgr := newManager(t, t.TempDir(), fp.settings(t))
	updates := mgr.Subscribe()
	defer mgr.Unsubscribe(updates)

	job, _, err := mgr.CreateJob(SyncRequest{})
	require.NoError(t, err)

	t.Run("cancels active job", func(t *testing.T) {
		assert.True(t, mgr.CancelJob(job.ID))
		final := waitForJob(t, updates, job.ID)
		assert.Equal(t, JobStatusCancelled, final.Status)
	})

	t.Run("cannot cancel twice", func(t *testing.T) {
		assert.False(t, mgr.CancelJob(job.ID))
	})

	t.Run("returns false for nonexistent job", func(t *testing.T) {
		assert.False(t, mgr.CancelJob("nonexistent"))
	})

	t.Run("status sticks after the flow returns", func(t *testing.T) {
		time.Sleep(50 * time.Millisecond)
		j, ok := mgr.GetJob(job.ID)
		require.True(t, ok)
		assert.Equal(t, JobStatusCancelled, j.Status)
		assert.Empty(t, j.Error)
	})
}

func TestJobManager_GetAndList(t *testing.T) {
	fp := newFakeParse(t)
	fp.hold = make(chan struct{})
	defer close(fp.hold)
	dropbox := writeDropbox(t, map[string]string{"a.mdl": "a", "b.mdl": "b"})
	mgr := newManager(t, dropbox, fp.settings(t))
	defer mgr.CancelAll()

	j1, _, _ := mgr.CreateJob(SyncRequest{})
	j2, _, _ := mgr.CreateJob(SyncRequest{File: "a.mdl"})
	j3, _, _ := mgr.CreateJob(SyncRequest{File: "b.mdl"})

	found, ok := mgr.GetJob(j2.ID)
	require.True(t, ok)
	assert.Equal(t, "a.mdl", found.File)

	_, ok = mgr.GetJob("nonexistent")
	assert.False(t, ok)

	var ids []string
	for _, j := range mgr.ListJobs() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{j1.ID, j2.ID, j3.ID}, ids, "oldest first")
}

func TestJobManager_ResolveFile(t *testing.T) {
	mgr := newManager(t, "/data/dropbox", eventlogs.DefaultSettings())

	tests := []struct {
		name    string
		file    string
		want    string
		wantErr bool
	}{
		{"plain", "lake.mdl", "/data/dropbox/lake.mdl", false},
		{"nested", "a/b/lake.mdl", "/data/dropbox/a/b/lake.mdl", false},
		{"cleaned", "a/../lake.mdl", "/data/dropbox/lake.mdl", false},
		{"dotdot prefix in name", "..lake.mdl", "/data/dropbox/..lake.mdl", false},
		{"parent", "../lake.mdl", "", true},
		{"absolute", "/etc/passwd", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mgr.resolveFile(tt.file)
			if tt.wantErr {
				assert.ErrorIs(t, err, eventlogs.ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestJobStatus_Values(t *testing.T) {
	for _, s := range []JobStatus{
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	} {
		assert.NotEmpty(t, s)
	}
}
