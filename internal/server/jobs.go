// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

// JobStatus represents the state of a sync job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobKind tells which flow a job runs.
type JobKind string

const (
	JobKindDownload JobKind = "download"
	JobKindHistory  JobKind = "history"
)

// Job is one run of the full download or of a single-file history.
type Job struct {
	ID        string             `json:"id"`
	Kind      JobKind            `json:"kind"`
	File      string             `json:"file,omitempty"`
	OutputDir string             `json:"outputDir"`
	Status    JobStatus          `json:"status"`
	Progress  JobProgress        `json:"progress"`
	Summary   *eventlogs.Summary `json:"summary,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	StartedAt *time.Time         `json:"startedAt,omitempty"`
	EndedAt   *time.Time         `json:"endedAt,omitempty"`

	seq    int
	cancel context.CancelFunc
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	Phase            string `json:"phase,omitempty"`
	TotalRecords     int    `json:"totalRecords"`
	CompletedRecords int    `json:"completedRecords"`
	SkippedRecords   int    `json:"skippedRecords"`
	Bytes            int64  `json:"bytes"`
	CurrentGID       string `json:"currentGid,omitempty"`
}

// JobEvent is a flow event tagged with the job it belongs to.
type JobEvent struct {
	JobID string                  `json:"jobId"`
	Event eventlogs.ProgressEvent `json:"event"`
}

// queuedJob is a job waiting for the worker, with the context and
// settings it was created with.
type queuedJob struct {
	ctx      context.Context
	job      *Job
	settings eventlogs.Settings
}

func (j *Job) active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// JobManager runs sync jobs one at a time in creation order, since every
// job writes into the same output directories.
type JobManager struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	dropbox  string
	settings eventlogs.Settings
	queue    []queuedJob
	draining bool
	seq      int
	log      zerolog.Logger

	listeners  []chan Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, wsHub *WSHub) *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		dropbox:  cfg.DropboxDir,
		settings: cfg.Settings,
		log:      cfg.Logger,
		wsHub:    wsHub,
	}
}

// generateID creates a short random ID.
func generateID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// SetSettings replaces the settings used by jobs created afterwards.
func (m *JobManager) SetSettings(s eventlogs.Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

// resolveFile maps a history file name onto the dropbox, refusing names
// that would leave it.
func (m *JobManager) resolveFile(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", &eventlogs.InvalidPathError{Path: name, Reason: "must be relative to the dropbox"}
	}
	full := filepath.Join(m.dropbox, name)
	rel, err := filepath.Rel(m.dropbox, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &eventlogs.InvalidPathError{Path: name, Reason: "is outside the dropbox"}
	}
	return full, nil
}

// CreateJob queues a sync job. An empty File means a full download,
// otherwise the history of File. Returns the existing job when an
// identical one is still queued or running.
func (m *JobManager) CreateJob(req SyncRequest) (Job, bool, error) {
	kind := JobKindDownload
	file := strings.TrimSpace(req.File)
	if file != "" {
		kind = JobKindHistory
		if _, err := m.resolveFile(file); err != nil {
			return Job{}, false, err
		}
		file = filepath.ToSlash(filepath.Clean(file))
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Kind == kind && existing.File == file && existing.active() {
			j := *existing
			m.mu.Unlock()
			return j, true, nil
		}
	}

	settings := m.settings
	outputDir := settings.OutputDir
	if kind == JobKindHistory {
		outputDir = settings.HistoryDir
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.seq++
	job := &Job{
		seq:       m.seq,
		ID:        generateID(),
		Kind:      kind,
		File:      file,
		OutputDir: outputDir,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.queue = append(m.queue, queuedJob{ctx: ctx, job: job, settings: settings})
	startWorker := !m.draining
	m.draining = true
	snap := *job
	m.mu.Unlock()

	m.log.Info().Str("job", job.ID).Str("kind", string(kind)).Str("file", file).Msg("job queued")
	m.notifyListeners(snap)

	if startWorker {
		go m.drain()
	}

	return snap, false, nil
}

// GetJob retrieves a copy of a job by ID.
func (m *JobManager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs returns copies of all jobs, oldest first.
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].seq < jobs[k].seq })
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || !job.active() {
		m.mu.Unlock()
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	now := time.Now()
	job.EndedAt = &now
	snap := *job
	m.mu.Unlock()

	m.log.Info().Str("job", id).Msg("job cancelled")
	m.notifyListeners(snap)
	return true
}

// CancelAll cancels every active job.
func (m *JobManager) CancelAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.jobs))
	for id, job := range m.jobs {
		if job.active() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.CancelJob(id)
	}
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan Job {
	ch := make(chan Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifyListeners must be called without m.mu held.
func (m *JobManager) notifyListeners(job Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// update applies fn to the job under the lock and broadcasts the result.
// It is a no-op once the job was cancelled.
func (m *JobManager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	if job.Status == JobStatusCancelled {
		m.mu.Unlock()
		return
	}
	fn(job)
	snap := *job
	m.mu.Unlock()
	m.notifyListeners(snap)
}

// drain runs queued jobs oldest first and exits once the queue is empty.
// At most one drain goroutine exists at a time.
func (m *JobManager) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue[0] = queuedJob{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.runJob(next.ctx, next.job, next.settings)
	}
}

// runJob runs the flow of one job. Jobs cancelled while queued are skipped.
func (m *JobManager) runJob(ctx context.Context, job *Job, settings eventlogs.Settings) {
	defer job.cancel()

	if ctx.Err() != nil {
		return
	}

	m.update(job, func(j *Job) {
		j.Status = JobStatusRunning
		now := time.Now()
		j.StartedAt = &now
	})

	progress := func(ev eventlogs.ProgressEvent) {
		m.update(job, func(j *Job) {
			switch ev.Event {
			case "scan_start":
				j.Progress.Phase = "scan"
			case "query_start":
				j.Progress.Phase = "query"
			case "query_done":
				j.Progress.Phase = "download"
				j.Progress.TotalRecords = ev.Total
			case "record_start":
				j.Progress.CurrentGID = ev.GID
			case "record_done":
				j.Progress.CompletedRecords++
			case "record_skip":
				j.Progress.CompletedRecords++
				j.Progress.SkippedRecords++
			case "file_done":
				j.Progress.Bytes += ev.Bytes
			}
		})
		if m.wsHub != nil {
			m.wsHub.BroadcastEvent(JobEvent{JobID: job.ID, Event: ev})
		}
	}

	var (
		sum eventlogs.Summary
		err error
	)
	switch job.Kind {
	case JobKindHistory:
		file, _ := m.resolveFile(job.File)
		sum, err = eventlogs.DownloadHistory(ctx, file, m.dropbox, settings, progress)
	default:
		sum, err = eventlogs.DownloadAll(ctx, m.dropbox, settings, progress)
	}

	m.update(job, func(j *Job) {
		now := time.Now()
		j.EndedAt = &now
		j.Progress.Phase = ""
		j.Summary = &sum
		switch {
		case ctx.Err() != nil:
			j.Status = JobStatusCancelled
		case err != nil:
			j.Status = JobStatusFailed
			j.Error = err.Error()
		default:
			j.Status = JobStatusCompleted
		}
	})

	ev := m.log.Info()
	if err != nil && ctx.Err() == nil {
		ev = m.log.Warn().Err(err)
	}
	ev.Str("job", job.ID).Int("records", sum.Records).Int("written", sum.Written).Msg("job finished")
}
