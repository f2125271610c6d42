// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/groupmodeling/eventlogs/pkg/eventlogs"
)

// SyncRequest is the request body for starting a job.
// An empty File downloads every record; otherwise File names a model or
// text file inside the dropbox whose history is downloaded.
// Output paths are NOT configurable via API.
type SyncRequest struct {
	File string `json:"file"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Endpoint        string `json:"endpoint"`
	AppID           string `json:"appId,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DropboxDir      string `json:"dropbox"`
	OutputDir       string `json:"output"`
	HistoryDir      string `json:"historyOutput"`
	Timeout         string `json:"timeout"`
	Retries         int    `json:"retries"`
	Verify          string `json:"verify"`
	SkipExisting    bool   `json:"skipExisting"`
	Limit           int    `json:"limit,omitempty"`
	NoSnapshot      bool   `json:"noSnapshot"`
	SnapshotHistory bool   `json:"snapshotHistory"`
}

// HashesResponse lists the files of the dropbox and their hashes.
type HashesResponse struct {
	Dropbox string              `json:"dropbox"`
	Hashes  eventlogs.HashIndex `json:"hashes"`
	Count   int                 `json:"count"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHashes hashes the dropbox on every call so the answer reflects
// the files currently on disk.
func (s *Server) handleHashes(w http.ResponseWriter, r *http.Request) {
	index, err := eventlogs.HashDirectory(r.Context(), s.config.DropboxDir)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, eventlogs.ErrInvalidPath) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "Failed to hash dropbox", err.Error())
		return
	}
	if index == nil {
		index = eventlogs.HashIndex{}
	}
	writeJSON(w, http.StatusOK, HashesResponse{
		Dropbox: s.config.DropboxDir,
		Hashes:  index,
		Count:   len(index),
	})
}

// handleSync starts a new job.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		if errors.Is(err, eventlogs.ErrInvalidPath) {
			writeError(w, http.StatusBadRequest, "Invalid file", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Sync already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
		return
	}
	writeError(w, http.StatusNotFound, "Job not found or already completed", "")
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings()
	writeJSON(w, http.StatusOK, SettingsResponse{
		Endpoint:        cfg.Endpoint,
		AppID:           mask(cfg.AppID),
		APIKey:          mask(cfg.APIKey),
		DropboxDir:      s.config.DropboxDir,
		OutputDir:       cfg.OutputDir,
		HistoryDir:      cfg.HistoryDir,
		Timeout:         cfg.Timeout,
		Retries:         cfg.Retries,
		Verify:          cfg.Verify,
		SkipExisting:    cfg.SkipExisting,
		Limit:           cfg.Limit,
		NoSnapshot:      cfg.NoSnapshot,
		SnapshotHistory: cfg.SnapshotHistory,
	})
}

// handleUpdateSettings updates the retry and verification policy of
// future jobs. Credentials and directories cannot be changed via API.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timeout      *string `json:"timeout,omitempty"`
		Retries      *int    `json:"retries,omitempty"`
		Verify       *string `json:"verify,omitempty"`
		SkipExisting *bool   `json:"skipExisting,omitempty"`
		Limit        *int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.config.Settings
	if req.Timeout != nil {
		next.Timeout = *req.Timeout
	}
	if req.Retries != nil {
		next.Retries = *req.Retries
	}
	if req.Verify != nil {
		next.Verify = *req.Verify
	}
	if req.SkipExisting != nil {
		next.SkipExisting = *req.SkipExisting
	}
	if req.Limit != nil {
		next.Limit = *req.Limit
	}
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err.Error())
		return
	}

	s.config.Settings = next
	s.jobs.SetSettings(next)

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// --- Helpers ---

// mask keeps the last four characters of a secret. Secrets of four
// characters or fewer are hidden entirely.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "********"
	}
	return "********" + secret[max(0, len(secret)-4):]
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
