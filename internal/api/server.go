// Package api exposes the spec.md §6 external interfaces — the REST-over-
// JSON trigger surface and the JSON-RPC 2.0 tool surface — as thin
// adapters over project.Registry, syncengine.Engine, watcher.FileWatcher,
// queue.SyncQueue, and health.Monitor. No business logic lives here; it
// only translates wire requests into calls against those components,
// the same way ihavespoons-zrok/internal/dashboard/server.go's Server
// translates HTTP requests into calls against finding.Store and
// memory.Store.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/diffsec/knowsync/internal/health"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/queue"
	"github.com/diffsec/knowsync/internal/store"
	"github.com/diffsec/knowsync/internal/syncengine"
	"github.com/diffsec/knowsync/internal/watcher"
)

// Server is the REST-over-JSON trigger interface of spec.md §6.
type Server struct {
	Registry *project.Registry
	Engine   *syncengine.Engine
	Watcher  *watcher.FileWatcher
	Queue    *queue.SyncQueue
	Monitor  *health.Monitor
	Store    store.KnowledgeStore

	now func() time.Time
}

// NewServer builds a Server. Monitor may be nil if no health.Monitor is
// wired up for this deployment, in which case GET /api/watcher/health
// reports a degraded snapshot rather than panicking.
func NewServer(reg *project.Registry, engine *syncengine.Engine, fw *watcher.FileWatcher, sq *queue.SyncQueue, mon *health.Monitor, st store.KnowledgeStore) *Server {
	return &Server{Registry: reg, Engine: engine, Watcher: fw, Queue: sq, Monitor: mon, Store: st, now: time.Now}
}

// Handler builds the http.ServeMux routing table for the trigger surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/", s.handleProjects)
	mux.HandleFunc("/api/watcher/health", s.handleWatcherHealth)
	mux.HandleFunc("/api/watcher/projects/", s.handleWatcherProject)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleProjects dispatches PUT/GET/POST under /projects/{id}/sync[...]
// by splitting the path the same way dashboard.go's handleFinding trims
// its own prefix and re-switches on method and remainder.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown route"))
		return
	}
	projectID, remainder := parts[0], parts[1]

	switch {
	case remainder == "sync/config" && r.Method == http.MethodPut:
		s.handleSyncConfig(w, r, projectID)
	case remainder == "sync/status" && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r, projectID)
	case remainder == "sync" && r.Method == http.MethodPost:
		s.handleSyncTrigger(w, r, projectID)
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown route"))
	}
}

type syncConfigUpdate struct {
	LocalPath       *string `json:"local_path,omitempty"`
	SyncMode        *string `json:"sync_mode,omitempty"`
	AutoSyncEnabled *bool   `json:"auto_sync_enabled,omitempty"`
}

var validSyncModes = map[string]bool{
	string(project.SyncModeManual):   true,
	string(project.SyncModeRealtime): true,
	string(project.SyncModePeriodic): true,
	string(project.SyncModeVCSHook):  true,
}

func (s *Server) handleSyncConfig(w http.ResponseWriter, r *http.Request, projectID string) {
	var body syncConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	if _, ok := s.Registry.Get(projectID); !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("project %s not found", projectID))
		return
	}

	var canonicalPath string
	if body.LocalPath != nil {
		canonical, err := project.ValidateLocalPath(*body.LocalPath)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		canonicalPath = canonical
	}
	if body.SyncMode != nil && !validSyncModes[*body.SyncMode] {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sync_mode %q", *body.SyncMode))
		return
	}

	err := s.Registry.Update(projectID, func(p *project.Project) {
		if body.LocalPath != nil {
			p.LocalPath = canonicalPath
		}
		if body.SyncMode != nil {
			p.SyncMode = project.SyncMode(*body.SyncMode)
		}
		if body.AutoSyncEnabled != nil {
			p.AutoSyncEnabled = *body.AutoSyncEnabled
		}
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	p, _ := s.Registry.Get(projectID)
	s.writeJSON(w, http.StatusOK, p)
}

type syncStatusResponse struct {
	SyncStatus      string     `json:"sync_status"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError   string     `json:"last_sync_error,omitempty"`
	AutoSyncEnabled bool       `json:"auto_sync_enabled"`
	SyncMode        string     `json:"sync_mode"`
	LocalPath       string     `json:"local_path"`
	Stats           syncStats  `json:"stats"`
}

type syncStats struct {
	TotalFiles              int     `json:"total_files"`
	TotalChunks             int     `json:"total_chunks"`
	LastSyncDurationSeconds float64 `json:"last_sync_duration_seconds"`
}

// buildSyncStatus builds the §6 GET status payload shared by the HTTP
// handler and the get_project_sync_status JSON-RPC tool.
func buildSyncStatus(ctx context.Context, reg *project.Registry, st store.KnowledgeStore, projectID string) (syncStatusResponse, bool, error) {
	p, ok := reg.Get(projectID)
	if !ok {
		return syncStatusResponse{}, false, nil
	}

	resp := syncStatusResponse{
		SyncStatus:      string(p.SyncStatus),
		LastSyncAt:      p.LastSyncAt,
		LastSyncError:   p.LastSyncError,
		AutoSyncEnabled: p.AutoSyncEnabled,
		SyncMode:        string(p.SyncMode),
		LocalPath:       p.LocalPath,
		Stats:           syncStats{LastSyncDurationSeconds: p.LastSyncDurationSec},
	}

	if p.CodebaseSourceID == "" {
		return resp, true, nil
	}

	totalFiles, err := st.CountUniqueFiles(ctx, p.CodebaseSourceID)
	if err != nil {
		return resp, true, err
	}
	refs, err := st.SelectChunkRefsBySource(ctx, p.CodebaseSourceID)
	if err != nil {
		return resp, true, err
	}
	resp.Stats.TotalFiles = totalFiles
	resp.Stats.TotalChunks = len(refs)
	return resp, true, nil
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request, projectID string) {
	resp, ok, err := buildSyncStatus(r.Context(), s.Registry, s.Store, projectID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("project %s not found", projectID))
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type syncTriggerRequest struct {
	Trigger      string   `json:"trigger"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request, projectID string) {
	var body syncTriggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
	}
	if body.Trigger == "" {
		body.Trigger = "manual"
	}
	switch body.Trigger {
	case "manual", "git-hook", "scheduled":
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid trigger %q", body.Trigger))
		return
	}

	if _, ok := s.Registry.Get(projectID); !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("project %s not found", projectID))
		return
	}

	// The wire contract requires the completed stats in the response
	// body, so this calls Engine.SyncProject synchronously rather than
	// going through SyncQueue's non-blocking ExecuteNext model, which is
	// built for the background Worker's multi-project fan-out instead of
	// a single blocking HTTP round trip.
	stats, err := s.Engine.SyncProject(r.Context(), projectID, body.ChangedFiles)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleWatcherProject dispatches /api/watcher/projects/{id}/{start,stop,status}.
func (s *Server) handleWatcherProject(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/watcher/projects/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown route"))
		return
	}
	projectID, action := parts[0], parts[1]

	switch {
	case action == "start" && r.Method == http.MethodPost:
		s.handleWatcherStart(w, r, projectID)
	case action == "stop" && r.Method == http.MethodPost:
		s.Watcher.StopWatching(projectID)
		s.writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
	case action == "status" && r.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]bool{
			"is_active":   s.Queue.IsActive(projectID),
			"is_watching": s.Watcher.IsWatching(projectID),
		})
	default:
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown route"))
	}
}

type watcherStartRequest struct {
	LocalPath string `json:"local_path"`
}

func (s *Server) handleWatcherStart(w http.ResponseWriter, r *http.Request, projectID string) {
	var body watcherStartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	canonical, err := project.ValidateLocalPath(body.LocalPath)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Watcher.StartWatching(r.Context(), projectID, canonical); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

func (s *Server) handleWatcherHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.Monitor == nil {
		s.writeJSON(w, http.StatusOK, map[string]bool{"healthy": false})
		return
	}
	snap := s.Monitor.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":            snap.Healthy,
		"running":            snap.Running,
		"restart_count":      snap.RestartCount,
		"failure_count":      snap.FailureCount,
		"persistent_alert":   s.Monitor.PersistentAlert(),
		"memory_mb":          snap.MemoryMB,
		"cpu_percent":        snap.CPUPercent,
		"watched_projects":   snap.WatchedProjects,
		"pending_events":     snap.PendingEvents,
		"seconds_since_beat": snap.TimeSinceHeartbeat.Seconds(),
	})
}
