package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tracklane/tracklane-core/internal/core/domain"
	"github.com/tracklane/tracklane-core/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports per-dependency readiness
// @Description Per-dependency readiness report
type ReadyResponse struct {
	Status     string            `json:"status" example:"ready"`
	Components map[string]string `json:"components"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks database, queue, and whiteboard connectivity
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse  "One or more dependencies unavailable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{}
	ready := true

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			ready = false
			return
		}
		components[name] = "ok"
	}

	check("database", s.db)
	check("queue", s.taskQueue)
	check("redis", s.redisClient)
	check("whiteboard", s.whiteboard)

	resp := ReadyResponse{Status: "ready", Components: components}
	if !ready {
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// Project endpoints

// handleListProjects godoc
// @Summary      List projects
// @Description  Get all projects, newest first
// @Tags         Projects
// @Produce      json
// @Success      200  {array}   domain.Project
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /projects [get]
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projectService.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleCreateProject godoc
// @Summary      Create project
// @Description  Create a new project; attaching a board queues the first sync
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        request  body      driving.CreateProjectRequest  true  "Project details"
// @Success      201      {object}  domain.Project
// @Failure      400      {object}  ErrorResponse  "Invalid request body or missing name"
// @Failure      500      {object}  ErrorResponse  "Internal server error"
// @Router       /projects [post]
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.projectService.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "project name is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// handleGetProject godoc
// @Summary      Get project
// @Description  Get a project by id
// @Tags         Projects
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  domain.Project
// @Failure      404  {object}  ErrorResponse  "Project not found"
// @Router       /projects/{id} [get]
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.projectService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleUpdateProject godoc
// @Summary      Update project
// @Description  Update project fields; nil fields are left untouched
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Project ID"
// @Param        request  body      driving.UpdateProjectRequest  true  "Fields to update"
// @Success      200      {object}  domain.Project
// @Failure      400      {object}  ErrorResponse  "Invalid request body"
// @Failure      404      {object}  ErrorResponse  "Project not found"
// @Router       /projects/{id} [put]
func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req driving.UpdateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := s.projectService.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid project fields")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update project")
		}
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleDeleteProject godoc
// @Summary      Delete project
// @Description  Delete a project; an in-flight sync for it is treated as cancelled
// @Tags         Projects
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse  "Project not found"
// @Router       /projects/{id} [delete]
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projectService.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleArchiveProject godoc
// @Summary      Archive project
// @Description  Archive a project, which schedules removal of its whiteboard items
// @Tags         Projects
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse  "Project not found"
// @Router       /projects/{id}/archive [post]
func (s *Server) handleArchiveProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projectService.Archive(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to archive project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// handleUnlinkBoard godoc
// @Summary      Unlink whiteboard
// @Description  Detach the whiteboard from a project and clear external references
// @Tags         Projects
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  StatusResponse
// @Failure      404  {object}  ErrorResponse  "Project not found"
// @Router       /projects/{id}/unlink [post]
func (s *Server) handleUnlinkBoard(w http.ResponseWriter, r *http.Request) {
	if err := s.projectService.UnlinkBoard(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to unlink board")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

// Sync endpoints

// handleTriggerSync godoc
// @Summary      Trigger manual sync
// @Description  Run one synchronous reconciliation attempt, bypassing the retry bound
// @Tags         Sync
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  domain.SyncResult
// @Failure      404  {object}  ErrorResponse  "Project not found"
// @Failure      409  {object}  ErrorResponse  "Sync already in progress"
// @Router       /projects/{id}/sync [post]
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncOrchestrator.SyncProject(r.Context(), r.PathValue("id"), true)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, domain.ErrSyncInProgress):
			writeError(w, http.StatusConflict, "sync already in progress")
		default:
			writeError(w, http.StatusInternalServerError, "sync failed to start")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRequeueSync godoc
// @Summary      Requeue failed sync
// @Description  Move a sync_error project back to pending so the sweep picks it up
// @Tags         Sync
// @Produce      json
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  domain.Project
// @Failure      404  {object}  ErrorResponse  "Project not found"
// @Failure      409  {object}  ErrorResponse  "Project is not in sync_error"
// @Router       /projects/{id}/requeue [post]
func (s *Server) handleRequeueSync(w http.ResponseWriter, r *http.Request) {
	project, err := s.projectService.RequeueSync(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusConflict, "project is not in sync_error")
		default:
			writeError(w, http.StatusInternalServerError, "failed to requeue sync")
		}
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleProjectSyncLog godoc
// @Summary      Project sync log
// @Description  Get the newest audit entries for one project
// @Tags         Sync
// @Produce      json
// @Param        id     path      string  true   "Project ID"
// @Param        limit  query     int     false  "Max entries (default 50)"
// @Success      200    {array}   domain.SyncLogEntry
// @Failure      500    {object}  ErrorResponse  "Internal server error"
// @Router       /projects/{id}/sync-log [get]
func (s *Server) handleProjectSyncLog(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	entries, err := s.syncHealth.ListRecentLog(r.Context(), &projectID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sync log")
		return
	}
	if entries == nil {
		entries = []*domain.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleSyncHealth godoc
// @Summary      Sync health metrics
// @Description  Aggregate sync status distribution across all projects
// @Tags         Sync
// @Produce      json
// @Success      200  {object}  domain.SyncHealthMetrics
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /sync/health [get]
func (s *Server) handleSyncHealth(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.syncHealth.GetSyncHealthMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get sync health")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// handleSyncLog godoc
// @Summary      Recent sync log
// @Description  Get the newest audit entries across all projects
// @Tags         Sync
// @Produce      json
// @Param        limit  query     int  false  "Max entries (default 50)"
// @Success      200    {array}   domain.SyncLogEntry
// @Failure      500    {object}  ErrorResponse  "Internal server error"
// @Router       /sync/log [get]
func (s *Server) handleSyncLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.syncHealth.ListRecentLog(r.Context(), nil, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sync log")
		return
	}
	if entries == nil {
		entries = []*domain.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleSyncStats godoc
// @Summary      Sync log statistics
// @Description  Aggregate the audit trail over a window (default 24h)
// @Tags         Sync
// @Produce      json
// @Param        window_minutes  query     int  false  "Window in minutes (default 1440)"
// @Success      200             {object}  domain.SyncLogStats
// @Failure      500             {object}  ErrorResponse  "Internal server error"
// @Router       /sync/stats [get]
func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	minutes := queryInt(r, "window_minutes", 24*60)
	if minutes <= 0 {
		minutes = 24 * 60
	}

	stats, err := s.syncHealth.GetLogStats(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get sync stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRetryFailed godoc
// @Summary      Retry failed syncs
// @Description  Re-queue every retry-eligible failed project and report batch counts
// @Tags         Sync
// @Produce      json
// @Success      200  {object}  domain.RetryResult
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /sync/retry-failed [post]
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncHealth.RetryFailedSyncs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retry syncs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Task endpoints

// handleTaskStats godoc
// @Summary      Task queue statistics
// @Description  Get pending/processing/completed/failed task counts
// @Tags         Tasks
// @Produce      json
// @Success      200  {object}  driven.QueueStats
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /tasks/stats [get]
func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.taskQueue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get task stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
