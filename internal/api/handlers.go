package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/queue"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRunRequest struct {
	RootPath string `json:"root_path"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

// handleCreateRun starts a new run over the requested root path, mapping
// directly to Scout's start contract (spec.md §4.1).
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, pipelineerrors.NewValidationError("malformed request body").WithDetails(err.Error()))
		return
	}
	if req.RootPath == "" {
		writeError(w, s.logger, pipelineerrors.NewValidationError("root_path is required"))
		return
	}

	runID, err := s.starter.Start(r.Context(), req.RootPath)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRunResponse{RunID: runID})
}

type runResponse struct {
	ID             string `json:"id"`
	RootPath       string `json:"root_path"`
	Status         string `json:"status"`
	TotalJobs      int    `json:"total_jobs"`
	CompletedJobs  int    `json:"completed_jobs"`
	DeadLetterJobs int    `json:"dead_letter_jobs"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		ID: run.ID, RootPath: run.RootPath, Status: string(run.Status),
		TotalJobs: run.TotalJobs, CompletedJobs: run.CompletedJobs, DeadLetterJobs: run.DeadLetterJobs,
	})
}

type failedJob struct {
	ID        string `json:"id"`
	Queue     string `json:"queue"`
	Type      string `json:"type"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error"`
}

// handleFailedJobs walks every queue's dead-letter set and returns the
// subset belonging to runId, for operator inspection (spec.md §7).
func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if _, err := s.runs.Get(r.Context(), runID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	failed := make([]failedJob, 0)
	for _, qName := range queue.AllQueueNames {
		jobs, err := s.queue.DeadLetters(r.Context(), qName)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		for _, j := range jobs {
			if j.RunID != runID {
				continue
			}
			failed = append(failed, failedJob{
				ID: j.ID, Queue: j.Queue, Type: string(j.Type), Attempt: j.Attempt, LastError: j.LastError,
			})
		}
	}
	writeJSON(w, http.StatusOK, failed)
}
