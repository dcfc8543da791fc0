package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/pamphletd/internal/pipeline"
	"github.com/opsdesk/pamphletd/internal/store"
)

type createJobRequest struct {
	Kind   pipeline.JobKind `json:"kind"`
	DocIDs []string         `json:"doc_ids"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	switch req.Kind {
	case pipeline.JobProcess, pipeline.JobFAQ:
	default:
		writeError(w, http.StatusBadRequest, "kind must be process or faq")
		return
	}

	// Jobs outlive the request; detach from the request context.
	job, err := s.orch.Submit(context.Background(), req.Kind, req.DocIDs)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrNotExtracted):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.orch.Jobs()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.orch.Job(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if !s.orch.Cancel(id) {
		if _, ok := s.orch.Job(id); !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, "job already finished")
		return
	}
	job, _ := s.orch.Job(id)
	writeJSON(w, http.StatusOK, job)
}
