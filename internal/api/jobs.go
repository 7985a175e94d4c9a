package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
)

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	list, err := s.Jobs.List()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		apierr.Write(w, domain.ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.Jobs.Cancel(chi.URLParam(r, "id")); err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	req := s.Queue.Get(chi.URLParam(r, "id"))
	if req == nil {
		apierr.Write(w, domain.ErrRequestNotFound)
		return
	}
	out := map[string]any{
		"request_id":     req.RequestID,
		"model_id":       req.ModelID,
		"modality":       req.Modality,
		"status":         req.Status,
		"queue_position": req.QueuePosition,
		"created_at":     req.CreatedAt,
	}
	if req.Err != nil {
		out["error"] = req.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRequestCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if ok := s.Queue.Cancel(id); !ok {
		apierr.Write(w, domain.ErrRequestNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	data, a, err := s.Artifacts.Bytes(chi.URLParam(r, "id"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	w.Header().Set("Content-Type", a.MIMEType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
