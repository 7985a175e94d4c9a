package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/orchestrator"
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	s.generate(w, r, req)
}

func (s *Server) handleSessionGenerate(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	req.SessionID = chi.URLParam(r, "sid")
	s.generate(w, r, req)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, req orchestrator.GenerateRequest) {
	userID := UserID(r.Context())

	if req.Stream {
		if err := s.Orchestrator.ServeSSE(r.Context(), w, userID, baseURL(r), req); err != nil {
			apierr.Write(w, err)
		}
		return
	}

	resp, err := s.Orchestrator.Generate(r.Context(), userID, baseURL(r), req)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Orchestrator.Regenerate(r.Context(), UserID(r.Context()), baseURL(r), chi.URLParam(r, "sid"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
