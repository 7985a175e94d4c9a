package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
)

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list, err := s.Sessions.List()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.Sessions.Create()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	sess, err := s.Sessions.Get(sid)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	msgs, err := s.Sessions.Messages(sid)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":       sess,
		"messages":      msgs,
		"message_count": len(msgs),
	})
}

type updateSessionRequest struct {
	Status domain.SessionStatus `json:"status"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.Status != domain.SessionClosed {
		apierr.Write(w, apierr.Validation("only status=closed is supported"))
		return
	}
	sid := chi.URLParam(r, "sid")
	if err := s.Sessions.Close(sid); err != nil {
		apierr.Write(w, err)
		return
	}
	sess, err := s.Sessions.Get(sid)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(chi.URLParam(r, "sid")); err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Reset(chi.URLParam(r, "sid")); err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
