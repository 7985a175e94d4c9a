package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
)

type createUserRequest struct {
	Invite string `json:"invite"`
	Name   string `json:"name"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.Invite == "" || req.Name == "" {
		apierr.Write(w, apierr.Validation("invite and name are required"))
		return
	}
	user, token, err := s.Users.Redeem(req.Invite, req.Name)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, _ *http.Request) {
	invite, err := s.Users.CreateInvite()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.requireSelf(r, id); err != nil {
		apierr.Write(w, err)
		return
	}
	user, err := s.Users.Get(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.requireSelf(r, id); err != nil {
		apierr.Write(w, err)
		return
	}
	token, err := s.Users.MintToken(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) handleUserProviders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.requireSelf(r, id); err != nil {
		apierr.Write(w, err)
		return
	}
	providers, err := s.Users.ListProviders(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.requireSelf(r, id); err != nil {
		apierr.Write(w, err)
		return
	}
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		apierr.Write(w, err)
		return
	}
	if len(payload) == 0 {
		apierr.Write(w, apierr.Validation("credential payload must not be empty"))
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := s.Users.SetCredential(id, provider, payload); err != nil {
		apierr.Write(w, err)
		return
	}
	// A rotated credential may see a different account; drop the cached
	// discovery entry so the next lookup reprobes with the new key.
	if s.Discovery != nil {
		if err := s.Discovery.Invalidate(id, provider); err != nil {
			log.Printf("[api] invalidate discovery for %s/%s: %v", id, provider, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "configured": true})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.requireSelf(r, id); err != nil {
		apierr.Write(w, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := s.Users.DeleteCredential(id, provider); err != nil {
		apierr.Write(w, err)
		return
	}
	if s.Discovery != nil {
		if err := s.Discovery.Invalidate(id, provider); err != nil {
			log.Printf("[api] invalidate discovery for %s/%s: %v", id, provider, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "configured": false})
}

// requireSelf restricts per-user resources to their owner. The loopback
// bypass identity may manage any user, which is what local single-tenant
// operation needs.
func (s *Server) requireSelf(r *http.Request, userID string) error {
	caller := UserID(r.Context())
	if caller == "local" || caller == userID {
		return nil
	}
	return domain.ErrForbidden
}
