package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/lifecycle"
	"github.com/tutu-network/inferencegate/internal/orchestrator"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	modality := domain.Modality(r.URL.Query().Get("modality"))
	models, err := s.Registry.List(modality)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	defaults := make(map[domain.Modality]string)
	for _, m := range []domain.Modality{domain.ModalityText, domain.ModalityImage, domain.Modality3D} {
		if id, ok, err := s.Registry.Default(m); err == nil && ok {
			defaults[m] = id
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"models":          models,
		"defaults":        defaults,
		"provider_models": s.discoveredModels(r, modality),
	})
}

// discoveredModels lists each configured commercial provider's models for
// the authenticated caller, keyed by provider. A provider whose discovery
// fails is skipped rather than failing the whole catalog; force_refresh=true
// bypasses the TTL cache.
func (s *Server) discoveredModels(r *http.Request, modality domain.Modality) map[string][]domain.ProviderModel {
	out := make(map[string][]domain.ProviderModel)
	if s.Discovery == nil {
		return out
	}
	userID := UserID(r.Context())
	providers, err := s.Users.ListProviders(userID)
	if err != nil {
		log.Printf("[api] list providers for %s: %v", userID, err)
		return out
	}
	force := r.URL.Query().Get("force_refresh") == "true"
	for _, provider := range providers {
		cred, err := s.Users.Credential(userID, provider)
		if err != nil {
			continue
		}
		avail, err := s.Discovery.Availability(r.Context(), userID, provider, cred, force)
		if err != nil {
			log.Printf("[api] discover %s models for %s: %v", provider, userID, err)
			continue
		}
		for _, pm := range avail.Models {
			if modality != "" && pm.Modality != modality {
				continue
			}
			out[provider] = append(out[provider], pm)
		}
	}
	return out
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.Registry.Get(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if err := s.Registry.SetDefault(m.Modality, id); err != nil {
		apierr.Write(w, err)
		return
	}
	s.Lifecycle.SetDefault(id)
	writeJSON(w, http.StatusOK, map[string]any{"modality": m.Modality, "default": id})
}

func (s *Server) handleSearchModels(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		apierr.Write(w, apierr.Validation("query parameter is required"))
		return
	}
	if src := r.URL.Query().Get("source"); src != "" && src != "huggingface" {
		apierr.Write(w, apierr.Validation("only source=huggingface is supported"))
		return
	}
	results, err := s.Search.Search(r.Context(), query, 20)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	job, err := s.Jobs.Start(r.Context(), req)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleLoadedModels(w http.ResponseWriter, _ *http.Request) {
	entries := s.Lifecycle.LoadedModels()
	out := make([]domain.LoadedModel, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.LoadedModel{
			ModelID: e.ModelID, LoadedAt: e.LoadedAt, LastUsedAt: e.LastUsedAt,
			IsPinned: e.IsPinned, MemoryBytes: e.MemoryBytes, BusyCount: e.BusyCount,
			Status: string(e.Status()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id": id,
		"status":   s.Lifecycle.Status(id),
		"queue":    s.Queue.QueueInfo(id),
	})
}

type loadRequest struct {
	Pinned bool `json:"pinned,omitempty"`
	Wait   bool `json:"wait,omitempty"`
}

func (s *Server) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Registry.Get(id); err != nil {
		apierr.Write(w, err)
		return
	}

	var req loadRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			apierr.Write(w, err)
			return
		}
	}

	entry, err := s.Lifecycle.Load(r.Context(), id, lifecycle.LoadOptions{Pinned: req.Pinned, Wait: req.Wait})
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"model_id": id, "status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model_id": id, "status": entry.Status()})
}

func (s *Server) handleModelUnload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "true"
	if ok := s.Lifecycle.Unload(id, force); !ok {
		writeJSON(w, http.StatusConflict, map[string]any{
			"model_id": id, "unloaded": false, "status": s.Lifecycle.Status(id),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model_id": id, "unloaded": true})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	configured, err := s.Users.ListProviders(UserID(r.Context()))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":  s.Providers,
		"configured": configured,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	var model *domain.Model
	if id := r.URL.Query().Get("model"); id != "" {
		m, err := s.Registry.Get(id)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		model = &m
	}
	writeJSON(w, http.StatusOK, orchestrator.ParameterSchema(model))
}
