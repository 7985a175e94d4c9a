// Package api exposes the gateway's HTTP surface: generation (plain and
// SSE), model catalog and lifecycle, download jobs, sessions, artifacts,
// queue inspection, user management and the ops endpoints.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/artifacts"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/jobs"
	"github.com/tutu-network/inferencegate/internal/infra/lifecycle"
	"github.com/tutu-network/inferencegate/internal/infra/queue"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sessions"
	"github.com/tutu-network/inferencegate/internal/orchestrator"
	"github.com/tutu-network/inferencegate/internal/users"
)

// Server is the gateway HTTP API server.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *registry.Registry
	Lifecycle    *lifecycle.Manager
	Queue        *queue.Manager
	Jobs         *jobs.Manager
	Sessions     *sessions.Store
	Artifacts    *artifacts.Store
	Users        *users.Manager
	Discovery    *discovery.Cache
	Search       *discovery.HFSearch

	Version         string
	Providers       []string // configured commercial providers
	MaxBodyBytes    int64
	LocalBypassAuth bool

	ready func() bool
}

// SetReady installs the readiness probe backing /ready.
func (s *Server) SetReady(fn func() bool) { s.ready = fn }

type ctxKey int

const userIDKey ctxKey = 0

// UserID returns the authenticated user id from a request context.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	if s.MaxBodyBytes > 0 {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				req.Body = http.MaxBytesReader(w, req.Body, s.MaxBodyBytes)
				next.ServeHTTP(w, req)
			})
		})
	}

	// Ops endpoints, unauthenticated.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready != nil && !s.ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.Version})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/generate", s.handleGenerate)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Get("/{sid}", s.handleGetSession)
			r.Put("/{sid}", s.handleUpdateSession)
			r.Delete("/{sid}", s.handleDeleteSession)
			r.Post("/{sid}/reset", s.handleResetSession)
			r.Post("/{sid}/generate", s.handleSessionGenerate)
			r.Post("/{sid}/regenerate", s.handleRegenerate)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.handleListModels)
			r.Get("/loaded", s.handleLoadedModels)
			r.Get("/search", s.handleSearchModels)
			r.Post("/download", s.handleDownload)
			r.Get("/{id}", s.handleGetModel)
			r.Post("/{id}/default", s.handleSetDefault)
			r.Get("/{id}/status", s.handleModelStatus)
			r.Post("/{id}/load", s.handleModelLoad)
			r.Post("/{id}/unload", s.handleModelUnload)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Delete("/{id}", s.handleCancelJob)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/{id}/status", s.handleRequestStatus)
			r.Post("/{id}/cancel", s.handleRequestCancel)
		})

		r.Get("/artifacts/{id}", s.handleGetArtifact)
		r.Get("/providers", s.handleListProviders)
		r.Get("/schema", s.handleSchema)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleCreateUser)
			r.Post("/invites", s.handleCreateInvite)
			r.Get("/{id}", s.handleGetUser)
			r.Post("/{id}/tokens", s.handleMintToken)
			r.Get("/{id}/providers", s.handleUserProviders)
			r.Put("/{id}/providers/{provider}", s.handleSetCredential)
			r.Delete("/{id}/providers/{provider}", s.handleDeleteCredential)
		})
	})

	return r
}

// authMiddleware resolves the caller to a user id via X-API-Key or a
// bearer token. In local-bypass mode, loopback clients with no
// credential are admitted as the "local" user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		if token == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}

		if token == "" {
			if s.LocalBypassAuth && isLoopback(r.RemoteAddr) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, "local")))
				return
			}
			apierr.Write(w, domain.ErrAuth)
			return
		}

		userID, err := s.Users.Authenticate(token)
		if err != nil {
			apierr.Write(w, domain.ErrAuth)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// baseURL reconstructs the request's origin for artifact URL rewriting.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Validation("malformed JSON body: " + err.Error())
	}
	return nil
}
