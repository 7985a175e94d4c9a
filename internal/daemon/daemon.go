// Package daemon wires the gateway's components together and runs the
// HTTP server with graceful shutdown: explicit construction order, no
// hidden singletons, every component injected into its consumers.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/api"
	"github.com/tutu-network/inferencegate/internal/config"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/artifacts"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/jobs"
	"github.com/tutu-network/inferencegate/internal/infra/lifecycle"
	"github.com/tutu-network/inferencegate/internal/infra/queue"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sessions"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/infra/storage"
	"github.com/tutu-network/inferencegate/internal/orchestrator"
	"github.com/tutu-network/inferencegate/internal/security"
	"github.com/tutu-network/inferencegate/internal/selector"
	"github.com/tutu-network/inferencegate/internal/users"
)

// Daemon is the assembled gateway process.
type Daemon struct {
	Config *config.Config

	DB           *sqlstore.DB
	Registry     *registry.Registry
	Storage      *storage.Manager
	Artifacts    *artifacts.Store
	Sessions     *sessions.Store
	Jobs         *jobs.Manager
	Discovery    *discovery.Cache
	Users        *users.Manager
	Lifecycle    *lifecycle.Manager
	Queue        *queue.Manager
	Selector     *selector.Selector
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server

	runtime    *localRuntime
	httpServer *http.Server
	cancel     context.CancelFunc
	ready      atomic.Bool
}

// New loads configuration from disk and assembles a daemon.
func New(version string) (*Daemon, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, version)
}

// NewWithConfig assembles a daemon from an explicit configuration,
// opening the database and constructing every component in dependency
// order.
func NewWithConfig(cfg *config.Config, version string) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlstore.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{Config: cfg, DB: db}

	d.Registry = registry.New(db)
	d.Storage = storage.New(cfg.Models.ModelRoot, int64(cfg.Models.MaxDiskGB*(1<<30)), d.Registry)
	d.Artifacts = artifacts.New(db, filepath.Join(cfg.Models.ModelRoot, "artifacts"), cfg.Artifacts.ExpirySecs)
	d.Sessions = sessions.New(db)
	d.Jobs = jobs.New(cfg.Models.ModelRoot, d.Registry, d.Storage, nil, db.UpsertJob)

	var box *security.Box
	if cfg.Security.CredentialSecret != "" {
		box, err = security.NewBox(cfg.Security.CredentialSecret)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	d.Users = users.New(db, box)

	probers := map[string]discovery.Prober{
		"openai": discovery.Prober(adapters.ListProber("openai", "https://api.openai.com/v1")),
		"xai":    discovery.Prober(adapters.ListProber("xai", "https://api.x.ai/v1")),
		"anthropic": discovery.Prober(adapters.StaticProber([]domain.ProviderModel{
			{ID: "claude-sonnet-4-20250514", Modality: domain.ModalityText},
			{ID: "claude-haiku-3-5-20241022", Modality: domain.ModalityText},
		})),
		"google": discovery.Prober(adapters.StaticProber([]domain.ProviderModel{
			{ID: "gemini-2.0-flash", Modality: domain.ModalityText},
			{ID: "gemini-2.5-pro", Modality: domain.ModalityText},
		})),
	}
	d.Discovery = discovery.New(db, probers)

	d.runtime = newLocalRuntime(d.Registry, cfg.Node.Threads)
	d.Lifecycle = lifecycle.New(cfg.Models.MaxLoadedModels, cfg.IdleTimeout(), d.runtime.Load, d.runtime.Unload)
	if id, ok, err := d.Registry.Default(domain.ModalityText); err == nil && ok {
		d.Lifecycle.SetDefault(id)
	}

	factories := adapters.BuiltinFactories()
	d.Selector = selector.New(d.Registry, d.Discovery, factories, d.Users.Lookup)

	d.Queue = queue.New(cfg.Queue.MaxQueueDepth, cfg.Queue.MaxConcurrentRequestsPerModel, nil)
	d.Queue.SetPersist(func(r *domain.QueuedRequest) {
		row := sqlstore.RequestRow{
			RequestID: r.RequestID, ModelID: r.ModelID, Modality: r.Modality,
			Status: r.Status, CreatedAt: r.CreatedAt, CompletedAt: r.CompletedAt,
		}
		if r.Err != nil {
			row.Err = r.Err.Error()
		}
		if err := db.UpsertRequest(row); err != nil {
			log.Printf("[daemon] persist request %s: %v", r.RequestID, err)
		}
	})

	d.Orchestrator = &orchestrator.Orchestrator{
		Selector:          d.Selector,
		Lifecycle:         d.Lifecycle,
		Queue:             d.Queue,
		Artifacts:         d.Artifacts,
		Sessions:          d.Sessions,
		Registry:          d.Registry,
		Discovery:         d.Discovery,
		InlineThresholdKB: cfg.Artifacts.InlineThresholdKB,
	}

	providerNames := make([]string, 0, len(factories))
	for name := range factories {
		providerNames = append(providerNames, name)
	}

	d.Server = &api.Server{
		Orchestrator:    d.Orchestrator,
		Registry:        d.Registry,
		Lifecycle:       d.Lifecycle,
		Queue:           d.Queue,
		Jobs:            d.Jobs,
		Sessions:        d.Sessions,
		Artifacts:       d.Artifacts,
		Users:           d.Users,
		Discovery:       d.Discovery,
		Search:          discovery.NewHFSearch(""),
		Version:         version,
		Providers:       providerNames,
		MaxBodyBytes:    cfg.Gateway.MaxBodyBytes,
		LocalBypassAuth: cfg.Gateway.LocalOnlyBypassAuth,
	}
	d.Server.SetReady(d.ready.Load)

	return d, nil
}

// Serve runs the daemon until ctx is cancelled or a termination signal
// arrives, then shuts everything down in reverse dependency order with
// bounded waits.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Queue.Run()
	go d.Lifecycle.RunIdleMonitor(ctx)
	go d.sweepArtifacts(ctx)

	if err := d.Storage.EnforceLimit(d.pinnedModelIDs()); err != nil {
		log.Printf("[daemon] enforce disk budget at startup: %v", err)
	}

	d.httpServer = &http.Server{
		Addr:    d.Config.Gateway.ListenAddr,
		Handler: d.Server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] listening on %s", d.Config.Gateway.ListenAddr)
		d.ready.Store(true)
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		d.Close()
		return err
	case sig := <-sigCh:
		log.Printf("[daemon] received %s, shutting down", sig)
	case <-ctx.Done():
	}

	return d.Close()
}

// Close shuts the daemon down: stop accepting requests, stop the queue,
// stop background monitors, release loaded models, close the database.
// Loaded models are released last-but-one so memory is reclaimed even on
// a forced shutdown.
func (d *Daemon) Close() error {
	d.ready.Store(false)
	if d.cancel != nil {
		d.cancel()
	}

	if d.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[daemon] http shutdown: %v", err)
		}
		d.httpServer = nil
	}

	if d.Queue != nil {
		d.Queue.Shutdown(5 * time.Second)
	}
	if d.Lifecycle != nil {
		d.Lifecycle.UnloadAll()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			log.Printf("[daemon] close database: %v", err)
		}
		d.DB = nil
	}
	return nil
}

// sweepArtifacts deletes expired artifact bytes hourly.
func (d *Daemon) sweepArtifacts(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.Artifacts.Sweep(); err != nil {
				log.Printf("[daemon] artifact sweep: %v", err)
			} else if n > 0 {
				log.Printf("[daemon] swept %d expired artifacts", n)
			}
		}
	}
}

// pinnedModelIDs lists the models disk eviction must treat as
// last-resort: the per-modality defaults.
func (d *Daemon) pinnedModelIDs() map[string]bool {
	pinned := make(map[string]bool)
	for _, m := range []domain.Modality{domain.ModalityText, domain.ModalityImage, domain.Modality3D} {
		if id, ok, err := d.Registry.Default(m); err == nil && ok {
			pinned[id] = true
		}
	}
	return pinned
}
