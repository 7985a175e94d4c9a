// Package selector implements the backend selector: the routing state
// machine that maps (model_id?, provider?, modality, attached inputs,
// selection_mode) to a concrete (model, adapter) pair, with fallback on
// credit exhaustion or missing access.
package selector

import (
	"context"
	"fmt"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
)

// CredentialLookup resolves a user's stored credential for a provider.
// Returns domain.ErrCredentialMissing if none is configured.
type CredentialLookup func(ctx context.Context, userID, provider string) (*domain.ProviderCredential, error)

// Request is the selector's input, assembled by the orchestrator from the
// parsed generate request.
type Request struct {
	UserID        string
	ModelID       string
	Provider      string
	Modality      domain.Modality
	HasImages     bool
	HasMesh       bool
	SelectionMode domain.SelectionMode
}

// Result is the selector's output: a concrete model plus everything the
// orchestrator needs to obtain a working Adapter. For a local model,
// Adapter is nil — the caller obtains it from the lifecycle manager's
// Load, which returns the already-wired local adapter as its instance.
type Result struct {
	Model   domain.Model
	Adapter *adapters.Adapter
	Info    domain.SelectionInfo
	Credits domain.CreditsStatus
}

// Selector resolves routing decisions.
type Selector struct {
	registry   *registry.Registry
	discovery  *discovery.Cache
	factories  map[string]adapters.Factory
	credential CredentialLookup
}

// New builds a selector. factories is keyed by provider name and is used
// to construct commercial adapters once credentials are resolved.
func New(reg *registry.Registry, disc *discovery.Cache, factories map[string]adapters.Factory, cred CredentialLookup) *Selector {
	return &Selector{registry: reg, discovery: disc, factories: factories, credential: cred}
}

// Select runs the resolution order, first match wins: explicit
// provider:model prefix, registry hit, provider parameter, pattern
// inference, modality default.
func (s *Selector) Select(ctx context.Context, req Request) (Result, error) {
	mode := req.SelectionMode
	if mode == "" {
		mode = domain.SelectionAuto
	}

	// 6. selection_mode=model requires an explicit model_id.
	if mode == domain.SelectionModel && req.ModelID == "" {
		return Result{}, fmt.Errorf("%w: selection_mode=model requires model_id", domain.ErrNoModelAvailable)
	}

	if req.ModelID != "" {
		// 1. explicit "provider:model" prefix.
		ref := domain.ParseModelRef(req.ModelID)
		if ref.Provider != "" {
			if err := s.rejectModeConflict(mode, ref.Provider); err != nil {
				return Result{}, err
			}
			return s.selectExplicitProvider(ctx, req, ref)
		}

		// 2. registry hit.
		if m, err := s.registry.Get(req.ModelID); err == nil {
			return s.selectRegistryHit(ctx, req, m, mode)
		}

		// 4. pattern inference from naming conventions.
		if provider := domain.InferProviderFromName(req.ModelID); provider != "" {
			if err := s.rejectModeConflict(mode, provider); err != nil {
				return Result{}, err
			}
			return s.selectExplicitProvider(ctx, req, domain.ModelRef{Provider: provider, Model: req.ModelID})
		}

		return Result{}, domain.ErrModelNotFound
	}

	// 3. provider parameter, no model_id.
	if req.Provider != "" {
		if err := s.rejectModeConflict(mode, req.Provider); err != nil {
			return Result{}, err
		}
		return s.selectByProvider(ctx, req, mode)
	}

	// 5. no hint: modality default.
	return s.selectDefault(req.Modality)
}

// rejectModeConflict enforces free_only/commercial_only at steps 2-4.
func (s *Selector) rejectModeConflict(mode domain.SelectionMode, provider string) error {
	switch mode {
	case domain.SelectionFreeOnly:
		if provider != "local" {
			return fmt.Errorf("%w: selection_mode=free_only excludes provider %s", domain.ErrUnsupportedProvider, provider)
		}
	case domain.SelectionCommercialOnly:
		if provider == "local" {
			return fmt.Errorf("%w: selection_mode=commercial_only excludes local", domain.ErrUnsupportedProvider)
		}
	}
	return nil
}

func (s *Selector) selectExplicitProvider(ctx context.Context, req Request, ref domain.ModelRef) (Result, error) {
	factory, ok := s.factories[ref.Provider]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, ref.Provider)
	}
	cred, err := s.credentialFor(ctx, req.UserID, ref.Provider)
	if err != nil {
		return Result{}, err
	}
	adapter, err := adapters.WithModel(factory, ref.Model)(ctx, cred)
	if err != nil {
		return Result{}, err
	}
	m := syntheticModel(ref.Provider, ref.Model, req.Modality)
	return Result{
		Model:   m,
		Adapter: adapter,
		Info: domain.SelectionInfo{
			SelectedModel: m.ModelID, SelectedProvider: ref.Provider,
		},
	}, nil
}

func (s *Selector) selectRegistryHit(ctx context.Context, req Request, m domain.Model, mode domain.SelectionMode) (Result, error) {
	if err := s.rejectModeConflict(mode, m.Provider); err != nil {
		return Result{}, err
	}
	if m.Status != domain.ModelAvailable {
		if m.FallbackModelID == "" {
			return Result{}, domain.ErrModelNotFound
		}
		fb, err := s.registry.Resolve(m.FallbackModelID)
		if err != nil {
			return Result{}, domain.ErrModelNotFound
		}
		return s.modelToResult(ctx, req, fb, true, "model_unavailable")
	}
	return s.modelToResult(ctx, req, m, false, "")
}

func (s *Selector) modelToResult(ctx context.Context, req Request, m domain.Model, fallbackUsed bool, reason string) (Result, error) {
	info := domain.SelectionInfo{
		SelectedModel: m.ModelID, SelectedProvider: m.Provider,
		FallbackUsed: fallbackUsed, FallbackReason: reason,
	}
	if m.Provider == "local" {
		return Result{Model: m, Info: info}, nil
	}
	factory, ok := s.factories[m.Provider]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, m.Provider)
	}
	cred, err := s.credentialFor(ctx, req.UserID, m.Provider)
	if err != nil {
		return Result{}, err
	}
	adapter, err := adapters.WithModel(factory, m.ModelID)(ctx, cred)
	if err != nil {
		return Result{}, err
	}
	return Result{Model: m, Adapter: adapter, Info: info}, nil
}

func (s *Selector) selectByProvider(ctx context.Context, req Request, mode domain.SelectionMode) (Result, error) {
	cred, credErr := s.credentialFor(ctx, req.UserID, req.Provider)

	if credErr == nil {
		avail, err := s.discovery.Availability(ctx, req.UserID, req.Provider, cred, false)
		if err == nil {
			if avail.CreditsStatus == domain.CreditsExhausted {
				return s.fallbackToDefaultLocal(req.Modality, "credits_exhausted")
			}
			for _, pm := range avail.Models {
				if pm.Modality == req.Modality {
					ref := domain.ModelRef{Provider: req.Provider, Model: pm.ID}
					return s.selectExplicitProvider(ctx, req, ref)
				}
			}
		}
	} else {
		return s.fallbackToDefaultLocal(req.Modality, "no_access")
	}

	return s.fallbackToDefaultLocal(req.Modality, "no_access")
}

func (s *Selector) fallbackToDefaultLocal(modality domain.Modality, reason string) (Result, error) {
	modelID, ok, err := s.registry.Default(modality)
	if err != nil || !ok {
		return Result{}, domain.ErrNoModelAvailable
	}
	m, err := s.registry.Get(modelID)
	if err != nil {
		return Result{}, domain.ErrNoModelAvailable
	}
	return Result{
		Model: m,
		Info: domain.SelectionInfo{
			SelectedModel: m.ModelID, SelectedProvider: m.Provider,
			FallbackUsed: true, FallbackReason: reason,
		},
	}, nil
}

func (s *Selector) selectDefault(modality domain.Modality) (Result, error) {
	modelID, ok, err := s.registry.Default(modality)
	if err != nil || !ok {
		return Result{}, domain.ErrNoModelAvailable
	}
	m, err := s.registry.Get(modelID)
	if err != nil {
		return Result{}, domain.ErrNoModelAvailable
	}
	return Result{Model: m, Info: domain.SelectionInfo{SelectedModel: m.ModelID, SelectedProvider: m.Provider}}, nil
}

func (s *Selector) credentialFor(ctx context.Context, userID, provider string) (*domain.ProviderCredential, error) {
	if provider == "local" {
		return nil, nil
	}
	if s.credential == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, provider)
	}
	cred, err := s.credential(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, provider)
	}
	return cred, nil
}

// syntheticModel builds an ephemeral descriptor for an explicit
// provider:model reference that was never registered — used at steps 1
// and 4, where the caller names a provider model directly.
func syntheticModel(provider, modelID string, modality domain.Modality) domain.Model {
	return domain.Model{
		ModelID: modelID, Name: modelID, Modality: modality,
		Provider: provider, Status: domain.ModelAvailable,
	}
}
