package selector

import (
	"context"
	"testing"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return registry.New(db)
}

func mustRegister(t *testing.T, reg *registry.Registry, m domain.Model) {
	t.Helper()
	if err := reg.Register(m); err != nil {
		t.Fatalf("register %s: %v", m.ModelID, err)
	}
}

func TestSelectDefaultForModality(t *testing.T) {
	reg := newTestRegistry(t)
	mustRegister(t, reg, domain.Model{ModelID: "local-text", Name: "local-text", Modality: domain.ModalityText, Provider: "local", Status: domain.ModelAvailable})
	if err := reg.SetDefault(domain.ModalityText, "local-text"); err != nil {
		t.Fatalf("set default: %v", err)
	}

	sel := New(reg, nil, nil, nil)
	res, err := sel.Select(context.Background(), Request{Modality: domain.ModalityText})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if res.Model.ModelID != "local-text" {
		t.Errorf("selected %s, want local-text", res.Model.ModelID)
	}
	if res.Info.FallbackUsed {
		t.Error("expected no fallback for a direct default hit")
	}
}

func TestSelectNoDefaultFails(t *testing.T) {
	reg := newTestRegistry(t)
	sel := New(reg, nil, nil, nil)
	if _, err := sel.Select(context.Background(), Request{Modality: domain.ModalityText}); err == nil {
		t.Fatal("expected error when no default is registered")
	}
}

func TestSelectCreditsExhaustedFallsBackToLocalDefault(t *testing.T) {
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	reg := registry.New(db)
	mustRegister(t, reg, domain.Model{ModelID: "local-text", Name: "local-text", Modality: domain.ModalityText, Provider: "local", Status: domain.ModelAvailable})
	if err := reg.SetDefault(domain.ModalityText, "local-text"); err != nil {
		t.Fatalf("set default: %v", err)
	}

	disc := discovery.New(db, map[string]discovery.Prober{
		"openai": func(ctx context.Context, cred *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			return domain.ProviderAvailability{CreditsStatus: domain.CreditsExhausted}, nil
		},
	})

	cred := func(ctx context.Context, userID, provider string) (*domain.ProviderCredential, error) {
		return &domain.ProviderCredential{UserID: userID, Provider: provider}, nil
	}

	sel := New(reg, disc, map[string]adapters.Factory{
		"openai": func(ctx context.Context, c *domain.ProviderCredential) (*adapters.Adapter, error) {
			return &adapters.Adapter{Provider: "openai"}, nil
		},
	}, cred)

	res, err := sel.Select(context.Background(), Request{UserID: "u1", Provider: "openai", Modality: domain.ModalityText})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if !res.Info.FallbackUsed || res.Info.FallbackReason != "credits_exhausted" {
		t.Fatalf("expected credits_exhausted fallback, got %+v", res.Info)
	}
	if res.Model.ModelID != "local-text" {
		t.Errorf("selected %s, want local-text fallback", res.Model.ModelID)
	}
}

func TestSelectFreeOnlyRejectsCommercialProvider(t *testing.T) {
	reg := newTestRegistry(t)
	sel := New(reg, nil, map[string]adapters.Factory{
		"openai": func(ctx context.Context, c *domain.ProviderCredential) (*adapters.Adapter, error) {
			return &adapters.Adapter{Provider: "openai"}, nil
		},
	}, nil)
	_, err := sel.Select(context.Background(), Request{
		ModelID: "openai:gpt-4o", Modality: domain.ModalityText, SelectionMode: domain.SelectionFreeOnly,
	})
	if err == nil {
		t.Fatal("expected free_only to reject an explicit commercial provider reference")
	}
}

func TestSelectExplicitProviderPrefix(t *testing.T) {
	reg := newTestRegistry(t)
	called := false
	sel := New(reg, nil, map[string]adapters.Factory{
		"openai": func(ctx context.Context, c *domain.ProviderCredential) (*adapters.Adapter, error) {
			called = true
			return &adapters.Adapter{Provider: "openai"}, nil
		},
	}, func(ctx context.Context, userID, provider string) (*domain.ProviderCredential, error) {
		return &domain.ProviderCredential{}, nil
	})
	res, err := sel.Select(context.Background(), Request{ModelID: "openai:gpt-4o", Modality: domain.ModalityText})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if !called {
		t.Fatal("expected explicit provider:model to instantiate the openai factory")
	}
	if res.Info.SelectedProvider != "openai" {
		t.Errorf("selected provider %q, want openai", res.Info.SelectedProvider)
	}
}

func TestSelectPatternInference(t *testing.T) {
	reg := newTestRegistry(t)
	sel := New(reg, nil, map[string]adapters.Factory{
		"anthropic": func(ctx context.Context, c *domain.ProviderCredential) (*adapters.Adapter, error) {
			return &adapters.Adapter{Provider: "anthropic"}, nil
		},
	}, func(ctx context.Context, userID, provider string) (*domain.ProviderCredential, error) {
		return &domain.ProviderCredential{}, nil
	})
	res, err := sel.Select(context.Background(), Request{ModelID: "claude-3-opus", Modality: domain.ModalityText})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if res.Info.SelectedProvider != "anthropic" {
		t.Errorf("inferred provider %q, want anthropic", res.Info.SelectedProvider)
	}
}

func TestSelectRegistryHitUnavailableUsesFallbackModel(t *testing.T) {
	reg := newTestRegistry(t)
	mustRegister(t, reg, domain.Model{ModelID: "backup", Name: "backup", Modality: domain.ModalityText, Provider: "local", Status: domain.ModelAvailable})
	mustRegister(t, reg, domain.Model{ModelID: "primary", Name: "primary", Modality: domain.ModalityText, Provider: "local", Status: domain.ModelFailed, FallbackModelID: "backup"})

	sel := New(reg, nil, nil, nil)
	res, err := sel.Select(context.Background(), Request{ModelID: "primary", Modality: domain.ModalityText})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if res.Model.ModelID != "backup" {
		t.Errorf("selected %s, want backup fallback", res.Model.ModelID)
	}
	if !res.Info.FallbackUsed {
		t.Error("expected fallback_used=true")
	}
}
