package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/tutu-network/inferencegate/internal/domain"
)

func TestFactoriesRequireAPIKey(t *testing.T) {
	for provider, factory := range BuiltinFactories() {
		if _, err := factory(context.Background(), nil); !errors.Is(err, domain.ErrProviderNotConfigured) {
			t.Errorf("%s factory without credential: err = %v, want ErrProviderNotConfigured", provider, err)
		}
	}
}

func TestFactoryCapabilitiesAreFixedAtConstruction(t *testing.T) {
	cred := &domain.ProviderCredential{Payload: map[string]any{"api_key": "k"}}

	anthropic, err := BuiltinFactories()["anthropic"](context.Background(), cred)
	if err != nil {
		t.Fatalf("anthropic factory: %v", err)
	}
	if !anthropic.Supports(domain.ModalityText) {
		t.Error("anthropic should serve text")
	}
	if anthropic.Supports(domain.ModalityImage) || anthropic.Supports(domain.Modality3D) {
		t.Error("anthropic must not advertise image or 3d")
	}

	openai, err := BuiltinFactories()["openai"](context.Background(), cred)
	if err != nil {
		t.Fatalf("openai factory: %v", err)
	}
	if !openai.Supports(domain.ModalityText) || !openai.Supports(domain.ModalityImage) {
		t.Error("openai should serve text and image")
	}

	hf, err := BuiltinFactories()["huggingface"](context.Background(), cred)
	if err != nil {
		t.Fatalf("huggingface factory: %v", err)
	}
	if !hf.Supports(domain.Modality3D) {
		t.Error("huggingface should serve 3d")
	}
}

func TestAzureRequiresEndpoint(t *testing.T) {
	cred := &domain.ProviderCredential{Payload: map[string]any{"api_key": "k"}}
	if _, err := BuiltinFactories()["azure"](context.Background(), cred); !errors.Is(err, domain.ErrProviderNotConfigured) {
		t.Fatalf("azure without endpoint: err = %v, want ErrProviderNotConfigured", err)
	}
}

func TestWithModelDoesNotMutateOriginalCredential(t *testing.T) {
	var seen string
	base := func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
		seen = credentialString(cred, "model")
		return &Adapter{Provider: "fake"}, nil
	}
	cred := &domain.ProviderCredential{Payload: map[string]any{"api_key": "k"}}
	if _, err := WithModel(base, "gpt-4o")(context.Background(), cred); err != nil {
		t.Fatal(err)
	}
	if seen != "gpt-4o" {
		t.Errorf("bound model = %q, want gpt-4o", seen)
	}
	if _, ok := cred.Payload["model"]; ok {
		t.Error("original credential payload was mutated")
	}
}

func TestModalityFromName(t *testing.T) {
	cases := map[string]domain.Modality{
		"gpt-4o":                  domain.ModalityText,
		"dall-e-3":                domain.ModalityImage,
		"stable-diffusion-xl":     domain.ModalityImage,
		"shap-e":                  domain.Modality3D,
		"grok-3":                  domain.ModalityText,
	}
	for id, want := range cases {
		if got := modalityFromName(id); got != want {
			t.Errorf("modalityFromName(%q) = %s, want %s", id, got, want)
		}
	}
}
