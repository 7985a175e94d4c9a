package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// Provider base URLs for the OpenAI-wire-compatible hosts. Azure is the
// odd one out: its endpoint is per-deployment and must come from the
// stored credential.
const (
	openAIBaseURL = "https://api.openai.com/v1"
	xaiBaseURL    = "https://api.x.ai/v1"
	hfBaseURL     = "https://api-inference.huggingface.co"
)

// credentialString pulls one string field out of an opaque credential
// payload.
func credentialString(cred *domain.ProviderCredential, key string) string {
	if cred == nil {
		return ""
	}
	if v, ok := cred.Payload[key].(string); ok {
		return v
	}
	return ""
}

// requireAPIKey extracts the api_key field or fails provider_not_configured.
func requireAPIKey(provider string, cred *domain.ProviderCredential) (string, error) {
	key := credentialString(cred, "api_key")
	if key == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, provider)
	}
	return key, nil
}

// BuiltinFactories returns the Factory per commercial provider. Each
// factory binds the adapter handle to exactly the modalities that
// provider actually serves — capability is fixed at construction, never
// probed and rejected at call time.
func BuiltinFactories() map[string]Factory {
	return map[string]Factory{
		"openai": func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
			key, err := requireAPIKey("openai", cred)
			if err != nil {
				return nil, err
			}
			base := credentialString(cred, "endpoint")
			if base == "" {
				base = openAIBaseURL
			}
			model := credentialString(cred, "model")
			return &Adapter{
				Provider: "openai",
				Text:     NewCommercialTextAdapter("openai", base, key, model),
				Image:    NewCommercialImageAdapter("openai", base, key, model),
			}, nil
		},
		"anthropic": func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
			key, err := requireAPIKey("anthropic", cred)
			if err != nil {
				return nil, err
			}
			return &Adapter{
				Provider: "anthropic",
				Text:     NewAnthropicTextAdapter(credentialString(cred, "endpoint"), key, credentialString(cred, "model")),
			}, nil
		},
		"google": func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
			key, err := requireAPIKey("google", cred)
			if err != nil {
				return nil, err
			}
			return &Adapter{
				Provider: "google",
				Text:     NewGoogleTextAdapter(credentialString(cred, "endpoint"), key, credentialString(cred, "model")),
			}, nil
		},
		"azure": func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
			key, err := requireAPIKey("azure", cred)
			if err != nil {
				return nil, err
			}
			endpoint := credentialString(cred, "endpoint")
			if endpoint == "" {
				return nil, fmt.Errorf("%w: azure requires a deployment endpoint", domain.ErrProviderNotConfigured)
			}
			model := credentialString(cred, "model")
			return &Adapter{
				Provider: "azure",
				Text:     NewCommercialTextAdapter("azure", endpoint, key, model),
				Image:    NewCommercialImageAdapter("azure", endpoint, key, model),
			}, nil
		},
		"xai": func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
			key, err := requireAPIKey("xai", cred)
			if err != nil {
				return nil, err
			}
			return &Adapter{
				Provider: "xai",
				Text:     NewCommercialTextAdapter("xai", xaiBaseURL, key, credentialString(cred, "model")),
				Image:    NewCommercialImageAdapter("xai", xaiBaseURL, key, credentialString(cred, "model")),
			}, nil
		},
		"huggingface": func(_ context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
			key, err := requireAPIKey("huggingface", cred)
			if err != nil {
				return nil, err
			}
			base := credentialString(cred, "endpoint")
			if base == "" {
				base = hfBaseURL
			}
			model := credentialString(cred, "model")
			return &Adapter{
				Provider: "huggingface",
				Text:     NewCommercialTextAdapter("huggingface", base, key, model),
				Mesh:     NewHTTPMeshAdapter("huggingface", base, key, model),
			}, nil
		},
	}
}

// WithModel rebinds a factory so the adapters it constructs target one
// concrete provider model. The selector calls this after resolving an
// explicit provider:model reference or a discovered provider model.
func WithModel(f Factory, model string) Factory {
	return func(ctx context.Context, cred *domain.ProviderCredential) (*Adapter, error) {
		bound := &domain.ProviderCredential{}
		if cred != nil {
			*bound = *cred
		}
		payload := make(map[string]any, len(bound.Payload)+1)
		for k, v := range bound.Payload {
			payload[k] = v
		}
		payload["model"] = model
		bound.Payload = payload
		return f(ctx, bound)
	}
}

// ─── Discovery probers ──────────────────────────────────────────────────────

// openAIListResponse is the shared /models listing shape for OpenAI-wire
// hosts.
type openAIListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListProber probes an OpenAI-wire /models endpoint and classifies each
// listed id by modality from its name. Providers with no list endpoint
// get a StaticProber instead.
func ListProber(provider, baseURL string) func(ctx context.Context, cred *domain.ProviderCredential) (domain.ProviderAvailability, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, cred *domain.ProviderCredential) (domain.ProviderAvailability, error) {
		key := credentialString(cred, "api_key")
		base := credentialString(cred, "endpoint")
		if base == "" {
			base = baseURL
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
		if err != nil {
			return domain.ProviderAvailability{}, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		resp, err := client.Do(req)
		if err != nil {
			return domain.ProviderAvailability{}, fmt.Errorf("%s model listing: %w", provider, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			return domain.ProviderAvailability{CreditsStatus: domain.CreditsRateLimited}, nil
		}
		if err := statusErr(provider, resp); err != nil {
			return domain.ProviderAvailability{}, err
		}

		var list openAIListResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return domain.ProviderAvailability{}, fmt.Errorf("decode %s model listing: %w", provider, err)
		}
		avail := domain.ProviderAvailability{CreditsStatus: domain.CreditsAvailable}
		for _, m := range list.Data {
			avail.Models = append(avail.Models, domain.ProviderModel{ID: m.ID, Modality: modalityFromName(m.ID)})
		}
		return avail, nil
	}
}

// StaticProber answers with a fixed catalog for providers that expose no
// list endpoint (Anthropic, Google).
func StaticProber(models []domain.ProviderModel) func(ctx context.Context, cred *domain.ProviderCredential) (domain.ProviderAvailability, error) {
	return func(_ context.Context, _ *domain.ProviderCredential) (domain.ProviderAvailability, error) {
		return domain.ProviderAvailability{Models: models, CreditsStatus: domain.CreditsUnknown}, nil
	}
}

// modalityFromName buckets a provider model id by naming convention.
func modalityFromName(id string) domain.Modality {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "dall-e") || strings.Contains(lower, "image") || strings.Contains(lower, "diffusion"):
		return domain.ModalityImage
	case strings.Contains(lower, "shap-e") || strings.Contains(lower, "3d") || strings.Contains(lower, "mesh"):
		return domain.Modality3D
	default:
		return domain.ModalityText
	}
}
