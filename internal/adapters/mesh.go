package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// HTTPMeshAdapter calls a hosted text-to-3D endpoint that returns mesh
// bytes (and optionally a rendered preview image) base64-encoded in a
// JSON envelope. HuggingFace inference endpoints for shap-e-style models
// expose this shape. Local 3D runtimes can reuse it pointed at loopback.
type HTTPMeshAdapter struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
}

// NewHTTPMeshAdapter builds a mesh-generation adapter. Mesh generation
// routinely runs for minutes, so the client carries no timeout; liveness
// is the SSE heartbeat's job.
func NewHTTPMeshAdapter(provider, baseURL, apiKey, model string) *HTTPMeshAdapter {
	return &HTTPMeshAdapter{
		provider: provider, baseURL: baseURL, apiKey: apiKey, model: model,
		client: &http.Client{Timeout: 0},
	}
}

type meshRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"` // optional image-to-3D conditioning
	Format string `json:"format,omitempty"`
}

type meshResponse struct {
	Mesh    string `json:"mesh"` // base64
	MIME    string `json:"mime_type"`
	Preview string `json:"preview,omitempty"` // base64 PNG, optional
}

// GenerateMesh requests one mesh and decodes it plus any preview image.
func (a *HTTPMeshAdapter) GenerateMesh(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) ([]byte, string, []byte, error) {
	body := meshRequest{Model: a.model, Prompt: input.Prompt, Format: params.Format}
	if len(input.Images) > 0 {
		body.Image = input.Images[0]
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/generate_3d", bytes.NewReader(payload))
	if err != nil {
		return nil, "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%s mesh request: %w", a.provider, err)
	}
	defer resp.Body.Close()
	if err := statusErr(a.provider, resp); err != nil {
		return nil, "", nil, err
	}

	var out meshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", nil, fmt.Errorf("decode %s mesh response: %w", a.provider, err)
	}
	mesh, err := base64.StdEncoding.DecodeString(out.Mesh)
	if err != nil {
		return nil, "", nil, fmt.Errorf("decode base64 mesh: %w", err)
	}
	mime := out.MIME
	if mime == "" {
		mime = "model/gltf-binary"
	}
	var preview []byte
	if out.Preview != "" {
		if p, err := base64.StdEncoding.DecodeString(out.Preview); err == nil {
			preview = p
		}
	}
	return mesh, mime, preview, nil
}

var _ MeshGenerator = (*HTTPMeshAdapter)(nil)
