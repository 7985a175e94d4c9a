// Package adapters defines the capability-typed backend abstraction:
// separate interfaces per modality so a 3D-only adapter cannot be asked
// for text at the type level. A provider that advertises a modality it
// then rejects is a construction bug, not a runtime case to handle.
package adapters

import (
	"context"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// Chunk is one incremental piece of streamed text output.
type Chunk struct {
	Text         string
	FinishReason string
}

// TextGenerator is implemented by adapters that can produce text.
// StreamGenerate's channel is closed by the adapter when generation ends,
// whether by completion, error, or ctx cancellation — callers range over
// it rather than polling.
type TextGenerator interface {
	StreamGenerate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (<-chan Chunk, error)
	Generate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (*domain.GenerateOutput, error)
}

// ImageGenerator is implemented by adapters that can produce image bytes.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) ([]byte, string, error) // bytes, mime
}

// MeshGenerator is implemented by adapters that can produce 3D mesh bytes.
// It may optionally also hand back a preview-image thumbnail; returning
// nil preview bytes is always valid.
type MeshGenerator interface {
	GenerateMesh(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (mesh []byte, mime string, preview []byte, err error)
}

// Adapter is the capability-erased handle the selector hands to the
// orchestrator. Capability interfaces are populated only when the
// concrete adapter actually implements them — nil otherwise, so a runtime
// type assertion tells the orchestrator exactly what the adapter can do.
type Adapter struct {
	Provider string
	Text     TextGenerator
	Image    ImageGenerator
	Mesh     MeshGenerator
}

// Supports reports whether this adapter handle can serve a modality.
func (a *Adapter) Supports(m domain.Modality) bool {
	switch m {
	case domain.ModalityText:
		return a.Text != nil
	case domain.ModalityImage:
		return a.Image != nil
	case domain.Modality3D:
		return a.Mesh != nil
	default:
		return false
	}
}

// Factory builds a provider's Adapter given per-user credentials. Returns
// domain.ErrProviderNotConfigured if credentials are required and absent.
type Factory func(ctx context.Context, credential *domain.ProviderCredential) (*Adapter, error)
