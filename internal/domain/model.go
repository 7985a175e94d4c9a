// Package domain holds the core data model shared by every subsystem:
// models, loaded instances, queued requests, sessions, artifacts and jobs.
// Nothing in this package talks to a database or the network.
package domain

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Modality identifies the kind of generated artifact a model produces.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	Modality3D    Modality = "3d"
)

// ModelStatus is the lifecycle status of a registered model descriptor.
type ModelStatus string

const (
	ModelAvailable   ModelStatus = "available"
	ModelDownloading ModelStatus = "downloading"
	ModelFailed      ModelStatus = "failed"
	ModelDisabled    ModelStatus = "disabled"
	ModelEvicted     ModelStatus = "evicted"
)

// SourceType describes where a model's bytes originate.
type SourceType string

const (
	SourceHuggingFace SourceType = "huggingface"
	SourceURL         SourceType = "url"
	SourceLocal       SourceType = "local"
)

// ModelSource points at the remote/local origin of a model's bytes.
type ModelSource struct {
	Type SourceType `json:"type"`
	URI  string     `json:"uri"`
}

// Capabilities bounds what a model will accept, used both for request
// validation and for image preprocessing.
type Capabilities struct {
	MaxContextTokens int      `json:"max_context_tokens,omitempty"`
	ImageMaxEdge     int      `json:"image_input_max_edge,omitempty"`
	ImageMaxPixels   int      `json:"image_input_max_pixels,omitempty"`
	ImageFormats     []string `json:"image_input_formats,omitempty"`
}

// Model is a registered model descriptor. model_id is globally unique;
// (name, modality) is de-duplicated at seed time by the registry.
type Model struct {
	ModelID         string       `json:"model_id"`
	Name            string       `json:"name"`
	Version         string       `json:"version,omitempty"`
	Modality        Modality     `json:"modality"`
	Provider        string       `json:"provider"`
	Status          ModelStatus  `json:"status"`
	LocalPath       string       `json:"local_path,omitempty"`
	SizeBytes       int64        `json:"size_bytes,omitempty"`
	Capabilities    Capabilities `json:"capabilities"`
	Source          *ModelSource `json:"source,omitempty"`
	FallbackModelID string       `json:"fallback_model_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	LastUsedAt      time.Time    `json:"last_used_at"`
}

// LoadedModel is an observability snapshot of a materialized instance.
type LoadedModel struct {
	ModelID     string    `json:"model_id"`
	LoadedAt    time.Time `json:"loaded_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	IsPinned    bool      `json:"is_pinned"`
	MemoryBytes uint64    `json:"memory_bytes"`
	BusyCount   int32     `json:"busy_count"`
	Status      string    `json:"status"` // "loaded" or "busy", derived
}

// HumanSize renders a byte count the way the CLI and job-progress messages
// present it (1.2 GB, 340 MB, ...).
type HumanSize int64

func (h HumanSize) String() string {
	return humanize.Bytes(uint64(h))
}
