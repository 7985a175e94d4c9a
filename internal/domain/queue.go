package domain

import (
	"sync/atomic"
	"time"
)

// RequestStatus is the lifecycle status of a queued generation request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestQueued    RequestStatus = "queued"
	RequestRunning   RequestStatus = "running"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
	RequestFailed    RequestStatus = "failed"
)

// SelectionMode constrains the backend selector's routing decision.
type SelectionMode string

const (
	SelectionAuto           SelectionMode = "auto"
	SelectionFreeOnly       SelectionMode = "free_only"
	SelectionCommercialOnly SelectionMode = "commercial_only"
	SelectionModel          SelectionMode = "model"
)

// GenerateInput is the modality-agnostic payload of a generation request.
type GenerateInput struct {
	Prompt string   `json:"prompt,omitempty"`
	Images []string `json:"images,omitempty"` // data URLs
	Mesh   string   `json:"mesh,omitempty"`   // data URL
}

// GenerateParameters are sampling / shaping knobs, all optional.
type GenerateParameters struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Format      string   `json:"format,omitempty"`
}

// QueuedRequest is one admitted generation request tracked by the queue.
// CompletionSignal is a broadcast channel: it is closed exactly once, when
// the request reaches a terminal status, so every waiter unblocks.
type QueuedRequest struct {
	RequestID        string
	ModelID          string
	Modality         Modality
	Input            GenerateInput
	Parameters       GenerateParameters
	Status           RequestStatus
	QueuePosition    int
	CreatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
	Result           *GenerateOutput
	Err              error
	CompletionSignal chan struct{}

	cancelled int32

	// OnDelta, when set, is invoked synchronously by the executor for each
	// incremental piece of streamed text. Never called concurrently with
	// itself for the same request.
	OnDelta func(text string)
}

// Cancelled reports whether cancellation was requested. The flag is set
// by the queue coordinator and read cooperatively by the executor
// goroutine when it finishes.
func (r *QueuedRequest) Cancelled() bool { return atomic.LoadInt32(&r.cancelled) == 1 }

// RequestCancel flips the cooperative cancellation flag.
func (r *QueuedRequest) RequestCancel() { atomic.StoreInt32(&r.cancelled, 1) }

// GenerateOutput is the result of a successful generation, modality-shaped.
// Binaries carries raw adapter output from the executor to the
// orchestrator, which decides inline-vs-artifact before anything reaches
// the wire; it is never serialized itself.
type GenerateOutput struct {
	Text      string         `json:"text,omitempty"`
	Inline    []string       `json:"inline,omitempty"` // small binaries as data URLs
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Usage     *UsageStats    `json:"usage,omitempty"`
	Binaries  []BinaryOutput `json:"-"`
}

// BinaryOutput is one raw binary result (image or mesh bytes) before the
// inline-vs-artifact decision.
type BinaryOutput struct {
	Type ArtifactType
	MIME string
	Data []byte
}

// UsageStats carries token accounting reported by an adapter, when known.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// QueueInfo is an observability snapshot of one model's queue.
type QueueInfo struct {
	ModelID     string   `json:"model_id"`
	QueueDepth  int      `json:"queue_depth"`
	ActiveCount int      `json:"active_count"`
	QueuedIDs   []string `json:"queued_ids"`
	ActiveIDs   []string `json:"active_ids"`
}
