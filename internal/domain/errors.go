package domain

import "errors"

// ─── Registry errors ────────────────────────────────────────────────────────

var (
	ErrEmptyModelID   = errors.New("model_id must not be empty")
	ErrModelNotFound  = errors.New("model not found")
	ErrDuplicateModel = errors.New("model with same name and modality already registered")
)

// ─── Lifecycle errors ───────────────────────────────────────────────────────

var (
	ErrLoadFailed    = errors.New("model load failed")
	ErrBusy          = errors.New("model is busy and cannot be unloaded")
	ErrNotLoaded     = errors.New("model is not loaded")
	ErrPoolExhausted = errors.New("no evictable slot available in the model pool")
)

// ─── Queue errors ───────────────────────────────────────────────────────────

var (
	ErrQueueFull       = errors.New("queue_full")
	ErrRequestNotFound = errors.New("request not found")
)

// ─── Selector errors ────────────────────────────────────────────────────────

var (
	ErrProviderNotConfigured = errors.New("provider_not_configured")
	ErrUnsupportedProvider   = errors.New("unsupported_provider")
	ErrNoModelAvailable      = errors.New("no_model_available")
)

// ─── Discovery errors ───────────────────────────────────────────────────────

var (
	ErrRateLimited = errors.New("rate_limit")
	ErrCreditsGone = errors.New("credits_exhausted")
)

// ─── Jobs errors ────────────────────────────────────────────────────────────

var (
	ErrInvalidSource = errors.New("invalid download source")
	ErrJobNotFound   = errors.New("download job not found")
)

// ─── Session errors ─────────────────────────────────────────────────────────

var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoTurns         = errors.New("session has no turns to regenerate")
)

// ─── Artifact errors ────────────────────────────────────────────────────────

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactExpired  = errors.New("artifact_expired")
)

// ─── Auth/user errors ───────────────────────────────────────────────────────

var (
	ErrAuth              = errors.New("auth_error")
	ErrForbidden         = errors.New("forbidden")
	ErrInviteInvalid     = errors.New("invite token invalid or already redeemed")
	ErrCredentialMissing = errors.New("provider credential not configured for user")
)
