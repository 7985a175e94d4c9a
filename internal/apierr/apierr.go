// Package apierr maps subsystem errors onto the gateway's wire taxonomy:
// a stable machine-readable code plus an HTTP status per error class.
// Adapter-origin provider errors are normalized through a fixed
// status table (429 -> rate_limit, 401 -> auth_error, 503 ->
// service_unavailable, 504 -> timeout, else internal_error); the mapping
// is lossless in message, normalizing in code.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/domain"
)

// E is a classified error ready for the wire.
type E struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *E) Error() string { return e.Message }

// Validation builds a 422 validation_error with the given message.
func Validation(msg string) *E {
	return &E{Code: "validation_error", Message: msg, Status: http.StatusUnprocessableEntity}
}

var sentinelTable = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrEmptyModelID, "validation_error", http.StatusUnprocessableEntity},
	{domain.ErrDuplicateModel, "validation_error", http.StatusUnprocessableEntity},
	{domain.ErrInvalidSource, "validation_error", http.StatusUnprocessableEntity},
	{domain.ErrAuth, "auth_error", http.StatusUnauthorized},
	{domain.ErrForbidden, "forbidden", http.StatusForbidden},
	{domain.ErrInviteInvalid, "forbidden", http.StatusForbidden},
	{domain.ErrModelNotFound, "model_not_found", http.StatusNotFound},
	{domain.ErrNoModelAvailable, "no_model_available", http.StatusNotFound},
	{domain.ErrRequestNotFound, "not_found", http.StatusNotFound},
	{domain.ErrJobNotFound, "not_found", http.StatusNotFound},
	{domain.ErrSessionNotFound, "not_found", http.StatusNotFound},
	{domain.ErrArtifactNotFound, "not_found", http.StatusNotFound},
	{domain.ErrNoTurns, "validation_error", http.StatusUnprocessableEntity},
	{domain.ErrSessionClosed, "validation_error", http.StatusUnprocessableEntity},
	{domain.ErrProviderNotConfigured, "provider_not_configured", http.StatusBadRequest},
	{domain.ErrCredentialMissing, "provider_not_configured", http.StatusBadRequest},
	{domain.ErrUnsupportedProvider, "unsupported_provider", http.StatusBadRequest},
	{domain.ErrQueueFull, "queue_full", http.StatusServiceUnavailable},
	{domain.ErrRateLimited, "rate_limit", http.StatusTooManyRequests},
	{domain.ErrArtifactExpired, "artifact_expired", http.StatusGone},
}

// Classify turns any error into its wire classification.
func Classify(err error) *E {
	var classified *E
	if errors.As(err, &classified) {
		return classified
	}

	var provider *adapters.ProviderError
	if errors.As(err, &provider) {
		switch provider.StatusCode {
		case http.StatusTooManyRequests:
			return &E{Code: "rate_limit", Message: err.Error(), Status: http.StatusTooManyRequests}
		case http.StatusUnauthorized:
			return &E{Code: "auth_error", Message: err.Error(), Status: http.StatusUnauthorized}
		case http.StatusServiceUnavailable:
			return &E{Code: "service_unavailable", Message: err.Error(), Status: http.StatusServiceUnavailable}
		case http.StatusGatewayTimeout:
			return &E{Code: "timeout", Message: err.Error(), Status: http.StatusGatewayTimeout}
		default:
			return &E{Code: "internal_error", Message: err.Error(), Status: http.StatusInternalServerError}
		}
	}

	for _, row := range sentinelTable {
		if errors.Is(err, row.err) {
			return &E{Code: row.code, Message: err.Error(), Status: row.status}
		}
	}
	return &E{Code: "internal_error", Message: err.Error(), Status: http.StatusInternalServerError}
}

// Write emits a classified error as the JSON error envelope with its
// mapped HTTP status.
func Write(w http.ResponseWriter, err error) {
	e := Classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(map[string]any{"error": e})
}
