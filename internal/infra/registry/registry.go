// Package registry owns model descriptors: registration, lookup, the
// per-modality default pointer, and fallback links. It is a thin
// persistence-backed layer; materialization of instances is the
// lifecycle manager's job (internal/infra/lifecycle), not this package's.
package registry

import (
	"fmt"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
)

// Registry is the persisted model catalog.
type Registry struct {
	db *sqlstore.DB
}

// New creates a registry backed by db.
func New(db *sqlstore.DB) *Registry {
	return &Registry{db: db}
}

// Register adds a new model descriptor. model_id must be non-empty;
// (name, modality) is de-duplicated — registering the same pair twice
// returns domain.ErrDuplicateModel instead of creating a second row.
func (r *Registry) Register(m domain.Model) error {
	if m.ModelID == "" {
		return domain.ErrEmptyModelID
	}
	if existing, ok, err := r.db.FindByNameModality(m.Name, m.Modality); err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	} else if ok && existing.ModelID != m.ModelID {
		return domain.ErrDuplicateModel
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.LastUsedAt.IsZero() {
		m.LastUsedAt = m.CreatedAt
	}
	if err := r.db.UpsertModel(m); err != nil {
		return fmt.Errorf("register model: %w", err)
	}
	return nil
}

// Get returns a model descriptor by id.
func (r *Registry) Get(modelID string) (domain.Model, error) {
	return r.db.GetModel(modelID)
}

// List returns every registered model, optionally filtered by modality.
func (r *Registry) List(modality domain.Modality) ([]domain.Model, error) {
	return r.db.ListModels(modality)
}

// SetStatus updates a model's status field (e.g. on download completion,
// eviction, or disablement) and persists it.
func (r *Registry) SetStatus(modelID string, status domain.ModelStatus) error {
	m, err := r.db.GetModel(modelID)
	if err != nil {
		return err
	}
	m.Status = status
	return r.db.UpsertModel(m)
}

// SetLocalPath records where a model's bytes live on disk once a download
// completes, flipping status to available in the same update.
func (r *Registry) SetLocalPath(modelID, path string, sizeBytes int64) error {
	m, err := r.db.GetModel(modelID)
	if err != nil {
		return err
	}
	m.LocalPath = path
	m.SizeBytes = sizeBytes
	m.Status = domain.ModelAvailable
	return r.db.UpsertModel(m)
}

// Touch records that a model was just used.
func (r *Registry) Touch(modelID string) error {
	return r.db.TouchModel(modelID, time.Now().Unix())
}

// SetDefault records the per-modality default pointer. Idempotent: calling
// it again for the same modality replaces the prior pointer.
func (r *Registry) SetDefault(modality domain.Modality, modelID string) error {
	if _, err := r.db.GetModel(modelID); err != nil {
		return err
	}
	return r.db.SetDefaultModel(modality, modelID)
}

// Default returns the current default model id for a modality, if any.
func (r *Registry) Default(modality domain.Modality) (string, bool, error) {
	return r.db.DefaultModel(modality)
}

// Resolve follows a model's fallback_model_id if its own status is not
// available. Used by the selector on a registry-hit that isn't ready.
func (r *Registry) Resolve(modelID string) (domain.Model, error) {
	m, err := r.db.GetModel(modelID)
	if err != nil {
		return domain.Model{}, err
	}
	if m.Status == domain.ModelAvailable {
		return m, nil
	}
	if m.FallbackModelID == "" {
		return domain.Model{}, domain.ErrModelNotFound
	}
	return r.Resolve(m.FallbackModelID)
}

// Delete removes a model descriptor entirely.
func (r *Registry) Delete(modelID string) error {
	return r.db.DeleteModel(modelID)
}
