package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// UpsertModel inserts or replaces a model descriptor.
func (db *DB) UpsertModel(m domain.Model) error {
	capsJSON, err := json.Marshal(m.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	var sourceJSON []byte
	if m.Source != nil {
		sourceJSON, err = json.Marshal(m.Source)
		if err != nil {
			return fmt.Errorf("marshal source: %w", err)
		}
	}
	_, err = db.conn.Exec(`
		INSERT INTO models (model_id, name, version, modality, provider, status, local_path,
			size_bytes, capabilities_json, source_json, fallback_model_id, created_at, last_used_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(model_id) DO UPDATE SET
			name=excluded.name, version=excluded.version, modality=excluded.modality,
			provider=excluded.provider, status=excluded.status, local_path=excluded.local_path,
			size_bytes=excluded.size_bytes, capabilities_json=excluded.capabilities_json,
			source_json=excluded.source_json, fallback_model_id=excluded.fallback_model_id,
			last_used_at=excluded.last_used_at`,
		m.ModelID, m.Name, m.Version, string(m.Modality), m.Provider, string(m.Status), m.LocalPath,
		m.SizeBytes, string(capsJSON), string(sourceJSON), m.FallbackModelID,
		unixOrZero(m.CreatedAt), unixOrZero(m.LastUsedAt))
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

// GetModel fetches one model by id. Returns domain.ErrModelNotFound if absent.
func (db *DB) GetModel(modelID string) (domain.Model, error) {
	row := db.conn.QueryRow(`SELECT model_id, name, version, modality, provider, status, local_path,
		size_bytes, capabilities_json, source_json, fallback_model_id, created_at, last_used_at
		FROM models WHERE model_id = ?`, modelID)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return domain.Model{}, domain.ErrModelNotFound
	}
	return m, err
}

// ListModels returns all registered models, optionally filtered by modality.
func (db *DB) ListModels(modality domain.Modality) ([]domain.Model, error) {
	var rows *sql.Rows
	var err error
	if modality != "" {
		rows, err = db.conn.Query(`SELECT model_id, name, version, modality, provider, status, local_path,
			size_bytes, capabilities_json, source_json, fallback_model_id, created_at, last_used_at
			FROM models WHERE modality = ? ORDER BY created_at ASC`, string(modality))
	} else {
		rows, err = db.conn.Query(`SELECT model_id, name, version, modality, provider, status, local_path,
			size_bytes, capabilities_json, source_json, fallback_model_id, created_at, last_used_at
			FROM models ORDER BY created_at ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteModel removes a model descriptor.
func (db *DB) DeleteModel(modelID string) error {
	_, err := db.conn.Exec(`DELETE FROM models WHERE model_id = ?`, modelID)
	return err
}

// TouchModel updates last_used_at to now.
func (db *DB) TouchModel(modelID string, unixNow int64) error {
	_, err := db.conn.Exec(`UPDATE models SET last_used_at = ? WHERE model_id = ?`, unixNow, modelID)
	return err
}

// FindByNameModality is used at seed time to enforce the (name, modality)
// de-duplication invariant.
func (db *DB) FindByNameModality(name string, modality domain.Modality) (domain.Model, bool, error) {
	row := db.conn.QueryRow(`SELECT model_id, name, version, modality, provider, status, local_path,
		size_bytes, capabilities_json, source_json, fallback_model_id, created_at, last_used_at
		FROM models WHERE name = ? AND modality = ?`, name, string(modality))
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return domain.Model{}, false, nil
	}
	if err != nil {
		return domain.Model{}, false, err
	}
	return m, true, nil
}

// SetDefaultModel records the per-modality default pointer, idempotently
// replacing any prior pointer for that modality.
func (db *DB) SetDefaultModel(modality domain.Modality, modelID string) error {
	_, err := db.conn.Exec(`INSERT INTO default_models (modality, model_id) VALUES (?, ?)
		ON CONFLICT(modality) DO UPDATE SET model_id = excluded.model_id`, string(modality), modelID)
	return err
}

// DefaultModel returns the current default for a modality, if any.
func (db *DB) DefaultModel(modality domain.Modality) (string, bool, error) {
	var modelID string
	err := db.conn.QueryRow(`SELECT model_id FROM default_models WHERE modality = ?`, string(modality)).Scan(&modelID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return modelID, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(s scanner) (domain.Model, error) {
	var m domain.Model
	var modality, status string
	var capsJSON, sourceJSON sql.NullString
	var localPath, version sql.NullString
	var sizeBytes sql.NullInt64
	var createdAt, lastUsedAt sql.NullInt64
	var fallback sql.NullString

	err := s.Scan(&m.ModelID, &m.Name, &version, &modality, &m.Provider, &status, &localPath,
		&sizeBytes, &capsJSON, &sourceJSON, &fallback, &createdAt, &lastUsedAt)
	if err != nil {
		return domain.Model{}, err
	}

	m.Version = version.String
	m.Modality = domain.Modality(modality)
	m.Status = domain.ModelStatus(status)
	m.LocalPath = localPath.String
	m.SizeBytes = sizeBytes.Int64
	m.FallbackModelID = fallback.String
	m.CreatedAt = timeFromUnix(createdAt)
	m.LastUsedAt = timeFromUnix(lastUsedAt)

	if capsJSON.Valid && capsJSON.String != "" {
		_ = json.Unmarshal([]byte(capsJSON.String), &m.Capabilities)
	}
	if sourceJSON.Valid && sourceJSON.String != "" {
		var src domain.ModelSource
		if err := json.Unmarshal([]byte(sourceJSON.String), &src); err == nil {
			m.Source = &src
		}
	}
	return m, nil
}
