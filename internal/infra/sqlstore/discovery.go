package sqlstore

import (
	"database/sql"
	"encoding/json"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// UpsertDiscovery stores a provider-availability cache entry.
func (db *DB) UpsertDiscovery(p domain.ProviderAvailability) error {
	modelsJSON, err := json.Marshal(p.Models)
	if err != nil {
		return err
	}
	var remaining sql.NullFloat64
	if p.Remaining != nil {
		remaining = sql.NullFloat64{Float64: *p.Remaining, Valid: true}
	}
	_, err = db.conn.Exec(`INSERT INTO provider_discovery (user_id, provider, models_json, credits_status, remaining, cached_at, ttl_seconds)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(user_id, provider) DO UPDATE SET models_json=excluded.models_json,
			credits_status=excluded.credits_status, remaining=excluded.remaining,
			cached_at=excluded.cached_at, ttl_seconds=excluded.ttl_seconds`,
		p.UserID, p.Provider, string(modelsJSON), string(p.CreditsStatus), remaining, unixOrZero(p.CachedAt), p.TTLSeconds)
	return err
}

// GetDiscovery fetches a cached entry, if present.
func (db *DB) GetDiscovery(userID, provider string) (domain.ProviderAvailability, bool, error) {
	row := db.conn.QueryRow(`SELECT user_id, provider, models_json, credits_status, remaining, cached_at, ttl_seconds
		FROM provider_discovery WHERE user_id = ? AND provider = ?`, userID, provider)

	var p domain.ProviderAvailability
	var modelsJSON sql.NullString
	var status string
	var remaining sql.NullFloat64
	var cachedAt sql.NullInt64

	err := row.Scan(&p.UserID, &p.Provider, &modelsJSON, &status, &remaining, &cachedAt, &p.TTLSeconds)
	if err == sql.ErrNoRows {
		return domain.ProviderAvailability{}, false, nil
	}
	if err != nil {
		return domain.ProviderAvailability{}, false, err
	}
	p.CreditsStatus = domain.CreditsStatus(status)
	p.CachedAt = timeFromUnix(cachedAt)
	if remaining.Valid {
		p.Remaining = &remaining.Float64
	}
	if modelsJSON.Valid && modelsJSON.String != "" {
		_ = json.Unmarshal([]byte(modelsJSON.String), &p.Models)
	}
	return p, true, nil
}
