package domain

import "time"

// CreditsStatus is the last-known billing state of a (user, provider) pair.
type CreditsStatus string

const (
	CreditsAvailable   CreditsStatus = "available"
	CreditsExhausted   CreditsStatus = "exhausted"
	CreditsRateLimited CreditsStatus = "rate_limited"
	CreditsUnknown     CreditsStatus = "unknown"
)

// Default TTLs per credits status, per the invariant that exhausted/
// rate_limited entries must survive short-lived re-discovery attempts.
const (
	TTLExhausted   = time.Hour
	TTLRateLimited = time.Minute
	TTLDefault     = 5 * time.Minute
)

// ProviderModel is one model a provider exposes, as discovered.
type ProviderModel struct {
	ID       string   `json:"id"`
	Modality Modality `json:"modality"`
}

// ProviderAvailability is a TTL-cached discovery record keyed by
// (user_id, provider).
type ProviderAvailability struct {
	UserID        string          `json:"user_id"`
	Provider      string          `json:"provider"`
	Models        []ProviderModel `json:"models"`
	CreditsStatus CreditsStatus   `json:"credits_status"`
	Remaining     *float64        `json:"remaining,omitempty"`
	CachedAt      time.Time       `json:"cached_at"`
	TTLSeconds    int             `json:"ttl_seconds"`
}

// Expired reports whether the cached entry should be refreshed at t.
func (p ProviderAvailability) Expired(t time.Time) bool {
	return t.After(p.CachedAt.Add(time.Duration(p.TTLSeconds) * time.Second))
}

// ProviderCredential is an opaque, per-user credential for one provider.
// Stored encrypted at rest; Payload is the plaintext JSON document
// (api_key / endpoint / oauth_token / service_account_json) once decrypted.
type ProviderCredential struct {
	UserID    string         `json:"user_id"`
	Provider  string         `json:"provider"`
	Payload   map[string]any `json:"payload"`
	UpdatedAt time.Time      `json:"updated_at"`
}
