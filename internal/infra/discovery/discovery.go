// Package discovery maintains the per-(user, provider) availability cache:
// a TTL-differentiated view of which models a commercial provider will
// currently serve, backed by a per-provider circuit breaker so a provider
// in persistent error stops being probed on every request.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/metrics"
)

// Prober queries a provider for its current availability. Implementations
// live alongside the commercial adapters, one per provider API shape.
type Prober func(ctx context.Context, credential *domain.ProviderCredential) (domain.ProviderAvailability, error)

// Cache answers availability queries from a persisted TTL cache, only
// calling out to the network when the cached entry is missing or expired.
type Cache struct {
	db       *sqlstore.DB
	probers  map[string]Prober
	breakers map[string]*CircuitBreaker
	mu       sync.Mutex
	now      func() time.Time
}

// New builds a discovery cache. Probers is keyed by provider name.
func New(db *sqlstore.DB, probers map[string]Prober) *Cache {
	return &Cache{
		db:       db,
		probers:  probers,
		breakers: make(map[string]*CircuitBreaker),
		now:      time.Now,
	}
}

func (c *Cache) breaker(provider string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(provider, DefaultCircuitBreakerConfig())
		c.breakers[provider] = cb
	}
	return cb
}

// Availability returns the cached or freshly probed availability for a
// (user, provider) pair. forceRefresh skips the cache fast path and
// re-probes, except for exhausted/rate_limited entries still within
// their TTL — those are preserved across refreshes so a refresh storm
// cannot wash out a back-off. A tripped circuit breaker returns the last
// known cached value if present, or ErrCircuitOpen if there is none to
// fall back on.
func (c *Cache) Availability(ctx context.Context, userID, provider string, credential *domain.ProviderCredential, forceRefresh bool) (domain.ProviderAvailability, error) {
	cached, ok, err := c.db.GetDiscovery(userID, provider)
	if err != nil {
		return domain.ProviderAvailability{}, err
	}
	if ok && !cached.Expired(c.now()) {
		backedOff := cached.CreditsStatus == domain.CreditsExhausted || cached.CreditsStatus == domain.CreditsRateLimited
		if !forceRefresh || backedOff {
			return cached, nil
		}
	}

	prober, known := c.probers[provider]
	if !known {
		return domain.ProviderAvailability{}, fmt.Errorf("discovery: %w: %s", domain.ErrUnsupportedProvider, provider)
	}

	cb := c.breaker(provider)
	if err := cb.Allow(); err != nil {
		if ok {
			return cached, nil
		}
		return domain.ProviderAvailability{}, err
	}

	fresh, probeErr := prober(ctx, credential)
	if probeErr != nil {
		cb.RecordFailure()
		metrics.ProviderDiscoveryRefreshes.WithLabelValues(provider, "error").Inc()
		metrics.ProviderCircuitState.WithLabelValues(provider).Set(float64(cb.State()))
		if ok {
			return cached, nil
		}
		return domain.ProviderAvailability{}, probeErr
	}
	cb.RecordSuccess()
	metrics.ProviderDiscoveryRefreshes.WithLabelValues(provider, "ok").Inc()
	metrics.ProviderCircuitState.WithLabelValues(provider).Set(float64(cb.State()))

	fresh.UserID = userID
	fresh.Provider = provider
	fresh.CachedAt = c.now()
	fresh.TTLSeconds = ttlFor(fresh.CreditsStatus)

	if err := c.db.UpsertDiscovery(fresh); err != nil {
		return domain.ProviderAvailability{}, err
	}
	return fresh, nil
}

// MarkCredits overwrites the credits status of a cached (user, provider)
// entry, re-stamping its TTL for the new status. Called from the
// orchestrator boundary when a commercial provider answers 429 or reports
// quota exhaustion; the long/short TTL per status is what makes the
// exhausted/rate_limited state survive re-discovery.
func (c *Cache) MarkCredits(userID, provider string, status domain.CreditsStatus) error {
	entry, ok, err := c.db.GetDiscovery(userID, provider)
	if err != nil {
		return err
	}
	if !ok {
		entry = domain.ProviderAvailability{UserID: userID, Provider: provider}
	}
	entry.CreditsStatus = status
	entry.CachedAt = c.now()
	entry.TTLSeconds = ttlFor(status)
	return c.db.UpsertDiscovery(entry)
}

// Invalidate overwrites a cached entry with an already-expired one whose
// credits status is unknown, forcing the next Availability call to
// reprobe regardless of TTL. Used after a credential update.
func (c *Cache) Invalidate(userID, provider string) error {
	fresh := domain.ProviderAvailability{
		UserID: userID, Provider: provider,
		CreditsStatus: domain.CreditsUnknown,
		CachedAt:      c.now().Add(-24 * time.Hour),
		TTLSeconds:    0,
	}
	return c.db.UpsertDiscovery(fresh)
}

func ttlFor(status domain.CreditsStatus) int {
	switch status {
	case domain.CreditsExhausted:
		return int(domain.TTLExhausted.Seconds())
	case domain.CreditsRateLimited:
		return int(domain.TTLRateLimited.Seconds())
	default:
		return int(domain.TTLDefault.Seconds())
	}
}
