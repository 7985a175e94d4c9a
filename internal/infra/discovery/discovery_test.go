package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
)

func openTestDB(t *testing.T) *sqlstore.DB {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAvailabilityCachesWithinTTL(t *testing.T) {
	db := openTestDB(t)
	probes := 0
	c := New(db, map[string]Prober{
		"openai": func(context.Context, *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			probes++
			return domain.ProviderAvailability{
				Models:        []domain.ProviderModel{{ID: "gpt-4o", Modality: domain.ModalityText}},
				CreditsStatus: domain.CreditsAvailable,
			}, nil
		},
	})

	for i := 0; i < 3; i++ {
		avail, err := c.Availability(context.Background(), "u1", "openai", nil, false)
		if err != nil {
			t.Fatalf("Availability: %v", err)
		}
		if len(avail.Models) != 1 {
			t.Fatalf("models = %v", avail.Models)
		}
	}
	if probes != 1 {
		t.Errorf("prober invoked %d times, want 1 (cached)", probes)
	}
}

func TestExhaustedEntrySurvivesRediscoveryWithinTTL(t *testing.T) {
	db := openTestDB(t)
	probes := 0
	c := New(db, map[string]Prober{
		"openai": func(context.Context, *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			probes++
			return domain.ProviderAvailability{CreditsStatus: domain.CreditsAvailable}, nil
		},
	})

	if err := c.MarkCredits("u1", "openai", domain.CreditsExhausted); err != nil {
		t.Fatalf("MarkCredits: %v", err)
	}

	avail, err := c.Availability(context.Background(), "u1", "openai", nil, false)
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if avail.CreditsStatus != domain.CreditsExhausted {
		t.Errorf("credits = %s, want exhausted preserved within TTL", avail.CreditsStatus)
	}
	if probes != 0 {
		t.Errorf("prober invoked %d times during exhausted TTL, want 0", probes)
	}
}

func TestMarkCreditsTTLPerStatus(t *testing.T) {
	db := openTestDB(t)
	c := New(db, nil)

	if err := c.MarkCredits("u1", "openai", domain.CreditsRateLimited); err != nil {
		t.Fatal(err)
	}
	entry, ok, err := db.GetDiscovery("u1", "openai")
	if err != nil || !ok {
		t.Fatalf("GetDiscovery: ok=%v err=%v", ok, err)
	}
	if entry.TTLSeconds != int(domain.TTLRateLimited.Seconds()) {
		t.Errorf("rate_limited TTL = %d, want %d", entry.TTLSeconds, int(domain.TTLRateLimited.Seconds()))
	}

	if err := c.MarkCredits("u1", "openai", domain.CreditsExhausted); err != nil {
		t.Fatal(err)
	}
	entry, _, _ = db.GetDiscovery("u1", "openai")
	if entry.TTLSeconds != int(domain.TTLExhausted.Seconds()) {
		t.Errorf("exhausted TTL = %d, want %d", entry.TTLSeconds, int(domain.TTLExhausted.Seconds()))
	}
}

func TestForceRefreshSkipsValidCacheEntry(t *testing.T) {
	db := openTestDB(t)
	probes := 0
	c := New(db, map[string]Prober{
		"openai": func(context.Context, *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			probes++
			return domain.ProviderAvailability{CreditsStatus: domain.CreditsAvailable}, nil
		},
	})

	if _, err := c.Availability(context.Background(), "u1", "openai", nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Availability(context.Background(), "u1", "openai", nil, true); err != nil {
		t.Fatal(err)
	}
	if probes != 2 {
		t.Errorf("prober invoked %d times, want 2 (force_refresh reprobes)", probes)
	}
}

func TestForceRefreshPreservesBackedOffEntry(t *testing.T) {
	db := openTestDB(t)
	probes := 0
	c := New(db, map[string]Prober{
		"openai": func(context.Context, *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			probes++
			return domain.ProviderAvailability{CreditsStatus: domain.CreditsAvailable}, nil
		},
	})

	if err := c.MarkCredits("u1", "openai", domain.CreditsRateLimited); err != nil {
		t.Fatal(err)
	}
	avail, err := c.Availability(context.Background(), "u1", "openai", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if avail.CreditsStatus != domain.CreditsRateLimited {
		t.Errorf("credits = %s, want rate_limited preserved against force_refresh", avail.CreditsStatus)
	}
	if probes != 0 {
		t.Errorf("prober invoked %d times during back-off, want 0", probes)
	}
}

func TestExpiredEntryIsReprobed(t *testing.T) {
	db := openTestDB(t)
	probes := 0
	c := New(db, map[string]Prober{
		"openai": func(context.Context, *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			probes++
			return domain.ProviderAvailability{CreditsStatus: domain.CreditsAvailable}, nil
		},
	})

	now := time.Now()
	c.now = func() time.Time { return now }
	if _, err := c.Availability(context.Background(), "u1", "openai", nil, false); err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return now.Add(domain.TTLDefault + time.Second) }
	if _, err := c.Availability(context.Background(), "u1", "openai", nil, false); err != nil {
		t.Fatal(err)
	}
	if probes != 2 {
		t.Errorf("prober invoked %d times, want 2 (expired then reprobed)", probes)
	}
}
