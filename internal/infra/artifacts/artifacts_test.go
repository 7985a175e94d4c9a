package artifacts

import (
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
)

func newTestStore(t *testing.T, expirySecs int) *Store {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, t.TempDir(), expirySecs)
}

func TestPutThenBytesRoundTrips(t *testing.T) {
	s := newTestStore(t, 3600)
	payload := []byte("\x89PNG\r\n\x1a\nfakepngdata")

	a, err := s.Put(payload, domain.ArtifactImage)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, meta, err := s.Bytes(a.ArtifactID)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("content mismatch")
	}
	if meta.Type != domain.ArtifactImage {
		t.Fatalf("expected image type, got %s", meta.Type)
	}
}

func TestExpiredArtifactFails(t *testing.T) {
	s := newTestStore(t, 0)
	a, err := s.Put([]byte("x"), domain.ArtifactImage)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := s.Get(a.ArtifactID); err != domain.ErrArtifactExpired {
		t.Fatalf("expected ErrArtifactExpired, got %v", err)
	}
}

func TestGetMissingFails(t *testing.T) {
	s := newTestStore(t, 3600)
	if _, err := s.Get("nonexistent"); err != domain.ErrArtifactNotFound {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}
