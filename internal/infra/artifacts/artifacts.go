// Package artifacts is the blob store for large binary generation outputs
// (images, meshes). Artifact ids are random UUIDs, not derived from the
// content, so storing the same bytes twice yields two separate artifacts.
// Metadata lives in sqlstore; bytes
// live flat on disk at base/<artifact_id>, mirroring the registry's own
// blob-path convention.
package artifacts

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/metrics"
)

// Store manages artifact bytes and their expiry metadata.
type Store struct {
	db         *sqlstore.DB
	baseDir    string
	expirySecs int
}

// New creates an artifact store rooted at baseDir.
func New(db *sqlstore.DB, baseDir string, expirySecs int) *Store {
	return &Store{db: db, baseDir: baseDir, expirySecs: expirySecs}
}

// Put writes bytes to disk and records metadata with an expiry computed
// from the configured TTL.
func (s *Store) Put(data []byte, typ domain.ArtifactType) (domain.Artifact, error) {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create artifacts dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(s.baseDir, id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.Artifact{}, fmt.Errorf("write artifact: %w", err)
	}

	now := time.Now()
	a := domain.Artifact{
		ArtifactID:  id,
		Type:        typ,
		BytesOnDisk: int64(len(data)),
		MIMEType:    http.DetectContentType(data),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(s.expirySecs) * time.Second),
	}
	if err := s.db.InsertArtifact(a); err != nil {
		os.Remove(path)
		return domain.Artifact{}, fmt.Errorf("persist artifact metadata: %w", err)
	}
	metrics.ArtifactsStored.WithLabelValues(string(typ)).Inc()
	return a, nil
}

// Get returns artifact metadata, failing domain.ErrArtifactExpired if the
// artifact is past its expiry (checked at call time, exactly at
// expires_at counting as expired).
func (s *Store) Get(id string) (domain.Artifact, error) {
	a, err := s.db.GetArtifact(id)
	if err != nil {
		return domain.Artifact{}, err
	}
	if a.Expired(time.Now()) {
		return domain.Artifact{}, domain.ErrArtifactExpired
	}
	return a, nil
}

// Bytes returns the raw payload for an unexpired artifact.
func (s *Store) Bytes(id string) ([]byte, domain.Artifact, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, domain.Artifact{}, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, id))
	if err != nil {
		return nil, domain.Artifact{}, fmt.Errorf("read artifact bytes: %w", err)
	}
	return data, a, nil
}

// Sweep deletes expired artifacts' bytes and metadata. Intended to be
// called periodically by the daemon, not on the request path.
func (s *Store) Sweep() (int, error) {
	ids, err := s.db.ListExpiredArtifactIDs(time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("list expired artifacts: %w", err)
	}
	for _, id := range ids {
		os.Remove(filepath.Join(s.baseDir, id))
		if err := s.db.DeleteArtifact(id); err != nil {
			return 0, fmt.Errorf("delete artifact %s: %w", id, err)
		}
	}
	return len(ids), nil
}
