package sqlstore

import (
	"database/sql"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// InsertArtifact records artifact metadata; the bytes themselves live on
// disk under the artifact store's own directory.
func (db *DB) InsertArtifact(a domain.Artifact) error {
	_, err := db.conn.Exec(`INSERT INTO artifacts (artifact_id, type, bytes_on_disk, mime_type, created_at, expires_at)
		VALUES (?,?,?,?,?,?)`,
		a.ArtifactID, string(a.Type), a.BytesOnDisk, a.MIMEType, unixOrZero(a.CreatedAt), unixOrZero(a.ExpiresAt))
	return err
}

// GetArtifact fetches artifact metadata by id.
func (db *DB) GetArtifact(artifactID string) (domain.Artifact, error) {
	var a domain.Artifact
	var typ string
	var mime sql.NullString
	var createdAt, expiresAt sql.NullInt64

	err := db.conn.QueryRow(`SELECT artifact_id, type, bytes_on_disk, mime_type, created_at, expires_at
		FROM artifacts WHERE artifact_id = ?`, artifactID).
		Scan(&a.ArtifactID, &typ, &a.BytesOnDisk, &mime, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return domain.Artifact{}, domain.ErrArtifactNotFound
	}
	if err != nil {
		return domain.Artifact{}, err
	}
	a.Type = domain.ArtifactType(typ)
	a.MIMEType = mime.String
	a.CreatedAt = timeFromUnix(createdAt)
	a.ExpiresAt = timeFromUnix(expiresAt)
	return a, nil
}

// DeleteArtifact removes artifact metadata.
func (db *DB) DeleteArtifact(artifactID string) error {
	_, err := db.conn.Exec(`DELETE FROM artifacts WHERE artifact_id = ?`, artifactID)
	return err
}

// ListExpiredArtifactIDs returns artifact ids whose expiry is at or before
// nowUnix, for periodic sweeping.
func (db *DB) ListExpiredArtifactIDs(nowUnix int64) ([]string, error) {
	rows, err := db.conn.Query(`SELECT artifact_id FROM artifacts WHERE expires_at <= ?`, nowUnix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
