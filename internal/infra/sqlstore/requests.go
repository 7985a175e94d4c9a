package sqlstore

import (
	"database/sql"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// RequestRow is the persisted audit record of one generation request.
// Only terminal transitions are written; live queue state stays in
// memory with the queue manager.
type RequestRow struct {
	RequestID   string
	ModelID     string
	Modality    domain.Modality
	Status      domain.RequestStatus
	CreatedAt   time.Time
	CompletedAt time.Time
	Err         string
}

// UpsertRequest records a request's terminal state.
func (db *DB) UpsertRequest(r RequestRow) error {
	_, err := db.conn.Exec(`INSERT INTO requests
		(request_id, model_id, modality, status, created_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status=excluded.status, completed_at=excluded.completed_at, error=excluded.error`,
		r.RequestID, r.ModelID, string(r.Modality), string(r.Status),
		unixOrZero(r.CreatedAt), unixOrZero(r.CompletedAt), r.Err)
	return err
}

// GetRequest loads a persisted request record.
func (db *DB) GetRequest(requestID string) (RequestRow, error) {
	row := db.conn.QueryRow(`SELECT request_id, model_id, modality, status, created_at, completed_at, error
		FROM requests WHERE request_id = ?`, requestID)
	var r RequestRow
	var created, completed sql.NullInt64
	var errMsg *string
	if err := row.Scan(&r.RequestID, &r.ModelID, &r.Modality, &r.Status, &created, &completed, &errMsg); err != nil {
		return RequestRow{}, domain.ErrRequestNotFound
	}
	r.CreatedAt = timeFromUnix(created)
	r.CompletedAt = timeFromUnix(completed)
	if errMsg != nil {
		r.Err = *errMsg
	}
	return r, nil
}
