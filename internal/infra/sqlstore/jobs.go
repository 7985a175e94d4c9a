package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// UpsertJob inserts or replaces a download job row.
func (db *DB) UpsertJob(j domain.DownloadJob) error {
	_, err := db.conn.Exec(`INSERT INTO download_jobs (job_id, model_id, status, progress_pct, error, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(job_id) DO UPDATE SET status=excluded.status, progress_pct=excluded.progress_pct,
			error=excluded.error`,
		j.JobID, j.ModelID, string(j.Status), j.ProgressPct, j.Err, unixOrZero(j.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by id.
func (db *DB) GetJob(jobID string) (domain.DownloadJob, error) {
	row := db.conn.QueryRow(`SELECT job_id, model_id, status, progress_pct, error, created_at
		FROM download_jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.DownloadJob{}, domain.ErrJobNotFound
	}
	return j, err
}

// ListJobs returns every job, most recent first.
func (db *DB) ListJobs() ([]domain.DownloadJob, error) {
	rows, err := db.conn.Query(`SELECT job_id, model_id, status, progress_pct, error, created_at
		FROM download_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DownloadJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteJob removes a job row.
func (db *DB) DeleteJob(jobID string) error {
	_, err := db.conn.Exec(`DELETE FROM download_jobs WHERE job_id = ?`, jobID)
	return err
}

func scanJob(s scanner) (domain.DownloadJob, error) {
	var j domain.DownloadJob
	var status string
	var errMsg sql.NullString
	var createdAt sql.NullInt64
	if err := s.Scan(&j.JobID, &j.ModelID, &status, &j.ProgressPct, &errMsg, &createdAt); err != nil {
		return domain.DownloadJob{}, err
	}
	j.Status = domain.JobStatus(status)
	j.Err = errMsg.String
	j.CreatedAt = timeFromUnix(createdAt)
	return j, nil
}
