package domain

import (
	"sync/atomic"
	"time"
)

// JobStatus is the lifecycle of an asynchronous model download.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// DownloadRequest describes a model to acquire.
type DownloadRequest struct {
	ModelID      string      `json:"model_id"`
	Name         string      `json:"name"`
	Modality     Modality    `json:"modality"`
	Source       ModelSource `json:"source"`
	InstallLocal bool        `json:"install_local"`
}

// DownloadJob tracks one in-flight or completed download. ProgressPct is
// monotonic within a single job's lifetime — it never decreases.
type DownloadJob struct {
	JobID       string    `json:"job_id"`
	ModelID     string    `json:"model_id"`
	Status      JobStatus `json:"status"`
	ProgressPct float64   `json:"progress_pct"`
	Err         string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	cancelled   int32
}

// Cancelled reports whether cancel() was requested for this job. It is
// read cooperatively by the running download goroutine between writes.
func (j *DownloadJob) Cancelled() bool { return atomic.LoadInt32(&j.cancelled) == 1 }

// RequestCancel flips the cooperative cancellation flag.
func (j *DownloadJob) RequestCancel() { atomic.StoreInt32(&j.cancelled, 1) }
