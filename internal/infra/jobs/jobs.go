// Package jobs runs asynchronous model downloads: one goroutine per job,
// streamed progress, cooperative cancellation, and registry/storage
// coordination on completion. Sources may be huggingface repos, plain
// URLs, or local files.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/storage"
	"github.com/tutu-network/inferencegate/internal/metrics"
)

// Fetcher retrieves a model's bytes given a source, streaming progress as
// it goes and writing the result to dst. Swappable in tests.
type Fetcher func(ctx context.Context, src domain.ModelSource, dst string, progress func(pct float64)) (sizeBytes int64, err error)

// Manager tracks in-flight and completed download jobs.
type Manager struct {
	modelRoot string
	registry  *registry.Registry
	storage   *storage.Manager
	fetch     Fetcher
	persist   func(domain.DownloadJob) error

	mu   sync.Mutex
	jobs map[string]*domain.DownloadJob
}

// New creates a job manager. persist is called on every status/progress
// transition to keep the sqlstore row current.
func New(modelRoot string, reg *registry.Registry, st *storage.Manager, fetch Fetcher, persist func(domain.DownloadJob) error) *Manager {
	if fetch == nil {
		fetch = HTTPFetcher
	}
	return &Manager{
		modelRoot: modelRoot, registry: reg, storage: st, fetch: fetch, persist: persist,
		jobs: make(map[string]*domain.DownloadJob),
	}
}

// Start validates a download request, registers a queued model descriptor
// and launches the download goroutine. Returns the job immediately; the
// caller polls Get or lists via sqlstore for progress.
func (m *Manager) Start(ctx context.Context, req domain.DownloadRequest) (domain.DownloadJob, error) {
	if err := validateSource(req.Source); err != nil {
		return domain.DownloadJob{}, err
	}

	model := domain.Model{
		ModelID: req.ModelID, Name: req.Name, Modality: req.Modality,
		Provider: "local", Status: domain.ModelDownloading, Source: &req.Source,
	}
	if err := m.registry.Register(model); err != nil {
		return domain.DownloadJob{}, fmt.Errorf("register model: %w", err)
	}

	job := &domain.DownloadJob{
		JobID: uuid.NewString(), ModelID: req.ModelID, Status: domain.JobQueued, CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.jobs[job.JobID] = job
	m.mu.Unlock()
	m.save(*job)

	if !req.InstallLocal {
		job.Status = domain.JobCompleted
		job.ProgressPct = 100
		m.save(*job)
		if err := m.registry.SetStatus(req.ModelID, domain.ModelAvailable); err != nil {
			log.Printf("[jobs] mark metadata-only model available: %v", err)
		}
		return *job, nil
	}

	// Snapshot before the download goroutine starts mutating the job.
	snapshot := *job
	go m.run(ctx, job, req)
	return snapshot, nil
}

func (m *Manager) run(ctx context.Context, job *domain.DownloadJob, req domain.DownloadRequest) {
	metrics.DownloadJobsActive.Inc()
	defer metrics.DownloadJobsActive.Dec()

	job.Status = domain.JobRunning
	m.save(*job)

	dst := filepath.Join(m.modelRoot, req.ModelID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		m.fail(job, req, fmt.Errorf("create model dir: %w", err))
		return
	}

	if ok, err := m.storage.CanDownload(estimatedSize(req.Source)); err == nil && !ok {
		if err := m.storage.EnforceLimit(map[string]bool{req.ModelID: true}); err != nil {
			log.Printf("[jobs] enforce disk budget before %s: %v", req.ModelID, err)
		}
	}

	size, err := m.fetch(ctx, req.Source, dst, func(pct float64) {
		if job.Cancelled() {
			return
		}
		if pct > job.ProgressPct {
			job.ProgressPct = pct
			m.save(*job)
		}
	})
	if job.Cancelled() {
		os.RemoveAll(dst)
		os.Remove(dst + ".download") // abandoned, nothing will resume it
		job.Status = domain.JobCancelled
		m.save(*job)
		if err := m.registry.SetStatus(req.ModelID, domain.ModelDisabled); err != nil {
			log.Printf("[jobs] mark cancelled model disabled: %v", err)
		}
		return
	}
	if err != nil {
		m.fail(job, req, err)
		return
	}

	if err := m.registry.SetLocalPath(req.ModelID, dst, size); err != nil {
		m.fail(job, req, fmt.Errorf("record local path: %w", err))
		return
	}
	job.Status = domain.JobCompleted
	job.ProgressPct = 100
	m.save(*job)
}

func (m *Manager) fail(job *domain.DownloadJob, req domain.DownloadRequest, err error) {
	job.Status = domain.JobFailed
	job.Err = err.Error()
	m.save(*job)
	if sErr := m.registry.SetStatus(req.ModelID, domain.ModelFailed); sErr != nil {
		log.Printf("[jobs] mark failed model status: %v", sErr)
	}
	log.Printf("[jobs] download %s failed: %v", req.ModelID, err)
}

func (m *Manager) save(j domain.DownloadJob) {
	if m.persist == nil {
		return
	}
	if err := m.persist(j); err != nil {
		log.Printf("[jobs] persist job %s: %v", j.JobID, err)
	}
}

// Get returns a tracked job by id.
func (m *Manager) Get(jobID string) (*domain.DownloadJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	return j, ok
}

// List returns a snapshot of every tracked job, newest first.
func (m *Manager) List() ([]domain.DownloadJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DownloadJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// Cancel requests cooperative cancellation of a running job.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return domain.ErrJobNotFound
	}
	j.RequestCancel()
	return nil
}

func validateSource(src domain.ModelSource) error {
	switch src.Type {
	case domain.SourceHuggingFace, domain.SourceURL, domain.SourceLocal:
		if src.URI == "" {
			return fmt.Errorf("%w: empty source uri", domain.ErrInvalidSource)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown source type %q", domain.ErrInvalidSource, src.Type)
	}
}

// estimatedSize is a conservative placeholder used only to decide whether
// to pre-emptively sweep the disk budget before a transfer whose real
// size isn't known until the response headers arrive.
func estimatedSize(domain.ModelSource) int64 { return 0 }

// HTTPFetcher is the default Fetcher: streamed HTTP GET into a .download
// temp file, renamed into place only once the transfer completes, so the
// destination never holds partial bytes. A leftover temp file from an
// interrupted transfer is resumed with a Range request. The finished
// file is SHA256-hashed before the rename. ctx is checked between reads
// so cancellation takes effect mid-transfer.
func HTTPFetcher(ctx context.Context, src domain.ModelSource, dst string, progress func(pct float64)) (int64, error) {
	if src.Type == domain.SourceLocal {
		return copyLocal(src.URI, dst)
	}

	tmp := dst + ".download"
	var startByte int64
	if stat, err := os.Stat(tmp); err == nil {
		startByte = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolveURI(src), nil)
	if err != nil {
		return 0, err
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("download %s: HTTP %d", src.URI, resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if startByte > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		// Server ignored the Range request; start over.
		flags |= os.O_TRUNC
		startByte = 0
	}
	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return 0, err
	}

	total := resp.ContentLength
	if total > 0 {
		total += startByte
	}
	buf := make([]byte, 256*1024)
	downloaded := startByte
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return 0, werr
			}
			downloaded += int64(n)
			if progress != nil && total > 0 {
				progress(float64(downloaded) / float64(total) * 100)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// The partial temp file stays behind; a retried job
			// resumes from its length.
			f.Close()
			return 0, fmt.Errorf("download interrupted: %w", readErr)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return 0, ctx.Err()
		default:
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	digest, err := hashFile(tmp)
	if err != nil {
		return 0, fmt.Errorf("hash download: %w", err)
	}
	log.Printf("[jobs] downloaded %s (%s, sha256:%s)", src.URI, domain.HumanSize(downloaded), digest)

	if err := os.Rename(tmp, dst); err != nil {
		return 0, fmt.Errorf("move download into place: %w", err)
	}
	return downloaded, nil
}

// hashFile computes the SHA256 of a file on disk.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// resolveURI maps a huggingface source to its resolved file download
// URL. "owner/repo" fetches the default safetensors file; a longer
// "owner/repo/path/to/file" names the file within the repo. url sources
// pass through unchanged.
func resolveURI(src domain.ModelSource) string {
	if src.Type != domain.SourceHuggingFace {
		return src.URI
	}
	parts := strings.SplitN(src.URI, "/", 3)
	if len(parts) == 3 {
		return "https://huggingface.co/" + parts[0] + "/" + parts[1] + "/resolve/main/" + parts[2]
	}
	return "https://huggingface.co/" + src.URI + "/resolve/main/model.safetensors"
}

func copyLocal(srcPath, dst string) (int64, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, nil
}
