package jobs

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/infra/storage"
)

func newTestManager(t *testing.T, fetch Fetcher) (*Manager, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlstore.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg := registry.New(db)
	st := storage.New(dir, 1<<40, reg)
	return New(dir, reg, st, fetch, db.UpsertJob), reg
}

func fakeFetcherOK(size int64) Fetcher {
	return func(ctx context.Context, src domain.ModelSource, dst string, progress func(pct float64)) (int64, error) {
		progress(50)
		progress(100)
		return size, nil
	}
}

func TestStartMetadataOnlySkipsDownload(t *testing.T) {
	mgr, reg := newTestManager(t, fakeFetcherOK(1024))
	job, err := mgr.Start(context.Background(), domain.DownloadRequest{
		ModelID: "m1", Name: "m1", Modality: domain.ModalityText,
		Source: domain.ModelSource{Type: domain.SourceURL, URI: "https://example.com/m1.bin"},
		InstallLocal: false,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	m, err := reg.Get("m1")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if m.Status != domain.ModelAvailable {
		t.Errorf("model status = %s, want available", m.Status)
	}
}

func TestStartDownloadsAndRecordsLocalPath(t *testing.T) {
	mgr, reg := newTestManager(t, fakeFetcherOK(2048))
	job, err := mgr.Start(context.Background(), domain.DownloadRequest{
		ModelID: "m2", Name: "m2", Modality: domain.ModalityText,
		Source: domain.ModelSource{Type: domain.SourceURL, URI: "https://example.com/m2.bin"},
		InstallLocal: true,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Errorf("status = %s, want queued immediately after start", job.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tracked, _ := mgr.Get(job.JobID)
		if tracked.Status == domain.JobCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m, err := reg.Get("m2")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if m.Status != domain.ModelAvailable {
		t.Fatalf("model status = %s, want available", m.Status)
	}
	if m.SizeBytes != 2048 {
		t.Errorf("size_bytes = %d, want 2048", m.SizeBytes)
	}
}

func TestStartRejectsInvalidSource(t *testing.T) {
	mgr, _ := newTestManager(t, fakeFetcherOK(0))
	_, err := mgr.Start(context.Background(), domain.DownloadRequest{
		ModelID: "m3", Name: "m3", Modality: domain.ModalityText,
		Source: domain.ModelSource{Type: "ftp", URI: "ftp://x"},
	})
	if err == nil {
		t.Fatal("expected error for unknown source type")
	}
}

func TestCancelUnknownJobFails(t *testing.T) {
	mgr, _ := newTestManager(t, fakeFetcherOK(0))
	if err := mgr.Cancel("does-not-exist"); err != domain.ErrJobNotFound {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestHTTPFetcherDownloadsAtomically(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "model.bin", time.Now(), bytes.NewReader(payload))
	}))
	t.Cleanup(ts.Close)

	dst := filepath.Join(t.TempDir(), "model.bin")
	n, err := HTTPFetcher(context.Background(), domain.ModelSource{Type: domain.SourceURL, URI: ts.URL + "/model.bin"}, dst, nil)
	if err != nil {
		t.Fatalf("HTTPFetcher: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("downloaded %d bytes, want %d", n, len(payload))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("destination content differs from payload")
	}
	if _, err := os.Stat(dst + ".download"); !os.IsNotExist(err) {
		t.Error("temp file left behind after successful download")
	}
}

func TestHTTPFetcherResumesPartialTempFile(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 512)
	var sawRange string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRange = r.Header.Get("Range")
		http.ServeContent(w, r, "model.bin", time.Now(), bytes.NewReader(payload))
	}))
	t.Cleanup(ts.Close)

	dst := filepath.Join(t.TempDir(), "model.bin")
	half := len(payload) / 2
	if err := os.WriteFile(dst+".download", payload[:half], 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := HTTPFetcher(context.Background(), domain.ModelSource{Type: domain.SourceURL, URI: ts.URL + "/model.bin"}, dst, nil)
	if err != nil {
		t.Fatalf("HTTPFetcher: %v", err)
	}
	if sawRange == "" {
		t.Error("expected a Range request for the partial temp file")
	}
	if n != int64(len(payload)) {
		t.Errorf("total = %d bytes, want %d", n, len(payload))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("resumed content differs from payload")
	}
}
