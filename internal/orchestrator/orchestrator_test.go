package orchestrator

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/artifacts"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/lifecycle"
	"github.com/tutu-network/inferencegate/internal/infra/queue"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sessions"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/selector"
)

// tiny but valid PNG magic so MIME sniffing sees image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type fakeText struct{ reply string }

func (f fakeText) Generate(_ context.Context, _ domain.GenerateInput, _ domain.GenerateParameters) (*domain.GenerateOutput, error) {
	return &domain.GenerateOutput{Text: f.reply}, nil
}

func (f fakeText) StreamGenerate(_ context.Context, _ domain.GenerateInput, _ domain.GenerateParameters) (<-chan adapters.Chunk, error) {
	ch := make(chan adapters.Chunk, 8)
	for _, word := range strings.SplitAfter(f.reply, " ") {
		ch <- adapters.Chunk{Text: word}
	}
	ch <- adapters.Chunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

type fakeImage struct{}

func (fakeImage) GenerateImage(context.Context, domain.GenerateInput, domain.GenerateParameters) ([]byte, string, error) {
	return pngBytes, "image/png", nil
}

type harness struct {
	orch *Orchestrator
	sess *sessions.Store
	arts *artifacts.Store
	lc   *lifecycle.Manager
}

func newHarness(t *testing.T, inlineThresholdKB int) *harness {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db)
	if err := reg.Register(domain.Model{
		ModelID: "local-text", Name: "local-text", Modality: domain.ModalityText,
		Provider: "local", Status: domain.ModelAvailable,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(domain.Model{
		ModelID: "local-image", Name: "local-image", Modality: domain.ModalityImage,
		Provider: "local", Status: domain.ModelAvailable,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetDefault(domain.ModalityText, "local-text"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetDefault(domain.ModalityImage, "local-image"); err != nil {
		t.Fatal(err)
	}

	lc := lifecycle.New(2, time.Hour, func(_ context.Context, modelID string) (any, uint64, error) {
		adapter := &adapters.Adapter{Provider: "local", Text: fakeText{reply: "gravity pulls things down"}}
		if modelID == "local-image" {
			adapter = &adapters.Adapter{Provider: "local", Image: fakeImage{}}
		}
		return adapter, 1 << 20, nil
	}, func(string, any) {})

	q := queue.New(8, 1, nil)
	go q.Run()
	t.Cleanup(func() { q.Shutdown(time.Second) })

	arts := artifacts.New(db, t.TempDir(), 3600)
	sess := sessions.New(db)
	disc := discovery.New(db, nil)
	sel := selector.New(reg, disc, nil, nil)

	o := &Orchestrator{
		Selector: sel, Lifecycle: lc, Queue: q, Artifacts: arts,
		Sessions: sess, Registry: reg, Discovery: disc,
		InlineThresholdKB: inlineThresholdKB,
	}
	return &harness{orch: o, sess: sess, arts: arts, lc: lc}
}

func TestGenerateTextCompletes(t *testing.T) {
	h := newHarness(t, 64)
	resp, err := h.orch.Generate(context.Background(), "u1", "http://gw.local", GenerateRequest{
		Modality: domain.ModalityText,
		Input:    domain.GenerateInput{Prompt: "Explain gravity"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Status != domain.RequestCompleted {
		t.Fatalf("status = %s", resp.Status)
	}
	if resp.Text != "gravity pulls things down" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Selection.SelectedModel != "local-text" {
		t.Errorf("selected %s", resp.Selection.SelectedModel)
	}
}

func TestGenerateReleasesBusyHold(t *testing.T) {
	h := newHarness(t, 64)
	if _, err := h.orch.Generate(context.Background(), "u1", "", GenerateRequest{
		Modality: domain.ModalityText,
		Input:    domain.GenerateInput{Prompt: "hi"},
	}); err != nil {
		t.Fatal(err)
	}
	for _, e := range h.lc.LoadedModels() {
		if e.BusyCount != 0 {
			t.Errorf("model %s still busy after generate (count %d)", e.ModelID, e.BusyCount)
		}
	}
}

func TestGenerateValidatesParameters(t *testing.T) {
	h := newHarness(t, 64)
	temp := 2.5
	_, err := h.orch.Generate(context.Background(), "u1", "", GenerateRequest{
		Modality:   domain.ModalityText,
		Input:      domain.GenerateInput{Prompt: "x"},
		Parameters: domain.GenerateParameters{Temperature: &temp},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if e := apierr.Classify(err); e.Code != "validation_error" || e.Status != 422 {
		t.Errorf("classified as (%s, %d)", e.Code, e.Status)
	}

	zero := 0
	_, err = h.orch.Generate(context.Background(), "u1", "", GenerateRequest{
		Modality:   domain.ModalityText,
		Input:      domain.GenerateInput{Prompt: "x"},
		Parameters: domain.GenerateParameters{MaxTokens: &zero},
	})
	if err == nil {
		t.Fatal("expected max_tokens validation error")
	}
}

func TestArtifactPromotionAtZeroThreshold(t *testing.T) {
	h := newHarness(t, 0)
	resp, err := h.orch.Generate(context.Background(), "u1", "http://gw.local", GenerateRequest{
		Modality: domain.ModalityImage,
		Input:    domain.GenerateInput{Prompt: "a cat"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Inline) != 0 {
		t.Errorf("expected no inline bytes at threshold 0, got %d", len(resp.Inline))
	}
	if len(resp.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(resp.Artifacts))
	}
	a := resp.Artifacts[0]
	if !strings.HasPrefix(a.URL, "http://gw.local/v1/artifacts/") {
		t.Errorf("artifact URL not rewritten: %q", a.URL)
	}
	data, meta, err := h.arts.Bytes(a.ArtifactID)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	if meta.MIMEType != "image/png" {
		t.Errorf("sniffed MIME = %s", meta.MIMEType)
	}
	if len(data) != len(pngBytes) {
		t.Errorf("artifact bytes differ: %d vs %d", len(data), len(pngBytes))
	}
}

func TestSmallImageStaysInline(t *testing.T) {
	h := newHarness(t, 64)
	resp, err := h.orch.Generate(context.Background(), "u1", "http://gw.local", GenerateRequest{
		Modality: domain.ModalityImage,
		Input:    domain.GenerateInput{Prompt: "a cat"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Artifacts) != 0 {
		t.Errorf("expected no artifacts under threshold, got %d", len(resp.Artifacts))
	}
	if len(resp.Inline) != 1 || !strings.HasPrefix(resp.Inline[0], "data:image/png;base64,") {
		t.Errorf("inline = %v", resp.Inline)
	}
}

func TestSessionTurnAppendedAndAutoTitled(t *testing.T) {
	h := newHarness(t, 64)
	sess, err := h.sess.Create()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Generate(context.Background(), "u1", "", GenerateRequest{
		SessionID: sess.SessionID,
		Modality:  domain.ModalityText,
		Input:     domain.GenerateInput{Prompt: "Explain gravity"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := h.sess.Get(sess.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Explain gravity" {
		t.Errorf("title = %q", got.Title)
	}
	msgs, _ := h.sess.Messages(sess.SessionID)
	if len(msgs) != 1 {
		t.Fatalf("message count = %d", len(msgs))
	}
	if msgs[0].Output.Text != "gravity pulls things down" {
		t.Errorf("turn output = %q", msgs[0].Output.Text)
	}
}

func TestRegenerateReplacesLastTurn(t *testing.T) {
	h := newHarness(t, 64)
	sess, _ := h.sess.Create()
	if _, err := h.orch.Generate(context.Background(), "u1", "", GenerateRequest{
		SessionID: sess.SessionID,
		Modality:  domain.ModalityText,
		Input:     domain.GenerateInput{Prompt: "Explain gravity"},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := h.orch.Regenerate(context.Background(), "u1", "", sess.SessionID); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	msgs, _ := h.sess.Messages(sess.SessionID)
	if len(msgs) != 1 {
		t.Fatalf("message count after regenerate = %d, want 1", len(msgs))
	}
	got, _ := h.sess.Get(sess.SessionID)
	if got.Title != "Explain gravity" {
		t.Errorf("title changed to %q", got.Title)
	}
}

func TestClosedSessionRejectsGenerate(t *testing.T) {
	h := newHarness(t, 64)
	sess, _ := h.sess.Create()
	if err := h.sess.Close(sess.SessionID); err != nil {
		t.Fatal(err)
	}
	_, err := h.orch.Generate(context.Background(), "u1", "", GenerateRequest{
		SessionID: sess.SessionID,
		Modality:  domain.ModalityText,
		Input:     domain.GenerateInput{Prompt: "x"},
	})
	if err == nil {
		t.Fatal("expected closed-session rejection")
	}
}

func TestServeSSETextStream(t *testing.T) {
	h := newHarness(t, 64)
	rec := httptest.NewRecorder()
	err := h.orch.ServeSSE(context.Background(), rec, "u1", "http://gw.local", GenerateRequest{
		Modality: domain.ModalityText,
		Input:    domain.GenerateInput{Prompt: "Explain gravity"},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("ServeSSE: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"event":"model_selected"`) {
		t.Errorf("missing model_selected event:\n%s", body)
	}
	if !strings.Contains(body, `"delta"`) || !strings.Contains(body, "gravity") {
		t.Errorf("missing text deltas:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream not terminated with [DONE]:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestServeSSEImageEmitsComplete(t *testing.T) {
	h := newHarness(t, 0)
	rec := httptest.NewRecorder()
	err := h.orch.ServeSSE(context.Background(), rec, "u1", "http://gw.local", GenerateRequest{
		Modality: domain.ModalityImage,
		Input:    domain.GenerateInput{Prompt: "a cat"},
		Stream:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"event":"complete"`) {
		t.Errorf("missing complete event:\n%s", body)
	}
	if !strings.Contains(body, "/v1/artifacts/") {
		t.Errorf("complete event missing artifact URL:\n%s", body)
	}
}
