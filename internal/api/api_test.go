package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/artifacts"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/jobs"
	"github.com/tutu-network/inferencegate/internal/infra/lifecycle"
	"github.com/tutu-network/inferencegate/internal/infra/queue"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sessions"
	"github.com/tutu-network/inferencegate/internal/infra/sqlstore"
	"github.com/tutu-network/inferencegate/internal/infra/storage"
	"github.com/tutu-network/inferencegate/internal/orchestrator"
	"github.com/tutu-network/inferencegate/internal/security"
	"github.com/tutu-network/inferencegate/internal/selector"
	"github.com/tutu-network/inferencegate/internal/users"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 200)...)

type fakeText struct{}

func (fakeText) Generate(context.Context, domain.GenerateInput, domain.GenerateParameters) (*domain.GenerateOutput, error) {
	return &domain.GenerateOutput{Text: "hello from the model"}, nil
}

func (fakeText) StreamGenerate(context.Context, domain.GenerateInput, domain.GenerateParameters) (<-chan adapters.Chunk, error) {
	ch := make(chan adapters.Chunk, 2)
	ch <- adapters.Chunk{Text: "hello from the model"}
	ch <- adapters.Chunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

type fakeImage struct{}

func (fakeImage) GenerateImage(context.Context, domain.GenerateInput, domain.GenerateParameters) ([]byte, string, error) {
	return pngBytes, "image/png", nil
}

type fixture struct {
	ts    *httptest.Server
	token string
	users *users.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := registry.New(db)
	for _, m := range []domain.Model{
		{ModelID: "local-text", Name: "local-text", Modality: domain.ModalityText, Provider: "local", Status: domain.ModelAvailable},
		{ModelID: "local-image", Name: "local-image", Modality: domain.ModalityImage, Provider: "local", Status: domain.ModelAvailable},
	} {
		if err := reg.Register(m); err != nil {
			t.Fatal(err)
		}
	}
	reg.SetDefault(domain.ModalityText, "local-text")
	reg.SetDefault(domain.ModalityImage, "local-image")

	lc := lifecycle.New(2, time.Hour, func(_ context.Context, modelID string) (any, uint64, error) {
		if modelID == "local-image" {
			return &adapters.Adapter{Provider: "local", Image: fakeImage{}}, 1, nil
		}
		return &adapters.Adapter{Provider: "local", Text: fakeText{}}, 1, nil
	}, func(string, any) {})

	q := queue.New(8, 1, nil)
	go q.Run()
	t.Cleanup(func() { q.Shutdown(time.Second) })

	arts := artifacts.New(db, t.TempDir(), 3600)
	sess := sessions.New(db)
	disc := discovery.New(db, map[string]discovery.Prober{
		"openai": func(context.Context, *domain.ProviderCredential) (domain.ProviderAvailability, error) {
			return domain.ProviderAvailability{
				Models:        []domain.ProviderModel{{ID: "gpt-4o", Modality: domain.ModalityText}},
				CreditsStatus: domain.CreditsAvailable,
			}, nil
		},
	})

	box, err := security.NewBox("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	um := users.New(db, box)

	st := storage.New(t.TempDir(), 1<<30, reg)
	jm := jobs.New(t.TempDir(), reg, st, func(_ context.Context, _ domain.ModelSource, _ string, progress func(float64)) (int64, error) {
		progress(100)
		return 1, nil
	}, db.UpsertJob)

	orch := &orchestrator.Orchestrator{
		Selector:  selector.New(reg, disc, adapters.BuiltinFactories(), um.Lookup),
		Lifecycle: lc, Queue: q, Artifacts: arts, Sessions: sess,
		Registry: reg, Discovery: disc,
		InlineThresholdKB: 0,
	}

	srv := &Server{
		Orchestrator: orch, Registry: reg, Lifecycle: lc, Queue: q,
		Jobs: jm, Sessions: sess, Artifacts: arts, Users: um,
		Discovery: disc,
		Search:    discovery.NewHFSearch(""),
		Version:   "test", Providers: []string{"openai", "anthropic"},
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	invite, err := um.CreateInvite()
	if err != nil {
		t.Fatal(err)
	}
	_, token, err := um.Redeem(invite.Token, "tester")
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{ts: ts, token: token.Token, users: um}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", f.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestOpsEndpointsAreUnauthenticated(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/health", "/ready", "/version", "/metrics"} {
		resp, err := http.Get(f.ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestV1RequiresAuth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /v1/models = %d, want 401", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/models", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated /v1/models = %d", resp.StatusCode)
	}
}

func TestBearerTokenAlsoAccepted(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.ts.URL+"/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer auth = %d", resp.StatusCode)
	}
}

func TestGenerateTextEndToEnd(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/generate", map[string]any{
		"modality": "text",
		"input":    map[string]any{"prompt": "hi"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate = %d", resp.StatusCode)
	}
	var out orchestrator.GenerateResponse
	decode(t, resp, &out)
	if out.Text != "hello from the model" {
		t.Errorf("text = %q", out.Text)
	}
	if out.Selection.SelectedModel != "local-text" {
		t.Errorf("selected = %s", out.Selection.SelectedModel)
	}
}

func TestGenerateImagePromotesArtifactAndServesIt(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/generate", map[string]any{
		"modality": "image",
		"input":    map[string]any{"prompt": "a cat"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate = %d", resp.StatusCode)
	}
	var out orchestrator.GenerateResponse
	decode(t, resp, &out)
	if len(out.Artifacts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(out.Artifacts))
	}
	u := out.Artifacts[0].URL
	if !strings.HasPrefix(u, f.ts.URL+"/v1/artifacts/") {
		t.Fatalf("artifact URL not absolute: %q", u)
	}

	req, _ := http.NewRequest(http.MethodGet, u, nil)
	req.Header.Set("X-API-Key", f.token)
	got, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("artifact fetch = %d", got.StatusCode)
	}
	if ct := got.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("artifact content type = %q", ct)
	}
}

func TestGenerateTemperatureOutOfRangeIs422(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/generate", map[string]any{
		"modality":   "text",
		"input":      map[string]any{"prompt": "x"},
		"parameters": map[string]any{"temperature": 3.0},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/sessions", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d", resp.StatusCode)
	}
	var sess domain.Session
	decode(t, resp, &sess)

	resp = f.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/generate", map[string]any{
		"modality": "text",
		"input":    map[string]any{"prompt": "Explain gravity"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session generate = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/sessions/"+sess.SessionID, nil)
	var detail struct {
		Session      domain.Session `json:"session"`
		MessageCount int            `json:"message_count"`
	}
	decode(t, resp, &detail)
	if detail.Session.Title != "Explain gravity" {
		t.Errorf("title = %q", detail.Session.Title)
	}
	if detail.MessageCount != 1 {
		t.Errorf("message_count = %d", detail.MessageCount)
	}

	resp = f.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/regenerate", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("regenerate = %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/v1/sessions/"+sess.SessionID, nil)
	decode(t, resp, &detail)
	if detail.MessageCount != 1 {
		t.Errorf("message_count after regenerate = %d", detail.MessageCount)
	}

	resp = f.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/reset", nil)
	resp.Body.Close()
	resp = f.do(t, http.MethodGet, "/v1/sessions/"+sess.SessionID, nil)
	decode(t, resp, &detail)
	if detail.MessageCount != 0 {
		t.Errorf("message_count after reset = %d", detail.MessageCount)
	}

	resp = f.do(t, http.MethodPut, "/v1/sessions/"+sess.SessionID, map[string]any{"status": "closed"})
	resp.Body.Close()
	resp = f.do(t, http.MethodPost, "/v1/sessions/"+sess.SessionID+"/generate", map[string]any{
		"modality": "text",
		"input":    map[string]any{"prompt": "x"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("generate on closed session = %d, want 422", resp.StatusCode)
	}
}

func TestSetDefaultThenListShowsIt(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/models/local-text/default", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set default = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/models", nil)
	var out struct {
		Defaults map[string]string `json:"defaults"`
	}
	decode(t, resp, &out)
	if out.Defaults["text"] != "local-text" {
		t.Errorf("defaults = %v", out.Defaults)
	}
}

func TestDownloadJobFlow(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/models/download", map[string]any{
		"model_id": "new-model", "name": "new-model", "modality": "text",
		"source":        map[string]any{"type": "url", "uri": "http://example.com/model.gguf"},
		"install_local": true,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("download = %d", resp.StatusCode)
	}
	var job domain.DownloadJob
	decode(t, resp, &job)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = f.do(t, http.MethodGet, "/v1/jobs/"+job.JobID, nil)
		var j domain.DownloadJob
		decode(t, resp, &j)
		if j.Status == domain.JobCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", j.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRequestStatusUnknownIs404(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/requests/nope/status", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProviderCredentialCRUD(t *testing.T) {
	f := newFixture(t)

	var me domain.User
	// The fixture minted a token for "tester"; resolve the user id from it.
	userID, err := f.users.Authenticate(f.token)
	if err != nil {
		t.Fatal(err)
	}
	me.UserID = userID

	path := fmt.Sprintf("/v1/users/%s/providers/openai", me.UserID)
	resp := f.do(t, http.MethodPut, path, map[string]any{"api_key": "sk-test"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set credential = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s/providers", me.UserID), nil)
	var out struct {
		Providers []string `json:"providers"`
	}
	decode(t, resp, &out)
	if len(out.Providers) != 1 || out.Providers[0] != "openai" {
		t.Errorf("providers = %v", out.Providers)
	}

	resp = f.do(t, http.MethodDelete, path, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete credential = %d", resp.StatusCode)
	}
}

func TestListModelsIncludesDiscoveredProviderModels(t *testing.T) {
	f := newFixture(t)
	userID, err := f.users.Authenticate(f.token)
	if err != nil {
		t.Fatal(err)
	}

	// Without a credential, the catalog has no provider models.
	resp := f.do(t, http.MethodGet, "/v1/models", nil)
	var out struct {
		ProviderModels map[string][]domain.ProviderModel `json:"provider_models"`
	}
	decode(t, resp, &out)
	if len(out.ProviderModels) != 0 {
		t.Fatalf("provider_models before credential = %v", out.ProviderModels)
	}

	resp = f.do(t, http.MethodPut, fmt.Sprintf("/v1/users/%s/providers/openai", userID), map[string]any{"api_key": "sk-test"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set credential = %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/v1/models", nil)
	decode(t, resp, &out)
	models := out.ProviderModels["openai"]
	if len(models) != 1 || models[0].ID != "gpt-4o" {
		t.Fatalf("provider_models after credential = %v", out.ProviderModels)
	}

	// Modality filter applies to discovered models too. Reset the map first:
	// decoding into a non-nil map keeps keys the new response does not carry.
	out.ProviderModels = nil
	resp = f.do(t, http.MethodGet, "/v1/models?modality=image", nil)
	decode(t, resp, &out)
	if len(out.ProviderModels["openai"]) != 0 {
		t.Errorf("image filter leaked text models: %v", out.ProviderModels)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/schema", nil)
	var schema map[string]any
	decode(t, resp, &schema)
	if schema["type"] != "object" {
		t.Errorf("schema = %v", schema)
	}
}

func TestStreamGenerateEmitsSSE(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/v1/generate", map[string]any{
		"modality": "text",
		"input":    map[string]any{"prompt": "hi"},
		"stream":   true,
	})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	body := buf.String()
	if !strings.Contains(body, `"event":"model_selected"`) {
		t.Errorf("missing model_selected:\n%s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Errorf("missing [DONE]:\n%s", body)
	}
}
