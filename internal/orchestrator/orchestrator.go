// Package orchestrator binds the control-plane subsystems into the one
// path a generate request travels: selector, image preprocessor,
// lifecycle manager, per-model queue, artifact promotion, and session
// persistence. It owns the wire-level GenerateRequest/GenerateResponse
// shapes and the SSE framing for streamed output.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/imaging"
	"github.com/tutu-network/inferencegate/internal/infra/artifacts"
	"github.com/tutu-network/inferencegate/internal/infra/discovery"
	"github.com/tutu-network/inferencegate/internal/infra/lifecycle"
	"github.com/tutu-network/inferencegate/internal/infra/queue"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/infra/sessions"
	"github.com/tutu-network/inferencegate/internal/metrics"
	"github.com/tutu-network/inferencegate/internal/selector"
)

// GenerateRequest is the canonical request body of POST /v1/generate.
type GenerateRequest struct {
	Model         string                    `json:"model,omitempty"`
	Provider      string                    `json:"provider,omitempty"`
	SessionID     string                    `json:"session_id,omitempty"`
	StateTokens   map[string]any            `json:"state_tokens,omitempty"`
	Modality      domain.Modality           `json:"modality"`
	Input         domain.GenerateInput      `json:"input"`
	Parameters    domain.GenerateParameters `json:"parameters,omitempty"`
	Stream        bool                      `json:"stream,omitempty"`
	SelectionMode domain.SelectionMode      `json:"selection_mode,omitempty"`
}

// GenerateResponse is the non-streaming response, and the payload of the
// terminal SSE complete event for image/3d streams.
type GenerateResponse struct {
	RequestID string               `json:"request_id"`
	SessionID string               `json:"session_id,omitempty"`
	Status    domain.RequestStatus `json:"status"`
	Modality  domain.Modality      `json:"modality"`
	Selection domain.SelectionInfo `json:"selection"`
	Text      string               `json:"text,omitempty"`
	Inline    []string             `json:"inline,omitempty"`
	Artifacts []domain.Artifact    `json:"artifacts,omitempty"`
	Usage     *domain.UsageStats   `json:"usage,omitempty"`
}

// Orchestrator wires the subsystems together. All fields are injected by
// the daemon; nothing here constructs its own collaborators.
type Orchestrator struct {
	Selector  *selector.Selector
	Lifecycle *lifecycle.Manager
	Queue     *queue.Manager
	Artifacts *artifacts.Store
	Sessions  *sessions.Store
	Registry  *registry.Registry
	Discovery *discovery.Cache

	InlineThresholdKB int
	WaitTimeout       time.Duration // 0 means wait indefinitely
}

// ValidateParameters enforces the documented parameter bounds in one
// place; /v1/schema reflects the same bounds to clients.
func ValidateParameters(modality domain.Modality, p domain.GenerateParameters) error {
	switch modality {
	case domain.ModalityText, domain.ModalityImage, domain.Modality3D:
	default:
		return apierr.Validation(fmt.Sprintf("unknown modality %q", modality))
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return apierr.Validation("temperature must be between 0 and 2")
	}
	if p.MaxTokens != nil && *p.MaxTokens < 1 {
		return apierr.Validation("max_tokens must be at least 1")
	}
	return nil
}

// ParameterSchema returns the JSON-schema-shaped parameter bounds for a
// model, or the generic bounds when model is nil.
func ParameterSchema(m *domain.Model) map[string]any {
	props := map[string]any{
		"temperature": map[string]any{"type": "number", "minimum": 0, "maximum": 2},
		"max_tokens":  map[string]any{"type": "integer", "minimum": 1},
		"format":      map[string]any{"type": "string"},
	}
	if m != nil && m.Capabilities.MaxContextTokens > 0 {
		props["max_tokens"] = map[string]any{
			"type": "integer", "minimum": 1, "maximum": m.Capabilities.MaxContextTokens,
		}
	}
	return map[string]any{"type": "object", "properties": props}
}

// plan is everything prepared before the request enters the queue.
type plan struct {
	req     GenerateRequest
	sel     selector.Result
	adapter *adapters.Adapter
	isLocal bool
	userID  string
	baseURL string
}

// prepare runs steps 1-5 of the orchestration flow: session check,
// selection, image preprocessing, lifecycle load and busy-marking.
// On success a local model is marked busy; the caller must guarantee
// markIdle runs exactly once afterwards.
func (o *Orchestrator) prepare(ctx context.Context, userID, baseURL string, req GenerateRequest) (*plan, error) {
	if err := ValidateParameters(req.Modality, req.Parameters); err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		sess, err := o.Sessions.Get(req.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.Status == domain.SessionClosed {
			return nil, domain.ErrSessionClosed
		}
	}

	sel, err := o.Selector.Select(ctx, selector.Request{
		UserID:        userID,
		ModelID:       req.Model,
		Provider:      req.Provider,
		Modality:      req.Modality,
		HasImages:     len(req.Input.Images) > 0,
		HasMesh:       req.Input.Mesh != "",
		SelectionMode: req.SelectionMode,
	})
	if err != nil {
		return nil, err
	}

	// A registered model's own modality overrides the request's for
	// adapter choice; attached inputs never do.
	if sel.Model.Modality != "" {
		req.Modality = sel.Model.Modality
	}

	if len(req.Input.Images) > 0 {
		processed, err := preprocessImages(req.Input.Images, sel.Model.Capabilities)
		if err != nil {
			return nil, apierr.Validation(err.Error())
		}
		req.Input.Images = processed
	}

	p := &plan{req: req, sel: sel, adapter: sel.Adapter, userID: userID, baseURL: baseURL}

	if sel.Adapter == nil {
		// Local model: materialize through the lifecycle manager. The
		// loaded instance is the wired local adapter.
		p.isLocal = true
		entry, err := o.Lifecycle.Load(ctx, sel.Model.ModelID, lifecycle.LoadOptions{Wait: true})
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("model %s is still loading", sel.Model.ModelID)
		}
		adapter, ok := entry.Instance.(*adapters.Adapter)
		if !ok {
			return nil, fmt.Errorf("loaded instance for %s is not an adapter", sel.Model.ModelID)
		}
		p.adapter = adapter
		if !o.Lifecycle.MarkBusy(sel.Model.ModelID) {
			return nil, domain.ErrNotLoaded
		}
		if err := o.Registry.Touch(sel.Model.ModelID); err != nil {
			log.Printf("[orchestrator] touch model %s: %v", sel.Model.ModelID, err)
		}
	}

	if !p.adapter.Supports(req.Modality) {
		o.markIdle(p)
		return nil, fmt.Errorf("%w: %s does not serve %s", domain.ErrUnsupportedProvider, p.adapter.Provider, req.Modality)
	}
	return p, nil
}

// markIdle releases the busy hold a successful prepare placed on a local
// model. No-op for commercial plans.
func (o *Orchestrator) markIdle(p *plan) {
	if p.isLocal {
		o.Lifecycle.MarkIdle(p.sel.Model.ModelID)
	}
}

// executor builds the per-request executor bound to the plan's adapter.
func (o *Orchestrator) executor(ctx context.Context, p *plan) queue.Executor {
	return func(req *domain.QueuedRequest) (*domain.GenerateOutput, error) {
		switch req.Modality {
		case domain.ModalityText:
			if req.OnDelta != nil {
				ch, err := p.adapter.Text.StreamGenerate(ctx, req.Input, req.Parameters)
				if err != nil {
					return nil, err
				}
				var full strings.Builder
				for c := range ch {
					if c.Text != "" {
						full.WriteString(c.Text)
						req.OnDelta(c.Text)
					}
				}
				return &domain.GenerateOutput{Text: full.String()}, nil
			}
			return p.adapter.Text.Generate(ctx, req.Input, req.Parameters)

		case domain.ModalityImage:
			data, mime, err := p.adapter.Image.GenerateImage(ctx, req.Input, req.Parameters)
			if err != nil {
				return nil, err
			}
			return &domain.GenerateOutput{
				Binaries: []domain.BinaryOutput{{Type: domain.ArtifactImage, MIME: mime, Data: data}},
			}, nil

		case domain.Modality3D:
			mesh, mime, preview, err := p.adapter.Mesh.GenerateMesh(ctx, req.Input, req.Parameters)
			if err != nil {
				return nil, err
			}
			out := &domain.GenerateOutput{
				Binaries: []domain.BinaryOutput{{Type: domain.ArtifactMesh, MIME: mime, Data: mesh}},
			}
			if len(preview) > 0 {
				out.Binaries = append(out.Binaries, domain.BinaryOutput{
					Type: domain.ArtifactImage, MIME: http.DetectContentType(preview), Data: preview,
				})
			}
			return out, nil

		default:
			return nil, apierr.Validation(fmt.Sprintf("unknown modality %q", req.Modality))
		}
	}
}

// Generate runs the full non-streaming path.
func (o *Orchestrator) Generate(ctx context.Context, userID, baseURL string, req GenerateRequest) (*GenerateResponse, error) {
	started := time.Now()
	p, err := o.prepare(ctx, userID, baseURL, req)
	if err != nil {
		return nil, err
	}

	qr := o.Queue.EnqueueWith(p.sel.Model.ModelID, p.req.Modality, p.req.Input, p.req.Parameters, o.executor(ctx, p), nil)
	if o.Queue.WaitForCompletion(qr, o.WaitTimeout) {
		defer o.markIdle(p)
	} else {
		// Timed out while the adapter call is still in flight: the busy
		// hold must outlive the call, so release it only on completion.
		go func() {
			<-qr.CompletionSignal
			o.markIdle(p)
		}()
	}

	resp, err := o.finish(p, qr)
	o.observe(p, qr, started)
	return resp, err
}

// finish converts a terminal queued request into the wire response,
// promoting binaries, rewriting artifact URLs, and appending the session
// turn.
func (o *Orchestrator) finish(p *plan, qr *domain.QueuedRequest) (*GenerateResponse, error) {
	switch qr.Status {
	case domain.RequestFailed:
		o.reportProviderError(p, qr.Err)
		return nil, qr.Err
	case domain.RequestCancelled:
		return &GenerateResponse{
			RequestID: qr.RequestID, SessionID: p.req.SessionID,
			Status: domain.RequestCancelled, Modality: p.req.Modality, Selection: p.sel.Info,
		}, nil
	case domain.RequestCompleted:
	default:
		// Timed out waiting; surface the in-flight status as-is.
		return &GenerateResponse{
			RequestID: qr.RequestID, SessionID: p.req.SessionID,
			Status: qr.Status, Modality: p.req.Modality, Selection: p.sel.Info,
		}, nil
	}

	output := *qr.Result
	if err := o.promote(&output, p.baseURL); err != nil {
		return nil, err
	}

	if p.req.SessionID != "" {
		if _, err := o.Sessions.AppendTurn(p.req.SessionID, p.req.Modality, p.req.Input, output, p.req.StateTokens); err != nil {
			log.Printf("[orchestrator] append session turn: %v", err)
		}
	}

	return &GenerateResponse{
		RequestID: qr.RequestID,
		SessionID: p.req.SessionID,
		Status:    domain.RequestCompleted,
		Modality:  p.req.Modality,
		Selection: p.sel.Info,
		Text:      output.Text,
		Inline:    output.Inline,
		Artifacts: output.Artifacts,
		Usage:     output.Usage,
	}, nil
}

// promote applies the inline-vs-artifact threshold to every binary
// output, storing large payloads in the artifact store and rewriting
// their URLs to absolute against baseURL.
func (o *Orchestrator) promote(out *domain.GenerateOutput, baseURL string) error {
	threshold := o.InlineThresholdKB * 1024
	for _, b := range out.Binaries {
		if len(b.Data) <= threshold {
			out.Inline = append(out.Inline, "data:"+b.MIME+";base64,"+base64.StdEncoding.EncodeToString(b.Data))
			continue
		}
		a, err := o.Artifacts.Put(b.Data, b.Type)
		if err != nil {
			return fmt.Errorf("store artifact: %w", err)
		}
		a.URL = rewriteArtifactURL("/v1/artifacts/"+a.ArtifactID, baseURL)
		out.Artifacts = append(out.Artifacts, a)
	}
	out.Binaries = nil
	return nil
}

// rewriteArtifactURL makes a relative artifact URL absolute against the
// request's base URL, leaving already-absolute URLs untouched.
func rewriteArtifactURL(u, baseURL string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || baseURL == "" {
		return u
	}
	return strings.TrimSuffix(baseURL, "/") + u
}

// reportProviderError feeds commercial 429/quota responses back into the
// discovery cache so subsequent selections observe the rate_limited or
// exhausted state.
func (o *Orchestrator) reportProviderError(p *plan, err error) {
	if err == nil || p.isLocal {
		return
	}
	var pe *adapters.ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusTooManyRequests {
		return
	}
	status := domain.CreditsRateLimited
	msg := strings.ToLower(pe.Message)
	if strings.Contains(msg, "quota") || strings.Contains(msg, "credit") || strings.Contains(msg, "billing") {
		status = domain.CreditsExhausted
	}
	if merr := o.Discovery.MarkCredits(p.userID, p.adapter.Provider, status); merr != nil {
		log.Printf("[orchestrator] mark %s credits %s: %v", p.adapter.Provider, status, merr)
	}
}

func (o *Orchestrator) observe(p *plan, qr *domain.QueuedRequest, started time.Time) {
	labels := []string{p.sel.Model.ModelID, string(p.req.Modality), string(qr.Status)}
	metrics.GenerateRequests.WithLabelValues(labels...).Inc()
	metrics.GenerateLatency.WithLabelValues(labels...).Observe(time.Since(started).Seconds())
}

// Regenerate deletes a session's newest turn and replays its input
// through the full generate path, keeping the original modality.
func (o *Orchestrator) Regenerate(ctx context.Context, userID, baseURL, sessionID string) (*GenerateResponse, error) {
	modality, input, err := o.Sessions.PrepareRegenerate(sessionID)
	if err != nil {
		return nil, err
	}
	return o.Generate(ctx, userID, baseURL, GenerateRequest{
		SessionID: sessionID,
		Modality:  modality,
		Input:     input,
	})
}

// preprocessImages enforces the chosen model's image constraints on each
// attached data URL, re-encoding the result back to a data URL.
func preprocessImages(dataURLs []string, caps domain.Capabilities) ([]string, error) {
	out := make([]string, 0, len(dataURLs))
	for i, u := range dataURLs {
		_, raw, err := imaging.DecodeDataURL(u)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		pp, err := imaging.Preprocess(raw, caps)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out = append(out, "data:"+pp.MIMEType+";base64,"+base64.StdEncoding.EncodeToString(pp.Bytes))
	}
	return out, nil
}
