package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tutu-network/inferencegate/internal/apierr"
	"github.com/tutu-network/inferencegate/internal/domain"
)

// heartbeatEvery is how often a comment line is emitted while a
// generation of any modality is still running, to keep intermediaries
// from timing out the idle connection.
const heartbeatEvery = 15 * time.Second

// ServeSSE runs the streaming generate path, writing SSE frames to w.
// Errors before the response head is sent are returned to the caller for
// normal JSON error handling; once the head is out, errors become a
// data-framed error event followed by stream termination.
func (o *Orchestrator) ServeSSE(ctx context.Context, w http.ResponseWriter, userID, baseURL string, req GenerateRequest) error {
	started := time.Now()
	p, err := o.prepare(ctx, userID, baseURL, req)
	if err != nil {
		return err
	}
	defer o.markIdle(p)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	emit(map[string]any{
		"event":         "model_selected",
		"model":         p.sel.Info.SelectedModel,
		"modality":      p.req.Modality,
		"provider":      p.sel.Info.SelectedProvider,
		"fallback_used": p.sel.Info.FallbackUsed,
	})

	// For text, adapter deltas flow through a channel so this goroutine
	// stays the only writer to w.
	var deltaCh chan string
	var onDelta func(string)
	if p.req.Modality == domain.ModalityText {
		deltaCh = make(chan string, 64)
		onDelta = func(text string) { deltaCh <- text }
	}

	qr := o.Queue.EnqueueWith(p.sel.Model.ModelID, p.req.Modality, p.req.Input, p.req.Parameters, o.executor(ctx, p), onDelta)

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	cancelled := false
	done := ctx.Done()
wait:
	for {
		select {
		case text := <-deltaCh:
			if !cancelled {
				emit(map[string]any{"choices": []map[string]any{{"delta": map[string]any{"content": text}}}})
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-done:
			// Stop emitting but keep draining deltas so a blocked
			// executor can return and observe the cancel flag.
			cancelled = true
			done = nil
			o.Queue.Cancel(qr.RequestID)
		case <-qr.CompletionSignal:
			break wait
		}
	}

	// Drain deltas the executor emitted before completion was signaled.
	if deltaCh != nil && !cancelled {
	drain:
		for {
			select {
			case text := <-deltaCh:
				emit(map[string]any{"choices": []map[string]any{{"delta": map[string]any{"content": text}}}})
			default:
				break drain
			}
		}
	}

	resp, err := o.finish(p, qr)
	o.observe(p, qr, started)
	if err != nil {
		e := apierr.Classify(err)
		emit(map[string]any{"error": e})
	} else if p.req.Modality != domain.ModalityText && resp.Status == domain.RequestCompleted {
		emit(map[string]any{"event": "complete", "response": resp})
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}
