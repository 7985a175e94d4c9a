package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// LocalTextAdapter proxies generation to a locally running inference
// server (e.g. llama-server), addressed by baseURL. Spawning and
// health-polling that subprocess is the lifecycle LoadFunc's job, not
// this adapter's — this adapter only speaks the wire protocol once a
// base URL is available.
type LocalTextAdapter struct {
	baseURL string
	client  *http.Client
}

// NewLocalTextAdapter wraps a running local inference server.
func NewLocalTextAdapter(baseURL string) *LocalTextAdapter {
	return &LocalTextAdapter{baseURL: baseURL, client: &http.Client{Timeout: 0}}
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature float64  `json:"temperature,omitempty"`
	NPredict    int      `json:"n_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Generate performs a single-shot (non-streaming) completion.
func (a *LocalTextAdapter) Generate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (*domain.GenerateOutput, error) {
	ch, err := a.StreamGenerate(ctx, input, params)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for c := range ch {
		buf.WriteString(c.Text)
	}
	return &domain.GenerateOutput{Text: buf.String()}, nil
}

// StreamGenerate streams completion deltas from the local server's
// newline-delimited-JSON streaming endpoint.
func (a *LocalTextAdapter) StreamGenerate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (<-chan Chunk, error) {
	body := completionRequest{Prompt: input.Prompt, Stream: true}
	if params.Temperature != nil {
		body.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		body.NPredict = *params.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local inference request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("local inference server returned %d", resp.StatusCode)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || line[0] != '{' {
				if len(line) > 5 && line[:5] == "data:" {
					line = line[5:]
				} else {
					continue
				}
			}
			var c completionChunk
			if err := json.Unmarshal([]byte(line), &c); err != nil {
				continue
			}
			select {
			case out <- Chunk{Text: c.Content, FinishReason: finishReason(c.Stop)}:
			case <-ctx.Done():
				return
			}
			if c.Stop {
				return
			}
		}
	}()
	return out, nil
}

func finishReason(stop bool) string {
	if stop {
		return "stop"
	}
	return ""
}

// NewLocalImageAdapter wraps a local diffusion server exposing the
// OpenAI-compatible images endpoint on loopback. Local image generation
// can run for minutes, so the client carries no timeout; liveness is the
// SSE heartbeat's job.
func NewLocalImageAdapter(baseURL string) *CommercialImageAdapter {
	return &CommercialImageAdapter{
		provider: "local", baseURL: baseURL,
		client: &http.Client{Timeout: 0},
	}
}

// NewLocalMeshAdapter wraps a local text-to-3D server on loopback. It
// speaks the same JSON envelope as the hosted mesh endpoint, so the one
// wire client serves both.
func NewLocalMeshAdapter(baseURL string) *HTTPMeshAdapter {
	return &HTTPMeshAdapter{
		provider: "local", baseURL: baseURL,
		client: &http.Client{Timeout: 0},
	}
}

// HealthCheck polls the local server until it responds or ctx expires,
// used by the lifecycle LoadFunc after spawning the subprocess.
func HealthCheck(ctx context.Context, baseURL string, pollEvery time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
