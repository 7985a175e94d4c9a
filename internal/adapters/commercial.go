package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// CommercialTextAdapter speaks an OpenAI-compatible chat-completions wire
// protocol over HTTP. Azure, xAI and most OpenAI-compatible hosts share
// this shape; Anthropic and Google use their own (see anthropic.go /
// google.go). Adapter calls inherit a 30s HTTP client timeout per the
// concurrency model's suspension-point policy for remote adapters.
type CommercialTextAdapter struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
}

// NewCommercialTextAdapter builds an OpenAI-wire-compatible adapter.
func NewCommercialTextAdapter(provider, baseURL, apiKey, model string) *CommercialTextAdapter {
	return &CommercialTextAdapter{
		provider: provider, baseURL: baseURL, apiKey: apiKey, model: model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *CommercialTextAdapter) buildRequest(input domain.GenerateInput, params domain.GenerateParameters, stream bool) chatRequest {
	req := chatRequest{
		Model:    a.model,
		Messages: []chatMessage{{Role: "user", Content: input.Prompt}},
		Stream:   stream,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	return req
}

// Generate performs a single-shot chat completion.
func (a *CommercialTextAdapter) Generate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (*domain.GenerateOutput, error) {
	body := a.buildRequest(input, params, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", a.provider, err)
	}
	defer resp.Body.Close()

	if err := statusErr(a.provider, resp); err != nil {
		return nil, err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", a.provider, err)
	}
	text := ""
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
	}
	return &domain.GenerateOutput{
		Text: text,
		Usage: &domain.UsageStats{
			PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens: out.Usage.TotalTokens,
		},
	}, nil
}

// StreamGenerate requests SSE-framed deltas and republishes them as Chunks.
func (a *CommercialTextAdapter) StreamGenerate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (<-chan Chunk, error) {
	body := a.buildRequest(input, params, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", a.provider, err)
	}
	if err := statusErr(a.provider, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		decodeSSEDeltas(ctx, resp.Body, out)
	}()
	return out, nil
}

// statusErr maps a non-2xx commercial response to an error carrying the
// HTTP status, for the orchestrator boundary's fixed status->code table.
func statusErr(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Message: string(data)}
}

// ProviderError carries the upstream HTTP status so the orchestrator can
// map it through the fixed 429/401/503/504 table in the wire taxonomy.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func decodeSSEDeltas(ctx context.Context, body io.Reader, out chan<- Chunk) {
	buf := make([]byte, 0, 4096)
	scratch := make([]byte, 4096)
	for {
		n, err := body.Read(scratch)
		if n > 0 {
			buf = append(buf, scratch[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+1:]
				if !bytes.HasPrefix(line, []byte("data: ")) {
					continue
				}
				payload := bytes.TrimPrefix(line, []byte("data: "))
				if string(payload) == "[DONE]" {
					return
				}
				var delta struct {
					Choices []struct {
						Delta struct {
							Content string `json:"content"`
						} `json:"delta"`
						FinishReason string `json:"finish_reason"`
					} `json:"choices"`
				}
				if jsonErr := json.Unmarshal(payload, &delta); jsonErr != nil {
					continue
				}
				if len(delta.Choices) == 0 {
					continue
				}
				select {
				case out <- Chunk{Text: delta.Choices[0].Delta.Content, FinishReason: delta.Choices[0].FinishReason}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// CommercialImageAdapter speaks an OpenAI-compatible images-generation
// endpoint that returns base64-encoded payloads.
type CommercialImageAdapter struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
}

// NewCommercialImageAdapter builds an image-generation adapter.
func NewCommercialImageAdapter(provider, baseURL, apiKey, model string) *CommercialImageAdapter {
	return &CommercialImageAdapter{
		provider: provider, baseURL: baseURL, apiKey: apiKey, model: model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// GenerateImage requests one image and returns its decoded bytes.
func (a *CommercialImageAdapter) GenerateImage(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) ([]byte, string, error) {
	body := imageRequest{Model: a.model, Prompt: input.Prompt, N: 1}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s image request: %w", a.provider, err)
	}
	defer resp.Body.Close()
	if err := statusErr(a.provider, resp); err != nil {
		return nil, "", err
	}

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("decode %s image response: %w", a.provider, err)
	}
	if len(out.Data) == 0 {
		return nil, "", fmt.Errorf("%s returned no image data", a.provider)
	}
	raw, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 image: %w", err)
	}
	return raw, http.DetectContentType(raw), nil
}
