package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// AnthropicTextAdapter speaks the Anthropic messages API, which differs
// from the OpenAI wire shape in auth header, version header, and the
// delta framing of its SSE stream.
type AnthropicTextAdapter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewAnthropicTextAdapter builds an Anthropic messages adapter.
func NewAnthropicTextAdapter(baseURL, apiKey, model string) *AnthropicTextAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicTextAdapter{
		baseURL: baseURL, apiKey: apiKey, model: model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *AnthropicTextAdapter) newRequest(ctx context.Context, body anthropicRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (a *AnthropicTextAdapter) buildBody(input domain.GenerateInput, params domain.GenerateParameters, stream bool) anthropicRequest {
	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: input.Prompt}},
		Stream:    stream,
	}
	if params.Temperature != nil {
		body.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		body.MaxTokens = *params.MaxTokens
	}
	return body
}

// Generate performs a single-shot messages call.
func (a *AnthropicTextAdapter) Generate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (*domain.GenerateOutput, error) {
	req, err := a.newRequest(ctx, a.buildBody(input, params, false))
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()
	if err := statusErr("anthropic", resp); err != nil {
		return nil, err
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return &domain.GenerateOutput{
		Text: text.String(),
		Usage: &domain.UsageStats{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

// StreamGenerate streams content_block_delta events from the messages API.
func (a *AnthropicTextAdapter) StreamGenerate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (<-chan Chunk, error) {
	req, err := a.newRequest(ctx, a.buildBody(input, params, true))
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream request: %w", err)
	}
	if err := statusErr("anthropic", resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		decodeAnthropicDeltas(ctx, resp.Body, out)
	}()
	return out, nil
}

func decodeAnthropicDeltas(ctx context.Context, body io.Reader, out chan<- Chunk) {
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
				var ev struct {
					Type  string `json:"type"`
					Delta struct {
						Type string `json:"type"`
						Text string `json:"text"`
					} `json:"delta"`
				}
				if jsonErr := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &ev); jsonErr != nil {
					continue
				}
				switch ev.Type {
				case "content_block_delta":
					select {
					case out <- Chunk{Text: ev.Delta.Text}:
					case <-ctx.Done():
						return
					}
				case "message_stop":
					select {
					case out <- Chunk{FinishReason: "stop"}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}
