package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// GoogleTextAdapter speaks the Gemini generateContent API. Google keys
// travel as a query parameter, not a header, and the response nests text
// under candidates/content/parts.
type GoogleTextAdapter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewGoogleTextAdapter builds a Gemini adapter.
func NewGoogleTextAdapter(baseURL, apiKey, model string) *GoogleTextAdapter {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleTextAdapter{
		baseURL: baseURL, apiKey: apiKey, model: model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (a *GoogleTextAdapter) buildBody(input domain.GenerateInput, params domain.GenerateParameters) geminiRequest {
	var body geminiRequest
	body.Contents = make([]struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}, 1)
	body.Contents[0].Parts = []struct {
		Text string `json:"text"`
	}{{Text: input.Prompt}}
	body.GenerationConfig.Temperature = params.Temperature
	body.GenerationConfig.MaxOutputTokens = params.MaxTokens
	return body
}

// Generate performs a single-shot generateContent call.
func (a *GoogleTextAdapter) Generate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (*domain.GenerateOutput, error) {
	payload, err := json.Marshal(a.buildBody(input, params))
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, a.model, a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google request: %w", err)
	}
	defer resp.Body.Close()
	if err := statusErr("google", resp); err != nil {
		return nil, err
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode google response: %w", err)
	}
	var text strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			text.WriteString(p.Text)
		}
	}
	return &domain.GenerateOutput{
		Text: text.String(),
		Usage: &domain.UsageStats{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// StreamGenerate degrades to a single-shot call delivered as one chunk.
// Gemini's streamGenerateContent framing is not worth a third SSE decoder
// here; the orchestrator's delta pump handles a one-chunk stream fine.
func (a *GoogleTextAdapter) StreamGenerate(ctx context.Context, input domain.GenerateInput, params domain.GenerateParameters) (<-chan Chunk, error) {
	out := make(chan Chunk, 2)
	result, err := a.Generate(ctx, input, params)
	if err != nil {
		return nil, err
	}
	out <- Chunk{Text: result.Text}
	out <- Chunk{FinishReason: "stop"}
	close(out)
	return out, nil
}
