package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HFSearchResult is one row from the HuggingFace model search API,
// trimmed to what the /v1/models/search surface exposes.
type HFSearchResult struct {
	ID        string `json:"id"`
	Downloads int64  `json:"downloads"`
	Likes     int64  `json:"likes"`
	Pipeline  string `json:"pipeline_tag,omitempty"`
}

// HFSearch is a thin client for the HuggingFace hub search endpoint.
// Results are not cached: upstream search is an interactive, low-volume
// operation, unlike provider discovery.
type HFSearch struct {
	baseURL string
	client  *http.Client
}

// NewHFSearch builds a search client. baseURL overrides the hub URL in
// tests; empty means the public hub.
func NewHFSearch(baseURL string) *HFSearch {
	if baseURL == "" {
		baseURL = "https://huggingface.co"
	}
	return &HFSearch{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

// Search queries the hub for models matching query, at most limit rows.
func (h *HFSearch) Search(ctx context.Context, query string, limit int) ([]HFSearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	u := fmt.Sprintf("%s/api/models?search=%s&limit=%d&sort=downloads", h.baseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("huggingface search: HTTP %d", resp.StatusCode)
	}

	var results []HFSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode huggingface search results: %w", err)
	}
	return results, nil
}
