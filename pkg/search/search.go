// Package search provides the pluggable web-search capability used by the
// discovery orchestrator.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/config"
)

// Result is one raw web-search hit before relevance scoring.
type Result struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// WebSearcher executes a single query against a search backend.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// HTTPSearcher calls a JSON search API.
type HTTPSearcher struct {
	endpoint   string
	apiKey     string
	maxResults int
	client     *http.Client
	logger     *zap.Logger
}

// NewHTTPSearcher creates a searcher from config.
func NewHTTPSearcher(cfg *config.SearchConfig, logger *zap.Logger) *HTTPSearcher {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	return &HTTPSearcher{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search posts the query and decodes the result list.
func (s *HTTPSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	payload, err := json.Marshal(searchRequest{Query: query, MaxResults: s.maxResults})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	s.logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("results", len(decoded.Results)),
		zap.Duration("elapsed", time.Since(start)))

	return decoded.Results, nil
}
