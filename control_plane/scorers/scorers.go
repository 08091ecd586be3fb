// Package scorers holds concrete collaborators.Scorer implementations,
// mirroring control_plane/executors' role for collaborators.Executor:
// the core verification pipeline only ever sees the Scorer interface
// ("collaborator-provided"), and these are the pluggable
// backends an operator wires in at startup.
package scorers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenOverlapScorer is the offline default: the fraction of the goal's
// distinct lowercased words that also appear in the result. Grounded on
// dataparency-dev-AI-delegation's capabilityMatchScore (same
// matched-over-required ratio shape), generalized from capability tags
// to free-text tokens so a deployment with no external judge configured
// still gets a deterministic, dependency-free similarity score.
type TokenOverlapScorer struct{}

func NewTokenOverlapScorer() TokenOverlapScorer { return TokenOverlapScorer{} }

func (TokenOverlapScorer) Score(ctx context.Context, goal, result string) (float64, error) {
	goalTokens := tokenSet(goal)
	if len(goalTokens) == 0 {
		return 1.0, nil
	}
	resultTokens := tokenSet(result)
	matched := 0
	for t := range goalTokens {
		if resultTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(goalTokens)), nil
}

func tokenSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// HTTPScorer delegates scoring to a remote judge (an LLM-backed
// similarity service, typically), POSTing the goal/result pair and
// expecting a JSON {"similarity": float64} response. Grounded on
// executors.HTTPExecutor's request/client-timeout shape, the companion
// collaborator for the other half of the scorer/executor collaborator pair.
type HTTPScorer struct {
	client   *http.Client
	endpoint string
}

func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScorer{client: &http.Client{Timeout: timeout}, endpoint: endpoint}
}

type scoreRequest struct {
	Goal   string `json:"goal"`
	Result string `json:"result"`
}

type scoreResponse struct {
	Similarity float64 `json:"similarity"`
}

func (s *HTTPScorer) Score(ctx context.Context, goal, result string) (float64, error) {
	data, err := json.Marshal(scoreRequest{Goal: goal, Result: result})
	if err != nil {
		return 0, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("contact scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode score response: %w", err)
	}
	return out.Similarity, nil
}
