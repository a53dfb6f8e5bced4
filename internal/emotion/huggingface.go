package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHFEndpoint serves the distilbert emotion model the service was built around.
const DefaultHFEndpoint = "https://api-inference.huggingface.co/models/bhadresh-savani/distilbert-base-uncased-emotion"

// HFClassifier calls a hosted text-classification endpoint.
type HFClassifier struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHFClassifier(endpoint, token string, timeout time.Duration) *HFClassifier {
	if endpoint == "" {
		endpoint = DefaultHFEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HFClassifier{endpoint: endpoint, token: token, client: &http.Client{Timeout: timeout}}
}

type hfScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (c *HFClassifier) Classify(ctx context.Context, text string) (string, float64, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("classifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scores, err := decodeHFScores(raw)
	if err != nil {
		return "", 0, err
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best.Label, best.Score, nil
}

// decodeHFScores accepts both [[{label,score}...]] and [{label,score}...].
func decodeHFScores(raw []byte) ([]hfScore, error) {
	var nested [][]hfScore
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}
	var flat []hfScore
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	return nil, errors.New("unexpected classifier response")
}
