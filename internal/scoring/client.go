package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Backoff policy for transient upstream failures: maxAttempts total tries,
// exponential delay starting at initialBackoff, doubled per attempt, with up
// to 50% additive jitter.
const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	defaultTimeout = 30 * time.Second
)

const maxErrorBodySize = 4 << 10 // 4KB

// Client calls the remote AI scoring service over HTTP. Transient failures
// (HTTP 429 and 5xx) are retried with exponential backoff; all other
// failures propagate immediately.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	onRetry    func()
}

// NewClient creates a scoring client for the given base URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		attempts: maxAttempts,
		backoff:  initialBackoff,
	}
}

// OnRetry registers fn to be invoked once per retry of a transient failure.
// The daemon hooks its scoring-retry counter here.
func (c *Client) OnRetry(fn func()) {
	c.onRetry = fn
}

// scoreRequest is the JSON body for POST /v1/score.
type scoreRequest struct {
	Text       string `json:"text"`
	FormatHint string `json:"format_hint,omitempty"`
}

// Score submits text for analysis and returns the parsed result, retrying
// transient failures per the package backoff policy.
func (c *Client) Score(ctx context.Context, text, formatHint string) (*Result, error) {
	var result Result
	if err := c.postJSON(ctx, "/v1/score", scoreRequest{Text: text, FormatHint: formatHint}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EditSuggestion is the scoring service's proposed rewrite for one scene.
type EditSuggestion struct {
	SuggestedText  string `json:"suggested_text"`
	Reasoning      string `json:"reasoning"`
	Priority       string `json:"priority"`
	Area           string `json:"area"`
	ExpectedImpact string `json:"expected_impact"`
	Agent          string `json:"agent,omitempty"`
}

// suggestRequest is the JSON body for POST /v1/suggest.
type suggestRequest struct {
	Text       string `json:"text"`
	FormatHint string `json:"format_hint,omitempty"`
}

// SuggestEdit asks the service for an improved rewrite of one scene.
func (c *Client) SuggestEdit(ctx context.Context, sceneText, formatHint string) (*EditSuggestion, error) {
	var suggestion EditSuggestion
	if err := c.postJSON(ctx, "/v1/suggest", suggestRequest{Text: sceneText, FormatHint: formatHint}, &suggestion); err != nil {
		return nil, err
	}
	return &suggestion, nil
}

// postJSON posts reqBody to path and decodes the 200 response into out,
// retrying transient upstream failures.
func (c *Client) postJSON(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		err := c.doPost(ctx, path, body, out)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		lastErr = err
		if attempt < c.attempts-1 {
			if c.onRetry != nil {
				c.onRetry()
			}
			delay := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("scoring failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) doPost(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scoring request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
