// Package video submits story scripts to a text-to-video generation API.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Job is the submission payload.
type Job struct {
	StoryID string `json:"story_id"`
	Title   string `json:"title"`
	Script  string `json:"script"`
	Format  string `json:"format"`
}

// StatusError reports a non-2xx answer from the video API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string    { return fmt.Sprintf("video API error: status %d", e.Code) }
func (e *StatusError) HTTPStatus() int { return e.Code }

// Client talks to the generation endpoint.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: 60 * time.Second}}
}

// Submit starts a generation job and returns its id.
func (c *Client) Submit(ctx context.Context, job Job) (string, error) {
	if job.Format == "" {
		job.Format = "short"
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("error make JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error HTTP request to video API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{Code: resp.StatusCode}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode video API response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("video API returned no job id")
	}
	return out.ID, nil
}
