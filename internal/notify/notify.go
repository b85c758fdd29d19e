package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Level is the urgency of a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Message is a plain notification. Sinks decide how to render it.
type Message struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	URL    string            `json:"url,omitempty"`
	Level  Level             `json:"level"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Notifier delivers messages. Implementations must tolerate the same
// message being sent twice.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// StatusError is returned when a sink answers with a non-2xx status.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s API error: status %d: %s", e.Service, e.Code, e.Body)
	}
	return fmt.Sprintf("%s API error: status %d", e.Service, e.Code)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

// Multi sends to every notifier and joins their errors.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Len() int { return len(m.notifiers) }

// Noop drops everything.
type Noop struct{}

func (Noop) Send(context.Context, Message) error { return nil }

func defaultClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// postJSON posts payload and maps non-2xx answers to *StatusError.
func postJSON(ctx context.Context, client *http.Client, service, url string, payload any, header http.Header) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error make JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request to %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Service: service, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
