package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/audiolibrelab/micnote/internal/session"
)

const (
	noteEndpoint       = "/note"
	noteRequestTimeout = 30 * time.Second
)

// StatusError is returned when the note service answers with anything but
// 202 Accepted
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("note service returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("note service returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// NoteServiceClient saves records through the HTTP note service. The
// service owns its table, so EnsureTable is a no-op.
type NoteServiceClient struct {
	baseURL string
	client  *http.Client
}

func NewNoteServiceClient(baseURL string) (*NoteServiceClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("note service URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid note service URL: %w", err)
	}
	return &NoteServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: noteRequestTimeout},
	}, nil
}

func (c *NoteServiceClient) EnsureTable(context.Context, string) error { return nil }

func (c *NoteServiceClient) Save(ctx context.Context, _ string, record *session.UploadRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+noteEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("note service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

func (c *NoteServiceClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
