package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/matcher"
	"classtrack/internal/outbox"
)

// Client talks to the central ledger API. SendEvent satisfies the outbox
// sender's Ledger interface.
type Client struct {
	parsedURL *url.URL
	token     string
	http      *http.Client
}

// NewClient creates a ledger client for the given base URL. The token is
// optional; when set it is sent as a bearer token on every request.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger URL %q: %w", baseURL, err)
	}
	return &Client{
		parsedURL: u,
		token:     token,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// readErrorBody reads the response body for error messages.
// Returns empty string if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// SendEvent posts one identity event to the ledger. A 4xx response is a
// PermanentError: the ledger rejected the event itself and re-sending the
// same bytes can never succeed, so the outbox dead-letters it. Everything
// else (5xx, network failure) is transient and retried.
func (c *Client) SendEvent(ctx context.Context, ev attendance.IdentityEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return &outbox.PermanentError{Reason: fmt.Sprintf("encode event: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.parsedURL.JoinPath("api", "v1", "events").String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &outbox.PermanentError{
			Reason: fmt.Sprintf("ledger rejected event (%d): %s", resp.StatusCode, readErrorBody(resp.Body)),
		}
	default:
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

// FetchRoster downloads the room's roster with face embeddings. Students
// without an embedding cannot be matched and are skipped.
func (c *Client) FetchRoster(ctx context.Context, roomID string) ([]matcher.RosterEntry, error) {
	u := c.parsedURL.JoinPath("api", "v1", "students")
	q := u.Query()
	q.Set("room_id", roomID)
	q.Set("embeddings", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build roster request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster fetch returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var students []attendance.Student
	if err := json.NewDecoder(resp.Body).Decode(&students); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}

	entries := make([]matcher.RosterEntry, 0, len(students))
	for _, s := range students {
		if len(s.Embedding) == 0 {
			continue
		}
		entries = append(entries, matcher.RosterEntry{
			StudentID: s.ID,
			Embedding: s.Embedding,
		})
	}
	return entries, nil
}
