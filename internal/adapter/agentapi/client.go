// Package agentapi implements the upstream gateway port against a
// thread/run/messages style conversational-agent API.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sablehq/parley/internal/adapter/otel"
	"github.com/sablehq/parley/internal/domain"
	"github.com/sablehq/parley/internal/domain/conversation"
	"github.com/sablehq/parley/internal/domain/run"
	"github.com/sablehq/parley/internal/normalize"
	"github.com/sablehq/parley/internal/resilience"
)

// TokenSource supplies a non-expired bearer token or fails.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client talks to the upstream agent API. The agent identity is always
// the server-configured one; client-supplied identities are ignored.
type Client struct {
	baseURL    string
	agentID    string
	tokens     TokenSource
	httpClient *http.Client
	breaker    *resilience.Breaker
	metrics    *otel.Metrics
}

// NewClient creates an upstream gateway client.
func NewClient(baseURL, agentID string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		agentID: agentID,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetTimeout overrides the default per-call HTTP timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetMetrics attaches metric instruments counting upstream calls.
func (c *Client) SetMetrics(m *otel.Metrics) {
	c.metrics = m
}

// runEnvelope is the upstream run representation.
type runEnvelope struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   *int64 `json:"started_at"`
	CompletedAt *int64 `json:"completed_at"`
}

func (e runEnvelope) projection() *run.Run {
	return &run.Run{
		ID:          e.ID,
		ThreadID:    e.ThreadID,
		Status:      run.Status(e.Status),
		CreatedAt:   e.CreatedAt,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
}

// CreateThreadAndRun posts a new thread seeded with one user message and
// starts a run over it with the configured agent.
func (c *Client) CreateThreadAndRun(ctx context.Context, text string) (string, *run.Run, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil, domain.MissingField("text")
	}

	body, err := json.Marshal(map[string]any{
		"assistant_id": c.agentID,
		"thread": map[string]any{
			"messages": []map[string]any{
				{"role": "user", "content": text},
			},
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal thread+run: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/threads/runs", body)
	if err != nil {
		return "", nil, err
	}

	var env runEnvelope
	if err := json.Unmarshal(resp, &env); err != nil {
		return "", nil, fmt.Errorf("%w: decode thread+run: %v", domain.ErrTransport, err)
	}
	return env.ThreadID, env.projection(), nil
}

// AppendMessage posts a user message onto an existing thread.
func (c *Client) AppendMessage(ctx context.Context, threadID, text string) (string, error) {
	if threadID == "" {
		return "", domain.MissingField("threadId")
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.MissingField("content")
	}

	body, err := json.Marshal(map[string]any{
		"role":    "user",
		"content": text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("%w: decode message: %v", domain.ErrTransport, err)
	}
	return result.ID, nil
}

// StartRun starts a run on an existing thread.
func (c *Client) StartRun(ctx context.Context, threadID string) (*run.Run, error) {
	if threadID == "" {
		return nil, domain.MissingField("threadId")
	}

	body, err := json.Marshal(map[string]any{"assistant_id": c.agentID})
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}

	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var env runEnvelope
	if err := json.Unmarshal(resp, &env); err != nil {
		return nil, fmt.Errorf("%w: decode run: %v", domain.ErrTransport, err)
	}
	return env.projection(), nil
}

// GetRunStatus returns just the current status of a run.
func (c *Client) GetRunStatus(ctx context.Context, threadID, runID string) (run.Status, error) {
	if threadID == "" {
		return "", domain.MissingField("threadId")
	}
	if runID == "" {
		return "", domain.MissingField("runId")
	}

	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	var env runEnvelope
	if err := json.Unmarshal(resp, &env); err != nil {
		return "", fmt.Errorf("%w: decode run status: %v", domain.ErrTransport, err)
	}
	return run.Status(env.Status), nil
}

// ListMessages returns all messages on a thread with Text normalized and
// citation-stripped.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if threadID == "" {
		return nil, domain.MissingField("threadId")
	}

	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []conversation.Message `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("%w: decode messages: %v", domain.ErrTransport, err)
	}

	for i := range result.Data {
		result.Data[i].Text = normalize.StripCitations(normalize.InboundText(result.Data[i].Content))
	}
	return result.Data, nil
}

// doRequest issues one authorized HTTP call. Field validation has already
// happened, so this is the first point a credential is acquired.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.UpstreamCalls.Add(ctx, 1)
	}

	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("%w: create request: %v", domain.ErrTransport, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			// Read and discard the body: the status is all callers get.
			_, _ = io.Copy(io.Discard, resp.Body)
			return &domain.UpstreamError{Status: resp.StatusCode}
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
		}
		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
