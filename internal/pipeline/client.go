package pipeline

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

	"ludexdash/internal/dashlog"
	"ludexdash/internal/protocol"
)

const defaultGenre = "Unknown"

var ErrEmptyConcept = errors.New("concept is required")

type ClientOptions struct {
	StartURL   string
	MetricsURL string
	HealthURL  string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logf       func(format string, args ...any)
}

// Client talks to the pipeline backend's HTTP endpoints. Events arrive on
// the websocket, not here.
type Client struct {
	startURL   string
	metricsURL string
	healthURL  string
	http       *http.Client
	logf       func(format string, args ...any)
}

type StartRequest struct {
	Concept string `json:"concept"`
	Genre   string `json:"genre"`
}

type StartResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.URL, e.StatusCode, e.Body)
}

func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Client{
		startURL:   strings.TrimSpace(opts.StartURL),
		metricsURL: strings.TrimSpace(opts.MetricsURL),
		healthURL:  strings.TrimSpace(opts.HealthURL),
		http:       hc,
		logf:       logf,
	}
}

// Start queues a new pipeline run. The events of the run are broadcast to
// every connected websocket, so callers connect before starting.
func (c *Client) Start(ctx context.Context, concept, genre string) (StartResponse, error) {
	req := StartRequest{
		Concept: strings.TrimSpace(concept),
		Genre:   strings.TrimSpace(genre),
	}
	if req.Concept == "" {
		return StartResponse{}, ErrEmptyConcept
	}
	if req.Genre == "" {
		req.Genre = defaultGenre
	}
	body, err := json.Marshal(req)
	if err != nil {
		return StartResponse{}, err
	}
	var out StartResponse
	if err := c.do(ctx, http.MethodPost, c.startURL, body, &out); err != nil {
		return StartResponse{}, err
	}
	c.logf("pipeline: start accepted status=%s concept=%q genre=%q", out.Status, req.Concept, req.Genre)
	return out, nil
}

// Metrics fetches the execution summary. The backend answers with the bare
// summary object; a {"metrics": {...}} wrapper is accepted as well.
func (c *Client) Metrics(ctx context.Context) (protocol.Metrics, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.metricsURL, nil, &raw); err != nil {
		return protocol.Metrics{}, err
	}
	var wrapped struct {
		Metrics *protocol.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Metrics != nil {
		return *wrapped.Metrics, nil
	}
	var m protocol.Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return protocol.Metrics{}, fmt.Errorf("decode metrics: %w", err)
	}
	return m, nil
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, c.healthURL, nil, &out); err != nil {
		return HealthResponse{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	if url == "" {
		return fmt.Errorf("%s: endpoint url is not configured", method)
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: dashlog.Preview(string(data), 200)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", url, err)
	}
	return nil
}
