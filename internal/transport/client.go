// Package transport talks to the remote research service over HTTP.
package transport

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

	"researchdesk/internal/logging"
	"researchdesk/internal/research"

	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the research service address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// DefaultHealthTimeout bounds a shared health probe.
const DefaultHealthTimeout = 5 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// ClientConfig holds transport settings.
type ClientConfig struct {
	BaseURL   string
	UserAgent string

	// HealthTimeout bounds one shared health probe; zero means no deadline.
	// Ask never sets a timeout of its own; deadlines come from the caller.
	HealthTimeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// DefaultClientConfig returns the config for a local research service.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:       DefaultBaseURL,
		UserAgent:     "researchdesk",
		HealthTimeout: DefaultHealthTimeout,
	}
}

// Client calls POST /ask and GET /health on the research service.
type Client struct {
	baseURL       string
	userAgent     string
	healthTimeout time.Duration
	httpClient    *http.Client
	probes        singleflight.Group
}

type askRequest struct {
	Question string `json:"question"`
}

// HealthStatus is the outcome of one health probe.
type HealthStatus struct {
	OK         bool
	StatusCode int
	Payload    map[string]interface{} // set when the body is a JSON object
	Raw        string
	Latency    time.Duration
}

// NewClient creates a client for baseURL with default settings.
func NewClient(baseURL string) *Client {
	cfg := DefaultClientConfig()
	cfg.BaseURL = baseURL
	return NewClientWithConfig(cfg)
}

// NewClientWithConfig creates a client from cfg.
func NewClientWithConfig(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:       strings.TrimSpace(cfg.BaseURL),
		userAgent:     cfg.UserAgent,
		healthTimeout: cfg.HealthTimeout,
		httpClient:    httpClient,
	}
}

// BaseURL returns the configured service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ask submits question and decodes the answer envelope. It makes exactly one
// attempt. Failures are *research.Error values classified as service or
// connectivity errors.
func (c *Client) Ask(ctx context.Context, question string) (*research.Envelope, error) {
	q, err := research.NormalizeQuestion(question)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(askRequest{Question: q})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := JoinURL(c.baseURL, "/ask")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, c.connectivityError(ctx, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	logging.TransportDebug("POST %s (%d chars)", endpoint, len(q))
	timer := logging.StartTimer(logging.CategoryTransport, "ask")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		timer.Stop()
		logging.TransportWarn("ask failed before any response: %v", err)
		return nil, c.connectivityError(ctx, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := timer.StopWithThreshold(30 * time.Second)
	logging.Transport("ask: HTTP %d in %v (%d bytes)", resp.StatusCode, elapsed, len(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := ExtractDetail(body)
		return nil, research.ServiceError(resp.StatusCode, detail, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if readErr != nil {
		return nil, research.ServiceError(resp.StatusCode, "", fmt.Errorf("failed to read response: %w", readErr))
	}

	env, warnings, err := research.DecodeEnvelope(body)
	if err != nil {
		logging.TransportError("invalid envelope: %v", err)
		return nil, research.ServiceError(resp.StatusCode, "", err)
	}
	for _, w := range warnings {
		logging.TransportWarn("partial data: %v", w)
	}
	return env, nil
}

// Health probes GET /health. Concurrent probes share one request, which runs
// detached from any single caller and is bounded by the client's health
// timeout. Each caller still stops waiting when its own ctx is done. A
// reachable service that answers non-2xx yields a status with OK false and a
// nil error.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	probeCtx := context.WithoutCancel(ctx)
	ch := c.probes.DoChan("health", func() (interface{}, error) {
		pctx, cancel := probeCtx, context.CancelFunc(func() {})
		if c.healthTimeout > 0 {
			pctx, cancel = context.WithTimeout(probeCtx, c.healthTimeout)
		}
		defer cancel()
		return c.probe(pctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			logging.TransportDebug("health probe shared with a concurrent caller")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		status := *res.Val.(*HealthStatus)
		return &status, nil
	case <-ctx.Done():
		return nil, c.connectivityError(ctx, ctx.Err())
	}
}

func (c *Client) probe(ctx context.Context) (*HealthStatus, error) {
	endpoint := JoinURL(c.baseURL, "/health")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, c.connectivityError(ctx, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.TransportWarn("health probe failed: %v", err)
		logging.AuditWithCategory(logging.CategoryTransport).Log(logging.AuditEvent{
			EventType:  logging.AuditHealthProbe,
			Target:     endpoint,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      err.Error(),
		})
		return nil, c.connectivityError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}

	status := &HealthStatus{
		OK:         resp.StatusCode >= 200 && resp.StatusCode <= 299,
		StatusCode: resp.StatusCode,
		Raw:        strings.TrimSpace(string(body)),
		Latency:    time.Since(start),
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil && payload != nil {
		status.Payload = payload
	}

	logging.Transport("health: HTTP %d in %v", status.StatusCode, status.Latency)
	logging.AuditWithCategory(logging.CategoryTransport).Log(logging.AuditEvent{
		EventType:  logging.AuditHealthProbe,
		Target:     endpoint,
		Success:    status.OK,
		DurationMs: status.Latency.Milliseconds(),
		Fields:     map[string]interface{}{"status": status.StatusCode},
	})
	return status, nil
}

// connectivityError classifies a failure that happened before any response.
func (c *Client) connectivityError(ctx context.Context, err error) *research.Error {
	target := c.baseURL
	if target == "" {
		target = "the current origin"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return research.ConnectivityError(TimeoutMessage(target), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return research.ConnectivityError("The request was cancelled.", err)
	}
	return research.ConnectivityError(UnreachableMessage(target), err)
}

// UnreachableMessage is the connectivity failure text for base.
func UnreachableMessage(base string) string {
	return fmt.Sprintf("Could not reach the research service at %s. Check that the backend is running and that base_url is configured correctly.", base)
}

// TimeoutMessage is the failure text for a request that outlived its deadline.
func TimeoutMessage(base string) string {
	return fmt.Sprintf("The research service at %s did not answer before the request timeout. Try again or raise service.request_timeout.", base)
}

// ExtractDetail pulls a human-readable failure detail out of an error body.
// It understands {"detail": "..."} and the list form
// {"detail": [{"msg": "..."}, ...]}. It returns "" when neither applies.
func ExtractDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return ""
		}
		return s
	}

	var items []json.RawMessage
	if err := json.Unmarshal(envelope.Detail, &items); err != nil {
		return ""
	}
	var msgs []string
	for _, item := range items {
		var entry struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(item, &entry); err == nil && strings.TrimSpace(entry.Msg) != "" {
			msgs = append(msgs, entry.Msg)
			continue
		}
		if err := json.Unmarshal(item, &s); err == nil && strings.TrimSpace(s) != "" {
			msgs = append(msgs, s)
		}
	}
	return strings.Join(msgs, "; ")
}

// JoinURL joins base and path with exactly one slash. An empty base yields
// path unchanged, i.e. a relative URL.
func JoinURL(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
