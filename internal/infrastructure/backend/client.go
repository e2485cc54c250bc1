// Package backend is the typed client for the recommendation backend. Every
// failure comes back as an *Error with a structured kind; callers never
// inspect message text to decide whether to retry.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ShopCurated/curator-go/internal/domain/experiments"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
)

const maxResponseBytes = 1 << 20

// ClientConfig holds the upstream endpoint settings.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	StartTimeout  time.Duration
	StatusTimeout time.Duration
	FetchTimeout  time.Duration
}

// Client talks to the recommendation backend over HTTP.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *logging.ChanneledLogger
}

// NewClient creates a backend client. Per-call timeouts come from cfg; the
// underlying http.Client carries no timeout of its own so the per-request
// context deadline is the single source of truth.
func NewClient(cfg ClientConfig, logger *logging.ChanneledLogger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

// StartSession starts a session, or idempotently resumes one when called
// again with the same request id. The hard timeout is applied here so the
// orchestrator sees a KindTimeout error instead of managing timers itself.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (*StartResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()

	var out StartResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, &Error{Kind: KindMalformedResponse, Err: errors.New("start response missing sessionId")}
	}
	return &out, nil
}

// GetSessionStatus fetches the current status of a session.
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchQuestions loads the questionnaire for an experience.
func (c *Client) FetchQuestions(ctx context.Context, experienceID string) (*QuestionsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	path := "/v1/questions"
	if experienceID != "" {
		path += "?experienceId=" + url.QueryEscape(experienceID)
	}

	var out QuestionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchExperiments loads the current experiment definitions.
func (c *Client) FetchExperiments(ctx context.Context) ([]experiments.Definition, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	var envelope experimentsEnvelope
	if err := c.do(ctx, http.MethodGet, "/v1/experiments", nil, &envelope); err != nil {
		return nil, err
	}

	defs := make([]experiments.Definition, 0, len(envelope.Experiments))
	for _, raw := range envelope.Experiments {
		def := experiments.Definition{Key: raw.Key}
		for _, v := range raw.Variants {
			def.Variants = append(def.Variants, experiments.Variant{Name: v.Name, Config: v.Config})
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// FetchConfig loads shop-level settings with conditional revalidation.
// When the backend answers 304 Not Modified, notModified is true and the
// caller keeps its cached copy.
func (c *Client) FetchConfig(ctx context.Context, etag string) (cfg ShopConfig, newEtag string, notModified bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/config", nil)
	if err != nil {
		return nil, "", false, &Error{Kind: KindNetworkFailure, Err: err}
	}
	c.setHeaders(req)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", false, c.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, etag, true, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", false, c.classifyTransport(ctx, err)
	}
	if resp.StatusCode >= 400 {
		return nil, "", false, c.classifyStatus(resp.StatusCode, body)
	}

	var out ShopConfig
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, "", false, &Error{Kind: KindMalformedResponse, Err: err}
	}
	return out, resp.Header.Get("ETag"), false, nil
}

// EmitEvent delivers one telemetry event. Callers treat delivery as
// best-effort; this method only reports the attempt's outcome.
func (c *Client) EmitEvent(ctx context.Context, event Event) error {
	return c.do(ctx, http.MethodPost, "/v1/events", event, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindNetworkFailure, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return &Error{Kind: KindNetworkFailure, Err: err}
	}
	c.setHeaders(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		classified := c.classifyTransport(ctx, err)
		c.logger.Backend().Debug("Backend request failed", "method", method, "path", path, "kind", KindOf(classified).String(), "duration", time.Since(start))
		return classified
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.classifyTransport(ctx, err)
	}

	if resp.StatusCode >= 400 {
		classified := c.classifyStatus(resp.StatusCode, raw)
		c.logger.Backend().Debug("Backend request rejected", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))
		return classified
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Kind: KindMalformedResponse, Err: err}
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) classifyTransport(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetworkFailure, Err: err}
}

func (c *Client) classifyStatus(code int, body []byte) error {
	// Gateway timeout shapes are treated like client-side timeouts: the
	// backend may still be working on the session behind the intermediary.
	if code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout {
		return &Error{Kind: KindTimeout, Code: code}
	}

	var envelope errorEnvelope
	message := http.StatusText(code)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}
	return &Error{Kind: KindServerError, Code: code, Message: message}
}
