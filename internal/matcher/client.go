// Package matcher is the HTTP client for the remote enrollment and matching service.
package matcher

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

	"github.com/google/uuid"

	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/model"
)

const (
	defaultTimeout  = 15 * time.Second
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// ErrIdentityMissing is returned when enroll or authenticate is called without an identity.
var ErrIdentityMissing = errors.New("identity is required")

// ProtocolError reports a transport, status or payload failure from the matcher.
type ProtocolError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Op)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Client talks to the matcher over JSON/HTTP.
type Client struct {
	base    *url.URL
	http    *http.Client
	log     *logger.Logger
	schemas *payloadSchemas
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client for the matcher at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("matcher url is empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse matcher url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("matcher url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     logger.Nop(),
		schemas: loadSchemas(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type featuresRequest struct {
	Username string              `json:"username"`
	Features model.FeatureVector `json:"features"`
}

type countResponse struct {
	ExpectedFeatureCount int `json:"expected_feature_count"`
}

type enrollResponse struct {
	Status       string `json:"status"`
	ModelType    string `json:"model_type"`
	Message      string `json:"message"`
	SamplesCount int    `json:"samples_count"`
}

type authResponse struct {
	Authenticated *bool    `json:"authenticated"`
	Decision      string   `json:"decision"`
	Status        string   `json:"status"`
	Confidence    *float64 `json:"confidence"`
	ModelType     string   `json:"model_type"`
	Message       string   `json:"message"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// ExpectedFeatureCount implements schema.CountFetcher. An empty identity asks
// for the system default.
func (c *Client) ExpectedFeatureCount(ctx context.Context, identity string) (int, error) {
	const op = "expected_feature_count"
	query := url.Values{}
	if identity != "" {
		query.Set("username", identity)
	}
	body, err := c.do(ctx, op, http.MethodGet, "expected_feature_count", query, nil)
	if err != nil {
		return 0, err
	}
	if err := c.schemas.validate(op, body); err != nil {
		return 0, &ProtocolError{Op: op, Err: err}
	}
	var resp countResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &ProtocolError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return resp.ExpectedFeatureCount, nil
}

// Enroll submits a validated vector as an enrollment sample for identity.
func (c *Client) Enroll(ctx context.Context, identity string, v model.FeatureVector) (model.EnrollResult, error) {
	const op = "enroll"
	if identity == "" {
		return model.EnrollResult{}, ErrIdentityMissing
	}
	body, err := c.do(ctx, op, http.MethodPost, "enroll", nil, featuresRequest{Username: identity, Features: v})
	if err != nil {
		return model.EnrollResult{}, err
	}
	if err := c.schemas.validate(op, body); err != nil {
		return model.EnrollResult{}, &ProtocolError{Op: op, Err: err}
	}
	var resp enrollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.EnrollResult{}, &ProtocolError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return model.EnrollResult{
		Status:       resp.Status,
		ModelType:    resp.ModelType,
		Message:      resp.Message,
		SamplesCount: resp.SamplesCount,
	}, nil
}

// Authenticate asks the matcher to score a validated vector for identity.
func (c *Client) Authenticate(ctx context.Context, identity string, v model.FeatureVector) (model.AuthResult, error) {
	const op = "authenticate"
	if identity == "" {
		return model.AuthResult{}, ErrIdentityMissing
	}
	body, err := c.do(ctx, op, http.MethodPost, "authenticate", nil, featuresRequest{Username: identity, Features: v})
	if err != nil {
		return model.AuthResult{}, err
	}
	if err := c.schemas.validate(op, body); err != nil {
		return model.AuthResult{}, &ProtocolError{Op: op, Err: err}
	}
	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.AuthResult{}, &ProtocolError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return model.AuthResult{
		Decision:   decisionOf(resp),
		ModelType:  resp.ModelType,
		Confidence: resp.Confidence,
		Message:    resp.Message,
	}, nil
}

func decisionOf(resp authResponse) model.Decision {
	if resp.Authenticated != nil {
		if *resp.Authenticated {
			return model.DecisionAccept
		}
		return model.DecisionReject
	}
	word := resp.Decision
	if word == "" {
		word = resp.Status
	}
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "accept", "accepted", "authenticated", "genuine", "ok":
		return model.DecisionAccept
	case "reject", "rejected", "denied", "impostor":
		return model.DecisionReject
	default:
		return model.DecisionError
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.base.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reqBody io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &ProtocolError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return nil, &ProtocolError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug("Matcher: sending request",
		"op", op,
		"request_id", requestID,
		"url", endpoint.String())

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("Matcher: request failed",
			"op", op,
			"request_id", requestID,
			"error", err.Error())
		return nil, &ProtocolError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProtocolError{Op: op, StatusCode: resp.StatusCode, Detail: errorDetail(body)}
		c.log.Warn("Matcher: unexpected status",
			"op", op,
			"request_id", requestID,
			"status", resp.StatusCode,
			"detail", perr.Detail)
		return nil, perr
	}
	c.log.Debug("Matcher: response received",
		"op", op,
		"request_id", requestID,
		"status", resp.StatusCode)
	return body, nil
}

// errorDetail extracts the "detail" field of an error body, falling back to the raw text.
func errorDetail(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && len(e.Detail) > 0 {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil {
			return s
		}
		return string(e.Detail)
	}
	return strings.TrimSpace(string(body))
}
