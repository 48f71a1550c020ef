// Package httpapi is a provider.Provider for accounting systems exposing a
// JSON REST API with invoice, payment and bank transaction endpoints.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/barre/provider"
	"github.com/xraph/barre/syncrecord"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRate    = 5
	defaultBurst   = 5
	dateLayout     = "2006-01-02"

	invoicesPath         = "/invoices"
	paymentsPath         = "/payments"
	bankTransactionsPath = "/bank-transactions"
)

// TokenSource hands out a current access token for a studio. Tokens stay
// with the OAuth collaborator; the client never stores them.
type TokenSource interface {
	AccessToken(ctx context.Context, studioKey string) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, studioKey string) (string, error)

func (f TokenSourceFunc) AccessToken(ctx context.Context, studioKey string) (string, error) {
	return f(ctx, studioKey)
}

// Client talks to one accounting API.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     TokenSource
}

// Ensure Client implements provider.Provider
var _ provider.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a client registered under name and rooted at baseURL.
func New(name, baseURL string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRate), defaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Push sends the transaction to the endpoint for its object type.
func (c *Client) Push(ctx context.Context, req *provider.PushRequest) (*provider.PushResult, error) {
	path, err := pathFor(req.ObjectType)
	if err != nil {
		return nil, err
	}
	method := http.MethodPost
	if req.Update() {
		method = http.MethodPut
		path += "/" + req.ExternalObjectID
	}

	body, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, fmt.Errorf("httpapi: marshal %s: %w", req.ObjectType, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("httpapi: rate limit: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpapi: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if req.TenantID != "" {
		httpReq.Header.Set("X-Tenant-Id", req.TenantID)
	}
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx, req.StudioKey)
		if err != nil {
			return nil, fmt.Errorf("httpapi: access token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpapi: execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpapi: read response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(resp.StatusCode, respBody)
	}

	var created objectResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("httpapi: unmarshal response: %w", err)
	}
	if created.ID == "" {
		created.ID = req.ExternalObjectID
	}
	if created.ID == "" {
		return nil, fmt.Errorf("httpapi: %s response carried no object id", req.ObjectType)
	}
	return &provider.PushResult{ExternalObjectID: created.ID}, nil
}

// classify maps a non-2xx status onto a Rejection or a transient error.
// Auth failures (401, 403), an in-flight idempotency key (409), 408 and
// 429 say nothing about the transaction itself and clear on retry.
func classify(status int, body []byte) error {
	var errResp errorResponse
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		msg = errResp.Message
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusConflict, status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return fmt.Errorf("httpapi: status %d: %s", status, msg)
	case status >= 400 && status < 500:
		return &provider.Rejection{Code: errResp.Code, Reason: fmt.Sprintf("status %d: %s", status, msg)}
	default:
		return fmt.Errorf("httpapi: status %d: %s", status, msg)
	}
}

func pathFor(t syncrecord.ObjectType) (string, error) {
	switch t {
	case syncrecord.ObjectInvoice:
		return invoicesPath, nil
	case syncrecord.ObjectPayment:
		return paymentsPath, nil
	case syncrecord.ObjectBankTransaction:
		return bankTransactionsPath, nil
	default:
		return "", provider.Reject("unsupported_object", "object type %q is not supported", t)
	}
}
