// Package entitystore is the HTTP client for the external entity store that
// owns loan deals. Every call has a timeout, is rate limited and is retried
// on network errors and 5xx responses.
package entitystore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/mismo/pkg/auth"
	"github.com/Mindburn-Labs/mismo/pkg/canonical"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/retry"
)

// Audience is the aud claim of tokens sent to the entity store.
const Audience = "entity-store"

// ErrDealNotFound is returned when the entity store has no deal for a reference.
var ErrDealNotFound = errors.New("deal not found")

// StatusError is a non-success HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("entitystore: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether the response is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
	RPS     float64
	Burst   int
	Retry   retry.Policy
	// HTTPClient defaults to a client without its own timeout; per-call
	// timeouts come from Timeout.
	HTTPClient *http.Client
}

// Client talks to the entity store.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	retrier *retry.Retrier
	signer  *auth.TokenSigner
	logger  *slog.Logger
}

// New creates a Client. A zero RPS disables rate limiting; an empty secret
// sends requests without a token.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("entitystore: invalid base url %q", cfg.BaseURL)
	}
	c := &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  slog.Default().With("component", "entitystore"),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy
	}
	c.retrier = retry.New(policy)
	if cfg.Secret != "" {
		if c.signer, err = auth.NewTokenSigner(cfg.Secret, Audience); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchDeal loads and decodes the deal for ref.
func (c *Client) FetchDeal(ctx context.Context, ref string) (*canonical.Deal, error) {
	if ref == "" {
		return nil, fmt.Errorf("entitystore: deal reference is required")
	}
	var body []byte
	err := c.do(ctx, "fetch", "entitystore:fetch:"+ref, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("v1", "deals", ref), nil)
	}, func(resp *http.Response) error {
		var err error
		body, err = io.ReadAll(resp.Body)
		return err
	})
	var serr *StatusError
	if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("entitystore: fetch %s: %w", ref, ErrDealNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("entitystore: fetch %s: %w", ref, err)
	}
	deal, err := canonical.DecodeDeal(body)
	if err != nil {
		return nil, fmt.Errorf("entitystore: fetch %s: %w", ref, err)
	}
	return deal, nil
}

type createRequest struct {
	Deal          *canonical.Deal          `json:"deal"`
	UnmappedNodes []contracts.UnmappedNode `json:"unmapped_nodes"`
}

type createResponse struct {
	Reference string `json:"reference"`
}

// CreateDeal stores an imported deal and returns its new reference. The
// idempotency key makes retried creations safe.
func (c *Client) CreateDeal(ctx context.Context, deal *canonical.Deal, unmapped []contracts.UnmappedNode, idempotencyKey string) (string, error) {
	if unmapped == nil {
		unmapped = []contracts.UnmappedNode{}
	}
	payload, err := json.Marshal(createRequest{Deal: deal, UnmappedNodes: unmapped})
	if err != nil {
		return "", fmt.Errorf("entitystore: create: %w", err)
	}

	var out createResponse
	err = c.do(ctx, "create", "entitystore:create:"+idempotencyKey, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("v1", "deals"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}
		return req, nil
	}, func(resp *http.Response) error {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		if out.Reference == "" {
			return retry.Permanent(errors.New("response carries no deal reference"))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("entitystore: create: %w", err)
	}
	return out.Reference, nil
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return u.String()
}

// do runs one logical call: rate limit, per-attempt timeout, token, retries.
func (c *Client) do(ctx context.Context, op, key string, build func(context.Context) (*http.Request, error), handle func(*http.Response) error) error {
	return c.retrier.Do(ctx, key, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := build(callCtx)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.signer != nil {
			token, err := c.signer.Sign("deals")
			if err != nil {
				return retry.Permanent(err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			c.logger.WarnContext(ctx, "entity store call failed", "op", op, "attempt", attempt, "error", err)
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			if serr.Retryable() {
				c.logger.WarnContext(ctx, "entity store call failed", "op", op, "attempt", attempt, "status", resp.StatusCode)
				return serr
			}
			return retry.Permanent(serr)
		}
		return handle(resp)
	})
}
