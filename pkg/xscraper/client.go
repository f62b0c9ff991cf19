package xscraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/probeworks/scout/pkg/config"
)

// defaultRateLimitWait applies when the server omits or mangles Retry-After.
const defaultRateLimitWait = 900 * time.Second

// errServer marks retryable 5xx responses; errTransport marks retryable
// network-level failures.
var (
	errServer    = errors.New("server error")
	errTransport = errors.New("transport error")
)

// Client issues authenticated GraphQL requests through the credential pool,
// applying the platform's response policy and a count-based circuit breaker
// shared across all credentials.
type Client struct {
	doer       Doer
	pool       *Pool
	breaker    circuitbreaker.CircuitBreaker[any]
	logger     *slog.Logger
	baseURL    string
	userAgent  string
	queryIDs   map[string]string
	features   map[string]any
	maxRetries int
	timeout    time.Duration
	backoff    func(ctx context.Context, attempt int) error

	mu          sync.Mutex
	userIDCache map[string]string
}

// NewClient builds a client over the given transport and pool.
func NewClient(cfg config.XScraperConfig, pool *Pool, doer Doer) *Client {
	breaker := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(uint(cfg.CircuitBreakerThreshold)).
		WithDelay(cfg.CircuitBreakerCooldown).
		WithSuccessThreshold(1).
		Build()

	return &Client{
		doer:        doer,
		pool:        pool,
		breaker:     breaker,
		logger:      slog.With("component", "x_client"),
		baseURL:     graphqlBase,
		userAgent:   randomUserAgent(),
		queryIDs:    mergeOverrides(defaultQueryIDs, cfg.QueryIDs),
		features:    mergeOverrides(defaultFeatures, cfg.Features),
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.RequestTimeout,
		backoff:     sleepBackoff,
		userIDCache: make(map[string]string),
	}
}

// SetBaseURL points the client at a different GraphQL endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

// UserIDByScreenName resolves a username to its numeric user ID, caching the
// result for the lifetime of the client.
func (c *Client) UserIDByScreenName(ctx context.Context, username string) (string, error) {
	c.mu.Lock()
	if id, ok := c.userIDCache[username]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	data, err := c.do(ctx, "UserByScreenName", map[string]any{
		"screen_name": username,
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		User struct {
			Result struct {
				RestID string `json:"rest_id"`
			} `json:"result"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode user lookup: %w", err)
	}
	if decoded.User.Result.RestID == "" {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	c.mu.Lock()
	c.userIDCache[username] = decoded.User.Result.RestID
	c.mu.Unlock()
	return decoded.User.Result.RestID, nil
}

// UserTweetsPage fetches one timeline page for the user. The raw data object
// is handed to the timeline parser.
func (c *Client) UserTweetsPage(ctx context.Context, userID string, count int, cursor string) (json.RawMessage, error) {
	if count > 100 {
		count = 100
	}
	variables := map[string]any{
		"userId":                                 userID,
		"count":                                  count,
		"includePromotedContent":                 false,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":                              true,
		"withV2Timeline":                         true,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	return c.do(ctx, "UserTweets", variables)
}

// do runs one GraphQL operation with credential rotation, retries, and the
// circuit breaker.
func (c *Client) do(ctx context.Context, opName string, variables map[string]any) (json.RawMessage, error) {
	queryID, ok := c.queryIDs[opName]
	if !ok {
		return nil, fmt.Errorf("unknown graphql operation %q", opName)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.acquirePermit(ctx); err != nil {
			return nil, err
		}

		cred, err := c.pool.Get(ctx)
		if err != nil {
			c.breaker.RecordFailure()
			return nil, err
		}

		data, err := c.request(ctx, cred, queryID, opName, variables)
		if err == nil {
			c.breaker.RecordSuccess()
			c.pool.ReportSuccess(cred)
			return data, nil
		}
		lastErr = err
		c.breaker.RecordFailure()

		var rateLimit *RateLimitError
		var auth *AuthError
		switch {
		case errors.As(err, &rateLimit):
			c.pool.ReportRateLimit(cred, rateLimit.RetryAfter)
		case errors.As(err, &auth):
			c.pool.ReportAuthFailure(cred)
		case errors.Is(err, errServer) || errors.Is(err, errTransport):
			c.pool.ReportFailure(cred)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		default:
			c.pool.ReportFailure(cred)
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", opName, c.maxRetries+1, lastErr)
}

// acquirePermit waits out an open breaker rather than failing: a platform
// outage pauses the whole scraper for the cooldown, then the next request
// probes the half-open breaker.
func (c *Client) acquirePermit(ctx context.Context) error {
	for !c.breaker.TryAcquirePermit() {
		delay := c.breaker.RemainingDelay()
		if delay <= 0 {
			delay = 50 * time.Millisecond
		}
		c.logger.Warn("Circuit open, pausing requests", "wait", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrCircuitOpen, ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}

// request performs a single HTTP round trip and maps the response per the
// platform's status policy.
func (c *Client) request(ctx context.Context, cred Credential, queryID, opName string, variables map[string]any) (json.RawMessage, error) {
	reqURL, err := buildGraphQLURL(c.baseURL, queryID, opName, variables, c.features)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	applyHeaders(req, cred, c.userAgent)

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", opName, errors.Join(errTransport, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", opName, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Status: resp.StatusCode, Detail: truncate(string(body), 200)}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errServer, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &ClientError{Status: resp.StatusCode, Detail: truncate(string(body), 200)}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", opName, err)
	}

	if len(envelope.Errors) > 0 {
		hasData := len(envelope.Data) > 0 && string(envelope.Data) != "null"
		if hasData {
			c.logger.Warn("GraphQL response carried partial errors",
				"operation", opName, "first_error", envelope.Errors[0].Message)
			return envelope.Data, nil
		}
		return nil, mapGraphQLError(envelope.Errors[0].Code, envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, &ClientError{Status: resp.StatusCode, Detail: "response missing data"}
	}
	return envelope.Data, nil
}

// mapGraphQLError classifies GraphQL-level business errors: code 88 is the
// rate limiter, codes 32/64/89 are session failures.
func mapGraphQLError(code int, message string) error {
	lower := strings.ToLower(message)
	switch {
	case code == 88 || strings.Contains(lower, "rate limit"):
		return &RateLimitError{RetryAfter: defaultRateLimitWait}
	case code == 32 || code == 64 || code == 89,
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "forbidden"),
		strings.Contains(lower, "authenticate"):
		return &AuthError{Status: http.StatusOK, Detail: message}
	default:
		return &ClientError{Status: http.StatusOK, Detail: fmt.Sprintf("graphql error %d: %s", code, message)}
	}
}

// parseRetryAfter accepts only base-10 integer seconds; anything else gets
// the default wait.
func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return defaultRateLimitWait
	}
	return time.Duration(seconds) * time.Second
}

// sleepBackoff waits (attempt+1)*2 seconds with jitter, honoring cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(attempt+1) * 2 * time.Second
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
