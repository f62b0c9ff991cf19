// Package xscraper fetches microblog timelines directly from the platform's
// private GraphQL API using a rotating pool of session credentials.
package xscraper

import (
	"errors"
	"fmt"
	"time"
)

// Scraper errors. RateLimitError and AuthError wrap these sentinels so
// callers can branch with errors.Is while still reading the details.
var (
	ErrRateLimited            = errors.New("rate limited")
	ErrAuthFailure            = errors.New("authentication failure")
	ErrCircuitOpen            = errors.New("circuit breaker open")
	ErrAllCredentialsDisabled = errors.New("all credentials disabled")
	ErrNoCredentials          = errors.New("no credentials configured")
	ErrUserNotFound           = errors.New("user not found")
)

// RateLimitError carries the server-advised wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// AuthError marks a credential as rejected by the platform.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authentication failure (status %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("authentication failure (status %d)", e.Status)
}

func (e *AuthError) Unwrap() error { return ErrAuthFailure }

// ClientError is any other non-retryable platform rejection.
type ClientError struct {
	Status int
	Detail string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error (status %d): %s", e.Status, e.Detail)
}
