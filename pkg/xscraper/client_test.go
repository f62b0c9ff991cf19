package xscraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeworks/scout/pkg/config"
)

func testClientConfig() config.XScraperConfig {
	cfg := config.DefaultXScraperConfig()
	cfg.MaxRetries = 3
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func newTestClient(t *testing.T, handler http.Handler, creds ...Credential) (*Client, *Pool) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	pool := NewPool(creds)
	client := NewClient(testClientConfig(), pool, http.DefaultClient)
	client.SetBaseURL(server.URL)
	client.backoff = func(ctx context.Context, attempt int) error { return nil }
	return client, pool
}

const userLookupResponse = `{"data": {"user": {"result": {"rest_id": "42"}}}}`

func TestUserIDByScreenName(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Contains(t, r.URL.Path, "UserByScreenName")
		assert.Equal(t, webBearerToken, r.Header.Get("Authorization"))
		assert.Equal(t, "csrfA", r.Header.Get("x-csrf-token"))
		assert.Equal(t, "OAuth2Session", r.Header.Get("x-twitter-auth-type"))

		authCookie, err := r.Cookie("auth_token")
		require.NoError(t, err)
		assert.Equal(t, "tokenA", authCookie.Value)
		csrfCookie, err := r.Cookie("ct0")
		require.NoError(t, err)
		assert.Equal(t, "csrfA", csrfCookie.Value)

		assert.Contains(t, r.URL.Query().Get("variables"), `"screen_name":"alice"`)
		assert.NotEmpty(t, r.URL.Query().Get("features"))

		_, _ = w.Write([]byte(userLookupResponse))
	}), Credential{AuthToken: "tokenA", CSRFToken: "csrfA"})

	id, err := client.UserIDByScreenName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	// Second lookup is served from the cache.
	id, err = client.UserIDByScreenName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, int32(1), requests.Load())
}

func TestUserIDByScreenNameNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"user": {}}}`))
	}), Credential{AuthToken: "tokenA", CSRFToken: "csrfA"})

	_, err := client.UserIDByScreenName(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserTweetsPageVariables(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "UserTweets")
		vars := r.URL.Query().Get("variables")
		assert.Contains(t, vars, `"userId":"42"`)
		assert.Contains(t, vars, `"includePromotedContent":false`)
		assert.Contains(t, vars, `"cursor":"abc"`)
		_, _ = w.Write([]byte(`{"data": {"user": {"result": {}}}}`))
	}), Credential{AuthToken: "tokenA", CSRFToken: "csrfA"})

	_, err := client.UserTweetsPage(context.Background(), "42", 20, "abc")
	require.NoError(t, err)
}

func TestRateLimitRotatesCredential(t *testing.T) {
	client, pool := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := r.Cookie("auth_token")
		if cookie.Value == "tokenA" {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(userLookupResponse))
	}),
		Credential{AuthToken: "tokenA", CSRFToken: "csrfA"},
		Credential{AuthToken: "tokenB", CSRFToken: "csrfB"},
	)

	id, err := client.UserIDByScreenName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	var cooling int
	for _, st := range pool.Status() {
		if st.CoolingDown {
			cooling++
		}
	}
	assert.Equal(t, 1, cooling)
}

func TestAuthFailureDisablesCredential(t *testing.T) {
	client, pool := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, _ := r.Cookie("auth_token")
		if cookie.Value == "tokenA" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(userLookupResponse))
	}),
		Credential{AuthToken: "tokenA", CSRFToken: "csrfA"},
		Credential{AuthToken: "tokenB", CSRFToken: "csrfB"},
	)

	id, err := client.UserIDByScreenName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	var disabled int
	for _, st := range pool.Status() {
		if st.Disabled {
			disabled++
		}
	}
	assert.Equal(t, 1, disabled)
}

func TestAllCredentialsDisabled(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}),
		Credential{AuthToken: "tokenA", CSRFToken: "csrfA"},
		Credential{AuthToken: "tokenB", CSRFToken: "csrfB"},
	)

	_, err := client.UserIDByScreenName(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrAllCredentialsDisabled)
}

func TestServerErrorRetries(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(userLookupResponse))
	}), Credential{AuthToken: "tokenA", CSRFToken: "csrfA"})

	id, err := client.UserIDByScreenName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, int32(3), requests.Load())
}

func TestGraphQLBusinessErrors(t *testing.T) {
	t.Run("code 88 is a rate limit", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"errors": [{"message": "Rate limit exceeded", "code": 88}]}`))
		}),
			Credential{AuthToken: "tokenA", CSRFToken: "csrfA"},
			Credential{AuthToken: "tokenB", CSRFToken: "csrfB"},
		)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := client.UserIDByScreenName(ctx, "alice")
		require.Error(t, err)
	})

	t.Run("code 32 is an auth failure", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"errors": [{"message": "Could not authenticate you", "code": 32}]}`))
		}), Credential{AuthToken: "tokenA", CSRFToken: "csrfA"})
		_, err := client.UserIDByScreenName(context.Background(), "alice")
		assert.ErrorIs(t, err, ErrAllCredentialsDisabled)
	})

	t.Run("partial errors with data succeed", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": {"user": {"result": {"rest_id": "42"}}}, "errors": [{"message": "partial", "code": 1}]}`))
		}), Credential{AuthToken: "tokenA", CSRFToken: "csrfA"})
		id, err := client.UserIDByScreenName(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "42", id)
	})
}

func TestCircuitBreakerPausesThenRecovers(t *testing.T) {
	cfg := testClientConfig()
	cfg.MaxRetries = 10
	cfg.CircuitBreakerThreshold = 2
	cfg.CircuitBreakerCooldown = 30 * time.Millisecond

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(userLookupResponse))
	}))
	defer server.Close()

	pool := NewPool([]Credential{{AuthToken: "tokenA", CSRFToken: "csrfA"}})
	client := NewClient(cfg, pool, http.DefaultClient)
	client.SetBaseURL(server.URL)
	client.backoff = func(ctx context.Context, attempt int) error { return nil }

	start := time.Now()
	id, err := client.UserIDByScreenName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, int32(3), requests.Load())
	assert.GreaterOrEqual(t, time.Since(start), cfg.CircuitBreakerCooldown,
		"the request after the breaker opens waits out the cooldown")
}

func TestCircuitBreakerOpenHonorsCancellation(t *testing.T) {
	cfg := testClientConfig()
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerCooldown = time.Hour

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pool := NewPool([]Credential{{AuthToken: "tokenA", CSRFToken: "csrfA"}})
	client := NewClient(cfg, pool, http.DefaultClient)
	client.SetBaseURL(server.URL)
	client.backoff = func(ctx context.Context, attempt int) error { return nil }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.UserIDByScreenName(ctx, "alice")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 120*time.Second, parseRetryAfter("120"))
	assert.Equal(t, 120*time.Second, parseRetryAfter(" 120 "))
	assert.Equal(t, defaultRateLimitWait, parseRetryAfter(""))
	assert.Equal(t, defaultRateLimitWait, parseRetryAfter("soon"))
	assert.Equal(t, defaultRateLimitWait, parseRetryAfter("-5"))
	assert.Equal(t, defaultRateLimitWait, parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}

func TestMapGraphQLError(t *testing.T) {
	assert.ErrorIs(t, mapGraphQLError(88, "over the limit"), ErrRateLimited)
	assert.ErrorIs(t, mapGraphQLError(0, "Rate limit exceeded"), ErrRateLimited)
	assert.ErrorIs(t, mapGraphQLError(32, "bad session"), ErrAuthFailure)
	assert.ErrorIs(t, mapGraphQLError(64, "suspended"), ErrAuthFailure)
	assert.ErrorIs(t, mapGraphQLError(89, "expired"), ErrAuthFailure)
	assert.ErrorIs(t, mapGraphQLError(0, "Could not authenticate you"), ErrAuthFailure)

	var clientErr *ClientError
	assert.ErrorAs(t, mapGraphQLError(7, "something else"), &clientErr)
}
