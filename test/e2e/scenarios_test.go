package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/xscraper"
)

const tweetTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

// timelineEntry renders one tweet entry of a UserTweets response.
func timelineEntry(id, username, text string, at time.Time) string {
	return fmt.Sprintf(`{
		"entryId": "tweet-%s",
		"content": {
			"entryType": "TimelineTimelineItem",
			"itemContent": {
				"tweet_results": {
					"result": {
						"__typename": "Tweet",
						"rest_id": %q,
						"core": {"user_results": {"result": {"rest_id": "42", "legacy": {"screen_name": %q, "name": %q}}}},
						"legacy": {"full_text": %q, "created_at": %q}
					}
				}
			}
		}
	}`, id, id, username, username, text, at.UTC().Format(tweetTimeLayout))
}

// timelinePage wraps entries and a bottom cursor into a GraphQL envelope.
func timelinePage(cursor string, entries ...string) string {
	all := append([]string{}, entries...)
	if cursor != "" {
		all = append(all, fmt.Sprintf(`{
			"entryId": "cursor-bottom-0",
			"content": {"entryType": "TimelineTimelineCursor", "value": %q, "cursorType": "Bottom"}
		}`, cursor))
	}
	return fmt.Sprintf(`{"data": {"user": {"result": {"timeline_v2": {"timeline": {"instructions": [
		{"type": "TimelineAddEntries", "entries": [%s]}
	]}}}}}}`, strings.Join(all, ","))
}

const userLookupResponse = `{"data": {"user": {"result": {"rest_id": "42"}}}}`

// fastScraperConfig removes pacing so scenario tests run instantly.
func fastScraperConfig() config.XScraperConfig {
	cfg := config.DefaultXScraperConfig()
	cfg.Enabled = true
	cfg.RequestDelayMin, cfg.RequestDelayMax = 0, 0
	cfg.UserSwitchDelayMin, cfg.UserSwitchDelayMax = 0, 0
	cfg.RequestTimeout = 5 * time.Second
	cfg.MaxRetries = 1
	return cfg
}

func newGraphQLScraper(t *testing.T, cfg config.XScraperConfig, creds []xscraper.Credential,
	handler http.HandlerFunc) *xscraper.Scraper {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := xscraper.NewClient(cfg, xscraper.NewPool(creds), &http.Client{})
	client.SetBaseURL(server.URL)
	return xscraper.NewScraper(cfg, client)
}

// requestCursor pulls the pagination cursor from a UserTweets request.
func requestCursor(r *http.Request) string {
	var variables struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal([]byte(r.URL.Query().Get("variables")), &variables)
	return variables.Cursor
}

func TestScenarioHappyPathStopsAtDateWindow(t *testing.T) {
	recent := time.Now().Add(-2 * time.Hour)
	stale := time.Now().AddDate(0, 0, -10)

	var pageOne, pageTwo []string
	for i := 0; i < 10; i++ {
		pageOne = append(pageOne, timelineEntry(fmt.Sprintf("10%02d", i), "alice",
			fmt.Sprintf("post %d", i), recent.Add(time.Duration(i)*time.Minute)))
		pageTwo = append(pageTwo, timelineEntry(fmt.Sprintf("20%02d", i), "alice",
			fmt.Sprintf("old post %d", i), stale))
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "UserByScreenName"):
			fmt.Fprint(w, userLookupResponse)
		case requestCursor(r) == "":
			fmt.Fprint(w, timelinePage("C", pageOne...))
		default:
			fmt.Fprint(w, timelinePage("C2", pageTwo...))
		}
	}

	cfg := fastScraperConfig()
	scraper := newGraphQLScraper(t, cfg, []xscraper.Credential{{AuthToken: "tokenA", CSRFToken: "csrfA"}}, handler)

	app := NewTestApp(t,
		WithSources(config.Source{Type: models.SourceMicroblog, Name: "Alice", URL: "@alice"}),
		WithScraper(scraper),
	)
	app.Config.XScraper = cfg

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.SourceErrors)
	assert.Equal(t, 10, summary.CountsBySourceType[models.SourceMicroblog],
		"the stale page short-circuits by date")

	matches, err := filepath.Glob(filepath.Join(app.BatchDir(), "By-Domain", "*", "*", "*.md"))
	require.NoError(t, err)
	assert.Len(t, matches, 10)
}

func TestScenarioRateLimitRotatesCredentials(t *testing.T) {
	recent := time.Now().Add(-time.Hour)
	handler := func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("auth_token"); err == nil && cookie.Value == "AAAAtoken" {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if strings.Contains(r.URL.Path, "UserByScreenName") {
			fmt.Fprint(w, userLookupResponse)
			return
		}
		fmt.Fprint(w, timelinePage("", timelineEntry("1001", "alice", "still here", recent)))
	}

	cfg := fastScraperConfig()
	scraper := newGraphQLScraper(t, cfg, []xscraper.Credential{
		{AuthToken: "AAAAtoken", CSRFToken: "csrfA"},
		{AuthToken: "BBBBtoken", CSRFToken: "csrfB"},
	}, handler)

	tweets, err := scraper.FetchUserTweets(context.Background(), "alice", time.Now().AddDate(0, 0, -7))
	require.NoError(t, err, "second credential carries the fetch")
	require.Len(t, tweets, 1)

	byToken := map[string]xscraper.CredentialStatus{}
	for _, status := range scraper.Status() {
		byToken[status.Token] = status
	}
	assert.True(t, byToken["AAAA****"].CoolingDown, "rate-limited credential cools down")
	assert.False(t, byToken["BBBB****"].CoolingDown)
	assert.GreaterOrEqual(t, byToken["BBBB****"].RequestCount, 2)
}

func TestScenarioPlatformOutagePausesScraperThenRecovers(t *testing.T) {
	var requests atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if strings.Contains(r.URL.Path, "UserByScreenName") {
			fmt.Fprint(w, userLookupResponse)
			return
		}
		fmt.Fprint(w, timelinePage("",
			timelineEntry("1001", "alice", "back online", time.Now().Add(-time.Hour))))
	}

	cfg := fastScraperConfig()
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerCooldown = 50 * time.Millisecond
	scraper := newGraphQLScraper(t, cfg, []xscraper.Credential{{AuthToken: "tokenA", CSRFToken: "csrfA"}}, handler)

	feed := serveFeed(t, feedEntry{
		Title:     "Blog still works",
		Link:      "https://blog.example.com/ok",
		Published: time.Now().Add(-time.Hour),
	})

	app := NewTestApp(t,
		WithSources(
			config.Source{Type: models.SourceMicroblog, Name: "Alice", URL: "@alice"},
			config.Source{Type: models.SourceBlog, Name: "Blog", URL: feed.URL},
		),
		WithScraper(scraper),
	)
	app.Config.XScraper = cfg

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.SourceErrors,
		"the open breaker pauses the scraper instead of failing the account")
	assert.Equal(t, 1, summary.CountsBySourceType[models.SourceMicroblog])
	assert.Equal(t, 1, summary.CountsBySourceType[models.SourceBlog], "feed source unaffected")
}

// correctingTranscriber mimics the ASR + LLM cleanup pair: it returns the
// corrected form only when the post text provides the context.
type correctingTranscriber struct{}

func (correctingTranscriber) Transcribe(ctx context.Context, videoURL string, post *models.Post) (string, error) {
	if strings.Contains(post.Content, "Pythagorean") {
		return "today we prove the Pythagorean theorem", nil
	}
	return "today we prove the pythagoras theorem", nil
}

func TestScenarioTranscriptionUsesPostContext(t *testing.T) {
	scraper := &fakeScraper{results: []xscraper.UserResult{{
		Username: "alice",
		Tweets: []*models.Tweet{{
			ID:        "1001",
			Username:  "alice",
			Text:      "Great lecture on the Pythagorean theorem",
			CreatedAt: time.Now().Add(-time.Hour),
			URLs:      []string{"https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		}},
	}}}

	app := NewTestApp(t,
		WithSources(config.Source{Type: models.SourceMicroblog, Name: "Alice", URL: "@alice"}),
		WithScraper(scraper),
		WithTranscriber(correctingTranscriber{}),
	)

	_, err := app.Run(context.Background())
	require.NoError(t, err)

	postFile := findPostFile(t, app.BatchDir(), "Agent_Platforms", "high")
	requireFileContains(t, postFile,
		"## Extra Content\n[Video Transcript]\ntoday we prove the Pythagorean theorem")
}
