package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/xscraper"
)

// feedEntry is one RSS item served by the mock feed server.
type feedEntry struct {
	Title       string
	Link        string
	Description string
	Published   time.Time
}

// serveFeed starts an RSS 2.0 server with the given items.
func serveFeed(t *testing.T, entries ...feedEntry) *httptest.Server {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<rss version="2.0"><channel><title>test feed</title>` + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "<item><title>%s</title><link>%s</link><description>%s</description><pubDate>%s</pubDate></item>\n",
			e.Title, e.Link, e.Description, e.Published.Format(time.RFC1123Z))
	}
	b.WriteString("</channel></rss>")
	body := b.String()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// staticRenderer serves canned markdown per URL.
type staticRenderer struct {
	pages map[string]string
	err   error
}

func (r *staticRenderer) Render(ctx context.Context, url string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if content, ok := r.pages[url]; ok {
		return content, nil
	}
	return "", fmt.Errorf("no page for %s", url)
}

// fakeScraper stands in for the direct microblog client.
type fakeScraper struct {
	results []xscraper.UserResult
}

func (f *fakeScraper) FetchUsers(ctx context.Context, usernames []string, since time.Time) []xscraper.UserResult {
	return f.results
}

// requireFileContains asserts that a file exists and contains every fragment.
func requireFileContains(t *testing.T, path string, fragments ...string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err, "expected output file %s", path)
	for _, fragment := range fragments {
		require.Contains(t, string(data), fragment)
	}
}

// findPostFile locates the single markdown file for a domain bucket.
func findPostFile(t *testing.T, batchDir, domain, bucket string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(batchDir, "By-Domain", domain, bucket, "*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one post in %s/%s", domain, bucket)
	return matches[0]
}

// classificationJSON is a ready-made organizer answer.
func classificationJSON(event, domain string, score int) string {
	return fmt.Sprintf(`{
		"event": %q,
		"key_info": ["first fact", "second fact"],
		"detail": "A detailed summary of the post.",
		"category": "product launch",
		"domain": %q,
		"quality_score": %d,
		"quality_reason": "substantial first-party announcement"
	}`, event, domain, score)
}

// tweet builds a minimal scraped post for the fake scraper.
func tweet(id, username, text string, at time.Time) *models.Tweet {
	return &models.Tweet{
		ID:        id,
		Username:  username,
		Text:      text,
		CreatedAt: at,
	}
}
