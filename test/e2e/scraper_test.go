package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/xscraper"
)

func TestScrapedMicroblogPostsFlowThroughPipeline(t *testing.T) {
	now := time.Now().Add(-2 * time.Hour)
	scraper := &fakeScraper{results: []xscraper.UserResult{
		{
			Username: "alice",
			Tweets: []*models.Tweet{
				tweet("1001", "alice", "Shipping our new data agent today", now),
				tweet("1002", "alice", "Follow-up with benchmarks", now.Add(time.Minute)),
			},
		},
		{
			Username: "bob",
			Err:      xscraper.ErrAllCredentialsDisabled,
		},
	}}

	app := NewTestApp(t,
		WithSources(
			config.Source{Type: models.SourceMicroblog, Name: "Alice", URL: "@alice"},
			config.Source{Type: models.SourceMicroblog, Name: "Bob", URL: "@bob"},
		),
		WithScraper(scraper),
	)

	summary, err := app.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SourceCount)
	assert.Equal(t, 1, summary.SourceErrors, "bob's credentials were exhausted")
	assert.Equal(t, 2, summary.CountsBySourceType[models.SourceMicroblog])

	// Both of alice's posts were filed with their canonical permalinks.
	requireFileContains(t,
		app.BatchDir()+"/By-Domain/Agent_Platforms/posts.json",
		"https://x.com/alice/status/1001",
		"https://x.com/alice/status/1002",
		"Microblog")

	assert.Equal(t, 1, app.Errs.Count())
}
