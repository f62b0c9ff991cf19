// Package e2e exercises the full fetch/enrich/organize/write pipeline
// against in-process servers.
package e2e

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/enrich"
	"github.com/probeworks/scout/pkg/fetch"
	"github.com/probeworks/scout/pkg/llm"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/organize"
	"github.com/probeworks/scout/pkg/pipeline"
	"github.com/probeworks/scout/pkg/runlog"
	"github.com/probeworks/scout/pkg/write"
)

const testBatchID = "20260210_120000"

// TestApp assembles one runnable pipeline over mock servers.
type TestApp struct {
	Config  *config.Config
	BatchID string
	Errs    *runlog.Logger

	renderer    enrich.WebRenderer
	transcriber enrich.Transcriber
	scraper     fetch.MicroblogScraper
	llmServer   *ScriptedLLMServer

	t *testing.T
}

// TestAppOption configures the test app.
type TestAppOption func(*TestApp)

// WithSources sets the configured sources.
func WithSources(sources ...config.Source) TestAppOption {
	return func(a *TestApp) { a.Config.Sources = sources }
}

// WithEntities sets the tracked entities.
func WithEntities(entities ...models.Entity) TestAppOption {
	return func(a *TestApp) { a.Config.Entities = entities }
}

// WithRenderer injects the web renderer used by the enricher.
func WithRenderer(r enrich.WebRenderer) TestAppOption {
	return func(a *TestApp) { a.renderer = r }
}

// WithTranscriber injects the video transcriber used by the enricher.
func WithTranscriber(tr enrich.Transcriber) TestAppOption {
	return func(a *TestApp) { a.transcriber = tr }
}

// WithScraper injects the direct microblog scraper and enables it.
func WithScraper(s fetch.MicroblogScraper) TestAppOption {
	return func(a *TestApp) {
		a.scraper = s
		a.Config.XScraper.Enabled = true
	}
}

// WithLLMServer replaces the default always-succeeding LLM server.
func WithLLMServer(server *ScriptedLLMServer) TestAppOption {
	return func(a *TestApp) { a.llmServer = server }
}

// NewTestApp builds a pipeline with a temp data directory, small worker
// pools, and a classification LLM that files everything as a high-quality
// product launch unless overridden.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := &config.Config{
		XScraper:  config.DefaultXScraperConfig(),
		Fetcher:   config.DefaultFetcherConfig(),
		Enricher:  config.DefaultEnricherConfig(),
		Organizer: config.DefaultOrganizerConfig(),
		DataDir:   t.TempDir(),
	}
	cfg.Enricher.PoolSize = 2
	cfg.Organizer.PoolSize = 2
	cfg.Organizer.RetryOnFailure = 1
	cfg.LLM.Model = "test-model"
	cfg.LLM.OptModel = "test-model"
	cfg.LLM.Timeout = 10 * time.Second

	app := &TestApp{Config: cfg, BatchID: testBatchID, t: t}
	for _, opt := range opts {
		opt(app)
	}

	if app.llmServer == nil {
		app.llmServer = RespondWith(classificationJSON("default event", "Agent Platforms", 4))
		t.Cleanup(app.llmServer.Close)
	}
	cfg.LLM.BaseURL = app.llmServer.URL()

	errs, err := runlog.Open(filepath.Join(app.BatchDir(), "errors.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = errs.Close() })
	app.Errs = errs
	return app
}

// BatchDir returns the batch's output directory.
func (a *TestApp) BatchDir() string {
	return filepath.Join(a.Config.DataDir, a.BatchID)
}

// Run executes one complete batch.
func (a *TestApp) Run(ctx context.Context) (*models.RunSummary, error) {
	client := llm.NewHTTPClient(llm.Config{
		BaseURL: a.Config.LLM.BaseURL,
		Timeout: a.Config.LLM.Timeout,
	})

	fetcher := fetch.New(a.Config, fetch.NewGofeedParser(), a.scraper, a.Errs, a.BatchDir())
	enricher := enrich.New(a.Config.Enricher, a.renderer, a.transcriber, a.Errs)
	organizer := organize.New(a.Config.Organizer, client, a.Config.LLM.Model, a.Errs)
	writer := write.New(a.Config.DataDir, a.BatchID, a.Config.Entities, a.Errs)

	p := pipeline.New(a.BatchID, fetcher, enricher, organizer, writer,
		a.Config.Enricher.PoolSize, a.Config.Organizer.PoolSize)
	return p.Run(ctx)
}
