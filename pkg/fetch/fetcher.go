package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/runlog"
	"github.com/probeworks/scout/pkg/xscraper"
)

// MicroblogScraper is the direct-scrape capability used when the x_scraper
// is enabled; the concrete implementation paces itself.
type MicroblogScraper interface {
	FetchUsers(ctx context.Context, usernames []string, since time.Time) []xscraper.UserResult
}

// Stats summarizes one fetch run for the pipeline report.
type Stats struct {
	Sources      int
	SourceErrors int
	Posts        int
}

// Fetcher runs the general source pool and the restricted serial microblog
// path, emitting posts inside the lookback window.
type Fetcher struct {
	cfg      *config.Config
	feeds    FeedParser
	scraper  MicroblogScraper
	errs     *runlog.Logger
	batchDir string
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// New builds the fetch stage. scraper may be nil when direct scraping is
// disabled; microblog sources then fall back to their feed URLs.
func New(cfg *config.Config, feeds FeedParser, scraper MicroblogScraper, errs *runlog.Logger, batchDir string) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		feeds:    feeds,
		scraper:  scraper,
		errs:     errs,
		batchDir: batchDir,
		logger:   slog.With("stage", "fetch"),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// Run fetches every source and sends posts to out. It returns once all
// sources are done or the context is cancelled. The caller owns the channel
// and the shutdown sentinel.
func (f *Fetcher) Run(ctx context.Context, out chan<- *models.Post) Stats {
	since := f.now().AddDate(0, 0, -f.cfg.Fetcher.LookbackDays)
	f.logger.Info("Fetch stage starting",
		"sources", len(f.cfg.Sources), "since", since.Format("2006-01-02"))

	var (
		mu    sync.Mutex
		stats = Stats{Sources: len(f.cfg.Sources)}
	)
	fail := func(source string, kind runlog.Kind, err error) {
		f.errs.Record("fetch", source, kind, err.Error())
		mu.Lock()
		stats.SourceErrors++
		mu.Unlock()
	}
	sent := func(n int) {
		mu.Lock()
		stats.Posts += n
		mu.Unlock()
	}

	var wg sync.WaitGroup

	// General pool: bounded parallelism over feed-backed sources.
	general := f.cfg.GeneralSources()
	jobs := make(chan config.Source)
	for i := 0; i < f.cfg.Fetcher.GeneralPoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				n, err := f.fetchFeedSource(ctx, src, since, out)
				if err != nil {
					fail(src.Name, runlog.KindNetwork, err)
				}
				sent(n)
			}
		}()
	}

	// Restricted path: microblog sources run serially with pacing.
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.runRestricted(ctx, since, out, fail, sent)
	}()

	for _, src := range general {
		select {
		case jobs <- src:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	f.logger.Info("Fetch stage complete",
		"posts", stats.Posts, "source_errors", stats.SourceErrors)
	return stats
}

// runRestricted handles microblog sources: the direct scraper when enabled,
// otherwise serial feed fetches with a random pre-task delay.
func (f *Fetcher) runRestricted(ctx context.Context, since time.Time, out chan<- *models.Post,
	fail func(string, runlog.Kind, error), sent func(int)) {

	micro := f.cfg.MicroblogSources()
	if len(micro) == 0 {
		return
	}

	if f.scraper != nil && f.cfg.XScraper.Enabled {
		usernames := make([]string, 0, len(micro))
		byUsername := make(map[string]config.Source, len(micro))
		for _, src := range micro {
			username := Username(src)
			usernames = append(usernames, username)
			byUsername[username] = src
		}

		for _, result := range f.scraper.FetchUsers(ctx, usernames, since) {
			src := byUsername[result.Username]
			if result.Err != nil {
				fail(src.Name, classifyScrapeError(result.Err), result.Err)
				continue
			}
			posts := make([]*models.Post, 0, len(result.Tweets))
			for _, tw := range result.Tweets {
				posts = append(posts, tw.ToPost(src.Name))
			}
			f.saveRawBackup(src.Name, posts)
			sent(f.emit(ctx, out, posts))
		}
		return
	}

	for i, src := range micro {
		if i > 0 {
			delay := uniformDelay(f.cfg.XScraper.RequestDelayMin, f.cfg.XScraper.RequestDelayMax)
			if err := f.sleep(ctx, delay); err != nil {
				return
			}
		}
		n, err := f.fetchFeedSource(ctx, src, since, out)
		if err != nil {
			fail(src.Name, runlog.KindNetwork, err)
		}
		sent(n)
	}
}

// fetchFeedSource pulls one feed, applies the date window, and emits posts.
func (f *Fetcher) fetchFeedSource(ctx context.Context, src config.Source, since time.Time, out chan<- *models.Post) (int, error) {
	items, err := f.feeds.Fetch(ctx, src.URL)
	if err != nil {
		return 0, err
	}

	posts := make([]*models.Post, 0, len(items))
	for _, item := range items {
		if !item.HasDate {
			f.logger.Warn("Dropping entry without a parseable date",
				"source", src.Name, "title", item.Title)
			continue
		}
		if item.Published.Before(since) {
			continue
		}
		posts = append(posts, &models.Post{
			Title:      item.Title,
			Date:       item.Published.UTC().Format("2006-01-02"),
			Link:       item.Link,
			SourceType: src.Type,
			SourceName: src.Name,
			Content:    item.Content,
		})
	}

	f.logger.Info("Source fetched", "source", src.Name, "entries", len(items), "kept", len(posts))
	f.saveRawBackup(src.Name, posts)
	return f.emit(ctx, out, posts), nil
}

// emit sends posts until done or cancelled, returning the number delivered.
func (f *Fetcher) emit(ctx context.Context, out chan<- *models.Post, posts []*models.Post) int {
	for i, post := range posts {
		select {
		case out <- post:
		case <-ctx.Done():
			return i
		}
	}
	return len(posts)
}

// saveRawBackup writes the source's posts under <batch>/raw for debugging
// and reprocessing.
func (f *Fetcher) saveRawBackup(sourceName string, posts []*models.Post) {
	if f.batchDir == "" || len(posts) == 0 {
		return
	}
	dir := filepath.Join(f.batchDir, "raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.logger.Warn("Cannot create raw backup directory", "error", err)
		return
	}
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		f.logger.Warn("Cannot marshal raw backup", "source", sourceName, "error", err)
		return
	}
	path := filepath.Join(dir, sanitizeFilename(sourceName)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.logger.Warn("Cannot write raw backup", "path", path, "error", err)
	}
}

// Username extracts the account handle from a microblog source: either the
// raw configured value or the last path segment of a feed URL, without a
// leading @.
func Username(src config.Source) string {
	value := strings.TrimSpace(src.URL)
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if parsed, err := url.Parse(value); err == nil {
			segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
			value = segments[len(segments)-1]
		}
	}
	return strings.TrimPrefix(value, "@")
}

func classifyScrapeError(err error) runlog.Kind {
	switch {
	case errors.Is(err, xscraper.ErrRateLimited):
		return runlog.KindRateLimit
	case errors.Is(err, xscraper.ErrAuthFailure), errors.Is(err, xscraper.ErrAllCredentialsDisabled):
		return runlog.KindAuth
	default:
		return runlog.KindNetwork
	}
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return replacer.Replace(name)
}

func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
