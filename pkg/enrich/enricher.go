package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/runlog"
)

// silentVideoMarker identifies platform GIF-style clips with no audio track.
const silentVideoMarker = "/tweet_video/"

// Transcriber turns a video URL into transcript text. Implementations own
// download, subtitle lookup, and ASR; an empty transcript is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, videoURL string, post *models.Post) (string, error)
}

// Enricher is the worker pool that augments posts with linked content.
type Enricher struct {
	cfg         config.EnricherConfig
	renderer    WebRenderer
	transcriber Transcriber
	errs        *runlog.Logger
	logger      *slog.Logger
}

// New builds the enrichment stage. renderer and transcriber may be nil, which
// disables the respective enrichment.
func New(cfg config.EnricherConfig, renderer WebRenderer, transcriber Transcriber, errs *runlog.Logger) *Enricher {
	return &Enricher{
		cfg:         cfg,
		renderer:    renderer,
		transcriber: transcriber,
		errs:        errs,
		logger:      slog.With("stage", "enrich"),
	}
}

// Run consumes posts from in until each worker receives the nil sentinel,
// forwarding every post (enriched or not) to out. The caller owns sentinel
// propagation on out.
func (e *Enricher) Run(ctx context.Context, in <-chan *models.Post, out chan<- *models.Post) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.PoolSize; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			logger := e.logger.With("worker", worker)
			for {
				select {
				case <-ctx.Done():
					return
				case post := <-in:
					if post == nil {
						return
					}
					e.enrich(ctx, post)
					select {
					case out <- post:
					case <-ctx.Done():
						logger.Warn("Dropping post on cancellation", "link", post.Link)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()
	e.logger.Info("Enrich stage complete")
}

// enrich follows the post's links and appends their content. Failures are
// recorded and never drop the post.
func (e *Enricher) enrich(ctx context.Context, post *models.Post) {
	for _, u := range ExtractURLs(post.Content) {
		post.AddExtraURL(u)
	}
	post.ExtraURLs = dropSelfLinks(post.SourceType, post.ExtraURLs)

	var sections []string
	fetched := 0
	for _, link := range post.ExtraURLs {
		if fetched >= e.cfg.MaxURLsPerPost {
			break
		}
		if link == post.Link {
			continue
		}

		switch Classify(link) {
		case LinkSkip, LinkMedia:
			continue

		case LinkYouTube, LinkVideo:
			if e.transcriber == nil || strings.Contains(link, silentVideoMarker) {
				continue
			}
			fetched++
			transcript, err := e.transcribe(ctx, link, post)
			if err != nil {
				e.errs.Record("enrich", post.SourceName, runlog.KindTranscribe,
					fmt.Sprintf("%s: %v", link, err))
				continue
			}
			if transcript != "" {
				sections = append(sections, "[Video Transcript]\n"+transcript)
			}

		case LinkWeb:
			if e.renderer == nil {
				continue
			}
			fetched++
			content, err := e.render(ctx, link)
			if err != nil {
				e.errs.Record("enrich", post.SourceName, runlog.KindRender,
					fmt.Sprintf("%s: %v", link, err))
				continue
			}
			sections = append(sections, fmt.Sprintf("[Embedded: %s]\n%s", Host(link), content))
		}
	}

	if len(sections) > 0 {
		post.ExtraContent = strings.Join(sections, "\n\n")
		e.logger.Info("Post enriched", "link", post.Link, "sections", len(sections))
	}
}

func (e *Enricher) render(ctx context.Context, link string) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, e.cfg.URLTimeout)
	defer cancel()
	return e.renderer.Render(renderCtx, link)
}

func (e *Enricher) transcribe(ctx context.Context, link string, post *models.Post) (string, error) {
	videoCtx, cancel := context.WithTimeout(ctx, e.cfg.VideoTimeout)
	defer cancel()
	return e.transcriber.Transcribe(videoCtx, link, post)
}
