// Package pipeline wires the four stages together: fetch feeds enrich,
// enrich feeds organize, organize feeds the single writer. Stage shutdown
// cascades through nil sentinels so every in-flight post is drained before
// the manifest is written.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/probeworks/scout/pkg/fetch"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/write"
)

// queueDepth is the buffer size of every inter-stage channel.
const queueDepth = 128

// NewBatchID derives the batch identifier from the run's start time.
func NewBatchID(t time.Time) string {
	return t.Format("20060102_150405")
}

// FetchStage produces posts and returns its source statistics.
type FetchStage interface {
	Run(ctx context.Context, out chan<- *models.Post) fetch.Stats
}

// WorkStage transforms posts between two queues. Each of its workers stops
// on a nil sentinel, so the coordinator sends one sentinel per worker.
type WorkStage interface {
	Run(ctx context.Context, in <-chan *models.Post, out chan<- *models.Post)
}

// WriteStage is the single consumer at the end of the pipeline.
type WriteStage interface {
	Run(ctx context.Context, in <-chan *models.Post) write.Stats
	Finalize(summary *models.RunSummary) error
}

// Pipeline coordinates one batch run.
type Pipeline struct {
	batchID      string
	fetcher      FetchStage
	enricher     WorkStage
	organizer    WorkStage
	writer       WriteStage
	enrichPool   int
	organizePool int
	logger       *slog.Logger
	now          func() time.Time
}

// New builds a coordinator. enrichPool and organizePool must match the
// worker counts of the corresponding stages.
func New(batchID string, fetcher FetchStage, enricher WorkStage, organizer WorkStage,
	writer WriteStage, enrichPool, organizePool int) *Pipeline {
	return &Pipeline{
		batchID:      batchID,
		fetcher:      fetcher,
		enricher:     enricher,
		organizer:    organizer,
		writer:       writer,
		enrichPool:   enrichPool,
		organizePool: organizePool,
		logger:       slog.With("component", "pipeline"),
		now:          time.Now,
	}
}

// Run executes the batch and returns its summary. On context cancellation
// the stages stop where they are and the summary is marked cancelled; the
// manifest still records whatever was written.
func (p *Pipeline) Run(ctx context.Context) (*models.RunSummary, error) {
	started := p.now()
	p.logger.Info("Pipeline starting", "batch_id", p.batchID)

	fetchQ := make(chan *models.Post, queueDepth)
	enrichQ := make(chan *models.Post, queueDepth)
	writeQ := make(chan *models.Post, queueDepth)

	var (
		fetchStats fetch.Stats
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		fetchStats = p.fetcher.Run(ctx, fetchQ)
		sendSentinels(ctx, fetchQ, p.enrichPool)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.enricher.Run(ctx, fetchQ, enrichQ)
		sendSentinels(ctx, enrichQ, p.organizePool)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.organizer.Run(ctx, enrichQ, writeQ)
		sendSentinels(ctx, writeQ, 1)
	}()

	writeStats := p.writer.Run(ctx, writeQ)
	wg.Wait()

	ended := p.now()
	summary := &models.RunSummary{
		BatchID:            p.batchID,
		StartedAt:          started,
		EndedAt:            ended,
		Elapsed:            ended.Sub(started),
		CountsBySourceType: writeStats.BySourceType,
		CountsByBucket:     writeStats.ByBucket,
		CountsByDomain:     writeStats.ByDomain,
		CountsByEntity:     writeStats.ByEntity,
		SourceCount:        fetchStats.Sources,
		SourceErrors:       fetchStats.SourceErrors,
		Cancelled:          ctx.Err() != nil,
	}

	if err := p.writer.Finalize(summary); err != nil {
		return summary, err
	}
	p.logger.Info("Pipeline finished",
		"batch_id", p.batchID,
		"posts", writeStats.Total,
		"source_errors", fetchStats.SourceErrors,
		"cancelled", summary.Cancelled)
	return summary, nil
}

// sendSentinels delivers n shutdown markers, giving up on cancellation.
func sendSentinels(ctx context.Context, out chan<- *models.Post, n int) {
	for i := 0; i < n; i++ {
		select {
		case out <- nil:
		case <-ctx.Done():
			return
		}
	}
}
