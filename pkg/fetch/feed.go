// Package fetch is the pipeline's first stage: it pulls posts from every
// configured source and feeds them into the enrichment queue.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is one normalized feed entry.
type Item struct {
	Title     string
	Link      string
	Content   string
	Published time.Time
	HasDate   bool
}

// FeedParser is the feed-fetching capability. Tests inject scripted fakes.
type FeedParser interface {
	Fetch(ctx context.Context, url string) ([]Item, error)
}

// GofeedParser fetches RSS/Atom/JSON feeds over HTTP.
type GofeedParser struct {
	parser *gofeed.Parser
}

// NewGofeedParser builds the production feed parser.
func NewGofeedParser() *GofeedParser {
	p := gofeed.NewParser()
	p.UserAgent = "scout/1.0"
	return &GofeedParser{parser: p}
}

// Fetch downloads and normalizes one feed. Entries without a parseable
// timestamp are flagged so the caller can drop them with a warning.
func (g *GofeedParser) Fetch(ctx context.Context, url string) ([]Item, error) {
	feed, err := g.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item := Item{
			Title:   entry.Title,
			Link:    entry.Link,
			Content: entry.Content,
		}
		if item.Content == "" {
			item.Content = entry.Description
		}
		switch {
		case entry.PublishedParsed != nil:
			item.Published = *entry.PublishedParsed
			item.HasDate = true
		case entry.UpdatedParsed != nil:
			item.Published = *entry.UpdatedParsed
			item.HasDate = true
		}
		items = append(items, item)
	}
	return items, nil
}
