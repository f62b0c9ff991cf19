package xscraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/models"
)

// maxZeroAddPages aborts pagination after this many consecutive pages that
// contributed no new tweets.
const maxZeroAddPages = 3

// Scraper walks user timelines page by page, applying the date window,
// retweet/reply filters, and human-like pacing between requests.
type Scraper struct {
	client *Client
	cfg    config.XScraperConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewScraper builds a scraper over the client.
func NewScraper(cfg config.XScraperConfig, client *Client) *Scraper {
	return &Scraper{
		client: client,
		cfg:    cfg,
		logger: slog.With("component", "x_scraper"),
		sleep:  sleepCtx,
	}
}

// Status reports the credential pool state with tokens masked.
func (s *Scraper) Status() []CredentialStatus {
	return s.client.pool.Status()
}

// UserResult is the outcome of scraping one account.
type UserResult struct {
	Username string
	Tweets   []*models.Tweet
	Err      error
}

// FetchUsers scrapes each account in order, pausing a random user-switch
// delay between accounts. A fully disabled credential pool aborts the
// remaining accounts.
func (s *Scraper) FetchUsers(ctx context.Context, usernames []string, since time.Time) []UserResult {
	results := make([]UserResult, 0, len(usernames))
	for i, username := range usernames {
		if i > 0 {
			if err := s.sleep(ctx, uniformDelay(s.cfg.UserSwitchDelayMin, s.cfg.UserSwitchDelayMax)); err != nil {
				results = append(results, UserResult{Username: username, Err: err})
				return results
			}
		}

		tweets, err := s.FetchUserTweets(ctx, username, since)
		results = append(results, UserResult{Username: username, Tweets: tweets, Err: err})

		if errors.Is(err, ErrAllCredentialsDisabled) || errors.Is(err, context.Canceled) {
			s.logger.Error("Aborting remaining accounts", "error", err)
			for _, remaining := range usernames[i+1:] {
				results = append(results, UserResult{Username: remaining, Err: err})
			}
			return results
		}
	}
	return results
}

// FetchUserTweets collects up to max_tweets_per_user tweets newer than since
// from one account's timeline.
func (s *Scraper) FetchUserTweets(ctx context.Context, username string, since time.Time) ([]*models.Tweet, error) {
	userID, err := s.client.UserIDByScreenName(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", username, err)
	}
	logger := s.logger.With("username", username)

	limit := s.cfg.MaxTweetsPerUser
	pageSize := limit
	if pageSize < 20 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var collected []*models.Tweet
	seen := make(map[string]bool)
	seenCursors := make(map[string]bool)
	cursor := ""
	zeroAddPages := 0

	for page := 1; ; page++ {
		if page > 1 {
			if err := s.sleep(ctx, uniformDelay(s.cfg.RequestDelayMin, s.cfg.RequestDelayMax)); err != nil {
				return collected, err
			}
		}

		data, err := s.client.UserTweetsPage(ctx, userID, pageSize, cursor)
		if err != nil {
			return collected, fmt.Errorf("timeline page %d for %s: %w", page, username, err)
		}
		parsed, err := ParseTimelinePage(data)
		if err != nil {
			return collected, fmt.Errorf("parse page %d for %s: %w", page, username, err)
		}

		added := 0
		anyInWindow := false
		for _, tw := range parsed.Tweets {
			// Date-window check is date-only; business filters must not
			// influence termination.
			if !tw.CreatedAt.IsZero() && !tw.CreatedAt.Before(since) {
				anyInWindow = true
			}
			if seen[tw.ID] || !s.keep(tw, username, since) {
				continue
			}
			seen[tw.ID] = true
			collected = append(collected, tw)
			added++
			if len(collected) >= limit {
				break
			}
		}
		logger.Info("Timeline page parsed",
			"page", page, "tweets", len(parsed.Tweets), "added", added, "collected", len(collected))

		if len(collected) >= limit {
			break
		}
		if !anyInWindow {
			logger.Info("No tweets in lookback window, stopping", "page", page)
			break
		}
		next := parsed.NextCursor
		if next == "" || next == cursor || seenCursors[next] {
			break
		}
		seenCursors[next] = true
		cursor = next

		if added == 0 {
			zeroAddPages++
			if zeroAddPages >= maxZeroAddPages {
				logger.Warn("Pagination stalled, stopping", "page", page)
				break
			}
		} else {
			zeroAddPages = 0
		}
	}

	logger.Info("Account scrape complete", "tweets", len(collected))
	return collected, nil
}

// keep applies the date window and the retweet/reply business filters.
// Replies survive only when they continue the author's own thread.
func (s *Scraper) keep(tw *models.Tweet, username string, since time.Time) bool {
	if tw.CreatedAt.IsZero() || tw.CreatedAt.Before(since) {
		return false
	}
	if tw.IsRetweet && !s.cfg.IncludeRetweets {
		return false
	}
	if tw.InReplyToID != "" && !s.cfg.IncludeReplies && !tw.IsSelfReply() {
		return false
	}
	return true
}

// uniformDelay samples Uniform[min, max].
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
