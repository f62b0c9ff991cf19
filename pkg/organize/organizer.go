// Package organize is the pipeline's third stage: one LLM call per post
// classifies it and scores its quality.
package organize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/probeworks/scout/pkg/config"
	"github.com/probeworks/scout/pkg/llm"
	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/runlog"
)

// failedReason marks posts whose classification never succeeded.
const failedReason = "organizer_failed"

const maxKeyInfo = 10

// contentLimit bounds how much post text goes into the prompt.
const contentLimit = 6000

// Organizer is the worker pool that classifies posts.
type Organizer struct {
	cfg    config.OrganizerConfig
	llm    llm.Client
	model  string
	errs   *runlog.Logger
	logger *slog.Logger
}

// New builds the organize stage.
func New(cfg config.OrganizerConfig, client llm.Client, model string, errs *runlog.Logger) *Organizer {
	return &Organizer{
		cfg:    cfg,
		llm:    client,
		model:  model,
		errs:   errs,
		logger: slog.With("stage", "organize"),
	}
}

// Run consumes posts from in until each worker receives the nil sentinel.
// Every post is forwarded; classification failures degrade to the zero-score
// fallback instead of dropping the post.
func (o *Organizer) Run(ctx context.Context, in <-chan *models.Post, out chan<- *models.Post) {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.PoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case post := <-in:
					if post == nil {
						return
					}
					o.Organize(ctx, post)
					select {
					case out <- post:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	o.logger.Info("Organize stage complete")
}

// classification is the JSON shape the model must return.
type classification struct {
	Event         string      `json:"event"`
	KeyInfo       []string    `json:"key_info"`
	Detail        string      `json:"detail"`
	Category      string      `json:"category"`
	Domain        string      `json:"domain"`
	QualityScore  json.Number `json:"quality_score"`
	QualityReason string      `json:"quality_reason"`
}

// Organize fills the post's classification fields, retrying invalid LLM
// output before falling back.
func (o *Organizer) Organize(ctx context.Context, post *models.Post) {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.RetryOnFailure; attempt++ {
		result, err := o.classify(ctx, post)
		if err == nil {
			o.apply(post, result)
			return
		}
		lastErr = err
		o.logger.Warn("Classification attempt failed",
			"link", post.Link, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	o.errs.Record("organize", post.SourceName, runlog.KindLLM, lastErr.Error())
	post.Event = post.Title
	post.Category = "other"
	post.Domain = "Others"
	post.QualityScore = 0
	post.QualityReason = failedReason
}

func (o *Organizer) classify(ctx context.Context, post *models.Post) (*classification, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	response, err := o.llm.CompleteJSON(callCtx, o.model, []llm.Message{
		{Role: "system", Content: o.systemPrompt()},
		{Role: "user", Content: o.userPrompt(post)},
	})
	if err != nil {
		return nil, err
	}

	var result classification
	if err := json.Unmarshal([]byte(stripFences(response)), &result); err != nil {
		return nil, fmt.Errorf("invalid classification JSON: %w", err)
	}
	if result.Event == "" {
		return nil, fmt.Errorf("classification missing event")
	}
	return &result, nil
}

// apply copies the classification onto the post, normalizing out-of-range
// values.
func (o *Organizer) apply(post *models.Post, result *classification) {
	post.Event = result.Event
	post.Detail = result.Detail
	post.QualityReason = result.QualityReason

	post.KeyInfo = result.KeyInfo
	if len(post.KeyInfo) > maxKeyInfo {
		post.KeyInfo = post.KeyInfo[:maxKeyInfo]
	}

	score := 0
	if f, err := result.QualityScore.Float64(); err == nil {
		score = int(f)
	}
	if score < 0 {
		score = 0
	}
	if score > 5 {
		score = 5
	}
	post.QualityScore = score

	post.Domain = "Others"
	for _, d := range o.cfg.Domains {
		if strings.EqualFold(d, result.Domain) {
			post.Domain = d
			break
		}
	}

	post.Category = "other"
	for _, c := range o.cfg.Categories {
		if strings.EqualFold(c, result.Category) {
			post.Category = c
			break
		}
	}
}

func (o *Organizer) systemPrompt() string {
	return fmt.Sprintf(`You are an analyst sorting technology-industry posts. For the given post, return a JSON object with exactly these fields:
- "event": one sentence naming what happened
- "key_info": array of at most %d short factual bullet points
- "detail": a paragraph summarizing the post
- "category": one of [%s]
- "domain": one of [%s]
- "quality_score": integer 0-5 rating substance and novelty (5 = major verified news, 0 = no information value)
- "quality_reason": one sentence justifying the score

Return only the JSON object.`,
		maxKeyInfo,
		strings.Join(o.cfg.Categories, ", "),
		strings.Join(o.cfg.Domains, ", "))
}

func (o *Organizer) userPrompt(post *models.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s (%s)\nDate: %s\nTitle: %s\n\nContent:\n%s\n",
		post.SourceName, post.SourceType, post.Date, post.Title, limit(post.Content, contentLimit))
	if post.ExtraContent != "" {
		fmt.Fprintf(&b, "\nLinked content:\n%s\n", limit(post.ExtraContent, contentLimit))
	}
	return b.String()
}

// stripFences removes a wrapping markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func limit(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "\n[truncated]"
}
