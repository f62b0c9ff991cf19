// Package write is the pipeline's final stage: it files classified posts
// into the batch's flat-file corpus and writes the batch manifest.
package write

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/probeworks/scout/pkg/models"
	"github.com/probeworks/scout/pkg/runlog"
)

// Stats counts what the writer persisted.
type Stats struct {
	Total        int
	ByBucket     map[models.Bucket]int
	ByDomain     map[string]int
	ByEntity     map[string]int
	BySourceType map[models.SourceType]int
}

// Writer is the single consumer of the organize queue. One goroutine owns
// all filesystem state, so no locking is needed.
type Writer struct {
	dataDir  string
	batchID  string
	batchDir string
	entities []models.Entity
	errs     *runlog.Logger
	logger   *slog.Logger

	written   map[string]bool
	perDomain map[string][]*models.Post
	stats     Stats
}

// New builds the writer for one batch.
func New(dataDir, batchID string, entities []models.Entity, errs *runlog.Logger) *Writer {
	return &Writer{
		dataDir:   dataDir,
		batchID:   batchID,
		batchDir:  filepath.Join(dataDir, batchID),
		entities:  entities,
		errs:      errs,
		logger:    slog.With("stage", "write"),
		written:   make(map[string]bool),
		perDomain: make(map[string][]*models.Post),
		stats: Stats{
			ByBucket:     make(map[models.Bucket]int),
			ByDomain:     make(map[string]int),
			ByEntity:     make(map[string]int),
			BySourceType: make(map[models.SourceType]int),
		},
	}
}

// Run consumes posts until the nil sentinel arrives, then writes the
// per-domain indexes. The manifest is written by Finalize once the
// coordinator has assembled the run summary.
func (w *Writer) Run(ctx context.Context, in <-chan *models.Post) Stats {
	for {
		select {
		case <-ctx.Done():
			w.flushIndexes()
			return w.stats
		case post := <-in:
			if post == nil {
				w.flushIndexes()
				w.logger.Info("Write stage complete", "posts", w.stats.Total)
				return w.stats
			}
			w.write(post)
		}
	}
}

// write files one post under By-Domain and each matching By-Entity folder.
func (w *Writer) write(post *models.Post) {
	bucket := models.BucketForScore(post.QualityScore)
	filename := w.filename(post)
	markdown := renderMarkdown(post)

	domainPath := filepath.Join(w.batchDir, "By-Domain", sanitize(post.Domain), string(bucket), filename)
	if !w.writeFile(domainPath, markdown, post) {
		return
	}

	entities := w.matchEntities(post)
	for _, entity := range entities {
		entityPath := filepath.Join(w.batchDir, "By-Entity", sanitize(entity), filename)
		w.writeFile(entityPath, markdown, post)
		w.stats.ByEntity[entity]++
	}

	w.stats.Total++
	w.stats.ByBucket[bucket]++
	w.stats.ByDomain[post.Domain]++
	w.stats.BySourceType[post.SourceType]++
	w.perDomain[post.Domain] = append(w.perDomain[post.Domain], post)
}

// writeFile writes one markdown file, rejecting duplicate paths within the
// batch.
func (w *Writer) writeFile(path, content string, post *models.Post) bool {
	if w.written[path] {
		w.errs.Record("write", post.SourceName, runlog.KindWrite,
			fmt.Sprintf("duplicate output path %s", path))
		return false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.errs.Record("write", post.SourceName, runlog.KindWrite, err.Error())
		return false
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		w.errs.Record("write", post.SourceName, runlog.KindWrite, err.Error())
		return false
	}
	w.written[path] = true
	return true
}

// matchEntities returns the tracked entities whose aliases appear in the
// post, or ["Others"] when none match.
func (w *Writer) matchEntities(post *models.Post) []string {
	haystack := strings.ToLower(post.Content + "\n" + post.ExtraContent + "\n" + post.SourceName)
	var matched []string
	for _, entity := range w.entities {
		for _, alias := range entity.Aliases {
			if alias != "" && strings.Contains(haystack, strings.ToLower(alias)) {
				matched = append(matched, entity.Name)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{"Others"}
	}
	return matched
}

func (w *Writer) filename(post *models.Post) string {
	date := post.Date
	if date == "" {
		date = "undated"
	}
	return fmt.Sprintf("%s_%s_%s.md", sanitize(post.SourceName), date, post.ContentHash())
}

// flushIndexes writes each domain's posts.json.
func (w *Writer) flushIndexes() {
	for domain, posts := range w.perDomain {
		path := filepath.Join(w.batchDir, "By-Domain", sanitize(domain), "posts.json")
		data, err := json.MarshalIndent(posts, "", "  ")
		if err != nil {
			w.logger.Warn("Cannot marshal domain index", "domain", domain, "error", err)
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			w.logger.Warn("Cannot write domain index", "path", path, "error", err)
		}
	}
}

// Finalize writes the batch manifest, repoints latest_batch.json, and prints
// the run summary to stderr.
func (w *Writer) Finalize(summary *models.RunSummary) error {
	if err := os.MkdirAll(w.batchDir, 0o755); err != nil {
		return fmt.Errorf("create batch directory: %w", err)
	}

	manifest, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(w.batchDir, "batch_manifest.json")
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	pointer, err := json.MarshalIndent(map[string]string{
		"batch_id": w.batchID,
		"path":     w.batchDir,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal latest pointer: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dataDir, "latest_batch.json"), pointer, 0o644); err != nil {
		return fmt.Errorf("write latest pointer: %w", err)
	}

	w.printSummary(summary)
	return nil
}

// printSummary writes a human-readable run report to stderr.
func (w *Writer) printSummary(summary *models.RunSummary) {
	out := os.Stderr
	fmt.Fprintf(out, "\nBatch %s finished in %s\n", summary.BatchID, summary.Elapsed.Round(1e9))
	if summary.Cancelled {
		fmt.Fprintln(out, "  (run was cancelled; results are partial)")
	}
	fmt.Fprintf(out, "  posts written: %d, source errors: %d/%d\n",
		w.stats.Total, summary.SourceErrors, summary.SourceCount)

	fmt.Fprintln(out, "  by bucket:")
	for _, bucket := range []models.Bucket{models.BucketHigh, models.BucketPending, models.BucketExcluded} {
		fmt.Fprintf(out, "    %-9s %d\n", bucket, w.stats.ByBucket[bucket])
	}

	fmt.Fprintln(out, "  by domain:")
	for _, domain := range sortedKeys(w.stats.ByDomain) {
		fmt.Fprintf(out, "    %-24s %d\n", domain, w.stats.ByDomain[domain])
	}
}

// renderMarkdown produces the post's output document.
func renderMarkdown(post *models.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", post.Event)
	fmt.Fprintf(&b, "- **Date**: %s\n", post.Date)
	fmt.Fprintf(&b, "- **Category**: %s\n", post.Category)
	fmt.Fprintf(&b, "- **Domain**: %s\n", post.Domain)
	fmt.Fprintf(&b, "- **Quality**: %s (%d/5)\n", stars(post.QualityScore), post.QualityScore)
	fmt.Fprintf(&b, "- **Reason**: %s\n", post.QualityReason)
	fmt.Fprintf(&b, "- **Source_Type**: %s\n", post.SourceType)
	fmt.Fprintf(&b, "- **Source**: %s\n", post.SourceName)
	fmt.Fprintf(&b, "- **Link**: %s\n", post.Link)

	if len(post.KeyInfo) > 0 {
		b.WriteString("\n## Key Info\n")
		items := make([]string, 0, len(post.KeyInfo))
		for i, info := range post.KeyInfo {
			items = append(items, fmt.Sprintf("%d. %s", i+1, info))
		}
		b.WriteString(strings.Join(items, "<br>") + "\n")
	}

	if post.Detail != "" {
		fmt.Fprintf(&b, "\n## Details\n%s\n", post.Detail)
	}
	if post.ExtraContent != "" {
		fmt.Fprintf(&b, "\n## Extra Content\n%s\n", post.ExtraContent)
	}
	if len(post.ExtraURLs) > 0 {
		b.WriteString("\n## External Links\n")
		for _, u := range post.ExtraURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	return b.String()
}

func stars(score int) string {
	if score < 0 {
		score = 0
	}
	if score > 5 {
		score = 5
	}
	return strings.Repeat("★", score) + strings.Repeat("☆", 5-score)
}

func sanitize(name string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return replacer.Replace(name)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
