package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceType identifies the kind of source a post came from.
type SourceType string

// Source type constants.
const (
	SourceMicroblog     SourceType = "Microblog"
	SourcePublicAccount SourceType = "PublicAccount"
	SourceVideo         SourceType = "Video"
	SourceBlog          SourceType = "Blog"
)

// Valid reports whether the source type is one of the known variants.
func (s SourceType) Valid() bool {
	switch s {
	case SourceMicroblog, SourcePublicAccount, SourceVideo, SourceBlog:
		return true
	}
	return false
}

// Bucket is the quality tier a post is filed under.
type Bucket string

// Bucket constants.
const (
	BucketHigh     Bucket = "high"
	BucketPending  Bucket = "pending"
	BucketExcluded Bucket = "excluded"
)

// BucketForScore maps a quality score to its tier: >=4 high, 2..3 pending,
// <=1 excluded.
func BucketForScore(score int) Bucket {
	switch {
	case score >= 4:
		return BucketHigh
	case score >= 2:
		return BucketPending
	default:
		return BucketExcluded
	}
}

// Post is the unit flowing through all pipeline queues. Fields are owned by
// the stage that populates them: the fetcher fills identity and content, the
// enricher appends ExtraContent, the organizer fills the classification
// fields, and the writer derives ContentHash at persist time.
type Post struct {
	// Fetcher-owned.
	Title      string     `json:"title"`
	Date       string     `json:"date"` // YYYY-MM-DD
	Link       string     `json:"link"`
	SourceType SourceType `json:"source_type"`
	SourceName string     `json:"source_name"`
	Content    string     `json:"content"`

	// Fetcher + Enricher.
	ExtraURLs []string `json:"extra_urls"`

	// Enricher-owned.
	ExtraContent string `json:"extra_content"`

	// Organizer-owned.
	Event         string   `json:"event"`
	Category      string   `json:"category"`
	Domain        string   `json:"domain"`
	QualityScore  int      `json:"quality_score"`
	QualityReason string   `json:"quality_reason"`
	KeyInfo       []string `json:"key_info"`
	Detail        string   `json:"detail"`
}

// AddExtraURL appends a URL to ExtraURLs preserving order and uniqueness.
func (p *Post) AddExtraURL(url string) {
	if url == "" {
		return
	}
	for _, existing := range p.ExtraURLs {
		if existing == url {
			return
		}
	}
	p.ExtraURLs = append(p.ExtraURLs, url)
}

// ContentHash returns the first 6 hex characters of the SHA-256 digest of the
// post link. Posts without a link hash to "nolink".
func (p *Post) ContentHash() string {
	if p.Link == "" {
		return "nolink"
	}
	sum := sha256.Sum256([]byte(p.Link))
	return hex.EncodeToString(sum[:])[:6]
}

// RunSummary is the coordinator's report for a completed pipeline run.
type RunSummary struct {
	BatchID            string             `json:"batch_id"`
	StartedAt          time.Time          `json:"started_at"`
	EndedAt            time.Time          `json:"ended_at"`
	Elapsed            time.Duration      `json:"-"`
	CountsBySourceType map[SourceType]int `json:"counts_by_source_type"`
	CountsByBucket     map[Bucket]int     `json:"counts_by_bucket"`
	CountsByDomain     map[string]int     `json:"counts_by_domain"`
	CountsByEntity     map[string]int     `json:"counts_by_entity"`
	SourceCount        int                `json:"source_count"`
	SourceErrors       int                `json:"source_errors"`
	Cancelled          bool               `json:"cancelled"`
}

// Entity is a tracked organization or person with its matching aliases.
type Entity struct {
	Name    string
	Aliases []string
}
