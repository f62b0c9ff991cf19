// Package enrich is the pipeline's second stage: it follows links embedded
// in posts and appends rendered pages and video transcripts to the post.
package enrich

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/probeworks/scout/pkg/models"
)

// LinkClass drives how an extracted URL is handled.
type LinkClass int

const (
	// LinkWeb is an ordinary page, fetched and converted to text.
	LinkWeb LinkClass = iota
	// LinkYouTube is a video page on a known video platform.
	LinkYouTube
	// LinkVideo is a direct video file or platform video CDN URL.
	LinkVideo
	// LinkMedia is a static image; recorded but never fetched.
	LinkMedia
	// LinkSkip is a platform-internal link with no content of its own.
	LinkSkip
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

var statusLinkPattern = regexp.MustCompile(`^https?://(?:www\.)?(?:x\.com|twitter\.com)/[^/]+/status/\d+`)

const trailingPunct = ".,;:!?)'\""

var (
	skipDomains    = []string{"twitter.com", "x.com", "t.co", "pic.twitter.com"}
	youtubeDomains = []string{"youtube.com", "youtu.be"}
	videoDomains   = []string{"video.twimg.com"}
	mediaDomains   = []string{"pbs.twimg.com", "twimg.com"}
	videoExts      = []string{".mp4", ".mov", ".webm", ".mkv"}
)

// ExtractURLs pulls http(s) URLs out of free text or HTML, strips trailing
// punctuation, and deduplicates preserving first-seen order.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, match := range urlPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, trailingPunct)
		if match == "" || seen[match] {
			continue
		}
		seen[match] = true
		out = append(out, match)
	}
	return out
}

// IsSelfLink reports whether the URL points back into the post's own
// platform. For microblog posts any status permalink counts, including
// quoted or threaded statuses by other accounts.
func IsSelfLink(sourceType models.SourceType, rawURL string) bool {
	if sourceType != models.SourceMicroblog {
		return false
	}
	return statusLinkPattern.MatchString(rawURL)
}

// dropSelfLinks filters platform permalinks out of a post's recorded links.
func dropSelfLinks(sourceType models.SourceType, urls []string) []string {
	kept := urls[:0]
	for _, u := range urls {
		if !IsSelfLink(sourceType, u) {
			kept = append(kept, u)
		}
	}
	return kept
}

// Classify maps a URL to its handling class.
func Classify(rawURL string) LinkClass {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return LinkSkip
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))

	if hostMatches(host, videoDomains) {
		return LinkVideo
	}
	lowerPath := strings.ToLower(parsed.Path)
	for _, ext := range videoExts {
		if strings.HasSuffix(lowerPath, ext) {
			return LinkVideo
		}
	}
	if hostMatches(host, youtubeDomains) {
		return LinkYouTube
	}
	if hostMatches(host, mediaDomains) {
		return LinkMedia
	}
	if hostMatches(host, skipDomains) {
		return LinkSkip
	}
	return LinkWeb
}

// hostMatches reports whether host equals or is a subdomain of any entry.
func hostMatches(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Host returns the lowercase host of a URL for section labels.
func Host(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))
}
