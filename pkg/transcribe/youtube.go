// Package transcribe turns video links into transcript text: platform
// subtitles when available, speech recognition otherwise, with an LLM pass
// to clean up recognition errors.
package transcribe

import (
	"net/url"
	"regexp"
	"strings"
)

// nonVideoPaths are YouTube URLs that name a channel or listing, not a video.
var nonVideoPaths = []string{"/streams", "/live", "/channel/", "/c/", "/user/", "/@"}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// YouTubeID extracts the video ID from watch, short-link, embed, and shorts
// URLs. Channel and listing pages return false.
func YouTubeID(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))
	path := parsed.Path

	for _, marker := range nonVideoPaths {
		if strings.Contains(path, marker) {
			return "", false
		}
	}

	var id string
	switch {
	case host == "youtu.be":
		id = strings.Split(strings.Trim(path, "/"), "/")[0]
	case strings.HasSuffix(host, "youtube.com"):
		switch {
		case path == "/watch":
			id = parsed.Query().Get("v")
		case strings.HasPrefix(path, "/embed/"):
			id = strings.TrimPrefix(path, "/embed/")
		case strings.HasPrefix(path, "/shorts/"):
			id = strings.TrimPrefix(path, "/shorts/")
		}
		id = strings.Trim(id, "/")
	}

	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

var (
	srtIndexLine  = regexp.MustCompile(`^\d+$`)
	srtTimingLine = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->`)
	srtTagPattern = regexp.MustCompile(`<[^>]+>`)
)

// SubtitlesToText flattens SRT or VTT subtitle content into plain text,
// dropping indices, timings, and markup, and collapsing repeated lines.
func SubtitlesToText(subs string) string {
	var lines []string
	last := ""
	for _, line := range strings.Split(subs, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "WEBVTT" ||
			srtIndexLine.MatchString(line) || srtTimingLine.MatchString(line) ||
			strings.HasPrefix(line, "NOTE ") || strings.HasPrefix(line, "Kind:") ||
			strings.HasPrefix(line, "Language:") {
			continue
		}
		line = strings.TrimSpace(srtTagPattern.ReplaceAllString(line, ""))
		if line == "" || line == last {
			continue
		}
		last = line
		lines = append(lines, line)
	}
	return strings.Join(lines, " ")
}
