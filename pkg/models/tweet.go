package models

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// MediaType classifies a tweet media attachment.
type MediaType string

// Media type constants matching the platform's extended_entities values.
const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaGIF   MediaType = "animated_gif"
)

// TweetMedia is a photo, video, or GIF attached to a tweet.
type TweetMedia struct {
	Type       MediaType `json:"type"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"preview_url,omitempty"`
	AltText    string    `json:"alt_text,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	DurationMS int       `json:"duration_ms,omitempty"`
}

// Tweet is the microblog-specific record produced by the timeline parser.
// It lives only inside the scraper; ToPost projects it into the pipeline's
// Post record on egress.
type Tweet struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`

	ReplyCount    int `json:"reply_count"`
	RetweetCount  int `json:"retweet_count"`
	LikeCount     int `json:"like_count"`
	ViewCount     int `json:"view_count"`
	BookmarkCount int `json:"bookmark_count"`
	QuoteCount    int `json:"quote_count"`

	URLs  []string     `json:"urls"`
	Media []TweetMedia `json:"media"`

	IsRetweet      bool   `json:"is_retweet"`
	IsQuote        bool   `json:"is_quote"`
	QuotedTweet    *Tweet `json:"quoted_tweet,omitempty"`
	RetweetedTweet *Tweet `json:"retweeted_tweet,omitempty"`

	InReplyToID       string `json:"in_reply_to_id,omitempty"`
	InReplyToUsername string `json:"in_reply_to_username,omitempty"`
	ConversationID    string `json:"conversation_id,omitempty"`

	Lang   string `json:"lang,omitempty"`
	Source string `json:"source,omitempty"`
}

// Permalink returns the canonical status URL for the tweet.
func (t *Tweet) Permalink() string {
	return fmt.Sprintf("https://x.com/%s/status/%s", t.Username, t.ID)
}

// DateString returns the publication date as YYYY-MM-DD, or "" when unknown.
func (t *Tweet) DateString() string {
	if t.CreatedAt.IsZero() {
		return ""
	}
	return t.CreatedAt.UTC().Format("2006-01-02")
}

// IsSelfReply reports whether the tweet replies to its own author (a thread
// continuation). Self-replies are retained even when replies are filtered.
func (t *Tweet) IsSelfReply() bool {
	return t.InReplyToID != "" && t.InReplyToUsername == t.Username
}

// ToPost projects the tweet into a pipeline Post. Content is rendered as
// feed-compatible HTML so the enricher's link extraction treats scraped and
// RSS-delivered microblog posts identically.
func (t *Tweet) ToPost(sourceName string) *Post {
	title := firstRunes(t.Text, 100)
	if title == "" {
		title = "(No text)"
	}
	if t.IsRetweet && t.RetweetedTweet != nil {
		title = fmt.Sprintf("RT @%s: %s", t.RetweetedTweet.Username, firstRunes(t.RetweetedTweet.Text, 80))
	}

	post := &Post{
		Title:      title,
		Date:       t.DateString(),
		Link:       t.Permalink(),
		SourceType: SourceMicroblog,
		SourceName: sourceName,
		Content:    t.contentHTML(),
	}
	for _, u := range t.URLs {
		post.AddExtraURL(u)
	}
	if t.QuotedTweet != nil {
		for _, u := range t.QuotedTweet.URLs {
			post.AddExtraURL(u)
		}
	}
	return post
}

// contentHTML renders the tweet body, media, and quoted tweet as HTML.
func (t *Tweet) contentHTML() string {
	var parts []string

	text := html.EscapeString(t.Text)
	for _, u := range t.URLs {
		escaped := html.EscapeString(u)
		anchor := fmt.Sprintf(`<a href="%s">%s</a>`, escaped, escaped)
		if strings.Contains(text, escaped) {
			text = strings.ReplaceAll(text, escaped, anchor)
		} else {
			// Shortened in the body; append the expanded form.
			parts = append(parts, anchor)
		}
	}
	parts = append([]string{"<p>" + text + "</p>"}, parts...)

	for _, m := range t.Media {
		switch m.Type {
		case MediaPhoto:
			parts = append(parts, fmt.Sprintf(`<img src="%s" />`, html.EscapeString(m.URL)))
		case MediaVideo, MediaGIF:
			parts = append(parts, fmt.Sprintf(`<video src="%s"></video>`, html.EscapeString(m.URL)))
		}
	}

	if qt := t.QuotedTweet; qt != nil {
		parts = append(parts, fmt.Sprintf(
			"<blockquote><p><b>@%s</b>: %s</p><a href=\"%s\">%s</a></blockquote>",
			html.EscapeString(qt.Username),
			html.EscapeString(firstRunes(qt.Text, 200)),
			html.EscapeString(qt.Permalink()),
			html.EscapeString(qt.Permalink()),
		))
	}

	return strings.Join(parts, "\n")
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
