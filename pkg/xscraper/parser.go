package xscraper

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/probeworks/scout/pkg/models"
)

// createdAtLayout is the platform's legacy timestamp format.
const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

var sourceLabelRe = regexp.MustCompile(`>(.+?)</a>`)

// TimelinePage is the parsed form of one UserTweets response.
type TimelinePage struct {
	Tweets     []*models.Tweet
	NextCursor string
}

// timeline JSON shapes; only the traversed fields are declared.

type timelineData struct {
	User struct {
		Result struct {
			TimelineV2 struct {
				Timeline struct {
					Instructions []instruction `json:"instructions"`
				} `json:"timeline"`
			} `json:"timeline_v2"`
		} `json:"result"`
	} `json:"user"`
}

type instruction struct {
	Type    string  `json:"type"`
	Entry   *entry  `json:"entry"`
	Entries []entry `json:"entries"`
}

type entry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string       `json:"entryType"`
		Value       string       `json:"value"`
		CursorType  string       `json:"cursorType"`
		ItemContent *itemContent `json:"itemContent"`
		Items       []struct {
			Item struct {
				ItemContent *itemContent `json:"itemContent"`
			} `json:"item"`
		} `json:"items"`
	} `json:"content"`
}

type itemContent struct {
	TweetResults struct {
		Result json.RawMessage `json:"result"`
	} `json:"tweet_results"`
	PromotedMetadata json.RawMessage `json:"promotedMetadata"`
}

type tweetResult struct {
	TypeName string          `json:"__typename"`
	Tweet    json.RawMessage `json:"tweet"` // TweetWithVisibilityResults wrapper
	RestID   string          `json:"rest_id"`
	Core     struct {
		UserResults struct {
			Result struct {
				RestID string `json:"rest_id"`
				Legacy struct {
					ScreenName string `json:"screen_name"`
					Name       string `json:"name"`
				} `json:"legacy"`
			} `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Views struct {
		Count string `json:"count"`
	} `json:"views"`
	NoteTweet struct {
		NoteTweetResults struct {
			Result struct {
				Text string `json:"text"`
			} `json:"result"`
		} `json:"note_tweet_results"`
	} `json:"note_tweet"`
	Legacy struct {
		FullText          string `json:"full_text"`
		CreatedAt         string `json:"created_at"`
		ReplyCount        int    `json:"reply_count"`
		RetweetCount      int    `json:"retweet_count"`
		FavoriteCount     int    `json:"favorite_count"`
		BookmarkCount     int    `json:"bookmark_count"`
		QuoteCount        int    `json:"quote_count"`
		InReplyToStatusID string `json:"in_reply_to_status_id_str"`
		InReplyToUsername string `json:"in_reply_to_screen_name"`
		ConversationID    string `json:"conversation_id_str"`
		Lang              string `json:"lang"`
		Entities          struct {
			URLs []struct {
				ExpandedURL string `json:"expanded_url"`
			} `json:"urls"`
		} `json:"entities"`
		ExtendedEntities struct {
			Media []mediaEntity `json:"media"`
		} `json:"extended_entities"`
		RetweetedStatusResult *struct {
			Result json.RawMessage `json:"result"`
		} `json:"retweeted_status_result"`
	} `json:"legacy"`
	QuotedStatusResult *struct {
		Result json.RawMessage `json:"result"`
	} `json:"quoted_status_result"`
	Source string `json:"source"`
}

type mediaEntity struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	ExtAltText    string `json:"ext_alt_text"`
	OriginalInfo  struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"original_info"`
	VideoInfo struct {
		DurationMillis int `json:"duration_millis"`
		Variants       []struct {
			Bitrate     int    `json:"bitrate"`
			ContentType string `json:"content_type"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

// ParseTimelinePage extracts tweets and the bottom cursor from a UserTweets
// data object. Pinned entries come first; duplicate tweet IDs across the pin
// and the regular entries are dropped.
func ParseTimelinePage(data json.RawMessage) (*TimelinePage, error) {
	var decoded timelineData
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}

	page := &TimelinePage{}
	seen := make(map[string]bool)

	add := func(tw *models.Tweet) {
		if tw == nil || seen[tw.ID] {
			return
		}
		seen[tw.ID] = true
		page.Tweets = append(page.Tweets, tw)
	}

	for _, inst := range decoded.User.Result.TimelineV2.Timeline.Instructions {
		switch inst.Type {
		case "TimelinePinEntry":
			if inst.Entry != nil && inst.Entry.Content.ItemContent != nil {
				add(parseItemContent(inst.Entry.Content.ItemContent))
			}
		case "TimelineAddEntries":
			for _, e := range inst.Entries {
				switch {
				case strings.HasPrefix(e.EntryID, "tweet-"):
					if e.Content.ItemContent != nil {
						add(parseItemContent(e.Content.ItemContent))
					}
				case strings.HasPrefix(e.EntryID, "cursor-bottom-"):
					page.NextCursor = e.Content.Value
				case strings.HasPrefix(e.EntryID, "profile-conversation-"),
					strings.HasPrefix(e.EntryID, "homeConversation-"):
					for _, item := range e.Content.Items {
						if item.Item.ItemContent != nil {
							add(parseItemContent(item.Item.ItemContent))
						}
					}
				}
			}
		}
	}
	return page, nil
}

// parseItemContent unwraps one timeline item into a tweet, skipping promoted
// content and unavailable tweets.
func parseItemContent(item *itemContent) *models.Tweet {
	if len(item.PromotedMetadata) > 0 && string(item.PromotedMetadata) != "null" {
		return nil
	}
	return parseTweetResult(item.TweetResults.Result)
}

// parseTweetResult decodes a tweet result object, following the
// TweetWithVisibilityResults wrapper and dropping tombstones.
func parseTweetResult(raw json.RawMessage) *models.Tweet {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var result tweetResult
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Warn("Skipping undecodable tweet result", "error", err)
		return nil
	}

	switch result.TypeName {
	case "TweetWithVisibilityResults":
		return parseTweetResult(result.Tweet)
	case "TweetTombstone", "TweetUnavailable":
		return nil
	}
	if result.RestID == "" {
		return nil
	}

	text := result.Legacy.FullText
	if noteText := result.NoteTweet.NoteTweetResults.Result.Text; noteText != "" {
		text = noteText
	}

	tw := &models.Tweet{
		ID:                result.RestID,
		Text:              text,
		UserID:            result.Core.UserResults.Result.RestID,
		Username:          result.Core.UserResults.Result.Legacy.ScreenName,
		DisplayName:       result.Core.UserResults.Result.Legacy.Name,
		ReplyCount:        result.Legacy.ReplyCount,
		RetweetCount:      result.Legacy.RetweetCount,
		LikeCount:         result.Legacy.FavoriteCount,
		BookmarkCount:     result.Legacy.BookmarkCount,
		QuoteCount:        result.Legacy.QuoteCount,
		InReplyToID:       result.Legacy.InReplyToStatusID,
		InReplyToUsername: result.Legacy.InReplyToUsername,
		ConversationID:    result.Legacy.ConversationID,
		Lang:              result.Legacy.Lang,
	}

	if created, err := time.Parse(createdAtLayout, result.Legacy.CreatedAt); err == nil {
		tw.CreatedAt = created
	} else if result.Legacy.CreatedAt != "" {
		slog.Warn("Unparseable tweet timestamp", "tweet_id", tw.ID, "created_at", result.Legacy.CreatedAt)
	}

	if result.Views.Count != "" {
		if views, err := strconv.Atoi(result.Views.Count); err == nil {
			tw.ViewCount = views
		}
	}
	if m := sourceLabelRe.FindStringSubmatch(result.Source); len(m) == 2 {
		tw.Source = m[1]
	}

	selfStatusPrefix := fmt.Sprintf("https://x.com/%s/status/", tw.Username)
	for _, u := range result.Legacy.Entities.URLs {
		if u.ExpandedURL == "" || strings.HasPrefix(u.ExpandedURL, selfStatusPrefix) {
			continue
		}
		tw.URLs = append(tw.URLs, u.ExpandedURL)
	}

	for _, m := range result.Legacy.ExtendedEntities.Media {
		if media := parseMedia(m); media != nil {
			tw.Media = append(tw.Media, *media)
		}
	}

	if result.Legacy.RetweetedStatusResult != nil {
		tw.IsRetweet = true
		tw.RetweetedTweet = parseTweetResult(result.Legacy.RetweetedStatusResult.Result)
	}
	if result.QuotedStatusResult != nil {
		tw.IsQuote = true
		tw.QuotedTweet = parseTweetResult(result.QuotedStatusResult.Result)
	}
	return tw
}

// parseMedia maps a media entity; videos resolve to their highest-bitrate
// MP4 variant.
func parseMedia(m mediaEntity) *models.TweetMedia {
	media := &models.TweetMedia{
		AltText: m.ExtAltText,
		Width:   m.OriginalInfo.Width,
		Height:  m.OriginalInfo.Height,
	}
	switch m.Type {
	case "photo":
		media.Type = models.MediaPhoto
		media.URL = m.MediaURLHTTPS
	case "video", "animated_gif":
		if m.Type == "video" {
			media.Type = models.MediaVideo
		} else {
			media.Type = models.MediaGIF
		}
		media.PreviewURL = m.MediaURLHTTPS
		media.DurationMS = m.VideoInfo.DurationMillis
		best := -1
		for _, v := range m.VideoInfo.Variants {
			if v.ContentType == "video/mp4" && v.Bitrate > best {
				best = v.Bitrate
				media.URL = v.URL
			}
		}
	default:
		return nil
	}
	if media.URL == "" {
		return nil
	}
	return media
}
