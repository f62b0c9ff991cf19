package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketForScore(t *testing.T) {
	tests := []struct {
		score int
		want  Bucket
	}{
		{5, BucketHigh},
		{4, BucketHigh},
		{3, BucketPending},
		{2, BucketPending},
		{1, BucketExcluded},
		{0, BucketExcluded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketForScore(tt.score), "score %d", tt.score)
	}
}

func TestSourceTypeValid(t *testing.T) {
	for _, st := range []SourceType{SourceMicroblog, SourcePublicAccount, SourceVideo, SourceBlog} {
		assert.True(t, st.Valid())
	}
	assert.False(t, SourceType("Podcast").Valid())
	assert.False(t, SourceType("").Valid())
}

func TestAddExtraURL(t *testing.T) {
	p := &Post{}
	p.AddExtraURL("https://a.example.com")
	p.AddExtraURL("https://b.example.com")
	p.AddExtraURL("https://a.example.com")
	p.AddExtraURL("")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, p.ExtraURLs)
}

func TestContentHash(t *testing.T) {
	p := &Post{Link: "https://x.com/alice/status/1"}
	h := p.ContentHash()
	assert.Len(t, h, 6)
	assert.Equal(t, h, p.ContentHash(), "hash is stable")

	other := &Post{Link: "https://x.com/alice/status/2"}
	assert.NotEqual(t, h, other.ContentHash())

	assert.Equal(t, "nolink", (&Post{}).ContentHash())
}
