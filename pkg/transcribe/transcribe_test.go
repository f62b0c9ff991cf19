package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeworks/scout/pkg/llm"
	"github.com/probeworks/scout/pkg/models"
)

func TestYouTubeID(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		wantOK bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?t=30", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/@somechannel", "", false},
		{"https://www.youtube.com/channel/UCabc123def", "", false},
		{"https://www.youtube.com/c/SomeName", "", false},
		{"https://www.youtube.com/user/someone", "", false},
		{"https://www.youtube.com/somechannel/streams", "", false},
		{"https://www.youtube.com/watch", "", false},
	}
	for _, tt := range tests {
		id, ok := YouTubeID(tt.url)
		assert.Equal(t, tt.wantOK, ok, tt.url)
		assert.Equal(t, tt.wantID, id, tt.url)
	}
}

func TestSubtitlesToText(t *testing.T) {
	srt := `1
00:00:01,000 --> 00:00:03,000
Hello everyone

2
00:00:03,000 --> 00:00:05,000
Hello everyone

3
00:00:05,000 --> 00:00:08,000
<i>welcome to the show</i>
`
	assert.Equal(t, "Hello everyone welcome to the show", SubtitlesToText(srt))
}

func TestSubtitlesToTextVTT(t *testing.T) {
	vtt := `WEBVTT
Kind: captions
Language: en

00:00:01.000 --> 00:00:03.000
first line

00:00:03.000 --> 00:00:05.000
second line
`
	assert.Equal(t, "first line second line", SubtitlesToText(vtt))
}

// fakeRunner scripts external tool invocations.
type fakeRunner struct {
	calls   [][]string
	failFor string
	onSubs  func(outBase string)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	joined := strings.Join(call, " ")
	if f.failFor != "" && strings.Contains(joined, f.failFor) {
		return nil, errors.New("tool failed")
	}
	if f.onSubs != nil && strings.Contains(joined, "--skip-download") {
		for i, a := range args {
			if a == "-o" {
				f.onSubs(args[i+1])
			}
		}
	}
	return nil, nil
}

type fakeASR struct {
	srt string
	err error
}

func (f *fakeASR) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f.srt, f.err
}

type scriptedLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *scriptedLLM) Complete(ctx context.Context, model string, messages []llm.Message) (string, error) {
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	return s.response, s.err
}

func (s *scriptedLLM) CompleteJSON(ctx context.Context, model string, messages []llm.Message) (string, error) {
	return s.Complete(ctx, model, messages)
}

const sampleSRT = "1\n00:00:01,000 --> 00:00:02,000\nraw transcript text\n"

func TestTranscribeSubtitleFirst(t *testing.T) {
	batchDir := t.TempDir()
	client := &scriptedLLM{response: "clean transcript text"}
	asr := &fakeASR{err: errors.New("must not be called")}

	tr := New(client, "small-model", asr, batchDir)
	runner := &fakeRunner{onSubs: func(outBase string) {
		require.NoError(t, os.WriteFile(outBase+".en.srt", []byte(sampleSRT), 0o644))
	}}
	tr.runner = runner

	post := &models.Post{SourceName: "Alice", Content: "talking about the launch"}
	text, err := tr.Transcribe(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", post)
	require.NoError(t, err)
	assert.Equal(t, "clean transcript text", text)

	require.Len(t, runner.calls, 1, "subtitles found, no audio download")
	assert.Contains(t, strings.Join(runner.calls[0], " "), "--write-auto-subs")

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "Context: talking about the launch")
	assert.Contains(t, client.prompts[0], "raw transcript text")

	artifact := filepath.Join(batchDir, "raw", "Alice_dQw4w9WgXcQ", "dQw4w9WgXcQ.txt")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "clean transcript text", string(data))
}

func TestTranscribeASRFallback(t *testing.T) {
	batchDir := t.TempDir()
	asr := &fakeASR{srt: sampleSRT}
	tr := New(nil, "", asr, batchDir)
	runner := &fakeRunner{} // subtitle download yields no files
	tr.runner = runner

	post := &models.Post{SourceName: "Alice"}
	text, err := tr.Transcribe(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", post)
	require.NoError(t, err)
	assert.Equal(t, "raw transcript text", text, "no LLM pass configured")

	require.Len(t, runner.calls, 2)
	assert.Contains(t, strings.Join(runner.calls[1], " "), "--audio-format mp3")

	srtArtifact := filepath.Join(batchDir, "raw", "Alice_dQw4w9WgXcQ", "dQw4w9WgXcQ.srt")
	_, err = os.Stat(srtArtifact)
	assert.NoError(t, err, "recognition output kept as artifact")
}

func TestTranscribeDirectVideoUsesASR(t *testing.T) {
	asr := &fakeASR{srt: sampleSRT}
	tr := New(nil, "", asr, t.TempDir())
	runner := &fakeRunner{}
	tr.runner = runner

	text, err := tr.Transcribe(context.Background(),
		"https://video.twimg.com/ext_tw_video/1/pu/vid/clip.mp4", &models.Post{SourceName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "raw transcript text", text)

	require.Len(t, runner.calls, 1, "no subtitle attempt for direct files")
	assert.Contains(t, strings.Join(runner.calls[0], " "), "-x")
}

func TestTranscribeSkipsListingPages(t *testing.T) {
	tr := New(nil, "", &fakeASR{}, t.TempDir())
	tr.runner = &fakeRunner{}

	text, err := tr.Transcribe(context.Background(),
		"https://www.youtube.com/@somechannel", &models.Post{SourceName: "A"})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTranscribeAudioDownloadFailure(t *testing.T) {
	tr := New(nil, "", &fakeASR{srt: sampleSRT}, t.TempDir())
	tr.runner = &fakeRunner{failFor: "--audio-format"}

	_, err := tr.Transcribe(context.Background(),
		"https://cdn.example.com/talk.mp4", &models.Post{SourceName: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download audio")
}

func TestTranscribeLLMFailureKeepsRawText(t *testing.T) {
	client := &scriptedLLM{err: errors.New("llm down")}
	tr := New(client, "small-model", &fakeASR{srt: sampleSRT}, t.TempDir())
	tr.runner = &fakeRunner{}

	text, err := tr.Transcribe(context.Background(),
		fmt.Sprintf("https://cdn.example.com/%s.mp4", "talk"), &models.Post{SourceName: "A"})
	require.NoError(t, err)
	assert.Equal(t, "raw transcript text", text)
}
