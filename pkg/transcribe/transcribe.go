package transcribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/probeworks/scout/pkg/llm"
	"github.com/probeworks/scout/pkg/models"
)

const optimizePrompt = `You are a transcript editor. The text below was produced by automatic ` +
	`speech recognition or auto-generated subtitles and may contain recognition errors, ` +
	`especially in names and technical terms. Correct obvious errors, add punctuation, and ` +
	`remove filler words. Preserve the original meaning and language. Return only the ` +
	`corrected transcript.`

// Transcriber resolves a video URL to transcript text and leaves the
// intermediate artifacts on disk for inspection.
type Transcriber struct {
	llm      llm.Client
	optModel string
	asr      ASRBackend
	runner   CommandRunner
	batchDir string
	ytdlp    string
	logger   *slog.Logger
}

// New builds a transcriber. client may be nil to skip the cleanup pass and
// asr may be nil to rely on platform subtitles alone.
func New(client llm.Client, optModel string, asr ASRBackend, batchDir string) *Transcriber {
	return &Transcriber{
		llm:      client,
		optModel: optModel,
		asr:      asr,
		runner:   execRunner{},
		batchDir: batchDir,
		ytdlp:    "yt-dlp",
		logger:   slog.With("component", "transcribe"),
	}
}

// Transcribe returns the transcript for a video URL. Non-video platform
// pages return empty text without error.
func (t *Transcriber) Transcribe(ctx context.Context, videoURL string, post *models.Post) (string, error) {
	id, isYouTube := t.videoID(videoURL)
	if id == "" {
		t.logger.Info("Skipping non-video page", "url", videoURL)
		return "", nil
	}

	workDir := filepath.Join(t.batchDir, "raw", artifactDirName(post.SourceName, id))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create transcript directory: %w", err)
	}

	var subs string
	if isYouTube {
		subs = t.trySubtitles(ctx, videoURL, workDir, id)
	}
	if subs == "" {
		if t.asr == nil {
			return "", nil
		}
		var err error
		subs, err = t.recognize(ctx, videoURL, workDir, id)
		if err != nil {
			return "", err
		}
	}

	text := SubtitlesToText(subs)
	if text == "" {
		return "", nil
	}
	text = t.optimize(ctx, text, post)

	txtPath := filepath.Join(workDir, id+".txt")
	if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
		t.logger.Warn("Cannot write transcript artifact", "path", txtPath, "error", err)
	}
	return text, nil
}

// videoID maps the URL to an artifact ID. YouTube listing pages yield "".
func (t *Transcriber) videoID(videoURL string) (id string, isYouTube bool) {
	parsed, err := url.Parse(videoURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Host, "www."))
	if host == "youtu.be" || strings.HasSuffix(host, "youtube.com") {
		ytID, ok := YouTubeID(videoURL)
		if !ok {
			return "", true
		}
		return ytID, true
	}
	sum := sha256.Sum256([]byte(videoURL))
	return hex.EncodeToString(sum[:])[:8], false
}

// trySubtitles downloads uploaded or auto-generated subtitles without the
// video itself. Any failure falls through to speech recognition.
func (t *Transcriber) trySubtitles(ctx context.Context, videoURL, workDir, id string) string {
	_, err := t.runner.Run(ctx, t.ytdlp,
		"--skip-download",
		"--write-subs", "--write-auto-subs",
		"--sub-langs", "en.*,en",
		"--convert-subs", "srt",
		"-o", filepath.Join(workDir, id),
		videoURL)
	if err != nil {
		t.logger.Info("No platform subtitles", "url", videoURL, "error", err)
		return ""
	}

	matches, _ := filepath.Glob(filepath.Join(workDir, id+"*.srt"))
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(workDir, id+"*.vtt"))
	}
	if len(matches) == 0 {
		return ""
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.logger.Warn("Cannot read subtitle file", "path", matches[0], "error", err)
		return ""
	}
	return string(data)
}

// recognize downloads the audio track and runs it through the ASR backend,
// keeping the resulting subtitles as an artifact.
func (t *Transcriber) recognize(ctx context.Context, videoURL, workDir, id string) (string, error) {
	audioPath := filepath.Join(workDir, id+".mp3")
	_, err := t.runner.Run(ctx, t.ytdlp,
		"-x", "--audio-format", "mp3",
		"-o", filepath.Join(workDir, id+".%(ext)s"),
		videoURL)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}

	subs, err := t.asr.Transcribe(ctx, audioPath)
	if err != nil {
		return "", err
	}
	srtPath := filepath.Join(workDir, id+".srt")
	if err := os.WriteFile(srtPath, []byte(subs), 0o644); err != nil {
		t.logger.Warn("Cannot write subtitle artifact", "path", srtPath, "error", err)
	}
	return subs, nil
}

// optimize runs the LLM cleanup pass; on failure the raw text is kept.
func (t *Transcriber) optimize(ctx context.Context, text string, post *models.Post) string {
	if t.llm == nil || t.optModel == "" {
		return text
	}
	postContext := firstRunes(post.Content, 500)
	out, err := t.llm.Complete(ctx, t.optModel, []llm.Message{
		{Role: "system", Content: optimizePrompt},
		{Role: "user", Content: fmt.Sprintf("Context: %s\n\nTranscript:\n%s", postContext, text)},
	})
	if err != nil {
		t.logger.Warn("Transcript cleanup failed, keeping raw text", "error", err)
		return text
	}
	return strings.TrimSpace(out)
}

func artifactDirName(sourceName, id string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return replacer.Replace(sourceName) + "_" + id
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
