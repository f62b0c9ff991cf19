package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner executes an external tool and returns its combined output.
// Tests inject fakes so no binaries run.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", name, err, truncateOutput(out))
	}
	return out, nil
}

func truncateOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

// ASRBackend converts an audio file into subtitle text.
type ASRBackend interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperCLI runs the whisper-cli binary against a local model.
type WhisperCLI struct {
	Binary    string
	ModelPath string
	Runner    CommandRunner
}

// NewWhisperCLI builds the production ASR backend.
func NewWhisperCLI(binary, modelPath string) *WhisperCLI {
	if binary == "" {
		binary = "whisper-cli"
	}
	return &WhisperCLI{Binary: binary, ModelPath: modelPath, Runner: execRunner{}}
}

// Transcribe produces SRT subtitles for the audio file.
func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	args := []string{"-f", audioPath, "-osrt", "-of", outBase}
	if w.ModelPath != "" {
		args = append([]string{"-m", w.ModelPath}, args...)
	}
	if _, err := w.Runner.Run(ctx, w.Binary, args...); err != nil {
		return "", fmt.Errorf("speech recognition: %w", err)
	}

	srt, err := os.ReadFile(outBase + ".srt")
	if err != nil {
		return "", fmt.Errorf("read recognition output: %w", err)
	}
	return string(srt), nil
}
