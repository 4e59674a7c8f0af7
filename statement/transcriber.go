package statement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrTranscription signals the speech-to-text helper failed or returned an
// empty transcript.
var ErrTranscription = errors.New("statement: transcription failed")

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperTranscriber shells out to a whisper helper process that prints
// {"transcript": "..."} on stdout.
type WhisperTranscriber struct {
	command string
	args    []string
}

func NewWhisperTranscriber(command string, args ...string) *WhisperTranscriber {
	return &WhisperTranscriber{command: command, args: args}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	cmd := exec.CommandContext(ctx, w.command, append(append([]string{}, w.args...), audioPath)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: run helper: %v", ErrTranscription, err)
	}

	var result struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return "", fmt.Errorf("%w: decode helper output: %v", ErrTranscription, err)
	}
	if strings.TrimSpace(result.Transcript) == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrTranscription)
	}
	return result.Transcript, nil
}
