package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/parlancelabs/parlance/internal/config"
)

type execTranscriber struct {
	cmd     []string
	cfg     config.TranscriptionConfig
	timeout time.Duration
	mu      sync.Mutex
}

// execResult mirrors the backend's stdout contract: {"text": ...} on success
// or {"error": ...} on failure. Anything else is a hard failure.
type execResult struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// NewExecTranscriber wraps an external transcription CLI.
func NewExecTranscriber(cfg config.TranscriptionConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	return &execTranscriber{
		cmd:     args,
		cfg:     cfg,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", audioPath)
	if t.cfg.Model != "" {
		args = append(args, "--model", t.cfg.Model)
	}

	command := exec.CommandContext(ctx, t.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	// The backend prints its JSON verdict even on non-zero exit, so parse
	// stdout before deciding how to fail.
	runErr := command.Run()
	text, parseErr := parseResult(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return "", fmt.Errorf("transcription command failed: %w: %s", runErr, stderr.String())
		}
		return "", parseErr
	}
	return text, nil
}

// parseResult extracts the transcript from the backend's final stdout line.
func parseResult(stdout []byte) (string, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return "", fmt.Errorf("transcription produced no output")
	}
	var resp execResult
	if err := json.Unmarshal([]byte(last), &resp); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("transcription backend error: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Text), nil
}
