package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/parlancelabs/parlance/internal/config"
)

type execSynth struct {
	cmd     []string
	cfg     config.SynthesisConfig
	timeout time.Duration
	mu      sync.Mutex
}

// NewExecSynth wraps an external speech generator CLI. The command is parsed
// shell-style; per-request flags are appended to it.
func NewExecSynth(cfg config.SynthesisConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &execSynth{cmd: args, cfg: cfg, timeout: timeout}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Diagnostics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var contextPath string
	if len(req.Context) > 0 {
		file, err := os.CreateTemp("", "parlance_context_*.json")
		if err != nil {
			return Diagnostics{}, fmt.Errorf("context temp file: %w", err)
		}
		contextPath = file.Name()
		defer os.Remove(contextPath)

		data, err := json.Marshal(req.Context)
		if err != nil {
			file.Close()
			return Diagnostics{}, fmt.Errorf("encode context payload: %w", err)
		}
		if _, err := file.Write(data); err != nil {
			file.Close()
			return Diagnostics{}, fmt.Errorf("write context payload: %w", err)
		}
		file.Close()
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := e.buildArgs(req, contextPath)
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	diag := Diagnostics{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return diag, fmt.Errorf("synthesis timed out: %w", ctx.Err())
	}
	if err != nil {
		return diag, fmt.Errorf("synthesis command failed: %w", err)
	}
	return diag, nil
}

func (e *execSynth) buildArgs(req Request, contextPath string) []string {
	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--text", req.Text,
		"--speaker", strconv.Itoa(req.Speaker),
		"--output", req.OutputPath,
		"--max_audio_length", strconv.Itoa(req.MaxAudioLengthMS),
		"--temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		"--topk", strconv.Itoa(req.TopK),
	)
	if contextPath != "" {
		args = append(args, "--context", contextPath)
	}
	if e.cfg.ModelPath != "" {
		args = append(args, "--model_path", e.cfg.ModelPath)
	}
	return args
}
