package synth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parlancelabs/parlance/internal/config"
)

func TestBuildArgs(t *testing.T) {
	s, err := NewExecSynth(config.SynthesisConfig{
		Command:   "python3 generate_speech.py --device cpu",
		ModelPath: "/models/ckpt.pt",
	})
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	args := s.(*execSynth).buildArgs(Request{
		Text:             "Hello there",
		Speaker:          1,
		MaxAudioLengthMS: 10000,
		Temperature:      0.9,
		TopK:             50,
		OutputPath:       "/tmp/out.wav",
	}, "/tmp/context.json")

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"generate_speech.py",
		"--device cpu",
		"--text Hello there",
		"--speaker 1",
		"--output /tmp/out.wav",
		"--max_audio_length 10000",
		"--temperature 0.9",
		"--topk 50",
		"--context /tmp/context.json",
		"--model_path /models/ckpt.pt",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in args: %v", want, args)
		}
	}
}

func TestBuildArgsOmitsContextWhenEmpty(t *testing.T) {
	s, err := NewExecSynth(config.SynthesisConfig{Command: "gen"})
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	args := s.(*execSynth).buildArgs(Request{Text: "x", OutputPath: "o.wav"}, "")
	for _, a := range args {
		if a == "--context" || a == "--model_path" {
			t.Fatalf("unexpected flag %q in %v", a, args)
		}
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth(config.SynthesisConfig{Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestMockSynthWritesValidArtifact(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tone.wav")
	m := NewMockSynth(24000)

	diag, err := m.Synthesize(context.Background(), Request{Text: "hi", MaxAudioLengthMS: 200, OutputPath: out})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if diag.Stdout == "" {
		t.Fatal("expected diagnostics from mock")
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("artifact too small: %d bytes", len(data))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("artifact missing RIFF/WAVE signature: % x", data[:12])
	}
}
