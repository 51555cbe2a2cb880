package synth

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth returns a synthesizer that writes a short sine tone so the
// full pipeline runs without the real model.
func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Diagnostics, error) {
	if err := ctx.Err(); err != nil {
		return Diagnostics{}, err
	}

	durationMS := 500
	if req.MaxAudioLengthMS > 0 && req.MaxAudioLengthMS < durationMS {
		durationMS = req.MaxAudioLengthMS
	}
	samples := m.sampleRate * durationMS / 1000
	data := make([]int, samples)
	for i := range data {
		data[i] = int(6000 * math.Sin(2*math.Pi*440*float64(i)/float64(m.sampleRate)))
	}

	if err := WriteWAV(req.OutputPath, data, m.sampleRate); err != nil {
		return Diagnostics{}, err
	}
	return Diagnostics{Stdout: fmt.Sprintf("mock synthesis: %d samples", samples)}, nil
}

// WriteWAV encodes 16-bit mono PCM samples to path.
func WriteWAV(path string, samples []int, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer file.Close()

	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   samples,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
