package audiocache

import (
	"fmt"
	"math"
	"strings"
)

// Placeholder waveforms stand in when an artifact cannot be decoded or
// reached, so visualization always has something to render. Both are fixed
// functions of the sample rate, never of the reference, which keeps repeated
// resolutions bit-identical.
const (
	decodePlaceholderSeconds      = 1.0
	unreachablePlaceholderSeconds = 0.25
	placeholderFrequencyHz        = 220.0
	placeholderAmplitude          = 0.08
	unreachableAmplitude          = 0.04
)

// decodePlaceholder is the low-amplitude sine used when an artifact exists
// but will not decode.
func decodePlaceholder(sampleRate int) []float64 {
	return sine(sampleRate, decodePlaceholderSeconds, placeholderFrequencyHz, placeholderAmplitude)
}

// unreachablePlaceholder is a shorter, quieter signal marking an artifact
// that could not be fetched at all.
func unreachablePlaceholder(sampleRate int) []float64 {
	return sine(sampleRate, unreachablePlaceholderSeconds, placeholderFrequencyHz*1.5, unreachableAmplitude)
}

func sine(sampleRate int, seconds, freq, amplitude float64) []float64 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float64, n)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// SanitizeFilename reduces an artifact reference to a bare filename safe to
// use in a proxied request. Only the final path segment is honored; anything
// that still looks like traversal is rejected.
func SanitizeFilename(ref string) (string, error) {
	name := strings.ReplaceAll(ref, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.Contains(name, "..") {
		return "", fmt.Errorf("unusable artifact filename %q", ref)
	}
	return name, nil
}
