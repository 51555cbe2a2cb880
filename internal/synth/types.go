package synth

import "context"

// ContextSegment is one conditioning segment handed to the backend. Only the
// audio path crosses this boundary, never sample data.
type ContextSegment struct {
	Text      string `json:"text"`
	Speaker   int    `json:"speaker"`
	AudioPath string `json:"audioPath,omitempty"`
}

// Request contains parameters for one synthesis invocation. MaxAudioLengthMS
// is an upper bound, not a target; the backend may produce shorter audio.
type Request struct {
	Text             string
	Speaker          int
	Context          []ContextSegment
	MaxAudioLengthMS int
	Temperature      float64
	TopK             int
	OutputPath       string
}

// Diagnostics captures backend output for reporting. The backend may exit
// non-zero while still having written a usable artifact; callers decide what
// that means.
type Diagnostics struct {
	Stdout string
	Stderr string
}

// Synthesizer is the contract for producing one audio artifact per request.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Diagnostics, error)
}
