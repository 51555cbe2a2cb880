package transcribe

import "context"

// Transcriber abstracts the speech-to-text backend: audio file in, text out.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
