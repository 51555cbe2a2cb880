package voice

import "time"

// Segment is one speaker-attributed utterance within a context. Segments are
// immutable once appended. AudioRef is an opaque locator resolved by the
// audio cache; sample bytes are never stored here.
type Segment struct {
	Speaker  int    `json:"speakerId"`
	Text     string `json:"text"`
	AudioRef string `json:"audioRef,omitempty"`
}

// Context is a named, append-only ordered list of segments. The order is
// semantically meaningful: it is fed to the synthesis backend as
// conversational history.
type Context struct {
	Name     string    `json:"name"`
	Segments []Segment `json:"segments"`
}

// clone returns a snapshot safe to hand to callers.
func (c *Context) clone() Context {
	out := Context{Name: c.Name}
	if len(c.Segments) > 0 {
		out.Segments = append([]Segment(nil), c.Segments...)
	}
	return out
}

// Session is a point-in-time snapshot of generation settings plus a weak
// reference to a context by name. It never carries audio data.
type Session struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Text             string    `json:"text"`
	Speaker          int       `json:"speakerId"`
	MaxAudioLengthMS int       `json:"maxAudioLengthMs"`
	Temperature      float64   `json:"temperature"`
	TopK             int       `json:"topK"`
	ContextName      string    `json:"contextName,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}
