package protocol

import "time"

// RequestStatus reports one generation lifecycle transition to the UI.
type RequestStatus struct {
	RequestID string    `json:"request_id"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a transient, dismissible user-facing notification. No failure
// terminates the session; everything surfaces as a notice.
type Notice struct {
	Level     string    `json:"level"` // info, warning, error
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectGenerateState = "voice.generate.state"
	SubjectNotice        = "voice.notice"
	// SubjectAll matches every UI-facing subject for relay subscriptions.
	SubjectAll = "voice.>"
)
