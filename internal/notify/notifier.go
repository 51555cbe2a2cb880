package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/parlancelabs/parlance/internal/bus"
	"github.com/parlancelabs/parlance/internal/generate"
	"github.com/parlancelabs/parlance/internal/protocol"
)

// BusNotifier publishes lifecycle transitions and notices on the bus for the
// websocket relay to fan out. Publish failures are logged, never propagated:
// notification delivery is best effort.
type BusNotifier struct {
	bus *bus.Client
	log *slog.Logger
}

func NewBusNotifier(busClient *bus.Client, log *slog.Logger) *BusNotifier {
	return &BusNotifier{bus: busClient, log: log.With(slog.String("component", "notify"))}
}

// RequestState implements generate.Notifier.
func (n *BusNotifier) RequestState(requestID string, state generate.State, detail string) {
	n.publish(protocol.SubjectGenerateState, protocol.RequestStatus{
		RequestID: requestID,
		State:     string(state),
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// Notice publishes a transient user-facing notification.
func (n *BusNotifier) Notice(level, message string) {
	n.publish(protocol.SubjectNotice, protocol.Notice{
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (n *BusNotifier) publish(subject string, payload any) {
	if n == nil || n.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("failed to marshal notification", slog.String("error", err.Error()))
		return
	}
	if err := n.bus.Conn().Publish(subject, data); err != nil {
		n.log.Warn("failed to publish notification",
			slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
