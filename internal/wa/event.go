package wa

import (
	"github.com/matheus3301/wabridge/internal/creds"
	"github.com/matheus3301/wabridge/internal/status"
)

// EventKind identifies a protocol session event.
type EventKind string

const (
	EventQRChallenge        EventKind = "qr_challenge"
	EventCredentialsRotated EventKind = "credentials_rotated"
	EventStateChanged       EventKind = "state_changed"
	EventMessageReceived    EventKind = "message_received"
)

// DisconnectReason explains why a session ended.
type DisconnectReason string

const (
	ReasonNetwork    DisconnectReason = "network"
	ReasonLoggedOut  DisconnectReason = "logged_out"
	ReasonReplaced   DisconnectReason = "replaced"
	ReasonBanned     DisconnectReason = "banned"
	ReasonOutdated   DisconnectReason = "outdated"
	ReasonQRTimeout  DisconnectReason = "qr_timeout"
	ReasonPairFailed DisconnectReason = "pair_failed"
)

// Retryable reports whether reconnecting can help. Only transport failures
// qualify. A replaced stream means another client owns the device now, a
// temporary ban only grows when the server is retried against, and an
// outdated client must be upgraded first.
func (r DisconnectReason) Retryable() bool {
	return r == ReasonNetwork
}

// Event is one item of a session's event stream.
type Event struct {
	Kind        EventKind
	QRCode      string
	Credentials *creds.Credentials
	State       status.State
	Reason      DisconnectReason
	Detail      string
	Message     *InboundMessage
}

// Terminal reports whether this is the last event of its session.
func (e Event) Terminal() bool {
	return e.Kind == EventStateChanged && e.State == status.Disconnected
}

func connectedEvent() Event {
	return Event{Kind: EventStateChanged, State: status.Connected}
}

func disconnectedEvent(reason DisconnectReason, detail string) Event {
	return Event{Kind: EventStateChanged, State: status.Disconnected, Reason: reason, Detail: detail}
}
