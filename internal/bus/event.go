package bus

import "time"

// Event kinds published by the bridge.
const (
	KindStatusChanged   = "session.status_changed"
	KindMessageReceived = "message.received"
	KindMessageSent     = "message.sent"
	KindCalendarEvent   = "calendar.event_detected"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
