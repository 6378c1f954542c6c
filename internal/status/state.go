package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wabridge/internal/bus"
)

// State represents the bridge connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	PendingQR    State = "PENDING_QR"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions. PendingQR -> PendingQR
// carries a rotated QR code; Disconnected -> Disconnected updates the error.
var validTransitions = map[State][]State{
	Disconnected: {PendingQR, Connected, Disconnected},
	PendingQR:    {PendingQR, Connected, Disconnected},
	Connected:    {Disconnected},
}

// Status is the user-visible connection snapshot.
type Status struct {
	State  State  `json:"state"`
	QRCode string `json:"qrCode,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current Status
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Status{State: Disconnected},
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.State
}

// Snapshot returns a copy of the full status.
func (m *Machine) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetPendingQR moves to PendingQR with the given challenge.
func (m *Machine) SetPendingQR(code string) error {
	if code == "" {
		return fmt.Errorf("empty QR code")
	}
	return m.transition(Status{State: PendingQR, QRCode: code})
}

// SetConnected moves to Connected, clearing QR code and error.
func (m *Machine) SetConnected() error {
	return m.transition(Status{State: Connected})
}

// SetDisconnected moves to Disconnected. reason becomes the error field; empty
// means a clean disconnect.
func (m *Machine) SetDisconnected(reason string) error {
	return m.transition(Status{State: Disconnected, Error: reason})
}

// Reset forces Disconnected with no error from any state.
func (m *Machine) Reset() {
	_ = m.transition(Status{State: Disconnected})
}

func (m *Machine) transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current.State]
	if !slices.Contains(allowed, to.State) {
		return fmt.Errorf("invalid transition from %s to %s", m.current.State, to.State)
	}
	from := m.current.State
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From:   from,
				To:     to.State,
				Status: to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Status Status `json:"status"`
}
