package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/matheus3301/wabridge/internal/creds"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/wa"
)

type memStore struct {
	mu      sync.Mutex
	creds   *creds.Credentials
	loadErr error
	saves   int
	clears  int

	// When set, Clear signals clearing and then blocks until clearGate closes.
	clearing  chan struct{}
	clearGate chan struct{}
}

func (s *memStore) Load(context.Context) (*creds.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.creds, nil
}

func (s *memStore) Save(_ context.Context, c *creds.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
	s.saves++
	return nil
}

func (s *memStore) Clear(context.Context) error {
	if s.clearing != nil {
		s.clearing <- struct{}{}
	}
	if s.clearGate != nil {
		<-s.clearGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	s.clears++
	return nil
}

func (s *memStore) stored() *creds.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

type fakeSession struct {
	dialer *fakeDialer

	mu     sync.Mutex
	events chan wa.Event
	closed bool
	sent   []string

	loggedOut atomic.Bool
	closes    atomic.Int32
}

func (f *fakeSession) Connect(ctx context.Context) (<-chan wa.Event, error) {
	d := f.dialer
	d.connects.Add(1)
	n := d.inflight.Add(1)
	defer d.inflight.Add(-1)
	for {
		max := d.maxInflight.Load()
		if n <= max || d.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := d.connectErr(); err != nil {
		return nil, err
	}
	if d.onConnect != nil {
		d.onConnect(f)
	}
	return f.events, nil
}

func (f *fakeSession) Send(_ context.Context, chatID, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID+":"+body)
	return "MSG1", nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.loggedOut.Store(true)
	return nil
}

func (f *fakeSession) Close() {
	f.closes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

// emit delivers evt unless the session is closed. Terminal events close the
// stream, as the real session does.
func (f *fakeSession) emit(evt wa.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- evt
	if evt.Terminal() {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDialer struct {
	gate      chan struct{}
	onConnect func(*fakeSession)

	mu       sync.Mutex
	sessions []*fakeSession
	failFrom int // sessions with index >= failFrom fail to connect; 0 disables
	failAll  bool

	connects    atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (d *fakeDialer) dial(context.Context, *creds.Credentials) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &fakeSession{dialer: d, events: make(chan wa.Event, 16)}
	d.sessions = append(d.sessions, f)
	return f, nil
}

func (d *fakeDialer) connectErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll || (d.failFrom > 0 && len(d.sessions) > d.failFrom) {
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func (d *fakeDialer) last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1]
}

func emitQR(code string) func(*fakeSession) {
	return func(f *fakeSession) {
		f.emit(wa.Event{Kind: wa.EventQRChallenge, QRCode: code})
	}
}

func emitConnected(f *fakeSession) {
	f.emit(wa.Event{Kind: wa.EventStateChanged, State: status.Connected})
}

func disconnected(reason wa.DisconnectReason, detail string) wa.Event {
	return wa.Event{Kind: wa.EventStateChanged, State: status.Disconnected, Reason: reason, Detail: detail}
}

type recordingIngestor struct {
	mu   sync.Mutex
	msgs []*wa.InboundMessage
}

func (r *recordingIngestor) Submit(msg *wa.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingIngestor) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.MsgID
	}
	return out
}
