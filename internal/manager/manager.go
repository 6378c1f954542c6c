// Package manager owns the single protocol session of the process. It
// serializes connection attempts, drives the connection state machine from
// session events and reconnects after transport failures.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wabridge/internal/creds"
	"github.com/matheus3301/wabridge/internal/metrics"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/wa"
	"go.uber.org/zap"
)

var (
	// ErrAborted is returned to callers of an attempt cancelled by Logout.
	ErrAborted = errors.New("connection attempt aborted")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("session manager closed")
)

// DisconnectError ends an attempt whose session terminated before or after
// reaching a usable state.
type DisconnectError struct {
	Reason wa.DisconnectReason
	Detail string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnected (%s): %s", e.Reason, e.Detail)
}

// CredentialStore persists pairing credentials.
type CredentialStore interface {
	Load(ctx context.Context) (*creds.Credentials, error)
	Save(ctx context.Context, c *creds.Credentials) error
	Clear(ctx context.Context) error
}

// Session is one live protocol connection.
type Session interface {
	Connect(ctx context.Context) (<-chan wa.Event, error)
	Send(ctx context.Context, chatID, body string) (string, error)
	Logout(ctx context.Context) error
	Close()
}

// DialFunc creates a new, unconnected session for the given credentials.
type DialFunc func(ctx context.Context, c *creds.Credentials) (Session, error)

// Ingestor receives inbound messages in arrival order.
type Ingestor interface {
	Submit(msg *wa.InboundMessage)
}

// ReconnectPolicy configures the backoff between automatic reconnects.
// MaxAttempts of 0 retries until the connection is back.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     uint
}

type Options struct {
	ConnectTimeout time.Duration
	Reconnect      ReconnectPolicy
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.Reconnect.InitialInterval <= 0 {
		o.Reconnect.InitialInterval = time.Second
	}
	if o.Reconnect.MaxInterval <= 0 {
		o.Reconnect.MaxInterval = time.Minute
	}
	if o.Reconnect.Multiplier < 1 {
		o.Reconnect.Multiplier = 2
	}
	return o
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithIngestor routes inbound messages to i.
func WithIngestor(i Ingestor) Option {
	return func(m *Manager) { m.ingest = i }
}

// attempt is the single in-flight connection attempt shared by every caller
// of EnsureConnected while it runs.
type attempt struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func newAttempt(cancel context.CancelFunc) *attempt {
	return &attempt{done: make(chan struct{}), cancel: cancel}
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *attempt) settled() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Manager is the single owner of the session handle and the connection state.
type Manager struct {
	store   CredentialStore
	dial    DialFunc
	machine *status.Machine
	logger  *zap.Logger
	opts    Options
	ingest  Ingestor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	handle        Session
	pending       *attempt
	gen           uint64 // bumped whenever the current handle is invalidated
	reconnecting  bool
	rerun         bool
	stopReconnect context.CancelFunc
	closed        bool
}

// New creates a manager. Nothing connects until EnsureConnected or Resume.
func New(store CredentialStore, dial DialFunc, machine *status.Machine, logger *zap.Logger, opts Options, options ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:   store,
		dial:    dial,
		machine: machine,
		logger:  logger,
		opts:    opts.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range options {
		o(m)
	}
	m.observe()
	return m
}

// Status returns the current snapshot without side effects.
func (m *Manager) Status() status.Status {
	return m.machine.Snapshot()
}

// EnsureConnected returns immediately when a session exists. Otherwise it
// starts a connection attempt, or joins the one already running, and waits
// until the session shows a QR code, connects, or fails.
func (m *Manager) EnsureConnected(ctx context.Context) (status.Status, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return m.machine.Snapshot(), ErrClosed
	}
	if m.handle != nil && m.pending == nil {
		m.mu.Unlock()
		return m.machine.Snapshot(), nil
	}
	a := m.pending
	if a == nil {
		a = m.startAttemptLocked()
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return m.machine.Snapshot(), a.err
	case <-ctx.Done():
		return m.machine.Snapshot(), ctx.Err()
	}
}

// Send transmits on the current session. It fails fast with
// wa.ErrNotConnected unless the bridge is connected.
func (m *Manager) Send(ctx context.Context, chatID, body string) (string, error) {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil || m.machine.Current() != status.Connected {
		return "", wa.ErrNotConnected
	}
	return h.Send(ctx, chatID, body)
}

// Logout interrupts any attempt in progress, unlinks the device, deletes the
// stored credentials and leaves the bridge Disconnected without error.
func (m *Manager) Logout(ctx context.Context) error {
	barrier := newAttempt(func() {})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.gen++
	h := m.handle
	m.handle = nil
	prev := m.pending
	// Callers arriving during logout wait for it instead of dialing with
	// credentials that are about to be deleted.
	m.pending = barrier
	stop := m.stopReconnect
	m.rerun = false
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if prev != nil {
		prev.finish(ErrAborted)
		prev.cancel()
	}
	if h != nil {
		if err := h.Logout(ctx); err != nil {
			m.logger.Warn("server logout failed, clearing local credentials anyway", zap.Error(err))
		}
		h.Close()
	}
	err := m.store.Clear(ctx)

	m.mu.Lock()
	m.machine.Reset()
	m.observe()
	if m.pending == barrier {
		m.pending = nil
	}
	m.mu.Unlock()
	barrier.finish(ErrAborted)

	if err != nil {
		m.logger.Error("failed to clear credentials", zap.Error(err))
		return err
	}
	m.logger.Info("logged out")
	return nil
}

// Resume reconnects in the background when credentials are stored.
func (m *Manager) Resume(ctx context.Context) {
	c, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error("cannot read credentials", zap.Error(err))
		m.mu.Lock()
		_ = m.machine.SetDisconnected(err.Error())
		m.observe()
		m.mu.Unlock()
		return
	}
	if c == nil {
		m.logger.Info("no credentials stored, waiting for init")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.logger.Info("resuming session", zap.String("jid", c.JID()))
		if _, err := m.EnsureConnected(m.ctx); err != nil {
			m.logger.Warn("resume failed", zap.Error(err))
			if !permanent(err) {
				m.scheduleReconnect()
			}
		}
	}()
}

// Shutdown closes the session without logging out and waits for every
// background goroutine to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	h := m.handle
	m.handle = nil
	a := m.pending
	m.pending = nil
	m.mu.Unlock()

	if a != nil {
		a.finish(ErrClosed)
	}
	m.cancel()
	if h != nil {
		h.Close()
	}
	m.wg.Wait()
}

func (m *Manager) startAttemptLocked() *attempt {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.ConnectTimeout)
	a := newAttempt(cancel)
	m.gen++
	m.pending = a
	m.wg.Add(1)
	go m.runAttempt(ctx, a, m.gen)
	return a
}

func (m *Manager) runAttempt(ctx context.Context, a *attempt, gen uint64) {
	defer m.wg.Done()
	defer a.cancel()

	c, err := m.store.Load(ctx)
	if err != nil {
		m.failAttempt(a, gen, err)
		return
	}
	h, err := m.dial(ctx, c)
	if err != nil {
		m.failAttempt(a, gen, err)
		return
	}
	events, err := h.Connect(ctx)
	if err != nil {
		h.Close()
		m.failAttempt(a, gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		h.Close()
		a.finish(ErrAborted)
		return
	}
	m.handle = h
	m.wg.Add(1)
	m.mu.Unlock()

	go m.consume(gen, a, h, events)

	select {
	case <-a.done:
	case <-ctx.Done():
		m.abandon(gen, a, h, ctx.Err())
	}
}

// abandon drops a handle that did not settle within the connect timeout.
func (m *Manager) abandon(gen uint64, a *attempt, h Session, cause error) {
	err := &wa.ProtocolError{Op: "connect", Err: cause}

	m.mu.Lock()
	current := gen == m.gen && m.handle == h
	if current {
		m.handle = nil
		if m.pending == a {
			m.pending = nil
		}
		_ = m.machine.SetDisconnected(err.Error())
		m.observe()
	}
	m.mu.Unlock()

	if current {
		h.Close()
		metrics.Handshakes.WithLabelValues("timeout").Inc()
	}
	a.finish(err)
}

func (m *Manager) failAttempt(a *attempt, gen uint64, err error) {
	m.logger.Warn("connection attempt failed", zap.Error(err))
	metrics.Handshakes.WithLabelValues("error").Inc()

	m.mu.Lock()
	if gen == m.gen {
		if m.pending == a {
			m.pending = nil
		}
		_ = m.machine.SetDisconnected(err.Error())
		m.observe()
	}
	m.mu.Unlock()
	a.finish(err)
}

// observe mirrors the state into metrics. Called after each transition.
func (m *Manager) observe() {
	metrics.SetState(string(m.machine.Current()),
		string(status.Disconnected), string(status.PendingQR), string(status.Connected))
}

func permanent(err error) bool {
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) || creds.IsStoreError(err) {
		return true
	}
	var de *DisconnectError
	if errors.As(err, &de) {
		return !de.Reason.Retryable()
	}
	return false
}
