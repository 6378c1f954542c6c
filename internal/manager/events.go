package manager

import (
	"errors"

	"github.com/matheus3301/wabridge/internal/metrics"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/wa"
	"go.uber.org/zap"
)

// consume applies session events in order until the stream ends.
func (m *Manager) consume(gen uint64, a *attempt, h Session, events <-chan wa.Event) {
	defer m.wg.Done()
	for evt := range events {
		if evt.Terminal() {
			m.onDisconnected(gen, a, h, evt)
			return
		}
		m.onEvent(gen, a, evt)
	}
	m.onDisconnected(gen, a, h, wa.Event{
		Kind:   wa.EventStateChanged,
		State:  status.Disconnected,
		Reason: wa.ReasonNetwork,
		Detail: "event stream closed",
	})
}

func (m *Manager) stale(gen uint64) bool {
	return gen != m.gen || m.closed
}

func (m *Manager) onEvent(gen uint64, a *attempt, evt wa.Event) {
	switch evt.Kind {
	case wa.EventQRChallenge:
		m.mu.Lock()
		if m.stale(gen) {
			m.mu.Unlock()
			return
		}
		if err := m.machine.SetPendingQR(evt.QRCode); err != nil {
			m.logger.Warn("ignoring QR code", zap.Error(err))
			m.mu.Unlock()
			return
		}
		m.observe()
		if m.pending == a {
			m.pending = nil
		}
		m.mu.Unlock()
		a.finish(nil)
		m.logger.Info("waiting for QR scan")

	case wa.EventCredentialsRotated:
		m.mu.Lock()
		if m.stale(gen) {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		if err := m.store.Save(m.ctx, evt.Credentials); err != nil {
			m.logger.Error("failed to persist credentials", zap.Error(err))
			return
		}
		m.logger.Info("credentials saved", zap.String("jid", evt.Credentials.JID()))

	case wa.EventStateChanged:
		if evt.State != status.Connected {
			return
		}
		m.mu.Lock()
		if m.stale(gen) {
			m.mu.Unlock()
			return
		}
		if err := m.machine.SetConnected(); err != nil {
			m.logger.Debug("ignoring connected event", zap.Error(err))
			m.mu.Unlock()
			return
		}
		m.observe()
		if m.pending == a {
			m.pending = nil
		}
		m.mu.Unlock()
		a.finish(nil)
		metrics.Handshakes.WithLabelValues("connected").Inc()
		m.logger.Info("connected")

	case wa.EventMessageReceived:
		m.mu.Lock()
		stale := m.stale(gen)
		m.mu.Unlock()
		if stale || m.ingest == nil || evt.Message == nil {
			return
		}
		m.ingest.Submit(evt.Message)
	}
}

func (m *Manager) onDisconnected(gen uint64, a *attempt, h Session, evt wa.Event) {
	m.mu.Lock()
	if m.stale(gen) || m.handle != h {
		m.mu.Unlock()
		h.Close()
		return
	}
	m.handle = nil
	if m.pending == a {
		m.pending = nil
	}
	wasSettled := a.settled()
	err := &DisconnectError{Reason: evt.Reason, Detail: evt.Detail}

	var barrier *attempt
	switch {
	case evt.Reason == wa.ReasonLoggedOut:
		// Callers arriving while the credentials are deleted wait on the
		// barrier instead of dialing with them.
		barrier = newAttempt(func() {})
		if m.pending == nil {
			m.pending = barrier
		}
		_ = m.machine.SetDisconnected("logged out")
	case !evt.Reason.Retryable():
		_ = m.machine.SetDisconnected(evt.Detail)
	default:
		_ = m.machine.SetDisconnected("connection closed: reconnecting")
	}
	m.observe()
	m.mu.Unlock()

	h.Close()
	if barrier != nil {
		if cerr := m.store.Clear(m.ctx); cerr != nil {
			m.logger.Error("failed to clear credentials after remote logout", zap.Error(cerr))
		}
		m.mu.Lock()
		if m.pending == barrier {
			m.pending = nil
		}
		m.mu.Unlock()
		barrier.finish(err)
	}
	a.finish(err)
	metrics.Disconnects.WithLabelValues(string(evt.Reason)).Inc()
	m.logger.Warn("session disconnected",
		zap.String("reason", string(evt.Reason)),
		zap.String("detail", evt.Detail))

	// A drop during the handshake is reported to whoever waits on the
	// attempt; only an established session reconnects on its own.
	if evt.Reason.Retryable() && wasSettled {
		m.scheduleReconnect()
	}
}

// IsDisconnect reports whether err ended an attempt with the given reason.
func IsDisconnect(err error, reason wa.DisconnectReason) bool {
	var de *DisconnectError
	return errors.As(err, &de) && de.Reason == reason
}
