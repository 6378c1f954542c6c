package manager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/wabridge/internal/metrics"
	"github.com/matheus3301/wabridge/internal/status"
	"go.uber.org/zap"
)

// scheduleReconnect starts the reconnect loop unless one is running. A
// request that arrives while the loop is finishing makes it run again.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startReconnectLocked()
}

func (m *Manager) startReconnectLocked() {
	if m.closed {
		return
	}
	if m.reconnecting {
		m.rerun = true
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.reconnecting = true
	m.stopReconnect = cancel
	m.wg.Add(1)
	go m.reconnectLoop(ctx, cancel)
}

func (m *Manager) reconnectLoop(ctx context.Context, cancel context.CancelFunc) {
	defer m.wg.Done()
	defer func() {
		cancel()
		m.mu.Lock()
		m.reconnecting = false
		m.stopReconnect = nil
		if m.rerun && ctx.Err() == nil {
			m.rerun = false
			m.startReconnectLocked()
		}
		m.rerun = false
		m.mu.Unlock()
	}()

	policy := m.opts.Reconnect
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = 0.2

	_, err := backoff.Retry(ctx, func() (status.Status, error) {
		metrics.ReconnectAttempts.Inc()
		st, err := m.EnsureConnected(ctx)
		if err != nil && permanent(err) {
			return st, backoff.Permanent(err)
		}
		return st, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	switch {
	case err == nil:
		m.logger.Info("reconnected")
	case ctx.Err() != nil:
		m.logger.Debug("reconnect stopped")
	default:
		m.logger.Error("giving up on reconnect", zap.Error(err))
	}
}
