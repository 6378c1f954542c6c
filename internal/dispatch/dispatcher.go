// Package dispatch sends outbound text through the live session and records
// what was sent.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/matheus3301/wabridge/internal/bus"
	"github.com/matheus3301/wabridge/internal/metrics"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/matheus3301/wabridge/internal/wa"
	"go.uber.org/zap"
)

var (
	ErrEmptyChat = errors.New("chat id is required")
	ErrEmptyBody = errors.New("message body is required")
)

// Sender transmits a text message and returns the protocol message ID.
type Sender interface {
	Send(ctx context.Context, chatID, body string) (string, error)
}

// Dispatcher sends first and records after: a message that was not accepted by
// the protocol is never stored.
type Dispatcher struct {
	db     *store.DB
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New creates a dispatcher.
func New(db *store.DB, sender Sender, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		sender: sender,
		bus:    b,
		logger: logger,
		now:    time.Now,
	}
}

// SendAndRecord sends body to chatID and appends the outbound record. Send
// errors, including wa.ErrNotConnected, are returned unchanged and nothing is
// stored. A storage failure after a successful send is logged; the message
// still went out.
func (d *Dispatcher) SendAndRecord(ctx context.Context, chatID, body string) (*store.Message, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, ErrEmptyChat
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	chat, err := wa.NormalizeChatID(chatID)
	if err != nil {
		return nil, err
	}

	msgID, err := d.sender.Send(ctx, chat, body)
	if err != nil {
		metrics.Messages.WithLabelValues("out", "failed").Inc()
		d.logger.Warn("send failed", zap.String("chat", chat), zap.Error(err))
		return nil, err
	}

	name, err := d.db.ChatName(chat)
	if err != nil {
		d.logger.Debug("chat name lookup failed", zap.String("chat", chat), zap.Error(err))
	}
	msg := &store.Message{
		ChatJID:     chat,
		MsgID:       msgID,
		Direction:   store.DirectionOut,
		Body:        body,
		MessageType: "text",
		ChatName:    name,
		Timestamp:   d.now().UnixMilli(),
	}
	if _, err := d.db.InsertMessage(msg); err != nil {
		metrics.Messages.WithLabelValues("out", "unrecorded").Inc()
		d.logger.Error("message sent but not recorded",
			zap.String("chat", chat), zap.String("msg_id", msgID), zap.Error(err))
		return msg, nil
	}

	metrics.Messages.WithLabelValues("out", "sent").Inc()
	d.logger.Info("message sent", zap.String("chat", chat), zap.String("msg_id", msgID))
	d.bus.Emit(bus.KindMessageSent, msg)
	return msg, nil
}
