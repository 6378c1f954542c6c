// Package ingest turns inbound protocol messages into durable records and,
// when an AI collaborator is configured, into replies.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wabridge/internal/ai"
	"github.com/matheus3301/wabridge/internal/bus"
	"github.com/matheus3301/wabridge/internal/metrics"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/matheus3301/wabridge/internal/wa"
	"go.uber.org/zap"
)

// UnsupportedPlaceholder is stored as the body of media and other non-text
// messages. Media content is never downloaded.
const UnsupportedPlaceholder = "[Media or unsupported message type]"

// Replier sends a reply and records it.
type Replier interface {
	SendAndRecord(ctx context.Context, chatID, body string) (*store.Message, error)
}

type Options struct {
	SystemPrompt  string
	HistoryTurns  int
	ReplyTimeout  time.Duration
	ReplyToGroups bool
}

type Option func(*Pipeline)

// WithResponder enables automatic replies.
func WithResponder(r ai.Responder) Option {
	return func(p *Pipeline) { p.responder = r }
}

// WithExtractor enables calendar event detection on inbound text.
func WithExtractor(x ai.EventExtractor) Option {
	return func(p *Pipeline) { p.extractor = x }
}

// DetectedEvent is the payload of calendar.event_detected.
type DetectedEvent struct {
	ChatJID string           `json:"chatId"`
	MsgID   string           `json:"messageId"`
	Event   ai.CalendarEvent `json:"event"`
}

// Pipeline processes messages one chat at a time: messages of a chat are
// handled in arrival order while different chats progress independently.
type Pipeline struct {
	db        *store.DB
	replier   Replier
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options
	responder ai.Responder
	extractor ai.EventExtractor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]*chatQueue
	stopped bool
}

type chatQueue struct {
	pending []*wa.InboundMessage
}

// New creates a pipeline. Without WithResponder messages are only stored.
func New(db *store.DB, replier Replier, b *bus.Bus, logger *zap.Logger, opts Options, options ...Option) *Pipeline {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		db:      db,
		replier: replier,
		bus:     b,
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]*chatQueue),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Submit queues msg without blocking the caller.
func (p *Pipeline) Submit(msg *wa.InboundMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.logger.Warn("pipeline stopped, dropping message", zap.String("msg_id", msg.MsgID))
		return
	}
	if q, ok := p.queues[msg.ChatJID]; ok {
		q.pending = append(q.pending, msg)
		return
	}
	q := &chatQueue{pending: []*wa.InboundMessage{msg}}
	p.queues[msg.ChatJID] = q
	p.wg.Add(1)
	go p.drain(msg.ChatJID, q)
}

func (p *Pipeline) drain(chat string, q *chatQueue) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if len(q.pending) == 0 {
			delete(p.queues, chat)
			p.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		p.mu.Unlock()

		if err := p.Process(p.ctx, msg); err != nil {
			p.logger.Error("failed to ingest message",
				zap.String("chat", msg.ChatJID), zap.String("msg_id", msg.MsgID), zap.Error(err))
		}
	}
}

// Stop refuses new messages and waits for queued ones. When ctx expires first,
// in-flight work is cancelled.
func (p *Pipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("ingest drain interrupted")
	}
	p.cancel()
	<-done
}

// Process runs the full ingestion of one message. Only a storage failure is
// returned; AI and send failures are logged and end processing.
func (p *Pipeline) Process(ctx context.Context, msg *wa.InboundMessage) error {
	if msg.FromMe {
		p.logger.Debug("skipping own message", zap.String("msg_id", msg.MsgID))
		return nil
	}
	if msg.IsBroadcast {
		p.logger.Debug("skipping broadcast message", zap.String("chat", msg.ChatJID))
		return nil
	}

	body := msg.Body
	if !msg.IsText() {
		body = UnsupportedPlaceholder
	}
	rec := &store.Message{
		ChatJID:     msg.ChatJID,
		MsgID:       msg.MsgID,
		Direction:   store.DirectionIn,
		SenderJID:   msg.SenderJID,
		Body:        body,
		MessageType: msg.MessageType,
		ChatName:    msg.ChatName,
		Timestamp:   msg.Timestamp,
	}
	inserted, err := p.db.InsertMessage(rec)
	if err != nil {
		metrics.Messages.WithLabelValues("in", "failed").Inc()
		return fmt.Errorf("persist message: %w", err)
	}
	if !inserted {
		metrics.Messages.WithLabelValues("in", "duplicate").Inc()
		p.logger.Debug("duplicate message", zap.String("chat", rec.ChatJID), zap.String("msg_id", rec.MsgID))
		return nil
	}
	metrics.Messages.WithLabelValues("in", "stored").Inc()
	p.bus.Emit(bus.KindMessageReceived, rec)

	if p.extractor != nil && msg.IsText() {
		p.detectEvent(ctx, rec)
	}
	if p.responder == nil || (msg.IsGroup && !p.opts.ReplyToGroups) {
		return nil
	}
	p.reply(ctx, rec)
	return nil
}

func (p *Pipeline) detectEvent(ctx context.Context, rec *store.Message) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ReplyTimeout)
	defer cancel()

	ev, err := p.extractor.ExtractEvent(ctx, rec.Body)
	if err != nil {
		p.logger.Warn("event extraction failed", zap.String("msg_id", rec.MsgID), zap.Error(err))
		return
	}
	if ev == nil {
		return
	}
	p.logger.Info("calendar event detected",
		zap.String("chat", rec.ChatJID), zap.String("title", ev.Title), zap.Time("start", ev.Start))
	p.bus.Emit(bus.KindCalendarEvent, DetectedEvent{ChatJID: rec.ChatJID, MsgID: rec.MsgID, Event: *ev})
}

func (p *Pipeline) reply(ctx context.Context, rec *store.Message) {
	history, err := p.history(rec)
	if err != nil {
		p.logger.Warn("cannot load conversation history", zap.String("chat", rec.ChatJID), zap.Error(err))
	}

	aiCtx, cancel := context.WithTimeout(ctx, p.opts.ReplyTimeout)
	text, err := p.responder.GenerateReply(aiCtx, ai.Request{
		Message:      rec.Body,
		History:      history,
		SystemPrompt: p.opts.SystemPrompt,
	})
	cancel()
	if err != nil {
		p.logger.Warn("ai reply failed", zap.String("chat", rec.ChatJID), zap.String("msg_id", rec.MsgID), zap.Error(err))
		return
	}
	if strings.TrimSpace(text) == "" {
		p.logger.Debug("empty ai reply, nothing to send", zap.String("msg_id", rec.MsgID))
		return
	}

	if _, err := p.replier.SendAndRecord(ctx, rec.ChatJID, text); err != nil {
		p.logger.Warn("failed to send ai reply", zap.String("chat", rec.ChatJID), zap.Error(err))
	}
}

// history returns up to HistoryTurns records that precede rec, oldest first.
func (p *Pipeline) history(rec *store.Message) ([]ai.Turn, error) {
	if p.opts.HistoryTurns <= 0 {
		return nil, nil
	}
	recent, err := p.db.RecentMessages(rec.ChatJID, p.opts.HistoryTurns+1)
	if err != nil {
		return nil, err
	}
	turns := make([]ai.Turn, 0, len(recent))
	for _, m := range recent {
		if m.ID == rec.ID {
			continue
		}
		role := ai.RoleUser
		if m.Direction == store.DirectionOut {
			role = ai.RoleAssistant
		}
		turns = append(turns, ai.Turn{Role: role, Text: m.Body})
	}
	if len(turns) > p.opts.HistoryTurns {
		turns = turns[len(turns)-p.opts.HistoryTurns:]
	}
	return turns, nil
}
