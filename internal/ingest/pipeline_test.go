package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wabridge/internal/ai"
	"github.com/matheus3301/wabridge/internal/bus"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/matheus3301/wabridge/internal/wa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const chat = "5511999999999@s.whatsapp.net"

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type sentReply struct {
	Chat string
	Body string
}

// recordingReplier stores replies the way the dispatcher does.
type recordingReplier struct {
	db *store.DB

	mu      sync.Mutex
	replies []sentReply
	err     error
	n       int
}

func (r *recordingReplier) SendAndRecord(_ context.Context, chatID, body string) (*store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.n++
	r.replies = append(r.replies, sentReply{Chat: chatID, Body: body})
	m := &store.Message{ChatJID: chatID, MsgID: fmt.Sprintf("OUT%d", r.n), Direction: store.DirectionOut, Body: body}
	if _, err := r.db.InsertMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *recordingReplier) sent() []sentReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentReply(nil), r.replies...)
}

type fakeResponder struct {
	mu       sync.Mutex
	requests []ai.Request
	reply    func(ai.Request) (string, error)
}

func (f *fakeResponder) GenerateReply(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.reply == nil {
		return ai.Canned{}.GenerateReply(context.Background(), req)
	}
	return f.reply(req)
}

func (f *fakeResponder) calls() []ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ai.Request(nil), f.requests...)
}

type fakeExtractor struct {
	event *ai.CalendarEvent
	err   error
}

func (f *fakeExtractor) ExtractEvent(context.Context, string) (*ai.CalendarEvent, error) {
	return f.event, f.err
}

func text(id, body string) *wa.InboundMessage {
	return &wa.InboundMessage{
		ChatJID:     chat,
		MsgID:       id,
		SenderJID:   chat,
		ChatName:    "Maria",
		Body:        body,
		MessageType: "text",
		Timestamp:   time.Now().UnixMilli(),
	}
}

func newPipeline(t *testing.T, db *store.DB, opts Options, options ...Option) (*Pipeline, *recordingReplier, *bus.Bus) {
	t.Helper()
	r := &recordingReplier{db: db}
	b := bus.New()
	p := New(db, r, b, zaptest.NewLogger(t), opts, options...)
	t.Cleanup(func() { p.Stop(context.Background()) })
	return p, r, b
}

func TestAIReply(t *testing.T) {
	db := testDB(t)
	resp := &fakeResponder{}
	p, r, _ := newPipeline(t, db, Options{HistoryTurns: 10}, WithResponder(resp))

	require.NoError(t, p.Process(context.Background(), text("ABC", "hello")))

	in, err := db.GetMessage(chat, "ABC")
	require.NoError(t, err)
	require.NotNil(t, in)
	assert.Equal(t, store.DirectionIn, in.Direction)
	assert.Equal(t, "hello", in.Body)

	assert.Equal(t, []sentReply{{Chat: chat, Body: `This is an automated response to: "hello"`}}, r.sent())
	n, err := db.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDuplicateMessageIsIngestedOnce(t *testing.T) {
	db := testDB(t)
	resp := &fakeResponder{}
	p, r, _ := newPipeline(t, db, Options{}, WithResponder(resp))

	msg := text("DUP", "hello")
	require.NoError(t, p.Process(context.Background(), msg))
	require.NoError(t, p.Process(context.Background(), msg))

	assert.Len(t, resp.calls(), 1)
	assert.Len(t, r.sent(), 1)
	msgs, err := db.ListMessages(chat, 0, 10)
	require.NoError(t, err)
	inbound := 0
	for _, m := range msgs {
		if m.Direction == store.DirectionIn {
			inbound++
		}
	}
	assert.Equal(t, 1, inbound)
}

func TestSkippedMessages(t *testing.T) {
	own := text("OWN", "sent from phone")
	own.FromMe = true
	status := text("ST", "status update")
	status.ChatJID = "status@broadcast"
	status.IsBroadcast = true

	for _, msg := range []*wa.InboundMessage{own, status} {
		t.Run(msg.MsgID, func(t *testing.T) {
			db := testDB(t)
			resp := &fakeResponder{}
			p, r, _ := newPipeline(t, db, Options{}, WithResponder(resp))

			require.NoError(t, p.Process(context.Background(), msg))
			n, err := db.MessageCount()
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, resp.calls())
			assert.Empty(t, r.sent())
		})
	}
}

func TestMediaPlaceholder(t *testing.T) {
	db := testDB(t)
	resp := &fakeResponder{}
	p, _, _ := newPipeline(t, db, Options{}, WithResponder(resp))

	msg := text("IMG", "")
	msg.MessageType = "image"
	require.NoError(t, p.Process(context.Background(), msg))

	stored, err := db.GetMessage(chat, "IMG")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, UnsupportedPlaceholder, stored.Body)
	assert.Equal(t, "image", stored.MessageType)
	require.Len(t, resp.calls(), 1)
	assert.Equal(t, UnsupportedPlaceholder, resp.calls()[0].Message)
}

func TestAIFailureStoresButDoesNotReply(t *testing.T) {
	db := testDB(t)
	resp := &fakeResponder{reply: func(ai.Request) (string, error) {
		return "", &ai.Error{Provider: "fake", Err: errors.New("503")}
	}}
	p, r, _ := newPipeline(t, db, Options{}, WithResponder(resp))

	require.NoError(t, p.Process(context.Background(), text("A1", "hello")))

	stored, err := db.GetMessage(chat, "A1")
	require.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Empty(t, r.sent())
}

func TestEmptyReplyIsNotSent(t *testing.T) {
	db := testDB(t)
	resp := &fakeResponder{reply: func(ai.Request) (string, error) { return "  ", nil }}
	p, r, _ := newPipeline(t, db, Options{}, WithResponder(resp))

	require.NoError(t, p.Process(context.Background(), text("A1", "hello")))
	assert.Empty(t, r.sent())
}

func TestGroupReplies(t *testing.T) {
	group := text("G1", "hi all")
	group.ChatJID = "120363000000000000@g.us"
	group.IsGroup = true

	t.Run("disabled", func(t *testing.T) {
		db := testDB(t)
		resp := &fakeResponder{}
		p, r, _ := newPipeline(t, db, Options{}, WithResponder(resp))
		require.NoError(t, p.Process(context.Background(), group))
		assert.Empty(t, r.sent())
		n, err := db.MessageCount()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("enabled", func(t *testing.T) {
		db := testDB(t)
		resp := &fakeResponder{}
		p, r, _ := newPipeline(t, db, Options{ReplyToGroups: true}, WithResponder(resp))
		require.NoError(t, p.Process(context.Background(), group))
		assert.Len(t, r.sent(), 1)
	})
}

func TestHistoryPassedToResponder(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour).UnixMilli()
	for i, m := range []*store.Message{
		{ChatJID: chat, MsgID: "H1", Direction: store.DirectionIn, Body: "first", Timestamp: base},
		{ChatJID: chat, MsgID: "H2", Direction: store.DirectionOut, Body: "reply one", Timestamp: base + 1000},
		{ChatJID: chat, MsgID: "H3", Direction: store.DirectionIn, Body: "second", Timestamp: base + 2000},
	} {
		_, err := db.InsertMessage(m)
		require.NoError(t, err, "record %d", i)
	}

	resp := &fakeResponder{}
	p, _, _ := newPipeline(t, db, Options{HistoryTurns: 2, SystemPrompt: "be nice"}, WithResponder(resp))
	require.NoError(t, p.Process(context.Background(), text("NOW", "third")))

	calls := resp.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "third", calls[0].Message)
	assert.Equal(t, "be nice", calls[0].SystemPrompt)
	assert.Equal(t, []ai.Turn{
		{Role: ai.RoleAssistant, Text: "reply one"},
		{Role: ai.RoleUser, Text: "second"},
	}, calls[0].History)
}

func TestCalendarEventPublished(t *testing.T) {
	db := testDB(t)
	ev := &ai.CalendarEvent{Title: "Dentist", Start: time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)}
	p, _, b := newPipeline(t, db, Options{}, WithExtractor(&fakeExtractor{event: ev}))
	events, unsub := b.Subscribe("calendar.", 1)
	defer unsub()

	require.NoError(t, p.Process(context.Background(), text("CAL", "dentist wednesday 2:30pm")))

	select {
	case evt := <-events:
		got, ok := evt.Payload.(DetectedEvent)
		require.True(t, ok)
		assert.Equal(t, "CAL", got.MsgID)
		assert.Equal(t, "Dentist", got.Event.Title)
	case <-time.After(time.Second):
		t.Fatal("no calendar event published")
	}
}

func TestSubmitPreservesPerChatOrder(t *testing.T) {
	db := testDB(t)
	var mu sync.Mutex
	seen := map[string][]string{}
	resp := &fakeResponder{reply: func(req ai.Request) (string, error) {
		time.Sleep(time.Millisecond)
		return "", nil
	}}
	p, _, b := newPipeline(t, db, Options{}, WithResponder(resp))
	received, unsub := b.Subscribe("message.received", 64)
	defer unsub()

	chats := []string{"111@s.whatsapp.net", "222@s.whatsapp.net", "333@s.whatsapp.net"}
	for i := range 10 {
		for _, c := range chats {
			msg := text(fmt.Sprintf("%s-%02d", c[:3], i), fmt.Sprintf("msg %d", i))
			msg.ChatJID = c
			p.Submit(msg)
		}
	}

	for range 30 {
		select {
		case evt := <-received:
			m := evt.Payload.(*store.Message)
			mu.Lock()
			seen[m.ChatJID] = append(seen[m.ChatJID], m.MsgID)
			mu.Unlock()
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}

	for _, c := range chats {
		want := make([]string, 10)
		for i := range want {
			want[i] = fmt.Sprintf("%s-%02d", c[:3], i)
		}
		assert.Equal(t, want, seen[c], c)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	db := testDB(t)
	r := &recordingReplier{db: db}
	p := New(db, r, bus.New(), zaptest.NewLogger(t), Options{})

	for i := range 20 {
		p.Submit(text(fmt.Sprintf("M%02d", i), "hello"))
	}
	p.Stop(context.Background())

	n, err := db.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	p.Submit(text("LATE", "hello"))
	stored, err := db.GetMessage(chat, "LATE")
	require.NoError(t, err)
	assert.Nil(t, stored)
}
