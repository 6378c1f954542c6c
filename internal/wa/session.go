package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wabridge/internal/creds"
	"github.com/matheus3301/wabridge/internal/logging"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const eventBuffer = 64

// Options bounds the blocking protocol operations.
type Options struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	DeviceName     string // shown in the phone's linked devices list
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	return o
}

// DeviceSource hands out blank devices for new pairings.
type DeviceSource interface {
	NewDevice() *wastore.Device
}

// Dialer creates one Session per connection attempt.
type Dialer struct {
	devices DeviceSource
	logger  *zap.Logger
	opts    Options
}

// NewDialer creates a dialer backed by the given device source.
func NewDialer(devices DeviceSource, logger *zap.Logger, opts Options) *Dialer {
	opts = opts.withDefaults()
	if opts.DeviceName != "" {
		wastore.SetOSInfo(opts.DeviceName, [3]uint32{0, 1, 0})
	}
	return &Dialer{devices: devices, logger: logger, opts: opts}
}

// Dial prepares a session for the given credentials. Nil credentials start a
// fresh pairing. The session does not touch the network until Connect.
func (d *Dialer) Dial(_ context.Context, c *creds.Credentials) (*Session, error) {
	var device *wastore.Device
	switch {
	case c == nil:
		device = d.devices.NewDevice()
	case c.Device == nil:
		return nil, &ProtocolError{Op: "dial", Err: errors.New("malformed credentials: no device")}
	default:
		device = c.Device
	}

	client := whatsmeow.NewClient(device, logging.WALogger(d.logger, "whatsmeow"))
	// Reconnection is owned by the session manager; a dropped session must end.
	client.EnableAutoReconnect = false

	return newSession(client, device, d.logger, d.opts), nil
}

// Session is one live connection. After it emits a Disconnected event it is
// finished and a new Session must be dialed.
type Session struct {
	client *whatsmeow.Client
	device *wastore.Device
	logger *zap.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex // serializes emit and guards terminated
	events     chan Event
	terminated bool

	closed    chan struct{}
	closeOnce sync.Once

	handlerID uint32
	started   bool
}

func newSession(client *whatsmeow.Client, device *wastore.Device, logger *zap.Logger, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		client: client,
		device: device,
		logger: logger,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
		closed: make(chan struct{}),
	}
}

// Connect starts the handshake and returns the event stream. It returns once
// the socket is up; pairing and login progress arrive as events.
func (s *Session) Connect(ctx context.Context) (<-chan Event, error) {
	if s.started {
		return nil, &ProtocolError{Op: "connect", Err: errors.New("session already started")}
	}
	s.started = true
	s.handlerID = s.client.AddEventHandler(s.handle)

	if s.client.Store.ID == nil {
		// The QR channel must exist before Connect and lives as long as the session.
		qrChan, err := s.client.GetQRChannel(s.ctx)
		if err != nil {
			return nil, &ProtocolError{Op: "connect", Err: fmt.Errorf("get QR channel: %w", err)}
		}
		go s.pumpQR(qrChan)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.client.Connect() }()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, &ProtocolError{Op: "connect", Err: err}
		}
	case <-ctx.Done():
		s.client.Disconnect()
		return nil, &ProtocolError{Op: "connect", Err: ctx.Err()}
	}
	s.logger.Info("socket connected", zap.Bool("paired", s.client.Store.ID != nil))
	return s.events, nil
}

// Send transmits a text message and returns the server-assigned message ID.
func (s *Session) Send(ctx context.Context, chatID, body string) (string, error) {
	if !s.client.IsConnected() || !s.client.IsLoggedIn() {
		return "", ErrNotConnected
	}
	to, err := ParseChatID(chatID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	resp, err := s.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", &ProtocolError{Op: "send", Err: err}
	}
	return resp.ID, nil
}

// Logout unlinks this device on the server.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return &ProtocolError{Op: "logout", Err: err}
	}
	return nil
}

// Close disconnects and ends the event stream. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// Unblock a pending emit before taking the handler lock in whatsmeow.
		close(s.closed)
		s.cancel()
		if s.client != nil {
			if s.started {
				s.client.RemoveEventHandler(s.handlerID)
			}
			s.client.Disconnect()
		}

		s.mu.Lock()
		if !s.terminated {
			s.terminated = true
			close(s.events)
		}
		s.mu.Unlock()
	})
}

// emit delivers evt in order. After a terminal event the stream is closed
// and later events are discarded.
func (s *Session) emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	select {
	case s.events <- evt:
	case <-s.closed:
		return
	}
	if evt.Terminal() {
		s.terminated = true
		close(s.events)
	}
}

func (s *Session) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			s.emit(Event{Kind: EventQRChallenge, QRCode: item.Code})
		case "success":
			// PairSuccess and Connected arrive through the event handler.
		case "timeout":
			s.emit(disconnectedEvent(ReasonQRTimeout, "QR code expired"))
		default:
			detail := item.Event
			if item.Error != nil {
				detail = item.Error.Error()
			}
			s.emit(disconnectedEvent(ReasonPairFailed, detail))
		}
	}
}

// resolveJID maps a LID chat to its phone-number JID when the mapping is known.
func (s *Session) resolveJID(jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	if s.client == nil || s.client.Store == nil || s.client.Store.LIDs == nil {
		return jid
	}
	pn, err := s.client.Store.LIDs.GetPNForLID(s.ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

// contactName looks the chat up in the device's contact store.
func (s *Session) contactName(jid types.JID) string {
	if s.client == nil || s.client.Store == nil || s.client.Store.Contacts == nil {
		return ""
	}
	info, err := s.client.Store.Contacts.GetContact(s.ctx, jid)
	if err != nil || !info.Found {
		return ""
	}
	if info.FullName != "" {
		return info.FullName
	}
	return info.PushName
}
