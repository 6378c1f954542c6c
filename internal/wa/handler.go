package wa

import (
	"fmt"
	"time"

	"github.com/matheus3301/wabridge/internal/creds"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

func (s *Session) handle(raw any) {
	evt, ok := s.translate(raw)
	if !ok {
		return
	}
	s.emit(evt)
}

// translate maps a whatsmeow event onto the session event stream.
func (s *Session) translate(raw any) (Event, bool) {
	switch evt := raw.(type) {
	case *events.Connected:
		return connectedEvent(), true

	case *events.Disconnected:
		return disconnectedEvent(ReasonNetwork, "connection closed"), true

	case *events.ConnectFailure:
		return disconnectedEvent(ReasonNetwork, fmt.Sprintf("connect failure: %s", evt.Reason)), true

	case *events.LoggedOut:
		s.logger.Warn("logged out by server", zap.Stringer("reason", evt.Reason))
		return disconnectedEvent(ReasonLoggedOut, "logged out"), true

	case *events.StreamReplaced:
		return disconnectedEvent(ReasonReplaced, "session replaced by another client"), true

	case *events.TemporaryBan:
		return disconnectedEvent(ReasonBanned, evt.String()), true

	case *events.ClientOutdated:
		return disconnectedEvent(ReasonOutdated, "client outdated"), true

	case *events.PairSuccess:
		s.logger.Info("paired", zap.String("jid", evt.ID.String()))
		return Event{Kind: EventCredentialsRotated, Credentials: &creds.Credentials{Device: s.device}}, true

	case *events.PairError:
		detail := "pairing failed"
		if evt.Error != nil {
			detail = evt.Error.Error()
		}
		return disconnectedEvent(ReasonPairFailed, detail), true

	case *events.Message:
		msg := ParseMessage(evt)
		if chat := s.resolveJID(NormalizeJID(evt.Info.Chat)); chat.String() != msg.ChatJID {
			msg.ChatJID = chat.String()
		}
		if !msg.IsGroup {
			if name := s.contactName(NormalizeJID(evt.Info.Chat)); name != "" {
				msg.ChatName = name
			}
		}
		return Event{Kind: EventMessageReceived, Message: msg}, true

	case *events.KeepAliveTimeout:
		s.logger.Warn("keepalive timeout", zap.Int("error_count", evt.ErrorCount), zap.Time("last_success", evt.LastSuccess))
		// Auto-reconnect is off, so whatsmeow never drops a dead socket on its own.
		if !evt.LastSuccess.IsZero() && time.Since(evt.LastSuccess) > whatsmeow.KeepAliveMaxFailTime {
			return disconnectedEvent(ReasonNetwork, "keepalive timeout"), true
		}
	}
	return Event{}, false
}
