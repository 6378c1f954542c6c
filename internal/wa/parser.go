package wa

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// InboundMessage is a parsed protocol message ready for ingestion.
type InboundMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	ChatName    string
	Body        string // text only; empty for media and unsupported payloads
	MessageType string
	FromMe      bool
	IsGroup     bool
	IsBroadcast bool
	Timestamp   int64 // unix ms
}

// IsText reports whether the message carries a plain text body.
func (m *InboundMessage) IsText() bool {
	return m.MessageType == "text" && m.Body != ""
}

// ParseMessage normalizes a live whatsmeow message event.
func ParseMessage(evt *events.Message) *InboundMessage {
	chat := NormalizeJID(evt.Info.Chat)
	return &InboundMessage{
		ChatJID:     chat.String(),
		MsgID:       evt.Info.ID,
		SenderJID:   NormalizeJID(evt.Info.Sender).String(),
		ChatName:    fallbackChatName(evt.Info, chat),
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		IsGroup:     evt.Info.IsGroup,
		IsBroadcast: chat.Server == types.BroadcastServer || chat.Server == types.NewsletterServer,
		Timestamp:   evt.Info.Timestamp.UnixMilli(),
	}
}

// NormalizeJID strips the device part so one account maps to one chat.
func NormalizeJID(jid types.JID) types.JID {
	if jid.IsEmpty() {
		return jid
	}
	return jid.ToNonAD()
}

// ParseChatID accepts a full JID or a bare phone number ("+55 11 9999-0000").
func ParseChatID(id string) (types.JID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.EmptyJID, fmt.Errorf("%w: empty", ErrInvalidChat)
	}
	if !strings.Contains(id, "@") {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			if r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' {
				return -1
			}
			return 'x'
		}, id)
		if digits == "" || strings.Contains(digits, "x") {
			return types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidChat, id)
		}
		return types.NewJID(digits, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("%w: %v", ErrInvalidChat, err)
	}
	if jid.User == "" {
		return types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidChat, id)
	}
	return NormalizeJID(jid), nil
}

// NormalizeChatID returns the canonical string form of a chat identifier.
func NormalizeChatID(id string) (string, error) {
	jid, err := ParseChatID(id)
	if err != nil {
		return "", err
	}
	return jid.String(), nil
}

// fallbackChatName is the sender's push name for direct chats they started,
// else the JID user part.
func fallbackChatName(info types.MessageInfo, chat types.JID) string {
	if !info.IsGroup && !info.IsFromMe && info.PushName != "" {
		return info.PushName
	}
	return chat.User
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
