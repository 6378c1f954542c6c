package store

// Direction tells whether a message was received or sent by the bridge.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one durable MessageRecord. Records are append-only.
type Message struct {
	ID          int64     `json:"id"`
	ChatJID     string    `json:"chatId"`
	MsgID       string    `json:"messageId"`
	Direction   Direction `json:"direction"`
	SenderJID   string    `json:"senderId,omitempty"`
	Body        string    `json:"body"`
	MessageType string    `json:"messageType"`
	ChatName    string    `json:"chatName,omitempty"`
	Timestamp   int64     `json:"timestamp"` // unix ms
}

// Chat is derived from the messages of one chat_jid; it is never stored.
type Chat struct {
	JID                string `json:"id"`
	Name               string `json:"name"`
	IsGroup            bool   `json:"isGroup"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
	MessageCount       int    `json:"messageCount"`
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}
