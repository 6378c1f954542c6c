package api

import (
	"encoding/json"

	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/store"
)

type Empty struct{}

// StatusResponse answers Init, Status and Logout. Failures of Init and Logout
// are reported in Status.Error rather than as RPC errors.
type StatusResponse struct {
	Account      string        `json:"account"`
	Status       status.Status `json:"status"`
	ChatCount    int           `json:"chatCount"`
	MessageCount int           `json:"messageCount"`
	UptimeMs     int64         `json:"uptimeMs"`
}

type SendRequest struct {
	ChatID string `json:"chatId"`
	Body   string `json:"body"`
}

type SendResponse struct {
	Message *store.Message `json:"message"`
}

type ListChatsRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type ListChatsResponse struct {
	Chats   []store.Chat `json:"chats"`
	HasMore bool         `json:"hasMore"`
}

type ListMessagesRequest struct {
	ChatID   string `json:"chatId"`
	BeforeTs int64  `json:"beforeTs"`
	Limit    int    `json:"limit"`
}

type ListMessagesResponse struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

type SearchRequest struct {
	Query  string `json:"query"`
	ChatID string `json:"chatId,omitempty"`
	Limit  int    `json:"limit"`
}

type SearchResponse struct {
	Results []store.SearchResult `json:"results"`
}

// WatchRequest selects bus events by kind prefix; empty means all.
type WatchRequest struct {
	Namespace string `json:"namespace"`
}

// EventEnvelope carries one bus event to a watcher.
type EventEnvelope struct {
	EventID          string          `json:"eventId"`
	Account          string          `json:"account"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Kind             string          `json:"kind"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
