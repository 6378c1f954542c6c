package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CalendarEvent is an event mentioned in a message. End defaults to one hour
// after Start.
type CalendarEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

const eventPrompt = `You extract calendar events from chat messages. Today is %s.
Answer with a single JSON object and nothing else:
{"hasEvent": boolean, "title": string, "date": "YYYY-MM-DD", "time": "HH:MM", "location": string, "description": string}
Set hasEvent to false when the message does not mention a specific event.`

type extraction struct {
	HasEvent    bool   `json:"hasEvent"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// ExtractEvent asks the provider whether text describes an event.
func (m *Model) ExtractEvent(ctx context.Context, text string) (*CalendarEvent, error) {
	now := m.now()
	out, err := m.call(ctx, fmt.Sprintf(eventPrompt, now.Format("2006-01-02 (Monday)")), []Turn{{Role: RoleUser, Text: text}})
	if err != nil {
		return nil, err
	}
	ev, err := parseCalendarEvent(out, now.Location())
	if err != nil {
		return nil, &Error{Provider: m.provider, Err: err}
	}
	return ev, nil
}

func parseCalendarEvent(raw string, loc *time.Location) (*CalendarEvent, error) {
	// Models wrap JSON in prose or code fences often enough to strip them.
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, errors.New("no JSON object in response")
	}
	var x extraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &x); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if !x.HasEvent {
		return nil, nil
	}
	if x.Title == "" || x.Date == "" {
		return nil, errors.New("event without title or date")
	}
	clock := x.Time
	if clock == "" {
		clock = "00:00"
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", x.Date+" "+clock, loc)
	if err != nil {
		return nil, fmt.Errorf("event date: %w", err)
	}
	return &CalendarEvent{
		Title:       x.Title,
		Description: x.Description,
		Location:    x.Location,
		Start:       at,
		End:         at.Add(time.Hour),
	}, nil
}
