// Package ai implements the AI collaborator: reply generation and calendar
// event extraction backed by an LLM provider.
package ai

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/wabridge/internal/config"
	"github.com/matheus3301/wabridge/internal/metrics"
	"golang.org/x/time/rate"
)

// DefaultSystemPrompt is used when neither the request nor the config set one.
const DefaultSystemPrompt = "You are a helpful WhatsApp assistant that responds to user queries in a friendly, concise manner."

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one earlier message of the conversation.
type Turn struct {
	Role Role
	Text string
}

// Request carries the inbound text and the conversation leading up to it,
// oldest first.
type Request struct {
	Message      string
	History      []Turn
	SystemPrompt string
}

// Responder produces a reply to an inbound message.
type Responder interface {
	GenerateReply(ctx context.Context, req Request) (string, error)
}

// EventExtractor detects a calendar event in free text. It returns nil, nil
// when the text describes no event.
type EventExtractor interface {
	ExtractEvent(ctx context.Context, text string) (*CalendarEvent, error)
}

// Error wraps every failure of an AI provider.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ai %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// backend is a single chat completion call against a provider.
type backend interface {
	complete(ctx context.Context, system string, turns []Turn) (string, error)
}

// Model is a rate-limited provider serving both replies and event extraction.
type Model struct {
	provider string
	backend  backend
	limiter  *rate.Limiter
	now      func() time.Time
}

func newModel(provider string, b backend, perMinute int) *Model {
	limit, burst := rate.Inf, 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = max(1, perMinute/10)
	}
	return &Model{
		provider: provider,
		backend:  b,
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
	}
}

// Provider returns the provider name, for logs.
func (m *Model) Provider() string { return m.provider }

func (m *Model) call(ctx context.Context, system string, turns []Turn) (string, error) {
	start := time.Now()
	if err := m.limiter.Wait(ctx); err != nil {
		return "", &Error{Provider: m.provider, Err: fmt.Errorf("rate limiter: %w", err)}
	}
	out, err := m.backend.complete(ctx, system, turns)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.AIRequestDuration.WithLabelValues(m.provider, result).Observe(time.Since(start).Seconds())

	if err != nil {
		return "", &Error{Provider: m.provider, Err: err}
	}
	return out, nil
}

// GenerateReply asks the provider for a reply to req.Message.
func (m *Model) GenerateReply(ctx context.Context, req Request) (string, error) {
	system := req.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	turns := append(slices.Clone(req.History), Turn{Role: RoleUser, Text: req.Message})
	out, err := m.call(ctx, system, turns)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Canned answers every message with a fixed acknowledgement. It needs no
// provider and is the default.
type Canned struct{}

func (Canned) GenerateReply(_ context.Context, req Request) (string, error) {
	return `This is an automated response to: "` + req.Message + `"`, nil
}

// New builds the collaborators selected by cfg. Provider "none" (or empty)
// returns nil for both; "echo" replies with Canned and extracts nothing.
func New(ctx context.Context, cfg config.AIConfig) (Responder, EventExtractor, error) {
	var b backend
	switch cfg.Provider {
	case "", "none":
		return nil, nil, nil
	case "echo":
		return Canned{}, nil, nil
	case "openai":
		ob, err := newOpenAI(cfg)
		if err != nil {
			return nil, nil, &Error{Provider: cfg.Provider, Err: err}
		}
		b = ob
	case "gemini":
		gb, err := newGemini(ctx, cfg)
		if err != nil {
			return nil, nil, &Error{Provider: cfg.Provider, Err: err}
		}
		b = gb
	default:
		return nil, nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}

	m := newModel(cfg.Provider, b, cfg.RequestsPerMinute)
	if !cfg.ExtractEvents {
		return m, nil, nil
	}
	return m, m, nil
}
