package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"capledger.org/internal/auth"
	"capledger.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event is the externally observable record of one committed ledger mutation.
type Event struct {
	Operation  string            `json:"operation"`
	Actor      string            `json:"actor"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	CompanyID  string            `json:"company_id,omitempty"`
	Before     map[string]string `json:"before,omitempty"`
	After      map[string]string `json:"after,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Emitter receives audit events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// NewEvent fills actor, request id and timestamp from ctx.
func NewEvent(ctx context.Context, operation, entityType, entityID string) Event {
	return Event{
		Operation:  operation,
		Actor:      auth.ActorID(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  RequestIDFromContext(ctx),
		OccurredAt: time.Now().UTC(),
	}
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, ev Event) error {
	if strings.TrimSpace(ev.Operation) == "" {
		return errors.New("audit: operation is required")
	}
	entry := obs.Logger().Info().
		Str("type", "audit").
		Str("event", ev.Operation).
		Str("actor", ev.Actor).
		Str("entity_type", ev.EntityType).
		Str("entity_id", ev.EntityID).
		Time("occurred_at", ev.OccurredAt)
	if ev.CompanyID != "" {
		entry = entry.Str("company_id", ev.CompanyID)
	}
	if ev.RequestID != "" {
		entry = entry.Str("request_id", ev.RequestID)
	}
	entry.Interface("before", nonNil(ev.Before)).
		Interface("after", nonNil(ev.After)).
		Msg("audit")
	return nil
}

// Multi fans an event out to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory. It backs tests and local tooling.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Operations lists the recorded operation names in order.
func (r *Recorder) Operations() []string {
	events := r.Events()
	ops := make([]string, len(events))
	for i, ev := range events {
		ops[i] = ev.Operation
	}
	return ops
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
