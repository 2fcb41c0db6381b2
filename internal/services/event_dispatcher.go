package services

import (
	"context"
	"log"
	"time"

	"github.com/slotwise/backend/internal/models"
)

// DispatchPolicy controls how a handler failure affects the remaining
// handlers for the same event. The policy is selected per event name at
// registration time, never implicitly.
type DispatchPolicy int

const (
	// ContinueOnFailure runs every handler and aggregates failures.
	// Acceptable for best-effort fan-out; the zero value, so it is also
	// what events without an explicit policy get.
	ContinueOnFailure DispatchPolicy = iota
	// AbortOnFailure stops calling further handlers on the first error.
	// Required for events gating a financial state transition.
	AbortOnFailure
)

// EventHandler reacts to a post-commit event. Handlers must not attempt to
// roll back the state change that produced the event.
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, event models.Event) error
}

// EventDispatcher sequences post-commit side effects. Handlers for an
// event run sequentially in registration order, so ordering-sensitive
// handlers (log before notify) behave predictably. The handler table is
// built at startup; Register is not safe for concurrent use with Emit.
type EventDispatcher struct {
	handlers map[string][]EventHandler
	policies map[string]DispatchPolicy
}

func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
		policies: make(map[string]DispatchPolicy),
	}
}

// Register appends a handler for the named event.
func (d *EventDispatcher) Register(eventName string, handler EventHandler) {
	d.handlers[eventName] = append(d.handlers[eventName], handler)
}

// SetPolicy selects the failure policy for the named event. Events without
// an explicit policy dispatch with ContinueOnFailure.
func (d *EventDispatcher) SetPolicy(eventName string, policy DispatchPolicy) {
	d.policies[eventName] = policy
}

// HasHandlers reports whether any handler is registered for the event.
func (d *EventDispatcher) HasHandlers(eventName string) bool {
	return len(d.handlers[eventName]) > 0
}

// Emit dispatches the event to its handlers and aggregates per-handler
// outcomes. Events are post-commit notifications: a handler failure is
// reported in the result but never propagated as a failure of the
// operation that emitted the event.
func (d *EventDispatcher) Emit(ctx context.Context, event models.Event) models.DispatchResult {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Version == 0 {
		event.Version = 1
	}

	result := models.DispatchResult{Event: event.Name}
	policy := d.policies[event.Name]

	for _, handler := range d.handlers[event.Name] {
		err := handler.Handle(ctx, event)
		result.Results = append(result.Results, models.HandlerResult{
			Handler: handler.Name(),
			Err:     err,
		})
		result.Notified++

		if err != nil {
			log.Printf("[EVENTS] Handler %s failed for %s: %v", handler.Name(), event.Name, err)
			if policy == AbortOnFailure {
				result.Aborted = true
				break
			}
		}
	}

	return result
}
