package models

import "time"

// Core event names.
const (
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
	EventInvoiceSettled       = "invoice.settled"
)

// Event is a flat, versioned record handed to registered handlers and to
// external sinks after a state transition has committed.
type Event struct {
	Name      string                 `json:"name"`
	Version   int                    `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// HandlerResult is the outcome of one handler invocation.
type HandlerResult struct {
	Handler string `json:"handler"`
	Err     error  `json:"-"`
}

// DispatchResult aggregates per-handler outcomes for one emitted event.
// Aborted is set when an abort-on-failure event stopped dispatching early.
type DispatchResult struct {
	Event    string          `json:"event"`
	Results  []HandlerResult `json:"results"`
	Aborted  bool            `json:"aborted"`
	Notified int             `json:"notified"`
}

// Failed returns the results of handlers that returned an error.
func (d *DispatchResult) Failed() []HandlerResult {
	var failed []HandlerResult
	for _, r := range d.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// OK reports whether every invoked handler succeeded.
func (d *DispatchResult) OK() bool {
	return len(d.Failed()) == 0 && !d.Aborted
}
