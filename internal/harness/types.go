package harness

import (
	"github.com/roach88/attrstore/internal/ir"
)

// Trace entry kinds.
const (
	KindStep  = "step"
	KindEvent = "event"
)

// TraceEvent is one entry of a scenario trace: either the outcome of a step
// or a non-bookmark event delivered to one of the scenario's watches.
//
// Bookmarks never appear in the trace. Their timing depends on the idle
// ticker, so including them would make traces nondeterministic.
type TraceEvent struct {
	Kind string `json:"kind"`
	Step int    `json:"step"`

	// Step entries.
	Op    string         `json:"op,omitempty"`
	Error string         `json:"error,omitempty"`
	Count *int           `json:"count,omitempty"`
	IDs   []ir.EntityID  `json:"ids,omitempty"`
	Rows  []ir.EntityRow `json:"rows,omitempty"`

	// Event entries.
	Watch    string       `json:"watch,omitempty"`
	Event    ir.EventType `json:"event,omitempty"`
	EntityID *ir.EntityID `json:"entityId,omitempty"`
	Row      ir.EntityRow `json:"row,omitempty"`

	// Seq is the head after a step (S0 for a watch step) or the seq of the
	// commit behind an event.
	Seq    ir.Seq     `json:"seq"`
	Entity *ir.Entity `json:"entity,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds step outcomes and watch events in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Head is the store's head seq after the last step.
	Head ir.Seq `json:"head"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addStep(ev TraceEvent) {
	ev.Kind = KindStep
	r.Trace = append(r.Trace, ev)
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Kind = KindEvent
	r.Trace = append(r.Trace, ev)
}

// Events returns the event entries delivered to the named watch.
func (r *Result) Events(watch string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Kind == KindEvent && ev.Watch == watch {
			out = append(out, ev)
		}
	}
	return out
}
