package events

import "poolescrow/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves as a typed
// attribute map for journals and indexers.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, journals).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards every event to each configured emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps emitted events in memory. Tests use it to assert emission.
type Recorder struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) { r.Events = append(r.Events, evt) }

// Types returns the type of every recorded event in emission order.
func (r *Recorder) Types() []string {
	out := make([]string, 0, len(r.Events))
	for _, evt := range r.Events {
		out = append(out, evt.EventType())
	}
	return out
}
