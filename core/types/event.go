// Package types holds value types shared between engines and event sinks.
package types

// Event is the rendered form of an engine event: a type tag plus flat string
// attributes. Amounts are decimal strings and accounts bech32 addresses.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute, empty when absent.
func (e *Event) Attr(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}

// Clone returns a copy whose attribute map may be retained by the caller.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}
