package types

// Event represents a typed event emitted during lending actions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Typed is implemented by events that can render themselves for transport.
type Typed interface {
	Event() *Event
}
