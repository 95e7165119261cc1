package orderstest

import (
	"context"
	"sync"
)

type Event struct {
	Type    string
	OrderID string
	Payload any
}

// Sink records emitted events.
type Sink struct {
	mu     sync.Mutex
	events []Event
}

func (s *Sink) Emit(_ context.Context, eventType, orderID string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Type: eventType, OrderID: orderID, Payload: payload})
}

func (s *Sink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// OfType returns the recorded events of one type in emission order.
func (s *Sink) OfType(eventType string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
