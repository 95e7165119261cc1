package kafka

import (
	"context"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"strconv"
	"time"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	EventVersion       = 1
)

// EventSink publishes order events as envelope v1, one producer per topic.
type EventSink struct {
	Producers map[string]Publisher
	Service   string
}

var _ orders.EventSink = (*EventSink)(nil)

func NewEnvelope(service, eventType, orderID, traceID string, payload any) orders.Envelope {
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      service,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       MustMarshal(payload),
	}
}

func (s *EventSink) Emit(ctx context.Context, eventType, orderID string, payload any) {
	topic := orders.TopicFor(eventType)
	p, ok := s.Producers[topic]
	if !ok {
		log.Warn().Str("event_type", eventType).Str("order_id", orderID).Msg("no producer for event")
		return
	}
	ev := NewEnvelope(s.Service, eventType, orderID, middleware.GetReqID(ctx), payload)
	p.Publish(orders.PartitionKey(orderID), MustMarshal(ev),
		kafka.Header{Key: HeaderEventType, Value: []byte(eventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(EventVersion))},
	)
}
