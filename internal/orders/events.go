package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderFinalized       = "OrderFinalized"
	EventOrderPaidUnfulfilled = "OrderPaidUnfulfilled"
	EventOrderCancelled       = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Amount     string `json:"amount"`
	PointsUsed int    `json:"points_used,omitempty"`
}

// OrderFinalizedPayload is emitted once an order reaches paid or delivered.
// Consumers commit discount usage from it.
type OrderFinalizedPayload struct {
	OrderID      string `json:"order_id"`
	ProductID    string `json:"product_id"`
	Status       Status `json:"status"`
	Quantity     int    `json:"quantity"`
	DiscountCode string `json:"discount_code,omitempty"`
	TradeNo      string `json:"trade_no,omitempty"`
}

// OrderPaidUnfulfilledPayload flags a paid order that needs manual fulfillment.
type OrderPaidUnfulfilledPayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	TradeNo   string `json:"trade_no"`
}

type OrderCancelledPayload struct {
	OrderID        string `json:"order_id"`
	Reason         string `json:"reason"`
	PointsRefunded int    `json:"points_refunded,omitempty"`
	Deleted        bool   `json:"deleted,omitempty"`
}

// EventSink publishes order lifecycle events after the owning transaction
// committed. Delivery is best effort.
type EventSink interface {
	Emit(ctx context.Context, eventType, orderID string, payload any)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, string, any) {}
