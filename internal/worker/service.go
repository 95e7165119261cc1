// Package worker consumes order lifecycle events: it records discount
// usage, flags paid orders that still need cards and drops stale status
// cache entries.
package worker

import (
	"context"
	"fmt"
	kafkax "github.com/ariefcatur/go-card-shop/internal/kafka"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

type UsageCommitter interface {
	CommitUse(ctx context.Context, code string)
}

type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

type Service struct {
	Discounts UsageCommitter
	Dedup     Deduper
	Cache     StatusCache
}

// Handlers maps each consumed topic to its handler.
func (s *Service) Handlers() map[string]kafkax.Handler {
	return map[string]kafkax.Handler{
		orders.TopicOrderFinalized:       s.HandleOrderFinalized,
		orders.TopicOrderPaidUnfulfilled: s.HandleOrderPaidUnfulfilled,
		orders.TopicOrderCancelled:       s.HandleOrderCancelled,
	}
}

// decode returns ok=false for other event types and for redeliveries.
func (s *Service) decode(ctx context.Context, m kafkago.Message, want string) (orders.Envelope, bool, error) {
	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		return env, false, err
	}
	if env.EventType != want {
		return env, false, nil
	}

	// 2) dedup via Redis (pakai event_id); kalau Redis mati tetap diproses
	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup unavailable")
		return env, true, nil
	}
	return env, first, nil
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if err := s.Cache.Invalidate(ctx, orderID); err != nil {
		log.Debug().Err(err).Str("order_id", orderID).Msg("status cache not invalidated")
	}
}

// HandleOrderFinalized commits discount usage once per event.
func (s *Service) HandleOrderFinalized(ctx context.Context, m kafkago.Message) error {
	env, ok, err := s.decode(ctx, m, orders.EventOrderFinalized)
	if err != nil || !ok {
		return err
	}
	p, err := kafkax.UnwrapPayload[orders.OrderFinalizedPayload](env.Payload)
	if err != nil {
		_ = s.Dedup.Forget(ctx, env.EventID)
		return fmt.Errorf("event %s: %w", env.EventID, err)
	}

	if p.DiscountCode != "" {
		s.Discounts.CommitUse(ctx, p.DiscountCode)
	}
	s.invalidate(ctx, p.OrderID)
	log.Info().Str("order_id", p.OrderID).Str("status", string(p.Status)).Str("code", p.DiscountCode).Msg("order finalized")
	return nil
}

// HandleOrderPaidUnfulfilled surfaces paid orders that got no cards.
// Fulfilling them is a manual step.
func (s *Service) HandleOrderPaidUnfulfilled(ctx context.Context, m kafkago.Message) error {
	env, ok, err := s.decode(ctx, m, orders.EventOrderPaidUnfulfilled)
	if err != nil || !ok {
		return err
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPaidUnfulfilledPayload](env.Payload)
	if err != nil {
		_ = s.Dedup.Forget(ctx, env.EventID)
		return fmt.Errorf("event %s: %w", env.EventID, err)
	}

	s.invalidate(ctx, p.OrderID)
	log.Warn().Str("order_id", p.OrderID).Str("product_id", p.ProductID).Int("quantity", p.Quantity).
		Str("trade_no", p.TradeNo).Msg("order paid but not delivered, manual fulfillment needed")
	return nil
}

func (s *Service) HandleOrderCancelled(ctx context.Context, m kafkago.Message) error {
	env, ok, err := s.decode(ctx, m, orders.EventOrderCancelled)
	if err != nil || !ok {
		return err
	}
	p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
	if err != nil {
		_ = s.Dedup.Forget(ctx, env.EventID)
		return fmt.Errorf("event %s: %w", env.EventID, err)
	}

	s.invalidate(ctx, p.OrderID)
	log.Info().Str("order_id", p.OrderID).Str("reason", p.Reason).Bool("deleted", p.Deleted).Msg("order cancelled")
	return nil
}
