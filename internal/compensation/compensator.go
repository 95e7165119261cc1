// Package compensation reverses the side effects of orders that will not
// be paid: expired pending orders, explicit cancels and admin deletes.
package compensation

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/rs/zerolog/log"
	"strings"
	"time"
)

type Compensator struct {
	store  orders.Store
	events orders.EventSink
	now    func() time.Time
}

func New(store orders.Store, events orders.EventSink) *Compensator {
	if events == nil {
		events = orders.NopSink{}
	}
	return &Compensator{store: store, events: events, now: time.Now}
}

func (c *Compensator) WithClock(now func() time.Time) *Compensator {
	cp := *c
	cp.now = now
	return &cp
}

// reverse refunds the order's points and returns its held cards.
func reverse(ctx context.Context, q orders.Queries, o *orders.Order, refund bool) (int, error) {
	refunded := 0
	if refund && o.UserID != nil && o.PointsUsed > 0 {
		if err := q.CreditPoints(ctx, *o.UserID, o.PointsUsed); err != nil {
			return 0, err
		}
		refunded = o.PointsUsed
	}
	if err := orders.Release(ctx, q, o.OrderID); err != nil {
		return 0, err
	}
	return refunded, nil
}

// SweepExpired cancels pending orders older than PendingOrderTimeout within
// scope. Orders locked by a concurrent sweep or notification are skipped.
func (c *Compensator) SweepExpired(ctx context.Context, scope orders.SweepScope) (int, error) {
	cutoff := c.now().Add(-orders.PendingOrderTimeout)
	var done []orders.OrderCancelledPayload

	err := c.store.InTx(ctx, func(q orders.Queries) error {
		done = done[:0]
		expired, err := q.LockExpiredPending(ctx, scope, cutoff)
		if err != nil {
			return err
		}
		for i := range expired {
			o := &expired[i]
			refunded, err := reverse(ctx, q, o, true)
			if err != nil {
				return fmt.Errorf("reverse %s: %w", o.OrderID, err)
			}
			if err := q.MarkCancelled(ctx, o.OrderID, orders.CancelReasonExpired); err != nil {
				return err
			}
			done = append(done, orders.OrderCancelledPayload{
				OrderID: o.OrderID, Reason: orders.CancelReasonExpired, PointsRefunded: refunded,
			})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}

	for _, p := range done {
		c.events.Emit(ctx, orders.EventOrderCancelled, p.OrderID, p)
	}
	if len(done) > 0 {
		log.Info().Int("count", len(done)).Str("product_id", scope.ProductID).Msg("expired orders swept")
	}
	return len(done), nil
}

// Cancel moves an order to cancelled. Points are refunded only on the
// transition into cancelled, so repeating the call changes nothing.
// Cancelling an order the sweeper expired makes it terminal.
func (c *Compensator) Cancel(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	var payload orders.OrderCancelledPayload

	err := c.store.InTx(ctx, func(q orders.Queries) error {
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusCancelled && !orders.CanTransition(o.Status, orders.StatusCancelled) {
			return orders.ErrInvalidTransition
		}
		refunded, err := reverse(ctx, q, o, o.Status != orders.StatusCancelled)
		if err != nil {
			return err
		}
		if err := q.MarkCancelled(ctx, orderID, orders.CancelReasonExplicit); err != nil {
			return err
		}
		payload = orders.OrderCancelledPayload{OrderID: orderID, Reason: orders.CancelReasonExplicit, PointsRefunded: refunded}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}

	c.events.Emit(ctx, orders.EventOrderCancelled, orderID, payload)
	log.Info().Str("order_id", orderID).Int("points_refunded", payload.PointsRefunded).Msg("order cancelled")
	return nil
}

// Delete removes an order after reversing its side effects. Unknown ids
// are a no-op.
func (c *Compensator) Delete(ctx context.Context, orderID string) error {
	_, err := c.DeleteMany(ctx, []string{orderID})
	return err
}

// DeleteMany deletes every listed order in one transaction and returns how
// many existed. Blank and unknown ids are skipped.
func (c *Compensator) DeleteMany(ctx context.Context, orderIDs []string) (int, error) {
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted []orders.OrderCancelledPayload
	err := c.store.InTx(ctx, func(q orders.Queries) error {
		deleted = deleted[:0]
		for _, id := range ids {
			p, err := deleteOne(ctx, q, id)
			if err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			if p != nil {
				deleted = append(deleted, *p)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, p := range deleted {
		c.events.Emit(ctx, orders.EventOrderCancelled, p.OrderID, p)
	}
	log.Info().Int("count", len(deleted)).Msg("orders deleted")
	return len(deleted), nil
}

func deleteOne(ctx context.Context, q orders.Queries, orderID string) (*orders.OrderCancelledPayload, error) {
	o, err := q.GetOrderForUpdate(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// a cancelled order already had its points refunded
	refunded, err := reverse(ctx, q, o, o.Status != orders.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if err := q.DeleteOrder(ctx, orderID); err != nil {
		return nil, err
	}
	reason := orders.CancelReasonExplicit
	if o.CancelReason != nil {
		reason = *o.CancelReason
	}
	return &orders.OrderCancelledPayload{OrderID: orderID, Reason: reason, PointsRefunded: refunded, Deleted: true}, nil
}
