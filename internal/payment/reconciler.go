// Package payment applies verified pay page callbacks to orders.
//
// Callbacks arrive at least once, possibly late and possibly after the order
// expired. Each delivery is handled in one transaction holding the order row
// lock, so a redelivery either sees the finished order and acknowledges, or
// waits for the first delivery to commit.
package payment

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-card-shop/internal/epay"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

const TradeSuccess = "TRADE_SUCCESS"

// Outcome says what a callback did. Every outcome is acknowledged to the
// gateway; only errors ask it to retry.
type Outcome string

const (
	// not a success notification
	OutcomeIgnored Outcome = "ignored"
	// foreign or deleted order
	OutcomeUnknownOrder Outcome = "unknown_order"
	// redelivery of a finished order
	OutcomeAlreadyFinal Outcome = "already_final"
	// explicitly cancelled, left alone
	OutcomeCancelled Outcome = "cancelled"
	OutcomeDelivered Outcome = "delivered"
	// paid, nothing delivered
	OutcomePaid Outcome = "paid"
)

// PendingClearer forgets the order a buyer was last sent to pay for.
type PendingClearer interface {
	Clear(ctx context.Context, buyerKey string) error
}

type Reconciler struct {
	Store  orders.Store
	Key    string
	Events orders.EventSink
	Marker PendingClearer
	Now    func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) events() orders.EventSink {
	if r.Events == nil {
		return orders.NopSink{}
	}
	return r.Events
}

type settled struct {
	order    *orders.Order
	product  *orders.Product
	revived  bool
	keys     []string
	shortPts bool
}

// HandleNotify verifies and applies one callback.
func (r *Reconciler) HandleNotify(ctx context.Context, params map[string]string) (Outcome, error) {
	if r.Key == "" || !epay.Verify(params, r.Key) {
		return "", orders.ErrSignatureInvalid
	}
	if params["trade_status"] != TradeSuccess {
		return OutcomeIgnored, nil
	}

	orderID := strings.TrimSpace(params["out_trade_no"])
	tradeNo := params["trade_no"]
	notified, parseErr := decimal.NewFromString(strings.TrimSpace(params["money"]))
	lg := log.With().Str("order_id", orderID).Str("trade_no", tradeNo).Logger()

	var out Outcome
	var st settled
	err := r.Store.InTx(ctx, func(q orders.Queries) error {
		st = settled{}
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, orders.ErrOrderNotFound) {
			out = OutcomeUnknownOrder
			return nil
		}
		if err != nil {
			return err
		}
		if parseErr != nil || notified.Sub(o.Amount).Abs().GreaterThan(orders.AmountTolerance) {
			return orders.ErrAmountMismatch
		}

		switch {
		case len(o.CardKeys) > 0 || !o.Status.Payable():
			out = OutcomeAlreadyFinal
			return nil
		case o.Status == orders.StatusCancelled && (o.CancelReason == nil || *o.CancelReason != orders.CancelReasonExpired):
			out = OutcomeCancelled
			return nil
		}

		out, err = r.settle(ctx, q, o, tradeNo, &st)
		return err
	})
	if err != nil {
		if errors.Is(err, orders.ErrAmountMismatch) {
			lg.Error().Str("notified", params["money"]).Msg("notify amount mismatch")
		}
		return "", fmt.Errorf("notify %s: %w", orderID, err)
	}

	switch out {
	case OutcomeDelivered, OutcomePaid:
		r.publish(ctx, out, tradeNo, &st)
		r.clearMarker(ctx, st.order)
		lg.Info().Str("outcome", string(out)).Bool("revived", st.revived).Int("cards", len(st.keys)).Msg("payment applied")
	case OutcomeCancelled:
		lg.Warn().Msg("payment received for cancelled order")
	default:
		lg.Debug().Str("outcome", string(out)).Msg("notify acknowledged")
	}
	return out, nil
}

// settle finalizes stock and writes the paid or delivered state.
func (r *Reconciler) settle(ctx context.Context, q orders.Queries, o *orders.Order, tradeNo string, st *settled) (Outcome, error) {
	now := r.now()
	st.order = o
	st.revived = o.Status == orders.StatusCancelled

	if o.ProductID != orders.PaymentLinkProductID {
		p, err := q.GetProduct(ctx, o.ProductID)
		if err != nil && !errors.Is(err, orders.ErrProductNotFound) {
			return "", err
		}
		st.product = p
	}

	// expiry refunded the points; take them back before delivering
	if st.revived && o.PointsUsed > 0 && o.UserID != nil {
		ok, err := q.DebitPoints(ctx, *o.UserID, o.PointsUsed)
		if err != nil {
			return "", err
		}
		st.shortPts = !ok
	}

	complete := false
	if st.product != nil && !st.shortPts {
		qty := max(o.Quantity, 1)
		keys, done, err := orders.Finalize(ctx, q, st.product, o.OrderID, qty, now)
		if err != nil {
			return "", err
		}
		st.keys, complete = keys, done
	} else if err := orders.Release(ctx, q, o.OrderID); err != nil {
		return "", err
	}

	if complete {
		if err := q.MarkDelivered(ctx, o.OrderID, tradeNo, st.keys, now); err != nil {
			return "", err
		}
		o.Status = orders.StatusDelivered
		return OutcomeDelivered, nil
	}
	if err := q.MarkPaid(ctx, o.OrderID, tradeNo, now); err != nil {
		return "", err
	}
	o.Status = orders.StatusPaid
	return OutcomePaid, nil
}

func (r *Reconciler) clearMarker(ctx context.Context, o *orders.Order) {
	key := o.BuyerKey()
	if r.Marker == nil || key == "" {
		return
	}
	if err := r.Marker.Clear(ctx, key); err != nil {
		log.Debug().Err(err).Str("order_id", o.OrderID).Msg("pending marker not cleared")
	}
}

func (r *Reconciler) publish(ctx context.Context, out Outcome, tradeNo string, st *settled) {
	o := st.order
	fin := orders.OrderFinalizedPayload{
		OrderID: o.OrderID, ProductID: o.ProductID, Status: o.Status, Quantity: o.Quantity, TradeNo: tradeNo,
	}
	if o.DiscountCode != nil {
		fin.DiscountCode = *o.DiscountCode
	}
	r.events().Emit(ctx, orders.EventOrderFinalized, o.OrderID, fin)

	// payment links have nothing to deliver
	if out == OutcomePaid && st.product != nil {
		r.events().Emit(ctx, orders.EventOrderPaidUnfulfilled, o.OrderID, orders.OrderPaidUnfulfilledPayload{
			OrderID: o.OrderID, ProductID: o.ProductID, Quantity: o.Quantity, TradeNo: tradeNo,
		})
	}
}
