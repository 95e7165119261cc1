package checkout

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"strings"
)

// CreatePaymentLink opens an ad-hoc pending charge that is not tied to any
// product. Paying it marks the order paid; there is nothing to deliver.
func (s *Service) CreatePaymentLink(ctx context.Context, name string, amount decimal.Decimal) (*Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, orders.ErrPaymentNameMissing
	}
	amount = orders.Round2(amount)
	if !amount.IsPositive() {
		return nil, orders.ErrInvalidAmount
	}

	o := &orders.Order{
		OrderID:     s.newID(),
		ProductID:   orders.PaymentLinkProductID,
		ProductName: name,
		Quantity:    1,
		Amount:      amount,
		Status:      orders.StatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.Store.InsertOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}

	s.events().Emit(ctx, orders.EventOrderCreated, o.OrderID, orders.OrderCreatedPayload{
		OrderID: o.OrderID, ProductID: o.ProductID, Quantity: 1, Amount: orders.FormatMoney(amount),
	})
	share := s.Pay.LinkURL(o.OrderID)
	pay := s.Pay.PayParams(o.OrderID, name, amount, share)
	log.Info().Str("order_id", o.OrderID).Str("amount", orders.FormatMoney(amount)).Msg("payment link created")
	return &Result{OrderID: o.OrderID, Amount: amount, Pay: &pay, ShareURL: share}, nil
}

// AdjustPendingAmount overrides the charge of a pending order and keeps the
// previous amount with actor and reason for audit.
func (s *Service) AdjustPendingAmount(ctx context.Context, orderID string, amount decimal.Decimal, actor, reason string) (*orders.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if amount.IsNegative() {
		return nil, orders.ErrInvalidAmount
	}
	amount = orders.Round2(amount)

	var out *orders.Order
	err := s.Store.InTx(ctx, func(q orders.Queries) error {
		o, err := q.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != orders.StatusPending {
			return orders.ErrNotPending
		}
		if err := q.AdjustAmount(ctx, orderID, amount, actor, strings.TrimSpace(reason), s.now()); err != nil {
			return err
		}
		out, err = q.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adjust amount of %s: %w", orderID, err)
	}

	log.Info().Str("order_id", orderID).Str("from", orders.FormatMoney(out.AdminAdjustedFrom.Decimal)).
		Str("to", orders.FormatMoney(amount)).Str("actor", actor).Msg("pending amount adjusted")
	return out, nil
}
