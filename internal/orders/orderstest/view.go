package orderstest

import (
	"context"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/shopspring/decimal"
	"sort"
	"time"
)

// view mirrors the SQL in orders.Repo over a state snapshot.
type view struct{ st *state }

var _ orders.Queries = (*view)(nil)

func (v *view) GetProduct(_ context.Context, id string) (*orders.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	return &p, nil
}

func (v *view) IsBanned(_ context.Context, userID string) (bool, error) {
	return v.st.buyers[userID].IsBanned, nil
}

func (v *view) PointsBalance(_ context.Context, userID string) (int, error) {
	return v.st.buyers[userID].Points, nil
}

func (v *view) DebitPoints(_ context.Context, userID string, n int) (bool, error) {
	b, ok := v.st.buyers[userID]
	if !ok || b.Points < n {
		return false, nil
	}
	b.Points -= n
	v.st.buyers[userID] = b
	return true, nil
}

func (v *view) CreditPoints(_ context.Context, userID string, n int) error {
	b, ok := v.st.buyers[userID]
	if !ok {
		return nil
	}
	b.Points += n
	v.st.buyers[userID] = b
	return nil
}

func (v *view) GetDiscountCode(_ context.Context, code string) (*orders.DiscountCode, error) {
	d, ok := v.st.discounts[code]
	if !ok {
		return nil, orders.ErrDiscountCodeMissing
	}
	return &d, nil
}

func (v *view) IncrementDiscountUse(_ context.Context, code string, _ time.Time) error {
	d, ok := v.st.discounts[code]
	if !ok {
		return nil
	}
	d.UsedCount++
	v.st.discounts[code] = d
	return nil
}

func free(c orders.Card, staleBefore time.Time) bool {
	return !c.IsUsed && (c.ReservedAt == nil || c.ReservedAt.Before(staleBefore))
}

func (v *view) CountAvailableCards(_ context.Context, productID string, now time.Time) (int, error) {
	n := 0
	for _, c := range v.st.cards {
		if c.ProductID == productID && free(c, now.Add(-orders.ReservationTTL)) {
			n++
		}
	}
	return n, nil
}

func (v *view) HasAnyCard(_ context.Context, productID string) (bool, error) {
	for _, c := range v.st.cards {
		if c.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) ClaimCards(_ context.Context, productID, orderID string, qty int, staleBefore, now time.Time) ([]orders.Card, error) {
	var out []orders.Card
	for i := range v.st.cards {
		if len(out) == qty {
			break
		}
		c := v.st.cards[i]
		if c.ProductID != productID || !free(c, staleBefore) {
			continue
		}
		if c.ReservedOrderID != nil && *c.ReservedOrderID == orderID {
			continue
		}
		id, at := orderID, now
		c.ReservedOrderID = &id
		c.ReservedAt = &at
		v.st.cards[i] = c
		out = append(out, c)
	}
	return out, nil
}

func heldBy(c orders.Card, orderID string) bool {
	return !c.IsUsed && c.ReservedOrderID != nil && *c.ReservedOrderID == orderID
}

func (v *view) CountHeldCards(_ context.Context, orderID string) (int, error) {
	n := 0
	for _, c := range v.st.cards {
		if heldBy(c, orderID) {
			n++
		}
	}
	return n, nil
}

func (v *view) ReleaseCards(_ context.Context, orderID string) (int64, error) {
	var n int64
	for i, c := range v.st.cards {
		if heldBy(c, orderID) {
			c.ReservedOrderID = nil
			c.ReservedAt = nil
			v.st.cards[i] = c
			n++
		}
	}
	return n, nil
}

func (v *view) ConsumeReserved(_ context.Context, orderID string, now time.Time) ([]string, error) {
	var keys []string
	for i, c := range v.st.cards {
		if heldBy(c, orderID) {
			at := now
			c.IsUsed = true
			c.UsedAt = &at
			c.ReservedOrderID = nil
			c.ReservedAt = nil
			v.st.cards[i] = c
			keys = append(keys, c.CardKey)
		}
	}
	return keys, nil
}

func (v *view) CanonicalCardKey(_ context.Context, productID string) (string, error) {
	for _, c := range v.st.cards {
		if c.ProductID == productID {
			return c.CardKey, nil
		}
	}
	return "", orders.ErrOutOfStock
}

func (v *view) InsertOrder(_ context.Context, o *orders.Order) error {
	if _, ok := v.st.orders[o.OrderID]; ok {
		return orders.ErrDuplicateOrder
	}
	v.st.orders[o.OrderID] = *o
	return nil
}

func (v *view) GetOrder(_ context.Context, orderID string) (*orders.Order, error) {
	o, ok := v.st.orders[orderID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return &o, nil
}

func (v *view) GetOrderForUpdate(ctx context.Context, orderID string) (*orders.Order, error) {
	return v.GetOrder(ctx, orderID)
}

func (v *view) update(orderID string, fn func(o *orders.Order) bool) error {
	o, ok := v.st.orders[orderID]
	if !ok || !fn(&o) {
		return orders.ErrOrderNotFound
	}
	v.st.orders[orderID] = o
	return nil
}

func (v *view) MarkDelivered(_ context.Context, orderID, tradeNo string, keys []string, now time.Time) error {
	return v.update(orderID, func(o *orders.Order) bool {
		at := now
		o.Status = orders.StatusDelivered
		o.CancelReason = nil
		o.TradeNo = &tradeNo
		o.CardKeys = append([]string(nil), keys...)
		o.CardKey = nil
		if len(o.CardKeys) > 0 {
			o.CardKey = &o.CardKeys[0]
		}
		o.PaidAt = &at
		o.DeliveredAt = &at
		return true
	})
}

func (v *view) MarkPaid(_ context.Context, orderID, tradeNo string, now time.Time) error {
	return v.update(orderID, func(o *orders.Order) bool {
		at := now
		o.Status = orders.StatusPaid
		o.CancelReason = nil
		o.TradeNo = &tradeNo
		o.PaidAt = &at
		return true
	})
}

func (v *view) MarkCancelled(_ context.Context, orderID, reason string) error {
	return v.update(orderID, func(o *orders.Order) bool {
		o.Status = orders.StatusCancelled
		o.CancelReason = &reason
		return true
	})
}

func (v *view) AdjustAmount(_ context.Context, orderID string, amount decimal.Decimal, actor, reason string, now time.Time) error {
	return v.update(orderID, func(o *orders.Order) bool {
		if o.Status != orders.StatusPending {
			return false
		}
		at := now
		o.AdminAdjustedFrom = decimal.NewNullDecimal(o.Amount)
		o.Amount = amount
		o.AdminAdjustedBy = orders.StrPtr(actor)
		o.AdminAdjustedReason = orders.StrPtr(reason)
		o.AdminAdjustedAt = &at
		return true
	})
}

func (v *view) DeleteOrder(_ context.Context, orderID string) error {
	delete(v.st.refunds, orderID)
	delete(v.st.orders, orderID)
	return nil
}

func (v *view) LockExpiredPending(_ context.Context, scope orders.SweepScope, cutoff time.Time) ([]orders.Order, error) {
	var out []orders.Order
	for _, o := range v.st.orders {
		if o.Status != orders.StatusPending || !o.CreatedAt.Before(cutoff) {
			continue
		}
		if scope.ProductID != "" && o.ProductID != scope.ProductID {
			continue
		}
		if scope.OrderID != "" && o.OrderID != scope.OrderID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) PurchasedQuantity(_ context.Context, productID, userID, email string) (int, error) {
	total := 0
	for _, o := range v.st.orders {
		if o.ProductID != productID {
			continue
		}
		if o.Status != orders.StatusPaid && o.Status != orders.StatusDelivered {
			continue
		}
		byID := userID != "" && o.UserID != nil && *o.UserID == userID
		byEmail := email != "" && o.Email != nil && *o.Email == email
		if byID || byEmail {
			total += o.Quantity
		}
	}
	return total, nil
}
