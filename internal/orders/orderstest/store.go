// Package orderstest provides an in-memory orders.Store for service tests.
//
// Transactions are serialized by one mutex and applied copy-on-write: fn
// works on a private copy of the state which replaces the live state only
// when fn returns nil. That gives the same all-or-nothing and
// disjoint-claim guarantees the Postgres store gets from row locks.
package orderstest

import (
	"context"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/shopspring/decimal"
	"sort"
	"sync"
	"time"
)

type state struct {
	products  map[string]orders.Product
	buyers    map[string]orders.Buyer
	discounts map[string]orders.DiscountCode
	cards     []orders.Card
	orders    map[string]orders.Order
	refunds   map[string]int
	nextCard  int64
}

func newState() *state {
	return &state{
		products:  map[string]orders.Product{},
		buyers:    map[string]orders.Buyer{},
		discounts: map[string]orders.DiscountCode{},
		orders:    map[string]orders.Order{},
		refunds:   map[string]int{},
		nextCard:  1,
	}
}

func (s *state) clone() *state {
	c := &state{
		products:  make(map[string]orders.Product, len(s.products)),
		buyers:    make(map[string]orders.Buyer, len(s.buyers)),
		discounts: make(map[string]orders.DiscountCode, len(s.discounts)),
		cards:     append([]orders.Card(nil), s.cards...),
		orders:    make(map[string]orders.Order, len(s.orders)),
		refunds:   make(map[string]int, len(s.refunds)),
		nextCard:  s.nextCard,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.buyers {
		c.buyers[k] = v
	}
	for k, v := range s.discounts {
		c.discounts[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.refunds {
		c.refunds[k] = v
	}
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state

	// BeforeTx runs at the start of every InTx, before the lock is taken.
	// Tests use it to interleave a competing writer.
	BeforeTx func()
	// TxCount counts committed transactions.
	TxCount int
}

var _ orders.Store = (*Store)(nil)

func New() *Store { return &Store{st: newState()} }

func (s *Store) InTx(ctx context.Context, fn func(q orders.Queries) error) error {
	if s.BeforeTx != nil {
		s.BeforeTx()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := s.st.clone()
	if err := fn(&view{st: cp}); err != nil {
		return err
	}
	s.st = cp
	s.TxCount++
	return nil
}

func (s *Store) read(fn func(v *view)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&view{st: s.st})
}

func (s *Store) write(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Seeding and inspection helpers.

func (s *Store) AddProduct(p orders.Product) {
	s.write(func(st *state) { st.products[p.ID] = p })
}

// AddCards appends unused cards and returns their ids.
func (s *Store) AddCards(productID string, keys ...string) []int64 {
	var ids []int64
	s.write(func(st *state) {
		for _, k := range keys {
			st.cards = append(st.cards, orders.Card{ID: st.nextCard, ProductID: productID, CardKey: k})
			ids = append(ids, st.nextCard)
			st.nextCard++
		}
	})
	return ids
}

// ReserveCard stamps a card directly, e.g. to age a reservation.
func (s *Store) ReserveCard(id int64, orderID string, at time.Time) {
	s.write(func(st *state) {
		for i := range st.cards {
			if st.cards[i].ID == id {
				st.cards[i].ReservedOrderID = &orderID
				st.cards[i].ReservedAt = &at
			}
		}
	})
}

func (s *Store) SetBuyer(b orders.Buyer) {
	s.write(func(st *state) { st.buyers[b.UserID] = b })
}

func (s *Store) SetPoints(userID string, points int) {
	s.write(func(st *state) {
		b := st.buyers[userID]
		b.UserID = userID
		b.Points = points
		st.buyers[userID] = b
	})
}

func (s *Store) AddDiscount(d orders.DiscountCode) {
	s.write(func(st *state) { st.discounts[d.Code] = d })
}

func (s *Store) PutOrder(o orders.Order) {
	s.write(func(st *state) { st.orders[o.OrderID] = o })
}

func (s *Store) AddRefundRequest(orderID string) {
	s.write(func(st *state) { st.refunds[orderID]++ })
}

func (s *Store) RefundRequests(orderID string) (n int) {
	s.read(func(v *view) { n = v.st.refunds[orderID] })
	return n
}

func (s *Store) Order(orderID string) (o orders.Order, ok bool) {
	s.read(func(v *view) { o, ok = v.st.orders[orderID] })
	return o, ok
}

func (s *Store) Orders() (out []orders.Order) {
	s.read(func(v *view) {
		for _, o := range v.st.orders {
			out = append(out, o)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (s *Store) Buyer(userID string) (b orders.Buyer) {
	s.read(func(v *view) { b = v.st.buyers[userID] })
	return b
}

func (s *Store) Discount(code string) (d orders.DiscountCode) {
	s.read(func(v *view) { d = v.st.discounts[code] })
	return d
}

func (s *Store) Cards(productID string) (out []orders.Card) {
	s.read(func(v *view) {
		for _, c := range v.st.cards {
			if c.ProductID == productID {
				out = append(out, c)
			}
		}
	})
	return out
}

// Queries on the live state, each one its own transaction.

func (s *Store) GetProduct(ctx context.Context, id string) (p *orders.Product, err error) {
	s.read(func(v *view) { p, err = v.GetProduct(ctx, id) })
	return
}

func (s *Store) IsBanned(ctx context.Context, userID string) (b bool, err error) {
	s.read(func(v *view) { b, err = v.IsBanned(ctx, userID) })
	return
}

func (s *Store) PointsBalance(ctx context.Context, userID string) (n int, err error) {
	s.read(func(v *view) { n, err = v.PointsBalance(ctx, userID) })
	return
}

func (s *Store) DebitPoints(ctx context.Context, userID string, n int) (ok bool, err error) {
	s.read(func(v *view) { ok, err = v.DebitPoints(ctx, userID, n) })
	return
}

func (s *Store) CreditPoints(ctx context.Context, userID string, n int) (err error) {
	s.read(func(v *view) { err = v.CreditPoints(ctx, userID, n) })
	return
}

func (s *Store) GetDiscountCode(ctx context.Context, code string) (d *orders.DiscountCode, err error) {
	s.read(func(v *view) { d, err = v.GetDiscountCode(ctx, code) })
	return
}

func (s *Store) IncrementDiscountUse(ctx context.Context, code string, now time.Time) (err error) {
	s.read(func(v *view) { err = v.IncrementDiscountUse(ctx, code, now) })
	return
}

func (s *Store) CountAvailableCards(ctx context.Context, productID string, now time.Time) (n int, err error) {
	s.read(func(v *view) { n, err = v.CountAvailableCards(ctx, productID, now) })
	return
}

func (s *Store) HasAnyCard(ctx context.Context, productID string) (ok bool, err error) {
	s.read(func(v *view) { ok, err = v.HasAnyCard(ctx, productID) })
	return
}

func (s *Store) ClaimCards(ctx context.Context, productID, orderID string, qty int, staleBefore, now time.Time) (c []orders.Card, err error) {
	s.read(func(v *view) { c, err = v.ClaimCards(ctx, productID, orderID, qty, staleBefore, now) })
	return
}

func (s *Store) CountHeldCards(ctx context.Context, orderID string) (n int, err error) {
	s.read(func(v *view) { n, err = v.CountHeldCards(ctx, orderID) })
	return
}

func (s *Store) ReleaseCards(ctx context.Context, orderID string) (n int64, err error) {
	s.read(func(v *view) { n, err = v.ReleaseCards(ctx, orderID) })
	return
}

func (s *Store) ConsumeReserved(ctx context.Context, orderID string, now time.Time) (k []string, err error) {
	s.read(func(v *view) { k, err = v.ConsumeReserved(ctx, orderID, now) })
	return
}

func (s *Store) CanonicalCardKey(ctx context.Context, productID string) (k string, err error) {
	s.read(func(v *view) { k, err = v.CanonicalCardKey(ctx, productID) })
	return
}

func (s *Store) InsertOrder(ctx context.Context, o *orders.Order) (err error) {
	s.read(func(v *view) { err = v.InsertOrder(ctx, o) })
	return
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (o *orders.Order, err error) {
	s.read(func(v *view) { o, err = v.GetOrder(ctx, orderID) })
	return
}

func (s *Store) GetOrderForUpdate(ctx context.Context, orderID string) (o *orders.Order, err error) {
	s.read(func(v *view) { o, err = v.GetOrderForUpdate(ctx, orderID) })
	return
}

func (s *Store) MarkDelivered(ctx context.Context, orderID, tradeNo string, keys []string, now time.Time) (err error) {
	s.read(func(v *view) { err = v.MarkDelivered(ctx, orderID, tradeNo, keys, now) })
	return
}

func (s *Store) MarkPaid(ctx context.Context, orderID, tradeNo string, now time.Time) (err error) {
	s.read(func(v *view) { err = v.MarkPaid(ctx, orderID, tradeNo, now) })
	return
}

func (s *Store) MarkCancelled(ctx context.Context, orderID, reason string) (err error) {
	s.read(func(v *view) { err = v.MarkCancelled(ctx, orderID, reason) })
	return
}

func (s *Store) AdjustAmount(ctx context.Context, orderID string, amount decimal.Decimal, actor, reason string, now time.Time) (err error) {
	s.read(func(v *view) { err = v.AdjustAmount(ctx, orderID, amount, actor, reason, now) })
	return
}

func (s *Store) DeleteOrder(ctx context.Context, orderID string) (err error) {
	s.read(func(v *view) { err = v.DeleteOrder(ctx, orderID) })
	return
}

func (s *Store) LockExpiredPending(ctx context.Context, scope orders.SweepScope, cutoff time.Time) (o []orders.Order, err error) {
	s.read(func(v *view) { o, err = v.LockExpiredPending(ctx, scope, cutoff) })
	return
}

func (s *Store) PurchasedQuantity(ctx context.Context, productID, userID, email string) (n int, err error) {
	s.read(func(v *view) { n, err = v.PurchasedQuantity(ctx, productID, userID, email) })
	return
}
