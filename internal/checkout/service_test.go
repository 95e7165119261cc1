package checkout_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-card-shop/internal/checkout"
	"github.com/ariefcatur/go-card-shop/internal/compensation"
	"github.com/ariefcatur/go-card-shop/internal/discount"
	"github.com/ariefcatur/go-card-shop/internal/epay"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/ariefcatur/go-card-shop/internal/orders/orderstest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type markerFake struct {
	mu   sync.Mutex
	last map[string]string
}

func (m *markerFake) Mark(_ context.Context, buyer, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = map[string]string{}
	}
	m.last[buyer] = orderID
	return nil
}

type fixture struct {
	store  *orderstest.Store
	sink   *orderstest.Sink
	marker *markerFake
	svc    *checkout.Service
	now    time.Time
}

var alice = checkout.Buyer{UserID: "u1", Username: "alice", Email: "alice@example.com"}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: orderstest.New(), sink: &orderstest.Sink{}, marker: &markerFake{}, now: t0}
	clock := func() time.Time { return f.now }

	f.store.AddProduct(orders.Product{ID: "p1", Name: "Gift card", Price: dec("10.00")})
	f.store.SetBuyer(orders.Buyer{UserID: "u1", Username: "alice"})
	f.store.AddDiscount(orders.DiscountCode{Code: "FIVE", Type: orders.DiscountAmount, Value: dec("5.00"), IsActive: true})

	var seq int64
	f.svc = &checkout.Service{
		Store:     f.store,
		Discounts: discount.NewLedger(f.store).WithClock(clock),
		Sweeper:   compensation.New(f.store, f.sink).WithClock(clock),
		Pay:       epay.Client{MerchantID: "1001", Key: "secret", PayURL: "https://pay.example/submit.php", BaseURL: "https://shop.example"},
		Events:    f.sink,
		Marker:    f.marker,
		Now:       clock,
		NewID:     func() string { return fmt.Sprintf("ORD%03d", atomic.AddInt64(&seq, 1)) },
	}
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func reservedBy(cards []orders.Card, orderID string) int {
	n := 0
	for _, c := range cards {
		if c.ReservedOrderID != nil && *c.ReservedOrderID == orderID {
			n++
		}
	}
	return n
}

func TestCreateOrder_PendingReservesCards(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "K1", "K2", "K3")

	res, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 2})

	require.NoError(t, err)
	require.False(t, res.ZeroPrice)
	require.Equal(t, "20.00", orders.FormatMoney(res.Amount))
	require.NotNil(t, res.Pay)
	require.Equal(t, "20.00", res.Pay.Params["money"])
	require.Equal(t, res.OrderID, res.Pay.Params["out_trade_no"])
	require.True(t, epay.Verify(res.Pay.Params, "secret"))

	o, ok := f.store.Order(res.OrderID)
	require.True(t, ok)
	require.Equal(t, orders.StatusPending, o.Status)
	require.Equal(t, "20.00", orders.FormatMoney(o.Amount))
	require.Equal(t, "20.00", orders.FormatMoney(o.OriginalAmount.Decimal))
	require.False(t, o.DiscountAmount.Valid)
	require.Equal(t, 2, reservedBy(f.store.Cards("p1"), res.OrderID))

	require.Len(t, f.sink.OfType(orders.EventOrderCreated), 1)
	require.Equal(t, res.OrderID, f.marker.last["u1"])
}

func TestCreateOrder_AmountDiscount(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "K1")

	res, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 1, DiscountCode: " five "})

	require.NoError(t, err)
	o, _ := f.store.Order(res.OrderID)
	require.Equal(t, "5.00", orders.FormatMoney(o.Amount))
	require.Equal(t, "5.00", orders.FormatMoney(o.DiscountAmount.Decimal))
	require.Equal(t, "FIVE", *o.DiscountCode)
	require.Equal(t, 0, f.store.Discount("FIVE").UsedCount)
}

func TestCreateOrder_PointsCoverDiscountedTotal(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "K1", "K2")
	f.store.SetPoints("u1", 100)

	res, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{
		ProductID: "p1", Buyer: alice, Quantity: 1, DiscountCode: "FIVE", UsePoints: true,
	})

	require.NoError(t, err)
	require.True(t, res.ZeroPrice)
	require.Nil(t, res.Pay)
	require.Equal(t, "https://shop.example/order/"+res.OrderID, res.RedirectURL)
	require.Equal(t, 5, res.PointsUsed)

	o, _ := f.store.Order(res.OrderID)
	require.Equal(t, orders.StatusDelivered, o.Status)
	require.Equal(t, "0.00", orders.FormatMoney(o.Amount))
	require.Equal(t, orders.PointsRedemptionTradeNo, *o.TradeNo)
	require.Equal(t, []string{"K1"}, o.CardKeys)
	require.Equal(t, "K1", *o.CardKey)
	require.NotNil(t, o.PaidAt)
	require.Equal(t, o.PaidAt, o.DeliveredAt)
	require.Equal(t, 95, f.store.Buyer("u1").Points)

	cards := f.store.Cards("p1")
	require.True(t, cards[0].IsUsed)
	require.False(t, cards[1].IsUsed)

	fin := f.sink.OfType(orders.EventOrderFinalized)
	require.Len(t, fin, 1)
	require.Equal(t, "FIVE", fin[0].Payload.(orders.OrderFinalizedPayload).DiscountCode)
}

func TestCreateOrder_PartialPointsRoundUp(t *testing.T) {
	f := setup(t)
	f.store.AddProduct(orders.Product{ID: "p2", Name: "Odd", Price: dec("2.50")})
	f.store.AddCards("p2", "K1")
	f.store.SetPoints("u1", 2)

	res, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p2", Buyer: alice, UsePoints: true})

	require.NoError(t, err)
	require.Equal(t, 2, res.PointsUsed)
	require.Equal(t, "0.50", orders.FormatMoney(res.Amount))
	require.Zero(t, f.store.Buyer("u1").Points)
}

func TestCreateOrder_LastUnitConcurrent(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "ONLY")

	var wins, losses atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		buyer := checkout.Buyer{UserID: fmt.Sprintf("g%d", i)}
		g.Go(func() error {
			_, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: buyer, Quantity: 1})
			switch {
			case err == nil:
				wins.Add(1)
			case orders.KindOf(err) == orders.KindRaceLost, orders.CodeOf(err) == orders.ErrOutOfStock.Code:
				losses.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, 1, losses.Load())
	require.Len(t, f.store.Orders(), 1)
}

func TestCreateOrder_NoCardSoldTwice(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A", "B", "C", "D", "E")

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		buyer := checkout.Buyer{UserID: fmt.Sprintf("b%d", i)}
		g.Go(func() error {
			_, _ = f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: buyer, Quantity: 1})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := f.store.Orders()
	require.Len(t, got, 5)
	owners := map[string]bool{}
	for _, c := range f.store.Cards("p1") {
		require.NotNil(t, c.ReservedOrderID)
		require.False(t, owners[*c.ReservedOrderID], "order %s holds two cards", *c.ReservedOrderID)
		owners[*c.ReservedOrderID] = true
	}
}

func TestCreateOrder_ShortClaimLeavesNothing(t *testing.T) {
	f := setup(t)
	ids := f.store.AddCards("p1", "A", "B", "C")
	f.store.SetPoints("u1", 4)
	f.svc.Sweeper = nil
	f.store.BeforeTx = func() { f.store.ReserveCard(ids[0], "someone-else", t0) }

	_, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 3, UsePoints: true})

	require.ErrorIs(t, err, orders.ErrStockRaceLost)
	require.Empty(t, f.store.Orders())
	require.Equal(t, 4, f.store.Buyer("u1").Points)
	cards := f.store.Cards("p1")
	require.Equal(t, 1, reservedBy(cards, "someone-else"))
	for _, c := range cards[1:] {
		require.Nil(t, c.ReservedOrderID)
	}
}

func TestCreateOrder_PointsDrainedConcurrently(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")
	f.store.SetPoints("u1", 10)
	f.svc.Sweeper = nil
	f.store.BeforeTx = func() { f.store.SetPoints("u1", 3) }

	_, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, UsePoints: true})

	require.ErrorIs(t, err, orders.ErrInsufficientPoints)
	require.Equal(t, orders.KindRaceLost, orders.KindOf(err))
	require.Empty(t, f.store.Orders())
	require.Equal(t, 3, f.store.Buyer("u1").Points)
	require.Nil(t, f.store.Cards("p1")[0].ReservedOrderID)
}

func TestCreateOrder_StockChecks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})
	require.ErrorIs(t, err, orders.ErrOutOfStock)

	f.store.AddCards("p1", "A", "B")
	_, err = f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 3})
	require.ErrorIs(t, err, orders.ErrExceedsStock)
	require.Zero(t, reservedBy(f.store.Cards("p1"), "ORD001"))

	_, err = f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "nope", Buyer: alice})
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestCreateOrder_ExpiredReservationIsClaimable(t *testing.T) {
	f := setup(t)
	ids := f.store.AddCards("p1", "A")
	f.store.ReserveCard(ids[0], "stale", t0.Add(-orders.ReservationTTL-time.Second))

	res, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})

	require.NoError(t, err)
	require.Equal(t, 1, reservedBy(f.store.Cards("p1"), res.OrderID))
}

func TestCreateOrder_SweepsStalePendingFirst(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")
	first, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})
	require.NoError(t, err)

	f.now = t0.Add(orders.PendingOrderTimeout + time.Second)
	second, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})

	require.NoError(t, err)
	o, _ := f.store.Order(first.OrderID)
	require.Equal(t, orders.StatusCancelled, o.Status)
	require.Equal(t, orders.CancelReasonExpired, *o.CancelReason)
	require.Equal(t, 1, reservedBy(f.store.Cards("p1"), second.OrderID))
}

func TestCreateOrder_PurchaseLimit(t *testing.T) {
	f := setup(t)
	limit := 2
	f.store.AddProduct(orders.Product{ID: "p1", Name: "Gift card", Price: dec("10.00"), PurchaseLimit: &limit})
	f.store.AddCards("p1", "A", "B", "C")
	f.store.PutOrder(orders.Order{OrderID: "old", ProductID: "p1", Quantity: 1, Status: orders.StatusDelivered,
		Email: orders.StrPtr("alice@example.com"), CreatedAt: t0.Add(-time.Hour)})
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 2})
	require.ErrorIs(t, err, orders.ErrLimitExceeded)

	_, err = f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 1})
	require.NoError(t, err)

	// pending orders do not count toward the limit
	_, err = f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, Quantity: 1})
	require.NoError(t, err)
}

func TestCreateOrder_Banned(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")
	f.store.SetBuyer(orders.Buyer{UserID: "u1", IsBanned: true})

	_, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})

	require.ErrorIs(t, err, orders.ErrBanned)
	require.Equal(t, "auth.banned", orders.CodeOf(err))
}

func TestCreateOrder_DiscountRejected(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")

	_, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{ProductID: "p1", Buyer: alice, DiscountCode: "NOPE"})

	require.ErrorIs(t, err, discount.ErrNotFound)
	require.Empty(t, f.store.Orders())
}

func TestCreateOrder_SingleCardOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.store.AddProduct(orders.Product{ID: "s1", Name: "Shared", Price: decimal.Zero, SingleCardOnly: true})

	_, err := f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "s1", Buyer: alice})
	require.ErrorIs(t, err, orders.ErrOutOfStock)

	f.store.AddCards("s1", "SHARED")
	res, err := f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "s1", Buyer: alice, Quantity: 3})
	require.NoError(t, err)
	require.True(t, res.ZeroPrice)

	o, _ := f.store.Order(res.OrderID)
	require.Equal(t, []string{"SHARED", "SHARED", "SHARED"}, o.CardKeys)
	card := f.store.Cards("s1")[0]
	require.False(t, card.IsUsed)
	require.Nil(t, card.ReservedOrderID)
}

func TestCreateOrder_QuantityAndNote(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")

	res, err := f.svc.CreateOrder(context.Background(), checkout.CreateOrderInput{
		ProductID: "p1", Buyer: alice, Quantity: 0, Note: "  " + strings.Repeat("é", 600) + "  ",
	})

	require.NoError(t, err)
	o, _ := f.store.Order(res.OrderID)
	require.Equal(t, 1, o.Quantity)
	require.Equal(t, orders.MaxNoteLength, len([]rune(*o.Note)))
}

func TestCreatePaymentRetry(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")
	ctx := context.Background()
	created, err := f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})
	require.NoError(t, err)

	res, err := f.svc.CreatePaymentRetry(ctx, created.OrderID, checkout.Buyer{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, created.Pay.Params, res.Pay.Params)

	_, err = f.svc.CreatePaymentRetry(ctx, created.OrderID, checkout.Buyer{UserID: "mallory"})
	require.ErrorIs(t, err, orders.ErrNotOwned)

	_, err = f.svc.CreatePaymentRetry(ctx, "missing", alice)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)

	f.now = t0.Add(orders.PendingOrderTimeout + time.Minute)
	_, err = f.svc.CreatePaymentRetry(ctx, created.OrderID, alice)
	require.ErrorIs(t, err, orders.ErrNotPayable)
	require.Equal(t, orders.KindStateConflict, orders.KindOf(err))
}

func TestCreatePaymentLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentLink(ctx, "  ", dec("5"))
	require.ErrorIs(t, err, orders.ErrPaymentNameMissing)
	_, err = f.svc.CreatePaymentLink(ctx, "Tip", decimal.Zero)
	require.ErrorIs(t, err, orders.ErrInvalidAmount)

	res, err := f.svc.CreatePaymentLink(ctx, "Tip", dec("3.456"))
	require.NoError(t, err)
	require.Equal(t, "3.46", res.Pay.Params["money"])
	require.Equal(t, "https://shop.example/pay/"+res.OrderID, res.Pay.Params["return_url"])
	require.Equal(t, res.ShareURL, res.Pay.Params["return_url"])

	o, _ := f.store.Order(res.OrderID)
	require.Equal(t, orders.PaymentLinkProductID, o.ProductID)
	require.Equal(t, "Tip", o.ProductName)
	require.Equal(t, orders.StatusPending, o.Status)
}

func TestAdjustPendingAmount(t *testing.T) {
	f := setup(t)
	f.store.AddCards("p1", "A")
	ctx := context.Background()
	created, err := f.svc.CreateOrder(ctx, checkout.CreateOrderInput{ProductID: "p1", Buyer: alice})
	require.NoError(t, err)

	_, err = f.svc.AdjustPendingAmount(ctx, created.OrderID, dec("-1"), "admin", "")
	require.ErrorIs(t, err, orders.ErrInvalidAmount)

	o, err := f.svc.AdjustPendingAmount(ctx, created.OrderID, dec("7.5"), "admin", " goodwill ")
	require.NoError(t, err)
	require.Equal(t, "7.50", orders.FormatMoney(o.Amount))
	require.Equal(t, "10.00", orders.FormatMoney(o.AdminAdjustedFrom.Decimal))
	require.Equal(t, "admin", *o.AdminAdjustedBy)
	require.Equal(t, "goodwill", *o.AdminAdjustedReason)
	require.Equal(t, t0, *o.AdminAdjustedAt)

	f.store.PutOrder(orders.Order{OrderID: "done", ProductID: "p1", Quantity: 1, Status: orders.StatusDelivered})
	_, err = f.svc.AdjustPendingAmount(ctx, "done", dec("1"), "admin", "")
	require.ErrorIs(t, err, orders.ErrNotPending)
}
