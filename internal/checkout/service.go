// Package checkout turns purchase requests into orders: pricing, limits,
// points debit and card reservation all commit together or not at all.
package checkout

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-card-shop/internal/discount"
	"github.com/ariefcatur/go-card-shop/internal/epay"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"strings"
	"time"
	"unicode/utf8"
)

// Buyer is the identity handed over by the session layer. Any field may be
// empty for guests.
type Buyer struct {
	UserID   string
	Username string
	Email    string
}

// Key identifies the buyer for per-buyer markers.
func (b Buyer) Key() string {
	return orders.BuyerKey(b.UserID, b.Username, b.Email)
}

type CreateOrderInput struct {
	ProductID    string
	Buyer        Buyer
	UsePoints    bool
	DiscountCode string
	Quantity     int
	Note         string
}

// Result is either a settled zero-price order (RedirectURL to its page) or
// a pending one with a signed redirect to the pay page.
type Result struct {
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	PointsUsed  int             `json:"points_used,omitempty"`
	ZeroPrice   bool            `json:"zero_price"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Pay         *epay.Redirect  `json:"pay,omitempty"`
	ShareURL    string          `json:"share_url,omitempty"`
}

type Sweeper interface {
	SweepExpired(ctx context.Context, scope orders.SweepScope) (int, error)
}

// PendingMarker remembers the order a buyer was last sent to pay for.
type PendingMarker interface {
	Mark(ctx context.Context, buyerKey, orderID string) error
}

type Service struct {
	Store     orders.Store
	Discounts *discount.Ledger
	Sweeper   Sweeper
	Pay       epay.Client
	Events    orders.EventSink
	Marker    PendingMarker
	Now       func() time.Time
	NewID     func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) events() orders.EventSink {
	if s.Events == nil {
		return orders.NopSink{}
	}
	return s.Events
}

// checkBanned is best effort: a failed lookup lets the buyer through.
func (s *Service) checkBanned(ctx context.Context, b Buyer) error {
	if b.UserID == "" {
		return nil
	}
	banned, err := s.Store.IsBanned(ctx, b.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", b.UserID).Msg("ban lookup failed")
		return nil
	}
	if banned {
		return orders.ErrBanned
	}
	return nil
}

func (s *Service) sweep(ctx context.Context, scope orders.SweepScope) {
	if s.Sweeper == nil {
		return
	}
	if _, err := s.Sweeper.SweepExpired(ctx, scope); err != nil {
		log.Warn().Err(err).Str("product_id", scope.ProductID).Str("order_id", scope.OrderID).Msg("expiry sweep failed")
	}
}

func (s *Service) mark(ctx context.Context, b Buyer, orderID string) {
	if s.Marker == nil || b.Key() == "" {
		return
	}
	if err := s.Marker.Mark(ctx, b.Key(), orderID); err != nil {
		log.Debug().Err(err).Str("order_id", orderID).Msg("pending marker not set")
	}
}

func cleanNote(raw string) *string {
	n := strings.TrimSpace(raw)
	if utf8.RuneCountInString(n) > orders.MaxNoteLength {
		n = string([]rune(n)[:orders.MaxNoteLength])
	}
	return orders.StrPtr(n)
}

type pricing struct {
	unitDiscount decimal.Decimal
	code         *string
	original     decimal.Decimal
	points       int
	final        decimal.Decimal
}

func (s *Service) price(ctx context.Context, p *orders.Product, in CreateOrderInput, qty int) (pricing, error) {
	qd := decimal.NewFromInt(int64(qty))
	pr := pricing{original: orders.Round2(p.Price.Mul(qd))}

	unit := p.Price
	if discount.Normalize(in.DiscountCode) != "" {
		quote, err := s.Discounts.Lookup(ctx, in.DiscountCode, p.Price)
		if err != nil {
			return pr, err
		}
		unit = quote.DiscountedAmount
		pr.unitDiscount = quote.DiscountAmount
		pr.code = &quote.Code
	}

	final := unit.Mul(qd)
	if in.UsePoints && in.Buyer.UserID != "" {
		balance, err := s.Store.PointsBalance(ctx, in.Buyer.UserID)
		if err != nil {
			return pr, err
		}
		if balance > 0 {
			pr.points = min(balance, int(final.Ceil().IntPart()))
			final = decimal.Max(decimal.Zero, final.Sub(decimal.NewFromInt(int64(pr.points))))
		}
	}
	pr.final = orders.Round2(final)
	return pr, nil
}

func (s *Service) checkStock(ctx context.Context, p *orders.Product, qty int, now time.Time) error {
	if p.Mode() == orders.ModeSingleCardOnly {
		ok, err := s.Store.HasAnyCard(ctx, p.ID)
		if err != nil {
			return err
		}
		if !ok {
			return orders.ErrOutOfStock
		}
		return nil
	}
	avail, err := s.Store.CountAvailableCards(ctx, p.ID, now)
	if err != nil {
		return err
	}
	if avail <= 0 {
		return orders.ErrOutOfStock
	}
	if qty > avail {
		return orders.ErrExceedsStock
	}
	return nil
}

func (s *Service) checkLimit(ctx context.Context, p *orders.Product, b Buyer, qty int) error {
	if p.PurchaseLimit == nil || *p.PurchaseLimit <= 0 {
		return nil
	}
	if b.UserID == "" && b.Email == "" {
		return nil
	}
	bought, err := s.Store.PurchasedQuantity(ctx, p.ID, b.UserID, b.Email)
	if err != nil {
		return err
	}
	if remaining := *p.PurchaseLimit - bought; remaining <= 0 || qty > remaining {
		return orders.ErrLimitExceeded
	}
	return nil
}

// CreateOrder prices, validates and persists one purchase. The points
// debit, the card claim and the order insert share one transaction; a lost
// race on either leaves nothing behind.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Result, error) {
	qty := max(in.Quantity, 1)
	now := s.now()

	if err := s.checkBanned(ctx, in.Buyer); err != nil {
		return nil, err
	}
	p, err := s.Store.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	s.sweep(ctx, orders.SweepScope{ProductID: p.ID})

	pr, err := s.price(ctx, p, in, qty)
	if err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, p, qty, now); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, p, in.Buyer, qty); err != nil {
		return nil, err
	}

	o := &orders.Order{
		OrderID:        s.newID(),
		ProductID:      p.ID,
		ProductName:    p.Name,
		Quantity:       qty,
		Amount:         pr.final,
		OriginalAmount: decimal.NewNullDecimal(pr.original),
		DiscountCode:   pr.code,
		PointsUsed:     pr.points,
		Status:         orders.StatusPending,
		Note:           cleanNote(in.Note),
		UserID:         orders.StrPtr(in.Buyer.UserID),
		Username:       orders.StrPtr(in.Buyer.Username),
		Email:          orders.StrPtr(in.Buyer.Email),
		CreatedAt:      now,
	}
	if pr.code != nil {
		o.DiscountAmount = decimal.NewNullDecimal(orders.Round2(pr.unitDiscount.Mul(decimal.NewFromInt(int64(qty)))))
	}
	zero := !pr.final.IsPositive()

	err = s.Store.InTx(ctx, func(q orders.Queries) error {
		if pr.points > 0 {
			ok, err := q.DebitPoints(ctx, in.Buyer.UserID, pr.points)
			if err != nil {
				return err
			}
			if !ok {
				return orders.ErrInsufficientPoints
			}
		}
		if _, err := orders.Claim(ctx, q, p, o.OrderID, qty, now); err != nil {
			return err
		}
		if !zero {
			return q.InsertOrder(ctx, o)
		}

		keys, complete, err := orders.Finalize(ctx, q, p, o.OrderID, qty, now)
		if err != nil {
			return err
		}
		if !complete {
			return orders.ErrOutOfStock
		}
		o.Status = orders.StatusDelivered
		o.TradeNo = orders.StrPtr(orders.PointsRedemptionTradeNo)
		o.CardKeys = keys
		o.CardKey = &keys[0]
		o.PaidAt, o.DeliveredAt = &now, &now
		return q.InsertOrder(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	lg := log.With().Str("order_id", o.OrderID).Str("product_id", p.ID).Logger()
	res := &Result{OrderID: o.OrderID, Amount: o.Amount, PointsUsed: o.PointsUsed, ZeroPrice: zero}

	if zero {
		s.events().Emit(ctx, orders.EventOrderFinalized, o.OrderID, finalizedPayload(o))
		res.RedirectURL = s.Pay.OrderURL(o.OrderID)
		lg.Info().Int("points_used", o.PointsUsed).Msg("order settled without payment")
		return res, nil
	}

	s.events().Emit(ctx, orders.EventOrderCreated, o.OrderID, orders.OrderCreatedPayload{
		OrderID: o.OrderID, ProductID: p.ID, Quantity: qty, Amount: orders.FormatMoney(o.Amount), PointsUsed: o.PointsUsed,
	})
	s.mark(ctx, in.Buyer, o.OrderID)
	pay := s.Pay.PayParams(o.OrderID, p.Name, o.Amount, s.Pay.ReturnURL(o.OrderID))
	res.Pay = &pay
	lg.Info().Str("amount", orders.FormatMoney(o.Amount)).Int("quantity", qty).Msg("order created")
	return res, nil
}

func finalizedPayload(o *orders.Order) orders.OrderFinalizedPayload {
	p := orders.OrderFinalizedPayload{OrderID: o.OrderID, ProductID: o.ProductID, Status: o.Status, Quantity: o.Quantity}
	if o.DiscountCode != nil {
		p.DiscountCode = *o.DiscountCode
	}
	if o.TradeNo != nil {
		p.TradeNo = *o.TradeNo
	}
	return p
}

// CreatePaymentRetry re-signs the pay redirect of a pending order for its
// owner.
func (s *Service) CreatePaymentRetry(ctx context.Context, orderID string, b Buyer) (*Result, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, orders.ErrOrderNotFound
	}
	if err := s.checkBanned(ctx, b); err != nil {
		return nil, err
	}
	s.sweep(ctx, orders.SweepScope{OrderID: orderID})

	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusPending {
		return nil, orders.ErrNotPayable
	}
	if !o.OwnedBy(b.UserID, b.Username) {
		return nil, orders.ErrNotOwned
	}

	s.mark(ctx, b, o.OrderID)
	pay := s.Pay.PayParams(o.OrderID, o.ProductName, o.Amount, s.Pay.ReturnURL(o.OrderID))
	return &Result{OrderID: o.OrderID, Amount: o.Amount, PointsUsed: o.PointsUsed, Pay: &pay}, nil
}

// Order returns the current state of orderID after expiring it if its
// payment window has passed.
func (s *Service) Order(ctx context.Context, orderID string) (*orders.Order, error) {
	s.sweep(ctx, orders.SweepScope{OrderID: orderID})
	return s.Store.GetOrder(ctx, orderID)
}
