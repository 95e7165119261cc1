// Package discount validates promotional codes and tracks their usage.
//
// Usage counts are eventually consistent: CommitUse runs after the order it
// belongs to has committed and never fails the caller, so concurrent
// redemptions of the last slot may overrun MaxUses.
package discount

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"time"
)

type Ledger struct {
	q   orders.Queries
	now func() time.Time
}

func NewLedger(q orders.Queries) *Ledger {
	return &Ledger{q: q, now: time.Now}
}

// WithClock returns a copy of l reading time from now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	c := *l
	c.now = now
	return &c
}

// Lookup loads and evaluates code against base. Used by checkout inside
// its pricing step and by Preview.
func (l *Ledger) Lookup(ctx context.Context, rawCode string, base decimal.Decimal) (Quote, error) {
	code := Normalize(rawCode)
	if code == "" {
		return Quote{}, ErrEmpty
	}
	d, err := l.q.GetDiscountCode(ctx, code)
	if errors.Is(err, orders.ErrDiscountCodeMissing) {
		return Quote{}, ErrNotFound
	}
	if err != nil {
		return Quote{}, err
	}
	return Evaluate(d, base, l.now())
}

// Preview prices one unit of productID with code. It never mutates.
func (l *Ledger) Preview(ctx context.Context, productID, rawCode string) (Quote, error) {
	if Normalize(rawCode) == "" {
		return Quote{}, ErrEmpty
	}
	p, err := l.q.GetProduct(ctx, productID)
	if err != nil {
		return Quote{}, err
	}
	return l.Lookup(ctx, rawCode, p.Price)
}

// CommitUse increments the usage counter of code. Failures are logged and
// swallowed.
func (l *Ledger) CommitUse(ctx context.Context, rawCode string) {
	code := Normalize(rawCode)
	if code == "" {
		return
	}
	if err := l.q.IncrementDiscountUse(ctx, code, l.now()); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("discount usage not recorded")
		return
	}
	log.Debug().Str("code", code).Msg("discount usage recorded")
}
