package discount

import (
	"github.com/ariefcatur/go-card-shop/internal/orders"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

var (
	ErrEmpty        = orders.NewError(orders.KindValidation, "discount.empty")
	ErrNotFound     = orders.NewError(orders.KindNotFound, "discount.notFound")
	ErrInactive     = orders.NewError(orders.KindValidation, "discount.inactive")
	ErrNotStarted   = orders.NewError(orders.KindValidation, "discount.notStarted")
	ErrExpired      = orders.NewError(orders.KindValidation, "discount.expired")
	ErrBelowMin     = orders.NewError(orders.KindValidation, "discount.minAmount")
	ErrExhausted    = orders.NewError(orders.KindValidation, "discount.exhausted")
	ErrInvalidValue = orders.NewError(orders.KindValidation, "discount.invalid")
)

var hundred = decimal.NewFromInt(100)

// Quote is the per-unit effect of a code on a base price.
type Quote struct {
	Code             string
	Type             orders.DiscountType
	Value            decimal.Decimal
	BaseAmount       decimal.Decimal
	DiscountAmount   decimal.Decimal
	DiscountedAmount decimal.Decimal
}

func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Evaluate checks d against base at now. Checks run in a fixed order so the
// first failing rule decides the rejection.
func Evaluate(d *orders.DiscountCode, base decimal.Decimal, now time.Time) (Quote, error) {
	if d == nil {
		return Quote{}, ErrNotFound
	}
	if !d.IsActive {
		return Quote{}, ErrInactive
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return Quote{}, ErrNotStarted
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return Quote{}, ErrExpired
	}
	if d.MinAmount.Valid && base.LessThan(d.MinAmount.Decimal) {
		return Quote{}, ErrBelowMin
	}
	if d.MaxUses != nil && d.UsedCount >= *d.MaxUses {
		return Quote{}, ErrExhausted
	}

	var off decimal.Decimal
	switch d.Type {
	case orders.DiscountPercent:
		if !d.Value.IsPositive() || d.Value.GreaterThan(hundred) {
			return Quote{}, ErrInvalidValue
		}
		off = orders.Round2(base.Mul(d.Value).Div(hundred))
	case orders.DiscountAmount:
		if !d.Value.IsPositive() {
			return Quote{}, ErrInvalidValue
		}
		off = orders.Round2(d.Value)
	default:
		return Quote{}, ErrInvalidValue
	}

	off = decimal.Min(off, base)
	return Quote{
		Code:             d.Code,
		Type:             d.Type,
		Value:            orders.Round2(d.Value),
		BaseAmount:       orders.Round2(base),
		DiscountAmount:   off,
		DiscountedAmount: orders.Round2(decimal.Max(decimal.Zero, base.Sub(off))),
	}, nil
}
