package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"time"
)

// ErrDiscountCodeMissing is returned by GetDiscountCode for unknown codes.
var ErrDiscountCodeMissing = errors.New("discount code not found")

func (r *Repo) GetDiscountCode(ctx context.Context, code string) (*DiscountCode, error) {
	var d DiscountCode
	var typ string
	err := r.DB.QueryRow(ctx, `
		SELECT code, type, value, is_active, max_uses, used_count, min_amount, starts_at, ends_at
		FROM discount_codes WHERE code = $1`, code).
		Scan(&d.Code, &typ, &d.Value, &d.IsActive, &d.MaxUses, &d.UsedCount, &d.MinAmount, &d.StartsAt, &d.EndsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDiscountCodeMissing
	}
	if err != nil {
		return nil, fmt.Errorf("select discount code %s: %w", code, err)
	}
	d.Type = DiscountType(typ)
	return &d, nil
}

// IncrementDiscountUse is not guarded by max_uses; concurrent last-slot
// redemptions may overrun the cap.
func (r *Repo) IncrementDiscountUse(ctx context.Context, code string, now time.Time) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE discount_codes SET used_count = used_count + 1, updated_at = $2
		WHERE code = $1`, code, now)
	return err
}
