package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"time"
)

// A card is available when it is unused and either never reserved or its
// reservation is older than ReservationTTL. Expiry is lazy: nothing clears
// stale stamps, they are simply ignored here.

func (r *Repo) CountAvailableCards(ctx context.Context, productID string, now time.Time) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*)::int FROM cards
		WHERE product_id = $1
		  AND is_used = false
		  AND (reserved_at IS NULL OR reserved_at < $2)`,
		productID, now.Add(-ReservationTTL)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available cards: %w", err)
	}
	return n, nil
}

func (r *Repo) HasAnyCard(ctx context.Context, productID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cards WHERE product_id = $1)`, productID).Scan(&ok)
	return ok, err
}

// ClaimCards stamps up to qty unused cards with orderID, treating
// reservations older than staleBefore as free. Rows locked by a concurrent
// claimer are skipped rather than waited on, so the result may be short; the
// caller decides whether that aborts the transaction.
func (r *Repo) ClaimCards(ctx context.Context, productID, orderID string, qty int, staleBefore, now time.Time) ([]Card, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE cards
		SET reserved_order_id = $2, reserved_at = $3
		WHERE id IN (
			SELECT id FROM cards
			WHERE product_id = $1
			  AND is_used = false
			  AND reserved_order_id IS DISTINCT FROM $2
			  AND (reserved_at IS NULL OR reserved_at < $4)
			ORDER BY id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, product_id, card_key`,
		productID, orderID, now, staleBefore, qty)
	if err != nil {
		return nil, fmt.Errorf("claim cards: %w", err)
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		c := Card{ReservedOrderID: &orderID, ReservedAt: &now}
		if err := rows.Scan(&c.ID, &c.ProductID, &c.CardKey); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) CountHeldCards(ctx context.Context, orderID string) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*)::int FROM cards
		WHERE reserved_order_id = $1 AND is_used = false`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count held cards of %s: %w", orderID, err)
	}
	return n, nil
}

func (r *Repo) ReleaseCards(ctx context.Context, orderID string) (int64, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE cards SET reserved_order_id = NULL, reserved_at = NULL
		WHERE reserved_order_id = $1 AND is_used = false`, orderID)
	if err != nil {
		return 0, fmt.Errorf("release cards of %s: %w", orderID, err)
	}
	return ct.RowsAffected(), nil
}

// ConsumeReserved marks every card still attributed to orderID as used.
func (r *Repo) ConsumeReserved(ctx context.Context, orderID string, now time.Time) ([]string, error) {
	return r.collectKeys(ctx, `
		UPDATE cards
		SET is_used = true, used_at = $2, reserved_order_id = NULL, reserved_at = NULL
		WHERE reserved_order_id = $1 AND is_used = false
		RETURNING card_key`, orderID, now)
}

func (r *Repo) CanonicalCardKey(ctx context.Context, productID string) (string, error) {
	var key string
	err := r.DB.QueryRow(ctx, `SELECT card_key FROM cards WHERE product_id = $1 ORDER BY id LIMIT 1`, productID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOutOfStock
	}
	return key, err
}

func (r *Repo) collectKeys(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("consume cards: %w", err)
	}
	return keys, nil
}
