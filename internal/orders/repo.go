package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"time"
)

// Repo implements Queries on a pool or a transaction.
type Repo struct{ DB DBTX }

var _ Queries = (*Repo)(nil)

const orderColumns = `order_id, product_id, product_name, quantity, amount, original_amount,
	discount_code, discount_amount, points_used, status, cancel_reason, card_key, card_keys,
	trade_no, note, user_id, username, email, created_at, paid_at, delivered_at,
	admin_adjusted_from, admin_adjusted_by, admin_adjusted_reason, admin_adjusted_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.OrderID, &o.ProductID, &o.ProductName, &o.Quantity, &o.Amount, &o.OriginalAmount,
		&o.DiscountCode, &o.DiscountAmount, &o.PointsUsed, &o.Status, &o.CancelReason, &o.CardKey, &o.CardKeys,
		&o.TradeNo, &o.Note, &o.UserID, &o.Username, &o.Email, &o.CreatedAt, &o.PaidAt, &o.DeliveredAt,
		&o.AdminAdjustedFrom, &o.AdminAdjustedBy, &o.AdminAdjustedReason, &o.AdminAdjustedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repo) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, price, single_card_only, purchase_limit
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.SingleCardOnly, &p.PurchaseLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select product %s: %w", id, err)
	}
	return &p, nil
}

func (r *Repo) IsBanned(ctx context.Context, userID string) (bool, error) {
	var banned bool
	err := r.DB.QueryRow(ctx, `SELECT is_banned FROM buyers WHERE user_id = $1`, userID).Scan(&banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return banned, err
}

func (r *Repo) InsertOrder(ctx context.Context, o *Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders(order_id, product_id, product_name, quantity, amount, original_amount,
			discount_code, discount_amount, points_used, status, card_key, card_keys, trade_no, note,
			user_id, username, email, created_at, paid_at, delivered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		o.OrderID, o.ProductID, o.ProductName, o.Quantity, o.Amount, o.OriginalAmount,
		o.DiscountCode, o.DiscountAmount, o.PointsUsed, string(o.Status), o.CardKey, o.CardKeys, o.TradeNo, o.Note,
		o.UserID, o.Username, o.Email, o.CreatedAt, o.PaidAt, o.DeliveredAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order %s: %w", orderID, err)
	}
	return o, nil
}

// GetOrderForUpdate row-locks the order until the enclosing tx ends, so
// concurrent notifications for one order are applied one after another.
func (r *Repo) GetOrderForUpdate(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return o, nil
}

func (r *Repo) MarkDelivered(ctx context.Context, orderID, tradeNo string, keys []string, now time.Time) error {
	var first *string
	if len(keys) > 0 {
		first = &keys[0]
	}
	return r.execOne(ctx, `
		UPDATE orders
		SET status = 'delivered', cancel_reason = NULL, trade_no = $2, card_key = $3, card_keys = $4,
		    paid_at = $5, delivered_at = $5
		WHERE order_id = $1`, orderID, tradeNo, first, keys, now)
}

func (r *Repo) MarkPaid(ctx context.Context, orderID, tradeNo string, now time.Time) error {
	return r.execOne(ctx, `
		UPDATE orders SET status = 'paid', cancel_reason = NULL, trade_no = $2, paid_at = $3
		WHERE order_id = $1`, orderID, tradeNo, now)
}

func (r *Repo) MarkCancelled(ctx context.Context, orderID, reason string) error {
	return r.execOne(ctx, `UPDATE orders SET status = 'cancelled', cancel_reason = $2 WHERE order_id = $1`, orderID, reason)
}

func (r *Repo) AdjustAmount(ctx context.Context, orderID string, amount decimal.Decimal, actor, reason string, now time.Time) error {
	return r.execOne(ctx, `
		UPDATE orders
		SET admin_adjusted_from = amount, amount = $2, admin_adjusted_by = $3,
		    admin_adjusted_reason = $4, admin_adjusted_at = $5
		WHERE order_id = $1 AND status = 'pending'`, orderID, amount, StrPtr(actor), StrPtr(reason), now)
}

func (r *Repo) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM refund_requests WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete refund requests of %s: %w", orderID, err)
	}
	if _, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return nil
}

// LockExpiredPending skips orders another sweeper or a notification already holds.
func (r *Repo) LockExpiredPending(ctx context.Context, scope SweepScope, cutoff time.Time) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending' AND created_at < $1
		  AND ($2 = '' OR product_id = $2)
		  AND ($3 = '' OR order_id = $3)
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED`, cutoff, scope.ProductID, scope.OrderID)
	if err != nil {
		return nil, fmt.Errorf("select expired orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// PurchasedQuantity sums quantities of the buyer's paid or delivered orders,
// matching by user id or email.
func (r *Repo) PurchasedQuantity(ctx context.Context, productID, userID, email string) (int, error) {
	var total int
	err := r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(COALESCE(quantity, 1)), 0)::int
		FROM orders
		WHERE product_id = $1
		  AND status IN ('paid', 'delivered')
		  AND (($2 <> '' AND user_id = $2) OR ($3 <> '' AND email = $3))`,
		productID, userID, email).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum purchased quantity: %w", err)
	}
	return total, nil
}

func (r *Repo) execOne(ctx context.Context, sql string, args ...any) error {
	ct, err := r.DB.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
