package orders

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"time"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is every statement the services issue. Repo implements it on top
// of Postgres; orderstest.Store implements it in memory.
type Queries interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	IsBanned(ctx context.Context, userID string) (bool, error)

	// points ledger
	PointsBalance(ctx context.Context, userID string) (int, error)
	DebitPoints(ctx context.Context, userID string, n int) (bool, error)
	CreditPoints(ctx context.Context, userID string, n int) error

	// discount ledger
	GetDiscountCode(ctx context.Context, code string) (*DiscountCode, error)
	IncrementDiscountUse(ctx context.Context, code string, now time.Time) error

	// card pool
	CountAvailableCards(ctx context.Context, productID string, now time.Time) (int, error)
	HasAnyCard(ctx context.Context, productID string) (bool, error)
	ClaimCards(ctx context.Context, productID, orderID string, qty int, staleBefore, now time.Time) ([]Card, error)
	CountHeldCards(ctx context.Context, orderID string) (int, error)
	ReleaseCards(ctx context.Context, orderID string) (int64, error)
	ConsumeReserved(ctx context.Context, orderID string, now time.Time) ([]string, error)
	CanonicalCardKey(ctx context.Context, productID string) (string, error)

	// orders
	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (*Order, error)
	MarkDelivered(ctx context.Context, orderID, tradeNo string, keys []string, now time.Time) error
	MarkPaid(ctx context.Context, orderID, tradeNo string, now time.Time) error
	MarkCancelled(ctx context.Context, orderID, reason string) error
	AdjustAmount(ctx context.Context, orderID string, amount decimal.Decimal, actor, reason string, now time.Time) error
	DeleteOrder(ctx context.Context, orderID string) error
	LockExpiredPending(ctx context.Context, scope SweepScope, cutoff time.Time) ([]Order, error)
	PurchasedQuantity(ctx context.Context, productID, userID, email string) (int, error)
}

// Store is Queries plus a way to run several of them atomically.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
