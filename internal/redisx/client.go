package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// StatusCache holds rendered order status bodies for the GET fast path.
// The database stays the source of truth; entries are short lived and
// dropped whenever the order changes.
type StatusCache struct{ RDB redis.Cmdable }

func (c StatusCache) Get(ctx context.Context, orderID string) ([]byte, bool) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c StatusCache) Set(ctx context.Context, orderID string, body []byte) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), body, TTLStatusCache).Err()
}

func (c StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// Deduper remembers processed event ids per consuming service.
type Deduper struct {
	RDB     redis.Cmdable
	Service string
}

// FirstSeen atomically claims eventID; false means another delivery
// already did.
func (d Deduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
}

// Forget releases a claim so a failed handler can be retried.
func (d Deduper) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}

// PendingMarker points a buyer at the order they were last sent to pay for.
type PendingMarker struct{ RDB redis.Cmdable }

func (m PendingMarker) Mark(ctx context.Context, buyer, orderID string) error {
	return m.RDB.Set(ctx, fmt.Sprintf(KeyPendingOrder, buyer), orderID, TTLPendingOrder).Err()
}

// Get returns "" when nothing is marked.
func (m PendingMarker) Get(ctx context.Context, buyer string) (string, error) {
	id, err := m.RDB.Get(ctx, fmt.Sprintf(KeyPendingOrder, buyer)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (m PendingMarker) Clear(ctx context.Context, buyer string) error {
	return m.RDB.Del(ctx, fmt.Sprintf(KeyPendingOrder, buyer)).Err()
}
