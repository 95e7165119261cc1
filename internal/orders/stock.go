package orders

import (
	"context"
	"errors"
	"time"
)

// Claim reserves qty cards of a limited product for orderID. A short claim
// returns ErrStockRaceLost and must abort the enclosing transaction so the
// partial reservation is rolled back with it. Single-card-only products
// reserve nothing.
func Claim(ctx context.Context, q Queries, p *Product, orderID string, qty int, now time.Time) ([]Card, error) {
	if p.Mode() == ModeSingleCardOnly {
		return nil, nil
	}
	cards, err := q.ClaimCards(ctx, p.ID, orderID, qty, now.Add(-ReservationTTL), now)
	if err != nil {
		return nil, err
	}
	if len(cards) < qty {
		return nil, ErrStockRaceLost
	}
	return cards, nil
}

// Release returns any still-held cards of orderID to the pool. Safe on
// orders that hold nothing or were already finalized.
func Release(ctx context.Context, q Queries, orderID string) error {
	_, err := q.ReleaseCards(ctx, orderID)
	return err
}

// Finalize consumes the order's reservation and returns the delivered keys.
// If the reservation lapsed and other orders took some of its cards, it tops
// up from cards free for at least SecondChanceStaleness. When stock cannot
// cover qty nothing is consumed, the order's cards go back to the pool and
// complete is false.
//
// Single-card-only products hand out the canonical key qty times without
// consuming it. A nil product (payment links) has nothing to deliver.
//
// Callers must not finalize an order that already holds keys.
func Finalize(ctx context.Context, q Queries, p *Product, orderID string, qty int, now time.Time) (keys []string, complete bool, err error) {
	if p == nil {
		return nil, false, nil
	}
	if p.Mode() == ModeSingleCardOnly {
		key, err := q.CanonicalCardKey(ctx, p.ID)
		if errors.Is(err, ErrOutOfStock) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		keys = make([]string, qty)
		for i := range keys {
			keys[i] = key
		}
		return keys, true, nil
	}

	held, err := q.CountHeldCards(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if missing := qty - held; missing > 0 {
		more, err := q.ClaimCards(ctx, p.ID, orderID, missing, now.Add(-SecondChanceStaleness), now)
		if err != nil {
			return nil, false, err
		}
		if len(more) < missing {
			return nil, false, Release(ctx, q, orderID)
		}
	}

	keys, err = q.ConsumeReserved(ctx, orderID, now)
	if err != nil {
		return nil, false, err
	}
	return keys, len(keys) >= qty, nil
}
