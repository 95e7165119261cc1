package worker

import (
	"context"
	lru "github.com/hashicorp/golang-lru"
)

// MemoDeduper answers redeliveries of recently handled events from memory
// and only asks Next for ids it has not seen.
type MemoDeduper struct {
	Next Deduper
	seen *lru.Cache
}

func NewMemoDeduper(next Deduper, size int) (*MemoDeduper, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoDeduper{Next: next, seen: c}, nil
}

func (d *MemoDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	if d.seen.Contains(eventID) {
		return false, nil
	}
	first, err := d.Next.FirstSeen(ctx, eventID)
	if err != nil {
		return first, err
	}
	d.seen.Add(eventID, struct{}{})
	return first, nil
}

func (d *MemoDeduper) Forget(ctx context.Context, eventID string) error {
	d.seen.Remove(eventID)
	return d.Next.Forget(ctx, eventID)
}
