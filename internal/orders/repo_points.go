package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
)

func (r *Repo) PointsBalance(ctx context.Context, userID string) (int, error) {
	var points int
	err := r.DB.QueryRow(ctx, `SELECT points FROM buyers WHERE user_id = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select points of %s: %w", userID, err)
	}
	return points, nil
}

// DebitPoints is a single conditional decrement; false means the balance
// was too low at the moment of the update and nothing changed.
func (r *Repo) DebitPoints(ctx context.Context, userID string, n int) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE buyers SET points = points - $2
		WHERE user_id = $1 AND points >= $2`, userID, n)
	if err != nil {
		return false, fmt.Errorf("debit points of %s: %w", userID, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) CreditPoints(ctx context.Context, userID string, n int) error {
	_, err := r.DB.Exec(ctx, `UPDATE buyers SET points = points + $2 WHERE user_id = $1`, userID, n)
	if err != nil {
		return fmt.Errorf("credit points of %s: %w", userID, err)
	}
	return nil
}
