package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

// compile-time check that *DB implements repository.ReviewRepository
var _ repository.ReviewRepository = (*DB)(nil)

// UpsertReview writes a user's review of a mod, replacing an earlier one, and
// recomputes the mod's average rating in the same transaction.
func (db *DB) UpsertReview(ctx context.Context, review *model.Review) error {
	now := time.Now().UTC()
	review.UpdatedAt = now

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE reviews SET rating = ?, comment = ?, updated_at = ?
			WHERE user_id = ? AND mod_id = ?`),
			review.Rating, review.Comment, now, review.UserID, review.ModID)
		if err != nil {
			return fmt.Errorf("updating review: %w", err)
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}

		if updated == 0 {
			review.CreatedAt = now
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO reviews (user_id, mod_id, rating, comment, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)`),
				review.UserID, review.ModID, review.Rating, review.Comment, now, now); err != nil {
				return fmt.Errorf("inserting review: %w", err)
			}
		}

		if err := tx.GetContext(ctx, review, tx.Rebind(`
			SELECT id, user_id, mod_id, rating, comment, created_at, updated_at
			FROM reviews WHERE user_id = ? AND mod_id = ?`), review.UserID, review.ModID); err != nil {
			return fmt.Errorf("reading review: %w", err)
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE mods SET average_rating = (
				SELECT COALESCE(AVG(CAST(rating AS DOUBLE PRECISION)), 0) FROM reviews WHERE mod_id = ?
			) WHERE id = ?`), review.ModID, review.ModID)
		if err != nil {
			return fmt.Errorf("recomputing rating of mod %d: %w", review.ModID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: saving review of mod %d: %w", review.ModID, err)
	}
	return nil
}

// ListReviews returns a mod's reviews, newest first.
func (db *DB) ListReviews(ctx context.Context, modID int64) ([]model.Review, error) {
	reviews := []model.Review{}
	query := db.conn.Rebind(`SELECT id, user_id, mod_id, rating, comment, created_at, updated_at
		FROM reviews WHERE mod_id = ? ORDER BY updated_at DESC, id DESC`)

	if err := db.conn.SelectContext(ctx, &reviews, query, modID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing reviews of mod %d: %w", modID, err)
	}
	return reviews, nil
}
