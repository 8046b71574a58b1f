package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

// compile-time check that *DB implements repository.CartRepository
var _ repository.CartRepository = (*DB)(nil)

const cartColumns = `id, user_id, mod_id, added_at`

// ListCartItems returns a user's cart, oldest first.
func (db *DB) ListCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	items := []model.CartItem{}
	query := db.conn.Rebind(`SELECT ` + cartColumns + ` FROM cart_items WHERE user_id = ? ORDER BY added_at, id`)

	if err := db.conn.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing cart of user %d: %w", userID, err)
	}
	return items, nil
}

// AddCartItem puts a mod in the cart. The UNIQUE (user_id, mod_id) constraint
// with ON CONFLICT DO NOTHING makes a repeated add a no-op; either way the
// stored item is returned.
func (db *DB) AddCartItem(ctx context.Context, userID, modID int64, at time.Time) (*model.CartItem, error) {
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		INSERT INTO cart_items (user_id, mod_id, added_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, mod_id) DO NOTHING`),
		userID, modID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: adding mod %d to cart of user %d: %w", modID, userID, err)
	}

	var item model.CartItem
	query := db.conn.Rebind(`SELECT ` + cartColumns + ` FROM cart_items WHERE user_id = ? AND mod_id = ?`)
	if err := db.conn.GetContext(ctx, &item, query, userID, modID); err != nil {
		return nil, fmt.Errorf("sqlstore: reading cart item: %w", err)
	}
	return &item, nil
}

// RemoveCartItem deletes one mod from a cart.
// Returns apperror.ErrNotFound if the mod was not in the cart.
func (db *DB) RemoveCartItem(ctx context.Context, userID, modID int64) error {
	res, err := db.conn.ExecContext(ctx,
		db.conn.Rebind(`DELETE FROM cart_items WHERE user_id = ? AND mod_id = ?`), userID, modID)
	if err != nil {
		return fmt.Errorf("sqlstore: removing mod %d from cart of user %d: %w", modID, userID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("cart item", strconv.FormatInt(modID, 10))
	}
	return nil
}

// ClearCart empties a cart. Clearing an empty cart is not an error.
func (db *DB) ClearCart(ctx context.Context, userID int64) error {
	if _, err := db.conn.ExecContext(ctx,
		db.conn.Rebind(`DELETE FROM cart_items WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("sqlstore: clearing cart of user %d: %w", userID, err)
	}
	return nil
}
