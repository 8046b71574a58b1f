package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

// compile-time check that *DB implements repository.PurchaseRepository
var _ repository.PurchaseRepository = (*DB)(nil)

const purchaseColumns = `id, user_id, mod_id, transaction_id, price_paid, purchased_at`

// RecordPurchases persists a fulfilled payment.
//
// Each purchase is inserted with ON CONFLICT DO NOTHING on
// (user_id, mod_id, transaction_id), so replaying the same transaction returns
// the existing rows with Created=false instead of adding new ones. The cart
// item for each purchased mod is deleted in the same transaction, after the
// purchase row is written.
func (db *DB) RecordPurchases(ctx context.Context, purchases []model.Purchase) ([]model.PurchaseRecord, error) {
	records := make([]model.PurchaseRecord, 0, len(purchases))

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range purchases {
			if p.PurchasedAt.IsZero() {
				p.PurchasedAt = time.Now().UTC()
			}

			res, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO purchases (user_id, mod_id, transaction_id, price_paid, purchased_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (user_id, mod_id, transaction_id) DO NOTHING`),
				p.UserID, p.ModID, p.TransactionID, p.PricePaid, p.PurchasedAt.UTC())
			if err != nil {
				return fmt.Errorf("inserting purchase of mod %d (tx %s): %w", p.ModID, p.TransactionID, err)
			}
			inserted, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("checking rows affected: %w", err)
			}

			var stored model.Purchase
			if err := tx.GetContext(ctx, &stored, tx.Rebind(`SELECT `+purchaseColumns+` FROM purchases
				WHERE user_id = ? AND mod_id = ? AND transaction_id = ?`),
				p.UserID, p.ModID, p.TransactionID); err != nil {
				return fmt.Errorf("reading purchase of mod %d (tx %s): %w", p.ModID, p.TransactionID, err)
			}

			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cart_items WHERE user_id = ? AND mod_id = ?`),
				p.UserID, p.ModID); err != nil {
				return fmt.Errorf("removing mod %d from cart: %w", p.ModID, err)
			}

			records = append(records, model.PurchaseRecord{Purchase: stored, Created: inserted > 0})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: recording purchases: %w", err)
	}

	return records, nil
}

// ListPurchases returns a user's purchase history, newest first.
func (db *DB) ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error) {
	purchases := []model.Purchase{}
	query := db.conn.Rebind(`SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id = ?
		ORDER BY purchased_at DESC, id DESC`)

	if err := db.conn.SelectContext(ctx, &purchases, query, userID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing purchases of user %d: %w", userID, err)
	}
	return purchases, nil
}

// ListPurchasesByTransaction returns the user's purchases recorded under one
// payment.
func (db *DB) ListPurchasesByTransaction(ctx context.Context, userID int64, transactionID string) ([]model.Purchase, error) {
	purchases := []model.Purchase{}
	query := db.conn.Rebind(`SELECT ` + purchaseColumns + ` FROM purchases
		WHERE user_id = ? AND transaction_id = ? ORDER BY id`)

	if err := db.conn.SelectContext(ctx, &purchases, query, userID, transactionID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing purchases of user %d for %s: %w", userID, transactionID, err)
	}
	return purchases, nil
}

// ListPurchasedMods returns each mod the user has bought at least once. Mods
// that were removed from the catalog after purchase are still included.
func (db *DB) ListPurchasedMods(ctx context.Context, userID int64) ([]model.Mod, error) {
	mods := []model.Mod{}
	query := db.conn.Rebind(`SELECT ` + modColumns + ` FROM mods
		WHERE id IN (SELECT mod_id FROM purchases WHERE user_id = ?)
		ORDER BY title, id`)

	if err := db.conn.SelectContext(ctx, &mods, query, userID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing purchased mods of user %d: %w", userID, err)
	}
	return mods, nil
}

// OwnedModIDs returns the set of mod ids the user has purchased.
func (db *DB) OwnedModIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	var ids []int64
	if err := db.conn.SelectContext(ctx, &ids,
		db.conn.Rebind(`SELECT DISTINCT mod_id FROM purchases WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing owned mods of user %d: %w", userID, err)
	}

	owned := make(map[int64]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}
	return owned, nil
}

// HasPurchased reports whether the user owns the mod.
func (db *DB) HasPurchased(ctx context.Context, userID, modID int64) (bool, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n,
		db.conn.Rebind(`SELECT COUNT(*) FROM purchases WHERE user_id = ? AND mod_id = ?`), userID, modID); err != nil {
		return false, fmt.Errorf("sqlstore: checking purchase of mod %d by user %d: %w", modID, userID, err)
	}
	return n > 0, nil
}

// ListPurchasers returns every user who bought the mod.
func (db *DB) ListPurchasers(ctx context.Context, modID int64) ([]model.User, error) {
	users := []model.User{}
	query := db.conn.Rebind(`SELECT ` + userColumns + ` FROM users
		WHERE id IN (SELECT user_id FROM purchases WHERE mod_id = ?)
		ORDER BY id`)

	if err := db.conn.SelectContext(ctx, &users, query, modID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing purchasers of mod %d: %w", modID, err)
	}
	return users, nil
}

// ListSubscribers returns users whose stored subscription status is active or
// trialing. Expiry is evaluated by the caller.
func (db *DB) ListSubscribers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	query := db.conn.Rebind(`SELECT ` + userColumns + ` FROM users
		WHERE stripe_subscription_id IS NOT NULL AND subscription_status IN (?, ?)
		ORDER BY id`)

	if err := db.conn.SelectContext(ctx, &users, query,
		model.SubscriptionActive, model.SubscriptionTrialing); err != nil {
		return nil, fmt.Errorf("sqlstore: listing subscribers: %w", err)
	}
	return users, nil
}
