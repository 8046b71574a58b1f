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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, discord_id, discord_username, discord_avatar, discord_roles,
	stripe_customer_id, stripe_subscription_id, subscription_status, subscription_expires_at,
	is_admin, password_hash, created_at, last_login`

// CreateUser inserts a new user and fills in ID and CreatedAt.
// A duplicate username, Discord id or Stripe customer id is a Conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.DiscordRoles == nil {
		user.DiscordRoles = model.Tags{}
	}

	query := db.conn.Rebind(`
		INSERT INTO users (username, email, discord_id, discord_username, discord_avatar, discord_roles,
			stripe_customer_id, stripe_subscription_id, subscription_status, subscription_expires_at,
			is_admin, password_hash, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := db.conn.GetContext(ctx, &user.ID, query,
		user.Username,
		user.Email,
		user.DiscordID,
		user.DiscordUsername,
		user.DiscordAvatar,
		user.DiscordRoles,
		user.StripeCustomerID,
		user.StripeSubscriptionID,
		user.SubscriptionStatus,
		user.SubscriptionExpiresAt,
		user.IsAdmin,
		user.PasswordHash,
		user.CreatedAt,
		user.LastLogin,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlstore: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// GetUserByID retrieves a user by internal id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return db.getUser(ctx, "id = ?", id, strconv.FormatInt(id, 10))
}

// GetUserByUsername retrieves a user by username (exact match).
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, "username = ?", username, username)
}

// GetUserByDiscordID retrieves the user linked to a Discord account.
func (db *DB) GetUserByDiscordID(ctx context.Context, discordID string) (*model.User, error) {
	return db.getUser(ctx, "discord_id = ?", discordID, discordID)
}

// GetUserByStripeCustomerID retrieves the user linked to a Stripe customer.
func (db *DB) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	return db.getUser(ctx, "stripe_customer_id = ?", customerID, customerID)
}

func (db *DB) getUser(ctx context.Context, where string, arg any, label string) (*model.User, error) {
	var u model.User
	query := db.conn.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + where)

	if err := db.conn.GetContext(ctx, &u, query, arg); err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlstore: getting user %s: %w", label, err)
	}
	return &u, nil
}

// UpdateDiscordProfile refreshes the Discord display fields and email.
func (db *DB) UpdateDiscordProfile(ctx context.Context, user *model.User) error {
	if user.DiscordRoles == nil {
		user.DiscordRoles = model.Tags{}
	}

	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE users SET discord_username = ?, discord_avatar = ?, discord_roles = ?, email = COALESCE(?, email)
		WHERE id = ?`),
		user.DiscordUsername,
		user.DiscordAvatar,
		user.DiscordRoles,
		user.Email,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating discord profile of user %d: %w", user.ID, err)
	}
	return expectAffected(res, "user", user.ID)
}

// SetAdmin sets the admin flag.
func (db *DB) SetAdmin(ctx context.Context, id int64, isAdmin bool) error {
	res, err := db.conn.ExecContext(ctx,
		db.conn.Rebind(`UPDATE users SET is_admin = ? WHERE id = ?`), isAdmin, id)
	if err != nil {
		return fmt.Errorf("sqlstore: setting admin flag of user %d: %w", id, err)
	}
	return expectAffected(res, "user", id)
}

// RecordLogin stamps the last successful authentication.
func (db *DB) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		db.conn.Rebind(`UPDATE users SET last_login = ? WHERE id = ?`), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlstore: recording login of user %d: %w", id, err)
	}
	return expectAffected(res, "user", id)
}

// UpdateSubscription stores the provider's view of the user's subscription.
// Empty customer or subscription ids leave the stored ids untouched.
func (db *DB) UpdateSubscription(ctx context.Context, id int64, sub model.Subscription) error {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE users SET
			stripe_customer_id      = COALESCE(?, stripe_customer_id),
			stripe_subscription_id  = COALESCE(?, stripe_subscription_id),
			subscription_status     = ?,
			subscription_expires_at = ?
		WHERE id = ?`),
		nullIfEmpty(sub.CustomerID),
		nullIfEmpty(sub.SubscriptionID),
		sub.Status,
		sub.ExpiresAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating subscription of user %d: %w", id, err)
	}
	return expectAffected(res, "user", id)
}

// LinkStripeCustomer sets stripe_customer_id only where it is still NULL, so
// a concurrent checkout cannot replace a customer that is already linked.
func (db *DB) LinkStripeCustomer(ctx context.Context, id int64, customerID string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE users SET stripe_customer_id = ?
		WHERE id = ? AND stripe_customer_id IS NULL`), customerID, id)
	if err != nil {
		if isUniqueViolation(err) {
			return false, apperror.Conflict("stripe customer", customerID)
		}
		return false, fmt.Errorf("sqlstore: linking customer of user %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	return rows > 0, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// expectAffected turns "0 rows affected" into apperror.NotFound.
func expectAffected(res interface{ RowsAffected() (int64, error) }, resource string, id int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound(resource, strconv.FormatInt(id, 10))
	}
	return nil
}
