// Package model defines the data structures used throughout the application.
package model

import "time"

// Subscription states reported by the payment provider that grant access to
// subscription-only mods.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
)

// User represents a marketplace account.
//
// An account is reachable through at least one credential: a password hash
// (username + password login) or a Discord id (OAuth login). Both may be set.
// The internal ID is a numeric autoincrement key and never changes.
//
// Nullable columns are pointers so that "absent" survives the round trip
// through the database and JSON (omitempty).
type User struct {
	ID              int64   `json:"id"                        db:"id"`
	Username        string  `json:"username"                  db:"username"`
	Email           *string `json:"email,omitempty"           db:"email"`
	DiscordID       *string `json:"discordId,omitempty"       db:"discord_id"`
	DiscordUsername *string `json:"discordUsername,omitempty" db:"discord_username"`
	DiscordAvatar   *string `json:"discordAvatar,omitempty"   db:"discord_avatar"`
	DiscordRoles    Tags    `json:"discordRoles"              db:"discord_roles"` // cosmetic badge roles

	StripeCustomerID      *string    `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID  *string    `json:"-" db:"stripe_subscription_id"`
	SubscriptionStatus    string     `json:"subscriptionStatus,omitempty" db:"subscription_status"`
	SubscriptionExpiresAt *time.Time `json:"-" db:"subscription_expires_at"`

	IsAdmin      bool       `json:"isAdmin"             db:"is_admin"`
	PasswordHash *string    `json:"-"                   db:"password_hash"`
	CreatedAt    time.Time  `json:"createdAt"           db:"created_at"`
	LastLogin    *time.Time `json:"lastLogin,omitempty" db:"last_login"`
}

// HasCredential reports whether the user can authenticate at all.
func (u *User) HasCredential() bool {
	return (u.PasswordHash != nil && *u.PasswordHash != "") ||
		(u.DiscordID != nil && *u.DiscordID != "")
}

// SubscriptionActiveAt evaluates the locally stored subscription state.
//
// This is the fallback used when the payment provider cannot be reached; the
// provider's live status always wins when it is available.
func (u *User) SubscriptionActiveAt(now time.Time) bool {
	if u.StripeSubscriptionID == nil || *u.StripeSubscriptionID == "" {
		return false
	}
	if u.SubscriptionStatus != SubscriptionActive && u.SubscriptionStatus != SubscriptionTrialing {
		return false
	}
	return u.SubscriptionExpiresAt == nil || now.Before(*u.SubscriptionExpiresAt)
}

// Subscription is the provider-side view of a user's subscription, persisted on
// the user row whenever it is refreshed.
type Subscription struct {
	CustomerID     string
	SubscriptionID string
	Status         string
	ExpiresAt      *time.Time
}

// Active reports whether the provider status grants access.
func (s Subscription) Active() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}
