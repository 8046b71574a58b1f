package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is one mod waiting in a user's cart. (user, mod) is unique.
type CartItem struct {
	ID      int64     `json:"id"      db:"id"`
	UserID  int64     `json:"userId"  db:"user_id"`
	ModID   int64     `json:"modId"   db:"mod_id"`
	AddedAt time.Time `json:"addedAt" db:"added_at"`
}

// CartLine is a cart item joined with the current catalog data.
type CartLine struct {
	ModID          int64           `json:"modId"`
	AddedAt        time.Time       `json:"addedAt"`
	Mod            *Mod            `json:"mod"`
	EffectivePrice decimal.Decimal `json:"effectivePrice"`
	Available      bool            `json:"available"`
}

// Cart is the derived view of a user's cart.
type Cart struct {
	Items []CartLine      `json:"items"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// NewCart joins items with their mods and computes the totals.
//
// Items whose mod has been deleted or unpublished stay visible with
// Available=false and do not count towards the total.
func NewCart(items []CartItem, mods map[int64]*Mod, now time.Time) *Cart {
	cart := &Cart{Items: make([]CartLine, 0, len(items)), Total: decimal.Zero}

	for _, item := range items {
		line := CartLine{ModID: item.ModID, AddedAt: item.AddedAt}
		if mod, ok := mods[item.ModID]; ok {
			line.Mod = mod
			line.Available = mod.Available()
			line.EffectivePrice = mod.EffectivePrice(now)
		}
		if line.Available {
			cart.Total = cart.Total.Add(line.EffectivePrice)
		}
		cart.Items = append(cart.Items, line)
	}

	cart.Count = len(cart.Items)
	return cart
}

// Purchase is a durable entitlement to one mod, created once per
// (user, mod, transaction id). PricePaid is frozen at purchase time.
type Purchase struct {
	ID            int64           `json:"id"            db:"id"`
	UserID        int64           `json:"userId"        db:"user_id"`
	ModID         int64           `json:"modId"         db:"mod_id"`
	TransactionID string          `json:"transactionId" db:"transaction_id"`
	PricePaid     decimal.Decimal `json:"pricePaid"     db:"price_paid"`
	PurchasedAt   time.Time       `json:"purchasedAt"   db:"purchased_at"`
}

// PurchaseRecord is a purchase returned by fulfillment. Created is false when
// the purchase already existed for the same transaction.
type PurchaseRecord struct {
	Purchase
	Created bool `json:"created"`
}

// Reasons a requested item was left out of a fulfillment or checkout.
const (
	SkipUnavailable  = "unavailable"
	SkipNotInPayment = "not_in_payment"
	SkipAlreadyOwned = "already_owned"
	// SkipSubscriptionOnly marks mods that come with a subscription and
	// cannot be bought.
	SkipSubscriptionOnly = "subscription_only"
)

// SkippedItem reports a requested mod that was dropped from a transaction.
type SkippedItem struct {
	ModID  int64  `json:"modId"`
	Reason string `json:"reason"`
}

// ModLocker is what a user may download.
type ModLocker struct {
	PurchasedMods         []Mod `json:"purchasedMods"`
	SubscriptionMods      []Mod `json:"subscriptionMods"`
	HasActiveSubscription bool  `json:"hasActiveSubscription"`
}

// EmptyLocker is the locker shown to anonymous visitors.
func EmptyLocker() *ModLocker {
	return &ModLocker{PurchasedMods: []Mod{}, SubscriptionMods: []Mod{}}
}

// NotificationLog summarizes one "new version" notification batch.
type NotificationLog struct {
	ID             int64     `json:"id"             db:"id"`
	ModID          int64     `json:"modId"          db:"mod_id"`
	Version        string    `json:"version"        db:"version"`
	RecipientCount int       `json:"recipientCount" db:"recipient_count"`
	SuccessCount   int       `json:"successCount"   db:"success_count"`
	FailureCount   int       `json:"failureCount"   db:"failure_count"`
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
}
