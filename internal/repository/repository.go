// Package repository declares the storage contracts the services depend on.
// The sqlstore package implements all of them on one *sqlstore.DB.
package repository

import (
	"context"
	"time"

	"github.com/sakif/modmarket/internal/model"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByDiscordID(ctx context.Context, discordID string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateDiscordProfile(ctx context.Context, user *model.User) error
	SetAdmin(ctx context.Context, id int64, isAdmin bool) error
	RecordLogin(ctx context.Context, id int64, at time.Time) error
	UpdateSubscription(ctx context.Context, id int64, sub model.Subscription) error
	// LinkStripeCustomer stores the customer id unless the user already has
	// one. linked reports whether the row changed.
	LinkStripeCustomer(ctx context.Context, id int64, customerID string) (linked bool, err error)
}

type ModRepository interface {
	ListMods(ctx context.Context, filter model.ModFilter) ([]model.Mod, int, error)
	GetMod(ctx context.Context, id int64) (*model.Mod, error)
	GetModsByIDs(ctx context.Context, ids []int64) ([]model.Mod, error)
	CreateMod(ctx context.Context, mod *model.Mod) error
	UpdateMod(ctx context.Context, mod *model.Mod) error
	// DeleteMod hard-deletes a mod without purchases and soft-deletes one with
	// purchases. retained reports which happened.
	DeleteMod(ctx context.Context, id int64, at time.Time) (retained bool, err error)
	CountModsByCategory(ctx context.Context) (map[model.Category]int, error)
	IncrementDownloads(ctx context.Context, id int64) error
	ListSubscriptionMods(ctx context.Context) ([]model.Mod, error)

	CreateVersion(ctx context.Context, version *model.ModVersion) error
	GetVersion(ctx context.Context, modID int64, version string) (*model.ModVersion, error)
	GetLatestVersion(ctx context.Context, modID int64) (*model.ModVersion, error)
	ListVersions(ctx context.Context, modID int64) ([]model.ModVersion, error)
}

type CartRepository interface {
	ListCartItems(ctx context.Context, userID int64) ([]model.CartItem, error)
	// AddCartItem is idempotent: adding a present mod returns the existing item.
	AddCartItem(ctx context.Context, userID, modID int64, at time.Time) (*model.CartItem, error)
	RemoveCartItem(ctx context.Context, userID, modID int64) error
	ClearCart(ctx context.Context, userID int64) error
}

type PurchaseRepository interface {
	// RecordPurchases inserts every purchase that does not already exist for
	// its (user, mod, transaction id) and removes the matching cart items, all
	// in one transaction.
	RecordPurchases(ctx context.Context, purchases []model.Purchase) ([]model.PurchaseRecord, error)
	ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error)
	ListPurchasesByTransaction(ctx context.Context, userID int64, transactionID string) ([]model.Purchase, error)
	ListPurchasedMods(ctx context.Context, userID int64) ([]model.Mod, error)
	OwnedModIDs(ctx context.Context, userID int64) (map[int64]bool, error)
	HasPurchased(ctx context.Context, userID, modID int64) (bool, error)
	ListPurchasers(ctx context.Context, modID int64) ([]model.User, error)
	ListSubscribers(ctx context.Context) ([]model.User, error)
}

type ReviewRepository interface {
	// UpsertReview writes the review and recomputes the mod's average rating.
	UpsertReview(ctx context.Context, review *model.Review) error
	ListReviews(ctx context.Context, modID int64) ([]model.Review, error)
}

type NotificationRepository interface {
	CreateNotificationLog(ctx context.Context, log *model.NotificationLog) error
	ListNotificationLogs(ctx context.Context, limit int) ([]model.NotificationLog, error)
}
