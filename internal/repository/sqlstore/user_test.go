package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/model"
)

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	user := createTestUser(t, db, "alice")

	if user.ID == 0 {
		t.Error("CreateUser() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set user.CreatedAt")
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice")

	err := db.CreateUser(context.Background(), &model.User{Username: "alice"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateUser() error = %v, want ErrConflict", err)
	}
}

func TestCreateUser_DuplicateDiscordID(t *testing.T) {
	db := newTestDB(t)
	discordID := "80351110224678912"

	first := &model.User{Username: "first", DiscordID: &discordID}
	if err := db.CreateUser(context.Background(), first); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	err := db.CreateUser(context.Background(), &model.User{Username: "second", DiscordID: &discordID})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("CreateUser() error = %v, want ErrConflict", err)
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestGetUser_Lookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	discordID := "1234"
	user := &model.User{
		Username:     "bob",
		DiscordID:    &discordID,
		DiscordRoles: model.Tags{"supporter"},
	}
	if err := db.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	byID, err := db.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if byID.Username != "bob" {
		t.Errorf("Username = %q, want bob", byID.Username)
	}
	if len(byID.DiscordRoles) != 1 || byID.DiscordRoles[0] != "supporter" {
		t.Errorf("DiscordRoles = %v, want [supporter]", byID.DiscordRoles)
	}

	byName, err := db.GetUserByUsername(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("GetUserByUsername() ID = %d, want %d", byName.ID, user.ID)
	}

	byDiscord, err := db.GetUserByDiscordID(ctx, "1234")
	if err != nil {
		t.Fatalf("GetUserByDiscordID() error = %v", err)
	}
	if byDiscord.ID != user.ID {
		t.Errorf("GetUserByDiscordID() ID = %d, want %d", byDiscord.ID, user.ID)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetUserByID(ctx, 404); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetUserByUsername(ctx, "ghost"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByUsername() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetUserByStripeCustomerID(ctx, "cus_missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByStripeCustomerID() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestSetAdmin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "carol")

	if err := db.SetAdmin(ctx, user.ID, true); err != nil {
		t.Fatalf("SetAdmin(true) error = %v", err)
	}
	found, _ := db.GetUserByID(ctx, user.ID)
	if !found.IsAdmin {
		t.Error("IsAdmin = false after SetAdmin(true)")
	}

	if err := db.SetAdmin(ctx, user.ID, false); err != nil {
		t.Fatalf("SetAdmin(false) error = %v", err)
	}
	found, _ = db.GetUserByID(ctx, user.ID)
	if found.IsAdmin {
		t.Error("IsAdmin = true after SetAdmin(false)")
	}
}

func TestSetAdmin_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.SetAdmin(context.Background(), 99, true)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetAdmin() error = %v, want ErrNotFound", err)
	}
}

func TestRecordLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "dave")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.RecordLogin(ctx, user.ID, at); err != nil {
		t.Fatalf("RecordLogin() error = %v", err)
	}

	found, _ := db.GetUserByID(ctx, user.ID)
	if found.LastLogin == nil || !found.LastLogin.Equal(at) {
		t.Errorf("LastLogin = %v, want %v", found.LastLogin, at)
	}
}

func TestUpdateDiscordProfile_KeepsEmailWhenNil(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "erin")

	name := "erin#0001"
	user.DiscordUsername = &name
	user.Email = nil
	user.DiscordRoles = model.Tags{"member", "vip"}
	if err := db.UpdateDiscordProfile(ctx, user); err != nil {
		t.Fatalf("UpdateDiscordProfile() error = %v", err)
	}

	found, _ := db.GetUserByID(ctx, user.ID)
	if found.Email == nil || *found.Email != "erin@example.com" {
		t.Errorf("Email = %v, want erin@example.com to be kept", found.Email)
	}
	if found.DiscordUsername == nil || *found.DiscordUsername != name {
		t.Errorf("DiscordUsername = %v, want %q", found.DiscordUsername, name)
	}
	if len(found.DiscordRoles) != 2 {
		t.Errorf("DiscordRoles = %v, want 2 roles", found.DiscordRoles)
	}
}

func TestUpdateSubscription(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "frank")
	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	err := db.UpdateSubscription(ctx, user.ID, model.Subscription{
		CustomerID:     "cus_123",
		SubscriptionID: "sub_123",
		Status:         model.SubscriptionActive,
		ExpiresAt:      &expires,
	})
	if err != nil {
		t.Fatalf("UpdateSubscription() error = %v", err)
	}

	// A later refresh without ids keeps the stored ones.
	err = db.UpdateSubscription(ctx, user.ID, model.Subscription{Status: "canceled"})
	if err != nil {
		t.Fatalf("UpdateSubscription() second call error = %v", err)
	}

	found, err := db.GetUserByStripeCustomerID(ctx, "cus_123")
	if err != nil {
		t.Fatalf("GetUserByStripeCustomerID() error = %v", err)
	}
	if found.StripeSubscriptionID == nil || *found.StripeSubscriptionID != "sub_123" {
		t.Errorf("StripeSubscriptionID = %v, want sub_123", found.StripeSubscriptionID)
	}
	if found.SubscriptionStatus != "canceled" {
		t.Errorf("SubscriptionStatus = %q, want canceled", found.SubscriptionStatus)
	}
	if found.SubscriptionExpiresAt != nil {
		t.Errorf("SubscriptionExpiresAt = %v, want nil", found.SubscriptionExpiresAt)
	}
}

func TestLinkStripeCustomer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	linked, err := db.LinkStripeCustomer(ctx, alice.ID, "cus_alice")
	if err != nil {
		t.Fatalf("LinkStripeCustomer() error = %v", err)
	}
	if !linked {
		t.Fatal("LinkStripeCustomer() linked = false, want true")
	}

	// A second customer never replaces the first.
	linked, err = db.LinkStripeCustomer(ctx, alice.ID, "cus_other")
	if err != nil {
		t.Fatalf("second LinkStripeCustomer() error = %v", err)
	}
	if linked {
		t.Error("second LinkStripeCustomer() linked = true, want false")
	}

	found, err := db.GetUserByStripeCustomerID(ctx, "cus_alice")
	if err != nil {
		t.Fatalf("GetUserByStripeCustomerID() error = %v", err)
	}
	if found.ID != alice.ID {
		t.Errorf("customer resolves to user %d, want %d", found.ID, alice.ID)
	}

	_, err = db.LinkStripeCustomer(ctx, bob.ID, "cus_alice")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("linking a taken customer: error = %v, want ErrConflict", err)
	}
}
