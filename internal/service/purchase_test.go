package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/payment"
	"github.com/sakif/modmarket/internal/repository/sqlstore"
)

type commerceFixture struct {
	db       *sqlstore.DB
	gateway  *fakeGateway
	pub      *recordingPublisher
	cart     *CartService
	purchase *PurchaseService
	locker   *LockerService
	catalog  *CatalogService
}

func newCommerceFixture(t *testing.T) *commerceFixture {
	t.Helper()
	db := newTestStore(t)
	gw := newFakeGateway()
	pub := &recordingPublisher{}
	logger := discardLogger()

	catalog := NewCatalogService(db, nil, time.Minute, pub, logger)
	return &commerceFixture{
		db:       db,
		gateway:  gw,
		pub:      pub,
		cart:     NewCartService(db, db, logger),
		purchase: NewPurchaseService(gw, "usd", db, db, db, db, pub, logger),
		locker:   NewLockerService(gw, db, db, db, catalog, logger),
		catalog:  catalog,
	}
}

func lockerIDs(mods []model.Mod) []int64 {
	ids := make([]int64, 0, len(mods))
	for _, m := range mods {
		ids = append(ids, m.ID)
	}
	return ids
}

// =========================================================================
// CART
// =========================================================================

func TestCart_AddIsIdempotent(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	mod := seedMod(t, f.db, "Coupe", "12.00", func(m *model.Mod) {
		d := decimal.RequireFromString("8.00")
		m.DiscountPrice = decimal.NewNullDecimal(d)
	})

	_, err := f.cart.Add(ctx, user.ID, mod.ID)
	require.NoError(t, err)
	cart, err := f.cart.Add(ctx, user.ID, mod.ID)
	require.NoError(t, err)

	require.Equal(t, 1, cart.Count)
	assert.True(t, cart.Items[0].EffectivePrice.Equal(decimal.RequireFromString("8.00")))
	assert.True(t, cart.Total.Equal(decimal.RequireFromString("8.00")))
}

func TestCart_Errors(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	draft := seedMod(t, f.db, "Draft", "1.00", func(m *model.Mod) { m.Published = false })

	_, err := f.cart.Add(ctx, user.ID, draft.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = f.cart.Add(ctx, user.ID, 404)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = f.cart.Remove(ctx, user.ID, draft.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCart_AddRejectsFullCart(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "hoarder")

	var first *model.Mod
	for i := 0; i < MaxCheckoutItems; i++ {
		m := seedMod(t, f.db, fmt.Sprintf("Mod %02d", i), "1.00")
		if first == nil {
			first = m
		}
		_, err := f.cart.Add(ctx, user.ID, m.ID)
		require.NoError(t, err)
	}

	extra := seedMod(t, f.db, "One Too Many", "1.00")
	_, err := f.cart.Add(ctx, user.ID, extra.ID)
	require.ErrorIs(t, err, apperror.ErrValidation)

	cart, err := f.cart.Add(ctx, user.ID, first.ID)
	require.NoError(t, err, "re-adding a present mod is still a no-op")
	assert.Equal(t, MaxCheckoutItems, cart.Count)
}

func TestCart_RemoveAndClear(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	a := seedMod(t, f.db, "A", "1.00")
	b := seedMod(t, f.db, "B", "2.00")

	_, err := f.cart.Add(ctx, user.ID, a.ID)
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, user.ID, b.ID)
	require.NoError(t, err)

	cart, err := f.cart.Remove(ctx, user.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, cart.Count)
	assert.Equal(t, b.ID, cart.Items[0].ModID)

	require.NoError(t, f.cart.Clear(ctx, user.ID))
	cart, err = f.cart.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, cart.Count)
	assert.True(t, cart.Total.IsZero())
}

// =========================================================================
// CHECKOUT
// =========================================================================

func TestCreateIntent_WholeCartSkipsOwnedAndUnavailable(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	wanted := seedMod(t, f.db, "Wanted", "5.00")
	owned := seedMod(t, f.db, "Owned", "3.00")
	gone := seedMod(t, f.db, "Gone", "2.00")

	for _, m := range []*model.Mod{wanted, owned, gone} {
		_, err := f.cart.Add(ctx, user.ID, m.ID)
		require.NoError(t, err)
	}
	f.gateway.succeed("tx_prev", user.ID, payment.LineItem{ModID: owned.ID, Price: owned.Price})
	_, err := f.purchase.Complete(ctx, user.ID, "tx_prev", []int64{owned.ID})
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, user.ID, owned.ID)
	require.NoError(t, err)

	gone.Published = false
	require.NoError(t, f.db.UpdateMod(ctx, gone))

	res, err := f.purchase.CreateIntent(ctx, user.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, []int64{wanted.ID}, res.ModIDs)
	assert.ElementsMatch(t, []model.SkippedItem{
		{ModID: owned.ID, Reason: model.SkipAlreadyOwned},
		{ModID: gone.ID, Reason: model.SkipUnavailable},
	}, res.Skipped)
	assert.True(t, res.Intent.Amount.Equal(decimal.RequireFromString("5.00")))

	require.Len(t, f.gateway.intents, 1)
	assert.Equal(t, user.ID, f.gateway.intents[0].UserID)
	assert.Equal(t, "usd", f.gateway.intents[0].Currency)
}

func TestCreateIntent_CreatesAndReusesCustomer(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	a := seedMod(t, f.db, "A", "2.00")
	b := seedMod(t, f.db, "B", "3.00")

	_, err := f.purchase.CreateIntent(ctx, user.ID, a.ID)
	require.NoError(t, err)
	_, err = f.purchase.CreateIntent(ctx, user.ID, b.ID)
	require.NoError(t, err)

	require.Len(t, f.gateway.customers, 1, "one customer per user")
	assert.Equal(t, payment.CustomerRequest{UserID: user.ID, Email: "shopper@example.com", Name: "shopper"}, f.gateway.customers[0])
	require.Len(t, f.gateway.intents, 2)
	assert.Equal(t, "cus_1", f.gateway.intents[0].CustomerID)
	assert.Equal(t, "cus_1", f.gateway.intents[1].CustomerID)

	stored, err := f.db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StripeCustomerID)
	assert.Equal(t, "cus_1", *stored.StripeCustomerID)
}

func TestCreateIntent_CustomerFailureOpensNoPayment(t *testing.T) {
	f := newCommerceFixture(t)
	user := seedUser(t, f.db, "shopper")
	mod := seedMod(t, f.db, "A", "2.00")
	f.gateway.customerErr = errors.New("stripe unreachable")

	_, err := f.purchase.CreateIntent(context.Background(), user.ID, mod.ID)
	assert.Error(t, err)
	assert.Empty(t, f.gateway.intents)
}

func TestCreateIntent_RejectsOversizedCheckout(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "hoarder")

	// Rows written directly, as a cart filled before the cap existed.
	for i := 0; i <= MaxCheckoutItems; i++ {
		m := seedMod(t, f.db, fmt.Sprintf("Mod %02d", i), "1.00")
		_, err := f.db.AddCartItem(ctx, user.ID, m.ID, time.Now())
		require.NoError(t, err)
	}

	_, err := f.purchase.CreateIntent(ctx, user.ID, 0)
	require.ErrorIs(t, err, apperror.ErrValidation)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "items", appErr.Field)
	assert.Empty(t, f.gateway.intents)
}

func TestCreateIntent_FreeModsAreRecordedWithoutPayment(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	free := seedMod(t, f.db, "Freebie", "0.00")

	res, err := f.purchase.CreateIntent(ctx, user.ID, free.ID)
	require.NoError(t, err)

	assert.Nil(t, res.Intent)
	assert.Equal(t, []int64{free.ID}, res.ModIDs)
	require.Len(t, res.Purchases, 1)
	assert.True(t, res.Purchases[0].Created)
	assert.True(t, res.Purchases[0].PricePaid.IsZero())
	assert.True(t, strings.HasPrefix(res.Purchases[0].TransactionID, freeTransactionPrefix))
	assert.Empty(t, f.gateway.intents, "no zero-amount payment")
	assert.Empty(t, f.gateway.customers)

	locker, err := f.locker.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{free.ID}, lockerIDs(locker.PurchasedMods))

	_, err = f.purchase.CreateIntent(ctx, user.ID, free.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation, "already owned")
}

func TestCreateIntent_SubscriptionModsCannotBeBought(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	members := seedMod(t, f.db, "Members Only", "0.00", func(m *model.Mod) { m.SubscriptionOnly = true })

	_, err := f.cart.Add(ctx, user.ID, members.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.purchase.CreateIntent(ctx, user.ID, members.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	owned, err := f.db.OwnedModIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, owned, "no free claim of a subscription mod")
	assert.Empty(t, f.gateway.intents)
}

func TestCreateIntent_FreeModRidesAlongPaidCheckout(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")
	free := seedMod(t, f.db, "Freebie", "0.00")
	paid := seedMod(t, f.db, "Paid", "4.00")
	for _, m := range []*model.Mod{free, paid} {
		_, err := f.cart.Add(ctx, user.ID, m.ID)
		require.NoError(t, err)
	}

	res, err := f.purchase.CreateIntent(ctx, user.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, res.Intent)
	assert.True(t, res.Intent.Amount.Equal(decimal.RequireFromString("4.00")))
	assert.Empty(t, res.Purchases)
	assert.ElementsMatch(t, []int64{free.ID, paid.ID}, res.ModIDs)
}

func TestCreateIntent_NothingToBuy(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "shopper")

	_, err := f.purchase.CreateIntent(ctx, user.ID, 0)
	assert.ErrorIs(t, err, apperror.ErrValidation, "empty cart")

	_, err = f.purchase.CreateIntent(ctx, user.ID, 404)
	assert.ErrorIs(t, err, apperror.ErrValidation, "unknown mod")
}

// =========================================================================
// COMPLETION
// =========================================================================

// A user adds mod 3 twice, pays with tx_1 and completes twice: one cart
// line, one purchase row, an empty cart and mod 3 in the locker.
func TestPurchaseFlow_IdempotentCompletion(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()

	var user *model.User
	for i := 0; i < 7; i++ {
		user = seedUser(t, f.db, "user"+string(rune('a'+i)))
	}
	require.EqualValues(t, 7, user.ID)
	var mod *model.Mod
	for i := 0; i < 3; i++ {
		mod = seedMod(t, f.db, "Mod"+string(rune('A'+i)), "9.99")
	}
	require.EqualValues(t, 3, mod.ID)

	_, err := f.cart.Add(ctx, 7, 3)
	require.NoError(t, err)
	cart, err := f.cart.Add(ctx, 7, 3)
	require.NoError(t, err)
	require.Equal(t, 1, cart.Count)
	assert.EqualValues(t, 3, cart.Items[0].ModID)
	assert.True(t, cart.Items[0].EffectivePrice.Equal(mod.Price))

	f.gateway.succeed("tx_1", 7, payment.LineItem{ModID: 3, Price: mod.Price})

	first, err := f.purchase.Complete(ctx, 7, "tx_1", []int64{3})
	require.NoError(t, err)
	require.Len(t, first.Purchases, 1)
	assert.True(t, first.Purchases[0].Created)
	assert.EqualValues(t, 7, first.Purchases[0].UserID)
	assert.True(t, first.Purchases[0].PricePaid.Equal(decimal.RequireFromString("9.99")))

	second, err := f.purchase.Complete(ctx, 7, "tx_1", []int64{3})
	require.NoError(t, err)
	require.Len(t, second.Purchases, 1)
	assert.False(t, second.Purchases[0].Created)
	assert.Equal(t, first.Purchases[0].ID, second.Purchases[0].ID)

	history, err := f.purchase.ListPurchases(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	cart, err = f.cart.Get(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, cart.Count)

	locker, err := f.locker.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, lockerIDs(locker.PurchasedMods))

	assert.Equal(t, []string{events.TypePurchaseCompleted}, f.pub.types(), "no event for the repeat")
}

// A payment redelivered after one of its mods was withdrawn returns the
// recorded purchase instead of skipping the mod.
func TestComplete_ReplayAfterModWithdrawn(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "buyer")
	mod := seedMod(t, f.db, "Withdrawn Later", "6.00")
	conf := f.gateway.succeed("tx_w", user.ID, payment.LineItem{ModID: mod.ID, Price: mod.Price})

	first, err := f.purchase.Complete(ctx, user.ID, "tx_w", nil)
	require.NoError(t, err)
	require.Len(t, first.Purchases, 1)

	retained, err := f.catalog.Delete(ctx, mod.ID)
	require.NoError(t, err)
	require.True(t, retained, "purchased mods are soft-deleted")

	replay, err := f.purchase.Complete(ctx, user.ID, "tx_w", nil)
	require.NoError(t, err)
	require.Len(t, replay.Purchases, 1)
	assert.False(t, replay.Purchases[0].Created)
	assert.Equal(t, first.Purchases[0].ID, replay.Purchases[0].ID)
	assert.Empty(t, replay.Skipped)

	f.gateway.webhookEvent = &payment.WebhookEvent{ID: "evt_w", Kind: payment.EventPaymentSucceeded, Payment: conf}
	require.NoError(t, f.purchase.HandleWebhook(ctx, nil, "sig"))

	history, err := f.purchase.ListPurchases(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestComplete_PaymentChecks(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	buyer := seedUser(t, f.db, "buyer")
	thief := seedUser(t, f.db, "thief")
	mod := seedMod(t, f.db, "Mod", "1.00")

	_, err := f.purchase.Complete(ctx, buyer.ID, "  ", []int64{mod.ID})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.purchase.Complete(ctx, buyer.ID, "tx_unknown", []int64{mod.ID})
	assert.ErrorIs(t, err, apperror.ErrPaymentNotConfirmed)

	conf := f.gateway.succeed("tx_pending", buyer.ID, payment.LineItem{ModID: mod.ID, Price: mod.Price})
	conf.Succeeded = false
	conf.Status = "requires_payment_method"
	_, err = f.purchase.Complete(ctx, buyer.ID, "tx_pending", []int64{mod.ID})
	assert.ErrorIs(t, err, apperror.ErrPaymentNotConfirmed)

	f.gateway.succeed("tx_ok", buyer.ID, payment.LineItem{ModID: mod.ID, Price: mod.Price})
	_, err = f.purchase.Complete(ctx, thief.ID, "tx_ok", []int64{mod.ID})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	f.gateway.confirmErr = errors.New("provider timeout")
	_, err = f.purchase.Complete(ctx, buyer.ID, "tx_ok", []int64{mod.ID})
	require.ErrorIs(t, err, apperror.ErrPaymentNotConfirmed)
	assert.EqualError(t, apperror.CauseOf(err), "provider timeout")
}

func TestComplete_SkipsItemsOutsidePayment(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "buyer")
	paid := seedMod(t, f.db, "Paid", "4.00")
	extra := seedMod(t, f.db, "Extra", "6.00")
	pulled := seedMod(t, f.db, "Pulled", "1.00")

	f.gateway.succeed("tx_mix", user.ID,
		payment.LineItem{ModID: paid.ID, Price: decimal.RequireFromString("3.50")},
		payment.LineItem{ModID: pulled.ID, Price: pulled.Price},
	)
	pulled.Published = false
	require.NoError(t, f.db.UpdateMod(ctx, pulled))

	res, err := f.purchase.Complete(ctx, user.ID, "tx_mix", []int64{paid.ID, extra.ID, pulled.ID, paid.ID})
	require.NoError(t, err)

	require.Len(t, res.Purchases, 1)
	assert.Equal(t, paid.ID, res.Purchases[0].ModID)
	assert.True(t, res.Purchases[0].PricePaid.Equal(decimal.RequireFromString("3.50")), "price from the payment")
	assert.ElementsMatch(t, []model.SkippedItem{
		{ModID: extra.ID, Reason: model.SkipNotInPayment},
		{ModID: pulled.ID, Reason: model.SkipUnavailable},
	}, res.Skipped)
}

func TestComplete_EmptyItemsFulfillsWholePayment(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "buyer")
	a := seedMod(t, f.db, "A", "1.00")
	b := seedMod(t, f.db, "B", "2.00")
	f.gateway.succeed("tx_all", user.ID,
		payment.LineItem{ModID: a.ID, Price: a.Price},
		payment.LineItem{ModID: b.ID, Price: b.Price},
	)

	res, err := f.purchase.Complete(ctx, user.ID, "tx_all", nil)
	require.NoError(t, err)
	assert.Len(t, res.Purchases, 2)
}

// =========================================================================
// WEBHOOKS
// =========================================================================

func TestHandleWebhook_PaymentSucceeded(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "buyer")
	mod := seedMod(t, f.db, "Hook", "7.00")

	conf := f.gateway.succeed("tx_hook", user.ID, payment.LineItem{ModID: mod.ID, Price: mod.Price})
	f.gateway.webhookEvent = &payment.WebhookEvent{ID: "evt_1", Kind: payment.EventPaymentSucceeded, Payment: conf}

	require.NoError(t, f.purchase.HandleWebhook(ctx, []byte("{}"), "sig"))
	// The client completing afterwards sees the webhook's row.
	res, err := f.purchase.Complete(ctx, user.ID, "tx_hook", []int64{mod.ID})
	require.NoError(t, err)
	require.Len(t, res.Purchases, 1)
	assert.False(t, res.Purchases[0].Created)
}

func TestHandleWebhook_SubscriptionChanged(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "subscriber")
	require.NoError(t, f.db.UpdateSubscription(ctx, user.ID, model.Subscription{CustomerID: "cus_1", Status: "incomplete"}))

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	f.gateway.webhookEvent = &payment.WebhookEvent{
		ID:   "evt_2",
		Kind: payment.EventSubscriptionChanged,
		Subscription: &model.Subscription{
			CustomerID: "cus_1", SubscriptionID: "sub_1", Status: model.SubscriptionActive, ExpiresAt: &expires,
		},
	}
	require.NoError(t, f.purchase.HandleWebhook(ctx, nil, "sig"))

	got, err := f.db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, got.SubscriptionStatus)
	require.NotNil(t, got.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *got.StripeSubscriptionID)

	// Unknown customers are acknowledged.
	f.gateway.webhookEvent.Subscription.CustomerID = "cus_nobody"
	assert.NoError(t, f.purchase.HandleWebhook(ctx, nil, "sig"))
}

// Checkout links a customer, the provider later reports a subscription for
// that customer, and the locker unlocks subscription mods.
func TestCheckoutThenSubscriptionWebhookUnlocksLocker(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "member")
	paid := seedMod(t, f.db, "Paid", "5.00")
	members := seedMod(t, f.db, "Members Only", "0.00", func(m *model.Mod) { m.SubscriptionOnly = true })

	checkout, err := f.purchase.CreateIntent(ctx, user.ID, paid.ID)
	require.NoError(t, err)
	customerID := f.gateway.intents[0].CustomerID
	require.NotEmpty(t, customerID)

	conf := f.gateway.succeed(checkout.Intent.ID, user.ID, payment.LineItem{ModID: paid.ID, Price: paid.Price})
	conf.CustomerID = customerID
	_, err = f.purchase.Complete(ctx, user.ID, checkout.Intent.ID, nil)
	require.NoError(t, err)

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	active := &model.Subscription{
		CustomerID: customerID, SubscriptionID: "sub_m", Status: model.SubscriptionActive, ExpiresAt: &expires,
	}
	f.gateway.subscriptions["sub_m"] = active
	f.gateway.webhookEvent = &payment.WebhookEvent{ID: "evt_sub", Kind: payment.EventSubscriptionChanged, Subscription: active}
	require.NoError(t, f.purchase.HandleWebhook(ctx, nil, "sig"))

	locker, err := f.locker.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, locker.HasActiveSubscription)
	assert.Equal(t, []int64{paid.ID}, lockerIDs(locker.PurchasedMods))
	assert.Equal(t, []int64{members.ID}, lockerIDs(locker.SubscriptionMods))
}

func TestFulfill_LinksPaymentCustomer(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	user := seedUser(t, f.db, "buyer")
	mod := seedMod(t, f.db, "Hook", "7.00")

	conf := f.gateway.succeed("tx_c", user.ID, payment.LineItem{ModID: mod.ID, Price: mod.Price})
	conf.CustomerID = "cus_from_payment"
	f.gateway.webhookEvent = &payment.WebhookEvent{ID: "evt_c", Kind: payment.EventPaymentSucceeded, Payment: conf}
	require.NoError(t, f.purchase.HandleWebhook(ctx, nil, "sig"))

	found, err := f.db.GetUserByStripeCustomerID(ctx, "cus_from_payment")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	// An existing link is never replaced.
	other := f.gateway.succeed("tx_d", user.ID, payment.LineItem{ModID: mod.ID, Price: mod.Price})
	other.CustomerID = "cus_other"
	_, err = f.purchase.Complete(ctx, user.ID, "tx_d", nil)
	require.NoError(t, err)
	_, err = f.db.GetUserByStripeCustomerID(ctx, "cus_other")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	f := newCommerceFixture(t)
	f.gateway.webhookErr = errors.New("signature mismatch")

	err := f.purchase.HandleWebhook(context.Background(), []byte("{}"), "bad")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
