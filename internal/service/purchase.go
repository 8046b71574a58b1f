package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/metrics"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/payment"
	"github.com/sakif/modmarket/internal/repository"
	"github.com/sakif/modmarket/internal/tracing"
)

// CheckoutResult is a created payment together with the mods left out of it.
// A checkout of only free mods opens no payment: Intent is nil and the
// purchases are recorded immediately.
type CheckoutResult struct {
	Intent    *payment.Intent        `json:"intent"`
	ModIDs    []int64                `json:"modIds"`
	Skipped   []model.SkippedItem    `json:"skipped"`
	Purchases []model.PurchaseRecord `json:"purchases,omitempty"`
}

// freeTransactionPrefix marks purchases recorded without a payment.
const freeTransactionPrefix = "free_"

// PurchaseResult is the outcome of fulfilling a payment.
type PurchaseResult struct {
	TransactionID string                 `json:"transactionId"`
	Purchases     []model.PurchaseRecord `json:"purchases"`
	Skipped       []model.SkippedItem    `json:"skipped"`
}

// PurchaseService runs checkout and fulfillment.
//
// Fulfillment is idempotent per (user, mod, transaction id): completing the
// same payment twice, or a client completion racing the provider webhook,
// never creates a second purchase row. Repeats come back with Created=false.
type PurchaseService struct {
	gateway   payment.Gateway
	currency  string
	mods      repository.ModRepository
	purchases repository.PurchaseRepository
	users     repository.UserRepository
	carts     repository.CartRepository
	events    events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewPurchaseService(
	gateway payment.Gateway,
	currency string,
	mods repository.ModRepository,
	purchases repository.PurchaseRepository,
	users repository.UserRepository,
	carts repository.CartRepository,
	publisher events.Publisher,
	logger *slog.Logger,
) *PurchaseService {
	return &PurchaseService{
		gateway:   gateway,
		currency:  currency,
		mods:      mods,
		purchases: purchases,
		users:     users,
		carts:     carts,
		events:    publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateIntent prices a checkout on the server and opens a payment for it.
// modID 0 checks out the whole cart. Unavailable, already owned and
// subscription-only mods are skipped; if nothing is left the request is invalid. Users without a
// provider customer get one on their first paid checkout, and a checkout
// that costs nothing is recorded without a payment.
func (s *PurchaseService) CreateIntent(ctx context.Context, userID, modID int64) (*CheckoutResult, error) {
	ctx, span := tracing.StartSpan(ctx, "purchase.CreateIntent")
	defer span.End()

	var wanted []int64
	if modID == 0 {
		items, err := s.carts.ListCartItems(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("service/purchase: listing cart of user %d: %w", userID, err)
		}
		wanted = cartModIDs(items)
		if len(wanted) == 0 {
			return nil, apperror.ValidationFailed("cart", "cart is empty")
		}
	} else {
		wanted = []int64{modID}
	}

	mods, err := loadMods(ctx, s.mods, wanted)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: loading mods: %w", err)
	}
	owned, err := s.purchases.OwnedModIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: owned mods of user %d: %w", userID, err)
	}

	now := s.now()
	result := &CheckoutResult{ModIDs: []int64{}, Skipped: []model.SkippedItem{}}
	var items []payment.LineItem

	for _, id := range wanted {
		mod, ok := mods[id]
		switch {
		case !ok || !mod.Available():
			result.Skipped = append(result.Skipped, model.SkippedItem{ModID: id, Reason: model.SkipUnavailable})
		case owned[id]:
			result.Skipped = append(result.Skipped, model.SkippedItem{ModID: id, Reason: model.SkipAlreadyOwned})
		case mod.SubscriptionOnly:
			result.Skipped = append(result.Skipped, model.SkippedItem{ModID: id, Reason: model.SkipSubscriptionOnly})
		default:
			items = append(items, payment.LineItem{ModID: id, Price: mod.EffectivePrice(now)})
			result.ModIDs = append(result.ModIDs, id)
		}
	}

	if len(items) == 0 {
		if modID != 0 && len(result.Skipped) == 1 {
			switch result.Skipped[0].Reason {
			case model.SkipAlreadyOwned:
				return nil, apperror.ValidationFailed("modId", "mod is already owned")
			case model.SkipSubscriptionOnly:
				return nil, apperror.ValidationFailed("modId", "mod is included with a subscription")
			}
		}
		return nil, apperror.ValidationFailed("items", "nothing to purchase")
	}
	if len(items) > MaxCheckoutItems {
		return nil, apperror.ValidationFailed("items",
			fmt.Sprintf("a checkout holds at most %d mods, got %d", MaxCheckoutItems, len(items)))
	}

	req := payment.IntentRequest{UserID: userID, Items: items, Currency: s.currency}
	if req.Total().IsZero() {
		return s.claimFree(ctx, userID, items, result)
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	req.CustomerID = customerID

	intent, err := s.gateway.CreateIntent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: creating payment for user %d: %w", userID, err)
	}
	result.Intent = intent

	s.logger.Info("payment intent created",
		slog.Int64("userID", userID),
		slog.String("transactionID", intent.ID),
		slog.String("amount", intent.Amount.StringFixed(2)),
		slog.Int("items", len(items)),
	)
	return result, nil
}

// claimFree records a checkout whose items all cost nothing, under a
// generated transaction id, without involving the payment provider.
func (s *PurchaseService) claimFree(ctx context.Context, userID int64, items []payment.LineItem, result *CheckoutResult) (*CheckoutResult, error) {
	conf := &payment.Confirmation{
		TransactionID: freeTransactionPrefix + uuid.NewString(),
		UserID:        userID,
		Succeeded:     true,
		Status:        "free",
		Amount:        decimal.Zero,
		Items:         items,
	}

	fulfilled, err := s.fulfill(ctx, userID, conf, result.ModIDs)
	if err != nil {
		return nil, err
	}
	result.Purchases = fulfilled.Purchases
	result.Skipped = append(result.Skipped, fulfilled.Skipped...)
	return result, nil
}

// ensureCustomer returns the user's provider customer id, creating and
// linking one on first checkout.
func (s *PurchaseService) ensureCustomer(ctx context.Context, userID int64) (string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service/purchase: fetching user %d: %w", userID, err)
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	req := payment.CustomerRequest{UserID: userID, Name: user.Username}
	if user.Email != nil {
		req.Email = *user.Email
	}
	customerID, err := s.gateway.CreateCustomer(ctx, req)
	if err != nil {
		return "", fmt.Errorf("service/purchase: creating customer for user %d: %w", userID, err)
	}

	linked, err := s.users.LinkStripeCustomer(ctx, userID, customerID)
	if err != nil {
		return "", fmt.Errorf("service/purchase: linking customer of user %d: %w", userID, err)
	}
	if !linked {
		// A concurrent checkout linked first; use its customer.
		user, err = s.users.GetUserByID(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("service/purchase: fetching user %d: %w", userID, err)
		}
		if user.StripeCustomerID != nil {
			return *user.StripeCustomerID, nil
		}
	}

	s.logger.Info("payment customer linked",
		slog.Int64("userID", userID),
		slog.String("customerID", customerID),
	)
	return customerID, nil
}

// linkPaymentCustomer stores the customer a confirmed payment was made by,
// for users who do not have one yet. Failures are logged only.
func (s *PurchaseService) linkPaymentCustomer(ctx context.Context, userID int64, customerID string) {
	if customerID == "" {
		return
	}
	linked, err := s.users.LinkStripeCustomer(ctx, userID, customerID)
	if err != nil {
		s.logger.Warn("payment customer not linked",
			slog.Int64("userID", userID),
			slog.String("customerID", customerID),
			slog.String("error", err.Error()),
		)
		return
	}
	if linked {
		s.logger.Info("payment customer linked",
			slog.Int64("userID", userID),
			slog.String("customerID", customerID),
		)
	}
}

// Complete confirms a payment with the provider and fulfills the requested
// mods. An empty items list fulfills everything the payment covers.
func (s *PurchaseService) Complete(ctx context.Context, userID int64, transactionID string, items []int64) (*PurchaseResult, error) {
	ctx, span := tracing.StartSpan(ctx, "purchase.Complete")
	defer span.End()

	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, apperror.ValidationFailed("transactionId", "transaction id is required")
	}

	conf, err := s.gateway.Confirm(ctx, transactionID)
	if err != nil {
		metrics.PaymentConfirmFailedTotal.WithLabelValues("provider_error").Inc()
		return nil, apperror.PaymentNotConfirmed("payment could not be verified, please retry", err)
	}
	if !conf.Succeeded {
		metrics.PaymentConfirmFailedTotal.WithLabelValues("not_succeeded").Inc()
		return nil, apperror.PaymentNotConfirmed(
			fmt.Sprintf("payment has not succeeded (status %q)", conf.Status), nil)
	}
	if conf.UserID != userID {
		metrics.PaymentConfirmFailedTotal.WithLabelValues("wrong_user").Inc()
		s.logger.Warn("payment completion by another user",
			slog.Int64("userID", userID),
			slog.Int64("paymentUserID", conf.UserID),
			slog.String("transactionID", transactionID),
		)
		return nil, apperror.Forbidden("payment belongs to another user")
	}

	if len(items) == 0 {
		for _, item := range conf.Items {
			items = append(items, item.ModID)
		}
	}
	if len(items) == 0 {
		return nil, apperror.ValidationFailed("items", "no items to fulfill")
	}

	return s.fulfill(ctx, userID, conf, items)
}

// HandleWebhook applies a verified provider event.
//
// A succeeded payment runs the same fulfillment as Complete for every item
// on the payment; subscription changes update the owning user. Events for
// unknown customers are logged and acknowledged.
func (s *PurchaseService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return fmt.Errorf("service/purchase: %w", err)
		}
		return apperror.ValidationFailed("signature", "invalid webhook payload or signature")
	}

	switch event.Kind {
	case payment.EventPaymentSucceeded:
		conf := event.Payment
		if conf.UserID <= 0 || len(conf.Items) == 0 {
			s.logger.Warn("payment webhook without checkout metadata",
				slog.String("eventID", event.ID),
				slog.String("transactionID", conf.TransactionID),
			)
			return nil
		}
		ids := make([]int64, 0, len(conf.Items))
		for _, item := range conf.Items {
			ids = append(ids, item.ModID)
		}
		_, err := s.fulfill(ctx, conf.UserID, conf, ids)
		return err

	case payment.EventSubscriptionChanged:
		sub := event.Subscription
		user, err := s.users.GetUserByStripeCustomerID(ctx, sub.CustomerID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				s.logger.Warn("subscription webhook for unknown customer",
					slog.String("eventID", event.ID),
					slog.String("customerID", sub.CustomerID),
				)
				return nil
			}
			return fmt.Errorf("service/purchase: looking up customer %s: %w", sub.CustomerID, err)
		}
		if err := s.users.UpdateSubscription(ctx, user.ID, *sub); err != nil {
			return fmt.Errorf("service/purchase: updating subscription of user %d: %w", user.ID, err)
		}
		s.logger.Info("subscription updated",
			slog.Int64("userID", user.ID),
			slog.String("status", sub.Status),
		)
		return nil

	default:
		s.logger.Debug("webhook event ignored", slog.String("eventID", event.ID))
		return nil
	}
}

// ListPurchases returns the user's order history, newest first.
func (s *PurchaseService) ListPurchases(ctx context.Context, userID int64) ([]model.Purchase, error) {
	purchases, err := s.purchases.ListPurchases(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: listing purchases of user %d: %w", userID, err)
	}
	return purchases, nil
}

// fulfill records purchases for the requested mods that the confirmed
// payment covers. The price is the one recorded on the payment; payments
// without recorded items are checked against their total instead.
//
// Mods already recorded under this transaction are returned as they are,
// with Created=false, even if the mod has since left the catalog.
func (s *PurchaseService) fulfill(ctx context.Context, userID int64, conf *payment.Confirmation, requested []int64) (*PurchaseResult, error) {
	requested = dedupe(requested)
	s.linkPaymentCustomer(ctx, userID, conf.CustomerID)

	existing, err := s.purchases.ListPurchasesByTransaction(ctx, userID, conf.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: purchases recorded for %s: %w", conf.TransactionID, err)
	}
	recorded := make(map[int64]model.Purchase, len(existing))
	for _, p := range existing {
		recorded[p.ModID] = p
	}

	mods, err := loadMods(ctx, s.mods, requested)
	if err != nil {
		return nil, fmt.Errorf("service/purchase: loading mods: %w", err)
	}

	now := s.now()
	result := &PurchaseResult{
		TransactionID: conf.TransactionID,
		Purchases:     []model.PurchaseRecord{},
		Skipped:       []model.SkippedItem{},
	}

	var rows []model.Purchase
	budget := conf.Amount
	for _, p := range existing {
		budget = budget.Sub(p.PricePaid)
	}
	for _, id := range requested {
		if p, ok := recorded[id]; ok {
			result.Purchases = append(result.Purchases, model.PurchaseRecord{Purchase: p})
			continue
		}

		mod, ok := mods[id]
		if !ok || !mod.Available() {
			result.Skipped = append(result.Skipped, model.SkippedItem{ModID: id, Reason: model.SkipUnavailable})
			continue
		}

		price, covered := conf.Covers(id)
		if len(conf.Items) == 0 {
			price = mod.EffectivePrice(now)
			covered = !price.GreaterThan(budget)
			if covered {
				budget = budget.Sub(price)
			}
		}
		if !covered {
			result.Skipped = append(result.Skipped, model.SkippedItem{ModID: id, Reason: model.SkipNotInPayment})
			continue
		}

		rows = append(rows, model.Purchase{
			UserID:        userID,
			ModID:         id,
			TransactionID: conf.TransactionID,
			PricePaid:     price,
			PurchasedAt:   now.UTC(),
		})
	}

	for _, skipped := range result.Skipped {
		metrics.PurchaseItemsSkippedTotal.WithLabelValues(skipped.Reason).Inc()
	}

	if len(rows) > 0 {
		records, err := s.purchases.RecordPurchases(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("service/purchase: recording purchases for %s: %w", conf.TransactionID, err)
		}
		result.Purchases = append(result.Purchases, records...)
	}
	if len(result.Purchases) == 0 {
		return result, nil
	}

	// === SIDE EFFECTS (after commit) ===
	var created []events.PurchasedItem
	for _, rec := range result.Purchases {
		if !rec.Created {
			metrics.PurchasesDuplicateTotal.Inc()
			continue
		}
		metrics.PurchasesCompletedTotal.Inc()
		metrics.RevenueTotal.Add(rec.PricePaid.InexactFloat64())
		created = append(created, events.PurchasedItem{ModID: rec.ModID, PricePaid: rec.PricePaid})
	}

	if len(created) > 0 {
		publishEvent(ctx, s.events, s.logger, events.NewPurchaseCompleted(userID, conf.TransactionID, created))
		s.logger.Info("purchase completed",
			slog.Int64("userID", userID),
			slog.String("transactionID", conf.TransactionID),
			slog.Int("created", len(created)),
			slog.String("total", sumPaid(created).StringFixed(2)),
		)
	} else {
		s.logger.Info("duplicate purchase completion",
			slog.Int64("userID", userID),
			slog.String("transactionID", conf.TransactionID),
		)
	}

	return result, nil
}

func sumPaid(items []events.PurchasedItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.PricePaid)
	}
	return total
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
