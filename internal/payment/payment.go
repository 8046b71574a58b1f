// Package payment is the boundary to the payment provider.
//
// Services depend on the Gateway interface only. Stripe is the production
// implementation; Disabled is used when no provider key is configured, and
// tests use hand-written fakes.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/sakif/modmarket/internal/model"
)

// ErrNotConfigured is returned by Disabled for every call.
var ErrNotConfigured = errors.New("payment: provider not configured")

// LineItem is one mod in a payment together with the price charged for it.
type LineItem struct {
	ModID int64
	Price decimal.Decimal
}

// IntentRequest describes a payment to be created.
type IntentRequest struct {
	UserID     int64
	Items      []LineItem
	Currency   string
	CustomerID string
}

// CustomerRequest describes the provider-side customer created for a user.
type CustomerRequest struct {
	UserID int64
	Email  string
	Name   string
}

// Total sums the item prices.
func (r IntentRequest) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Price)
	}
	return total
}

// Intent is a created, not yet confirmed payment.
type Intent struct {
	ID           string          `json:"transactionId"`
	ClientSecret string          `json:"clientSecret"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// Confirmation is the provider's view of a payment.
type Confirmation struct {
	TransactionID string
	UserID        int64
	Succeeded     bool
	Status        string
	Amount        decimal.Decimal
	CustomerID    string
	// Items are the mods and prices recorded when the intent was created.
	Items []LineItem
}

// Covers reports whether modID was part of the payment, and at which price.
func (c *Confirmation) Covers(modID int64) (decimal.Decimal, bool) {
	for _, item := range c.Items {
		if item.ModID == modID {
			return item.Price, true
		}
	}
	return decimal.Zero, false
}

// EventKind classifies verified webhook events.
type EventKind string

const (
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventSubscriptionChanged EventKind = "subscription_changed"
	EventIgnored             EventKind = "ignored"
)

// WebhookEvent is a verified provider notification. Exactly one of Payment
// and Subscription is set, depending on Kind.
type WebhookEvent struct {
	ID           string
	Kind         EventKind
	Payment      *Confirmation
	Subscription *model.Subscription
}

// Gateway is implemented by payment providers.
type Gateway interface {
	// CreateCustomer registers the user with the provider and returns the
	// customer id that later subscription events refer to.
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CreateIntent starts a payment for the given items.
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)

	// Confirm fetches the current state of a payment.
	Confirm(ctx context.Context, transactionID string) (*Confirmation, error)

	// Subscription fetches the current state of a subscription.
	Subscription(ctx context.Context, subscriptionID string) (*model.Subscription, error)

	// ParseWebhook verifies the signature and decodes a provider event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Disabled is the Gateway used when payments are not configured.
type Disabled struct{}

var _ Gateway = Disabled{}

func (Disabled) CreateCustomer(context.Context, CustomerRequest) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) CreateIntent(context.Context, IntentRequest) (*Intent, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Confirm(context.Context, string) (*Confirmation, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Subscription(context.Context, string) (*model.Subscription, error) {
	return nil, ErrNotConfigured
}

func (Disabled) ParseWebhook([]byte, string) (*WebhookEvent, error) {
	return nil, ErrNotConfigured
}
