package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sakif/modmarket/internal/model"
)

// StripeConfig holds the Stripe credentials.
type StripeConfig struct {
	// SecretKey is the API key (sk_live_... or sk_test_...).
	SecretKey string
	// WebhookSecret verifies the Stripe-Signature header (whsec_...).
	WebhookSecret string
	// Currency is the ISO code charged for every intent.
	Currency string
	// Backends overrides the API endpoint. Nil uses api.stripe.com.
	Backends *stripe.Backends
}

// Stripe implements Gateway with PaymentIntents and Subscriptions.
type Stripe struct {
	api           *client.API
	webhookSecret string
	currency      string
}

var _ Gateway = (*Stripe)(nil)

// NewStripe creates a Stripe gateway.
func NewStripe(cfg StripeConfig) *Stripe {
	currency := cfg.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &Stripe{
		api:           client.New(cfg.SecretKey, cfg.Backends),
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
	}
}

// CreateCustomer creates a Stripe customer tagged with the user id, so that
// subscription events can be traced back to the account.
func (s *Stripe) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.AddMetadata(metaUserID, strconv.FormatInt(req.UserID, 10))

	cus, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("payment: creating customer for user %d: %w", req.UserID, err)
	}
	return cus.ID, nil
}

// CreateIntent creates a PaymentIntent for the total of req.Items. The user
// id and per-item prices are stored as metadata so that confirmation and
// webhooks can fulfil the exact items that were paid for.
func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}
	total := req.Total()
	if !total.IsPositive() {
		return nil, fmt.Errorf("payment: intent total must be positive, got %s", total.StringFixed(2))
	}
	encoded := EncodeItems(req.Items)
	if len(encoded) > maxMetadataValue {
		return nil, fmt.Errorf("payment: %d items do not fit in intent metadata", len(req.Items))
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(total)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(metaUserID, strconv.FormatInt(req.UserID, 10))
	params.AddMetadata(metaItems, encoded)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("payment: creating intent: %w", err)
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       fromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
	}, nil
}

// Confirm retrieves a PaymentIntent. Succeeded is true only for the
// "succeeded" status.
func (s *Stripe) Confirm(ctx context.Context, transactionID string) (*Confirmation, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.Get(transactionID, params)
	if err != nil {
		return nil, fmt.Errorf("payment: retrieving intent %s: %w", transactionID, err)
	}
	return confirmationFromIntent(pi)
}

// Subscription retrieves a subscription and maps it to the stored model.
func (s *Stripe) Subscription(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("payment: retrieving subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub), nil
}

// ParseWebhook verifies the signature and decodes the events the store acts
// on. Other event types come back as EventIgnored.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("payment: verifying webhook: %w", err)
	}

	out := &WebhookEvent{ID: event.ID, Kind: EventIgnored}

	switch string(event.Type) {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("payment: decoding payment intent: %w", err)
		}
		conf, err := confirmationFromIntent(&pi)
		if err != nil {
			return nil, err
		}
		out.Kind = EventPaymentSucceeded
		out.Payment = conf

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("payment: decoding subscription: %w", err)
		}
		out.Kind = EventSubscriptionChanged
		out.Subscription = subscriptionFromStripe(&sub)
	}

	return out, nil
}

func confirmationFromIntent(pi *stripe.PaymentIntent) (*Confirmation, error) {
	conf := &Confirmation{
		TransactionID: pi.ID,
		Status:        string(pi.Status),
		Succeeded:     pi.Status == stripe.PaymentIntentStatusSucceeded,
		Amount:        fromMinorUnits(pi.Amount),
	}
	if pi.Customer != nil {
		conf.CustomerID = pi.Customer.ID
	}

	if raw := pi.Metadata[metaUserID]; raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("payment: intent %s has malformed user id %q", pi.ID, raw)
		}
		conf.UserID = userID
	}

	items, err := DecodeItems(pi.Metadata[metaItems])
	if err != nil {
		return nil, fmt.Errorf("payment: intent %s: %w", pi.ID, err)
	}
	conf.Items = items

	return conf, nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *model.Subscription {
	out := &model.Subscription{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.ExpiresAt = &end
	}
	return out
}
