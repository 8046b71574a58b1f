package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/notify"
	"github.com/sakif/modmarket/internal/payment"
	"github.com/sakif/modmarket/internal/repository/sqlstore"
)

// =========================================================================
// SHARED FIXTURES
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens an in-memory database with the full schema.
func newTestStore(t *testing.T) *sqlstore.DB {
	t.Helper()
	db, err := sqlstore.New(":memory:")
	if err != nil {
		t.Fatalf("sqlstore.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sqlstore.DB, username string) *model.User {
	t.Helper()
	email := username + "@example.com"
	u := &model.User{Username: username, Email: &email}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%q) error = %v", username, err)
	}
	return u
}

func seedMod(t *testing.T, db *sqlstore.DB, title, price string, mutate ...func(*model.Mod)) *model.Mod {
	t.Helper()
	m := &model.Mod{
		Title:     title,
		Price:     decimal.RequireFromString(price),
		Category:  model.CategoryVehicles,
		Published: true,
	}
	for _, fn := range mutate {
		fn(m)
	}
	if err := db.CreateMod(context.Background(), m); err != nil {
		t.Fatalf("CreateMod(%q) error = %v", title, err)
	}
	return m
}

func seedVersion(t *testing.T, db *sqlstore.DB, modID int64, version, changelog string) *model.ModVersion {
	t.Helper()
	v := &model.ModVersion{ModID: modID, Version: version, FileRef: "files/" + version + ".zip", Changelog: changelog}
	if err := db.CreateVersion(context.Background(), v); err != nil {
		t.Fatalf("CreateVersion(%q) error = %v", version, err)
	}
	return v
}

// =========================================================================
// FAKES
// =========================================================================

// fakeGateway is an in-memory payment provider. Payments are registered
// with succeed() and looked up by Confirm.
type fakeGateway struct {
	mu            sync.Mutex
	payments      map[string]*payment.Confirmation
	subscriptions map[string]*model.Subscription
	intents       []payment.IntentRequest
	customers     []payment.CustomerRequest
	nextID        int

	customerErr     error
	confirmErr      error
	subscriptionErr error
	webhookEvent    *payment.WebhookEvent
	webhookErr      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		payments:      make(map[string]*payment.Confirmation),
		subscriptions: make(map[string]*model.Subscription),
	}
}

// succeed registers a succeeded payment covering items.
func (g *fakeGateway) succeed(txID string, userID int64, items ...payment.LineItem) *payment.Confirmation {
	g.mu.Lock()
	defer g.mu.Unlock()
	conf := &payment.Confirmation{
		TransactionID: txID,
		UserID:        userID,
		Succeeded:     true,
		Status:        "succeeded",
		Amount:        payment.IntentRequest{Items: items}.Total(),
		Items:         items,
	}
	g.payments[txID] = conf
	return conf
}

func (g *fakeGateway) CreateCustomer(_ context.Context, req payment.CustomerRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.customerErr != nil {
		return "", g.customerErr
	}
	g.customers = append(g.customers, req)
	return fmt.Sprintf("cus_%d", len(g.customers)), nil
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.intents = append(g.intents, req)
	return &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", g.nextID),
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.nextID),
		Amount:       req.Total(),
		Currency:     req.Currency,
	}, nil
}

func (g *fakeGateway) Confirm(_ context.Context, txID string) (*payment.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	conf, ok := g.payments[txID]
	if !ok {
		return nil, errors.New("no such payment intent")
	}
	return conf, nil
}

func (g *fakeGateway) Subscription(_ context.Context, id string) (*model.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subscriptionErr != nil {
		return nil, g.subscriptionErr
	}
	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*payment.WebhookEvent, error) {
	return g.webhookEvent, g.webhookErr
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type())
	}
	return out
}

// scriptedNotifier fails delivery to the addresses in failFor.
type scriptedNotifier struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    []notify.Message
}

func (n *scriptedNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[msg.To] {
		return errors.New("mailbox unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

type recordingAnnouncer struct {
	got []notify.Announcement
	err error
}

func (a *recordingAnnouncer) Announce(_ context.Context, ann notify.Announcement) error {
	a.got = append(a.got, ann)
	return a.err
}
