// Package events publishes domain events for downstream consumers
// (analytics, the Discord bot, fulfilment audits).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	TypePurchaseCompleted     = "PURCHASE_COMPLETED"
	TypeNotificationBatchSent = "NOTIFICATION_BATCH_SENT"
	TypeModVersionReleased    = "MOD_VERSION_RELEASED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func newBase(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Event is implemented by every event payload.
type Event interface {
	Type() string
	// Key groups related events on the same partition.
	Key() string
}

func (b BaseEvent) Type() string { return b.EventType }

// PurchasedItem is one fulfilled mod.
type PurchasedItem struct {
	ModID     int64           `json:"mod_id"`
	PricePaid decimal.Decimal `json:"price_paid"`
}

// PurchaseCompletedEvent is published after new purchases are committed.
type PurchaseCompletedEvent struct {
	BaseEvent
	UserID        int64           `json:"user_id"`
	TransactionID string          `json:"transaction_id"`
	Items         []PurchasedItem `json:"items"`
}

// NewPurchaseCompleted builds a PurchaseCompletedEvent.
func NewPurchaseCompleted(userID int64, transactionID string, items []PurchasedItem) *PurchaseCompletedEvent {
	return &PurchaseCompletedEvent{
		BaseEvent:     newBase(TypePurchaseCompleted),
		UserID:        userID,
		TransactionID: transactionID,
		Items:         items,
	}
}

func (e *PurchaseCompletedEvent) Key() string { return "tx-" + e.TransactionID }

// ModVersionReleasedEvent is published when an admin adds a version.
type ModVersionReleasedEvent struct {
	BaseEvent
	ModID   int64  `json:"mod_id"`
	Version string `json:"version"`
}

// NewModVersionReleased builds a ModVersionReleasedEvent.
func NewModVersionReleased(modID int64, version string) *ModVersionReleasedEvent {
	return &ModVersionReleasedEvent{
		BaseEvent: newBase(TypeModVersionReleased),
		ModID:     modID,
		Version:   version,
	}
}

func (e *ModVersionReleasedEvent) Key() string { return modKey(e.ModID) }

// NotificationBatchSentEvent summarizes one notification batch.
type NotificationBatchSentEvent struct {
	BaseEvent
	ModID          int64  `json:"mod_id"`
	Version        string `json:"version"`
	RecipientCount int    `json:"recipient_count"`
	SuccessCount   int    `json:"success_count"`
	FailureCount   int    `json:"failure_count"`
}

// NewNotificationBatchSent builds a NotificationBatchSentEvent.
func NewNotificationBatchSent(modID int64, version string, recipients, succeeded, failed int) *NotificationBatchSentEvent {
	return &NotificationBatchSentEvent{
		BaseEvent:      newBase(TypeNotificationBatchSent),
		ModID:          modID,
		Version:        version,
		RecipientCount: recipients,
		SuccessCount:   succeeded,
		FailureCount:   failed,
	}
}

func (e *NotificationBatchSentEvent) Key() string { return modKey(e.ModID) }

// Publisher sends events to the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
