package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/metrics"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/notify"
	"github.com/sakif/modmarket/internal/repository"
	"github.com/sakif/modmarket/internal/tracing"
)

// Notification log listing bounds.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// dispatcher is satisfied by *notify.Dispatcher.
type dispatcher interface {
	Dispatch(ctx context.Context, msgs []notify.Message) notify.Result
}

// NotificationService tells owners about new mod versions.
type NotificationService struct {
	mods       repository.ModRepository
	purchases  repository.PurchaseRepository
	logs       repository.NotificationRepository
	dispatcher dispatcher
	announcer  notify.Announcer
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotificationService creates a NotificationService. announcer may be nil
// when no community channel is configured.
func NewNotificationService(
	mods repository.ModRepository,
	purchases repository.PurchaseRepository,
	logs repository.NotificationRepository,
	d dispatcher,
	announcer notify.Announcer,
	publisher events.Publisher,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		mods:       mods,
		purchases:  purchases,
		logs:       logs,
		dispatcher: d,
		announcer:  announcer,
		events:     publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// Send notifies every user entitled to the mod about a release and records
// one log row with the counts. Delivery failures are counted, never
// returned. An empty changelog falls back to the release's own.
func (s *NotificationService) Send(ctx context.Context, modID int64, version, changelog string) (*model.NotificationLog, error) {
	ctx, span := tracing.StartSpan(ctx, "notification.Send")
	defer span.End()

	version = strings.TrimSpace(version)
	if version == "" {
		return nil, apperror.ValidationFailed("version", "version is required")
	}

	mod, err := s.mods.GetMod(ctx, modID)
	if err != nil {
		return nil, s.wrap("fetching mod", modID, err)
	}
	if mod.DeletedAt != nil {
		return nil, apperror.NotFound("mod", strconv.FormatInt(modID, 10))
	}

	release, err := s.mods.GetVersion(ctx, modID, version)
	if err != nil {
		return nil, s.wrap("fetching version of mod", modID, err)
	}
	if strings.TrimSpace(changelog) == "" {
		changelog = release.Changelog
	}

	recipients, err := s.recipients(ctx, mod)
	if err != nil {
		return nil, err
	}

	msgs := make([]notify.Message, 0, len(recipients))
	for _, u := range recipients {
		msgs = append(msgs, buildMessage(u, mod, version, changelog))
	}

	result := s.dispatcher.Dispatch(ctx, msgs)
	metrics.NotificationsSentTotal.WithLabelValues("success").Add(float64(result.Succeeded))
	metrics.NotificationsSentTotal.WithLabelValues("failure").Add(float64(result.Failed))

	entry := &model.NotificationLog{
		ModID:          modID,
		Version:        version,
		RecipientCount: result.Recipients,
		SuccessCount:   result.Succeeded,
		FailureCount:   result.Failed,
		CreatedAt:      s.now().UTC(),
	}
	// The batch has already gone out; a cancelled request must not lose the log.
	if err := s.logs.CreateNotificationLog(context.WithoutCancel(ctx), entry); err != nil {
		return nil, fmt.Errorf("service/notification: writing log for mod %d: %w", modID, err)
	}

	if s.announcer != nil {
		err := s.announcer.Announce(ctx, notify.Announcement{
			ModTitle:  mod.Title,
			Version:   version,
			Changelog: changelog,
		})
		if err != nil {
			s.logger.Warn("release announcement failed",
				slog.Int64("modID", modID),
				slog.String("error", err.Error()),
			)
		}
	}

	publishEvent(ctx, s.events, s.logger, events.NewNotificationBatchSent(
		modID, version, result.Recipients, result.Succeeded, result.Failed))

	s.logger.Info("notification batch sent",
		slog.Int64("modID", modID),
		slog.String("version", version),
		slog.Int("recipients", result.Recipients),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)
	return entry, nil
}

// List returns the most recent batches, newest first.
func (s *NotificationService) List(ctx context.Context, limit int) ([]model.NotificationLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	logs, err := s.logs.ListNotificationLogs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service/notification: listing logs: %w", err)
	}
	return logs, nil
}

// recipients are the mod's purchasers plus, for subscription-only mods,
// every user with an active subscription. Each user appears once.
func (s *NotificationService) recipients(ctx context.Context, mod *model.Mod) ([]model.User, error) {
	purchasers, err := s.purchases.ListPurchasers(ctx, mod.ID)
	if err != nil {
		return nil, fmt.Errorf("service/notification: purchasers of mod %d: %w", mod.ID, err)
	}

	seen := make(map[int64]bool, len(purchasers))
	out := make([]model.User, 0, len(purchasers))
	for _, u := range purchasers {
		if !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, u)
		}
	}

	if !mod.SubscriptionOnly {
		return out, nil
	}

	subscribers, err := s.purchases.ListSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/notification: listing subscribers: %w", err)
	}
	now := s.now()
	for _, u := range subscribers {
		if !seen[u.ID] && u.SubscriptionActiveAt(now) {
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *NotificationService) wrap(op string, id int64, err error) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	return fmt.Errorf("service/notification: %s %d: %w", op, id, err)
}

func buildMessage(u model.User, mod *model.Mod, version, changelog string) notify.Message {
	msg := notify.Message{
		Name:    u.Username,
		Subject: fmt.Sprintf("%s %s is available", mod.Title, version),
	}
	if u.Email != nil {
		msg.To = *u.Email
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\nVersion %s of %s is now available in your mod locker.\n", u.Username, version, mod.Title)
	if changelog != "" {
		fmt.Fprintf(&text, "\nChanges:\n%s\n", changelog)
	}
	msg.PlainText = text.String()

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hi %s,</p><p>Version <strong>%s</strong> of <strong>%s</strong> is now available in your mod locker.</p>",
		html.EscapeString(u.Username), html.EscapeString(version), html.EscapeString(mod.Title))
	if changelog != "" {
		fmt.Fprintf(&body, "<h3>Changes</h3><pre>%s</pre>", html.EscapeString(changelog))
	}
	msg.HTML = body.String()

	return msg
}
