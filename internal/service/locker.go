package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/payment"
	"github.com/sakif/modmarket/internal/repository"
)

// downloadRecorder is the part of CatalogService the locker needs.
type downloadRecorder interface {
	RecordDownload(ctx context.Context, modID int64) error
}

// LockerService answers "what may this user download".
type LockerService struct {
	gateway   payment.Gateway
	users     repository.UserRepository
	mods      repository.ModRepository
	purchases repository.PurchaseRepository
	downloads downloadRecorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewLockerService(
	gateway payment.Gateway,
	users repository.UserRepository,
	mods repository.ModRepository,
	purchases repository.PurchaseRepository,
	downloads downloadRecorder,
	logger *slog.Logger,
) *LockerService {
	return &LockerService{
		gateway:   gateway,
		users:     users,
		mods:      mods,
		purchases: purchases,
		downloads: downloads,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns the user's locker. Anonymous callers (userID 0) and unknown
// users get an empty locker, not an error.
func (s *LockerService) Get(ctx context.Context, userID int64) (*model.ModLocker, error) {
	if userID == 0 {
		return model.EmptyLocker(), nil
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.EmptyLocker(), nil
		}
		return nil, fmt.Errorf("service/locker: fetching user %d: %w", userID, err)
	}

	purchased, err := s.purchases.ListPurchasedMods(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/locker: purchased mods of user %d: %w", userID, err)
	}

	locker := model.EmptyLocker()
	locker.PurchasedMods = purchased
	locker.HasActiveSubscription = s.subscriptionActive(ctx, user)

	if locker.HasActiveSubscription {
		subMods, err := s.mods.ListSubscriptionMods(ctx)
		if err != nil {
			return nil, fmt.Errorf("service/locker: listing subscription mods: %w", err)
		}
		locker.SubscriptionMods = subMods
	}
	return locker, nil
}

// Download authorizes a download and returns the release to serve.
//
// A purchase entitles the buyer even after the mod is withdrawn. Otherwise
// the mod must be available and either subscription-only with an active
// subscription, or the caller must be an admin.
func (s *LockerService) Download(ctx context.Context, userID, modID int64) (*model.ModVersion, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("not signed in")
		}
		return nil, fmt.Errorf("service/locker: fetching user %d: %w", userID, err)
	}

	mod, err := s.mods.GetMod(ctx, modID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/locker: fetching mod %d: %w", modID, err)
	}

	owned, err := s.purchases.HasPurchased(ctx, userID, modID)
	if err != nil {
		return nil, fmt.Errorf("service/locker: checking purchase of mod %d: %w", modID, err)
	}

	entitled := owned
	if !entitled && mod.Available() {
		entitled = user.IsAdmin || (mod.SubscriptionOnly && s.subscriptionActive(ctx, user))
	}
	if !entitled {
		if !mod.Available() {
			return nil, apperror.NotFound("mod", strconv.FormatInt(modID, 10))
		}
		return nil, apperror.Forbidden("you do not own this mod")
	}

	version, err := s.mods.GetLatestVersion(ctx, modID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/locker: latest version of mod %d: %w", modID, err)
	}

	if err := s.downloads.RecordDownload(ctx, modID); err != nil {
		s.logger.Warn("download count not updated",
			slog.Int64("modID", modID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("mod downloaded",
		slog.Int64("userID", userID),
		slog.Int64("modID", modID),
		slog.String("version", version.Version),
	)
	return version, nil
}

// subscriptionActive refreshes the user's subscription from the provider
// and stores it. When the provider cannot be reached the stored state is
// used instead.
func (s *LockerService) subscriptionActive(ctx context.Context, user *model.User) bool {
	now := s.now()
	if user.StripeSubscriptionID == nil || *user.StripeSubscriptionID == "" {
		return user.SubscriptionActiveAt(now)
	}

	sub, err := s.gateway.Subscription(ctx, *user.StripeSubscriptionID)
	if err != nil {
		if !errors.Is(err, payment.ErrNotConfigured) {
			s.logger.Warn("subscription refresh failed, using stored state",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return user.SubscriptionActiveAt(now)
	}

	if err := s.users.UpdateSubscription(ctx, user.ID, *sub); err != nil {
		s.logger.Warn("subscription state not persisted",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	user.SubscriptionStatus = sub.Status
	user.SubscriptionExpiresAt = sub.ExpiresAt
	return user.SubscriptionActiveAt(now)
}
