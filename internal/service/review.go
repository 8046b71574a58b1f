package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

const (
	MinRating           = 1
	MaxRating           = 5
	MaxReviewCommentLen = 2000
)

// cacheInvalidator drops cached catalog entries for a mod.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, modID int64)
}

// ReviewService lets owners rate the mods they bought.
type ReviewService struct {
	reviews   repository.ReviewRepository
	purchases repository.PurchaseRepository
	mods      repository.ModRepository
	catalog   cacheInvalidator
	logger    *slog.Logger
	now       func() time.Time
}

func NewReviewService(
	reviews repository.ReviewRepository,
	purchases repository.PurchaseRepository,
	mods repository.ModRepository,
	catalog cacheInvalidator,
	logger *slog.Logger,
) *ReviewService {
	return &ReviewService{
		reviews:   reviews,
		purchases: purchases,
		mods:      mods,
		catalog:   catalog,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit creates or replaces the user's review of a mod they own and
// refreshes the mod's average rating.
func (s *ReviewService) Submit(ctx context.Context, userID, modID int64, rating int, comment string) (*model.Review, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, apperror.ValidationFailed("rating",
			fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > MaxReviewCommentLen {
		return nil, apperror.ValidationFailed("comment",
			fmt.Sprintf("comment must be %d characters or less", MaxReviewCommentLen))
	}

	if _, err := s.mods.GetMod(ctx, modID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/review: fetching mod %d: %w", modID, err)
	}

	owned, err := s.purchases.HasPurchased(ctx, userID, modID)
	if err != nil {
		return nil, fmt.Errorf("service/review: checking purchase of mod %d: %w", modID, err)
	}
	if !owned {
		return nil, apperror.Forbidden("only owners can review a mod")
	}

	now := s.now().UTC()
	review := &model.Review{
		UserID:    userID,
		ModID:     modID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.reviews.UpsertReview(ctx, review); err != nil {
		return nil, fmt.Errorf("service/review: saving review of mod %d: %w", modID, err)
	}

	if s.catalog != nil {
		s.catalog.Invalidate(ctx, modID)
	}
	s.logger.Info("review saved",
		slog.Int64("userID", userID),
		slog.Int64("modID", modID),
		slog.Int("rating", rating),
	)
	return review, nil
}

// List returns the reviews of a mod.
func (s *ReviewService) List(ctx context.Context, modID int64) ([]model.Review, error) {
	reviews, err := s.reviews.ListReviews(ctx, modID)
	if err != nil {
		return nil, fmt.Errorf("service/review: listing reviews of mod %d: %w", modID, err)
	}
	return reviews, nil
}
