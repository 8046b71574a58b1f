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
	"github.com/sakif/modmarket/internal/repository"
)

// MaxCheckoutItems caps a cart and a single checkout. The mods and prices of
// a payment travel in one provider metadata value, which is length-limited.
const MaxCheckoutItems = 20

// CartService manages the per-user shopping cart.
type CartService struct {
	carts  repository.CartRepository
	mods   repository.ModRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewCartService(carts repository.CartRepository, mods repository.ModRepository, logger *slog.Logger) *CartService {
	return &CartService{
		carts:  carts,
		mods:   mods,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the user's cart with current prices. Lines whose mod is no
// longer available are kept but excluded from the total.
func (s *CartService) Get(ctx context.Context, userID int64) (*model.Cart, error) {
	items, err := s.carts.ListCartItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/cart: listing cart of user %d: %w", userID, err)
	}

	mods, err := loadMods(ctx, s.mods, cartModIDs(items))
	if err != nil {
		return nil, fmt.Errorf("service/cart: loading mods for user %d: %w", userID, err)
	}

	return model.NewCart(items, mods, s.now()), nil
}

// Add puts a mod in the cart. Adding a mod already in the cart is a no-op; a
// full cart rejects new mods.
func (s *CartService) Add(ctx context.Context, userID, modID int64) (*model.Cart, error) {
	mod, err := s.mods.GetMod(ctx, modID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/cart: fetching mod %d: %w", modID, err)
	}
	if !mod.Available() {
		return nil, apperror.NotFound("mod", strconv.FormatInt(modID, 10))
	}
	if mod.SubscriptionOnly {
		return nil, apperror.ValidationFailed("modId", "mod is included with a subscription")
	}

	items, err := s.carts.ListCartItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/cart: listing cart of user %d: %w", userID, err)
	}
	if len(items) >= MaxCheckoutItems && !inCart(items, modID) {
		return nil, apperror.ValidationFailed("modId",
			fmt.Sprintf("cart holds at most %d mods", MaxCheckoutItems))
	}

	if _, err := s.carts.AddCartItem(ctx, userID, modID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("service/cart: adding mod %d for user %d: %w", modID, userID, err)
	}

	s.logger.Debug("cart item added", slog.Int64("userID", userID), slog.Int64("modID", modID))
	return s.Get(ctx, userID)
}

// Remove takes a mod out of the cart. NotFound when it is not there.
func (s *CartService) Remove(ctx context.Context, userID, modID int64) (*model.Cart, error) {
	if err := s.carts.RemoveCartItem(ctx, userID, modID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/cart: removing mod %d for user %d: %w", modID, userID, err)
	}
	return s.Get(ctx, userID)
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	if err := s.carts.ClearCart(ctx, userID); err != nil {
		return fmt.Errorf("service/cart: clearing cart of user %d: %w", userID, err)
	}
	return nil
}

func cartModIDs(items []model.CartItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ModID)
	}
	return ids
}

func inCart(items []model.CartItem, modID int64) bool {
	for _, item := range items {
		if item.ModID == modID {
			return true
		}
	}
	return false
}

// loadMods fetches mods by id into a map. Missing ids are simply absent.
func loadMods(ctx context.Context, repo repository.ModRepository, ids []int64) (map[int64]*model.Mod, error) {
	out := make(map[int64]*model.Mod, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	mods, err := repo.GetModsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range mods {
		out[mods[i].ID] = &mods[i]
	}
	return out, nil
}
