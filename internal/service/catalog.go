// Package service contains the business logic layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository interfaces, never *sqlstore.DB, so tests can run
// them against an in-memory store or fakes and main.go decides the wiring.
// They return apperror values; the handler turns those into status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/cache"
	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/metrics"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
	"github.com/sakif/modmarket/internal/tracing"
)

// Catalog limits.
const (
	MaxTitleLength     = 200
	MaxTags            = 20
	MaxTagLength       = 40
	MaxVersionLength   = 50
	MaxChangelogLength = 10000
	DefaultListLimit   = 20
	MaxListLimit       = 100
)

// ModInput carries the editable fields of a mod.
type ModInput struct {
	Title            string
	Description      string
	Price            decimal.Decimal
	DiscountPrice    *decimal.Decimal
	DiscountEndsAt   *time.Time
	Thumbnail        string
	Category         model.Category
	Tags             []string
	Featured         bool
	SubscriptionOnly bool
	Published        bool
}

// VersionInput describes a new release.
type VersionInput struct {
	Version   string
	FileRef   string
	FileSize  int64
	Changelog string
}

// CategoryCount is one row of the category overview.
type CategoryCount struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

// CatalogService handles browsing and administration of mods.
type CatalogService struct {
	mods     repository.ModRepository
	cache    cache.Cache
	cacheTTL time.Duration
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewCatalogService creates a CatalogService. Get and CountsByCategory read
// through c; every write drops the keys it affects.
func NewCatalogService(
	mods repository.ModRepository,
	c cache.Cache,
	cacheTTL time.Duration,
	publisher events.Publisher,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		mods:     mods,
		cache:    c,
		cacheTTL: cacheTTL,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// List returns one page of available mods.
func (s *CatalogService) List(ctx context.Context, filter model.ModFilter) (*model.ModPage, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.List")
	defer span.End()

	if filter.Category != "" && !filter.Category.Valid() {
		return nil, apperror.ValidationFailed("category", fmt.Sprintf("unknown category %q", filter.Category))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}

	mods, total, err := s.mods.ListMods(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: listing mods: %w", err)
	}

	return &model.ModPage{
		Mods: mods,
		Pagination: model.Pagination{
			Total:    total,
			Page:     filter.Page,
			PageSize: filter.Limit,
		},
	}, nil
}

// Get returns an available mod with its latest release.
func (s *CatalogService) Get(ctx context.Context, id int64) (*model.ModDetail, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.Get")
	defer span.End()

	key := cache.ModKey(id)
	var cached model.ModDetail
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	mod, err := s.availableMod(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &model.ModDetail{Mod: *mod}
	latest, err := s.mods.GetLatestVersion(ctx, id)
	switch {
	case err == nil:
		detail.LatestVersion = latest
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/catalog: latest version of mod %d: %w", id, err)
	}

	s.cacheSet(ctx, key, detail)
	return detail, nil
}

// Create validates and stores a new mod.
func (s *CatalogService) Create(ctx context.Context, in ModInput) (*model.Mod, error) {
	mod := &model.Mod{}
	if err := applyModInput(mod, in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	mod.CreatedAt = now
	mod.UpdatedAt = now

	if err := s.mods.CreateMod(ctx, mod); err != nil {
		return nil, fmt.Errorf("service/catalog: creating mod %q: %w", mod.Title, err)
	}

	s.invalidate(ctx, cache.CategoryCountsKey)
	s.logger.Info("mod created",
		slog.Int64("modID", mod.ID),
		slog.String("title", mod.Title),
		slog.String("category", string(mod.Category)),
	)
	return mod, nil
}

// Update replaces the editable fields of a mod that has not been deleted.
func (s *CatalogService) Update(ctx context.Context, id int64, in ModInput) (*model.Mod, error) {
	mod, err := s.mods.GetMod(ctx, id)
	if err != nil {
		return nil, s.wrap("fetching mod", id, err)
	}
	if mod.DeletedAt != nil {
		return nil, apperror.NotFound("mod", strconv.FormatInt(id, 10))
	}

	if err := applyModInput(mod, in); err != nil {
		return nil, err
	}
	mod.UpdatedAt = s.now().UTC()

	if err := s.mods.UpdateMod(ctx, mod); err != nil {
		return nil, s.wrap("updating mod", id, err)
	}

	s.invalidate(ctx, cache.ModKey(id), cache.CategoryCountsKey)
	s.logger.Info("mod updated", slog.Int64("modID", id))
	return mod, nil
}

// Delete removes a mod. retained is true when purchases exist and the row was
// kept as a soft delete.
func (s *CatalogService) Delete(ctx context.Context, id int64) (retained bool, err error) {
	retained, err = s.mods.DeleteMod(ctx, id, s.now())
	if err != nil {
		return false, s.wrap("deleting mod", id, err)
	}

	s.invalidate(ctx, cache.ModKey(id), cache.CategoryCountsKey)
	s.logger.Info("mod deleted", slog.Int64("modID", id), slog.Bool("retained", retained))
	return retained, nil
}

// CountsByCategory returns every category with its number of non-deleted
// mods, zeros included, in display order.
func (s *CatalogService) CountsByCategory(ctx context.Context) ([]CategoryCount, error) {
	var cached []CategoryCount
	if s.cacheGet(ctx, cache.CategoryCountsKey, &cached) {
		return cached, nil
	}

	counts, err := s.mods.CountModsByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: counting categories: %w", err)
	}

	out := make([]CategoryCount, 0, len(model.Categories))
	for _, c := range model.Categories {
		out = append(out, CategoryCount{Category: c, Count: counts[c]})
	}

	s.cacheSet(ctx, cache.CategoryCountsKey, out)
	return out, nil
}

// AddVersion publishes a new release and makes it the latest.
func (s *CatalogService) AddVersion(ctx context.Context, modID int64, in VersionInput) (*model.ModVersion, error) {
	in.Version = strings.TrimSpace(in.Version)
	in.FileRef = strings.TrimSpace(in.FileRef)

	switch {
	case in.Version == "":
		return nil, apperror.ValidationFailed("version", "version is required")
	case len(in.Version) > MaxVersionLength:
		return nil, apperror.ValidationFailed("version",
			fmt.Sprintf("version must be %d characters or less", MaxVersionLength))
	case in.FileRef == "":
		return nil, apperror.ValidationFailed("fileRef", "file reference is required")
	case in.FileSize < 0:
		return nil, apperror.ValidationFailed("fileSize", "file size must not be negative")
	case len(in.Changelog) > MaxChangelogLength:
		return nil, apperror.ValidationFailed("changelog",
			fmt.Sprintf("changelog must be %d characters or less", MaxChangelogLength))
	}

	v := &model.ModVersion{
		ModID:      modID,
		Version:    in.Version,
		FileRef:    in.FileRef,
		FileSize:   in.FileSize,
		Changelog:  in.Changelog,
		ReleasedAt: s.now().UTC(),
	}
	if err := s.mods.CreateVersion(ctx, v); err != nil {
		return nil, s.wrap("adding version", modID, err)
	}

	s.invalidate(ctx, cache.ModKey(modID))
	s.publish(ctx, events.NewModVersionReleased(modID, v.Version))
	s.logger.Info("mod version released",
		slog.Int64("modID", modID),
		slog.String("version", v.Version),
	)
	return v, nil
}

// ListVersions returns every release of an available mod, newest first.
func (s *CatalogService) ListVersions(ctx context.Context, modID int64) ([]model.ModVersion, error) {
	if _, err := s.availableMod(ctx, modID); err != nil {
		return nil, err
	}

	versions, err := s.mods.ListVersions(ctx, modID)
	if err != nil {
		return nil, s.wrap("listing versions", modID, err)
	}
	return versions, nil
}

// RecordDownload bumps the download counter of a mod.
func (s *CatalogService) RecordDownload(ctx context.Context, modID int64) error {
	if err := s.mods.IncrementDownloads(ctx, modID); err != nil {
		return s.wrap("recording download", modID, err)
	}
	metrics.DownloadsTotal.Inc()
	s.invalidate(ctx, cache.ModKey(modID))
	return nil
}

// Invalidate drops the cached detail of a mod. Used by writers outside the
// catalog (reviews) that change what Get returns.
func (s *CatalogService) Invalidate(ctx context.Context, modID int64) {
	s.invalidate(ctx, cache.ModKey(modID))
}

func (s *CatalogService) availableMod(ctx context.Context, id int64) (*model.Mod, error) {
	mod, err := s.mods.GetMod(ctx, id)
	if err != nil {
		return nil, s.wrap("fetching mod", id, err)
	}
	if !mod.Available() {
		return nil, apperror.NotFound("mod", strconv.FormatInt(id, 10))
	}
	return mod, nil
}

// applyModInput validates in and copies it onto mod.
func applyModInput(mod *model.Mod, in ModInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return apperror.ValidationFailed("title", "title is required")
	}
	if len(title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if in.Price.IsNegative() {
		return apperror.ValidationFailed("price", "price must not be negative")
	}
	if in.DiscountPrice != nil {
		if in.DiscountPrice.IsNegative() {
			return apperror.ValidationFailed("discountPrice", "discount price must not be negative")
		}
		if in.DiscountPrice.GreaterThan(in.Price) {
			return apperror.ValidationFailed("discountPrice", "discount price must not exceed the price")
		}
	}
	if !in.Category.Valid() {
		return apperror.ValidationFailed("category", fmt.Sprintf("unknown category %q", in.Category))
	}
	if len(in.Tags) > MaxTags {
		return apperror.ValidationFailed("tags", fmt.Sprintf("at most %d tags are allowed", MaxTags))
	}

	tags := make(model.Tags, 0, len(in.Tags))
	for _, tag := range in.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > MaxTagLength {
			return apperror.ValidationFailed("tags",
				fmt.Sprintf("tags must be %d characters or less", MaxTagLength))
		}
		tags = append(tags, tag)
	}

	mod.Title = title
	mod.Description = strings.TrimSpace(in.Description)
	mod.Price = in.Price
	mod.DiscountPrice = decimal.NullDecimal{}
	mod.DiscountEndsAt = nil
	if in.DiscountPrice != nil {
		mod.DiscountPrice = decimal.NewNullDecimal(*in.DiscountPrice)
		mod.DiscountEndsAt = in.DiscountEndsAt
	}
	mod.Thumbnail = strings.TrimSpace(in.Thumbnail)
	mod.Category = in.Category
	mod.Tags = tags
	mod.Featured = in.Featured
	mod.SubscriptionOnly = in.SubscriptionOnly
	mod.Published = in.Published
	return nil
}

// wrap passes AppErrors through and prefixes everything else.
func (s *CatalogService) wrap(op string, id int64, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("service/catalog: %s %d: %w", op, id, err)
}

// === CACHE ===
// A cache failure never fails the request; the database stays the source
// of truth.

func (s *CatalogService) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		return false
	}
	if hit {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	}
	return hit
}

func (s *CatalogService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *CatalogService) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CatalogService) publish(ctx context.Context, event events.Event) {
	publishEvent(ctx, s.events, s.logger, event)
}

// publishEvent sends event and logs a failure. Events are emitted after the
// state change they describe is committed, so a broker outage never undoes it.
func publishEvent(ctx context.Context, publisher events.Publisher, logger *slog.Logger, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("event publish failed",
			slog.String("type", event.Type()),
			slog.String("key", event.Key()),
			slog.String("error", err.Error()),
		)
	}
}
