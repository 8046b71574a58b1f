package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the fixed set of catalog sections.
type Category string

const (
	CategoryVehicles Category = "vehicles"
	CategoryMaps     Category = "maps"
	CategoryParts    Category = "parts"
	CategorySkins    Category = "skins"
	CategorySounds   Category = "sounds"
	CategoryScripts  Category = "scripts"
	CategoryOther    Category = "other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryVehicles,
	CategoryMaps,
	CategoryParts,
	CategorySkins,
	CategorySounds,
	CategoryScripts,
	CategoryOther,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Mod is a purchasable catalog item.
//
// Prices are decimals, never floats. DiscountPrice is optional and, when set,
// must not exceed Price. DiscountEndsAt bounds the discount; nil means the
// discount does not expire.
//
// A mod with purchases is never hard-deleted: DeletedAt is set instead so that
// historical purchases keep a valid reference.
type Mod struct {
	ID               int64               `json:"id"                       db:"id"`
	Title            string              `json:"title"                    db:"title"`
	Description      string              `json:"description"              db:"description"`
	Price            decimal.Decimal     `json:"price"                    db:"price"`
	DiscountPrice    decimal.NullDecimal `json:"discountPrice"            db:"discount_price"`
	DiscountEndsAt   *time.Time          `json:"discountEndsAt,omitempty" db:"discount_ends_at"`
	Thumbnail        string              `json:"thumbnail"                db:"thumbnail"`
	Category         Category            `json:"category"                 db:"category"`
	Tags             Tags                `json:"tags"                     db:"tags"`
	Featured         bool                `json:"featured"                 db:"featured"`
	Downloads        int64               `json:"downloads"                db:"downloads"`
	AverageRating    float64             `json:"averageRating"            db:"average_rating"`
	SubscriptionOnly bool                `json:"subscriptionOnly"         db:"subscription_only"`
	Published        bool                `json:"published"                db:"published"`
	CreatedAt        time.Time           `json:"createdAt"                db:"created_at"`
	UpdatedAt        time.Time           `json:"updatedAt"                db:"updated_at"`
	DeletedAt        *time.Time          `json:"-"                        db:"deleted_at"`
}

// EffectivePrice is the price charged at checkout at the given instant.
func (m *Mod) EffectivePrice(now time.Time) decimal.Decimal {
	if m.DiscountPrice.Valid {
		if m.DiscountEndsAt == nil || now.Before(*m.DiscountEndsAt) {
			return m.DiscountPrice.Decimal
		}
	}
	return m.Price
}

// Available reports whether the mod can be listed, added to a cart or bought.
func (m *Mod) Available() bool {
	return m.Published && m.DeletedAt == nil
}

// ModVersion is one released file of a mod. Exactly one version per mod has
// IsLatest set.
type ModVersion struct {
	ID         int64     `json:"id"         db:"id"`
	ModID      int64     `json:"modId"      db:"mod_id"`
	Version    string    `json:"version"    db:"version"`
	FileRef    string    `json:"fileRef"    db:"file_ref"`
	FileSize   int64     `json:"fileSize"   db:"file_size"`
	Changelog  string    `json:"changelog"  db:"changelog"`
	IsLatest   bool      `json:"isLatest"   db:"is_latest"`
	ReleasedAt time.Time `json:"releasedAt" db:"released_at"`
}

// ModDetail is a mod with its current release.
type ModDetail struct {
	Mod
	LatestVersion *ModVersion `json:"latestVersion"`
}

// ModFilter narrows a catalog listing. Nil pointers mean "no filter".
type ModFilter struct {
	Category         Category
	Search           string
	Featured         *bool
	SubscriptionOnly *bool
	Page             int
	Limit            int
}

// Offset is the row offset for the filter's page (pages start at 1).
func (f ModFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Pagination describes a page of results.
type Pagination struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// ModPage is one page of a catalog listing.
type ModPage struct {
	Mods       []Mod      `json:"mods"`
	Pagination Pagination `json:"pagination"`
}

// Review is a user's rating of a mod they own.
type Review struct {
	ID        int64     `json:"id"        db:"id"`
	UserID    int64     `json:"userId"    db:"user_id"`
	ModID     int64     `json:"modId"     db:"mod_id"`
	Rating    int       `json:"rating"    db:"rating"`
	Comment   string    `json:"comment"   db:"comment"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
