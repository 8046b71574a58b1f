package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/repository"
)

// compile-time check that *DB implements repository.ModRepository
var _ repository.ModRepository = (*DB)(nil)

const modColumns = `id, title, description, price, discount_price, discount_ends_at, thumbnail, category,
	tags, featured, downloads, average_rating, subscription_only, published, created_at, updated_at, deleted_at`

const versionColumns = `id, mod_id, version, file_ref, file_size, changelog, is_latest, released_at`

// availableClause restricts queries to listable mods.
const availableClause = `published = TRUE AND deleted_at IS NULL`

// ListMods returns one page of available mods matching filter, plus the total
// number of matches.
//
// Order is featured first, then newest first, with id as the tiebreaker so
// that pages never overlap for a given filter.
func (db *DB) ListMods(ctx context.Context, filter model.ModFilter) ([]model.Mod, int, error) {
	where := []string{availableClause}
	var args []any

	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)")
		pattern := "%" + strings.ToLower(s) + "%"
		args = append(args, pattern, pattern)
	}
	if filter.Featured != nil {
		where = append(where, "featured = ?")
		args = append(args, *filter.Featured)
	}
	if filter.SubscriptionOnly != nil {
		where = append(where, "subscription_only = ?")
		args = append(args, *filter.SubscriptionOnly)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	countQuery := db.conn.Rebind(`SELECT COUNT(*) FROM mods WHERE ` + whereSQL)
	if err := db.conn.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: counting mods: %w", err)
	}

	listQuery := db.conn.Rebind(`SELECT ` + modColumns + ` FROM mods WHERE ` + whereSQL +
		` ORDER BY featured DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`)
	mods := []model.Mod{}
	if err := db.conn.SelectContext(ctx, &mods, listQuery, append(args, filter.Limit, filter.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: listing mods: %w", err)
	}

	return mods, total, nil
}

// GetMod retrieves a mod by id, including soft-deleted and unpublished ones.
// Callers decide whether an unavailable mod is visible.
func (db *DB) GetMod(ctx context.Context, id int64) (*model.Mod, error) {
	var m model.Mod
	query := db.conn.Rebind(`SELECT ` + modColumns + ` FROM mods WHERE id = ?`)

	if err := db.conn.GetContext(ctx, &m, query, id); err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("mod", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlstore: getting mod %d: %w", id, err)
	}
	return &m, nil
}

// GetModsByIDs returns the mods that exist among ids, in no particular order.
func (db *DB) GetModsByIDs(ctx context.Context, ids []int64) ([]model.Mod, error) {
	mods := []model.Mod{}
	if len(ids) == 0 {
		return mods, nil
	}

	query, args, err := sqlx.In(`SELECT `+modColumns+` FROM mods WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building mods query: %w", err)
	}
	if err := db.conn.SelectContext(ctx, &mods, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: getting mods by id: %w", err)
	}
	return mods, nil
}

// CreateMod inserts a mod and fills in ID and timestamps.
func (db *DB) CreateMod(ctx context.Context, mod *model.Mod) error {
	now := time.Now().UTC()
	mod.CreatedAt = now
	mod.UpdatedAt = now
	if mod.Tags == nil {
		mod.Tags = model.Tags{}
	}

	query := db.conn.Rebind(`
		INSERT INTO mods (title, description, price, discount_price, discount_ends_at, thumbnail, category,
			tags, featured, downloads, average_rating, subscription_only, published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)
		RETURNING id`)

	err := db.conn.GetContext(ctx, &mod.ID, query,
		mod.Title,
		mod.Description,
		mod.Price,
		mod.DiscountPrice,
		mod.DiscountEndsAt,
		mod.Thumbnail,
		string(mod.Category),
		mod.Tags,
		mod.Featured,
		mod.SubscriptionOnly,
		mod.Published,
		mod.CreatedAt,
		mod.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting mod %q: %w", mod.Title, err)
	}
	return nil
}

// UpdateMod saves the editable fields of a mod. Counters and the rating are
// owned by the store and left untouched.
func (db *DB) UpdateMod(ctx context.Context, mod *model.Mod) error {
	mod.UpdatedAt = time.Now().UTC()
	if mod.Tags == nil {
		mod.Tags = model.Tags{}
	}

	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(`
		UPDATE mods SET title = ?, description = ?, price = ?, discount_price = ?, discount_ends_at = ?,
			thumbnail = ?, category = ?, tags = ?, featured = ?, subscription_only = ?, published = ?,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`),
		mod.Title,
		mod.Description,
		mod.Price,
		mod.DiscountPrice,
		mod.DiscountEndsAt,
		mod.Thumbnail,
		string(mod.Category),
		mod.Tags,
		mod.Featured,
		mod.SubscriptionOnly,
		mod.Published,
		mod.UpdatedAt,
		mod.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating mod %d: %w", mod.ID, err)
	}
	return expectAffected(res, "mod", mod.ID)
}

// DeleteMod removes a mod. When purchases reference it the row is retained
// and marked deleted and unpublished instead, so the purchases stay valid.
// Versions cascade on hard delete; cart items are removed either way.
func (db *DB) DeleteMod(ctx context.Context, id int64, at time.Time) (bool, error) {
	retained := false

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var purchases int
		if err := tx.GetContext(ctx, &purchases,
			tx.Rebind(`SELECT COUNT(*) FROM purchases WHERE mod_id = ?`), id); err != nil {
			return fmt.Errorf("counting purchases of mod %d: %w", id, err)
		}

		if purchases == 0 {
			res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mods WHERE id = ?`), id)
			if err != nil {
				return fmt.Errorf("deleting mod %d: %w", id, err)
			}
			return expectAffected(res, "mod", id)
		}

		retained = true
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE mods SET deleted_at = ?, published = FALSE, featured = FALSE, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL`), at.UTC(), at.UTC(), id)
		if err != nil {
			return fmt.Errorf("soft-deleting mod %d: %w", id, err)
		}
		if err := expectAffected(res, "mod", id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cart_items WHERE mod_id = ?`), id); err != nil {
			return fmt.Errorf("removing mod %d from carts: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return false, wrapErr("deleting mod", err)
	}
	return retained, nil
}

// CountModsByCategory counts non-deleted mods per category. Categories with
// no mods are absent from the map.
func (db *DB) CountModsByCategory(ctx context.Context) (map[model.Category]int, error) {
	var rows []struct {
		Category string `db:"category"`
		Count    int    `db:"count"`
	}
	if err := db.conn.SelectContext(ctx, &rows, `
		SELECT category, COUNT(*) AS count FROM mods
		WHERE deleted_at IS NULL
		GROUP BY category`); err != nil {
		return nil, fmt.Errorf("sqlstore: counting mods by category: %w", err)
	}

	counts := make(map[model.Category]int, len(rows))
	for _, r := range rows {
		counts[model.Category(r.Category)] = r.Count
	}
	return counts, nil
}

// IncrementDownloads bumps the download counter by one.
func (db *DB) IncrementDownloads(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		db.conn.Rebind(`UPDATE mods SET downloads = downloads + 1 WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: incrementing downloads of mod %d: %w", id, err)
	}
	return expectAffected(res, "mod", id)
}

// ListSubscriptionMods returns every available subscription-only mod.
func (db *DB) ListSubscriptionMods(ctx context.Context) ([]model.Mod, error) {
	mods := []model.Mod{}
	err := db.conn.SelectContext(ctx, &mods, `SELECT `+modColumns+` FROM mods
		WHERE subscription_only = TRUE AND `+availableClause+`
		ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing subscription mods: %w", err)
	}
	return mods, nil
}

// CreateVersion inserts a release and makes it the only latest version of its
// mod, atomically.
func (db *DB) CreateVersion(ctx context.Context, v *model.ModVersion) error {
	if v.ReleasedAt.IsZero() {
		v.ReleasedAt = time.Now().UTC()
	}
	v.IsLatest = true

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists,
			tx.Rebind(`SELECT COUNT(*) FROM mods WHERE id = ? AND deleted_at IS NULL`), v.ModID); err != nil {
			return fmt.Errorf("checking mod %d: %w", v.ModID, err)
		}
		if exists == 0 {
			return apperror.NotFound("mod", strconv.FormatInt(v.ModID, 10))
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE mod_versions SET is_latest = FALSE WHERE mod_id = ?`), v.ModID); err != nil {
			return fmt.Errorf("clearing latest flag of mod %d: %w", v.ModID, err)
		}

		err := tx.GetContext(ctx, &v.ID, tx.Rebind(`
			INSERT INTO mod_versions (mod_id, version, file_ref, file_size, changelog, is_latest, released_at)
			VALUES (?, ?, ?, ?, ?, TRUE, ?)
			RETURNING id`),
			v.ModID, v.Version, v.FileRef, v.FileSize, v.Changelog, v.ReleasedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("mod version", v.Version)
			}
			return fmt.Errorf("inserting version %q of mod %d: %w", v.Version, v.ModID, err)
		}

		_, err = tx.ExecContext(ctx,
			tx.Rebind(`UPDATE mods SET updated_at = ? WHERE id = ?`), v.ReleasedAt, v.ModID)
		return err
	})
	return wrapErr("creating version", err)
}

// GetVersion retrieves one release of a mod by its label.
func (db *DB) GetVersion(ctx context.Context, modID int64, version string) (*model.ModVersion, error) {
	var v model.ModVersion
	query := db.conn.Rebind(`SELECT ` + versionColumns + ` FROM mod_versions WHERE mod_id = ? AND version = ?`)

	if err := db.conn.GetContext(ctx, &v, query, modID, version); err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("mod version", version)
		}
		return nil, fmt.Errorf("sqlstore: getting version %q of mod %d: %w", version, modID, err)
	}
	return &v, nil
}

// GetLatestVersion returns the release flagged latest.
func (db *DB) GetLatestVersion(ctx context.Context, modID int64) (*model.ModVersion, error) {
	var v model.ModVersion
	query := db.conn.Rebind(`SELECT ` + versionColumns + ` FROM mod_versions WHERE mod_id = ? AND is_latest = TRUE`)

	if err := db.conn.GetContext(ctx, &v, query, modID); err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("latest version of mod", strconv.FormatInt(modID, 10))
		}
		return nil, fmt.Errorf("sqlstore: getting latest version of mod %d: %w", modID, err)
	}
	return &v, nil
}

// ListVersions returns every release of a mod, newest first.
func (db *DB) ListVersions(ctx context.Context, modID int64) ([]model.ModVersion, error) {
	versions := []model.ModVersion{}
	query := db.conn.Rebind(`SELECT ` + versionColumns + ` FROM mod_versions WHERE mod_id = ?
		ORDER BY released_at DESC, id DESC`)

	if err := db.conn.SelectContext(ctx, &versions, query, modID); err != nil {
		return nil, fmt.Errorf("sqlstore: listing versions of mod %d: %w", modID, err)
	}
	return versions, nil
}

// wrapErr prefixes storage failures but passes AppErrors through unchanged so
// the caller still sees NotFound or Conflict.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*apperror.AppError); ok {
		return err
	}
	return fmt.Errorf("sqlstore: %s: %w", op, err)
}
