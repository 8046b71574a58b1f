package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/cache"
	"github.com/sakif/modmarket/internal/events"
	"github.com/sakif/modmarket/internal/model"
)

func TestReviewSubmit(t *testing.T) {
	db := newTestStore(t)
	c := cache.NewMemory()
	catalog := NewCatalogService(db, c, time.Minute, events.Nop{}, discardLogger())
	svc := NewReviewService(db, db, db, catalog, discardLogger())
	ctx := context.Background()

	owner := seedUser(t, db, "owner")
	other := seedUser(t, db, "other")
	mod := seedMod(t, db, "Rated", "3.00")
	_, err := db.RecordPurchases(ctx, []model.Purchase{{
		UserID: owner.ID, ModID: mod.ID, TransactionID: "tx_r", PricePaid: mod.Price, PurchasedAt: time.Now(),
	}})
	require.NoError(t, err)

	// Warm the cache so the review has something to invalidate.
	_, err = catalog.Get(ctx, mod.ID)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, owner.ID, mod.ID, 0, "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
	_, err = svc.Submit(ctx, other.ID, mod.ID, 5, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	_, err = svc.Submit(ctx, owner.ID, 404, 5, "")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.Submit(ctx, owner.ID, mod.ID, 2, "meh")
	require.NoError(t, err)
	review, err := svc.Submit(ctx, owner.ID, mod.ID, 4, "  grew on me ")
	require.NoError(t, err)
	assert.Equal(t, "grew on me", review.Comment)

	reviews, err := svc.List(ctx, mod.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 4, reviews[0].Rating)

	detail, err := catalog.Get(ctx, mod.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, detail.AverageRating, 0.001)
}
