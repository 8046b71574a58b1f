package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/service"
)

// CatalogHandler serves the public catalog and reviews.
type CatalogHandler struct {
	catalog *service.CatalogService
	reviews *service.ReviewService
	logger  *slog.Logger
}

func NewCatalogHandler(catalog *service.CatalogService, reviews *service.ReviewService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, reviews: reviews, logger: logger}
}

type reviewRequest struct {
	Rating  int    `json:"rating"  validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// HandleList returns one page of mods.
//
// HTTP: GET /api/mods?category=maps&search=rally&featured=true&subscriptionOnly=false&page=2&limit=20
func (h *CatalogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseModFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleCategories returns every category with its mod count.
//
// HTTP: GET /api/mods/categories
func (h *CatalogHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	counts, err := h.catalog.CountsByCategory(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// HandleGet returns one mod with its latest version.
//
// HTTP: GET /api/mods/{id}
func (h *CatalogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	detail, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleVersions lists the releases of a mod.
//
// HTTP: GET /api/mods/{id}/versions
func (h *CatalogHandler) HandleVersions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	versions, err := h.catalog.ListVersions(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// HandleListReviews lists the reviews of a mod.
//
// HTTP: GET /api/mods/{id}/reviews
func (h *CatalogHandler) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	reviews, err := h.reviews.List(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

// HandleReview creates or replaces the caller's review.
//
// HTTP: POST /api/mods/{id}/reviews
// Auth: Required
func (h *CatalogHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	review, err := h.reviews.Submit(r.Context(), userID, id, req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func parseModFilter(r *http.Request) (model.ModFilter, error) {
	q := r.URL.Query()
	filter := model.ModFilter{
		Category: model.Category(q.Get("category")),
		Search:   q.Get("search"),
	}

	var err error
	if filter.Featured, err = queryBool(q.Get("featured"), "featured"); err != nil {
		return filter, err
	}
	if filter.SubscriptionOnly, err = queryBool(q.Get("subscriptionOnly"), "subscriptionOnly"); err != nil {
		return filter, err
	}
	if filter.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func queryBool(raw, field string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperror.ValidationFailed(field, field+" must be true or false")
	}
	return &b, nil
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(field, field+" must be an integer")
	}
	return n, nil
}
