package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/model"
	"github.com/sakif/modmarket/internal/service"
)

// AdminHandler serves catalog management, releases, notifications and
// admin grants. Every route sits behind auth.RequireAdmin.
type AdminHandler struct {
	catalog       *service.CatalogService
	notifications *service.NotificationService
	auth          *service.AuthService
	logger        *slog.Logger
}

func NewAdminHandler(
	catalog *service.CatalogService,
	notifications *service.NotificationService,
	authService *service.AuthService,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{catalog: catalog, notifications: notifications, auth: authService, logger: logger}
}

type modRequest struct {
	Title            string           `json:"title"            validate:"required"`
	Description      string           `json:"description"`
	Price            decimal.Decimal  `json:"price"`
	DiscountPrice    *decimal.Decimal `json:"discountPrice"`
	DiscountEndsAt   *time.Time       `json:"discountEndsAt"`
	Thumbnail        string           `json:"thumbnail"`
	Category         string           `json:"category"         validate:"required"`
	Tags             []string         `json:"tags"`
	Featured         bool             `json:"featured"`
	SubscriptionOnly bool             `json:"subscriptionOnly"`
	Published        *bool            `json:"published"`
}

func (m modRequest) input() service.ModInput {
	published := true
	if m.Published != nil {
		published = *m.Published
	}
	return service.ModInput{
		Title:            m.Title,
		Description:      m.Description,
		Price:            m.Price,
		DiscountPrice:    m.DiscountPrice,
		DiscountEndsAt:   m.DiscountEndsAt,
		Thumbnail:        m.Thumbnail,
		Category:         model.Category(m.Category),
		Tags:             m.Tags,
		Featured:         m.Featured,
		SubscriptionOnly: m.SubscriptionOnly,
		Published:        published,
	}
}

type versionRequest struct {
	Version   string `json:"version"   validate:"required"`
	FileRef   string `json:"fileRef"   validate:"required"`
	FileSize  int64  `json:"fileSize"  validate:"gte=0"`
	Changelog string `json:"changelog"`
	Notify    bool   `json:"notify"`
}

type versionResponse struct {
	Version      *model.ModVersion      `json:"version"`
	Notification *model.NotificationLog `json:"notification,omitempty"`
}

type adminFlagRequest struct {
	IsAdmin *bool `json:"isAdmin" validate:"required"`
}

type notifyRequest struct {
	ModID     int64  `json:"modId"     validate:"required,gt=0"`
	Version   string `json:"version"   validate:"required"`
	Changelog string `json:"changelog"`
}

// HandleCreateMod adds a mod to the catalog. Mods are published unless the
// body says otherwise.
//
// HTTP: POST /api/admin/mods
func (h *AdminHandler) HandleCreateMod(w http.ResponseWriter, r *http.Request) {
	var req modRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	mod, err := h.catalog.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, mod)
}

// HandleUpdateMod replaces the editable fields of a mod.
//
// HTTP: PUT /api/admin/mods/{id}
func (h *AdminHandler) HandleUpdateMod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req modRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	mod, err := h.catalog.Update(r.Context(), id, req.input())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

// HandleDeleteMod removes a mod. A mod somebody bought is only hidden, and
// the response says so.
//
// HTTP: DELETE /api/admin/mods/{id}
func (h *AdminHandler) HandleDeleteMod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	retained, err := h.catalog.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true, "retainedForOwners": retained})
}

// HandleAddVersion publishes a release and, when asked, notifies owners in
// the same request.
//
// HTTP: POST /api/admin/mods/{id}/versions
func (h *AdminHandler) HandleAddVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req versionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	version, err := h.catalog.AddVersion(r.Context(), id, service.VersionInput{
		Version:   req.Version,
		FileRef:   req.FileRef,
		FileSize:  req.FileSize,
		Changelog: req.Changelog,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := versionResponse{Version: version}
	if req.Notify {
		entry, err := h.notifications.Send(r.Context(), id, version.Version, version.Changelog)
		if err != nil {
			// The release exists either way; the admin can resend.
			h.logger.Error("release notification failed",
				slog.Int64("modID", id),
				slog.String("version", version.Version),
				slog.String("error", err.Error()),
			)
		}
		resp.Notification = entry
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleSetAdmin grants or revokes admin rights.
//
// HTTP: PUT /api/admin/users/{id}/admin {"isAdmin": true}
func (h *AdminHandler) HandleSetAdmin(w http.ResponseWriter, r *http.Request) {
	targetID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req adminFlagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	callerID, _ := auth.UserIDFromContext(r.Context())
	if err := h.auth.SetAdmin(r.Context(), callerID, targetID, *req.IsAdmin); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": targetID, "isAdmin": *req.IsAdmin})
}

// HandleSendNotification announces a release to everyone entitled to it.
//
// HTTP: POST /api/admin/notifications/send
func (h *AdminHandler) HandleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	entry, err := h.notifications.Send(r.Context(), req.ModID, req.Version, req.Changelog)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleListNotifications returns the most recent notification batches.
//
// HTTP: GET /api/admin/notifications?limit=50
func (h *AdminHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	logs, err := h.notifications.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
