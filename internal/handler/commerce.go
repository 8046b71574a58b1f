package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/modmarket/internal/apperror"
	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/service"
)

// webhookMaxBytes caps provider webhook payloads.
const webhookMaxBytes = 64 << 10

// CommerceHandler serves the cart, checkout, locker and downloads.
type CommerceHandler struct {
	carts     *service.CartService
	purchases *service.PurchaseService
	locker    *service.LockerService
	logger    *slog.Logger
}

func NewCommerceHandler(
	carts *service.CartService,
	purchases *service.PurchaseService,
	locker *service.LockerService,
	logger *slog.Logger,
) *CommerceHandler {
	return &CommerceHandler{carts: carts, purchases: purchases, locker: locker, logger: logger}
}

type cartRequest struct {
	ModID int64 `json:"modId" validate:"required,gt=0"`
}

type intentRequest struct {
	ModID int64 `json:"modId" validate:"gte=0"`
}

type completeRequest struct {
	TransactionID string  `json:"transactionId" validate:"required,max=255"`
	Items         []int64 `json:"items"         validate:"max=100,dive,gt=0"`
}

// HandleGetCart returns the caller's cart.
//
// HTTP: GET /api/cart
func (h *CommerceHandler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	cart, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// HandleAddToCart adds a mod. Adding it twice is harmless.
//
// HTTP: POST /api/cart {"modId": 3}
func (h *CommerceHandler) HandleAddToCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	cart, err := h.carts.Add(r.Context(), userID, req.ModID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// HandleRemoveFromCart removes one mod.
//
// HTTP: DELETE /api/cart/{modId}
func (h *CommerceHandler) HandleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	modID, err := pathID(r, "modId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	cart, err := h.carts.Remove(r.Context(), userID, modID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// HandleClearCart empties the cart.
//
// HTTP: DELETE /api/cart
func (h *CommerceHandler) HandleClearCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	if err := h.carts.Clear(r.Context(), userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateIntent opens a payment for one mod or, with no modId, the cart.
//
// HTTP: POST /api/purchase/intent {"modId": 3}
func (h *CommerceHandler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	result, err := h.purchases.CreateIntent(r.Context(), userID, req.ModID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleComplete confirms a payment and records the purchases.
//
// HTTP: POST /api/purchase/complete {"transactionId": "pi_123", "items": [3]}
func (h *CommerceHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	result, err := h.purchases.Complete(r.Context(), userID, req.TransactionID, req.Items)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleListPurchases returns the caller's order history.
//
// HTTP: GET /api/purchases
func (h *CommerceHandler) HandleListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	purchases, err := h.purchases.ListPurchases(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, purchases)
}

// HandleWebhook receives payment provider events. The body is read raw
// because the signature covers the exact bytes.
//
// HTTP: POST /api/payments/webhook
func (h *CommerceHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, webhookMaxBytes))
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("body", "webhook payload too large"))
		return
	}

	if err := h.purchases.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// HandleLocker returns the caller's downloadable mods. Anonymous callers get
// an empty locker.
//
// HTTP: GET /api/mod-locker
// Auth: Optional
func (h *CommerceHandler) HandleLocker(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	locker, err := h.locker.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, locker)
}

// HandleDownload authorizes a download and returns the file reference of
// the latest version.
//
// HTTP: GET /api/mods/{id}/download
func (h *CommerceHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	modID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())

	version, err := h.locker.Download(r.Context(), userID, modID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}
