package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/httputil"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// PurchaseHandler handles purchase endpoints
type PurchaseHandler struct {
	service *service.PurchaseService
	logger  *logger.Logger
}

// NewPurchaseHandler creates a new purchase handler
func NewPurchaseHandler(svc *service.PurchaseService, log *logger.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		service: svc,
		logger:  log,
	}
}

// Create creates a purchase
func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePurchaseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.CreatePurchase(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Get gets a purchase with its lines
func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.GetPurchase(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// SupplierLedger shows a supplier's balance with its recent movements
func (h *PurchaseHandler) SupplierLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	ledger, err := h.service.GetSupplierLedger(r.Context(), id, limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, ledger)
}

// Return reverses a completed purchase
func (h *PurchaseHandler) Return(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	purchase, err := h.service.ReturnPurchase(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, purchase)
}
