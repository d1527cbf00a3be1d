package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/httputil"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// SaleHandler handles sale endpoints
type SaleHandler struct {
	service *service.SaleService
	logger  *logger.Logger
}

// NewSaleHandler creates a new sale handler
func NewSaleHandler(svc *service.SaleService, log *logger.Logger) *SaleHandler {
	return &SaleHandler{
		service: svc,
		logger:  log,
	}
}

// Create creates a sale
func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSaleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.CreateSale(r.Context(), &req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Get gets a sale with its lines
func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Return reverses a completed sale
func (h *SaleHandler) Return(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sale, err := h.service.ReturnSale(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sale)
}
