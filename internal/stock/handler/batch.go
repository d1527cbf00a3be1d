package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/pharmadesk/pharmadesk-backend/pkg/httputil"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// BatchHandler handles batch and allocation-preview endpoints
type BatchHandler struct {
	batches   *service.BatchService
	allocator *service.Allocator
	logger    *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batches *service.BatchService, allocator *service.Allocator, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		batches:   batches,
		allocator: allocator,
		logger:    log,
	}
}

// ListByProduct lists a product's batches with the aggregate total
func (h *BatchHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	stock, err := h.batches.GetProductStock(r.Context(), productID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stock)
}

// PreviewAllocation shows the FEFO plan a sale of the given quantity would
// draw, without reserving anything.
func (h *BatchHandler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")

	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity <= 0 {
		httputil.Error(w, errors.BadRequest("quantity must be a positive integer"))
		return
	}

	plan, err := h.allocator.SelectBatchesForSale(r.Context(), productID, quantity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}

// Get gets a batch by ID
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := h.batches.GetBatch(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

type disposeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Dispose zeroes a batch with a recorded reason
func (h *BatchHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req disposeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.batches.DisposeBatch(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// Delete removes an empty batch
func (h *BatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.batches.DeleteBatch(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
