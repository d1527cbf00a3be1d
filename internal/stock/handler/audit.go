package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/httputil"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// AuditHandler handles audit trail endpoints
type AuditHandler struct {
	repo   *repository.AuditRepository
	logger *logger.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(repo *repository.AuditRepository, log *logger.Logger) *AuditHandler {
	return &AuditHandler{
		repo:   repo,
		logger: log,
	}
}

// List lists audit entries, optionally filtered by action and time window
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	var from, to *time.Time
	if t, err := time.Parse(time.RFC3339, r.URL.Query().Get("from")); err == nil {
		from = &t
	}
	if t, err := time.Parse(time.RFC3339, r.URL.Query().Get("to")); err == nil {
		to = &t
	}

	entries, total, err := h.repo.List(r.Context(), r.URL.Query().Get("action"), from, to, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, pageMeta(page, perPage, total))
}

// ListByEntity lists the audit trail of one entity
func (h *AuditHandler) ListByEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	entityID := chi.URLParam(r, "entityID")

	page, perPage := pagination(r)

	entries, total, err := h.repo.ListByEntity(r.Context(), entityType, entityID, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, pageMeta(page, perPage, total))
}

func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}
	return page, perPage
}

func pageMeta(page, perPage int, total int64) *httputil.Meta {
	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}
	return &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}
}
