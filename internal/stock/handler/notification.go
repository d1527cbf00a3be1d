package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/httputil"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
)

// NotificationHandler handles expiry notification endpoints
type NotificationHandler struct {
	batches *service.BatchService
	logger  *logger.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(batches *service.BatchService, log *logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		batches: batches,
		logger:  log,
	}
}

// List lists open expiry notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.batches.ListNotifications(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, notifications)
}

// Acknowledge marks a notification as seen
func (h *NotificationHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.batches.AcknowledgeNotification(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
