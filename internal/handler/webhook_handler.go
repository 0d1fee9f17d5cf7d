package handler

import (
	"errors"
	"net/http"

	"github.com/concertlabs/concert/internal/webhook"
)

// WebhookHandler handles webhook registration and dead letter endpoints.
type WebhookHandler struct {
	mgr *webhook.Manager
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(mgr *webhook.Manager) *WebhookHandler {
	return &WebhookHandler{mgr: mgr}
}

// CreateWebhook handles POST /api/v1/webhooks
func (h *WebhookHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL         string   `json:"url"`
		Secret      string   `json:"secret"`
		Events      []string `json:"events"`
		Description string   `json:"description,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "url and secret are required")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event type is required")
		return
	}

	events := make([]webhook.EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = webhook.EventType(e)
	}
	reg, err := h.mgr.Register(req.URL, req.Secret, events, req.Description)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidEventType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ListWebhooks handles GET /api/v1/webhooks
func (h *WebhookHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.List())
}

// GetWebhook handles GET /api/v1/webhooks/{id}
func (h *WebhookHandler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.mgr.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// DeleteWebhook handles DELETE /api/v1/webhooks/{id}
func (h *WebhookHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.Unregister(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ActivateWebhook handles POST /api/v1/webhooks/{id}/activate
func (h *WebhookHandler) ActivateWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.Activate(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// DeactivateWebhook handles POST /api/v1/webhooks/{id}/deactivate
func (h *WebhookHandler) DeactivateWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.Deactivate(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

// GetStats handles GET /api/v1/webhooks/stats
func (h *WebhookHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Stats())
}

// ListDeliveries handles GET /api/v1/webhooks/deliveries
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Deliveries())
}

// ListDeadLetters handles GET /api/v1/webhooks/dead-letters
func (h *WebhookHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.DeadLetters())
}

// ClearDeadLetters handles DELETE /api/v1/webhooks/dead-letters
func (h *WebhookHandler) ClearDeadLetters(w http.ResponseWriter, r *http.Request) {
	cleared := h.mgr.ClearDeadLetters()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// RetryDeadLetter handles POST /api/v1/webhooks/dead-letters/{id}/retry
func (h *WebhookHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if !h.mgr.RetryDeadLetter(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "dead letter or registration not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redelivery scheduled"})
}
