package handlers

import (
	"io"
	"net/http"
)

type webhookAck struct {
	Status string `json:"status"`
}

// Webhook accepts gateway events. It always acknowledges with 200 so the
// gateway does not retry events this service cannot use.
func (h *WhatsAppHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxWebhookBytes))
	if err != nil {
		h.logger.Warn("whatsapp webhook body unreadable", "error", err)
		writeJSON(w, http.StatusOK, webhookAck{Status: "ok"})
		return
	}
	action := h.manager.IngestWebhook(body)
	h.logger.Debug("whatsapp webhook handled", "action", action, "bytes", len(body))
	writeJSON(w, http.StatusOK, webhookAck{Status: "ok"})
}
