package whatsapp

import (
	"encoding/json"
	"strings"
)

const (
	eventConnectionUpdate = "connection.update"
	eventQRCodeUpdated    = "qrcode.updated"
)

// Webhook actions, reported to metrics and returned by HandleWebhook.
const (
	WebhookConnected    = "connected"
	WebhookDisconnected = "disconnected"
	WebhookQRRefreshed  = "qr_refreshed"
	WebhookIgnored      = "ignored"
)

// WebhookEvent is the inbound gateway event. The gateway sends the payload
// either flat or nested under "data", so both are decoded.
type WebhookEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	State    string          `json:"state"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type webhookData struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	State    string `json:"state"`
	QRCode   struct {
		Base64 string `json:"base64"`
	} `json:"qrcode"`
}

// IngestWebhook decodes and applies a raw event body. Malformed or unknown
// events are logged and ignored.
func (m *Manager) IngestWebhook(raw []byte) string {
	var evt WebhookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		m.logger.Warn("whatsapp webhook ignored: invalid json", "error", err)
		m.metrics.ObserveWebhook("invalid", WebhookIgnored)
		return WebhookIgnored
	}
	return m.HandleWebhook(evt)
}

// HandleWebhook applies a decoded event and returns the action taken.
func (m *Manager) HandleWebhook(evt WebhookEvent) string {
	var data webhookData
	if len(evt.Data) > 0 {
		// data may be an array for message events; those decode to zero values.
		_ = json.Unmarshal(evt.Data, &data)
	}

	name := normalizeEvent(firstNonEmpty(evt.Event, data.Event))
	instance := firstNonEmpty(data.Instance, evt.Instance)
	state := firstNonEmpty(data.State, evt.State)

	action := m.applyWebhook(name, instance, state, data.QRCode.Base64)
	m.metrics.ObserveWebhook(metricEventName(name), action)
	m.logger.Debug("whatsapp webhook received", "event", name, "state", state, "action", action)
	return action
}

func (m *Manager) applyWebhook(name, instance, state, qr string) string {
	if instance != "" && m.instance != "" && instance != m.instance {
		return WebhookIgnored
	}

	switch name {
	case eventConnectionUpdate:
		switch state {
		case "open":
			m.mu.Lock()
			m.stopPollerLocked()
			m.transitionLocked(StatusConnected, "Connected via webhook", "")
			m.mu.Unlock()
			m.logger.Info("whatsapp connected via webhook", "instance", m.instance)
			return WebhookConnected
		case "close":
			m.mu.Lock()
			m.stopPollerLocked()
			m.transitionLocked(StatusDisconnected, "Disconnected", "")
			m.mu.Unlock()
			m.logger.Info("whatsapp disconnected via webhook", "instance", m.instance)
			return WebhookDisconnected
		}
	case eventQRCodeUpdated:
		if qr == "" {
			return WebhookIgnored
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state.status != StatusQRReady {
			return WebhookIgnored
		}
		m.transitionLocked(StatusQRReady, m.state.message, asDataURI(qr))
		return WebhookQRRefreshed
	}
	return WebhookIgnored
}

// normalizeEvent maps "CONNECTION_UPDATE" and "connection.update" to the same name.
func normalizeEvent(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", ".")
}

// metricEventName keeps the event label bounded.
func metricEventName(name string) string {
	switch name {
	case eventConnectionUpdate, eventQRCodeUpdated, "messages.upsert":
		return name
	case "":
		return "unknown"
	}
	return "other"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
