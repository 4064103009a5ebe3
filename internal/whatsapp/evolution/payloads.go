package evolution

import (
	"encoding/json"
	"errors"
	"strings"
)

// Gateway connection states reported by ConnectionState.
const (
	StateOpen       = "open"
	StateClose      = "close"
	StateConnecting = "connecting"
)

// Default webhook events subscribed by SetWebhook.
var DefaultWebhookEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"}

// ConnectionStateResponse tolerates both the nested `instance.state` shape and
// a bare top-level `state`.
type ConnectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
	RawState string `json:"state"`
}

// State returns the effective connection state.
func (r *ConnectionStateResponse) State() string {
	if r == nil {
		return ""
	}
	if s := strings.TrimSpace(r.Instance.State); s != "" {
		return s
	}
	return strings.TrimSpace(r.RawState)
}

// IsOpen reports whether the instance is paired and ready.
func (r *ConnectionStateResponse) IsOpen() bool {
	return r.State() == StateOpen
}

// ConnectResponse carries the pairing material returned by Connect.
type ConnectResponse struct {
	QRCode      json.RawMessage `json:"qrcode,omitempty"`
	Base64      string          `json:"base64,omitempty"`
	Code        string          `json:"code,omitempty"`
	PairingCode string          `json:"pairingCode,omitempty"`
	Count       int             `json:"count,omitempty"`
}

// QRImage returns the best available QR payload, or "" when none was sent.
// Precedence: qrcode.base64, qrcode (string), base64, code.
func (r *ConnectResponse) QRImage() string {
	if r == nil {
		return ""
	}
	if len(r.QRCode) > 0 {
		var nested struct {
			Base64 string `json:"base64"`
			Code   string `json:"code"`
		}
		if err := json.Unmarshal(r.QRCode, &nested); err == nil {
			if nested.Base64 != "" {
				return nested.Base64
			}
			if nested.Code != "" {
				return nested.Code
			}
		}
		var plain string
		if err := json.Unmarshal(r.QRCode, &plain); err == nil && plain != "" {
			return plain
		}
	}
	if r.Base64 != "" {
		return r.Base64
	}
	return r.Code
}

// WebhookConfig describes the callback registration for an instance.
type WebhookConfig struct {
	URL             string   `json:"url"`
	Events          []string `json:"events"`
	WebhookByEvents bool     `json:"webhookByEvents"`
	WebhookBase64   bool     `json:"webhookBase64"`
}

func (w WebhookConfig) validate() error {
	if strings.TrimSpace(w.URL) == "" {
		return errors.New("evolution: webhook url required")
	}
	return nil
}

func (w WebhookConfig) withDefaults() WebhookConfig {
	if len(w.Events) == 0 {
		w.Events = append([]string(nil), DefaultWebhookEvents...)
	}
	return w
}

type webhookEnvelope struct {
	Webhook WebhookConfig `json:"webhook"`
}

// SendTextRequest is the outbound text payload. Number must already be a
// normalized WhatsApp address.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (r SendTextRequest) validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return errors.New("evolution: number required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("evolution: text required")
	}
	return nil
}

// SendTextResponse mirrors the gateway message resource.
type SendTextResponse struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Status           string `json:"status"`
	MessageTimestamp any    `json:"messageTimestamp,omitempty"`
}

// MessageID returns the gateway-assigned message id.
func (r *SendTextResponse) MessageID() string {
	if r == nil {
		return ""
	}
	return r.Key.ID
}

// Profile is the WhatsApp profile bound to an instance.
type Profile struct {
	WUID        string `json:"wuid"`
	Name        string `json:"name"`
	NumberExist bool   `json:"numberExists"`
	Picture     string `json:"picture"`
	Status      any    `json:"status,omitempty"`
}

// InstanceInfo is one entry of FetchInstances. Older gateways nest the fields
// under `instance`; newer ones return them flat.
type InstanceInfo struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		Status       string `json:"status"`
		Owner        string `json:"owner"`
	} `json:"instance"`
	FlatName         string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
	OwnerJID         string `json:"ownerJid"`
}

// Name returns the instance name regardless of response shape.
func (i InstanceInfo) Name() string {
	if i.Instance.InstanceName != "" {
		return i.Instance.InstanceName
	}
	return i.FlatName
}

// Status returns the connection status regardless of response shape.
func (i InstanceInfo) Status() string {
	if i.Instance.Status != "" {
		return i.Instance.Status
	}
	return i.ConnectionStatus
}
