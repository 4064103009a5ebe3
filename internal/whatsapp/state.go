package whatsapp

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the gateway connection status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQRReady      Status = "qr-ready"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusTimeout      Status = "timeout"
)

// AllStatuses lists every Status, in lifecycle order.
var AllStatuses = []Status{
	StatusDisconnected,
	StatusConnecting,
	StatusQRReady,
	StatusConnected,
	StatusError,
	StatusTimeout,
}

// ErrNotConnected rejects sends while the instance is not connected.
var ErrNotConnected = errors.New("whatsapp: not connected")

// ConnectionState is a point-in-time copy of the process-wide connection state.
type ConnectionState struct {
	Status       Status    `json:"status"`
	Message      string    `json:"message"`
	IsConnected  bool      `json:"isConnected"`
	QRCode       string    `json:"qrCode"`
	InstanceName string    `json:"instanceName"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MarshalJSON writes qrCode as null when no code is pending.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	type plain ConnectionState
	out := struct {
		plain
		QRCode *string `json:"qrCode"`
	}{plain: plain(s)}
	if s.QRCode != "" {
		qr := s.QRCode
		out.QRCode = &qr
	}
	return json.Marshal(out)
}

// connectionState is the mutable record guarded by Manager.mu. IsConnected is
// derived from status and qrCode only survives while in qr-ready.
type connectionState struct {
	status    Status
	message   string
	qrCode    string
	updatedAt time.Time
}

func (s *connectionState) set(status Status, message, qrCode string, now time.Time) {
	s.status = status
	s.message = message
	if status == StatusQRReady {
		s.qrCode = qrCode
	} else {
		s.qrCode = ""
	}
	s.updatedAt = now
}

func (s connectionState) snapshot(instance string) ConnectionState {
	return ConnectionState{
		Status:       s.status,
		Message:      s.message,
		IsConnected:  s.status == StatusConnected,
		QRCode:       s.qrCode,
		InstanceName: instance,
		UpdatedAt:    s.updatedAt,
	}
}

// StatusNames returns AllStatuses as strings, for metric label sets.
func StatusNames() []string {
	out := make([]string, len(AllStatuses))
	for i, s := range AllStatuses {
		out[i] = string(s)
	}
	return out
}
