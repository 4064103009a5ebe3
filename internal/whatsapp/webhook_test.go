package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp/evolution"
)

func qrReadyManager(t *testing.T) *Manager {
	t.Helper()
	gw := &fakeGateway{state: evolution.StateClose, qr: "QQ"}
	m := newTestManager(t, gw, ManagerConfig{PollInterval: time.Hour})
	if !m.Initialize(context.Background()) {
		t.Fatalf("initialize failed: %+v", m.Status())
	}
	return m
}

func TestIngestWebhookOpenShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "nested data", body: `{"event":"connection.update","instance":"sistema-puntos-2025","data":{"state":"open","statusReason":200}}`},
		{name: "flat", body: `{"event":"connection.update","state":"open"}`},
		{name: "event inside data", body: `{"data":{"event":"connection.update","state":"open"}}`},
		{name: "upper case event", body: `{"event":"CONNECTION_UPDATE","data":{"state":"open"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := qrReadyManager(t)
			if action := m.IngestWebhook([]byte(tc.body)); action != WebhookConnected {
				t.Fatalf("unexpected action %q", action)
			}
			snap := m.Status()
			if !snap.IsConnected || snap.QRCode != "" || snap.Status != StatusConnected {
				t.Fatalf("unexpected state %+v", snap)
			}
		})
	}
}

func TestIngestWebhookClose(t *testing.T) {
	gw := &fakeGateway{state: evolution.StateOpen}
	m := newTestManager(t, gw, ManagerConfig{})
	m.Initialize(context.Background())

	if action := m.IngestWebhook([]byte(`{"event":"connection.update","data":{"state":"close"}}`)); action != WebhookDisconnected {
		t.Fatalf("unexpected action %q", action)
	}
	if snap := m.Status(); snap.IsConnected || snap.Status != StatusDisconnected {
		t.Fatalf("unexpected state %+v", snap)
	}
}

func TestIngestWebhookIgnoresUnrelatedEvents(t *testing.T) {
	bodies := []string{
		`{"event":"messages.upsert","data":[{"key":{"id":"1"}}]}`,
		`{"event":"connection.update","data":{"state":"connecting"}}`,
		`{"event":"connection.update","instance":"otra-instancia","data":{"state":"close"}}`,
		`{"event":"qrcode.updated","data":{}}`,
		`not json`,
		``,
	}
	m := qrReadyManager(t)
	before := m.Status()
	for _, body := range bodies {
		if action := m.IngestWebhook([]byte(body)); action != WebhookIgnored {
			t.Fatalf("body %q: unexpected action %q", body, action)
		}
	}
	after := m.Status()
	if after.Status != before.Status || after.QRCode != before.QRCode || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("state changed: before %+v after %+v", before, after)
	}
}

func TestIngestWebhookRefreshesQRCode(t *testing.T) {
	m := qrReadyManager(t)
	action := m.IngestWebhook([]byte(`{"event":"QRCODE_UPDATED","data":{"qrcode":{"base64":"NEWQR"}}}`))
	if action != WebhookQRRefreshed {
		t.Fatalf("unexpected action %q", action)
	}
	if got := m.Status().QRCode; got != "data:image/png;base64,NEWQR" {
		t.Fatalf("unexpected qr %q", got)
	}
}

func TestIngestWebhookQRCodeIgnoredWhenConnected(t *testing.T) {
	gw := &fakeGateway{state: evolution.StateOpen}
	m := newTestManager(t, gw, ManagerConfig{})
	m.Initialize(context.Background())

	if action := m.IngestWebhook([]byte(`{"event":"qrcode.updated","data":{"qrcode":{"base64":"X"}}}`)); action != WebhookIgnored {
		t.Fatalf("unexpected action %q", action)
	}
	if snap := m.Status(); snap.QRCode != "" || !snap.IsConnected {
		t.Fatalf("unexpected state %+v", snap)
	}
}

func TestNormalizeEvent(t *testing.T) {
	if got := normalizeEvent(" CONNECTION_UPDATE "); got != "connection.update" {
		t.Fatalf("unexpected event %q", got)
	}
	if got := metricEventName("send.message"); got != "other" {
		t.Fatalf("unexpected metric label %q", got)
	}
}
