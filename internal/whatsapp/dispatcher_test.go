package whatsapp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp/evolution"
)

type fakeConn struct {
	mu        sync.Mutex
	connected bool
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) InstanceName() string { return "sistema-puntos-2025" }

func (f *fakeConn) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

type fakeSender struct {
	requests []evolution.SendTextRequest
	failOn   map[int]error
	onSend   func(call int)
}

func (f *fakeSender) SendText(ctx context.Context, instance string, req evolution.SendTextRequest) (*evolution.SendTextResponse, error) {
	f.requests = append(f.requests, req)
	call := len(f.requests)
	if f.onSend != nil {
		f.onSend(call)
	}
	if err := f.failOn[call]; err != nil {
		return nil, err
	}
	resp := &evolution.SendTextResponse{}
	resp.Key.ID = "MSG" + string(rune('0'+call))
	return resp, nil
}

type sleepRecorder struct {
	pauses []time.Duration
	calls  []int
	sender *fakeSender
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.pauses = append(s.pauses, d)
	s.calls = append(s.calls, len(s.sender.requests))
	return nil
}

func newTestDispatcher(conn *fakeConn, sender *fakeSender) (*Dispatcher, *sleepRecorder) {
	rec := &sleepRecorder{sender: sender}
	d := NewDispatcher(conn, sender, nil)
	d.sleep = rec.sleep
	d.newBatchID = func() string { return "batch-1" }
	return d, rec
}

func TestSendBulkSecondRecipientFails(t *testing.T) {
	conn := &fakeConn{connected: true}
	sender := &fakeSender{failOn: map[int]error{2: errors.New("gateway 500")}}
	d, rec := newTestDispatcher(conn, sender)

	recipients := []Recipient{
		{ID: 1, Name: "Ana", Phone: "1122334455"},
		{ID: 2, Name: "Bruno", Phone: "91133445566"},
		{ID: 3, Name: "Carla", Phone: "5491144556677"},
	}
	outcomes, err := d.SendBulk(context.Background(), recipients, "¡Hola [NOMBRE]! 2x1 en café")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	wantSuccess := []bool{true, false, true}
	for i, out := range outcomes {
		if out.Recipient.ID != recipients[i].ID {
			t.Fatalf("outcome %d out of order: %+v", i, out.Recipient)
		}
		if out.Success != wantSuccess[i] {
			t.Fatalf("outcome %d success=%v", i, out.Success)
		}
		if out.BatchID != "batch-1" || out.Timestamp.IsZero() {
			t.Fatalf("outcome %d missing batch/timestamp: %+v", i, out)
		}
	}
	if outcomes[1].Error != "gateway 500" || outcomes[1].MessageID != "" {
		t.Fatalf("unexpected failure outcome %+v", outcomes[1])
	}
	if outcomes[0].MessageID != "MSG1" || outcomes[2].MessageID != "MSG3" {
		t.Fatalf("unexpected message ids %q %q", outcomes[0].MessageID, outcomes[2].MessageID)
	}

	if len(sender.requests) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sender.requests))
	}
	if sender.requests[0].Text != "¡Hola Ana! 2x1 en café" || sender.requests[1].Text != "¡Hola Bruno! 2x1 en café" {
		t.Fatalf("unexpected texts %q %q", sender.requests[0].Text, sender.requests[1].Text)
	}
	for i, req := range sender.requests {
		if req.Number != outcomes[i].Address || !strings.HasSuffix(req.Number, "@s.whatsapp.net") {
			t.Fatalf("unexpected number %q", req.Number)
		}
	}
	if sender.requests[0].Number != "5491122334455@s.whatsapp.net" {
		t.Fatalf("unexpected normalized number %q", sender.requests[0].Number)
	}

	if len(rec.pauses) != 2 || rec.pauses[0] != 2*time.Second {
		t.Fatalf("expected two 2s pauses, got %v", rec.pauses)
	}
	if rec.calls[0] != 1 || rec.calls[1] != 2 {
		t.Fatalf("pauses must fall between sends 1->2 and 2->3, got %v", rec.calls)
	}

	sent, failed := Summarize(outcomes)
	if sent != 2 || failed != 1 {
		t.Fatalf("unexpected summary %d/%d", sent, failed)
	}
}

func TestSendBulkNotConnected(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(&fakeConn{}, sender)

	outcomes, err := d.SendBulk(context.Background(), []Recipient{{Name: "Ana", Phone: "1122334455"}}, "hola")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if outcomes != nil || len(sender.requests) != 0 {
		t.Fatalf("expected no sends, got %d", len(sender.requests))
	}
}

func TestSendBulkEmptyRecipients(t *testing.T) {
	d, rec := newTestDispatcher(&fakeConn{connected: true}, &fakeSender{})
	outcomes, err := d.SendBulk(context.Background(), nil, "hola")
	if err != nil || len(outcomes) != 0 || len(rec.pauses) != 0 {
		t.Fatalf("unexpected result %v %v %v", outcomes, err, rec.pauses)
	}
}

func TestSendBulkMissingPhone(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(&fakeConn{connected: true}, sender)

	outcomes, _ := d.SendBulk(context.Background(), []Recipient{{ID: 9, Name: "Sin Tel"}, {ID: 10, Name: "Ana", Phone: "1122334455"}}, "hola")
	if outcomes[0].Success || outcomes[0].Error == "" {
		t.Fatalf("expected failure for missing phone, got %+v", outcomes[0])
	}
	if !outcomes[1].Success || len(sender.requests) != 1 {
		t.Fatalf("expected second recipient sent, got %+v", outcomes[1])
	}
}

func TestSendBulkConnectionDropsMidBatch(t *testing.T) {
	conn := &fakeConn{connected: true}
	sender := &fakeSender{}
	sender.onSend = func(call int) {
		if call == 1 {
			conn.set(false)
		}
	}
	d, _ := newTestDispatcher(conn, sender)

	outcomes, err := d.SendBulk(context.Background(), []Recipient{
		{ID: 1, Phone: "1122334455"},
		{ID: 2, Phone: "1122334466"},
	}, "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcomes[0].Success || outcomes[1].Success || outcomes[1].Error != ErrNotConnected.Error() {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if len(sender.requests) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.requests))
	}
}

func TestSendBulkCancelledMarksRemainingFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{}
	sender.onSend = func(call int) {
		if call == 1 {
			cancel()
		}
	}
	d, rec := newTestDispatcher(&fakeConn{connected: true}, sender)

	outcomes, err := d.SendBulk(ctx, []Recipient{
		{ID: 1, Phone: "1122334455"},
		{ID: 2, Phone: "1122334466"},
		{ID: 3, Phone: "1122334477"},
	}, "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 3 || len(sender.requests) != 1 {
		t.Fatalf("expected 3 outcomes and 1 send, got %d/%d", len(outcomes), len(sender.requests))
	}
	for _, out := range outcomes[1:] {
		if out.Success || !strings.Contains(out.Error, "cancelled") {
			t.Fatalf("expected cancelled failure, got %+v", out)
		}
	}
	if len(rec.pauses) != 0 {
		t.Fatalf("expected no pauses after cancellation, got %v", rec.pauses)
	}
}

func TestSendMessage(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDispatcher(&fakeConn{connected: true}, sender)

	out, err := d.SendMessage(context.Background(), "11 2233 4455", "Mensaje de prueba")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Success || out.MessageID != "MSG1" || out.Recipient.Phone != "11 2233 4455" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Address != "5491122334455@s.whatsapp.net" {
		t.Fatalf("unexpected address %q", out.Address)
	}
}

func TestSendMessageCapturesFailure(t *testing.T) {
	sender := &fakeSender{failOn: map[int]error{1: errors.New("number not on whatsapp")}}
	d, _ := newTestDispatcher(&fakeConn{connected: true}, sender)

	out, err := d.SendMessage(context.Background(), "1122334455", "hola")
	if err != nil {
		t.Fatalf("send failures must not be returned: %v", err)
	}
	if out.Success || out.Error != "number not on whatsapp" || out.Recipient.Phone != "1122334455" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSendMessageNotConnected(t *testing.T) {
	d, _ := newTestDispatcher(&fakeConn{}, &fakeSender{})
	if _, err := d.SendMessage(context.Background(), "1122334455", "hola"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDispatcherOptions(t *testing.T) {
	d := NewDispatcher(&fakeConn{}, &fakeSender{}, nil).
		WithDelay(500 * time.Millisecond).
		WithSendTimeout(3 * time.Second).
		WithAddressFormat(AddressFormat{CountryCode: "52", MobilePrefix: "1"})
	if d.delay != 500*time.Millisecond || d.sendTimeout != 3*time.Second {
		t.Fatalf("unexpected options %v %v", d.delay, d.sendTimeout)
	}
	if d.format.Domain != "@s.whatsapp.net" || d.format.CountryCode != "52" {
		t.Fatalf("unexpected format %+v", d.format)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
