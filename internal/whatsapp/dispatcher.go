package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	observemetrics "github.com/wolfman30/loyalty-whatsapp/internal/observability/metrics"
	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp/evolution"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

var tracer = otel.Tracer("loyalty.internal.whatsapp")

// Sender delivers a single text message through the gateway.
type Sender interface {
	SendText(ctx context.Context, instance string, req evolution.SendTextRequest) (*evolution.SendTextResponse, error)
}

// ConnectionChecker exposes the connected precondition for dispatch.
type ConnectionChecker interface {
	IsConnected() bool
	InstanceName() string
}

// Recipient is a caller-supplied message target.
type Recipient struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// DispatchOutcome records the result of one send attempt.
type DispatchOutcome struct {
	BatchID   string    `json:"batchId,omitempty"`
	Recipient Recipient `json:"recipient"`
	Address   string    `json:"address,omitempty"`
	Message   string    `json:"message"`
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher sends templated messages one recipient at a time, pausing
// between consecutive sends.
type Dispatcher struct {
	conn        ConnectionChecker
	sender      Sender
	logger      *logging.Logger
	metrics     *observemetrics.WhatsAppMetrics
	format      AddressFormat
	delay       time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	newBatchID  func() string
}

// NewDispatcher builds a Dispatcher with a 2s pacing delay.
func NewDispatcher(conn ConnectionChecker, sender Sender, logger *logging.Logger) *Dispatcher {
	if conn == nil {
		panic("whatsapp: connection checker cannot be nil")
	}
	if sender == nil {
		panic("whatsapp: sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		conn:        conn,
		sender:      sender,
		logger:      logger,
		format:      DefaultAddressFormat,
		delay:       2 * time.Second,
		sendTimeout: 10 * time.Second,
		now:         time.Now,
		sleep:       sleepContext,
		newBatchID:  func() string { return uuid.NewString() },
	}
}

// WithDelay overrides the pause between consecutive sends.
func (d *Dispatcher) WithDelay(delay time.Duration) *Dispatcher {
	if delay >= 0 {
		d.delay = delay
	}
	return d
}

// WithSendTimeout bounds each gateway send call.
func (d *Dispatcher) WithSendTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.sendTimeout = timeout
	}
	return d
}

// WithAddressFormat overrides the phone normalization rules.
func (d *Dispatcher) WithAddressFormat(format AddressFormat) *Dispatcher {
	d.format = format.WithDefaults()
	return d
}

// WithMetrics records outbound results and bulk durations.
func (d *Dispatcher) WithMetrics(m *observemetrics.WhatsAppMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// SendBulk personalizes template for each recipient and sends in input order.
// Individual failures are captured in the outcomes; the only error is
// ErrNotConnected, returned before anything is sent. If ctx is cancelled the
// remaining recipients are reported as failed without being attempted.
func (d *Dispatcher) SendBulk(ctx context.Context, recipients []Recipient, template string) ([]DispatchOutcome, error) {
	if !d.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	batchID := d.newBatchID()
	ctx, span := tracer.Start(ctx, "whatsapp.send_bulk")
	defer span.End()
	span.SetAttributes(
		attribute.String("whatsapp.batch_id", batchID),
		attribute.Int("whatsapp.recipients", len(recipients)),
	)

	started := d.now()
	logger := d.logger.With("batch_id", batchID, "instance", d.conn.InstanceName())
	logger.Info("whatsapp bulk dispatch started", "recipients", len(recipients))

	outcomes := make([]DispatchOutcome, 0, len(recipients))
	for i, r := range recipients {
		if i > 0 && ctx.Err() == nil {
			if err := d.sleep(ctx, d.delay); err != nil {
				logger.Warn("whatsapp bulk dispatch pause interrupted", "error", err)
			}
		}

		text := Personalize(template, r.Name)
		var out DispatchOutcome
		if err := ctx.Err(); err != nil {
			out = d.failed(r, "", text, fmt.Errorf("whatsapp: dispatch cancelled: %w", err))
		} else {
			out = d.send(ctx, r, text)
		}
		out.BatchID = batchID
		outcomes = append(outcomes, out)

		if !out.Success {
			logger.Warn("whatsapp bulk send failed", "recipient_id", r.ID, "to", out.Address, "error", out.Error)
		}
	}

	sent, failed := Summarize(outcomes)
	elapsed := d.now().Sub(started)
	d.metrics.ObserveBulkDuration(elapsed.Seconds())
	span.SetAttributes(attribute.Int("whatsapp.sent", sent), attribute.Int("whatsapp.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d sends failed", failed, len(outcomes)))
	}
	logger.Info("whatsapp bulk dispatch finished", "sent", sent, "failed", failed, "elapsed", elapsed.String())
	return outcomes, nil
}

// SendMessage sends text to a single phone number. Send failures are
// captured in the outcome; only ErrNotConnected is returned as an error.
func (d *Dispatcher) SendMessage(ctx context.Context, phone, text string) (DispatchOutcome, error) {
	if !d.conn.IsConnected() {
		return DispatchOutcome{}, ErrNotConnected
	}
	out := d.send(ctx, Recipient{Phone: phone}, text)
	if !out.Success {
		d.logger.Warn("whatsapp send failed", "to", out.Address, "error", out.Error)
	}
	return out, nil
}

func (d *Dispatcher) send(ctx context.Context, r Recipient, text string) DispatchOutcome {
	if strings.TrimSpace(r.Phone) == "" {
		return d.failed(r, "", text, errors.New("whatsapp: recipient has no phone number"))
	}
	address := d.format.Format(r.Phone)

	// The connection can drop mid-batch; later recipients fail without a send.
	if !d.conn.IsConnected() {
		return d.failed(r, address, text, ErrNotConnected)
	}

	ctx, span := tracer.Start(ctx, "whatsapp.send_text")
	defer span.End()
	span.SetAttributes(attribute.String("whatsapp.to", address))

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	resp, err := d.sender.SendText(sendCtx, d.conn.InstanceName(), evolution.SendTextRequest{
		Number: address,
		Text:   text,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.failed(r, address, text, err)
	}

	d.metrics.ObserveOutbound(true)
	return DispatchOutcome{
		Recipient: r,
		Address:   address,
		Message:   text,
		Success:   true,
		MessageID: resp.MessageID(),
		Timestamp: d.now(),
	}
}

func (d *Dispatcher) failed(r Recipient, address, text string, err error) DispatchOutcome {
	d.metrics.ObserveOutbound(false)
	return DispatchOutcome{
		Recipient: r,
		Address:   address,
		Message:   text,
		Success:   false,
		Error:     err.Error(),
		Timestamp: d.now(),
	}
}

// Summarize counts successful and failed outcomes.
func Summarize(outcomes []DispatchOutcome) (sent, failed int) {
	for _, o := range outcomes {
		if o.Success {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
