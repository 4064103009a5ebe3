package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	observemetrics "github.com/wolfman30/loyalty-whatsapp/internal/observability/metrics"
	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp/evolution"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

// Gateway is the subset of the Evolution client the manager drives.
type Gateway interface {
	ConnectionState(ctx context.Context, instance string) (*evolution.ConnectionStateResponse, error)
	Connect(ctx context.Context, instance string) (*evolution.ConnectResponse, error)
	SetWebhook(ctx context.Context, instance string, cfg evolution.WebhookConfig) error
	FetchProfile(ctx context.Context, instance string) (*evolution.Profile, error)
	FindInstance(ctx context.Context, instance string) (*evolution.InstanceInfo, error)
}

// ManagerConfig configures a Manager. Zero durations fall back to defaults.
type ManagerConfig struct {
	Instance       string
	WebhookURL     string
	StateTimeout   time.Duration
	ConnectTimeout time.Duration
	ProfileTimeout time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	Logger         *logging.Logger
	Metrics        *observemetrics.WhatsAppMetrics
}

// Manager owns the single connection state of the gateway instance. The
// connection poller and the webhook ingestor mutate it through the same lock.
type Manager struct {
	gateway        Gateway
	instance       string
	webhookURL     string
	stateTimeout   time.Duration
	connectTimeout time.Duration
	profileTimeout time.Duration
	pollInterval   time.Duration
	pollAttempts   int
	logger         *logging.Logger
	metrics        *observemetrics.WhatsAppMetrics
	now            func() time.Time

	// initMu serializes Initialize calls; mu guards everything below.
	initMu     sync.Mutex
	mu         sync.RWMutex
	state      connectionState
	generation uint64
	cancelPoll context.CancelFunc
	pollers    sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewManager builds a Manager in the disconnected state.
func NewManager(gateway Gateway, cfg ManagerConfig) *Manager {
	if gateway == nil {
		panic("whatsapp: gateway cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		gateway:        gateway,
		instance:       strings.TrimSpace(cfg.Instance),
		webhookURL:     strings.TrimSpace(cfg.WebhookURL),
		stateTimeout:   durationOr(cfg.StateTimeout, 10*time.Second),
		connectTimeout: durationOr(cfg.ConnectTimeout, 15*time.Second),
		profileTimeout: durationOr(cfg.ProfileTimeout, 8*time.Second),
		pollInterval:   durationOr(cfg.PollInterval, 3*time.Second),
		pollAttempts:   cfg.PollAttempts,
		logger:         logger,
		metrics:        cfg.Metrics,
		now:            time.Now,
	}
	if m.pollAttempts <= 0 {
		m.pollAttempts = 40
	}
	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())
	m.state.set(StatusDisconnected, "Disconnected", "", m.now())
	m.metrics.ObserveStatus(string(StatusDisconnected))
	return m
}

// Initialize evaluates the gateway connection. It returns true once the
// synchronous part succeeded: the instance is already open, or a QR code was
// obtained and the poller started. It never waits for the pairing itself.
func (m *Manager) Initialize(ctx context.Context) bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.logger.Info("whatsapp initialize", "instance", m.instance)

	// A connected instance stays connected until the gateway answers.
	m.mu.Lock()
	m.stopPollerLocked()
	if m.state.status != StatusConnected {
		m.transitionLocked(StatusConnecting, "Checking existing connection...", "")
	}
	m.mu.Unlock()

	stateCtx, cancel := context.WithTimeout(ctx, m.stateTimeout)
	resp, err := m.gateway.ConnectionState(stateCtx, m.instance)
	cancel()
	if err != nil && !errors.Is(err, evolution.ErrInstanceNotFound) {
		m.logger.Error("whatsapp state query failed", "instance", m.instance, "error", err)
		m.transition(StatusError, "Error: "+err.Error(), "")
		return false
	}
	if errors.Is(err, evolution.ErrInstanceNotFound) {
		m.describeInstance(ctx)
	}

	if resp.IsOpen() {
		m.transition(StatusConnected, "Connected and ready to send messages", "")
		m.logger.Info("whatsapp connected", "instance", m.instance)
		m.afterConnect(ctx)
		return true
	}

	m.logger.Info("whatsapp instance not open", "instance", m.instance, "state", resp.State())
	m.transition(StatusDisconnected, "The instance is not connected to WhatsApp", "")
	return m.reconnect(ctx)
}

// describeInstance logs what the gateway's instance list knows about an
// instance whose state endpoint answered 404.
func (m *Manager) describeInstance(ctx context.Context) {
	findCtx, cancel := context.WithTimeout(ctx, m.stateTimeout)
	defer cancel()
	info, err := m.gateway.FindInstance(findCtx, m.instance)
	if err != nil {
		m.logger.Warn("whatsapp instance not found on gateway", "instance", m.instance, "error", err)
		return
	}
	m.logger.Warn("whatsapp instance listed but state unavailable",
		"instance", m.instance,
		"gateway_status", info.Status(),
		"owner", info.Instance.Owner+info.OwnerJID,
	)
}

func (m *Manager) reconnect(ctx context.Context) bool {
	m.transition(StatusConnecting, "Requesting a QR code to reconnect...", "")

	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	resp, err := m.gateway.Connect(connectCtx, m.instance)
	cancel()
	if err != nil {
		m.logger.Error("whatsapp reconnect failed", "instance", m.instance, "error", err)
		m.transition(StatusError, "Error requesting reconnection: "+err.Error(), "")
		return false
	}
	qr := resp.QRImage()
	if qr == "" {
		m.logger.Error("whatsapp reconnect returned no qr", "instance", m.instance)
		m.transition(StatusError, "Error requesting reconnection: gateway returned no QR code", "")
		return false
	}

	m.mu.Lock()
	m.transitionLocked(StatusQRReady, "Scan the QR code to reconnect", asDataURI(qr))
	gen := m.startPollerLocked()
	m.mu.Unlock()

	m.logger.Info("whatsapp qr ready", "instance", m.instance, "generation", gen)
	return true
}

// Disconnect forces the disconnected state and supersedes any running poller.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopPollerLocked()
	m.transitionLocked(StatusDisconnected, "Disconnected", "")
	m.mu.Unlock()
	m.logger.Info("whatsapp disconnected", "instance", m.instance)
}

// Status returns a snapshot of the connection state. It never blocks on I/O.
func (m *Manager) Status() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.snapshot(m.instance)
}

// IsConnected reports whether the instance is ready to send.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.status == StatusConnected
}

// InstanceName returns the gateway instance this manager drives.
func (m *Manager) InstanceName() string {
	return m.instance
}

// Close stops any running poller and waits for it to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopPollerLocked()
	m.mu.Unlock()
	m.rootCancel()
	m.pollers.Wait()
}

// afterConnect runs the non-critical post-connect steps.
func (m *Manager) afterConnect(ctx context.Context) {
	if err := m.registerWebhook(ctx); err != nil {
		m.logger.Warn("whatsapp webhook registration failed", "instance", m.instance, "error", err)
	}
	if err := m.probeProfile(ctx); err != nil {
		m.logger.Warn("whatsapp profile probe failed; instance still reported open", "instance", m.instance, "error", err)
	}
}

func (m *Manager) registerWebhook(ctx context.Context) error {
	if m.webhookURL == "" {
		return nil
	}
	hookCtx, cancel := context.WithTimeout(ctx, m.stateTimeout)
	defer cancel()
	err := m.gateway.SetWebhook(hookCtx, m.instance, evolution.WebhookConfig{
		URL:             m.webhookURL,
		Events:          evolution.DefaultWebhookEvents,
		WebhookByEvents: true,
		WebhookBase64:   false,
	})
	if err != nil {
		return fmt.Errorf("whatsapp: set webhook: %w", err)
	}
	m.logger.Info("whatsapp webhook registered", "instance", m.instance, "url", m.webhookURL)
	return nil
}

func (m *Manager) probeProfile(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.profileTimeout)
	defer cancel()
	profile, err := m.gateway.FetchProfile(probeCtx, m.instance)
	if err != nil {
		return fmt.Errorf("whatsapp: fetch profile: %w", err)
	}
	m.logger.Info("whatsapp profile", "instance", m.instance, "name", profile.Name)
	return nil
}

func (m *Manager) transition(status Status, message, qrCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(status, message, qrCode)
}

func (m *Manager) transitionLocked(status Status, message, qrCode string) {
	m.state.set(status, message, qrCode, m.now())
	m.metrics.ObserveStatus(string(status))
}

func asDataURI(qr string) string {
	if strings.HasPrefix(qr, "data:image") {
		return qr
	}
	return "data:image/png;base64," + qr
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
