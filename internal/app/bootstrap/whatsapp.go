package bootstrap

import (
	"fmt"
	"strings"

	appconfig "github.com/wolfman30/loyalty-whatsapp/internal/config"
	observemetrics "github.com/wolfman30/loyalty-whatsapp/internal/observability/metrics"
	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp"
	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp/evolution"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

// WhatsApp bundles the gateway client with the connection manager and the
// dispatcher built on it.
type WhatsApp struct {
	Client     *evolution.Client
	Manager    *whatsapp.Manager
	Dispatcher *whatsapp.Dispatcher
}

// BuildWhatsApp wires the Evolution client, connection manager and dispatcher
// from configuration.
func BuildWhatsApp(cfg *appconfig.Config, logger *logging.Logger, metrics *observemetrics.WhatsAppMetrics) (*WhatsApp, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.EvolutionAPIURL) == "" || strings.TrimSpace(cfg.EvolutionAPIKey) == "" {
		return nil, fmt.Errorf("bootstrap: EVOLUTION_API_URL and EVOLUTION_API_KEY are required")
	}

	client, err := evolution.New(evolution.Config{
		BaseURL:    cfg.EvolutionAPIURL,
		APIKey:     cfg.EvolutionAPIKey,
		Timeout:    cfg.WhatsAppConnectTimeout,
		MaxRetries: cfg.EvolutionMaxRetries,
		Logger:     logger.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: evolution client: %w", err)
	}

	manager := whatsapp.NewManager(client, whatsapp.ManagerConfig{
		Instance:       cfg.EvolutionInstanceName,
		WebhookURL:     cfg.EvolutionWebhookURL,
		StateTimeout:   cfg.WhatsAppStateTimeout,
		ConnectTimeout: cfg.WhatsAppConnectTimeout,
		ProfileTimeout: cfg.WhatsAppProfileTimeout,
		PollInterval:   cfg.WhatsAppPollInterval,
		PollAttempts:   cfg.WhatsAppPollAttempts,
		Logger:         logger,
		Metrics:        metrics,
	})

	dispatcher := whatsapp.NewDispatcher(manager, client, logger).
		WithDelay(cfg.WhatsAppMessageDelay).
		WithSendTimeout(cfg.WhatsAppSendTimeout).
		WithAddressFormat(whatsapp.AddressFormat{
			CountryCode:  cfg.WhatsAppCountryCode,
			MobilePrefix: cfg.WhatsAppMobilePrefix,
		}).
		WithMetrics(metrics)

	logger.Info("whatsapp gateway configured",
		"instance", manager.InstanceName(),
		"webhook", cfg.EvolutionWebhookURL != "",
		"message_delay", cfg.WhatsAppMessageDelay.String(),
	)
	return &WhatsApp{Client: client, Manager: manager, Dispatcher: dispatcher}, nil
}
