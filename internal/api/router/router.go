package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/loyalty-whatsapp/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/loyalty-whatsapp/internal/http/middleware"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	WhatsApp       *handlers.WhatsAppHandler
	MetricsHandler http.Handler

	// WebhookLimiter throttles the public gateway webhook per IP (optional).
	WebhookLimiter *httpmiddleware.RateLimiter

	// Operator endpoints require a bearer JWT when a secret is set.
	OperatorJWTSecret string
	OperatorJWTIssuer string

	CORS httpmiddleware.CORSPolicy
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.WhatsApp == nil {
		panic("router: whatsapp handler cannot be nil")
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.CORS.Enabled() {
		r.Use(cfg.CORS.Handler)
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (gateway webhook, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.WhatsApp.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		webhook := public.With()
		if cfg.WebhookLimiter != nil {
			webhook = public.With(cfg.WebhookLimiter.Middleware)
		}
		webhook.Post("/webhook/whatsapp", cfg.WhatsApp.Webhook)
	})

	// Operator endpoints
	r.Route("/whatsapp", func(op chi.Router) {
		if cfg.OperatorJWTSecret != "" {
			op.Use(httpmiddleware.OperatorJWT(cfg.OperatorJWTSecret, cfg.OperatorJWTIssuer))
		}
		op.Post("/connect", cfg.WhatsApp.Connect)
		op.Get("/status", cfg.WhatsApp.Status)
		op.Post("/disconnect", cfg.WhatsApp.Disconnect)
		op.Post("/send", cfg.WhatsApp.SendPromotion)
		op.Post("/test", cfg.WhatsApp.SendTest)
		op.Get("/history", cfg.WhatsApp.History)
	})

	return r
}
