package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "EVOLUTION_INSTANCE_NAME", "WHATSAPP_POLL_INTERVAL", "WHATSAPP_POLL_ATTEMPTS", "WHATSAPP_MESSAGE_DELAY", "WHATSAPP_AUTO_CONNECT"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "3000" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.EvolutionInstanceName != "sistema-puntos-2025" {
		t.Fatalf("expected default instance name, got %s", cfg.EvolutionInstanceName)
	}
	if cfg.WhatsAppPollInterval != 3*time.Second || cfg.WhatsAppPollAttempts != 40 {
		t.Fatalf("unexpected poll defaults: %s x %d", cfg.WhatsAppPollInterval, cfg.WhatsAppPollAttempts)
	}
	if cfg.WhatsAppMessageDelay != 2*time.Second {
		t.Fatalf("expected 2s message delay, got %s", cfg.WhatsAppMessageDelay)
	}
	if cfg.WhatsAppAutoConnect {
		t.Fatalf("expected auto connect disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EVOLUTION_API_URL", "https://evo.example.com/")
	t.Setenv("EVOLUTION_INSTANCE_NAME", "tienda")
	t.Setenv("EVOLUTION_MAX_RETRIES", "3")
	t.Setenv("WHATSAPP_POLL_ATTEMPTS", "5")
	t.Setenv("WHATSAPP_MESSAGE_DELAY", "500ms")
	t.Setenv("WHATSAPP_AUTO_CONNECT", "true")
	t.Setenv("WEBHOOK_RATE_LIMIT", "2.5")
	t.Setenv("PROMOTION_LOCK_TTL", "bogus")
	t.Setenv("OPERATOR_JWT_SECRET", " s3cret ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://puntos.example.com")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.EvolutionAPIURL != "https://evo.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.EvolutionAPIURL)
	}
	if cfg.EvolutionInstanceName != "tienda" || cfg.EvolutionMaxRetries != 3 {
		t.Fatalf("unexpected evolution overrides: %+v", cfg)
	}
	if cfg.WhatsAppPollAttempts != 5 || cfg.WhatsAppMessageDelay != 500*time.Millisecond {
		t.Fatalf("unexpected whatsapp overrides: %d %s", cfg.WhatsAppPollAttempts, cfg.WhatsAppMessageDelay)
	}
	if !cfg.WhatsAppAutoConnect {
		t.Fatalf("expected auto connect enabled")
	}
	if cfg.WebhookRateLimit != 2.5 {
		t.Fatalf("expected webhook rate override, got %v", cfg.WebhookRateLimit)
	}
	if cfg.PromotionLockTTL != 30*time.Minute {
		t.Fatalf("expected invalid duration to fall back to default, got %s", cfg.PromotionLockTTL)
	}
	if cfg.OperatorJWTSecret != "s3cret" || cfg.CORSAllowedOrigins != "https://puntos.example.com" {
		t.Fatalf("unexpected operator settings: %q %q", cfg.OperatorJWTSecret, cfg.CORSAllowedOrigins)
	}
}
