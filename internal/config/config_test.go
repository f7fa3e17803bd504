package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"PORT",
		"SERVER_PORT",
		"STORE_DRIVER",
		"EVENT_BROKER",
		"DOMESTIC_WIRE_FEE",
		"INTERNATIONAL_WIRE_FEE",
		"VERIFICATION_CODE_TTL_SECONDS",
		"VERIFICATION_RESEND_LIMIT_PER_MINUTE",
		"VERIFICATION_CONFIRM_LIMIT_PER_MINUTE",
		"VERIFICATION_BYPASS_USER_IDS",
		"VERIFICATION_MAX_RESENDS",
		"VERIFICATION_MAX_LIFETIME_SECONDS",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected default store driver postgres, got %q", cfg.StoreDriver)
	}
	if cfg.EventBroker != "rabbitmq" {
		t.Fatalf("expected default event broker rabbitmq, got %q", cfg.EventBroker)
	}
	if !cfg.DomesticWireFee.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected default domestic wire fee 25.00, got %s", cfg.DomesticWireFee)
	}
	if !cfg.InternationalWireFee.Equal(decimal.RequireFromString("45.00")) {
		t.Fatalf("expected default international wire fee 45.00, got %s", cfg.InternationalWireFee)
	}
	if cfg.CodeTTL() != 5*time.Minute {
		t.Fatalf("expected default code ttl of 5m, got %s", cfg.CodeTTL())
	}
	if cfg.VerificationResendPerMinute != 3 || cfg.VerificationConfirmPerMinute != 10 {
		t.Fatalf("unexpected default limits: resend=%d confirm=%d", cfg.VerificationResendPerMinute, cfg.VerificationConfirmPerMinute)
	}
	if cfg.VerificationMaxResends != 5 || cfg.ChallengeLifetime() != 15*time.Minute {
		t.Fatalf("unexpected resend cap defaults: resends=%d lifetime=%s", cfg.VerificationMaxResends, cfg.ChallengeLifetime())
	}
	if len(cfg.BypassUserIDs()) != 0 {
		t.Fatalf("expected empty bypass list, got %v", cfg.BypassUserIDs())
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7777")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7777" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ParsesBypassList(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "VERIFICATION_BYPASS_USER_IDS", " qa-user-1, ,qa-user-2 ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	ids := cfg.BypassUserIDs()
	if len(ids) != 2 || ids[0] != "qa-user-1" || ids[1] != "qa-user-2" {
		t.Fatalf("expected trimmed bypass ids, got %v", ids)
	}
}

func TestLoadConfig_NegativeFeeFallsBackToDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DOMESTIC_WIRE_FEE", "-5")
	setEnvWithCleanup(t, "INTERNATIONAL_WIRE_FEE", "12.5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.DomesticWireFee.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected negative domestic fee to fall back to 25.00, got %s", cfg.DomesticWireFee)
	}
	if !cfg.InternationalWireFee.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected international fee 12.50, got %s", cfg.InternationalWireFee)
	}
}

func TestLoadConfig_NonPositiveLimitsFallBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "VERIFICATION_CODE_TTL_SECONDS", "0")
	setEnvWithCleanup(t, "VERIFICATION_RESEND_LIMIT_PER_MINUTE", "-1")
	setEnvWithCleanup(t, "VERIFICATION_MAX_RESENDS", "0")
	setEnvWithCleanup(t, "VERIFICATION_MAX_LIFETIME_SECONDS", "60")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.VerificationCodeTTLSeconds != 300 {
		t.Fatalf("expected ttl to fall back to 300, got %d", cfg.VerificationCodeTTLSeconds)
	}
	if cfg.VerificationResendPerMinute != 3 {
		t.Fatalf("expected resend limit to fall back to 3, got %d", cfg.VerificationResendPerMinute)
	}
	if cfg.VerificationMaxResends != 5 {
		t.Fatalf("expected resend cap to fall back to 5, got %d", cfg.VerificationMaxResends)
	}
	if cfg.ChallengeLifetime() != cfg.CodeTTL() {
		t.Fatalf("expected lifetime to be raised to the code ttl, got %s", cfg.ChallengeLifetime())
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
