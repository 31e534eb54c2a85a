package config

import (
	"testing"
)

func defaultTestConfig() *Config {
	return &Config{
		ListenAddr:         ":8080",
		Provider:           "anthropic",
		Store:              "memory",
		Temperature:        0.7,
		MaxCallsPerTool:    2,
		MaxTotalCalls:      5,
		HistoryTokenBudget: 24000,
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := defaultTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Provider = "bard"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestValidateRejectsZeroCaps(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxTotalCalls = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero total call cap")
	}
}

func TestValidateRedisBackendNeedsAddr(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Store = "redis"
	cfg.Redis = RedisConfig{Prefix: "shopchat:conv:"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis store without addr")
	}
}

func TestValidatorChaining(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("a", "").ValidatePort("b", 0).ValidateOneOf("c", "x", "y", "z")

	if len(v.Errors()) != 3 {
		t.Errorf("expected 3 validation errors, got %d", len(v.Errors()))
	}
	if v.Error() == nil {
		t.Error("expected combined error")
	}
}
