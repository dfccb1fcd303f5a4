package config

import (
	"errors"
	"testing"

	"github.com/kitty-ai/orchestrator/internal/domain"
)

func TestEnvProvider_Endpoints_MissingBaseURLDisablesTier(t *testing.T) {
	p := &EnvProvider{Tiers: []domain.Tier{domain.TierCoder}}
	eps, err := p.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints() error: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("len(eps) = %d, want 1", len(eps))
	}
	if eps[0].MaxSlots != 0 {
		t.Errorf("MaxSlots = %d, want 0 for tier with no base url", eps[0].MaxSlots)
	}
}

func TestEnvProvider_Endpoints_FullyConfiguredTier(t *testing.T) {
	t.Setenv("CODER_BASE_URL", "http://localhost:8087")
	t.Setenv("CODER_MODEL_ID", "kitty-coder")
	t.Setenv("CODER_MAX_SLOTS", "4")
	t.Setenv("CODER_DIALECT", "native")
	t.Setenv("CODER_IDLE_SHUTDOWN_SECONDS", "900")

	p := &EnvProvider{Tiers: []domain.Tier{domain.TierCoder}}
	eps, err := p.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints() error: %v", err)
	}
	ep := eps[0]
	if ep.BaseURL != "http://localhost:8087" || ep.ModelID != "kitty-coder" || ep.MaxSlots != 4 {
		t.Errorf("endpoint = %+v, unexpected field values", ep)
	}
	if ep.Dialect != domain.DialectNative {
		t.Errorf("Dialect = %v, want native", ep.Dialect)
	}
	if ep.IdleShutdownSeconds != 900 {
		t.Errorf("IdleShutdownSeconds = %d, want 900", ep.IdleShutdownSeconds)
	}
}

func TestEnvProvider_Endpoints_GatewayThinkingHonored(t *testing.T) {
	t.Setenv("DEEP_REASON_BASE_URL", "http://localhost:11434")
	t.Setenv("DEEP_REASON_DIALECT", "gateway")
	t.Setenv("DEEP_REASON_THINKING", "medium")

	p := &EnvProvider{Tiers: []domain.Tier{domain.TierDeepReason}}
	eps, err := p.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints() error: %v", err)
	}
	if eps[0].ThinkingEffort != domain.ThinkingMedium {
		t.Errorf("ThinkingEffort = %q, want medium", eps[0].ThinkingEffort)
	}
}

func TestEnvProvider_Endpoints_ThinkingIgnoredOnNativeDialect(t *testing.T) {
	t.Setenv("CODER_BASE_URL", "http://localhost:8087")
	t.Setenv("CODER_DIALECT", "native")
	t.Setenv("CODER_THINKING", "high")

	p := &EnvProvider{Tiers: []domain.Tier{domain.TierCoder}}
	eps, err := p.Endpoints()
	if err != nil {
		t.Fatalf("Endpoints() error: %v", err)
	}
	if eps[0].ThinkingEffort != domain.ThinkingNone {
		t.Errorf("ThinkingEffort = %q, want none on native dialect", eps[0].ThinkingEffort)
	}
}

func TestEnvProvider_Endpoints_MalformedIntIsConfigError(t *testing.T) {
	t.Setenv("CODER_BASE_URL", "http://localhost:8087")
	t.Setenv("CODER_MAX_SLOTS", "not-a-number")

	p := &EnvProvider{Tiers: []domain.Tier{domain.TierCoder}}
	_, err := p.Endpoints()
	if err == nil {
		t.Fatalf("expected error for malformed CODER_MAX_SLOTS")
	}
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("error is not *domain.Error: %v", err)
	}
	if domainErr.Kind != domain.KindConfig {
		t.Errorf("Kind = %v, want ConfigError", domainErr.Kind)
	}
}

func TestServerConfigFromEnv_NoBinaryPathReturnsNil(t *testing.T) {
	cfg, err := ServerConfigFromEnv(domain.TierCoder)
	if err != nil {
		t.Fatalf("ServerConfigFromEnv() error: %v", err)
	}
	if cfg != nil {
		t.Errorf("expected nil ServerConfig when no binary path set, got %+v", cfg)
	}
}

func TestServerConfigFromEnv_FullyConfigured(t *testing.T) {
	t.Setenv("CODER_BINARY_PATH", "/usr/local/bin/llama-server")
	t.Setenv("CODER_MODEL_PATH", "/models/coder.gguf")
	t.Setenv("CODER_PORT", "8087")
	t.Setenv("CODER_GPU_LAYERS", "99")
	t.Setenv("CODER_EXTRA_ARGS", "--rope-scaling yarn --rope-scale 4")

	cfg, err := ServerConfigFromEnv(domain.TierCoder)
	if err != nil {
		t.Fatalf("ServerConfigFromEnv() error: %v", err)
	}
	if cfg == nil {
		t.Fatalf("expected non-nil ServerConfig")
	}
	if cfg.Port != 8087 || cfg.GPULayers != 99 {
		t.Errorf("cfg = %+v, unexpected field values", cfg)
	}
	if len(cfg.ExtraArgs) != 4 {
		t.Errorf("ExtraArgs = %v, want 4 fields", cfg.ExtraArgs)
	}
}

func TestMaxParallel_Default(t *testing.T) {
	n, err := MaxParallel()
	if err != nil {
		t.Fatalf("MaxParallel() error: %v", err)
	}
	if n != 8 {
		t.Errorf("MaxParallel() = %d, want default 8", n)
	}
}

