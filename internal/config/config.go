// Package config builds the core's configuration surface from environment
// variables. It is the only ConfigProvider implementation this module
// ships; everything else (CLI/TUI shells, config editors) is an outer
// concern handled elsewhere.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/registry"
)

// DefaultTiers are the canonical tier symbols a default maker-assistant
// deployment wires up. discoverTiers widens this to any additional
// <TIER>_BASE_URL-prefixed key present in the environment.
var DefaultTiers = []domain.Tier{
	domain.TierQ4Tools,
	domain.TierVision,
	domain.TierCoder,
	domain.TierDeepReason,
	domain.TierSummary,
}

// ServerConfig is ProcessSupervisor's per-tier launch record (spec §4.3.1).
type ServerConfig struct {
	Tier              domain.Tier
	BinaryPath        string
	ModelPath         string
	Port              int
	CtxSize           int
	GPULayers         int
	Batch             int
	Parallel          int
	Threads           int
	ExtraArgs         []string
	ExternallyManaged bool
}

// EnvProvider is the environment-backed domain.ConfigProvider.
type EnvProvider struct {
	// Tiers lists which tier symbols to read. Defaults to DefaultTiers plus
	// any tier discovered via a <TIER>_BASE_URL key already present.
	Tiers []domain.Tier
}

// NewEnvProvider builds a provider covering the default tier set plus any
// additional tier discovered from *_BASE_URL environment keys.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{Tiers: discoverTiers()}
}

// discoverTiers unions DefaultTiers with any <TIER>_BASE_URL key found in
// the environment, so a deployment can add a tier without a code change.
func discoverTiers() []domain.Tier {
	seen := make(map[domain.Tier]bool, len(DefaultTiers))
	out := make([]domain.Tier, 0, len(DefaultTiers))
	for _, t := range DefaultTiers {
		seen[t] = true
		out = append(out, t)
	}
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(key, "_BASE_URL") {
			continue
		}
		tier := domain.Tier(strings.TrimSuffix(key, "_BASE_URL"))
		if tier == "" || seen[tier] {
			continue
		}
		seen[tier] = true
		out = append(out, tier)
	}
	return out
}

// Endpoints implements domain.ConfigProvider. A tier missing its required
// <TIER>_BASE_URL is still registered (per spec §6.1: "missing required
// keys disable that tier"), just with an empty base URL and zero max slots
// so every acquisition on it fails fast rather than panicking on a nil
// lookup.
func (p *EnvProvider) Endpoints() ([]*domain.Endpoint, error) {
	endpoints := make([]*domain.Endpoint, 0, len(p.Tiers))
	for _, tier := range p.Tiers {
		ep, err := endpointFromEnv(tier)
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindConfig, Op: fmt.Sprintf("load tier %s", tier), Err: err}
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func endpointFromEnv(tier domain.Tier) (*domain.Endpoint, error) {
	prefix := string(tier)

	baseURL := os.Getenv(prefix + "_BASE_URL")
	modelID := os.Getenv(prefix + "_MODEL_ID")

	maxSlots, err := getIntDefault(prefix+"_MAX_SLOTS", 1)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		maxSlots = 0
	}

	dialect := domain.DialectNative
	if raw := os.Getenv(prefix + "_DIALECT"); raw != "" {
		switch strings.ToLower(raw) {
		case "native":
			dialect = domain.DialectNative
		case "gateway":
			dialect = domain.DialectGateway
		default:
			return nil, fmt.Errorf("%s_DIALECT: unrecognized dialect %q", prefix, raw)
		}
	}

	idleShutdown, err := getIntDefault(prefix+"_IDLE_SHUTDOWN_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	thinking := domain.ThinkingEffort(strings.ToLower(os.Getenv(prefix + "_THINKING")))
	switch thinking {
	case domain.ThinkingNone, domain.ThinkingLow, domain.ThinkingMedium, domain.ThinkingHigh:
	default:
		return nil, fmt.Errorf("%s_THINKING: unrecognized effort %q", prefix, thinking)
	}
	if dialect != domain.DialectGateway {
		thinking = domain.ThinkingNone
	}

	ep := domain.NewEndpoint(tier, baseURL, dialect, modelID, maxSlots)
	ep.IdleShutdownSeconds = idleShutdown
	ep.ThinkingEffort = thinking
	ep.SupportsTools = getBoolDefault(prefix+"_SUPPORTS_TOOLS", dialect == domain.DialectGateway)
	ep.SupportsVision = getBoolDefault(prefix+"_SUPPORTS_VISION", tier == domain.TierVision)
	ep.ExternallyManaged = getBoolDefault(prefix+"_EXTERNALLY_MANAGED", false)
	return ep, nil
}

// ServerConfigFromEnv builds a ProcessSupervisor launch record for one
// tier, grounded on process_manager.py's _get_server_configs(). Returns
// (nil, nil) when the tier declares no binary path - the supervisor then has
// no launch record for that tier, so Start returns a ConfigError and the
// tier is not reported as running unless its process is tracked.
func ServerConfigFromEnv(tier domain.Tier) (*ServerConfig, error) {
	prefix := string(tier)
	binaryPath := os.Getenv(prefix + "_BINARY_PATH")
	if binaryPath == "" {
		return nil, nil
	}

	port, err := getIntDefault(prefix+"_PORT", 0)
	if err != nil {
		return nil, err
	}
	ctxSize, err := getIntDefault(prefix+"_CTX_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	gpuLayers, err := getIntDefault(prefix+"_GPU_LAYERS", 0)
	if err != nil {
		return nil, err
	}
	batch, err := getIntDefault(prefix+"_BATCH", 512)
	if err != nil {
		return nil, err
	}
	parallel, err := getIntDefault(prefix+"_PARALLEL", 1)
	if err != nil {
		return nil, err
	}
	threads, err := getIntDefault(prefix+"_THREADS", 0)
	if err != nil {
		return nil, err
	}

	var extraArgs []string
	if raw := os.Getenv(prefix + "_EXTRA_ARGS"); raw != "" {
		extraArgs = strings.Fields(raw)
	}

	return &ServerConfig{
		Tier: tier,
		BinaryPath: binaryPath,
		ModelPath: os.Getenv(prefix + "_MODEL_PATH"),
		Port: port,
		CtxSize: ctxSize,
		GPULayers: gpuLayers,
		Batch: batch,
		Parallel: parallel,
		Threads: threads,
		ExtraArgs: extraArgs,
		ExternallyManaged: getBoolDefault(prefix+"_EXTERNALLY_MANAGED", false),
	}, nil
}

// Agents implements domain.ConfigProvider. The agent catalog is compile-time
// static (spec §4.7); this is a thin pass-through so callers can depend on
// ConfigProvider alone without also importing internal/registry.
func (p *EnvProvider) Agents() ([]domain.Agent, error) {
	return registry.NewAgentRegistry().All(), nil
}

// MaxParallel reads the global orchestrator semaphore size, defaulting to 8
// per spec §5.
func MaxParallel() (int, error) {
	return getIntDefault("ORCHESTRATOR_MAX_PARALLEL", 8)
}

// StateDir reads the directory PID files and log files are written under
// (spec §6.2), defaulting to "./.orchestrator".
func StateDir() string {
	if v := os.Getenv("ORCHESTRATOR_STATE_DIR"); v != "" {
		return v
	}
	return ".orchestrator"
}

func getIntDefault(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: malformed integer %q", key, raw)
	}
	return v, nil
}

func getBoolDefault(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
