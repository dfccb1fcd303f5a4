package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kitty-ai/orchestrator/internal/config"
	"github.com/kitty-ai/orchestrator/internal/domain"
)

// fakeBinary writes a tiny shell script that sleeps, standing in for
// llama-server so lifecycle tests don't depend on an external binary.
func fakeBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-server.sh")
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nwhile true; do sleep 0.1; done\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func testConfigs(t *testing.T, tier domain.Tier) map[domain.Tier]*config.ServerConfig {
	return map[domain.Tier]*config.ServerConfig{
		tier: {
			Tier: tier,
			BinaryPath: fakeBinary(t),
			ModelPath: "/dev/null",
			Port: 0,
			CtxSize: 4096,
			Batch: 512,
			Parallel: 1,
		},
	}
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	stateDir := t.TempDir()
	cfgs := testConfigs(t, domain.TierCoder)
	s := New(cfgs, nil, stateDir, nil)

	pid1, err := s.Start(context.Background(), domain.TierCoder)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if pid1 == 0 {
		t.Fatalf("expected non-zero pid")
	}

	pid2, err := s.Start(context.Background(), domain.TierCoder)
	if err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	if pid2 != pid1 {
		t.Errorf("second Start() pid = %d, want same pid %d (idempotent)", pid2, pid1)
	}

	if !s.IsRunning(domain.TierCoder) {
		t.Errorf("IsRunning() = false, want true")
	}

	if err := s.Stop(context.Background(), domain.TierCoder, time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestSupervisor_StartStopStart_FreshPIDNoStalePIDFile(t *testing.T) {
	stateDir := t.TempDir()
	cfgs := testConfigs(t, domain.TierCoder)
	s := New(cfgs, nil, stateDir, nil)

	pid1, err := s.Start(context.Background(), domain.TierCoder)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Stop(context.Background(), domain.TierCoder, time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if _, err := os.Stat(pidFilePath(stateDir, domain.TierCoder)); !os.IsNotExist(err) {
		t.Errorf("expected pid file removed after stop, stat err = %v", err)
	}

	pid2, err := s.Start(context.Background(), domain.TierCoder)
	if err != nil {
		t.Fatalf("restart Start() error: %v", err)
	}
	if pid2 == pid1 {
		t.Errorf("expected a fresh pid after stop+start, got same pid %d twice", pid1)
	}
	if !s.IsRunning(domain.TierCoder) {
		t.Errorf("expected running after second start")
	}
	s.Stop(context.Background(), domain.TierCoder, time.Second)
}

func TestSupervisor_StopUntrackedTierIsNoop(t *testing.T) {
	s := New(testConfigs(t, domain.TierCoder), nil, t.TempDir(), nil)
	if err := s.Stop(context.Background(), domain.TierCoder, time.Second); err != nil {
		t.Errorf("Stop() on never-started tier should be a no-op, got error: %v", err)
	}
}

func TestSupervisor_ExternallyManagedRefusesStartStop(t *testing.T) {
	cfgs := testConfigs(t, domain.TierCoder)
	cfgs[domain.TierCoder].ExternallyManaged = true
	s := New(cfgs, nil, t.TempDir(), nil)

	if _, err := s.Start(context.Background(), domain.TierCoder); err == nil {
		t.Errorf("expected error starting an externally managed tier")
	}
	if err := s.Stop(context.Background(), domain.TierCoder, time.Second); err == nil {
		t.Errorf("expected error stopping an externally managed tier")
	}
	if !s.IsRunning(domain.TierCoder) {
		t.Errorf("externally managed tier should report running=true unconditionally")
	}
}

func TestSupervisor_UnknownTierIsConfigError(t *testing.T) {
	s := New(map[domain.Tier]*config.ServerConfig{}, nil, t.TempDir(), nil)
	_, err := s.Start(context.Background(), domain.Tier("NOPE"))
	if err == nil {
		t.Fatalf("expected error for unconfigured tier")
	}
}

func TestSupervisor_SetsEndpointRunningBit(t *testing.T) {
	ep := domain.NewEndpoint(domain.TierCoder, "http://localhost:1", domain.DialectNative, "m", 1)
	s := New(testConfigs(t, domain.TierCoder), func(tier domain.Tier) *domain.Endpoint {
		if tier == domain.TierCoder {
			return ep
		}
		return nil
	}, t.TempDir(), nil)

	if _, err := s.Start(context.Background(), domain.TierCoder); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !ep.IsRunning() {
		t.Errorf("expected endpoint running bit set after Start")
	}
	s.Stop(context.Background(), domain.TierCoder, time.Second)
	if ep.IsRunning() {
		t.Errorf("expected endpoint running bit cleared after Stop")
	}
}

func TestTierSlug(t *testing.T) {
	if got := tierSlug(domain.TierDeepReason); got != "deep-reason" {
		t.Errorf("tierSlug(DEEP_REASON) = %q, want deep-reason", got)
	}
}

func TestBuildArgs_IncludesExtraArgs(t *testing.T) {
	cfg := &config.ServerConfig{
		ModelPath: "/m.gguf",
		Port: 8083,
		CtxSize: 131072,
		GPULayers: 99,
		Batch: 512,
		Parallel: 6,
		Threads: 8,
		ExtraArgs: []string{"--rope-scaling", "yarn"},
	}
	args := buildArgs(domain.TierQ4Tools, cfg)
	found := false
	for i, a := range args {
		if a == "--rope-scaling" && i+1 < len(args) && args[i+1] == "yarn" {
			found = true
		}
	}
	if !found {
		t.Errorf("buildArgs() = %v, missing --rope-scaling yarn", args)
	}
}
