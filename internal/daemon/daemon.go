// Package daemon wires C1 through C7 into one running process: the
// endpoint and agent registries, the slot manager, the process supervisor,
// the idle reaper, the LLM adapter, the task orchestrator, and the
// introspection HTTP surface.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kitty-ai/orchestrator/internal/config"
	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/llmadapter"
	"github.com/kitty-ai/orchestrator/internal/obs"
	"github.com/kitty-ai/orchestrator/internal/orchestrator"
	"github.com/kitty-ai/orchestrator/internal/reaper"
	"github.com/kitty-ai/orchestrator/internal/registry"
	"github.com/kitty-ai/orchestrator/internal/slotmanager"
	"github.com/kitty-ai/orchestrator/internal/supervisor"
)

// Config is the resolved process-level configuration (spec §6.1/§6.2),
// read once at startup.
type Config struct {
	ObsHost     string
	ObsPort     int
	MaxParallel int
	StateDir    string
}

// Daemon is the orchestrator's runtime: every component constructed once
// at startup and threaded through explicit references (spec §9 - "no
// ambient globals").
type Daemon struct {
	Config Config

	Endpoints    *registry.EndpointRegistry
	Agents       *registry.AgentRegistry
	Supervisor   *supervisor.Supervisor
	Slots        *slotmanager.SlotManager
	Reaper       *reaper.Reaper
	Adapter      *llmadapter.Adapter
	Orchestrator *orchestrator.Orchestrator
	Obs          *obs.Server

	logger *log.Logger
	cancel context.CancelFunc
}

// New constructs a Daemon from environment-derived configuration (spec
// §6.1), the normal entrypoint for the `orchestrator` binary.
func New() (*Daemon, error) {
	provider := config.NewEnvProvider()
	return NewWithProvider(provider)
}

// NewWithProvider constructs a Daemon over a given domain.ConfigProvider,
// exposed separately so tests can supply a fixed endpoint set without
// touching the process environment.
func NewWithProvider(provider domain.ConfigProvider) (*Daemon, error) {
	logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)

	endpoints, err := provider.Endpoints()
	if err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}

	endpointReg := registry.NewEndpointRegistry(endpoints)
	agentReg := registry.NewAgentRegistry()

	stateDir := config.StateDir()
	serverConfigs := make(map[domain.Tier]*config.ServerConfig, len(endpoints))
	for _, ep := range endpoints {
		sc, err := config.ServerConfigFromEnv(ep.Tier)
		if err != nil {
			return nil, fmt.Errorf("load server config for %s: %w", ep.Tier, err)
		}
		if sc != nil {
			serverConfigs[ep.Tier] = sc
		}
	}

	sup := supervisor.New(serverConfigs, endpointReg.Get, stateDir, logger)
	slots := slotmanager.New(endpointReg, sup, logger)
	rp := reaper.New(slots, sup, endpointReg, logger)
	adapter := llmadapter.New(endpointReg, slots)

	maxParallel, err := config.MaxParallel()
	if err != nil {
		return nil, fmt.Errorf("load max parallel: %w", err)
	}
	orch := orchestrator.New(adapter, agentReg, maxParallel, logger)

	obsServer := obs.NewServer(slots, rp)

	return &Daemon{
		Config: Config{
			ObsHost: getenv("ORCHESTRATOR_OBS_HOST", "127.0.0.1"),
			ObsPort: getenvInt("ORCHESTRATOR_OBS_PORT", 9090),
			MaxParallel: maxParallel,
			StateDir: stateDir,
		},
		Endpoints: endpointReg,
		Agents: agentReg,
		Supervisor: sup,
		Slots: slots,
		Reaper: rp,
		Adapter: adapter,
		Orchestrator: orch,
		Obs: obsServer,
		logger: logger,
	}, nil
}

// ExecuteGoal runs one goal through the orchestrator - the daemon's single
// externally visible unit of work.
func (d *Daemon) ExecuteGoal(ctx context.Context, goalText string, maxTasks int, seedContext map[string]string) *domain.GoalRun {
	return d.Orchestrator.ExecuteGoal(ctx, goalText, maxTasks, seedContext)
}

// Serve starts the background reaper sweep and the introspection HTTP
// server, and blocks until ctx is cancelled or a termination signal
// arrives. Grounded on daemon.go's Serve: start background services,
// start the HTTP server, shut down gracefully on signal.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Reaper.Start(ctx, reaper.DefaultInterval)

	addr := fmt.Sprintf("%s:%d", d.Config.ObsHost, d.Config.ObsPort)
	httpServer := &http.Server{
		Addr: addr,
		Handler: d.Obs.Handler(),
		ReadTimeout: 30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		d.Reaper.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	d.logger.Printf("observability surface on http://%s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases every background resource without waiting on a signal,
// used by one-shot CLI commands that never call Serve.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.Reaper.Stop()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}
