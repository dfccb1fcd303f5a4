// Package supervisor implements C3, the process supervisor: start, stop,
// restart, and readiness tracking for local inference server child
// processes.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kitty-ai/orchestrator/internal/config"
	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/obs"
)

// Status mirrors spec §4.3.2's status() mapping entry.
type Status struct {
	Running bool
	PID     int
	Port    int
	Alias   string
}

// tracked holds the live process state for one tier.
type tracked struct {
	cmd  *exec.Cmd
	pid  int
	port int
}

// Supervisor manages one child process per tier (spec §4.3). A subset of
// tiers may be marked ExternallyManaged, in which case start/stop are
// refused and the tier is reported as always running.
type Supervisor struct {
	mu        sync.Mutex
	configs   map[domain.Tier]*config.ServerConfig
	processes map[domain.Tier]*tracked
	endpoints *endpointLookup
	stateDir  string
	logger    *log.Logger
}

// endpointLookup is the narrow read/write slice of the endpoint registry
// the supervisor needs to flip Endpoint.SetRunning when lifecycle changes.
type endpointLookup struct {
	get func(domain.Tier) *domain.Endpoint
}

// New constructs a Supervisor. getEndpoint is used to toggle an endpoint's
// running bit on start/stop; it may be nil if the caller manages that
// separately (tests commonly do).
func New(configs map[domain.Tier]*config.ServerConfig, getEndpoint func(domain.Tier) *domain.Endpoint, stateDir string, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	if stateDir == "" {
		stateDir = "."
	}
	return &Supervisor{
		configs: configs,
		processes: make(map[domain.Tier]*tracked),
		endpoints: &endpointLookup{get: getEndpoint},
		stateDir: stateDir,
		logger: logger,
	}
}

func (s *Supervisor) setRunning(tier domain.Tier, running bool) {
	gauge := float64(0)
	if running {
		gauge = 1
	}
	obs.EndpointRunning.WithLabelValues(string(tier)).Set(gauge)

	if s.endpoints == nil || s.endpoints.get == nil {
		return
	}
	if ep := s.endpoints.get(tier); ep != nil {
		ep.SetRunning(running)
	}
}

func pidFilePath(stateDir string, tier domain.Tier) string {
	return filepath.Join(stateDir, tierSlug(tier)+".pid")
}

func logFilePath(stateDir string, tier domain.Tier) string {
	return filepath.Join(stateDir, tierSlug(tier)+".log")
}

func tierSlug(tier domain.Tier) string {
	slug := make([]byte, 0, len(tier))
	for _, r := range string(tier) {
		if r == '_' {
			slug = append(slug, '-')
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		slug = append(slug, byte(r))
	}
	return string(slug)
}

// Start implements spec §4.3.2's idempotent start. Returns (pid, nil) on
// success, and the tracked pid when this supervisor's process for the tier
// is already alive. When the port is already bound by a process this
// supervisor did not start, it marks the tier running and returns (0, nil);
// the pid of that process is not looked up.
func (s *Supervisor) Start(ctx context.Context, tier domain.Tier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.configs[tier]
	if cfg == nil {
		obs.SupervisorStarts.WithLabelValues(string(tier), "error").Inc()
		return 0, &domain.Error{Kind: domain.KindConfig, Op: fmt.Sprintf("start %s", tier), Err: fmt.Errorf("no server config for tier")}
	}
	if cfg.ExternallyManaged {
		obs.SupervisorStarts.WithLabelValues(string(tier), "externally_managed").Inc()
		return 0, &domain.Error{Kind: domain.KindLifecycle, Op: fmt.Sprintf("start %s", tier), Err: fmt.Errorf("tier is externally managed")}
	}

	if t, ok := s.processes[tier]; ok && processAlive(t.cmd) {
		obs.SupervisorStarts.WithLabelValues(string(tier), "already_running").Inc()
		return t.pid, nil
	}

	if portInUse(cfg.Port) {
		s.logger.Printf("supervisor: port %d already in use for %s, assuming externally started", cfg.Port, tier)
		s.setRunning(tier, true)
		obs.SupervisorStarts.WithLabelValues(string(tier), "external_port").Inc()
		return 0, nil
	}

	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		obs.SupervisorStarts.WithLabelValues(string(tier), "error").Inc()
		return 0, &domain.Error{Kind: domain.KindLifecycle, Op: fmt.Sprintf("start %s", tier), Err: err}
	}

	logFile, err := os.OpenFile(logFilePath(s.stateDir, tier), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		obs.SupervisorStarts.WithLabelValues(string(tier), "error").Inc()
		return 0, &domain.Error{Kind: domain.KindLifecycle, Op: fmt.Sprintf("start %s", tier), Err: err}
	}

	args := buildArgs(tier, cfg)
	s.logger.Printf("supervisor: starting %s: %s %v", tier, cfg.BinaryPath, args)

	cmd := exec.Command(cfg.BinaryPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		obs.SupervisorStarts.WithLabelValues(string(tier), "error").Inc()
		return 0, &domain.Error{Kind: domain.KindLifecycle, Op: fmt.Sprintf("start %s", tier), Err: err}
	}

	go func() {
		cmd.Wait()
		logFile.Close()
	}()

	if err := os.WriteFile(pidFilePath(s.stateDir, tier), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		s.logger.Printf("supervisor: write pid file for %s: %v", tier, err)
	}

	s.processes[tier] = &tracked{cmd: cmd, pid: cmd.Process.Pid, port: cfg.Port}
	s.setRunning(tier, true)
	obs.SupervisorStarts.WithLabelValues(string(tier), "ok").Inc()
	s.logger.Printf("supervisor: started %s (pid %d, port %d)", tier, cmd.Process.Pid, cfg.Port)
	return cmd.Process.Pid, nil
}

// Stop implements spec §4.3.2: graceful signal, bounded wait, forced kill.
func (s *Supervisor) Stop(ctx context.Context, tier domain.Tier, gracefulTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.configs[tier]
	if cfg != nil && cfg.ExternallyManaged {
		obs.SupervisorStops.WithLabelValues(string(tier), "externally_managed").Inc()
		return &domain.Error{Kind: domain.KindLifecycle, Op: fmt.Sprintf("stop %s", tier), Err: fmt.Errorf("tier is externally managed")}
	}

	t, ok := s.processes[tier]
	if !ok || !processAlive(t.cmd) {
		delete(s.processes, tier)
		s.setRunning(tier, false)
		os.Remove(pidFilePath(s.stateDir, tier))
		obs.SupervisorStops.WithLabelValues(string(tier), "not_running").Inc()
		return nil
	}

	if gracefulTimeout <= 0 {
		gracefulTimeout = 5 * time.Second
	}

	s.logger.Printf("supervisor: stopping %s (pid %d)", tier, t.pid)
	terminateProcessGroup(t.cmd)

	done := make(chan struct{})
	go func() {
		t.cmd.Wait()
		close(done)
	}()

	outcome := "ok"
	select {
	case <-done:
		s.logger.Printf("supervisor: %s stopped gracefully", tier)
	case <-time.After(gracefulTimeout):
		s.logger.Printf("supervisor: graceful shutdown timeout, force killing %s", tier)
		killProcessGroup(t.cmd)
		<-done
		outcome = "forced"
	}

	delete(s.processes, tier)
	s.setRunning(tier, false)
	os.Remove(pidFilePath(s.stateDir, tier))
	obs.SupervisorStops.WithLabelValues(string(tier), outcome).Inc()
	return nil
}

// Restart stops then starts a tier, with a brief pause for port release
// (spec §4.3.2).
func (s *Supervisor) Restart(ctx context.Context, tier domain.Tier) (int, error) {
	if err := s.Stop(ctx, tier, 5*time.Second); err != nil {
		return 0, err
	}
	time.Sleep(500 * time.Millisecond)
	return s.Start(ctx, tier)
}

// IsRunning reports whether tier's process is tracked-alive or its port is
// bound (spec §4.3.2).
func (s *Supervisor) IsRunning(tier domain.Tier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg := s.configs[tier]; cfg != nil && cfg.ExternallyManaged {
		return true
	}
	if t, ok := s.processes[tier]; ok && processAlive(t.cmd) {
		return true
	}
	if cfg := s.configs[tier]; cfg != nil {
		return portInUse(cfg.Port)
	}
	return false
}

// Status returns a snapshot for every configured tier.
func (s *Supervisor) Status() map[domain.Tier]Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[domain.Tier]Status, len(s.configs))
	for tier, cfg := range s.configs {
		st := Status{Port: cfg.Port}
		if t, ok := s.processes[tier]; ok && processAlive(t.cmd) {
			st.Running = true
			st.PID = t.pid
		} else if cfg.ExternallyManaged || portInUse(cfg.Port) {
			st.Running = true
		}
		out[tier] = st
	}
	return out
}

func processAlive(cmd *exec.Cmd) bool {
	if cmd == nil || cmd.Process == nil {
		return false
	}
	if cmd.ProcessState != nil {
		return false
	}
	return true
}

func portInUse(port int) bool {
	if port == 0 {
		return false
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// buildArgs mirrors process_manager.py's _build_command, generalized to
// the config.ServerConfig shape and widened with the tier-specific
// extra_args bag (e.g. Q4_TOOLS's yarn rope-scaling, VISION's mmproj).
func buildArgs(tier domain.Tier, cfg *config.ServerConfig) []string {
	args := []string{
		"--model", cfg.ModelPath,
		"--host", "0.0.0.0",
		"--port", strconv.Itoa(cfg.Port),
		"--n-gpu-layers", strconv.Itoa(cfg.GPULayers),
		"--ctx-size", strconv.Itoa(cfg.CtxSize),
		"-np", strconv.Itoa(cfg.Parallel),
		"--batch-size", strconv.Itoa(cfg.Batch),
	}
	if cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(cfg.Threads))
	}
	args = append(args, cfg.ExtraArgs...)
	return args
}
