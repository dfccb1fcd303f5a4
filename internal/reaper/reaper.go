// Package reaper implements C4, a background watcher that stops endpoints
// whose idle window has elapsed.
package reaper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/obs"
)

// DefaultInterval is the reaper's default sweep cadence (spec §4.4).
const DefaultInterval = 60 * time.Second

// SlotManager is the slice of C2 the reaper needs.
type SlotManager interface {
	Status() map[domain.Tier]domain.EndpointStatus
	IsIdle(tier domain.Tier, thresholdSeconds float64) bool
}

// Supervisor is the slice of C3 the reaper needs.
type Supervisor interface {
	Stop(ctx context.Context, tier domain.Tier, gracefulTimeout time.Duration) error
}

// endpointLister supplies per-tier idle-shutdown configuration and the
// externally-managed flag, both of which the reaper must respect.
type endpointLister interface {
	All() []*domain.Endpoint
}

// Reaper is a single long-lived cooperative task that wakes on a fixed
// interval and stops idle endpoints (spec §4.4).
type Reaper struct {
	slots      SlotManager
	supervisor Supervisor
	endpoints  endpointLister
	interval   time.Duration
	logger     *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a Reaper with the default 60s interval.
func New(slots SlotManager, supervisor Supervisor, endpoints endpointLister, logger *log.Logger) *Reaper {
	if logger == nil {
		logger = log.Default()
	}
	return &Reaper{
		slots: slots,
		supervisor: supervisor,
		endpoints: endpoints,
		interval: DefaultInterval,
		logger: logger,
	}
}

// Start begins the background sweep loop at the given interval. Calling
// Start while already running is a no-op, matching idle_reaper.py's
// "already running" guard.
func (r *Reaper) Start(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		r.logger.Printf("reaper: already running")
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	r.interval = interval

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.runLoop(loopCtx)
	r.logger.Printf("reaper: started with %v interval", interval)
}

func (r *Reaper) runLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop cancels the background loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
	r.logger.Printf("reaper: stopped")
}

// IsRunning reports whether the background loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Sweep runs one check-and-shutdown-idle pass synchronously, exposed
// directly for tests and for a caller that wants manual control instead of
// the background ticker.
func (r *Reaper) Sweep(ctx context.Context) map[domain.Tier]bool {
	return r.sweep(ctx)
}

// sweep implements check_and_shutdown_idle: for each tier with
// idle_shutdown_seconds > 0 and running, ask the slot manager if it's idle
// and stop it if so. Errors in one tier never abort the sweep (spec §4.4).
func (r *Reaper) sweep(ctx context.Context) map[domain.Tier]bool {
	obs.ReaperSweeps.Inc()
	results := make(map[domain.Tier]bool)
	for _, ep := range r.endpoints.All() {
		if ep.IdleShutdownSeconds <= 0 {
			continue
		}
		if ep.ExternallyManaged {
			continue
		}
		if !ep.IsRunning() {
			continue
		}
		if !r.slots.IsIdle(ep.Tier, float64(ep.IdleShutdownSeconds)) {
			results[ep.Tier] = false
			continue
		}

		r.logger.Printf("reaper: tier %s idle beyond %ds, shutting down", ep.Tier, ep.IdleShutdownSeconds)
		if err := r.supervisor.Stop(ctx, ep.Tier, 5*time.Second); err != nil {
			r.logger.Printf("reaper: failed to stop %s: %v", ep.Tier, err)
			results[ep.Tier] = false
			continue
		}
		obs.ReaperShutdowns.WithLabelValues(string(ep.Tier)).Inc()
		results[ep.Tier] = true
	}
	return results
}
