// Package slotmanager implements C2, the single process-wide authority for
// endpoint usage and liveness: acquire/release accounting, idle tracking,
// and health probing.
package slotmanager

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/obs"
	"github.com/kitty-ai/orchestrator/internal/registry"
)

// Supervisor is the narrow slice of ProcessSupervisor the slot manager
// needs to auto-restart a cold endpoint on demand (spec §4.2.2 step 2).
type Supervisor interface {
	Start(ctx context.Context, tier domain.Tier) (pid int, err error)
}

// AcquireOptions configures one acquire_slot call (spec §4.2.1).
type AcquireOptions struct {
	AllowFallback   bool
	FallbackTier    domain.Tier
	OverallTimeout  time.Duration
	InitialBackoff  time.Duration
	MaxAttempts     int
	AutoRestart     bool
	ReadinessWindow time.Duration
}

// DefaultAcquireOptions mirrors the original's acquire_slot defaults.
func DefaultAcquireOptions() AcquireOptions {
	return AcquireOptions{
		OverallTimeout: 30 * time.Second,
		InitialBackoff: 200 * time.Millisecond,
		MaxAttempts: 10,
		AutoRestart: true,
		ReadinessWindow: 30 * time.Second,
	}
}

const backoffCeiling = 5 * time.Second

// SlotManager is the process-wide arbiter for the endpoint fleet (spec §9:
// "construct once at startup, thread explicit references through
// dependents, do not rely on ambient globals").
type SlotManager struct {
	registry   *registry.EndpointRegistry
	supervisor Supervisor
	httpClient *http.Client
	logger     *log.Logger
}

// New constructs a SlotManager over a fixed endpoint registry. supervisor
// may be nil, in which case auto-restart is skipped and acquisition on a
// cold endpoint proceeds against its slot counter as usual: the endpoint's
// running bit is not checked and nothing starts it.
func New(reg *registry.EndpointRegistry, supervisor Supervisor, logger *log.Logger) *SlotManager {
	if logger == nil {
		logger = log.Default()
	}
	return &SlotManager{
		registry: reg,
		supervisor: supervisor,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// AcquireSlot implements the acquisition algorithm of spec §4.2.2.
func (m *SlotManager) AcquireSlot(ctx context.Context, tier domain.Tier, opts AcquireOptions) (domain.Tier, bool) {
	ep := m.registry.Get(tier)
	if ep == nil {
		m.logger.Printf("slotmanager: acquire on unknown tier %s", tier)
		return tier, false
	}

	deadline := time.Now().Add(opts.OverallTimeout)

	if opts.AutoRestart && !ep.IsRunning() && m.supervisor != nil {
		if _, err := m.supervisor.Start(ctx, tier); err != nil {
			m.logger.Printf("slotmanager: auto-restart of %s failed: %v", tier, err)
		} else if !m.waitForReady(ctx, ep, opts.ReadinessWindow) {
			m.logger.Printf("slotmanager: %s did not become ready within %v", tier, opts.ReadinessWindow)
		} else {
			ep.MarkActive(time.Now())
		}
	}

	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ep.TryAcquireSlot() {
			reportSlotGauges(ep)
			return tier, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleepFor := backoff
		if sleepFor > remaining {
			sleepFor = remaining
		}
		select {
		case <-ctx.Done():
			return tier, false
		case <-time.After(sleepFor):
		}
		backoff *= 2
		if backoff > backoffCeiling {
			backoff = backoffCeiling
		}
	}

	if opts.AllowFallback && opts.FallbackTier != "" && opts.FallbackTier != tier {
		if fbEp := m.registry.Get(opts.FallbackTier); fbEp != nil && fbEp.TryAcquireSlot() {
			reportSlotGauges(fbEp)
			return opts.FallbackTier, true
		}
	}

	return tier, false
}

// waitForReady polls check_health until it passes or the window elapses,
// grounded on engine/subprocess.go's waitForServerWithFeedback.
func (m *SlotManager) waitForReady(ctx context.Context, ep *domain.Endpoint, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if m.checkHealth(ctx, ep) {
			ep.SetRunning(true)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false
}

// ReleaseSlot releases one slot on tier. A release on an unknown tier is a
// logged no-op (spec §4.2.6).
func (m *SlotManager) ReleaseSlot(tier domain.Tier) {
	ep := m.registry.Get(tier)
	if ep == nil {
		m.logger.Printf("slotmanager: release on unknown tier %s", tier)
		return
	}
	ep.ReleaseSlot(time.Now())
	reportSlotGauges(ep)
}

// reportSlotGauges pushes an endpoint's current capacity/usage to the
// Prometheus gauges backing the introspection surface's status() view.
func reportSlotGauges(ep *domain.Endpoint) {
	status := ep.Status()
	obs.EndpointSlotsActive.WithLabelValues(string(status.Tier)).Set(float64(status.Active))
	obs.EndpointSlotsMax.WithLabelValues(string(status.Tier)).Set(float64(status.Max))
}

// CheckHealth is a one-shot health probe (spec §4.2.5), dispatched by
// dialect exactly as slot_manager.py's check_health does (substring match
// on the Ollama default port rather than a hard dialect tag, widened here
// to the typed Dialect field we carry instead of url sniffing).
func (m *SlotManager) CheckHealth(ctx context.Context, tier domain.Tier) bool {
	ep := m.registry.Get(tier)
	if ep == nil {
		return false
	}
	return m.checkHealth(ctx, ep)
}

func (m *SlotManager) checkHealth(ctx context.Context, ep *domain.Endpoint) bool {
	ok := m.probeHealth(ctx, ep)
	outcome := "unhealthy"
	if ok {
		outcome = "healthy"
	}
	obs.EndpointHealthChecks.WithLabelValues(string(ep.Tier), outcome).Inc()
	return ok
}

func (m *SlotManager) probeHealth(ctx context.Context, ep *domain.Endpoint) bool {
	if ep.BaseURL == "" {
		return false
	}
	path := "/health"
	if ep.Dialect == domain.DialectGateway {
		path = "/api/tags"
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimRight(ep.BaseURL, "/")+path, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// CheckAllHealth probes every registered endpoint concurrently.
func (m *SlotManager) CheckAllHealth(ctx context.Context) map[domain.Tier]bool {
	endpoints := m.registry.All()
	results := make(map[domain.Tier]bool, len(endpoints))
	type outcome struct {
		tier domain.Tier
		ok bool
	}
	out := make(chan outcome, len(endpoints))
	for _, ep := range endpoints {
		ep := ep
		go func() {
			out <- outcome{tier: ep.Tier, ok: m.checkHealth(ctx, ep)}
		}()
	}
	for range endpoints {
		o := <-out
		results[o.tier] = o.ok
	}
	return results
}

// Status returns a point-in-time snapshot of every registered endpoint.
func (m *SlotManager) Status() map[domain.Tier]domain.EndpointStatus {
	endpoints := m.registry.All()
	out := make(map[domain.Tier]domain.EndpointStatus, len(endpoints))
	for _, ep := range endpoints {
		out[ep.Tier] = ep.Status()
	}
	return out
}

// IdleSeconds returns nil for an unknown tier or one with no idle reading.
func (m *SlotManager) IdleSeconds(tier domain.Tier) *float64 {
	ep := m.registry.Get(tier)
	if ep == nil {
		return nil
	}
	return ep.IdleSeconds(time.Now())
}

// IsIdle reports whether tier has been idle at least threshold seconds.
func (m *SlotManager) IsIdle(tier domain.Tier, thresholdSeconds float64) bool {
	ep := m.registry.Get(tier)
	if ep == nil {
		return false
	}
	return ep.IsIdle(time.Now(), thresholdSeconds)
}

// MarkActive resets the idle clock for tier without touching active_slots.
func (m *SlotManager) MarkActive(tier domain.Tier) {
	ep := m.registry.Get(tier)
	if ep == nil {
		return
	}
	ep.MarkActive(time.Now())
}

// GetAvailableSlots is the single-tier convenience reader supplemented from
// get_available_slots in the original slot_manager.py.
func (m *SlotManager) GetAvailableSlots(tier domain.Tier) (int, error) {
	ep := m.registry.Get(tier)
	if ep == nil {
		return 0, fmt.Errorf("slotmanager: %w: %s", domain.ErrUnknownTier, tier)
	}
	s := ep.Status()
	return s.Available, nil
}

// TotalCapacity, TotalActive, and TotalAvailable are aggregate helpers
// supplemented from total_capacity()/total_active()/total_available() in
// the original slot_manager.py, useful for a status surface.
func (m *SlotManager) TotalCapacity() int {
	total := 0
	for _, ep := range m.registry.All() {
		total += ep.Status().Max
	}
	return total
}

func (m *SlotManager) TotalActive() int {
	total := 0
	for _, ep := range m.registry.All() {
		total += ep.Status().Active
	}
	return total
}

func (m *SlotManager) TotalAvailable() int {
	total := 0
	for _, ep := range m.registry.All() {
		total += ep.Status().Available
	}
	return total
}
