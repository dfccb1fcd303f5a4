// Package domain holds the core data model shared across the orchestrator:
// endpoints, agents, tasks, and the external collaborator interfaces the
// core consumes but never implements.
package domain

import (
	"sync"
	"time"
)

// Tier is a stable symbolic endpoint identity, e.g. "Q4_TOOLS" or "VISION".
// It maps 1-to-1 to a concrete inference server when that server is running.
type Tier string

// Canonical tiers for a default maker-assistant deployment. The registry
// is not limited to these: any TIER_BASE_URL-prefixed environment key
// defines a tier, but these are the ones a default deployment wires up.
const (
	TierQ4Tools    Tier = "Q4_TOOLS"
	TierVision     Tier = "VISION"
	TierCoder      Tier = "CODER"
	TierDeepReason Tier = "DEEP_REASON"
	TierSummary    Tier = "SUMMARY"
)

// Dialect is one of the two JSON-over-HTTP request/response shapes the
// adapter can speak. The system never hosts either - it is always the client.
type Dialect string

const (
	// DialectNative speaks llama.cpp's flat-prompt /completion protocol.
	DialectNative Dialect = "native"
	// DialectGateway speaks an Ollama-style /api/generate protocol.
	DialectGateway Dialect = "gateway"
)

// ThinkingEffort is the optional reasoning-effort hint honored only by the
// gateway dialect (Ollama's "think" option).
type ThinkingEffort string

const (
	ThinkingNone   ThinkingEffort = ""
	ThinkingLow    ThinkingEffort = "low"
	ThinkingMedium ThinkingEffort = "medium"
	ThinkingHigh   ThinkingEffort = "high"
)

// EndpointStatus is the point-in-time snapshot returned by Endpoint.Status
// and aggregated by SlotManager.Status.
type EndpointStatus struct {
	Tier      Tier
	Max       int
	Active    int
	Available int
	Running   bool
}

// Endpoint is the runtime record backing a tier: transport, capacity, and
// lifecycle state. It owns its own mutex (spec §5: "each Endpoint owns its
// own mutex; only operations on that endpoint take that mutex") - callers
// never reach into activeSlots/lastReleaseAt/running directly.
type Endpoint struct {
	Tier    Tier
	BaseURL string
	Dialect Dialect
	ModelID string

	MaxSlots            int
	IdleShutdownSeconds int

	SupportsTools     bool
	SupportsVision    bool
	ThinkingEffort    ThinkingEffort
	ExternallyManaged bool

	mu            sync.Mutex
	activeSlots   int
	lastReleaseAt time.Time
	hasReleased   bool
	running       bool
}

// NewEndpoint constructs an Endpoint in its initial (not running, zero
// active slots) state.
func NewEndpoint(tier Tier, baseURL string, dialect Dialect, modelID string, maxSlots int) *Endpoint {
	return &Endpoint{
		Tier: tier,
		BaseURL: baseURL,
		Dialect: dialect,
		ModelID: modelID,
		MaxSlots: maxSlots,
	}
}

// TryAcquireSlot attempts to claim one slot. Returns false if the endpoint
// is already at MaxSlots. Invariant: 0 <= activeSlots <= MaxSlots always.
func (e *Endpoint) TryAcquireSlot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeSlots < e.MaxSlots {
		e.activeSlots++
		return true
	}
	return false
}

// ReleaseSlot releases one slot, clamped at zero. When activeSlots reaches
// zero, the release timestamp is recorded. Apart from MarkActive, this is
// the only place lastReleaseAt is set.
func (e *Endpoint) ReleaseSlot(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeSlots > 0 {
		e.activeSlots--
	}
	if e.activeSlots == 0 {
		e.lastReleaseAt = now
		e.hasReleased = true
	}
}

// MarkActive resets the idle clock without touching activeSlots - used
// after an on-demand start so the reaper doesn't immediately re-reap a
// freshly started endpoint.
func (e *Endpoint) MarkActive(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastReleaseAt = now
	e.hasReleased = true
}

// IdleSeconds returns nil if the endpoint has active slots or has never
// recorded a release; otherwise the seconds elapsed since the last release.
func (e *Endpoint) IdleSeconds(now time.Time) *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeSlots > 0 || !e.hasReleased {
		return nil
	}
	secs := now.Sub(e.lastReleaseAt).Seconds()
	return &secs
}

// IsIdle reports whether the endpoint's idle duration is at least threshold
// seconds. An endpoint with active slots, or one that never released, is
// never idle.
func (e *Endpoint) IsIdle(now time.Time, thresholdSeconds float64) bool {
	idle := e.IdleSeconds(now)
	return idle != nil && *idle >= thresholdSeconds
}

// SetRunning toggles the lifecycle bit owned by ProcessSupervisor.
func (e *Endpoint) SetRunning(running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = running
}

// IsRunning reports the current lifecycle state.
func (e *Endpoint) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ActiveSlots returns the current active slot count.
func (e *Endpoint) ActiveSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSlots
}

// Status returns a point-in-time snapshot for monitoring.
func (e *Endpoint) Status() EndpointStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		Tier: e.Tier,
		Max: e.MaxSlots,
		Active: e.activeSlots,
		Available: e.MaxSlots - e.activeSlots,
		Running: e.running,
	}
}

// LoadedModel mirrors model-catalog metadata shape for status reporting
// parity with ModelCatalog implementers; unused by the hard-engineering
// core itself.
type LoadedModel struct {
	Name      string
	SizeBytes int64
	ExpiresAt time.Time
}
