package registry

import "github.com/kitty-ai/orchestrator/internal/domain"

// DefaultAgentName is substituted whenever the planner assigns a task to an
// agent name the registry doesn't recognize (spec §4.6.2, §4.7).
const DefaultAgentName = "researcher"

// defaultAgents is the compile-time table of the 8 specialized agents,
// grounded on registry.py's _create_agent_registry(). Role prose is kept
// verbatim in spirit but trimmed of the numbered-list phrasing that reads
// as a system prompt rather than a Go doc comment.
var defaultAgents = []domain.Agent{
	{
		Name: "researcher",
		RoleProse: "Research specialist: searches thoroughly, verifies claims across sources, cites everything, never fabricates.",
		ToolAllowlist: []string{"web_search", "fetch_webpage", "vision.image_search"},
		PrimaryTier: domain.TierQ4Tools,
		DefaultMaxTokens: 2048,
		DefaultTemperature: 0.3,
	},
	{
		Name: "reasoner",
		RoleProse: "Deep reasoning specialist: thinks step by step, synthesizes other agents' findings, challenges assumptions.",
		ToolAllowlist: nil,
		PrimaryTier: domain.TierDeepReason,
		FallbackTier: domain.TierQ4Tools,
		DefaultMaxTokens: 4096,
		DefaultTemperature: 0.5,
	},
	{
		Name: "cad_designer",
		RoleProse: "CAD generation specialist: parametric and organic modeling with fabrication constraints in mind.",
		ToolAllowlist: []string{"generate_cad_model", "vision.image_search", "vision.store_selection"},
		PrimaryTier: domain.TierQ4Tools,
		DefaultMaxTokens: 2048,
		DefaultTemperature: 0.4,
	},
	{
		Name: "fabricator",
		RoleProse: "Fabrication engineer: printability analysis, printer routing, slicer configuration, print time estimation.",
		ToolAllowlist: []string{
			"fabrication.open_in_slicer",
			"fabrication.submit_job",
			"fabrication.check_queue",
			"fabrication.segment_mesh",
		},
		PrimaryTier: domain.TierQ4Tools,
		DefaultMaxTokens: 2048,
		DefaultTemperature: 0.2,
	},
	{
		Name: "coder",
		RoleProse: "Software engineer: clean, documented, tested code; prefers stdlib over dependencies; CadQuery/OpenSCAD for CAD.",
		ToolAllowlist: nil,
		PrimaryTier: domain.TierCoder,
		FallbackTier: domain.TierQ4Tools,
		DefaultMaxTokens: 4096,
		DefaultTemperature: 0.2,
	},
	{
		Name: "vision_analyst",
		RoleProse: "Visual analysis specialist: print quality issues, CAD reference matching, first-layer inspection, failure detection.",
		ToolAllowlist: []string{"vision.analyze_image", "camera.snapshot"},
		PrimaryTier: domain.TierVision,
		DefaultMaxTokens: 2048,
		DefaultTemperature: 0.3,
	},
	{
		Name: "analyst",
		RoleProse: "Data analyst: metrics interpretation, cost breakdowns, quality scoring, actionable recommendations.",
		ToolAllowlist: []string{"memory.recall", "memory.store"},
		PrimaryTier: domain.TierQ4Tools,
		DefaultMaxTokens: 2048,
		DefaultTemperature: 0.3,
	},
	{
		Name: "summarizer",
		RoleProse: "Content summarizer: compresses while preserving critical information and factual accuracy, conversational tone.",
		ToolAllowlist: nil,
		PrimaryTier: domain.TierSummary,
		DefaultMaxTokens: 512,
		DefaultTemperature: 0.3,
	},
}

// AgentRegistry is the compile-time agent table (spec §4.7). No runtime
// mutation.
type AgentRegistry struct {
	byName map[string]domain.Agent
}

// NewAgentRegistry builds the registry from the default 8-agent table.
func NewAgentRegistry() *AgentRegistry {
	return newAgentRegistryFrom(defaultAgents)
}

func newAgentRegistryFrom(agents []domain.Agent) *AgentRegistry {
	r := &AgentRegistry{byName: make(map[string]domain.Agent, len(agents))}
	for _, a := range agents {
		r.byName[a.Name] = a
	}
	return r
}

// Get returns the named agent, or (zero, false) if unknown.
func (r *AgentRegistry) Get(name string) (domain.Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// GetOrDefault returns the named agent, falling back to DefaultAgentName
// when name is unrecognized (spec §4.6.2: "unresolved → substitute a
// designated researcher default and log"). The bool reports whether the
// fallback was used.
func (r *AgentRegistry) GetOrDefault(name string) (agent domain.Agent, usedFallback bool) {
	if a, ok := r.byName[name]; ok {
		return a, false
	}
	return r.byName[DefaultAgentName], true
}

// Names returns every registered agent name, for planner prompt enumeration.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}

// All returns every registered agent.
func (r *AgentRegistry) All() []domain.Agent {
	out := make([]domain.Agent, 0, len(r.byName))
	for _, a := range r.byName {
		out = append(out, a)
	}
	return out
}
