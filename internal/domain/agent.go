package domain

// Agent is an immutable record: a named role with default tier, fallback
// tier, and soft tool allowlist. Agents are values, not entities - equality
// is by Name, and the registry never mutates one after construction.
type Agent struct {
	Name          string
	RoleProse     string
	ToolAllowlist []string

	PrimaryTier  Tier
	FallbackTier Tier // zero value ("") means no fallback

	DefaultMaxTokens   int
	DefaultTemperature float32
}

// HasFallback reports whether the agent declares a fallback tier.
func (a Agent) HasFallback() bool {
	return a.FallbackTier != ""
}

// BuildSystemPrompt returns the agent's base role prose, optionally
// followed by a normative sentence naming its recommended tools.
func (a Agent) BuildSystemPrompt(includeTools bool) string {
	prompt := a.RoleProse
	if includeTools && len(a.ToolAllowlist) > 0 {
		tools := ""
		for i, t := range a.ToolAllowlist {
			if i > 0 {
				tools += ", "
			}
			tools += t
		}
		prompt += "\n\nRecommended tools for your tasks: " + tools
		prompt += "\nUse these tools when appropriate, but you may use others if needed."
	}
	return prompt
}
