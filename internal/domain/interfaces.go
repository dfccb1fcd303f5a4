package domain

import "context"

// These interfaces name the collaborators the core consumes but never
// implements (spec §1). Production wiring supplies concrete adapters; the
// core only ever holds the interface.

// ConfigProvider resolves endpoint and agent configuration from wherever the
// deployment keeps it (environment, file, remote store). internal/config's
// env-backed implementation is the only one this module ships.
type ConfigProvider interface {
	Endpoints() ([]*Endpoint, error)
	Agents() ([]Agent, error)
}

// ModelCatalog reports what model is actually loaded behind an endpoint's
// base URL, for status surfaces that want to show more than the tier name.
type ModelCatalog interface {
	LoadedModel(ctx context.Context, tier Tier) (*LoadedModel, error)
}

// ToolExecutor runs a tool call named in an agent's ToolAllowlist and
// returns its textual result. The core only ever injects soft tool guidance
// into prompts (spec §4.5) - it never calls a ToolExecutor itself. The
// interface exists so a host process can wire one in without the core
// needing to know about it.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]string) (string, error)
}

// KnowledgeStore supplies retrieved context a goal run can fold into a
// task's prompt before dispatch. Entirely out of scope for this module's
// own logic - named here only so callers can pass one through without the
// core needing an import cycle back to a retrieval package.
type KnowledgeStore interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}
