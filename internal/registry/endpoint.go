// Package registry holds the two static, post-init-immutable tables C1 and
// C7 describe: the endpoint table and the agent table.
package registry

import "github.com/kitty-ai/orchestrator/internal/domain"

// EndpointRegistry is a pure value table built once at process init (spec
// §4.1). No mutation after construction; all mutable slot/lifecycle state
// lives on the *domain.Endpoint values themselves, not on the registry.
type EndpointRegistry struct {
	byTier map[domain.Tier]*domain.Endpoint
	all    []*domain.Endpoint
}

// NewEndpointRegistry builds the table from a pre-resolved endpoint list,
// typically the output of a domain.ConfigProvider.
func NewEndpointRegistry(endpoints []*domain.Endpoint) *EndpointRegistry {
	r := &EndpointRegistry{
		byTier: make(map[domain.Tier]*domain.Endpoint, len(endpoints)),
		all: make([]*domain.Endpoint, len(endpoints)),
	}
	copy(r.all, endpoints)
	for _, ep := range endpoints {
		r.byTier[ep.Tier] = ep
	}
	return r
}

// Get returns the endpoint for tier, or nil if the tier is unknown.
func (r *EndpointRegistry) Get(tier domain.Tier) *domain.Endpoint {
	return r.byTier[tier]
}

// All returns every registered endpoint. The returned slice is a copy of
// the registry's backing array but shares the *domain.Endpoint pointers.
func (r *EndpointRegistry) All() []*domain.Endpoint {
	out := make([]*domain.Endpoint, len(r.all))
	copy(out, r.all)
	return out
}
