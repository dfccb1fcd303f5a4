package registry

import "testing"

func TestAgentRegistry_GetKnown(t *testing.T) {
	r := NewAgentRegistry()
	a, ok := r.Get("coder")
	if !ok {
		t.Fatalf("Get(coder) missing")
	}
	if a.PrimaryTier != "CODER" {
		t.Errorf("PrimaryTier = %q, want CODER", a.PrimaryTier)
	}
	if !a.HasFallback() {
		t.Errorf("coder should declare a fallback tier")
	}
}

func TestAgentRegistry_GetOrDefault_UnknownFallsBackToResearcher(t *testing.T) {
	r := NewAgentRegistry()
	a, usedFallback := r.GetOrDefault("nonexistent-agent")
	if !usedFallback {
		t.Fatalf("expected usedFallback = true for unknown agent")
	}
	if a.Name != DefaultAgentName {
		t.Errorf("fallback agent = %q, want %q", a.Name, DefaultAgentName)
	}
}

func TestAgentRegistry_GetOrDefault_KnownNoFallbackFlag(t *testing.T) {
	r := NewAgentRegistry()
	a, usedFallback := r.GetOrDefault("researcher")
	if usedFallback {
		t.Fatalf("expected usedFallback = false for known agent")
	}
	if a.Name != "researcher" {
		t.Errorf("agent = %q, want researcher", a.Name)
	}
}

func TestAgentRegistry_AllHasEightAgents(t *testing.T) {
	r := NewAgentRegistry()
	if got := len(r.All()); got != 8 {
		t.Errorf("len(All()) = %d, want 8", got)
	}
}

func TestAgentRegistry_NamesCoversReasoner(t *testing.T) {
	r := NewAgentRegistry()
	names := r.Names()
	found := false
	for _, n := range names {
		if n == "reasoner" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() missing reasoner: %v", names)
	}
}
