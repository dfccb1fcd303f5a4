package llmadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/registry"
	"github.com/kitty-ai/orchestrator/internal/slotmanager"
)

func endpointFor(tier domain.Tier, baseURL string, dialect domain.Dialect) *domain.Endpoint {
	return domain.NewEndpoint(tier, baseURL, dialect, "test-model", 1)
}

func newAdapter(endpoints ...*domain.Endpoint) (*Adapter, *registry.EndpointRegistry) {
	reg := registry.NewEndpointRegistry(endpoints)
	slots := slotmanager.New(reg, nil, nil)
	return New(reg, slots), reg
}

func TestGenerate_NativeDialectBuildsChatFramedPrompt(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Errorf("path = %s, want /completion", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"content": "hello",
			"tokens_predicted": 5,
			"tokens_evaluated": 10,
		})
	}))
	defer server.Close()

	a, _ := newAdapter(endpointFor(domain.TierCoder, server.URL, domain.DialectNative))

	text, meta, err := a.Generate(context.Background(), Request{
		Tier: domain.TierCoder,
		Prompt: "write a function",
		SystemPrompt: "you are a coder",
		MaxTokens: 100,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want hello", text)
	}
	if meta.TokensCompletion != 5 || meta.TokensPrompt != 10 {
		t.Errorf("meta = %+v, want tokens 5/10", meta)
	}
	if meta.EndpointUsed != domain.TierCoder || meta.UsedFallback {
		t.Errorf("meta endpoint/fallback = %+v", meta)
	}

	prompt, _ := gotBody["prompt"].(string)
	if prompt != "<|system|>\nyou are a coder</s>\n<|user|>\nwrite a function</s>\n<|assistant|>\n" {
		t.Errorf("unexpected chat-framed prompt: %q", prompt)
	}
	stop, _ := gotBody["stop"].([]any)
	if len(stop) != 3 {
		t.Errorf("stop = %v, want 3 entries", stop)
	}
}

func TestGenerate_GatewayDialectPostsAPIGenerate(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s, want /api/generate", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"response": "thought out",
			"eval_count": 7,
			"prompt_eval_count": 3,
			"thinking": "because",
		})
	}))
	defer server.Close()

	ep := endpointFor(domain.TierDeepReason, server.URL, domain.DialectGateway)
	ep.ThinkingEffort = domain.ThinkingHigh
	a, _ := newAdapter(ep)

	text, meta, err := a.Generate(context.Background(), Request{
		Tier: domain.TierDeepReason,
		Prompt: "reason about this",
		SystemPrompt: "you reason",
		MaxTokens: 256,
		Temperature: 0.6,
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if text != "thought out" {
		t.Errorf("text = %q", text)
	}
	if meta.Thinking != "because" {
		t.Errorf("meta.Thinking = %q, want because", meta.Thinking)
	}
	if meta.TokensCompletion != 7 || meta.TokensPrompt != 3 {
		t.Errorf("meta = %+v", meta)
	}

	options, _ := gotBody["options"].(map[string]any)
	if options["think"] != "high" {
		t.Errorf("options.think = %v, want high", options["think"])
	}
}

func TestGenerate_ReleasesSlotOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ep := endpointFor(domain.TierCoder, server.URL, domain.DialectNative)
	a, _ := newAdapter(ep)

	_, _, err := a.Generate(context.Background(), Request{Tier: domain.TierCoder, Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error on 500 response")
	}
	if ep.ActiveSlots() != 0 {
		t.Errorf("ActiveSlots() = %d after failed generate, want 0 (slot must still release)", ep.ActiveSlots())
	}
}

func TestGenerate_ReleasesSlotOnContextCancellation(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		server.Close()
	}()

	ep := endpointFor(domain.TierCoder, server.URL, domain.DialectNative)
	a, _ := newAdapter(ep)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := a.Generate(ctx, Request{Tier: domain.TierCoder, Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if ep.ActiveSlots() != 0 {
		t.Errorf("ActiveSlots() = %d after cancelled generate, want 0", ep.ActiveSlots())
	}
}

func TestGenerate_UnknownTierFailsWithoutAcquiring(t *testing.T) {
	a, _ := newAdapter(endpointFor(domain.TierCoder, "http://unused", domain.DialectNative))
	_, _, err := a.Generate(context.Background(), Request{Tier: domain.Tier("NOPE"), Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}

func TestGenerate_FallbackTierReflectedInMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": "ok"})
	}))
	defer server.Close()

	primary := endpointFor(domain.TierQ4Tools, server.URL, domain.DialectNative)
	primary.MaxSlots = 1
	primary.TryAcquireSlot() // saturate primary so acquisition must fall back

	fallback := endpointFor(domain.TierCoder, server.URL, domain.DialectNative)
	a, _ := newAdapter(primary, fallback)

	_, meta, err := a.Generate(context.Background(), Request{
		Tier: domain.TierQ4Tools,
		FallbackTier: domain.TierCoder,
		AllowFallback: true,
		Prompt: "x",
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !meta.UsedFallback || meta.EndpointUsed != domain.TierCoder {
		t.Errorf("meta = %+v, want fallback to CODER", meta)
	}
}

func TestGenerateForAgent_PrependsContextAndUsesAgentDefaults(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"content": "ok"})
	}))
	defer server.Close()

	a, _ := newAdapter(endpointFor(domain.TierCoder, server.URL, domain.DialectNative))

	agent := domain.Agent{
		Name: "coder",
		RoleProse: "you write code",
		ToolAllowlist: []string{"lint"},
		PrimaryTier: domain.TierCoder,
		DefaultMaxTokens: 111,
		DefaultTemperature: 0.2,
	}

	_, _, err := a.GenerateForAgent(context.Background(), agent, "fix this bug", "prior findings")
	if err != nil {
		t.Fatalf("GenerateForAgent() error: %v", err)
	}

	prompt, _ := gotBody["prompt"].(string)
	if !strings.Contains(prompt, "prior findings") || !strings.Contains(prompt, "fix this bug") {
		t.Errorf("prompt missing context or task: %q", prompt)
	}
	if !strings.Contains(prompt, "Recommended tools for your tasks: lint") {
		t.Errorf("prompt missing agent tool guidance: %q", prompt)
	}
	if n, _ := gotBody["n_predict"].(float64); int(n) != 111 {
		t.Errorf("n_predict = %v, want 111", gotBody["n_predict"])
	}
}
