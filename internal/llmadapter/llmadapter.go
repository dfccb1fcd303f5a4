// Package llmadapter implements C5, the thin slot-aware client that
// multiplexes the two wire dialects and pairs every slot acquisition with
// a release on every exit path.
package llmadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/obs"
	"github.com/kitty-ai/orchestrator/internal/registry"
	"github.com/kitty-ai/orchestrator/internal/slotmanager"
)

// DefaultRequestTimeout is the per-request timeout when the caller doesn't
// override it (spec §4.5 step 4).
const DefaultRequestTimeout = 120 * time.Second

// SlotManager is the slice of C2 the adapter needs.
type SlotManager interface {
	AcquireSlot(ctx context.Context, tier domain.Tier, opts slotmanager.AcquireOptions) (domain.Tier, bool)
	ReleaseSlot(tier domain.Tier)
}

// Request is one generation call (spec §4.5).
type Request struct {
	Tier          domain.Tier
	FallbackTier  domain.Tier
	AllowFallback bool
	Prompt        string
	SystemPrompt  string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
}

// Metadata is the adapter's returned usage/accounting record (spec §4.5
// step 6).
type Metadata struct {
	EndpointUsed     domain.Tier
	UsedFallback     bool
	LatencyMS        int64
	TokensPrompt     int
	TokensCompletion int
	Thinking         string
}

// Adapter is stateless beyond a reusable HTTP client and a SlotManager
// reference (spec §4.5 contract).
type Adapter struct {
	registry *registry.EndpointRegistry
	slots    SlotManager
	client   *http.Client
}

// New constructs an Adapter.
func New(reg *registry.EndpointRegistry, slots SlotManager) *Adapter {
	return &Adapter{
		registry: reg,
		slots: slots,
		client: &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// Generate acquires a slot, issues the dialect-specific request, releases
// the slot on every exit path, and returns text plus usage metadata.
func (a *Adapter) Generate(ctx context.Context, req Request) (string, Metadata, error) {
	opts := slotmanager.DefaultAcquireOptions()
	opts.AllowFallback = req.AllowFallback
	opts.FallbackTier = req.FallbackTier
	actualTier, acquired := a.slots.AcquireSlot(ctx, req.Tier, opts)
	if !acquired {
		obs.RecordGeneration(string(req.Tier), "capacity_error", 0)
		return "", Metadata{}, &domain.Error{Kind: domain.KindCapacity, Op: fmt.Sprintf("acquire slot for %s", req.Tier), Err: domain.ErrCapacity}
	}
	defer a.slots.ReleaseSlot(actualTier)

	ep := a.registry.Get(actualTier)
	if ep == nil {
		obs.RecordGeneration(string(actualTier), "config_error", 0)
		return "", Metadata{}, &domain.Error{Kind: domain.KindConfig, Op: fmt.Sprintf("resolve endpoint %s", actualTier), Err: domain.ErrUnknownTier}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var (
		text string
		meta Metadata
		err error
	)
	switch ep.Dialect {
	case domain.DialectGateway:
		text, meta, err = a.generateGateway(reqCtx, ep, req, req.SystemPrompt)
	default:
		text, meta, err = a.generateNative(reqCtx, ep, req, req.SystemPrompt)
	}
	elapsed := time.Since(start)
	if err != nil {
		obs.RecordGeneration(string(actualTier), "error", elapsed.Seconds())
		return "", Metadata{}, err
	}

	meta.LatencyMS = elapsed.Milliseconds()
	meta.EndpointUsed = actualTier
	meta.UsedFallback = actualTier != req.Tier
	obs.RecordGeneration(string(actualTier), "ok", elapsed.Seconds())
	obs.InferenceTokens.WithLabelValues(string(actualTier), "prompt").Add(float64(meta.TokensPrompt))
	obs.InferenceTokens.WithLabelValues(string(actualTier), "completion").Add(float64(meta.TokensCompletion))
	if meta.UsedFallback {
		obs.InferenceFallbacks.WithLabelValues(string(req.Tier), string(actualTier)).Inc()
	}
	return text, meta, nil
}

// GenerateForAgent prepends context to prompt and resolves tier, system
// prompt, token/temperature defaults, and fallback eligibility from agent,
// matching llm_adapter.py's generate_for_agent.
func (a *Adapter) GenerateForAgent(ctx context.Context, agent domain.Agent, prompt, agentContext string) (string, Metadata, error) {
	fullPrompt := prompt
	if agentContext != "" {
		fullPrompt = agentContext + "\n\n" + prompt
	}
	req := Request{
		Tier: agent.PrimaryTier,
		FallbackTier: agent.FallbackTier,
		AllowFallback: agent.HasFallback(),
		Prompt: fullPrompt,
		SystemPrompt: agent.BuildSystemPrompt(true),
		MaxTokens: agent.DefaultMaxTokens,
		Temperature: agent.DefaultTemperature,
	}
	return a.Generate(ctx, req)
}

// generateNative speaks llama.cpp's flat-prompt /completion protocol (spec
// §4.5 step 2, §6.3), framing the prompt with explicit role delimiters
// exactly as llm_adapter.py's _generate_llamacpp does.
func (a *Adapter) generateNative(ctx context.Context, ep *domain.Endpoint, req Request, systemPrompt string) (string, Metadata, error) {
	fullPrompt := fmt.Sprintf("<|system|>\n%s</s>\n<|user|>\n%s</s>\n<|assistant|>\n", systemPrompt, req.Prompt)

	body := map[string]any{
		"prompt": fullPrompt,
		"n_predict": req.MaxTokens,
		"temperature": req.Temperature,
		"top_p": 0.9,
		"stop": []string{"</s>", "<|user|>", "<|system|>"},
		"stream": false,
	}

	var resp struct {
		Content string `json:"content"`
		TokensPredicted int `json:"tokens_predicted"`
		TokensEvaluated int `json:"tokens_evaluated"`
	}
	if err := a.postJSON(ctx, ep.BaseURL+"/completion", body, &resp); err != nil {
		return "", Metadata{}, &domain.Error{Kind: domain.KindTransport, Op: "native completion", Err: err}
	}
	return resp.Content, Metadata{
		TokensCompletion: resp.TokensPredicted,
		TokensPrompt: resp.TokensEvaluated,
	}, nil
}

// generateGateway speaks an Ollama-style /api/generate protocol (spec
// §4.5 step 2, §6.3), plumbing options.think when the endpoint declares a
// thinking effort, grounded on llm_adapter.py's _generate_ollama.
func (a *Adapter) generateGateway(ctx context.Context, ep *domain.Endpoint, req Request, systemPrompt string) (string, Metadata, error) {
	options := map[string]any{
		"num_predict": req.MaxTokens,
		"temperature": req.Temperature,
	}
	if ep.ThinkingEffort != domain.ThinkingNone {
		options["think"] = string(ep.ThinkingEffort)
	}

	body := map[string]any{
		"model": ep.ModelID,
		"prompt": req.Prompt,
		"system": systemPrompt,
		"stream": false,
		"options": options,
	}

	var resp struct {
		Response string `json:"response"`
		EvalCount int `json:"eval_count"`
		PromptEvalCount int `json:"prompt_eval_count"`
		Thinking string `json:"thinking"`
	}
	if err := a.postJSON(ctx, ep.BaseURL+"/api/generate", body, &resp); err != nil {
		return "", Metadata{}, &domain.Error{Kind: domain.KindTransport, Op: "gateway generate", Err: err}
	}
	return resp.Response, Metadata{
		TokensCompletion: resp.EvalCount,
		TokensPrompt: resp.PromptEvalCount,
		Thinking: resp.Thinking,
	}, nil
}

func (a *Adapter) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", domain.ErrProtocol, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrProtocol, err)
	}
	return nil
}
