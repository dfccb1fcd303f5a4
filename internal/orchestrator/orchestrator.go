// Package orchestrator implements C6, the goal decomposer and DAG
// scheduler: decompose a goal into a task graph, execute ready tasks
// concurrently under a global and per-endpoint slot budget, synthesize a
// final answer.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kitty-ai/orchestrator/internal/domain"
	"github.com/kitty-ai/orchestrator/internal/llmadapter"
	"github.com/kitty-ai/orchestrator/internal/obs"
)

// DefaultMaxParallel is the global concurrent-task ceiling (spec §5).
const DefaultMaxParallel = 8

// maxTasksHardClamp is the absolute ceiling on decomposition output,
// independent of the caller-supplied max_tasks (spec §9 open question:
// "keep a hard clamp but log overflow").
const maxTasksHardClamp = 6

const (
	depTruncateChars    = 1500
	synthesisTruncation = 2000
	voiceSummaryChars   = 3000
)

// LLMAdapter is the slice of C5 the orchestrator drives.
type LLMAdapter interface {
	Generate(ctx context.Context, req llmadapter.Request) (string, llmadapter.Metadata, error)
	GenerateForAgent(ctx context.Context, agent domain.Agent, prompt, agentContext string) (string, llmadapter.Metadata, error)
}

// AgentLookup is the slice of C7 the orchestrator needs.
type AgentLookup interface {
	GetOrDefault(name string) (agent domain.Agent, usedFallback bool)
	All() []domain.Agent
}

// Orchestrator is C6.
type Orchestrator struct {
	adapter     LLMAdapter
	agents      AgentLookup
	maxParallel int
	logger      *log.Logger

	// Tier selection for the orchestrator's own calls, grounded on
	// parallel_manager.py's hardcoded tier choices: Q4 for fast
	// decomposition, the deep-reasoning tier for synthesis, the summary
	// tier for the optional voice pass.
	PlannerTier   domain.Tier
	SynthesisTier domain.Tier
	SummaryTier   domain.Tier
}

// New constructs an Orchestrator with the default tier assignments.
func New(adapter LLMAdapter, agents AgentLookup, maxParallel int, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Orchestrator{
		adapter: adapter,
		agents: agents,
		maxParallel: maxParallel,
		logger: logger,
		PlannerTier: domain.TierQ4Tools,
		SynthesisTier: domain.TierDeepReason,
		SummaryTier: domain.TierSummary,
	}
}

// ExecuteGoal is the full decompose → parallel-execute → synthesize
// pipeline (spec §4.6.1). seedContext pre-populates the results map with
// already-known task-id → text entries, treated as already settled.
func (o *Orchestrator) ExecuteGoal(ctx context.Context, goalText string, maxTasks int, seedContext map[string]string) *domain.GoalRun {
	start := time.Now()
	run := &domain.GoalRun{RunID: uuid.NewString(), GoalText: goalText}

	o.logEntry(run, "info", fmt.Sprintf("[%s] starting parallel execution for: %s", run.RunID, truncate(goalText, 100)))

	tasks := o.decomposeGoal(ctx, run, goalText, maxTasks)
	results, partial := o.executeParallel(ctx, run, tasks, seedContext)
	finalOutput := o.synthesize(ctx, run, goalText, tasks, results)
	voiceSummary := o.createVoiceSummary(ctx, run, finalOutput)

	run.Tasks = tasks
	run.FinalOutput = finalOutput
	run.VoiceSummary = voiceSummary
	run.Partial = partial
	duration := time.Since(start)
	run.Metrics = computeMetrics(tasks, duration)

	obs.GoalRunsTotal.WithLabelValues(fmt.Sprintf("%t", partial)).Inc()
	obs.GoalRunDurationSeconds.Observe(duration.Seconds())
	obs.ParallelBatches.Observe(float64(run.Metrics.ParallelBatches))

	o.logEntry(run, "info", fmt.Sprintf("completed in %dms (%d tokens, %d batches)",
		run.Metrics.TotalDurationMS, run.Metrics.TotalTokens, run.Metrics.ParallelBatches))

	return run
}

func (o *Orchestrator) logEntry(run *domain.GoalRun, level, message string) {
	run.ExecutionLog = append(run.ExecutionLog, domain.LogEntry{
		Timestamp: time.Now(),
		Level: level,
		Message: message,
	})
	switch level {
	case "error":
		o.logger.Printf("orchestrator ERROR: %s", message)
	case "warning":
		o.logger.Printf("orchestrator WARN: %s", message)
	default:
		o.logger.Printf("orchestrator: %s", message)
	}
}

// decomposeGoal asks the planner tier for a task graph, falling back to a
// deterministic template on any parse failure (spec §4.6.2).
func (o *Orchestrator) decomposeGoal(ctx context.Context, run *domain.GoalRun, goalText string, maxTasks int) []*domain.Task {
	if maxTasks <= 0 || maxTasks > maxTasksHardClamp {
		maxTasks = maxTasksHardClamp
	}
	o.logEntry(run, "info", fmt.Sprintf("decomposing goal into at most %d tasks", maxTasks))

	prompt := o.decompositionPrompt(goalText, maxTasks)
	response, _, err := o.adapter.Generate(ctx, llmadapter.Request{
		Tier: o.PlannerTier,
		Prompt: prompt,
		SystemPrompt: "You are a task planning expert. Output valid JSON only.",
		MaxTokens: 1024,
		Temperature: 0.3,
	})

	var tasks []*domain.Task
	if err != nil {
		o.logEntry(run, "error", fmt.Sprintf("decomposition call failed: %v", err))
		tasks = o.fallbackTasks(goalText)
	} else {
		tasks, err = o.parseTasks(run, response, goalText, maxTasks)
		if err != nil || len(tasks) == 0 {
			o.logEntry(run, "warning", fmt.Sprintf("decomposition response unusable, using fallback template: %v", err))
			tasks = o.fallbackTasks(goalText)
		}
	}

	for _, t := range tasks {
		if len(t.DependsOn) > 0 {
			o.logEntry(run, "info", fmt.Sprintf(" task %s: %s -> %s (needs: %s)",
				t.ID, truncate(t.Description, 50), t.AssignedAgent, strings.Join(t.DependsOn, ", ")))
		} else {
			o.logEntry(run, "info", fmt.Sprintf(" task %s: %s -> %s (parallel)",
				t.ID, truncate(t.Description, 50), t.AssignedAgent))
		}
	}
	return tasks
}

func (o *Orchestrator) decompositionPrompt(goalText string, maxTasks int) string {
	var sb strings.Builder
	for _, a := range o.agents.All() {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name, a.RoleProse)
	}

	return fmt.Sprintf(`Decompose this goal into %d or fewer specific subtasks.
Maximize parallelism by minimizing dependencies where possible.
Assign each task to the most appropriate agent.

Goal: %s

Available agents:
%s
Rules:
1. Tasks with no dependencies can run in parallel
2. Only add dependencies if output is truly required
3. Use 'reasoner' for final synthesis tasks
4. Use 'researcher' for any web lookups
5. Use 'coder' for code generation tasks
6. Use 'cad_designer' for 3D model creation
7. Use 'fabricator' for printing/manufacturing
8. Use 'vision_analyst' for image analysis
9. Use 'analyst' for data/metrics analysis
10. Use 'summarizer' for compression

Respond with ONLY a JSON array:
[
 {"id": "task_1", "description": "...", "assigned_agent": "researcher", "depends_on": []},
 {"id": "task_2", "description": "...", "assigned_agent": "coder", "depends_on": []},
 {"id": "task_3", "description": "...", "assigned_agent": "reasoner", "depends_on": ["task_1", "task_2"]}
]`, maxTasks, goalText, sb.String())
}

var taskArrayPattern = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)

type rawTask struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	AssignedAgent string `json:"assigned_agent"`
	DependsOn     []string `json:"depends_on"`
}

// parseTasks extracts the first JSON array substring from response and
// validates it per spec §4.6.2: unique ids, agent resolution with
// researcher fallback, dependency references pruned to known ids.
func (o *Orchestrator) parseTasks(run *domain.GoalRun, response, goalText string, maxTasks int) ([]*domain.Task, error) {
	match := taskArrayPattern.FindString(response)
	if match == "" {
		return nil, fmt.Errorf("%w: no JSON array found", domain.ErrPlanUnparseable)
	}

	var raw []rawTask
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanUnparseable, err)
	}

	if len(raw) > maxTasks {
		o.logEntry(run, "warning", fmt.Sprintf("planner returned %d tasks, clamping to %d", len(raw), maxTasks))
		raw = raw[:maxTasks]
	}

	seen := make(map[string]bool, len(raw))
	tasks := make([]*domain.Task, 0, len(raw))
	for i, r := range raw {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("task_%d", i+1)
		}
		if seen[id] {
			o.logEntry(run, "warning", fmt.Sprintf("duplicate task id %q dropped", id))
			continue
		}
		seen[id] = true

		description := r.Description
		if description == "" {
			description = goalText
		}

		agentName := r.AssignedAgent
		if agentName == "" {
			agentName = "researcher"
		}
		agent, usedFallback := o.agents.GetOrDefault(agentName)
		if usedFallback {
			o.logEntry(run, "warning", fmt.Sprintf("unknown agent %q for task %s, using %s", agentName, id, agent.Name))
		}

		tasks = append(tasks, &domain.Task{
			ID: id,
			Description: description,
			AssignedAgent: agent.Name,
			DependsOn: r.DependsOn,
			Status: domain.TaskPending,
		})
	}

	validIDs := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		validIDs[t.ID] = true
	}
	for _, t := range tasks {
		kept := t.DependsOn[:0]
		for _, dep := range t.DependsOn {
			if validIDs[dep] {
				kept = append(kept, dep)
			} else {
				o.logEntry(run, "warning", fmt.Sprintf("task %s depends on unknown id %q, dropped", t.ID, dep))
			}
		}
		t.DependsOn = kept
	}

	return tasks, nil
}

// fallbackTasks builds a deterministic three-task plan keyed by keywords in
// goalText (spec §4.6.2 fallback decomposition), grounded on
// parallel_manager.py's _create_fallback_tasks.
func (o *Orchestrator) fallbackTasks(goalText string) []*domain.Task {
	lower := strings.ToLower(goalText)

	type seed struct {
		id, description, agent string
		deps []string
	}

	var plan []seed
	switch {
	case containsAny(lower, "code", "implement", "program", "script"):
		plan = []seed{
			{"task_1", "Research best practices for: " + goalText, "researcher", nil},
			{"task_2", "Implement code solution for: " + goalText, "coder", nil},
			{"task_3", "Synthesize research and code into final answer", "reasoner", []string{"task_1", "task_2"}},
		}
	case containsAny(lower, "design", "cad", "model", "print", "3d"):
		plan = []seed{
			{"task_1", "Search for reference designs: " + goalText, "researcher", nil},
			{"task_2", "Generate CAD model for: " + goalText, "cad_designer", []string{"task_1"}},
			{"task_3", "Analyze printability and recommend settings", "fabricator", []string{"task_2"}},
		}
	default:
		plan = []seed{
			{"task_1", "Research: " + goalText, "researcher", nil},
			{"task_2", "Analyze and structure findings", "analyst", []string{"task_1"}},
			{"task_3", "Synthesize into comprehensive answer", "reasoner", []string{"task_2"}},
		}
	}

	tasks := make([]*domain.Task, 0, len(plan))
	for _, s := range plan {
		agent, _ := o.agents.GetOrDefault(s.agent)
		tasks = append(tasks, &domain.Task{
			ID: s.id,
			Description: s.description,
			AssignedAgent: agent.Name,
			DependsOn: s.deps,
			Status: domain.TaskPending,
		})
	}
	return tasks
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// executeParallel schedules the DAG by topological layer, launching each
// ready batch concurrently under the global semaphore (spec §4.6.3).
func (o *Orchestrator) executeParallel(ctx context.Context, run *domain.GoalRun, tasks []*domain.Task, seedContext map[string]string) (map[string]string, bool) {
	o.logEntry(run, "info", fmt.Sprintf("executing %d tasks with parallel orchestration", len(tasks)))

	byID := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	results := make(map[string]string, len(seedContext)+len(tasks))
	settled := make(map[string]bool, len(tasks))
	for id, text := range seedContext {
		results[id] = text
		settled[id] = true
	}

	pending := make(map[string]*domain.Task)
	for _, t := range tasks {
		if !settled[t.ID] {
			pending[t.ID] = t
		}
	}

	sem := make(chan struct{}, o.maxParallel)
	batchNum := 0
	partial := false

	for len(pending) > 0 {
		if ctx.Err() != nil {
			partial = true
			for id, t := range pending {
				t.MarkSkipped(time.Now(), "cancelled")
				results[id] = t.ResultText
				obs.TasksCompleted.WithLabelValues(t.AssignedAgent, string(t.Status)).Inc()
				delete(pending, id)
			}
			o.logEntry(run, "warning", "run cancelled, remaining tasks skipped")
			break
		}

		var ready []*domain.Task
		for _, t := range pending {
			if dependenciesSettled(t, settled) {
				ready = append(ready, t)
			}
		}

		if len(ready) == 0 {
			o.logEntry(run, "warning", "no ready tasks, blocked by cycle")
			for id, t := range pending {
				t.MarkSkipped(time.Now(), "blocked by cycle")
				results[id] = t.ResultText
				obs.TasksCompleted.WithLabelValues(t.AssignedAgent, string(t.Status)).Inc()
				delete(pending, id)
			}
			break
		}

		batchNum++
		ids := make([]string, len(ready))
		for i, t := range ready {
			ids[i] = t.ID
		}
		o.logEntry(run, "info", fmt.Sprintf(" batch %d: %s", batchNum, strings.Join(ids, ", ")))

		outcomes := make([]string, len(ready))
		bgCtx := context.WithoutCancel(ctx)
		var wg sync.WaitGroup
		for i, t := range ready {
			wg.Add(1)
			go func(i int, t *domain.Task) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outcomes[i] = o.executeSingleTask(bgCtx, t, results)
			}(i, t)
		}
		wg.Wait()

		for i, t := range ready {
			results[t.ID] = outcomes[i]
			settled[t.ID] = true
			delete(pending, t.ID)
		}
	}

	return results, partial
}

func dependenciesSettled(t *domain.Task, settled map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !settled[dep] {
			return false
		}
	}
	return true
}

// executeSingleTask runs one task to completion against its assigned
// agent, building a prompt from truncated upstream dependency results
// (spec §4.6.3 step 4). It never returns an error: failure is recorded on
// the task itself and the sentinel result text is returned so dependents
// see explicit failure context.
func (o *Orchestrator) executeSingleTask(ctx context.Context, t *domain.Task, upstream map[string]string) string {
	now := time.Now()
	t.MarkRunning(now)

	obs.TasksActive.Inc()
	defer obs.TasksActive.Dec()

	agent, _ := o.agents.GetOrDefault(t.AssignedAgent)

	var parts []string
	for _, dep := range t.DependsOn {
		if text, ok := upstream[dep]; ok {
			parts = append(parts, fmt.Sprintf("### %s result:\n%s", dep, truncate(text, depTruncateChars)))
		}
	}

	prompt := t.Description + "\n\n"
	if len(parts) > 0 {
		prompt += "Context from previous tasks:\n" + strings.Join(parts, "\n\n") + "\n\n"
	}
	prompt += "Provide a thorough, actionable response:"

	result, meta, err := o.adapter.GenerateForAgent(ctx, agent, prompt, "")
	if err != nil {
		t.MarkFailed(time.Now(), err.Error())
		obs.TasksCompleted.WithLabelValues(agent.Name, string(t.Status)).Inc()
		return t.ResultText
	}

	t.MarkCompleted(time.Now(), result, meta.TokensPrompt, meta.TokensCompletion, meta.EndpointUsed, meta.UsedFallback)
	obs.TasksCompleted.WithLabelValues(agent.Name, string(t.Status)).Inc()
	return result
}

// synthesize issues the final combining call on the synthesis tier,
// degrading to an explicit concatenation on failure (spec §4.6.4, §4.6.6).
func (o *Orchestrator) synthesize(ctx context.Context, run *domain.GoalRun, goalText string, tasks []*domain.Task, results map[string]string) string {
	o.logEntry(run, "info", "synthesizing results with deep reasoning")

	var sb strings.Builder
	for _, t := range tasks {
		text := results[t.ID]
		fmt.Fprintf(&sb, "### %s\n%s\n\n", t.ID, truncate(text, synthesisTruncation))
	}

	prompt := fmt.Sprintf(`Synthesize these task results into one comprehensive, actionable answer.

## Original Goal
%s

## Task Results
%s
## Instructions
1. Integrate all findings into a coherent response
2. Resolve any contradictions between sources
3. Highlight key insights and recommendations
4. Structure for clarity (use headers if helpful)
5. Be thorough but concise

## Final Answer`, goalText, sb.String())

	output, meta, err := o.adapter.Generate(ctx, llmadapter.Request{
		Tier: o.SynthesisTier,
		Prompt: prompt,
		SystemPrompt: "You are the orchestrator's synthesis agent. Create unified, insightful responses.",
		MaxTokens: 4096,
		Temperature: 0.5,
	})
	if err != nil {
		o.logEntry(run, "error", fmt.Sprintf("synthesis failed: %v", err))
		var concat strings.Builder
		concat.WriteString("Synthesis failed: combining task results directly.\n\n")
		for _, t := range tasks {
			fmt.Fprintf(&concat, "### %s\n%s\n\n", t.ID, results[t.ID])
		}
		return concat.String()
	}

	o.logEntry(run, "info", fmt.Sprintf("synthesis complete (%dms)", meta.LatencyMS))
	return output
}

// createVoiceSummary is the optional TTS-friendly pass; failures degrade
// to empty string and never fail the run (spec §4.6.4).
func (o *Orchestrator) createVoiceSummary(ctx context.Context, run *domain.GoalRun, finalOutput string) string {
	result, _, err := o.adapter.Generate(ctx, llmadapter.Request{
		Tier: o.SummaryTier,
		Prompt: fmt.Sprintf("Summarize this for voice output (2-3 sentences, conversational):\n\n%s", truncate(finalOutput, voiceSummaryChars)),
		SystemPrompt: "Create brief, natural summaries suitable for text-to-speech.",
		MaxTokens: 256,
		Temperature: 0.4,
	})
	if err != nil {
		o.logEntry(run, "warning", fmt.Sprintf("voice summary failed: %v", err))
		return ""
	}
	return result
}

// computeMetrics aggregates the final GoalRun metrics (spec §4.6.5).
func computeMetrics(tasks []*domain.Task, totalDuration time.Duration) domain.Metrics {
	m := domain.Metrics{
		TotalDurationMS: totalDuration.Milliseconds(),
		TotalTasks: len(tasks),
	}

	endpointSet := make(map[domain.Tier]bool)
	for _, t := range tasks {
		m.TotalTokens += t.TokensPrompt + t.TokensCompletion
		switch t.Status {
		case domain.TaskCompleted:
			m.Completed++
		case domain.TaskFailed:
			m.Failed++
		}
		if t.UsedFallback {
			m.FallbackCount++
		}
		if t.EndpointUsed != "" {
			endpointSet[t.EndpointUsed] = true
		}
	}
	m.ParallelBatches = countParallelBatches(tasks)
	for tier := range endpointSet {
		m.EndpointsUsed = append(m.EndpointsUsed, tier)
	}
	return m
}

// countParallelBatches counts topological layers over the final DependsOn
// graph of every task, not the batches the scheduler actually launched.
// For a cancelled run it also counts the layers of tasks skipped as
// cancelled, so it can exceed the number of batches that ran.
func countParallelBatches(tasks []*domain.Task) int {
	byID := make(map[string]*domain.Task, len(tasks))
	remaining := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		remaining[t.ID] = true
	}

	completed := make(map[string]bool, len(tasks))
	batches := 0
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if dependenciesSettled(byID[id], completed) {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			break
		}
		for _, id := range ready {
			completed[id] = true
			delete(remaining, id)
		}
		batches++
	}
	return batches
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
