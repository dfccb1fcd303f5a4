package domain

import "time"

// TaskStatus is the lifecycle state of one DAG node. Transitions are
// monotonic: PENDING -> RUNNING -> {COMPLETED, FAILED}, or PENDING -> SKIPPED.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskSkipped   TaskStatus = "SKIPPED"
)

// Terminal reports whether the status is a final one.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// Task is one node in the DAG produced by decomposition, executed by one
// call through the LLM adapter.
type Task struct {
	ID            string
	Description   string
	AssignedAgent string
	DependsOn     []string

	Status TaskStatus

	StartedAt   time.Time
	CompletedAt time.Time

	ResultText       string
	TokensPrompt     int
	TokensCompletion int
	LatencyMS        int64
	EndpointUsed     Tier
	UsedFallback     bool

	ErrorMessage string
}

// MarkRunning transitions PENDING -> RUNNING and stamps the start time.
// Callers are responsible for checking that every DependsOn entry has
// reached a terminal status first (the orchestrator also runs a task whose
// dependencies FAILED or were SKIPPED); this method does not re-check that.
func (t *Task) MarkRunning(now time.Time) {
	t.Status = TaskRunning
	t.StartedAt = now
}

// MarkCompleted transitions RUNNING -> COMPLETED with results.
func (t *Task) MarkCompleted(now time.Time, result string, tokensPrompt, tokensCompletion int, endpoint Tier, usedFallback bool) {
	t.Status = TaskCompleted
	t.CompletedAt = now
	t.ResultText = result
	t.TokensPrompt = tokensPrompt
	t.TokensCompletion = tokensCompletion
	t.EndpointUsed = endpoint
	t.UsedFallback = usedFallback
	if !t.StartedAt.IsZero() {
		t.LatencyMS = now.Sub(t.StartedAt).Milliseconds()
	}
}

// MarkFailed transitions RUNNING -> FAILED with an error message. The
// result text is still populated with a sentinel so downstream tasks that
// depend on this id see explicit failure context instead of blocking.
func (t *Task) MarkFailed(now time.Time, errMsg string) {
	t.Status = TaskFailed
	t.CompletedAt = now
	t.ErrorMessage = errMsg
	t.ResultText = "[task failed: " + errMsg + "]"
	if !t.StartedAt.IsZero() {
		t.LatencyMS = now.Sub(t.StartedAt).Milliseconds()
	}
}

// MarkSkipped transitions PENDING -> SKIPPED with a reason, used when a
// dependency cycle blocks the task from ever becoming ready or when the run
// is cancelled before the task is launched.
func (t *Task) MarkSkipped(now time.Time, reason string) {
	t.Status = TaskSkipped
	t.CompletedAt = now
	t.ErrorMessage = reason
	t.ResultText = "[task skipped: " + reason + "]"
}

// LogEntry is one timestamped line in a goal run's execution log.
type LogEntry struct {
	Timestamp time.Time
	Level     string // "info" | "warning" | "error"
	Message   string
}

// Metrics aggregates a completed (or partially completed) goal run.
type Metrics struct {
	TotalDurationMS int64
	TotalTokens     int
	TotalTasks      int
	Completed       int
	Failed          int
	ParallelBatches int
	EndpointsUsed   []Tier
	FallbackCount   int
}

// GoalRun is the aggregate returned by TaskOrchestrator.ExecuteGoal. It is
// created fresh per call and never persisted by the core.
type GoalRun struct {
	RunID        string // correlates this run's log lines and metrics across callers
	GoalText     string
	Tasks        []*Task
	FinalOutput  string
	VoiceSummary string
	Metrics      Metrics
	ExecutionLog []LogEntry
	Partial      bool // true if the caller cancelled before all tasks finished
}
