package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kitty-ai/orchestrator/internal/domain"
)

type fakeProvider struct {
	endpoints []*domain.Endpoint
}

func (p *fakeProvider) Endpoints() ([]*domain.Endpoint, error) { return p.endpoints, nil }
func (p *fakeProvider) Agents() ([]domain.Agent, error) { return nil, nil }

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(stub.Close)

	ep := domain.NewEndpoint(domain.TierCoder, stub.URL, domain.DialectNative, "test-model", 1)
	d, err := NewWithProvider(&fakeProvider{endpoints: []*domain.Endpoint{ep}})
	if err != nil {
		t.Fatalf("NewWithProvider() error: %v", err)
	}
	return d
}

func TestNewWithProvider_WiresEveryComponent(t *testing.T) {
	d := newTestDaemon(t)

	if d.Endpoints == nil || d.Agents == nil || d.Supervisor == nil || d.Slots == nil ||
		d.Reaper == nil || d.Adapter == nil || d.Orchestrator == nil || d.Obs == nil {
		t.Fatalf("daemon has unwired components: %+v", d)
	}
	if d.Endpoints.Get(domain.TierCoder) == nil {
		t.Errorf("expected CODER endpoint to be registered")
	}
	if _, ok := d.Agents.Get("researcher"); !ok {
		t.Errorf("expected default agent table to include researcher")
	}
}

func TestDaemon_ObsHandlerServesHealthz(t *testing.T) {
	d := newTestDaemon(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	d.Obs.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestDaemon_ExecuteGoalRunsThroughOrchestrator(t *testing.T) {
	d := newTestDaemon(t)
	defer d.Close()

	run := d.ExecuteGoal(context.Background(), "investigate the thing", 1, nil)
	if run == nil {
		t.Fatalf("ExecuteGoal() returned nil")
	}
	if run.GoalText != "investigate the thing" {
		t.Errorf("GoalText = %q", run.GoalText)
	}
}

func TestDaemon_CloseStopsReaperWithoutPanicking(t *testing.T) {
	d := newTestDaemon(t)
	d.Reaper.Start(context.Background(), 1)
	d.Close()
	if d.Reaper.IsRunning() {
		t.Errorf("reaper still running after Close()")
	}
}
