package obs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitty-ai/orchestrator/internal/domain"
)

// SlotManager is the slice of C2 the status surface reads. The status
// endpoint only reports cached slot state, never a blocking health probe.
type SlotManager interface {
	Status() map[domain.Tier]domain.EndpointStatus
	TotalCapacity() int
	TotalActive() int
	TotalAvailable() int
}

// Reaper is the slice of C4 the status surface reads.
type Reaper interface {
	IsRunning() bool
}

// Server is the orchestrator's introspection HTTP surface: liveness,
// aggregate status, and a Prometheus /metrics endpoint, grounded on
// api/server.go's chi wiring.
type Server struct {
	slots  SlotManager
	reaper Reaper
}

// NewServer constructs the introspection server over a live slot manager
// and reaper. reaper may be nil, in which case the status response reports
// reaper_running as false.
func NewServer(slots SlotManager, reaper Reaper) *Server {
	return &Server{slots: slots, reaper: reaper}
}

// Handler returns the chi router with every introspection route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the aggregate view an operator or the CLI's `status`
// command reads.
type statusResponse struct {
	TotalCapacity  int `json:"total_capacity"`
	TotalActive    int `json:"total_active"`
	TotalAvailable int `json:"total_available"`
	ReaperRunning  bool `json:"reaper_running"`
	Endpoints      map[domain.Tier]domain.EndpointStatus `json:"endpoints"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		TotalCapacity: s.slots.TotalCapacity(),
		TotalActive: s.slots.TotalActive(),
		TotalAvailable: s.slots.TotalAvailable(),
		Endpoints: s.slots.Status(),
	}
	if s.reaper != nil {
		resp.ReaperRunning = s.reaper.IsRunning()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
