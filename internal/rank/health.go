package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dyluth/diffuse/internal/diffusion"
)

// Pinger verifies broker connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the rank's progress as reported by /healthz. It is updated by the
// rank's driver goroutine and read by HTTP handlers.
type Status struct {
	rank  int
	round atomic.Int64
	state atomic.Int32
}

// NewStatus creates the status of rank in the init state.
func NewStatus(rank int) *Status {
	return &Status{rank: rank}
}

// Observe records a completed round.
func (s *Status) Observe(p diffusion.Progress) {
	s.round.Store(int64(p.Round))
	if p.Round >= p.Iterations {
		s.state.Store(int32(diffusion.StateDone))
	} else {
		s.state.Store(int32(diffusion.StateRound))
	}
}

// Round returns the number of completed rounds.
func (s *Status) Round() int { return int(s.round.Load()) }

// State returns the current lifecycle phase.
func (s *Status) State() diffusion.State { return diffusion.State(s.state.Load()) }

// HealthServer provides an HTTP health check endpoint for a rank.
// The server runs in a background goroutine and can be gracefully shut down.
type HealthServer struct {
	server *http.Server
	pinger Pinger
	status *Status
}

// HealthResponse represents the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Rank   int    `json:"rank"`
	State  string `json:"state"`
	Round  int    `json:"round"`
	Error  string `json:"error,omitempty"`
}

// NewHealthServer creates a new health check HTTP server listening on all
// interfaces at port.
func NewHealthServer(pinger Pinger, status *Status, port int) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		pinger: pinger,
		status: status,
	}

	mux.HandleFunc("/healthz", hs.handleHealthz)

	return hs
}

// Start starts the HTTP server in a background goroutine.
// Server errors are logged but do not stop the rank.
func (hs *HealthServer) Start() {
	go func() {
		log.Printf("[DEBUG] Health server starting on %s", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] Health server error: %v", err)
		}
		log.Printf("[DEBUG] Health server stopped")
	}()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests until ctx is done.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	log.Printf("[DEBUG] Shutting down health server...")
	return hs.server.Shutdown(ctx)
}

// handleHealthz pings the broker and reports the rank's progress.
// Returns 200 OK if the broker answers, 503 Service Unavailable otherwise.
func (hs *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := hs.pinger.Ping(ctx)

	response := HealthResponse{
		Status: "healthy",
		Rank:   hs.status.rank,
		State:  hs.status.State().String(),
		Round:  hs.status.Round(),
	}
	statusCode := http.StatusOK
	if err != nil {
		response.Status = "unhealthy"
		response.Error = err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[ERROR] Failed to encode health response: %v", err)
	}
}
