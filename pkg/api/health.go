package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nskv/kvsd/pkg/engine"
	"github.com/nskv/kvsd/pkg/metrics"
)

// HealthServer provides HTTP health check endpoints for an Engine.
type HealthServer struct {
	engine *engine.Engine
	mux    *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server. A nil engine is
// accepted; /ready then always reports not-ready, since the engine cannot
// be set after construction.
func NewHealthServer(eng *engine.Engine) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		engine: eng,
		mux:    mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint: a simple liveness check
// that returns 200 as long as the process is able to respond at all.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "0.1.0", // TODO: get from build info
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint: checks whether the engine
// has finished bootstrapping its primary namespace and can still reach its
// content store.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.engine != nil {
		if err := hs.engine.Ready(); err != nil {
			checks["engine"] = err.Error()
			ready = false
			message = "engine not ready"
		} else {
			checks["engine"] = "ok"
		}
	} else {
		checks["engine"] = "not initialized"
		ready = false
		message = "engine not initialized"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
