package bridge

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gantry-app/gantry/internal/backend"
)

// RunLister provides recent backend run history for the status endpoint.
// Implemented by the run store; nil disables the history section.
type RunLister interface {
	RecentRuns(limit int) ([]RunSummary, error)
}

// RunSummary is one backend run as shown by /status.
type RunSummary struct {
	ID             string `json:"id"`
	PID            int    `json:"pid"`
	Port           int    `json:"port,omitempty"`
	RestartOrdinal int    `json:"restart_ordinal"`
	StartedAt      int64  `json:"started_at"`
	EndedAt        int64  `json:"ended_at,omitempty"`
	ExitCode       *int   `json:"exit_code,omitempty"`
}

// StatusResponse is the JSON body served by /status.
type StatusResponse struct {
	ListeningAddress string         `json:"listening_address"`
	ConnectedClients int            `json:"connected_clients"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	Backend          backend.Status `json:"backend"`
	RecentRuns       []RunSummary   `json:"recent_runs,omitempty"`
}

// BackendStatusFunc returns the supervisor's current snapshot.
type BackendStatusFunc func() backend.Status

// StatusHandler serves local diagnostics about the shell and its backend.
type StatusHandler struct {
	bridge    *Bridge
	status    BackendStatusFunc
	runs      RunLister
	startedAt time.Time
}

// NewStatusHandler creates the /status handler. runs may be nil.
func NewStatusHandler(b *Bridge, status BackendStatusFunc, runs RunLister) *StatusHandler {
	return &StatusHandler{
		bridge:    b,
		status:    status,
		runs:      runs,
		startedAt: time.Now(),
	}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Diagnostics stay on this machine.
	if !isLoopbackRequest(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	resp := StatusResponse{
		ListeningAddress: h.bridge.Addr(),
		ConnectedClients: h.bridge.ClientCount(),
		UptimeSeconds:    int64(time.Since(h.startedAt).Seconds()),
		Backend:          h.status(),
	}

	if h.runs != nil {
		runs, err := h.runs.RecentRuns(10)
		if err != nil {
			log.Printf("bridge: failed to load recent runs: %v", err)
		} else {
			resp.RecentRuns = runs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("bridge: failed to encode status response: %v", err)
	}
}

// isLoopbackRequest reports whether the request came from this machine.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
