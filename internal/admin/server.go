// Package admin provides the fleet's management HTTP surface: /rep, /add,
// /rm, plus the supplemented /block, /unblock, /healthz and /stats routes.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"fleetlb/internal/driver"
	"fleetlb/internal/fleet"
)

// Server is the admin HTTP server. Every mutating handler serializes on mu
// for its entire body, including the slow driver I/O that Fleet itself does
// not hold its own lock across — this is what guarantees no two admin
// mutations interleave, since the fleet lock alone only protects the
// in-memory ring and registry, not the sequence of spawn/remove calls a
// single /add or /rm performs.
type Server struct {
	fleet *fleet.Fleet
	drv   driver.Driver

	mu sync.Mutex

	startTime time.Time
	srv       *http.Server
}

// New creates an admin Server. Call Start to begin listening.
func New(f *fleet.Fleet, d driver.Driver, listenAddr string) *Server {
	s := &Server{
		fleet:     f,
		drv:       d,
		startTime: time.Now(),
	}

	r := httprouter.New()
	r.GET("/rep", s.handleRep)
	r.POST("/add", s.handleAdd)
	r.DELETE("/rm", s.handleRm)
	r.POST("/block", s.handleBlock)
	r.POST("/unblock", s.handleUnblock)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/stats", s.handleStats)

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins listening in a background goroutine. It returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("admin server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the admin server within the given context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the underlying http.Handler, for tests that want to drive
// it through httptest.Server without binding the configured listen address.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ── request/response shapes ─────────────────────────────────────────────────

type envelope struct {
	Message any    `json:"message"`
	Status  string `json:"status"`
}

type repMessage struct {
	N        int      `json:"N"`
	Replicas []string `json:"replicas"`
}

type mutateRequest struct {
	N         *int     `json:"n"`
	Hostnames []string `json:"hostnames,omitempty"`
}

// decodeMutateRequest decodes body into a mutateRequest and rejects a
// missing "n" field, mirroring the original load balancer's explicit
// `if not data or 'n' not in data` guard.
func decodeMutateRequest(r *http.Request) (mutateRequest, error) {
	var body mutateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return mutateRequest{}, errors.New("malformed request body")
	}
	if body.N == nil {
		return mutateRequest{}, errors.New("n is required")
	}
	return body, nil
}

// ── handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleRep(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	members := s.fleet.Members()
	writeOK(w, repMessage{N: len(members), Replicas: members})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := decodeMutateRequest(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "<Error> "+err.Error())
		return
	}
	n := *body.N
	if len(body.Hostnames) > n {
		writeFailure(w, http.StatusBadRequest, "<Error> Length of hostname list is more than newly added instances")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		var id string
		if i < len(body.Hostnames) {
			id = body.Hostnames[i]
		} else {
			id = fleet.GenerateID()
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		_, err := s.fleet.Provision(ctx, id)
		cancel()
		if err != nil {
			slog.Warn("admin: add: spawn failed, continuing with remaining slots", "id", id, "error", err)
		}
	}

	members := s.fleet.Members()
	writeOK(w, repMessage{N: len(members), Replicas: members})
}

func (s *Server) handleRm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := decodeMutateRequest(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "<Error> "+err.Error())
		return
	}
	n := *body.N
	if len(body.Hostnames) > n {
		writeFailure(w, http.StatusBadRequest, "<Error> Length of hostname list is more than newly removed instances")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]string, 0, n)
	named := make(map[string]bool, len(body.Hostnames))
	for _, h := range body.Hostnames {
		if s.fleet.Has(h) {
			targets = append(targets, h)
			named[h] = true
		}
	}

	if remaining := n - len(targets); remaining > 0 {
		targets = append(targets, s.fleet.SampleOthers(named, remaining)...)
	}

	for _, id := range targets {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		err := s.fleet.Decommission(ctx, id)
		cancel()
		if err != nil {
			slog.Warn("admin: rm: decommission failed", "id", id, "error", err)
		}
	}

	members := s.fleet.Members()
	writeOK(w, repMessage{N: len(members), Replicas: members})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.setBlocked(w, r, s.fleet.Block, "blocked")
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.setBlocked(w, r, s.fleet.Unblock, "unblocked")
}

func (s *Server) setBlocked(w http.ResponseWriter, r *http.Request, op func(string) error, verb string) {
	var body struct {
		Hostname string `json:"hostname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Hostname == "" {
		writeFailure(w, http.StatusBadRequest, "<Error> hostname is required")
		return
	}

	s.mu.Lock()
	err := op(body.Hostname)
	s.mu.Unlock()

	if err != nil {
		writeFailure(w, http.StatusNotFound, "<Error> '"+body.Hostname+"' is not a registered backend")
		return
	}
	writeOK(w, map[string]string{"hostname": body.Hostname, "state": verb})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statsMessage struct {
	N                 int    `json:"n"`
	Healthy           int    `json:"healthy"`
	Blocked           int    `json:"blocked"`
	Uptime            string `json:"uptime"`
	TotalRequests     int64  `json:"total_requests"`
	TotalReplacements int64  `json:"total_replacements"`
}

// handleStats reports fleet-wide counters plus a live driver probe of every
// member, so /stats reflects the current reachability of the fleet rather
// than only the last health-supervisor tick.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st := s.fleet.Stats()
	snapshot := s.fleet.Snapshot()

	healthy := 0
	blocked := 0
	for _, info := range snapshot {
		if info.Blocked {
			blocked++
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		status := s.drv.Probe(ctx, info.ID)
		cancel()
		if status == driver.Healthy {
			healthy++
		}
	}

	writeOK(w, statsMessage{
		N:                 st.N,
		Healthy:           healthy,
		Blocked:           blocked,
		Uptime:            time.Since(s.startTime).Round(time.Second).String(),
		TotalRequests:     st.TotalRequests,
		TotalReplacements: st.TotalReplacements,
	})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func writeOK(w http.ResponseWriter, message any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Message: message, Status: "successful"})
}

func writeFailure(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Message: message, Status: "failure"})
}
