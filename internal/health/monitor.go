// Package health implements the background supervisor that keeps the fleet's
// observed backend set healthy: it probes every registered backend on a
// fixed interval and drives replacement of any that fail, through the fleet
// registry and the container driver.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetlb/internal/driver"
	"fleetlb/internal/fleet"
	"fleetlb/internal/ring"
)

// Config holds the supervisor's timing parameters.
type Config struct {
	Interval time.Duration // how often to probe (T_health)
	Timeout  time.Duration // per-probe and per-replacement-spawn deadline
}

// Monitor is the health supervisor: a background task with an explicit
// start/stop, constructed after the Fleet it watches is fully initialised
// and shut down before process exit so it never outlives its state.
type Monitor struct {
	fleet  *fleet.Fleet
	driver driver.Driver
	cfg    Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor but does not start it; call Start to begin probing.
func New(f *fleet.Fleet, d driver.Driver, cfg Config) *Monitor {
	return &Monitor{fleet: f, driver: d, cfg: cfg}
}

// Start begins the background probe loop, running an immediate tick before
// the first ticker fire so the fleet is classified quickly at startup.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.tick(ctx)
		for {
			select {
			case <-ticker.C:
				m.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// tick snapshots the current backend list, probes every one concurrently
// outside any lock, then drives replacement for whichever came back
// unhealthy. Probes never hold the fleet lock: they are I/O.
func (m *Monitor) tick(ctx context.Context) {
	members := m.fleet.Members()
	if len(members) == 0 {
		return
	}

	var mu sync.Mutex
	failed := make([]string, 0)

	var g errgroup.Group
	for _, id := range members {
		id := id
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
			if m.driver.Probe(probeCtx, id) == driver.Unhealthy {
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // probe errors are encoded as Unhealthy, never returned

	for _, id := range failed {
		m.replace(ctx, id)
	}
}

// replace implements the replacement protocol: remove the failed backend
// (ring purge, container remove, registry drop, all via Decommission), then
// provision a fresh randomly named one in its place. A spawn failure is
// logged and not treated as fatal; it is also not retried: later ticks only
// probe registered backends, so the fleet stays one backend short (visible
// via the admin API) until a backend is added.
func (m *Monitor) replace(ctx context.Context, failedID string) {
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := m.fleet.Decommission(opCtx, failedID); err != nil {
		// Already gone — a concurrent admin /rm beat us to it.
		return
	}

	newID := fleet.GenerateID()
	status, err := m.fleet.Provision(opCtx, newID)
	if err != nil {
		slog.Warn("health: replacement spawn failed, fleet is one backend short",
			"failed", failedID, "attempted", newID, "error", err)
		return
	}
	if status != ring.Added {
		slog.Warn("health: replacement spawned but ring was full",
			"failed", failedID, "attempted", newID)
		return
	}

	m.fleet.RecordReplacement()
	slog.Info("health: replaced unhealthy backend", "failed", failedID, "replacement", newID)
}
