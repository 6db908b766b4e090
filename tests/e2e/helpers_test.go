// Package e2e exercises the fleet black-box: a real admin HTTP server, a
// real router HTTP server, and a FakeDriver standing in for Docker, wired
// together exactly as cmd/fleetlb/main.go wires them. No subprocess and no
// real container runtime is involved — the driver boundary is the seam the
// rest of the stack was designed to be tested across.
package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetlb/internal/admin"
	"fleetlb/internal/driver"
	"fleetlb/internal/fleet"
	"fleetlb/internal/health"
	"fleetlb/internal/router"
	"github.com/julienschmidt/httprouter"
)

// stack bundles one fully wired fleetlb instance for a single test.
type stack struct {
	fleet  *fleet.Fleet
	driver *driver.FakeDriver
	health *health.Monitor
	router *httptest.Server
	admin  *httptest.Server
}

func newStack(t *testing.T, ringSlots, replicas int, healthInterval time.Duration) *stack {
	t.Helper()

	d := driver.NewFakeDriver()
	f := fleet.New(ringSlots, replicas, d)

	if healthInterval <= 0 {
		healthInterval = time.Hour // effectively disabled, ticks don't matter
	}
	mon := health.New(f, d, health.Config{Interval: healthInterval, Timeout: 200 * time.Millisecond})

	rt := router.New(f, time.Second)
	routerMux := httprouter.New()
	routerMux.GET("/*path", rt.Handle)
	routerSrv := httptest.NewServer(routerMux)

	adminSrv := httptest.NewServer(admin.New(f, d, "127.0.0.1:0").Handler())

	s := &stack{fleet: f, driver: d, health: mon, router: routerSrv, admin: adminSrv}
	t.Cleanup(func() {
		mon.Stop()
		routerSrv.Close()
		adminSrv.Close()
	})
	return s
}

func (s *stack) provision(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.fleet.Provision(context.Background(), fleet.GenerateID())
		require.NoError(t, err)
	}
}
