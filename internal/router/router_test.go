package router_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlb/internal/driver"
	"fleetlb/internal/fleet"
	"fleetlb/internal/router"
)

func newTestServer(t *testing.T, rt *router.Router) *httptest.Server {
	t.Helper()
	mux := httprouter.New()
	mux.GET("/*path", rt.Handle)
	return httptest.NewServer(mux)
}

func TestRouter_NoBackends_Returns500WithErrorEnvelope(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	rt := router.New(f, time.Second)
	srv := newTestServer(t, rt)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/whatever")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRouter_RoutesToLiveBackend(t *testing.T) {
	// The router always targets port 5000 on the backend's registered name,
	// matching the container contract, so the fake backend must bind there.
	ln, err := net.Listen("tcp", "127.0.0.1:5000")
	if err != nil {
		t.Skipf("port 5000 unavailable in this environment: %v", err)
	}
	backend := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-From-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from backend"))
	})}
	go backend.Serve(ln)
	defer backend.Close()

	d := driver.NewFakeDriver()
	f := fleet.New(512, 100, d)
	_, err = f.Provision(context.Background(), "127.0.0.1")
	require.NoError(t, err)

	rt := router.New(f, time.Second)
	srv := newTestServer(t, rt)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/some/path")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-From-Backend"))
}

func TestRouter_UpstreamUnreachable_Returns400WithErrorEnvelope(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	_, err := f.Provision(context.Background(), "unreachable-host-name")
	require.NoError(t, err)

	rt := router.New(f, 200*time.Millisecond)
	srv := newTestServer(t, rt)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/some/path")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
