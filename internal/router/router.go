// Package router implements the request-forwarding HTTP surface: it turns
// each incoming GET into a fingerprint, asks the fleet's ring for an owner,
// and proxies the request to that backend via httputil.ReverseProxy.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/julienschmidt/httprouter"

	"fleetlb/internal/fleet"
)

// ctxKey is the unexported type used as the context key for the chosen
// backend hostname, preventing accidental collisions with other packages.
type ctxKey struct{}

// Router is the http.Handler for all application traffic. It holds no lock
// of its own beyond what Fleet.Lookup already provides, and never holds that
// lock across the upstream proxy call.
type Router struct {
	fleet        *fleet.Fleet
	fingerprints *fingerprintSource
	rp           *httputil.ReverseProxy
}

// New constructs a Router that proxies to backends on port 5000 with the
// given per-request timeout.
func New(f *fleet.Fleet, proxyTimeout time.Duration) *Router {
	rt := &Router{
		fleet:        f,
		fingerprints: newFingerprintSource(),
	}
	rt.rp = &httputil.ReverseProxy{
		Director:     rt.director,
		ErrorHandler: rt.errorHandler,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	rt.rp.Transport = &timeoutTransport{inner: rt.rp.Transport, timeout: proxyTimeout}
	return rt
}

type timeoutTransport struct {
	inner   http.RoundTripper
	timeout time.Duration
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	defer cancel()
	return t.inner.RoundTrip(req.WithContext(ctx))
}

type envelope struct {
	Message any    `json:"message"`
	Status  string `json:"status"`
}

// Handle is the httprouter.Handle for the catch-all GET /*path route. If no
// backend can be found for the generated fingerprint, it answers directly
// without invoking the reverse proxy at all.
func (rt *Router) Handle(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	path := ps.ByName("path")
	if path == "" {
		path = "/"
	}
	r.URL.Path = path

	fp := rt.fingerprints.next()
	backend, ok := rt.fleet.Lookup(fp)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, envelope{
			Message: "<Error> No servers available",
			Status:  "failure",
		})
		return
	}

	req := r.WithContext(context.WithValue(r.Context(), ctxKey{}, backend))
	rt.rp.ServeHTTP(w, req)
}

// director rewrites the incoming request to target the backend chosen in
// Handle, which is carried through the request context.
func (rt *Router) director(req *http.Request) {
	backend, _ := req.Context().Value(ctxKey{}).(string)
	req.URL.Scheme = "http"
	req.URL.Host = backend + ":5000"
	req.Host = backend
}

// errorHandler is called when ReverseProxy cannot reach the chosen backend
// (dial error, timeout, malformed upstream response). This is treated as a
// single-request failure with no automatic retry on another backend.
func (rt *Router) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	backend, _ := r.Context().Value(ctxKey{}).(string)
	slog.Error("router: proxy error", "backend", backend, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusBadRequest, envelope{
		Message: "<Error> '" + r.URL.Path + "' endpoint does not exist in server replicas",
		Status:  "failure",
	})
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
