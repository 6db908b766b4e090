// Command fleetlb is the self-managing load balancer entry point.
//
// Usage:
//
//	fleetlb [-config path/to/fleetlb.yaml]
//
// fleetlb owns a dynamic fleet of container-backed servers: it provisions an
// initial set of backends, routes client requests to them through a
// consistent-hash ring, and continuously replaces any that fail a health
// probe. The admin surface (/rep, /add, /rm, /block, /unblock, /stats) and
// the router surface are served on separate listeners so that fleet
// management traffic never competes with application traffic.
//
// Ambient tunables (rate limiting, auth) hot-reload from fleetlb.yaml without
// a restart; ring geometry and the network/image names take effect on the
// next process start.
//
// Shutdown is graceful: send SIGINT or SIGTERM and in-flight requests are
// given up to 10 seconds to complete, the health supervisor is stopped, and
// both listeners are closed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"

	"fleetlb/internal/admin"
	"fleetlb/internal/config"
	"fleetlb/internal/driver"
	"fleetlb/internal/fleet"
	"fleetlb/internal/health"
	"fleetlb/internal/middleware"
	"fleetlb/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/fleetlb.yaml", "path to fleetlb.yaml")
	useFakeDriver := flag.Bool("fake-driver", false, "use the in-process fake container driver instead of Docker (local development only)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("could not load config file, using defaults", "path", *configPath, "error", err)
		cfg = config.Default()
		v = nil
	}

	var d driver.Driver
	if *useFakeDriver {
		d = driver.NewFakeDriver()
	} else {
		d = driver.NewDockerDriver(cfg.NetworkName, cfg.ServerImage, cfg.HealthCheck.ParsedTimeout())
	}

	f := fleet.New(cfg.RingSlots, cfg.VirtualReplicas, d)
	provisionInitialFleet(f, cfg.InitialBackends)

	monitor := health.New(f, d, health.Config{
		Interval: cfg.HealthCheck.ParsedInterval(),
		Timeout:  cfg.HealthCheck.ParsedTimeout(),
	})
	monitor.Start()

	rt := router.New(f, cfg.ParsedProxyTimeout())
	routerMux := httprouter.New()
	routerMux.GET("/*path", rt.Handle)

	var currentRouterHandler atomic.Value
	buildRouterChain := func(c config.Config) http.Handler {
		var h http.Handler = routerMux
		if c.RateLimit.Enabled {
			h = middleware.RateLimiter(c.RateLimit.RPS, c.RateLimit.Burst)(h)
		}
		return middleware.Logger(h)
	}
	currentRouterHandler.Store(buildRouterChain(cfg))

	routerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		currentRouterHandler.Load().(http.Handler).ServeHTTP(w, r)
	})

	adminServer := admin.New(f, d, cfg.AdminListenAddr)

	var currentAdminHandler atomic.Value
	buildAdminChain := func(c config.Config) http.Handler {
		var h http.Handler = adminServer.Handler()
		if c.Auth.Enabled {
			h = middleware.JWTAuth(c.Auth.Secret, c.Auth.Exclude)(h)
		}
		return middleware.Logger(h)
	}
	currentAdminHandler.Store(buildAdminChain(cfg))

	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		currentAdminHandler.Load().(http.Handler).ServeHTTP(w, r)
	})

	if v != nil {
		config.Watch(v, func(newCfg config.Config) {
			currentRouterHandler.Store(buildRouterChain(newCfg))
			currentAdminHandler.Store(buildAdminChain(newCfg))
			slog.Info("hot-reload applied",
				"rate_limit", newCfg.RateLimit.Enabled,
				"auth", newCfg.Auth.Enabled,
			)
		})
	}

	routerSrv := &http.Server{
		Addr:         cfg.RouterListenAddr,
		Handler:      routerHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	adminSrv := &http.Server{
		Addr:         cfg.AdminListenAddr,
		Handler:      adminHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("router listening", "addr", cfg.RouterListenAddr)
		if err := routerSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("router server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		slog.Info("admin listening", "addr", cfg.AdminListenAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down fleetlb")
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := routerSrv.Shutdown(ctx); err != nil {
		slog.Error("router: forced shutdown", "error", err)
	}
	if err := adminSrv.Shutdown(ctx); err != nil {
		slog.Error("admin: forced shutdown", "error", err)
	}

	slog.Info("fleetlb stopped")
}

// provisionInitialFleet spawns n backends with freshly generated ids before
// the process starts serving traffic. Spawn failures are logged and leave
// the fleet short by one — the same posture the supervisor takes on a failed
// replacement spawn.
func provisionInitialFleet(f *fleet.Fleet, n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fleet.GenerateID()
		if _, err := f.Provision(ctx, id); err != nil {
			slog.Warn("startup: failed to provision initial backend", "id", id, "error", err)
		}
	}
}
