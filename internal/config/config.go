// Package config handles loading and hot-reloading of the fleet's YAML
// configuration via Viper. All struct fields map 1-to-1 with fleetlb.yaml.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// HealthCheckCfg controls the background supervisor's probe loop.
type HealthCheckCfg struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
}

// ParsedInterval returns the interval as a time.Duration, defaulting to 10s.
func (h HealthCheckCfg) ParsedInterval() time.Duration {
	d, _ := time.ParseDuration(h.Interval)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// ParsedTimeout returns the timeout as a time.Duration, defaulting to 5s.
func (h HealthCheckCfg) ParsedTimeout() time.Duration {
	d, _ := time.ParseDuration(h.Timeout)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// RateLimitCfg controls per-IP token-bucket rate limiting on the router.
type RateLimitCfg struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// AuthCfg controls JWT Bearer-token authentication on the admin surface.
type AuthCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Secret  string   `mapstructure:"secret"`
	Exclude []string `mapstructure:"exclude"`
}

// Config is the top-level fleet configuration.
type Config struct {
	RouterListenAddr string `mapstructure:"router_listen_addr"`
	AdminListenAddr  string `mapstructure:"admin_listen_addr"`

	RingSlots       int `mapstructure:"ring_slots"`
	VirtualReplicas int `mapstructure:"virtual_replicas"`
	InitialBackends int `mapstructure:"initial_backends"`

	NetworkName string `mapstructure:"network_name"`
	ServerImage string `mapstructure:"server_image"`

	ProxyTimeout string `mapstructure:"proxy_timeout"`

	HealthCheck HealthCheckCfg `mapstructure:"health_check"`
	RateLimit   RateLimitCfg   `mapstructure:"rate_limit"`
	Auth        AuthCfg        `mapstructure:"auth"`
}

// ParsedProxyTimeout returns the proxy timeout as a time.Duration, defaulting
// to 10s.
func (c Config) ParsedProxyTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ProxyTimeout)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Default returns a sensible development configuration.
func Default() Config {
	return Config{
		RouterListenAddr: ":8080",
		AdminListenAddr:  ":9090",
		RingSlots:        512,
		VirtualReplicas:  9,
		InitialBackends:  3,
		NetworkName:      "fleetlb-net",
		ServerImage:      "fleetlb/server:latest",
		ProxyTimeout:     "10s",
		HealthCheck:      HealthCheckCfg{Interval: "10s", Timeout: "5s"},
		RateLimit:        RateLimitCfg{Enabled: false, RPS: 100, Burst: 200},
		Auth:             AuthCfg{Enabled: false},
	}
}

// Load reads and parses the YAML file at path using Viper.
// It returns the parsed Config and the Viper instance (needed for Watch).
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback that fires whenever the config file is
// saved. The callback receives a freshly parsed Config. Invalid reloads are
// logged and silently skipped (the previous config stays active). Only the
// ambient tunables (rate limiting, auth) are meant to be hot-reloaded; ring
// geometry and the network/image names take effect on the next process start.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config hot-reload failed", "error", err)
			return
		}
		slog.Info("config hot-reloaded", "ring_slots", cfg.RingSlots, "virtual_replicas", cfg.VirtualReplicas)
		onChange(cfg)
	})
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	d := Default()
	v.SetDefault("router_listen_addr", d.RouterListenAddr)
	v.SetDefault("admin_listen_addr", d.AdminListenAddr)
	v.SetDefault("ring_slots", d.RingSlots)
	v.SetDefault("virtual_replicas", d.VirtualReplicas)
	v.SetDefault("initial_backends", d.InitialBackends)
	v.SetDefault("proxy_timeout", d.ProxyTimeout)
	v.SetDefault("health_check.interval", d.HealthCheck.Interval)
	v.SetDefault("health_check.timeout", d.HealthCheck.Timeout)
	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.rps", d.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("auth.enabled", d.Auth.Enabled)

	return v
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	if cfg.RingSlots <= 0 {
		return Config{}, fmt.Errorf("config: ring_slots must be positive")
	}
	if cfg.VirtualReplicas <= 0 {
		return Config{}, fmt.Errorf("config: virtual_replicas must be positive")
	}
	if cfg.VirtualReplicas > cfg.RingSlots {
		return Config{}, fmt.Errorf("config: virtual_replicas cannot exceed ring_slots")
	}
	if cfg.NetworkName == "" {
		return Config{}, fmt.Errorf("config: network_name must be set")
	}
	if cfg.ServerImage == "" {
		return Config{}, fmt.Errorf("config: server_image must be set")
	}
	return cfg, nil
}
