// Package config loads gateway configuration from environment variables,
// with an optional YAML file for the list-shaped settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option recognized by the gateway (spec §6).
type Config struct {
	// Store / browser surface.
	DatabaseURL string // postgres connection string
	BrowserPort int    // default 8080

	// Device admission.
	AllowedIPs []string // homebase_allowed_ips; empty means unrestricted

	// Subscription defaults.
	SubscribeEveryDefault int      // default 1
	SubscriptionCatalog   []string // overrides the built-in catalog when non-empty

	// Heartbeat / staleness.
	HeartbeatInterval time.Duration // default 10s
	HeartbeatTimeout  time.Duration // default 5s
	StaleTimeout      time.Duration // default 30s

	// Connect.
	ConnectTimeout time.Duration // default 8s

	// Requests.
	RequestDefaultTimeout time.Duration // default 10s
	MaxInFlight           int           // default 8
	MaxQueue              int           // default 200

	// Reconnect back-off.
	FastRetryWindow time.Duration // default 5m
	FastRetryBase   time.Duration // default 2s
	FastRetryJitter time.Duration // default 1s
	SlowBaseBackoff time.Duration // default 15s
	SlowMaxBackoff  time.Duration // default 120s
	SlowJitter      time.Duration // default 2s

	// Reachability prober.
	ProbeInterval time.Duration // default 10s
	ProbeTimeout  time.Duration // default 500ms
	ProbeWindow   int           // default 100
}

// fileConfig is the shape of the optional YAML config file: only the
// list-shaped settings that environment variables represent poorly.
type fileConfig struct {
	AllowedIPs          []string `yaml:"homebase_allowed_ips"`
	SubscriptionCatalog []string `yaml:"subscription_catalog"`
}

// Default returns a Config populated with the defaults from spec §6.
func Default() *Config {
	return &Config{
		BrowserPort:           8080,
		SubscribeEveryDefault: 1,
		HeartbeatInterval:     10 * time.Second,
		HeartbeatTimeout:      5 * time.Second,
		StaleTimeout:          30 * time.Second,
		ConnectTimeout:        8 * time.Second,
		RequestDefaultTimeout: 10 * time.Second,
		MaxInFlight:           8,
		MaxQueue:              200,
		FastRetryWindow:       5 * time.Minute,
		FastRetryBase:         2 * time.Second,
		FastRetryJitter:       1 * time.Second,
		SlowBaseBackoff:       15 * time.Second,
		SlowMaxBackoff:        120 * time.Second,
		SlowJitter:            2 * time.Second,
		ProbeInterval:         10 * time.Second,
		ProbeTimeout:          500 * time.Millisecond,
		ProbeWindow:           100,
	}
}

// Load builds a Config from environment variables, optionally overlaid with
// a YAML file for the list-shaped settings. Env vars are authoritative: a
// non-empty GATEWAY_ALLOWED_IPS always wins over the file's list.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	cfg.DatabaseURL = os.Getenv("GATEWAY_DATABASE_URL")

	if v := os.Getenv("GATEWAY_BROWSER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BrowserPort = n
		}
	}

	if yamlPath != "" {
		if fc, err := loadFile(yamlPath); err == nil {
			if len(fc.AllowedIPs) > 0 {
				cfg.AllowedIPs = fc.AllowedIPs
			}
			if len(fc.SubscriptionCatalog) > 0 {
				cfg.SubscriptionCatalog = fc.SubscriptionCatalog
			}
		}
	}

	if v := os.Getenv("GATEWAY_ALLOWED_IPS"); v != "" {
		cfg.AllowedIPs = splitCSV(v)
	}

	if v := os.Getenv("GATEWAY_SUBSCRIBE_EVERY_DEFAULT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubscribeEveryDefault = n
		}
	}

	applyDuration("GATEWAY_HEARTBEAT_INTERVAL_MS", &cfg.HeartbeatInterval)
	applyDuration("GATEWAY_HEARTBEAT_TIMEOUT_MS", &cfg.HeartbeatTimeout)
	applyDuration("GATEWAY_STALE_MS", &cfg.StaleTimeout)
	applyDuration("GATEWAY_CONNECT_TIMEOUT_MS", &cfg.ConnectTimeout)
	applyDuration("GATEWAY_REQUEST_DEFAULT_TIMEOUT_MS", &cfg.RequestDefaultTimeout)
	applyDuration("GATEWAY_FAST_RETRY_WINDOW_MS", &cfg.FastRetryWindow)
	applyDuration("GATEWAY_FAST_RETRY_BASE_MS", &cfg.FastRetryBase)
	applyDuration("GATEWAY_FAST_RETRY_JITTER_MS", &cfg.FastRetryJitter)
	applyDuration("GATEWAY_SLOW_BASE_BACKOFF_MS", &cfg.SlowBaseBackoff)
	applyDuration("GATEWAY_SLOW_MAX_BACKOFF_MS", &cfg.SlowMaxBackoff)
	applyDuration("GATEWAY_SLOW_JITTER_MS", &cfg.SlowJitter)
	applyDuration("GATEWAY_PROBE_INTERVAL_MS", &cfg.ProbeInterval)

	if v := os.Getenv("GATEWAY_PROBE_TIMEOUT_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ProbeTimeout = time.Duration(f * float64(time.Second))
		}
	}

	if v := os.Getenv("GATEWAY_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxInFlight = n
		}
	}
	if v := os.Getenv("GATEWAY_MAX_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueue = n
		}
	}
	if v := os.Getenv("GATEWAY_PROBE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProbeWindow = n
		}
	}

	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

func applyDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Allowed reports whether addr may be connected to, honoring the allow-list.
func (c *Config) Allowed(addr string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	for _, a := range c.AllowedIPs {
		if a == addr {
			return true
		}
	}
	return false
}
