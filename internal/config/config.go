// Package config loads the gateway's configuration from a YAML file and
// applies environment-variable overrides, exactly as the teacher's
// internal/config/config.go does for its simpler endpoint-list shape,
// generalized to the richer node/health/breaker/cache/balancer surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"avax-rpc-gateway/internal/balancer"
	"avax-rpc-gateway/internal/breaker"
	"avax-rpc-gateway/internal/cache"
	"avax-rpc-gateway/internal/health"
	"avax-rpc-gateway/internal/node"
	"avax-rpc-gateway/internal/proxy"
)

// NodeConfig is one backend node's configuration-file entry.
type NodeConfig struct {
	ID           string   `yaml:"id"`
	URL          string   `yaml:"url"`
	Network      string   `yaml:"network"`
	Weight       int      `yaml:"weight"`
	Priority     int      `yaml:"priority"`
	Capabilities []string `yaml:"capabilities"`
	RateLimit    int      `yaml:"rateLimit"`
}

// Config holds every tunable the gateway needs, loaded from YAML and then
// patched by environment variables per §6.
type Config struct {
	GatewayPort string       `yaml:"gatewayPort"`
	MetricsPort string       `yaml:"metricsPort"`
	Verbose     bool         `yaml:"verbose"`
	Nodes       []NodeConfig `yaml:"nodes"`

	DefaultNetwork string `yaml:"defaultNetwork"`

	HealthCheckIntervalStr    string `yaml:"healthCheckInterval"`
	HealthCheckTimeoutStr     string `yaml:"healthCheckTimeout"`
	HealthRecoveryIntervalStr string `yaml:"healthRecoveryInterval"`
	HealthCheckEndpoint       string `yaml:"healthCheckEndpoint"`
	HealthFailureThreshold    int    `yaml:"healthFailureThreshold"`
	HealthSuccessThreshold    int    `yaml:"healthSuccessThreshold"`

	BreakerFailureThreshold   int    `yaml:"breakerFailureThreshold"`
	BreakerSuccessThreshold   int    `yaml:"breakerSuccessThreshold"`
	BreakerResetTimeoutStr    string `yaml:"breakerResetTimeout"`
	BreakerMonitorIntervalStr string `yaml:"breakerMonitorInterval"`

	ProxyTimeoutStr    string `yaml:"proxyTimeout"`
	ProxyRetries       int    `yaml:"proxyRetries"`
	ProxyRetryDelayStr string `yaml:"proxyRetryDelay"`

	CacheMaxEntries       int    `yaml:"cacheMaxEntries"`
	CacheSweepIntervalStr string `yaml:"cacheSweepInterval"`
	CacheSnapshotPath     string `yaml:"cacheSnapshotPath"`

	StickySessionTTLStr   string `yaml:"stickySessionTTL"`
	StickySessionSweepStr string `yaml:"stickySessionSweep"`

	// Parsed durations, filled in by Load.
	HealthCheckInterval    time.Duration `yaml:"-"`
	HealthCheckTimeout     time.Duration `yaml:"-"`
	HealthRecoveryInterval time.Duration `yaml:"-"`
	BreakerResetTimeout    time.Duration `yaml:"-"`
	BreakerMonitorInterval time.Duration `yaml:"-"`
	ProxyTimeout           time.Duration `yaml:"-"`
	ProxyRetryDelay        time.Duration `yaml:"-"`
	CacheSweepInterval     time.Duration `yaml:"-"`
	StickySessionTTL       time.Duration `yaml:"-"`
	StickySessionSweep     time.Duration `yaml:"-"`
}

// Load reads filename, applies defaults, patches from the environment, and
// parses every duration string. Grounded on the teacher's LoadConfig: read
// file, unmarshal YAML, fill in defaults, parse durations.
func Load(filename string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("no nodes configured")
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GatewayPort == "" {
		c.GatewayPort = ":8545"
	}
	if c.MetricsPort == "" {
		c.MetricsPort = ":9090"
	}
	if c.DefaultNetwork == "" {
		c.DefaultNetwork = string(node.AvalancheMainnet)
	}

	hd := health.DefaultConfig()
	if c.HealthCheckIntervalStr == "" {
		c.HealthCheckIntervalStr = hd.Interval.String()
	}
	if c.HealthCheckTimeoutStr == "" {
		c.HealthCheckTimeoutStr = hd.Timeout.String()
	}
	if c.HealthRecoveryIntervalStr == "" {
		c.HealthRecoveryIntervalStr = hd.RecoveryInterval.String()
	}
	if c.HealthCheckEndpoint == "" {
		c.HealthCheckEndpoint = hd.HealthPath
	}
	if c.HealthFailureThreshold == 0 {
		c.HealthFailureThreshold = hd.FailureThreshold
	}
	if c.HealthSuccessThreshold == 0 {
		c.HealthSuccessThreshold = hd.SuccessThreshold
	}

	bd := breaker.DefaultConfig()
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = bd.FailureThreshold
	}
	if c.BreakerSuccessThreshold == 0 {
		c.BreakerSuccessThreshold = bd.SuccessThreshold
	}
	if c.BreakerResetTimeoutStr == "" {
		c.BreakerResetTimeoutStr = bd.ResetTimeout.String()
	}
	if c.BreakerMonitorIntervalStr == "" {
		c.BreakerMonitorIntervalStr = bd.MonitorInterval.String()
	}

	pd := proxy.DefaultConfig()
	if c.ProxyTimeoutStr == "" {
		c.ProxyTimeoutStr = pd.Timeout.String()
	}
	if c.ProxyRetries == 0 {
		c.ProxyRetries = pd.Retries
	}
	if c.ProxyRetryDelayStr == "" {
		c.ProxyRetryDelayStr = pd.RetryDelay.String()
	}

	cd := cache.DefaultConfig()
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = cd.MaxEntries
	}
	if c.CacheSweepIntervalStr == "" {
		c.CacheSweepIntervalStr = cd.SweepInterval.String()
	}

	bal := balancer.DefaultConfig()
	if c.StickySessionTTLStr == "" {
		c.StickySessionTTLStr = bal.SessionTTL.String()
	}
	if c.StickySessionSweepStr == "" {
		c.StickySessionSweepStr = bal.SessionSweep.String()
	}
}

// envDurationMs patches a duration-string field from an environment
// variable expressed in milliseconds, per §6's table.
func envDurationMs(envVar string, dst *string) {
	v := os.Getenv(envVar)
	if v == "" {
		return
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = (time.Duration(ms) * time.Millisecond).String()
}

func (c *Config) applyEnvOverrides() {
	envDurationMs("HEALTH_CHECK_INTERVAL", &c.HealthCheckIntervalStr)
	envDurationMs("HEALTH_CHECK_TIMEOUT", &c.HealthCheckTimeoutStr)
	envDurationMs("HEALTH_RECOVERY_INTERVAL", &c.HealthRecoveryIntervalStr)
	if v := os.Getenv("HEALTH_CHECK_ENDPOINT"); v != "" {
		c.HealthCheckEndpoint = v
	}
	if v := os.Getenv("HEALTH_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HealthFailureThreshold = n
		}
	}
	if v := os.Getenv("HEALTH_SUCCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HealthSuccessThreshold = n
		}
	}
	if v := os.Getenv("DEFAULT_NETWORK"); v != "" {
		c.DefaultNetwork = v
	}

	// Per-node URL overrides: NODE_<ID>_URL, matched case-sensitively
	// against the configured node ids.
	for i := range c.Nodes {
		envVar := "NODE_" + c.Nodes[i].ID + "_URL"
		if v := os.Getenv(envVar); v != "" {
			c.Nodes[i].URL = v
		}
	}
}

func (c *Config) parseDurations() error {
	var err error
	if c.HealthCheckInterval, err = time.ParseDuration(c.HealthCheckIntervalStr); err != nil {
		return fmt.Errorf("invalid healthCheckInterval: %w", err)
	}
	if c.HealthCheckTimeout, err = time.ParseDuration(c.HealthCheckTimeoutStr); err != nil {
		return fmt.Errorf("invalid healthCheckTimeout: %w", err)
	}
	if c.HealthRecoveryInterval, err = time.ParseDuration(c.HealthRecoveryIntervalStr); err != nil {
		return fmt.Errorf("invalid healthRecoveryInterval: %w", err)
	}
	if c.BreakerResetTimeout, err = time.ParseDuration(c.BreakerResetTimeoutStr); err != nil {
		return fmt.Errorf("invalid breakerResetTimeout: %w", err)
	}
	if c.BreakerMonitorInterval, err = time.ParseDuration(c.BreakerMonitorIntervalStr); err != nil {
		return fmt.Errorf("invalid breakerMonitorInterval: %w", err)
	}
	if c.ProxyTimeout, err = time.ParseDuration(c.ProxyTimeoutStr); err != nil {
		return fmt.Errorf("invalid proxyTimeout: %w", err)
	}
	if c.ProxyRetryDelay, err = time.ParseDuration(c.ProxyRetryDelayStr); err != nil {
		return fmt.Errorf("invalid proxyRetryDelay: %w", err)
	}
	if c.CacheSweepInterval, err = time.ParseDuration(c.CacheSweepIntervalStr); err != nil {
		return fmt.Errorf("invalid cacheSweepInterval: %w", err)
	}
	if c.StickySessionTTL, err = time.ParseDuration(c.StickySessionTTLStr); err != nil {
		return fmt.Errorf("invalid stickySessionTTL: %w", err)
	}
	if c.StickySessionSweep, err = time.ParseDuration(c.StickySessionSweepStr); err != nil {
		return fmt.Errorf("invalid stickySessionSweep: %w", err)
	}
	return nil
}

// ToNodes builds the registry seed from the config's node entries.
func (c *Config) ToNodes() []*node.Node {
	out := make([]*node.Node, 0, len(c.Nodes))
	for _, nc := range c.Nodes {
		weight := nc.Weight
		if weight <= 0 {
			weight = 1
		}
		out = append(out, &node.Node{
			ID:           nc.ID,
			URL:          nc.URL,
			Network:      node.Network(nc.Network),
			Weight:       weight,
			Priority:     nc.Priority,
			Capabilities: node.NewCapabilitySet(nc.Capabilities...),
			RateLimit:    nc.RateLimit,
		})
	}
	return out
}
