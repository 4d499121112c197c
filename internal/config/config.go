// Package config loads the monitor's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/aceteam-ai/nosana-monitor/internal/chain"
	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
)

// Defaults applied by Validate.
const (
	DefaultPollInterval   = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultMarketsTTL     = 5 * time.Minute
	DefaultLedgerTTL      = 15 * time.Minute
	DefaultJobsLimit      = 10
	DefaultServerPort     = 8080
	DefaultSyncInterval   = 60 * time.Second
	DefaultRedisPrefix    = "nosana:node"
)

var addressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// NodeConfig is one monitored node.
type NodeConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
}

// UniqueID is the short identifier derived from the address.
func (n NodeConfig) UniqueID() string {
	if len(n.Address) <= 8 {
		return n.Address
	}
	return n.Address[:8]
}

// DisplayName returns the configured name or "Nosana Node <id>".
func (n NodeConfig) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return "Nosana Node " + n.UniqueID()
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"` // default: true
	Port    int   `yaml:"port,omitempty"`
}

// IsEnabled reports whether the status server should run.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RedisConfig configures the Redis publisher. Empty URL disables it.
type RedisConfig struct {
	URL      string `yaml:"url,omitempty"`
	Password string `yaml:"password,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// WebhookConfig configures the webhook publisher. Empty URL disables it.
type WebhookConfig struct {
	URL        string `yaml:"url,omitempty"`
	Token      string `yaml:"token,omitempty"`
	EventsOnly bool   `yaml:"events_only,omitempty"`
}

// HistoryConfig configures the SQLite job archive. Empty path disables it.
type HistoryConfig struct {
	Path         string        `yaml:"path,omitempty"`
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"`
}

// Config is the monitor configuration file.
type Config struct {
	Nodes []NodeConfig `yaml:"nodes"`

	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	MarketsTTL     time.Duration `yaml:"markets_ttl,omitempty"`
	LedgerTTL      time.Duration `yaml:"ledger_ttl,omitempty"`
	JobsLimit      int           `yaml:"jobs_limit,omitempty"`
	MaxRecords     int           `yaml:"max_records,omitempty"`
	LedgerDir      string        `yaml:"ledger_dir,omitempty"`

	DashboardURL    string `yaml:"dashboard_url,omitempty"`
	NodeURLTemplate string `yaml:"node_url_template,omitempty"`
	RPCURL          string `yaml:"rpc_url,omitempty"`

	Server  ServerConfig  `yaml:"server,omitempty"`
	Redis   RedisConfig   `yaml:"redis,omitempty"`
	Webhook WebhookConfig `yaml:"webhook,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// DefaultDir returns $HOME/.nosana-monitor.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nosana-monitor"
	}
	return filepath.Join(home, ".nosana-monitor")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads a config file. A missing file at the default path yields an
// empty config so flags alone can drive the monitor.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// AddNodes appends nodes given on the command line, skipping ones already
// configured.
func (c *Config) AddNodes(addresses []string) {
	for _, addr := range addresses {
		found := false
		for _, n := range c.Nodes {
			if n.Address == addr {
				found = true
				break
			}
		}
		if !found {
			c.Nodes = append(c.Nodes, NodeConfig{Address: addr})
		}
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MarketsTTL == 0 {
		c.MarketsTTL = DefaultMarketsTTL
	}
	if c.LedgerTTL == 0 {
		c.LedgerTTL = DefaultLedgerTTL
	}
	if c.JobsLimit == 0 {
		c.JobsLimit = DefaultJobsLimit
	}
	if c.MaxRecords == 0 {
		c.MaxRecords = ledger.DefaultMaxRecords
	}
	if c.LedgerDir == "" {
		c.LedgerDir = filepath.Join(DefaultDir(), "ledger")
	}
	if c.DashboardURL == "" {
		c.DashboardURL = nosana.DefaultDashboardURL
	}
	if c.NodeURLTemplate == "" {
		c.NodeURLTemplate = nosana.DefaultNodeURLTemplate
	}
	if c.RPCURL == "" {
		c.RPCURL = chain.DefaultRPCURL
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.History.SyncInterval == 0 {
		c.History.SyncInterval = DefaultSyncInterval
	}
}

// Validate applies defaults and checks the configuration. Every problem found
// is reported; multierr.Errors splits the result.
func (c *Config) Validate() error {
	c.ApplyDefaults()

	var errs error
	if len(c.Nodes) == 0 {
		errs = multierr.Append(errs, errors.New("no nodes configured"))
	}
	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		switch {
		case !addressPattern.MatchString(n.Address):
			errs = multierr.Append(errs, fmt.Errorf("nodes[%d]: invalid address %q", i, n.Address))
		case seen[n.Address]:
			errs = multierr.Append(errs, fmt.Errorf("nodes[%d]: duplicate address %s", i, n.Address))
		}
		seen[n.Address] = true
	}
	if c.PollInterval < time.Second {
		errs = multierr.Append(errs, fmt.Errorf("poll_interval %s is below 1s", c.PollInterval))
	}
	if c.RequestTimeout < 0 || c.MarketsTTL < 0 || c.LedgerTTL < 0 {
		errs = multierr.Append(errs, errors.New("timeouts and TTLs must be positive"))
	}
	if c.JobsLimit < 1 || c.JobsLimit > 100 {
		errs = multierr.Append(errs, fmt.Errorf("jobs_limit %d out of range 1-100", c.JobsLimit))
	}
	switch {
	case c.MaxRecords < 1:
		errs = multierr.Append(errs, fmt.Errorf("max_records %d must be positive", c.MaxRecords))
	case c.MaxRecords < c.JobsLimit:
		// a smaller ledger would drop jobs the next fetch returns again
		errs = multierr.Append(errs, fmt.Errorf("max_records %d is below jobs_limit %d", c.MaxRecords, c.JobsLimit))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errs
}
