package config

import (
	"time"

	"github.com/goccy/go-yaml"
)

// Config represents the complete headergate configuration.
type Config struct {
	Listener ListenerConfig           `yaml:"listener"`
	Upstream string                   `yaml:"upstream"` // cluster that receives augmented requests
	Clusters map[string]ClusterConfig `yaml:"clusters"`
	Filter   yaml.RawMessage          `yaml:"filter"` // raw filter stanza, parsed at activation time
	Admin    AdminConfig              `yaml:"admin"`
	Logging  LoggingConfig            `yaml:"logging"`
	Redis    RedisConfig              `yaml:"redis"` // optional shared header cache backend
}

// ListenerConfig defines the HTTP listener settings.
type ListenerConfig struct {
	Address      string        `yaml:"address"` // e.g., ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ClusterConfig defines a named upstream endpoint. The filter stanza and
// the upstream setting reference clusters by name.
type ClusterConfig struct {
	Address string `yaml:"address"` // host:port
	Scheme  string `yaml:"scheme"`  // http or https, defaults to http
}

// AdminConfig defines the admin API settings.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g., ":9902"
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string            `yaml:"level"` // debug, info, warn, error
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RedisConfig defines the optional Redis backend for the shared header
// cache, letting multiple gateway replicas share one refreshed payload.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// FilterConfig describes where and how the header-augmenting filter fetches
// headers, and how long they stay cached between refreshes.
type FilterConfig struct {
	// HeaderProvidingServiceCluster is the cluster housing the HTTP service
	// that provides headers to add to requests.
	HeaderProvidingServiceCluster string `yaml:"header_providing_service_cluster"`

	// HeaderProvidingServicePath is the path to call on that service.
	HeaderProvidingServicePath string `yaml:"header_providing_service_path"`

	// HeaderProvidingServiceAuthority is the authority to present when
	// calling that service.
	HeaderProvidingServiceAuthority string `yaml:"header_providing_service_authority"`

	// HeaderCacheExpiry is the length of time to keep headers cached.
	HeaderCacheExpiry time.Duration `yaml:"header_cache_expiry"`
}

// DefaultFilterConfig returns the documented filter defaults.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		HeaderProvidingServiceCluster:   "sidecar",
		HeaderProvidingServicePath:      "/headers",
		HeaderProvidingServiceAuthority: "sidecar",
		HeaderCacheExpiry:               360 * time.Second,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: "backend",
		Clusters: map[string]ClusterConfig{
			"sidecar": {Address: "localhost:9080", Scheme: "http"},
			"backend": {Address: "localhost:9000", Scheme: "http"},
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":9902",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "headergate:",
		},
	}
}
