package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes. Fields absent from the input
// keep their defaults; a malformed document is rejected outright.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Leave unresolved variables as-is so they fail loudly downstream
		return match
	})
}

// validate checks structural invariants of the loaded configuration. The
// filter stanza is deliberately not validated here: parsing it is the
// filter's own activation step.
func (l *Loader) validate(cfg *Config) error {
	if cfg.Listener.Address == "" {
		return fmt.Errorf("listener address is required")
	}
	if cfg.Upstream == "" {
		return fmt.Errorf("upstream cluster name is required")
	}
	if _, ok := cfg.Clusters[cfg.Upstream]; !ok {
		return fmt.Errorf("upstream references unknown cluster %q", cfg.Upstream)
	}
	for name, cluster := range cfg.Clusters {
		if cluster.Address == "" {
			return fmt.Errorf("cluster %q has no address", name)
		}
		if cluster.Scheme != "" && cluster.Scheme != "http" && cluster.Scheme != "https" {
			return fmt.Errorf("cluster %q has unsupported scheme %q", name, cluster.Scheme)
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis is enabled but no addr is set")
	}
	return nil
}

// ParseFilter parses a raw filter stanza, overlaying any fields present onto
// the documented defaults. Missing fields are never an error; a payload that
// does not match the expected shape, or an unparsable duration string, is.
func ParseFilter(raw []byte) (FilterConfig, error) {
	cfg := DefaultFilterConfig()

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return FilterConfig{}, fmt.Errorf("failed to parse filter configuration: %w", err)
	}

	if cfg.HeaderCacheExpiry <= 0 {
		return FilterConfig{}, fmt.Errorf("header_cache_expiry must be positive, got %v", cfg.HeaderCacheExpiry)
	}
	if cfg.HeaderProvidingServiceCluster == "" {
		return FilterConfig{}, fmt.Errorf("header_providing_service_cluster must not be empty")
	}

	return cfg, nil
}
