package nodeprobe

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/nodeprobe/internal/nodes"
	"github.com/PentesterFlow/nodeprobe/internal/openapi"
	"github.com/PentesterFlow/nodeprobe/internal/probe"
)

// Config holds all client configuration.
type Config struct {
	// Node to use for every call. Empty means discover nodes.
	NodeURL string `json:"node_url" yaml:"node_url"`

	// Statistics service that lists nodes
	ServiceURL string `json:"service_url" yaml:"service_url"`

	// Listing size requested from the statistics service
	NodeLimit int `json:"node_limit" yaml:"node_limit"`

	// Ask the statistics service for TLS-enabled nodes
	PreferSecure bool `json:"prefer_secure" yaml:"prefer_secure"`

	// Per-attempt timeout
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// How long a discovery result is reused. Zero disables caching.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// Address used by the account overview
	Address string `json:"address" yaml:"address"`

	// HTTP settings
	UserAgent     string            `json:"user_agent" yaml:"user_agent"`
	Headers       map[string]string `json:"headers" yaml:"headers"`
	SkipTLSVerify bool              `json:"skip_tls_verify" yaml:"skip_tls_verify"`

	// Probe settings
	Probe ProbeConfig `json:"probe" yaml:"probe"`

	// Probe reporting
	Output OutputConfig `json:"output" yaml:"output"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug logging
	Debug bool `json:"debug" yaml:"debug"`
}

// ProbeConfig holds API surface probe settings.
type ProbeConfig struct {
	// API description document to probe
	DescriptionURL string `json:"description_url" yaml:"description_url"`

	// Retries for fetching the description
	DescriptionRetries int `json:"description_retries" yaml:"description_retries"`

	// Number of concurrent workers
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// HTTP methods to include
	Methods []string `json:"methods" yaml:"methods"`

	// Requests per second across workers. Zero means unlimited.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// Requests per second to any single node. Zero means unlimited.
	NodeRateLimit float64 `json:"node_rate_limit" yaml:"node_rate_limit"`

	// Parameter values by name, used before any value from the description
	Presets map[string]string `json:"presets" yaml:"presets"`
}

// OutputConfig holds probe report settings.
type OutputConfig struct {
	// JSON report file. Empty disables the report.
	FilePath string `json:"file_path" yaml:"file_path"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`

	// Stream every entry as it completes
	Stream bool `json:"stream" yaml:"stream"`

	// bbolt run history. Empty disables the history.
	ReportDB string `json:"report_db" yaml:"report_db"`
}

// DefaultConfig returns a configuration with the testnet defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceURL:   nodes.DefaultServiceURL,
		NodeLimit:    nodes.DefaultLimit,
		PreferSecure: true,
		Timeout:      10 * time.Second,
		CacheTTL:     nodes.DefaultCacheTTL,
		UserAgent:    "nodeprobe/1.0",
		Probe: ProbeConfig{
			DescriptionURL:     openapi.DefaultDescriptionURL,
			DescriptionRetries: 2,
			Concurrency:        probe.DefaultConcurrency,
			Methods:            append([]string(nil), openapi.DefaultMethods...),
		},
		Output: OutputConfig{
			Pretty: true,
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML) on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. A .json suffix selects JSON.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeURL != "" {
		if err := checkHTTPURL(c.NodeURL); err != nil {
			return fmt.Errorf("node URL: %w", err)
		}
	} else if c.ServiceURL == "" {
		return fmt.Errorf("service URL is required when no node URL is set")
	}

	if c.ServiceURL != "" {
		if err := checkHTTPURL(c.ServiceURL); err != nil {
			return fmt.Errorf("service URL: %w", err)
		}
	}

	if c.NodeLimit < 1 {
		return fmt.Errorf("node limit must be at least 1")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Probe.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	if c.Probe.RateLimit < 0 || c.Probe.NodeRateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Probe.DescriptionRetries < 0 {
		return fmt.Errorf("description retries must not be negative")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// Discovering reports whether calls go to discovered nodes.
func (c *Config) Discovering() bool {
	return c.NodeURL == ""
}

// ParseMethods splits a comma-separated method list, lower-cased, empty
// entries dropped.
func ParseMethods(s string) []string {
	var methods []string
	for _, m := range strings.Split(s, ",") {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
