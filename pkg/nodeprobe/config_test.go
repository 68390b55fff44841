package nodeprobe

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// =============================================================================
// DefaultConfig Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceURL != "https://testnet.symbol.services" {
		t.Errorf("ServiceURL = %q", config.ServiceURL)
	}
	if config.NodeLimit != 30 {
		t.Errorf("NodeLimit = %d, want 30", config.NodeLimit)
	}
	if !config.PreferSecure {
		t.Error("PreferSecure should be true")
	}
	if config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", config.Timeout)
	}
	if config.Probe.Concurrency != 3 {
		t.Errorf("Probe.Concurrency = %d, want 3", config.Probe.Concurrency)
	}
	if !reflect.DeepEqual(config.Probe.Methods, []string{"get", "post"}) {
		t.Errorf("Probe.Methods = %v", config.Probe.Methods)
	}
	if config.Probe.DescriptionRetries != 2 {
		t.Errorf("Probe.DescriptionRetries = %d, want 2", config.Probe.DescriptionRetries)
	}
	if config.Probe.RateLimit != 0 {
		t.Errorf("Probe.RateLimit = %v, want 0", config.Probe.RateLimit)
	}
	if !config.Discovering() {
		t.Error("default config should discover nodes")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"pinned node", func(c *Config) { c.NodeURL = "https://node.example:3001" }, false},
		{"pinned node without service", func(c *Config) {
			c.NodeURL = "http://node.example:3000"
			c.ServiceURL = ""
		}, false},
		{"no node and no service", func(c *Config) { c.ServiceURL = "" }, true},
		{"bad node scheme", func(c *Config) { c.NodeURL = "ftp://node.example" }, true},
		{"node without host", func(c *Config) { c.NodeURL = "https://" }, true},
		{"bad service", func(c *Config) { c.ServiceURL = "not a url" }, true},
		{"zero node limit", func(c *Config) { c.NodeLimit = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"zero concurrency", func(c *Config) { c.Probe.Concurrency = 0 }, true},
		{"negative rate", func(c *Config) { c.Probe.RateLimit = -1 }, true},
		{"negative retries", func(c *Config) { c.Probe.DescriptionRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodeprobe.yaml")
	content := `
node_url: https://node.example:3001
timeout: 3s
probe:
  concurrency: 8
  methods: [get]
  presets:
    address: TADDRESS
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if config.NodeURL != "https://node.example:3001" {
		t.Errorf("NodeURL = %q", config.NodeURL)
	}
	if config.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", config.Timeout)
	}
	if config.Probe.Concurrency != 8 || config.Probe.Presets["address"] != "TADDRESS" {
		t.Errorf("Probe = %+v", config.Probe)
	}
	// Unset fields keep their defaults.
	if config.NodeLimit != 30 || config.ServiceURL == "" {
		t.Errorf("defaults lost: limit %d, service %q", config.NodeLimit, config.ServiceURL)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.NodeURL = "http://node.example:3000"
	config.Probe.Methods = []string{"get", "put"}

	for _, name := range []string{"config.yaml", "config.json"} {
		path := filepath.Join(dir, name)
		if err := config.SaveToFile(path); err != nil {
			t.Fatalf("SaveToFile(%s) error = %v", name, err)
		}
		loaded, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile(%s) error = %v", name, err)
		}
		if loaded.NodeURL != config.NodeURL || !reflect.DeepEqual(loaded.Probe.Methods, config.Probe.Methods) {
			t.Errorf("%s round trip = %+v", name, loaded)
		}
		if loaded.Timeout != config.Timeout {
			t.Errorf("%s timeout = %v, want %v", name, loaded.Timeout, config.Timeout)
		}
	}
}

func TestConfig_Clone(t *testing.T) {
	config := DefaultConfig()
	config.Headers = map[string]string{"X-A": "1"}

	clone := config.Clone()
	clone.Headers["X-A"] = "2"
	clone.Probe.Methods[0] = "delete"

	if config.Headers["X-A"] != "1" || config.Probe.Methods[0] != "get" {
		t.Error("Clone() shares state with the original")
	}
}

func TestParseMethods(t *testing.T) {
	got := ParseMethods(" GET, post,,Put ")
	want := []string{"get", "post", "put"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseMethods() = %v, want %v", got, want)
	}
	if ParseMethods("") != nil {
		t.Error("ParseMethods(\"\") should be nil")
	}
}
