package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/PentesterFlow/nodeprobe/internal/openapi"
	"github.com/PentesterFlow/nodeprobe/pkg/nodeprobe"
)

// setting binds one configuration key to a flag and, optionally, to
// environment variables (first set wins).
type setting struct {
	key  string
	flag string
	env  []string
}

var settings = []setting{
	{key: "node_url", flag: "node-url", env: []string{"SYMBOL_WEBAPI_NODE_URL"}},
	{key: "service_url", flag: "service-url", env: []string{"SYMBOL_STATISTICS_URL"}},
	{key: "node_limit", flag: "node-limit"},
	{key: "ssl", flag: "ssl"},
	{key: "timeout_ms", flag: "timeout-ms", env: []string{"SYMBOL_TIMEOUT_MS"}},
	{key: "address", flag: "address", env: []string{"MY_ADDRESS", "SYMBOL_ADDRESS"}},
	{key: "openapi_url", flag: "openapi-url", env: []string{"SYMBOL_OPENAPI_URL"}},
	{key: "concurrency", flag: "concurrency", env: []string{"SYMBOL_PROBE_CONCURRENCY"}},
	{key: "methods", flag: "methods", env: []string{"SYMBOL_PROBE_METHODS"}},
	{key: "rate_limit", flag: "rate-limit"},
	{key: "node_rate_limit", flag: "node-rate-limit"},
	{key: "output", flag: "output"},
	{key: "report_db", flag: "report-db"},
	{key: "stream", flag: "stream"},
	{key: "insecure", flag: "insecure"},
	{key: "verbose", flag: "verbose"},
	{key: "debug", flag: "debug", env: []string{"SYMBOL_DEBUG"}},
}

// bind registers every setting with v. Flags missing from fs are skipped so
// each command only binds what it declares.
func bind(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, s := range settings {
		if f := fs.Lookup(s.flag); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return err
			}
		}
		if len(s.env) > 0 {
			if err := v.BindEnv(append([]string{s.key}, s.env...)...); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveConfig layers defaults, the config file, the environment and the
// command line, in increasing precedence.
func resolveConfig(v *viper.Viper, configFile string) (*nodeprobe.Config, error) {
	config := nodeprobe.DefaultConfig()
	if configFile != "" {
		loaded, err := nodeprobe.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if v.IsSet("node_url") {
		config.NodeURL = strings.TrimSpace(v.GetString("node_url"))
	}
	if v.IsSet("service_url") {
		config.ServiceURL = v.GetString("service_url")
	}
	if v.IsSet("node_limit") {
		config.NodeLimit = v.GetInt("node_limit")
	}
	if v.IsSet("ssl") {
		config.PreferSecure = v.GetBool("ssl")
	}
	if v.IsSet("timeout_ms") {
		ms := v.GetInt("timeout_ms")
		if ms <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", v.GetString("timeout_ms"))
		}
		config.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v.IsSet("address") {
		config.Address = v.GetString("address")
	}
	if v.IsSet("openapi_url") {
		config.Probe.DescriptionURL = v.GetString("openapi_url")
	}
	if v.IsSet("concurrency") {
		config.Probe.Concurrency = max(1, v.GetInt("concurrency"))
	}
	if v.IsSet("methods") {
		if methods := nodeprobe.ParseMethods(v.GetString("methods")); len(methods) > 0 {
			config.Probe.Methods = methods
		}
	}
	if v.IsSet("rate_limit") {
		config.Probe.RateLimit = v.GetFloat64("rate_limit")
	}
	if v.IsSet("node_rate_limit") {
		config.Probe.NodeRateLimit = v.GetFloat64("node_rate_limit")
	}
	if v.IsSet("output") {
		config.Output.FilePath = v.GetString("output")
	}
	if v.IsSet("report_db") {
		config.Output.ReportDB = v.GetString("report_db")
	}
	if v.IsSet("stream") {
		config.Output.Stream = v.GetBool("stream")
	}
	if v.IsSet("insecure") {
		config.SkipTLSVerify = v.GetBool("insecure")
	}
	if v.IsSet("verbose") {
		config.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("debug") {
		config.Debug = v.GetBool("debug")
	}

	// Environment presets override presets from the config file.
	if config.Probe.Presets == nil {
		config.Probe.Presets = make(map[string]string)
	}
	for name, value := range openapi.PresetsFromEnv(os.Getenv) {
		config.Probe.Presets[name] = value
	}
	// The address key already resolves --address over MY_ADDRESS and
	// SYMBOL_ADDRESS, so it wins over the environment preset.
	if v.IsSet("address") && config.Address != "" {
		config.Probe.Presets["address"] = config.Address
	} else if config.Address != "" {
		if _, ok := config.Probe.Presets["address"]; !ok {
			config.Probe.Presets["address"] = config.Address
		}
	}

	return config, nil
}

// loadEnvFile exports KEY=VALUE pairs from a dotenv file. Variables that are
// already set are left alone. A missing file is an error only when required.
func loadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return fmt.Errorf("env file: %w", err)
	}

	// viper lower-cases keys; environment names are upper case.
	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return err
		}
	}
	return nil
}
