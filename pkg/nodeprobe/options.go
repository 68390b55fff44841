package nodeprobe

import (
	"io"
	"time"

	"github.com/PentesterFlow/nodeprobe/internal/logger"
	"github.com/PentesterFlow/nodeprobe/internal/metrics"
	"github.com/PentesterFlow/nodeprobe/internal/report"
)

// Option is a functional option for configuring the Client.
type Option func(*Client) error

// WithConfig replaces the whole configuration.
func WithConfig(config *Config) Option {
	return func(c *Client) error {
		c.config = config.Clone()
		return nil
	}
}

// WithNodeURL pins every call to one node.
func WithNodeURL(url string) Option {
	return func(c *Client) error {
		c.config.NodeURL = url
		return nil
	}
}

// WithServiceURL sets the statistics service used for discovery.
func WithServiceURL(url string) Option {
	return func(c *Client) error {
		c.config.ServiceURL = url
		return nil
	}
}

// WithNodeLimit sets the discovery listing size.
func WithNodeLimit(n int) Option {
	return func(c *Client) error {
		c.config.NodeLimit = n
		return nil
	}
}

// WithPreferSecure selects TLS-enabled nodes in discovery.
func WithPreferSecure(secure bool) Option {
	return func(c *Client) error {
		c.config.PreferSecure = secure
		return nil
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		c.config.Timeout = timeout
		return nil
	}
}

// WithCacheTTL sets how long discovery results are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.config.CacheTTL = ttl
		return nil
	}
}

// WithAddress sets the account address.
func WithAddress(address string) Option {
	return func(c *Client) error {
		c.config.Address = address
		return nil
	}
}

// WithDescriptionURL sets the API description to probe.
func WithDescriptionURL(url string) Option {
	return func(c *Client) error {
		c.config.Probe.DescriptionURL = url
		return nil
	}
}

// WithConcurrency sets the probe worker count. Values below 1 become 1.
func WithConcurrency(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			n = 1
		}
		c.config.Probe.Concurrency = n
		return nil
	}
}

// WithMethods sets the probed HTTP methods.
func WithMethods(methods ...string) Option {
	return func(c *Client) error {
		c.config.Probe.Methods = methods
		return nil
	}
}

// WithRateLimit paces probe requests. Zero means unlimited.
func WithRateLimit(rps float64) Option {
	return func(c *Client) error {
		c.config.Probe.RateLimit = rps
		return nil
	}
}

// WithNodeRateLimit paces probe requests per node. Zero means unlimited.
func WithNodeRateLimit(rps float64) Option {
	return func(c *Client) error {
		c.config.Probe.NodeRateLimit = rps
		return nil
	}
}

// WithPresets adds parameter presets.
func WithPresets(presets map[string]string) Option {
	return func(c *Client) error {
		if c.config.Probe.Presets == nil {
			c.config.Probe.Presets = make(map[string]string, len(presets))
		}
		for k, v := range presets {
			c.config.Probe.Presets[k] = v
		}
		return nil
	}
}

// WithCustomHeaders sets headers sent with every request.
func WithCustomHeaders(headers map[string]string) Option {
	return func(c *Client) error {
		if c.config.Headers == nil {
			c.config.Headers = make(map[string]string)
		}
		for k, v := range headers {
			c.config.Headers[k] = v
		}
		return nil
	}
}

// WithOutput sets where probe result lines are printed.
func WithOutput(w io.Writer) Option {
	return func(c *Client) error {
		c.out = w
		return nil
	}
}

// WithProgress shows a progress bar on w during probes.
func WithProgress(w io.Writer) Option {
	return func(c *Client) error {
		c.status = w
		return nil
	}
}

// WithReportWriter writes the JSON probe report to w.
func WithReportWriter(w io.Writer) Option {
	return func(c *Client) error {
		c.reportOut = w
		return nil
	}
}

// WithReportFile writes the JSON probe report to path.
func WithReportFile(path string) Option {
	return func(c *Client) error {
		c.config.Output.FilePath = path
		return nil
	}
}

// WithStreamMode streams report entries as they complete.
func WithStreamMode(stream bool) Option {
	return func(c *Client) error {
		c.config.Output.Stream = stream
		return nil
	}
}

// WithReportStore saves every probe run to store.
func WithReportStore(store report.Store) Option {
	return func(c *Client) error {
		c.store = store
		return nil
	}
}

// WithReportDB saves every probe run to a bbolt file.
func WithReportDB(path string) Option {
	return func(c *Client) error {
		c.config.Output.ReportDB = path
		return nil
	}
}

// WithVerbose enables info logging.
func WithVerbose(verbose bool) Option {
	return func(c *Client) error {
		c.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(c *Client) error {
		c.config.Debug = debug
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}
