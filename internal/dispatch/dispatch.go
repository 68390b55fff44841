// Package dispatch sends logical requests to gateway nodes with ordered
// candidate fallback.
package dispatch

import (
	"context"
	"time"

	"github.com/PentesterFlow/nodeprobe/internal/errors"
	"github.com/PentesterFlow/nodeprobe/internal/gateway"
	nphttp "github.com/PentesterFlow/nodeprobe/internal/http"
	"github.com/PentesterFlow/nodeprobe/internal/logger"
	"github.com/PentesterFlow/nodeprobe/internal/metrics"
	"github.com/PentesterFlow/nodeprobe/internal/nodes"
	"github.com/PentesterFlow/nodeprobe/internal/request"
)

// Config holds dispatcher configuration.
type Config struct {
	Timeout      time.Duration // Per-attempt timeout
	NodeLimit    int           // Listing size for discovered dispatch
	PreferSecure bool
	Metrics      *metrics.Collector // Per-attempt counters, one is created when nil
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		NodeLimit:    nodes.DefaultLimit,
		PreferSecure: true,
	}
}

// Result is the first successful response of a dispatch.
type Result struct {
	URL        string        `json:"url"`
	Node       string        `json:"node"`
	StatusCode int           `json:"status"`
	Payload    any           `json:"payload"`
	Raw        []byte        `json:"-"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

// Dispatcher resolves logical requests against pinned or discovered nodes.
type Dispatcher struct {
	client    *nphttp.Client
	directory *nodes.Directory
	config    Config
	metrics   *metrics.Collector
	log       *logger.Logger
}

// New creates a dispatcher.
func New(client *nphttp.Client, directory *nodes.Directory, config Config, log *logger.Logger) *Dispatcher {
	if config.NodeLimit <= 0 {
		config.NodeLimit = nodes.DefaultLimit
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		client:    client,
		directory: directory,
		config:    config,
		metrics:   config.Metrics,
		log:       log.WithComponent("dispatch"),
	}
}

// Metrics returns the collector fed by every candidate attempt.
func (d *Dispatcher) Metrics() *metrics.Collector {
	return d.metrics
}

// Dispatch sends req to node when one is given, otherwise to discovered nodes.
func (d *Dispatcher) Dispatch(ctx context.Context, req *request.Logical, node string) (*Result, error) {
	if node != "" {
		return d.Pinned(ctx, node, req)
	}
	return d.Discovered(ctx, req)
}

// Pinned sends req to an explicitly named node. The node is trusted as
// given: the first candidate's failure is returned without trying its
// fallback.
func (d *Dispatcher) Pinned(ctx context.Context, node string, req *request.Logical) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if node == "" {
		return nil, errors.NewValidationError("dispatch", "pinned node URL is required")
	}

	candidates := gateway.Expand(node)
	failure := errors.NewDispatchError(errors.ModePinned, req.Label(), len(candidates))
	return d.try(ctx, req, candidates[:1], failure)
}

// Discovered sends req to discovered nodes, trying every expanded candidate
// in order until one succeeds.
func (d *Dispatcher) Discovered(ctx context.Context, req *request.Logical) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	candidates, err := d.DiscoveredCandidates(ctx)
	if err != nil {
		return nil, err
	}

	failure := errors.NewDispatchError(errors.ModeDiscovered, req.Label(), len(candidates))
	return d.try(ctx, req, candidates, failure)
}

// Candidates returns the ordered base URLs a dispatch would attempt.
func (d *Dispatcher) Candidates(ctx context.Context, node string) ([]string, errors.DispatchMode, error) {
	if node != "" {
		return gateway.Expand(node)[:1], errors.ModePinned, nil
	}
	candidates, err := d.DiscoveredCandidates(ctx)
	return candidates, errors.ModeDiscovered, err
}

// DiscoveredCandidates discovers nodes and expands each into its fallbacks.
func (d *Dispatcher) DiscoveredCandidates(ctx context.Context) ([]string, error) {
	urls, err := d.directory.Discover(ctx, d.config.NodeLimit, d.config.PreferSecure)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, errors.NewNoUsableNodesError(d.directory.ServiceURL())
	}
	return gateway.ExpandAll(urls), nil
}

// try attempts candidates strictly in order and returns the first success.
func (d *Dispatcher) try(ctx context.Context, req *request.Logical, candidates []string, failure *errors.DispatchError) (*Result, error) {
	method := req.HTTPMethod()
	body := req.WireBody()

	for i, node := range candidates {
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError(node, req.Label())
		}
		if i > 0 {
			d.metrics.RecordRetry()
		}

		target := req.URL(node)
		d.metrics.RecordRequest()
		resp, err := d.client.Do(ctx, method, target, body, d.config.Timeout)
		if resp != nil {
			d.metrics.RecordStatusCode(resp.StatusCode)
			d.metrics.RecordResponseTime(resp.Duration)
		}
		if err == nil {
			d.metrics.RecordSuccess()
			d.log.RequestEvent(method, target, resp.StatusCode, resp.Duration)
			return &Result{
				URL:        target,
				Node:       node,
				StatusCode: resp.StatusCode,
				Payload:    resp.Payload,
				Raw:        resp.Raw,
				Attempts:   failure.Attempted + 1,
				Duration:   resp.Duration,
			}, nil
		}

		d.metrics.RecordError(errors.GetErrorType(err).String())
		failure.Record(node, err)
		d.log.AttemptFailed(node, method, req.Path, failure.Attempted, err)
	}

	return nil, failure
}

func validate(req *request.Logical) error {
	if req == nil || req.Path == "" {
		return errors.NewValidationError("dispatch", "path is required")
	}
	return nil
}
