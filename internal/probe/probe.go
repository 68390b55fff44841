// Package probe runs synthesized requests against one gateway node under a
// fixed worker concurrency.
package probe

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/nodeprobe/internal/errors"
	nphttp "github.com/PentesterFlow/nodeprobe/internal/http"
	"github.com/PentesterFlow/nodeprobe/internal/logger"
	"github.com/PentesterFlow/nodeprobe/internal/metrics"
	"github.com/PentesterFlow/nodeprobe/internal/progress"
	"github.com/PentesterFlow/nodeprobe/internal/ratelimit"
	"github.com/PentesterFlow/nodeprobe/internal/report"
	"github.com/PentesterFlow/nodeprobe/internal/request"
)

// DefaultConcurrency is the worker count used when none is configured.
const DefaultConcurrency = 3

// Options configures a Prober. Every collaborator is optional.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Collector
	Display     *progress.Display
	Writer      *report.JSONWriter
	Log         *logger.Logger
}

// Prober issues every request of a run directly against one node.
type Prober struct {
	client  *nphttp.Client
	opts    Options
	metrics *metrics.Collector
	log     *logger.Logger
}

// New creates a Prober.
func New(client *nphttp.Client, opts Options) *Prober {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	return &Prober{
		client:  client,
		opts:    opts,
		metrics: opts.Metrics,
		log:     log.WithComponent("probe"),
	}
}

// Concurrency returns the effective worker count.
func (p *Prober) Concurrency() int {
	return p.opts.Concurrency
}

// Metrics returns the collector fed by the workers.
func (p *Prober) Metrics() *metrics.Collector {
	return p.metrics
}

// Run probes reqs against node and returns the run summary. Per-request
// failures are recorded and never stop the run, so Success+Errors always
// equals len(reqs). Entries are in request order regardless of completion
// order.
func (p *Prober) Run(ctx context.Context, node, description string, methods []string, reqs []*request.Logical) *report.Run {
	run := &report.Run{
		Node:        node,
		Description: description,
		Methods:     methods,
		StartedAt:   time.Now(),
		Entries:     make([]report.Entry, len(reqs)),
	}

	if p.opts.Display != nil {
		p.opts.Display.Start(node, description, len(reqs), methods)
	}
	p.metrics.SetPending(int64(len(reqs)))

	workers := p.opts.Concurrency
	if workers > len(reqs) {
		workers = max(1, len(reqs))
	}

	var next atomic.Int64
	var pending atomic.Int64
	pending.Store(int64(len(reqs)))

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.metrics.WorkerStarted()
			defer p.metrics.WorkerDone()

			for {
				idx := int(next.Add(1) - 1)
				if idx >= len(reqs) {
					return nil
				}
				run.Entries[idx] = p.attempt(ctx, node, reqs[idx])
				p.metrics.SetPending(pending.Add(-1))
			}
		})
	}
	// Workers never return errors.
	_ = g.Wait()

	run.Tally()
	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)
	run.Metrics = p.metrics.Snapshot().Summary()

	if p.opts.Display != nil {
		p.opts.Display.Done()
	}
	p.log.StatsEvent(run.Metrics)

	return run
}

// attempt issues one request and classifies the outcome.
func (p *Prober) attempt(ctx context.Context, node string, req *request.Logical) report.Entry {
	entry := report.Entry{
		ID:     req.Label(),
		Method: req.HTTPMethod(),
		Path:   request.BuildPath(req.Path, req.PathParams),
		URL:    req.URL(node),
	}
	start := time.Now()

	err := p.wait(ctx, node)
	var resp *nphttp.Response
	if err == nil {
		p.metrics.RecordRequest()
		resp, err = p.client.Do(ctx, entry.Method, entry.URL, req.WireBody(), p.opts.Timeout)
	}
	entry.Duration = time.Since(start)

	if resp != nil {
		entry.StatusCode = resp.StatusCode
		p.metrics.RecordStatusCode(resp.StatusCode)
		p.metrics.RecordBytes(int64(len(resp.Raw)))
		p.metrics.RecordResponseTime(resp.Duration)
	}

	if err != nil {
		entry.Error = failureReason(resp, err)
		entry.ErrorType = errors.GetErrorType(err).String()
		p.metrics.RecordError(entry.ErrorType)
		p.log.WithRequest(entry.ID).WithError(err).Debug("probe request failed")
		if p.opts.Display != nil {
			p.opts.Display.Failure(entry.Method, entry.Path, entry.ID, entry.Error)
		}
	} else {
		entry.OK = true
		p.metrics.RecordSuccess()
		if p.opts.Display != nil {
			p.opts.Display.Success(entry.Method, entry.Path, entry.ID)
		}
	}

	if p.opts.Writer != nil {
		if werr := p.opts.Writer.WriteEntry(entry); werr != nil {
			p.log.WithError(werr).Warn("failed to write probe entry")
		}
	}
	return entry
}

func (p *Prober) wait(ctx context.Context, node string) error {
	if p.opts.Limiter == nil {
		if err := ctx.Err(); err != nil {
			return errors.Categorize(err, node)
		}
		return nil
	}
	if err := p.opts.Limiter.WaitNode(ctx, node); err != nil {
		return errors.Categorize(err, node)
	}
	return nil
}

// failureReason renders "STATUS: excerpt" for an error response and the
// error message otherwise.
func failureReason(resp *nphttp.Response, err error) string {
	if resp != nil && errors.GetErrorType(err) == errors.HTTPStatus {
		if excerpt := nphttp.Excerpt(resp.Raw); excerpt != "" {
			return resp.Status + ": " + excerpt
		}
		return resp.Status
	}
	if nodeErr, ok := errors.AsNodeError(err); ok && nodeErr.Cause != nil {
		return nodeErr.Cause.Error()
	}
	return err.Error()
}
