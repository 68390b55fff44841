// Package nodeprobe is the public API for discovering gateway nodes,
// dispatching requests with fallback and probing a node's API surface.
package nodeprobe

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/PentesterFlow/nodeprobe/internal/dispatch"
	"github.com/PentesterFlow/nodeprobe/internal/errors"
	nphttp "github.com/PentesterFlow/nodeprobe/internal/http"
	"github.com/PentesterFlow/nodeprobe/internal/logger"
	"github.com/PentesterFlow/nodeprobe/internal/metrics"
	"github.com/PentesterFlow/nodeprobe/internal/nodes"
	"github.com/PentesterFlow/nodeprobe/internal/openapi"
	"github.com/PentesterFlow/nodeprobe/internal/probe"
	"github.com/PentesterFlow/nodeprobe/internal/progress"
	"github.com/PentesterFlow/nodeprobe/internal/ratelimit"
	"github.com/PentesterFlow/nodeprobe/internal/report"
	"github.com/PentesterFlow/nodeprobe/internal/request"
	"github.com/PentesterFlow/nodeprobe/internal/websocket"
)

// Client ties discovery, dispatch, probing and watching together.
type Client struct {
	config     *Config
	http       *nphttp.Client
	directory  *nodes.Directory
	dispatcher *dispatch.Dispatcher
	log        *logger.Logger
	metrics    *metrics.Collector

	out       io.Writer
	status    io.Writer
	reportOut io.Writer
	store     report.Store
	ownStore  bool
}

// New creates a client with the given options.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, errors.NewValidationError("configure", err.Error())
	}

	if c.log == nil {
		cfg := logger.DefaultConfig()
		cfg.Level = logger.LevelFor(c.config.Verbose, c.config.Debug)
		cfg.Component = "nodeprobe"
		c.log = logger.New(cfg)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.out == nil {
		c.out = os.Stdout
	}

	httpConfig := nphttp.DefaultClientConfig()
	httpConfig.Timeout = c.config.Timeout
	httpConfig.Headers = c.config.Headers
	httpConfig.SkipTLSVerify = c.config.SkipTLSVerify
	if c.config.UserAgent != "" {
		httpConfig.UserAgent = c.config.UserAgent
	}
	c.http = nphttp.NewClient(httpConfig)

	retry := errors.DefaultRetryConfig()
	retry.MaxRetries = c.config.Probe.DescriptionRetries
	c.http.SetRetryConfig(retry)

	c.directory = nodes.NewDirectory(c.http, nodes.Config{
		ServiceURL: c.config.ServiceURL,
		Timeout:    c.config.Timeout,
		CacheTTL:   c.config.CacheTTL,
	}, c.log)

	c.dispatcher = dispatch.New(c.http, c.directory, dispatch.Config{
		Timeout:      c.config.Timeout,
		NodeLimit:    c.config.NodeLimit,
		PreferSecure: c.config.PreferSecure,
		Metrics:      c.metrics,
	}, c.log)

	if c.store == nil && c.config.Output.ReportDB != "" {
		store, err := report.NewBoltStore(c.config.Output.ReportDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open report history: %w", err)
		}
		c.store = store
		c.ownStore = true
	}

	return c, nil
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() *Config {
	return c.config.Clone()
}

// Logger returns the client logger.
func (c *Client) Logger() *logger.Logger {
	return c.log
}

// Metrics returns the collector fed by dispatched requests. Probe runs keep
// their own counters in Run.Metrics.
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// Store returns the probe run history, or nil when none is configured.
func (c *Client) Store() report.Store {
	return c.store
}

// Close releases idle connections and the run history.
func (c *Client) Close() error {
	c.http.Close()
	if c.ownStore && c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Nodes returns the usable gateway URLs from the statistics service.
func (c *Client) Nodes(ctx context.Context) ([]string, error) {
	urls, err := c.directory.Discover(ctx, c.config.NodeLimit, c.config.PreferSecure)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, errors.NewNoUsableNodesError(c.directory.ServiceURL())
	}
	return urls, nil
}

// Node returns the pinned node, or one discovered node picked at random.
func (c *Client) Node(ctx context.Context) (string, error) {
	if !c.config.Discovering() {
		return c.config.NodeURL, nil
	}
	return c.directory.Pick(ctx, c.config.NodeLimit, c.config.PreferSecure)
}

// Request dispatches req to the pinned node, or to discovered nodes with
// fallback.
func (c *Client) Request(ctx context.Context, req *request.Logical) (*dispatch.Result, error) {
	return c.dispatcher.Dispatch(ctx, req, c.config.NodeURL)
}

// AccountOverview is the node, chain and account state for one address.
type AccountOverview struct {
	Address  string `json:"address"`
	NodeURL  string `json:"node_url"`
	Node     any    `json:"node"`
	Chain    any    `json:"chain"`
	Account  any    `json:"account"`
	Multisig any    `json:"multisig"`
}

// Account fetches node info, chain info, the account and its multisig
// state. Each call is dispatched on its own.
func (c *Client) Account(ctx context.Context) (*AccountOverview, error) {
	address := c.config.Address
	if address == "" {
		return nil, errors.NewValidationError("account", "an address is required (MY_ADDRESS or --address)")
	}

	overview := &AccountOverview{Address: address}
	steps := []struct {
		req  *request.Logical
		into *any
	}{
		{request.New("GET", "/node/info"), &overview.Node},
		{request.New("GET", "/chain/info"), &overview.Chain},
		{request.New("GET", "/accounts/{accountId}").WithPathParam("accountId", address), &overview.Account},
		{request.New("GET", "/account/{address}/multisig").WithPathParam("address", address), &overview.Multisig},
	}

	for i, step := range steps {
		res, err := c.Request(ctx, step.req)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			overview.NodeURL = res.Node
		}
		*step.into = res.Payload
	}
	return overview, nil
}

// Announce sends a signed transaction payload to PUT /transactions.
func (c *Client) Announce(ctx context.Context, payload string) (*dispatch.Result, error) {
	if payload == "" {
		return nil, errors.NewValidationError("announce", "a signed transaction payload is required")
	}
	req := request.New("PUT", "/transactions").WithBody(map[string]string{"payload": payload})
	return c.Request(ctx, req)
}

// CurrencyMosaicID reads the network currency mosaic id from
// /network/properties.
func (c *Client) CurrencyMosaicID(ctx context.Context) (string, error) {
	res, err := c.Request(ctx, request.New("GET", "/network/properties"))
	if err != nil {
		return "", err
	}

	id := ExtractCurrencyMosaicID(res.Raw)
	if id == "" {
		return "", errors.NewNodeError(errors.Parse, res.URL, "currency_mosaic_id",
			"currency mosaic id not found in network properties", nil)
	}
	return id, nil
}

// ExtractCurrencyMosaicID returns the first non-empty currency mosaic id in
// a network properties document. The chain section is read from the top
// level, or from network.chain when there is none.
func ExtractCurrencyMosaicID(raw []byte) string {
	doc := gjson.ParseBytes(raw)
	chain := doc.Get("chain")
	if !chain.Exists() {
		chain = doc.Get("network.chain")
	}

	for _, v := range []gjson.Result{
		chain.Get("currencyMosaicId"),
		chain.Get("currencyMosaicIdHex"),
		doc.Get("currencyMosaicId"),
		doc.Get("currencyMosaicIdHex"),
	} {
		if v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// Probe synthesizes one request per operation of the configured API
// description and runs them against a single node. Setup failures (node
// selection, description fetch or parse) are returned as errors; request
// failures are only counted in the run.
func (c *Client) Probe(ctx context.Context) (*report.Run, error) {
	node, err := c.Node(ctx)
	if err != nil {
		return nil, err
	}

	source := c.config.Probe.DescriptionURL
	raw, err := c.http.FetchText(ctx, source, c.config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch API description: %w", err)
	}

	doc, err := openapi.Parse(raw)
	if err != nil {
		return nil, errors.NewParseError(source, "parse_description", err)
	}

	methods := c.config.Probe.Methods
	if len(methods) == 0 {
		methods = openapi.DefaultMethods
	}
	reqs := doc.Requests(methods, openapi.Presets(c.config.Probe.Presets))
	c.log.WithNode(node).Infof("probing %d operations from %s", len(reqs), source)

	writer, closeWriter, err := c.reportWriter()
	if err != nil {
		return nil, err
	}
	defer closeWriter()

	var limiter *ratelimit.Limiter
	if c.config.Probe.RateLimit > 0 || c.config.Probe.NodeRateLimit > 0 {
		limiter = ratelimit.NewLimiter(c.config.Probe.RateLimit, 1)
		limiter.SetNodeRate(c.config.Probe.NodeRateLimit)
		c.log.WithField("limits", limiter.Stats()).Debug("probe pacing enabled")
	}

	// Each run gets its own collector so Run.Metrics covers only that run.
	prober := probe.New(c.http, probe.Options{
		Concurrency: c.config.Probe.Concurrency,
		Timeout:     c.config.Timeout,
		Limiter:     limiter,
		Metrics:     metrics.New(),
		Display:     progress.New(c.out, c.status),
		Writer:      writer,
		Log:         c.log,
	})
	run := prober.Run(ctx, node, source, methods, reqs)

	if writer != nil {
		if err := writer.WriteRun(run); err != nil {
			return run, fmt.Errorf("failed to write probe report: %w", err)
		}
	}
	if c.store != nil {
		if err := c.store.Save(run); err != nil {
			return run, fmt.Errorf("failed to save probe run: %w", err)
		}
	}
	return run, nil
}

// reportWriter opens the configured JSON report destination, if any.
func (c *Client) reportWriter() (*report.JSONWriter, func(), error) {
	out := c.reportOut
	closeFn := func() {}

	if out == nil && c.config.Output.FilePath != "" {
		f, err := os.Create(c.config.Output.FilePath)
		if err != nil {
			return nil, closeFn, fmt.Errorf("failed to create report file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}
	if out == nil {
		return nil, closeFn, nil
	}
	return report.NewJSONWriter(out, c.config.Output.Pretty, c.config.Output.Stream), closeFn, nil
}

// Watch subscribes to a websocket channel on the pinned node, or on the
// first discovered candidate that accepts, and hands every message to
// handle. maxMessages of zero watches until ctx ends.
func (c *Client) Watch(ctx context.Context, channel string, maxMessages int, handle func(websocket.Message) error) (*websocket.Session, error) {
	candidates, mode, err := c.dispatcher.Candidates(ctx, c.config.NodeURL)
	if err != nil {
		return nil, err
	}

	watcher := websocket.NewWatcher(websocket.Config{
		HandshakeTimeout: c.config.Timeout,
		MaxMessages:      maxMessages,
		Headers:          c.config.Headers,
	}, c.log)

	start := time.Now()
	session, err := watcher.Watch(ctx, candidates, mode, channel, handle)
	if session != nil {
		c.log.WithNode(session.URL).Infof("received %d messages in %s", session.Received, time.Since(start).Round(time.Millisecond))
	}
	return session, err
}
