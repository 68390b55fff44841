// Package nodes discovers gateway nodes from the statistics service.
package nodes

import (
	"context"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"

	"github.com/PentesterFlow/nodeprobe/internal/errors"
	"github.com/PentesterFlow/nodeprobe/internal/gateway"
	nphttp "github.com/PentesterFlow/nodeprobe/internal/http"
	"github.com/PentesterFlow/nodeprobe/internal/logger"
)

// Defaults for the statistics service.
const (
	DefaultServiceURL = "https://testnet.symbol.services"
	DefaultLimit      = 30
	DefaultCacheTTL   = 30 * time.Second
	defaultCacheSize  = 16
)

// Config holds directory configuration.
type Config struct {
	ServiceURL string
	Timeout    time.Duration
	CacheTTL   time.Duration // Zero disables caching
}

// DefaultConfig returns the directory defaults.
func DefaultConfig() Config {
	return Config{
		ServiceURL: DefaultServiceURL,
		Timeout:    10 * time.Second,
		CacheTTL:   DefaultCacheTTL,
	}
}

type cacheKey struct {
	limit  int
	secure bool
}

// Directory lists usable gateway nodes.
type Directory struct {
	client *nphttp.Client
	config Config
	log    *logger.Logger
	cache  *expirable.LRU[cacheKey, []string]
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewDirectory creates a directory backed by the given HTTP client.
func NewDirectory(client *nphttp.Client, config Config, log *logger.Logger) *Directory {
	if config.ServiceURL == "" {
		config.ServiceURL = DefaultServiceURL
	}
	if log == nil {
		log = logger.Nop()
	}

	d := &Directory{
		client: client,
		config: config,
		log:    log.WithComponent("nodes"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if config.CacheTTL > 0 {
		d.cache = expirable.NewLRU[cacheKey, []string](defaultCacheSize, nil, config.CacheTTL)
	}
	return d
}

// ListingURL returns the statistics service URL for a listing request.
func (d *Directory) ListingURL(limit int, secure bool) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("ssl", strconv.FormatBool(secure))
	return gateway.Join(d.config.ServiceURL, "/nodes?"+q.Encode())
}

// Discover fetches and normalizes the node listing. URLs that pass strict
// gateway validation are preferred; when none do, the full normalized set is
// returned instead (degraded but usable). An empty result is not an error.
func (d *Directory) Discover(ctx context.Context, limit int, secure bool) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := cacheKey{limit: limit, secure: secure}
	if d.cache != nil {
		if urls, ok := d.cache.Get(key); ok {
			return append([]string(nil), urls...), nil
		}
	}

	listURL := d.ListingURL(limit, secure)
	resp, err := d.client.Get(ctx, listURL, d.config.Timeout)
	if err != nil {
		return nil, errors.NewDiscoveryError(listURL, err)
	}
	if !gjson.ValidBytes(resp.Raw) {
		return nil, errors.NewDiscoveryError(listURL, errors.NewParseError(listURL, "decode_listing", nil))
	}

	all := Extract(resp.Raw)
	urls, degraded := preferGateway(all)
	d.log.DiscoveryEvent(d.config.ServiceURL, len(all), len(urls), degraded)

	if d.cache != nil && len(urls) > 0 {
		d.cache.Add(key, urls)
	}
	return append([]string(nil), urls...), nil
}

// Pick discovers nodes and returns one uniformly at random.
func (d *Directory) Pick(ctx context.Context, limit int, secure bool) (string, error) {
	urls, err := d.Discover(ctx, limit, secure)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", errors.NewNoUsableNodesError(d.config.ServiceURL)
	}

	d.mu.Lock()
	i := d.rng.Intn(len(urls))
	d.mu.Unlock()
	return urls[i], nil
}

// Invalidate drops every cached listing.
func (d *Directory) Invalidate() {
	if d.cache != nil {
		d.cache.Purge()
	}
}

// ServiceURL returns the configured statistics service base URL.
func (d *Directory) ServiceURL() string {
	return strings.TrimRight(d.config.ServiceURL, "/")
}

func preferGateway(urls []string) ([]string, bool) {
	strict := make([]string, 0, len(urls))
	for _, u := range urls {
		if gateway.IsGatewayURL(u) {
			strict = append(strict, u)
		}
	}
	if len(strict) == 0 && len(urls) > 0 {
		return urls, true
	}
	return strict, false
}
