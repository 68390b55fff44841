// Package ratelimit paces requests sent to gateway nodes.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces requests globally and, optionally, per node.
type Limiter struct {
	mu           sync.RWMutex
	limiter      *rate.Limiter
	perNode      map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	nodeRate     rate.Limit
}

// NewLimiter creates a limiter. A non-positive rate means unlimited.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	limit := toLimit(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		perNode:      make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
		nodeRate:     rate.Inf,
	}
}

// WaitNode blocks until a request to node is allowed under both the global
// and the per-node limit.
func (l *Limiter) WaitNode(ctx context.Context, node string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	nodeLimiter, exists := l.perNode[node]
	if !exists {
		nodeLimiter = rate.NewLimiter(l.nodeRate, l.defaultBurst)
		l.perNode[node] = nodeLimiter
	}
	l.mu.Unlock()

	return nodeLimiter.Wait(ctx)
}

// SetNodeRate sets the per-node rate for nodes seen from now on and updates
// existing ones.
func (l *Limiter) SetNodeRate(requestsPerSecond float64) {
	limit := toLimit(requestsPerSecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodeRate = limit
	for _, nl := range l.perNode {
		nl.SetLimit(limit)
	}
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		NodeCount:    len(l.perNode),
		DefaultRate:  float64(l.defaultRate),
		DefaultBurst: l.defaultBurst,
		NodeRate:     float64(l.nodeRate),
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	NodeCount    int     `json:"node_count"`
	DefaultRate  float64 `json:"default_rate"`
	DefaultBurst int     `json:"default_burst"`
	NodeRate     float64 `json:"node_rate"`
}

func toLimit(requestsPerSecond float64) rate.Limit {
	if requestsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(requestsPerSecond)
}
