// Package metrics collects probe and dispatch counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketCount is the number of latency histogram buckets.
const bucketCount = 10

// BucketLabels name the latency histogram buckets.
var BucketLabels = [bucketCount]string{
	"<10ms", "<50ms", "<100ms", "<250ms", "<500ms",
	"<1s", "<2.5s", "<5s", "<10s", ">=10s",
}

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	requestsTotal atomic.Int64
	successTotal  atomic.Int64
	errorsTotal   atomic.Int64
	bytesTotal    atomic.Int64
	retriesTotal  atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	// Gauges
	pending       atomic.Int64
	activeWorkers atomic.Int64

	// Histograms (buckets for response times in ms)
	responseTimeBuckets [bucketCount]atomic.Int64

	// Error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime atomic.Int64
}

// New creates a new metrics collector.
func New() *Collector {
	c := &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
	}
	c.startTime.Store(time.Now().UnixNano())
	return c
}

// RecordRequest records an attempted request.
func (c *Collector) RecordRequest() {
	c.requestsTotal.Add(1)
}

// RecordSuccess records a request that got a 2xx response.
func (c *Collector) RecordSuccess() {
	c.successTotal.Add(1)
}

// RecordError records a failed request under errorType.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[errorType] == nil {
		c.errorCounts[errorType] = &atomic.Int64{}
	}
	c.errorCounts[errorType].Add(1)
	c.errorMu.Unlock()
}

// RecordResponseTime records a response time.
func (c *Collector) RecordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	c.responseTimesSum.Add(ms)
	c.responseTimesNum.Add(1)
	c.responseTimeBuckets[bucket(ms)].Add(1)
}

// bucket returns the histogram bucket for a given response time.
func bucket(ms int64) int {
	switch {
	case ms < 10:
		return 0
	case ms < 50:
		return 1
	case ms < 100:
		return 2
	case ms < 250:
		return 3
	case ms < 500:
		return 4
	case ms < 1000:
		return 5
	case ms < 2500:
		return 6
	case ms < 5000:
		return 7
	case ms < 10000:
		return 8
	default:
		return 9
	}
}

// RecordStatusCode records an HTTP status code.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()
}

// RecordBytes records received bytes.
func (c *Collector) RecordBytes(n int64) {
	c.bytesTotal.Add(n)
}

// RecordRetry records a fallback to another candidate.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Add(1)
}

// SetPending sets the number of requests not yet claimed.
func (c *Collector) SetPending(n int64) {
	c.pending.Store(n)
}

// WorkerStarted increments the active worker gauge.
func (c *Collector) WorkerStarted() {
	c.activeWorkers.Add(1)
}

// WorkerDone decrements the active worker gauge.
func (c *Collector) WorkerDone() {
	c.activeWorkers.Add(-1)
}

// GetAverageResponseTime returns the average response time.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	uptime := time.Since(time.Unix(0, c.startTime.Load()))
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              uptime,
		RequestsTotal:       c.requestsTotal.Load(),
		SuccessTotal:        c.successTotal.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		RetriesTotal:        c.retriesTotal.Load(),
		Pending:             c.pending.Load(),
		ActiveWorkers:       c.activeWorkers.Load(),
		AverageResponseTime: c.GetAverageResponseTime(),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
		ResponseTimeHist:    make([]int64, bucketCount),
	}
	if secs := uptime.Seconds(); secs > 0 {
		s.RequestsPerSecond = float64(s.RequestsTotal) / secs
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := 0; i < bucketCount; i++ {
		s.ResponseTimeHist[i] = c.responseTimeBuckets[i].Load()
	}

	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.requestsTotal.Store(0)
	c.successTotal.Store(0)
	c.errorsTotal.Store(0)
	c.bytesTotal.Store(0)
	c.retriesTotal.Store(0)
	c.responseTimesSum.Store(0)
	c.responseTimesNum.Store(0)
	c.pending.Store(0)
	c.activeWorkers.Store(0)

	for i := 0; i < bucketCount; i++ {
		c.responseTimeBuckets[i].Store(0)
	}

	c.errorMu.Lock()
	c.errorCounts = make(map[string]*atomic.Int64)
	c.errorMu.Unlock()

	c.statusMu.Lock()
	c.statusCodes = make(map[int]*atomic.Int64)
	c.statusMu.Unlock()

	c.startTime.Store(time.Now().UnixNano())
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	SuccessTotal        int64            `json:"success_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	BytesTotal          int64            `json:"bytes_total"`
	RetriesTotal        int64            `json:"retries_total"`
	Pending             int64            `json:"pending"`
	ActiveWorkers       int64            `json:"active_workers"`
	RequestsPerSecond   float64          `json:"requests_per_second"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
	ResponseTimeHist    []int64          `json:"response_time_histogram"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// Summary returns a flat map suitable for structured logging.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"success_total":        s.SuccessTotal,
		"errors_total":         s.ErrorsTotal,
		"error_rate":           s.ErrorRate(),
		"bytes_total":          s.BytesTotal,
		"retries_total":        s.RetriesTotal,
		"requests_per_second":  s.RequestsPerSecond,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
