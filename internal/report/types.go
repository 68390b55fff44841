// Package report records probe runs: a JSON writer for the current run and a
// bbolt-backed history of past runs.
package report

import (
	"time"
)

// Entry is the outcome of one synthesized request in a probe run.
type Entry struct {
	ID         string        `json:"id"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	URL        string        `json:"url"`
	OK         bool          `json:"ok"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorType  string        `json:"error_type,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Run is the summary of a single probe run.
type Run struct {
	Seq         uint64         `json:"seq,omitempty"`
	Node        string         `json:"node"`
	Description string         `json:"description"`
	Methods     []string       `json:"methods"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Errors      int            `json:"errors"`
	Entries     []Entry        `json:"entries,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
}

// Failed returns the entries that did not succeed, in request order.
func (r *Run) Failed() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if !e.OK {
			out = append(out, e)
		}
	}
	return out
}

// Tally recomputes Total, Success and Errors from the entries.
func (r *Run) Tally() {
	r.Total = len(r.Entries)
	r.Success = 0
	r.Errors = 0
	for _, e := range r.Entries {
		if e.OK {
			r.Success++
		} else {
			r.Errors++
		}
	}
}
