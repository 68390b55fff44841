package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleRun(node string) *Run {
	run := &Run{
		Node:        node,
		Description: "https://example.com/openapi.yml",
		Methods:     []string{"get", "post"},
		StartedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Entries: []Entry{
			{ID: "getChainInfo", Method: "GET", Path: "/chain/info", OK: true, StatusCode: 200},
			{ID: "getBlock", Method: "GET", Path: "/blocks/0", OK: false, StatusCode: 404, Error: "Not Found: missing"},
			{ID: "searchAccounts", Method: "POST", Path: "/accounts", OK: true, StatusCode: 200},
		},
	}
	run.Tally()
	run.CompletedAt = run.StartedAt.Add(2 * time.Second)
	run.Duration = run.CompletedAt.Sub(run.StartedAt)
	return run
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_Tally(t *testing.T) {
	run := sampleRun("https://a:3001")

	if run.Total != 3 || run.Success != 2 || run.Errors != 1 {
		t.Errorf("Tally() = total %d, ok %d, err %d; want 3, 2, 1", run.Total, run.Success, run.Errors)
	}
}

func TestRun_Failed(t *testing.T) {
	failed := sampleRun("https://a:3001").Failed()
	if len(failed) != 1 || failed[0].ID != "getBlock" {
		t.Errorf("Failed() = %+v", failed)
	}
}

// =============================================================================
// JSONWriter Tests
// =============================================================================

func TestJSONWriter_WriteRun(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, false)

	if err := w.WriteEntry(Entry{ID: "ignored"}); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("non-stream writer wrote entry: %q", buf.String())
	}

	if err := w.WriteRun(sampleRun("https://a:3001")); err != nil {
		t.Fatalf("WriteRun() error = %v", err)
	}

	var got Run
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not a run: %v", err)
	}
	if got.Node != "https://a:3001" || len(got.Entries) != 3 || got.Errors != 1 {
		t.Errorf("decoded run = %+v", got)
	}
}

func TestJSONWriter_Stream(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, false, true)
	run := sampleRun("https://a:3001")

	for _, e := range run.Entries {
		if err := w.WriteEntry(e); err != nil {
			t.Fatalf("WriteEntry() error = %v", err)
		}
	}
	if err := w.WriteRun(run); err != nil {
		t.Fatalf("WriteRun() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %q", len(lines), buf.String())
	}

	var last struct {
		Type string `json:"type"`
		Data Run    `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[3]), &last); err != nil {
		t.Fatalf("last line: %v", err)
	}
	if last.Type != "run" || len(last.Data.Entries) != 0 || last.Data.Total != 3 {
		t.Errorf("last event = %+v", last)
	}
	if len(run.Entries) != 3 {
		t.Error("WriteRun must not modify the caller's run")
	}
}

func TestJSONWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, true, false)

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.WriteRun(sampleRun("x")); err != nil {
		t.Fatalf("WriteRun() after close error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("closed writer wrote %q", buf.String())
	}
}

// =============================================================================
// Store Tests
// =============================================================================

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}

	for _, node := range []string{"https://a:3001", "https://b:3001", "https://c:3001"} {
		if err := store.Save(sampleRun(node)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	runs, err := store.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List(2) returned %d runs", len(runs))
	}
	if runs[0].Node != "https://c:3001" || runs[0].Seq != 3 {
		t.Errorf("newest run = %s (seq %d), want c (seq 3)", runs[0].Node, runs[0].Seq)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopen and read back.
	store, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	all, err := store.List(0)
	if err != nil {
		t.Fatalf("List(0) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List(0) returned %d runs, want 3", len(all))
	}

	run, err := store.Get(1)
	if err != nil || run == nil {
		t.Fatalf("Get(1) = %v, %v", run, err)
	}
	if run.Node != "https://a:3001" || len(run.Entries) != 3 {
		t.Errorf("Get(1) = %+v", run)
	}

	missing, err := store.Get(42)
	if err != nil || missing != nil {
		t.Errorf("Get(42) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryStore(t *testing.T) {
	var store Store = NewMemoryStore()

	first := sampleRun("https://a:3001")
	if err := store.Save(first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	first.Entries[0].ID = "mutated"

	if err := store.Save(sampleRun("https://b:3001")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	runs, _ := store.List(0)
	if len(runs) != 2 || runs[0].Node != "https://b:3001" {
		t.Fatalf("List() = %+v", runs)
	}

	got, _ := store.Get(1)
	if got == nil || got.Entries[0].ID != "getChainInfo" {
		t.Errorf("stored run shares entries with caller: %+v", got)
	}
}
