package nodeprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/nodeprobe/internal/errors"
	"github.com/PentesterFlow/nodeprobe/internal/logger"
	"github.com/PentesterFlow/nodeprobe/internal/report"
	"github.com/PentesterFlow/nodeprobe/internal/request"
	ws "github.com/PentesterFlow/nodeprobe/internal/websocket"
)

// =============================================================================
// Fixtures
// =============================================================================

const description = `
openapi: 3.0.0
paths:
  /node/info:
    get:
      operationId: getNodeInfo
  /accounts/{accountId}:
    get:
      operationId: getAccountInfo
      parameters:
        - name: accountId
          in: path
          required: true
          schema:
            type: string
  /blocks/{height}:
    get:
      operationId: getBlockByHeight
      parameters:
        - name: height
          in: path
          required: true
          schema:
            type: integer
  /accounts:
    post:
      operationId: getAccountsInfo
      requestBody:
        content:
          application/json:
            example:
              addresses: [TA]
  /transactions:
    put:
      operationId: announceTransaction
`

// fakeNode is a gateway node serving a few fixed routes and the API
// description. Unknown routes answer 404.
type fakeNode struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []string
	bodies   []string
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{}
	n.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n.mu.Lock()
		n.requests = append(n.requests, r.Method+" "+r.URL.RequestURI())
		n.bodies = append(n.bodies, string(body))
		n.mu.Unlock()

		if r.URL.Path == "/openapi.yml" {
			w.Header().Set("Content-Type", "application/yaml")
			w.Write([]byte(description))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/node/info":
			w.Write([]byte(`{"friendlyName":"fake"}`))
		case r.URL.Path == "/chain/info":
			w.Write([]byte(`{"height":"100"}`))
		case strings.HasPrefix(r.URL.Path, "/accounts/"):
			w.Write([]byte(`{"account":{"address":"` + strings.TrimPrefix(r.URL.Path, "/accounts/") + `"}}`))
		case r.URL.Path == "/accounts" && r.Method == http.MethodPost:
			w.Write([]byte(`[]`))
		case strings.HasSuffix(r.URL.Path, "/multisig"):
			w.Write([]byte(`{"multisig":{}}`))
		case r.URL.Path == "/transactions" && r.Method == http.MethodPut:
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"message":"packet 9 was pushed to the network via /transactions"}`))
		case r.URL.Path == "/network/properties":
			w.Write([]byte(`{"network":{"chain":{"currencyMosaicId":"0x72C0'212E'67A0'8BCE"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"ResourceNotFound","message":"no resource exists"}`))
		}
	}))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.requests...)
}

// newService lists the given nodes as host+apiPort entries. They are not on
// gateway ports, so discovery returns them through its degraded path.
func newService(t *testing.T, nodeURLs ...string) *httptest.Server {
	t.Helper()
	var entries []string
	for _, raw := range nodeURLs {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, fmt.Sprintf(`{"host":%q,"apiPort":%s}`, u.Hostname(), u.Port()))
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[` + strings.Join(entries, ",") + `]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func deadURL(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.NotFoundHandler())
	u := s.URL
	s.Close()
	return u
}

func newClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithTimeout(2 * time.Second), WithLogger(logger.Nop()), WithOutput(io.Discard)}
	c, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// =============================================================================
// New Tests
// =============================================================================

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(WithServiceURL(""), WithLogger(logger.Nop()))
	if !errors.IsValidationError(err) {
		t.Errorf("New() error = %v, want validation error", err)
	}
}

func TestNew_OptionsApplied(t *testing.T) {
	c := newClient(t,
		WithNodeURL("https://node.example:3001"),
		WithConcurrency(0),
		WithMethods("get"),
		WithPresets(map[string]string{"address": "TA"}),
		WithRateLimit(5),
	)

	cfg := c.Config()
	if cfg.NodeURL != "https://node.example:3001" || cfg.Probe.Concurrency != 1 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Probe.Presets["address"] != "TA" || cfg.Probe.RateLimit != 5 {
		t.Errorf("probe config = %+v", cfg.Probe)
	}
}

// =============================================================================
// Discovery Tests
// =============================================================================

func TestNodes(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`["https://a.example:3001", {"host":"b.example","apiSslPort":3001}, {"name":"no address"}]`))
	}))
	defer service.Close()

	c := newClient(t, WithServiceURL(service.URL))
	urls, err := c.Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes() error = %v", err)
	}
	want := []string{"https://a.example:3001", "https://b.example:3001"}
	if strings.Join(urls, ",") != strings.Join(want, ",") {
		t.Errorf("Nodes() = %v, want %v", urls, want)
	}
}

func TestNodes_Empty(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer service.Close()

	c := newClient(t, WithServiceURL(service.URL))
	if _, err := c.Nodes(context.Background()); !errors.IsNoUsableNodes(err) {
		t.Errorf("Nodes() error = %v, want no usable nodes", err)
	}
}

func TestNode_PinnedSkipsDiscovery(t *testing.T) {
	c := newClient(t, WithNodeURL("http://pinned.example:3000"), WithServiceURL("http://unused.invalid"))
	node, err := c.Node(context.Background())
	if err != nil || node != "http://pinned.example:3000" {
		t.Errorf("Node() = %q, %v", node, err)
	}
}

// =============================================================================
// Request Tests
// =============================================================================

func TestRequest_DiscoveredFallback(t *testing.T) {
	node := newFakeNode(t)
	service := newService(t, deadURL(t), node.server.URL)

	c := newClient(t, WithServiceURL(service.URL))
	res, err := c.Request(context.Background(), request.New("GET", "/chain/info"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if got := c.Metrics().Snapshot().RetriesTotal; got != 1 {
		t.Errorf("RetriesTotal = %d, want 1 fallback", got)
	}
	if payload, ok := res.Payload.(map[string]any); !ok || payload["height"] != "100" {
		t.Errorf("Payload = %v", res.Payload)
	}
}

func TestAccount(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t, WithNodeURL(node.server.URL), WithAddress("TADDR"))

	overview, err := c.Account(context.Background())
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if overview.NodeURL != node.server.URL || overview.Address != "TADDR" {
		t.Errorf("overview = %+v", overview)
	}

	want := []string{
		"GET /node/info",
		"GET /chain/info",
		"GET /accounts/TADDR",
		"GET /account/TADDR/multisig",
	}
	if got := node.seen(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("requests = %v, want %v", got, want)
	}
	if overview.Multisig == nil || overview.Account == nil {
		t.Errorf("overview payloads missing: %+v", overview)
	}
}

func TestAccount_RequiresAddress(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t, WithNodeURL(node.server.URL))

	if _, err := c.Account(context.Background()); !errors.IsValidationError(err) {
		t.Errorf("Account() error = %v, want validation error", err)
	}
	if len(node.seen()) != 0 {
		t.Error("validation failure reached the network")
	}
}

func TestAnnounce(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t, WithNodeURL(node.server.URL))

	res, err := c.Announce(context.Background(), "C0FFEE")
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if res.StatusCode != http.StatusAccepted {
		t.Errorf("StatusCode = %d, want 202", res.StatusCode)
	}

	node.mu.Lock()
	defer node.mu.Unlock()
	if node.requests[0] != "PUT /transactions" || node.bodies[0] != `{"payload":"C0FFEE"}` {
		t.Errorf("request = %s %s", node.requests[0], node.bodies[0])
	}
}

func TestAnnounce_RequiresPayload(t *testing.T) {
	c := newClient(t, WithNodeURL("http://node.example:3000"))
	if _, err := c.Announce(context.Background(), ""); !errors.IsValidationError(err) {
		t.Errorf("Announce() error = %v, want validation error", err)
	}
}

func TestCurrencyMosaicID(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t, WithNodeURL(node.server.URL))

	id, err := c.CurrencyMosaicID(context.Background())
	if err != nil {
		t.Fatalf("CurrencyMosaicID() error = %v", err)
	}
	if id != "0x72C0'212E'67A0'8BCE" {
		t.Errorf("CurrencyMosaicID() = %q", id)
	}
}

func TestExtractCurrencyMosaicID(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"chain", `{"chain":{"currencyMosaicId":"0xAA"}}`, "0xAA"},
		{"network chain", `{"network":{"chain":{"currencyMosaicId":"0xBB"}}}`, "0xBB"},
		{"chain hex", `{"chain":{"currencyMosaicIdHex":"CC"}}`, "CC"},
		{"top level", `{"currencyMosaicId":"0xDD"}`, "0xDD"},
		{"top level hex", `{"currencyMosaicIdHex":"EE"}`, "EE"},
		{"chain shadows network", `{"chain":{},"network":{"chain":{"currencyMosaicId":"0xBB"}}}`, ""},
		{"empty skipped", `{"chain":{"currencyMosaicId":""},"currencyMosaicId":"0xFF"}`, "0xFF"},
		{"number ignored", `{"chain":{"currencyMosaicId":12}}`, ""},
		{"not json", `oops`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCurrencyMosaicID([]byte(tt.doc)); got != tt.want {
				t.Errorf("ExtractCurrencyMosaicID() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Probe Tests
// =============================================================================

func TestProbe(t *testing.T) {
	node := newFakeNode(t)
	var out, rep bytes.Buffer
	store := report.NewMemoryStore()

	c := newClient(t,
		WithNodeURL(node.server.URL),
		WithDescriptionURL(node.server.URL+"/openapi.yml"),
		WithPresets(map[string]string{"accountId": "TPRESET"}),
		WithOutput(&out),
		WithReportWriter(&rep),
		WithReportStore(store),
	)

	run, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	// get + post by default: 4 operations, the PUT is filtered out.
	if run.Total != 4 || run.Success+run.Errors != 4 {
		t.Fatalf("run = total %d, ok %d, err %d", run.Total, run.Success, run.Errors)
	}
	if run.Errors != 1 {
		t.Errorf("Errors = %d, want 1 (the unknown /blocks route)", run.Errors)
	}

	text := out.String()
	for _, want := range []string{
		"Node: " + node.server.URL,
		"OpenAPI: " + node.server.URL + "/openapi.yml",
		"Requests: 4 (methods: get, post)",
		"[OK] GET /accounts/TPRESET (getAccountInfo)",
		"[ERR] GET /blocks/1 (getBlockByHeight) -> 404 Not Found",
		"Done: ok=3, error=1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q\ngot:\n%s", want, text)
		}
	}

	var written report.Run
	if err := json.Unmarshal(rep.Bytes(), &written); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if written.Total != 4 || written.Node != node.server.URL {
		t.Errorf("report = %+v", written)
	}

	runs, _ := store.List(0)
	if len(runs) != 1 || runs[0].Seq != 1 {
		t.Errorf("stored runs = %+v", runs)
	}
}

func TestProbe_ReportDB(t *testing.T) {
	node := newFakeNode(t)
	path := filepath.Join(t.TempDir(), "runs.db")

	c := newClient(t,
		WithNodeURL(node.server.URL),
		WithDescriptionURL(node.server.URL+"/openapi.yml"),
		WithMethods("get"),
		WithReportDB(path),
	)

	if _, err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	runs, err := c.Store().List(0)
	if err != nil || len(runs) != 1 || runs[0].Total != 3 {
		t.Errorf("List() = %+v, %v", runs, err)
	}
}

func TestProbe_MetricsArePerRun(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t,
		WithNodeURL(node.server.URL),
		WithDescriptionURL(node.server.URL+"/openapi.yml"),
	)

	for i := 0; i < 2; i++ {
		run, err := c.Probe(context.Background())
		if err != nil {
			t.Fatalf("Probe() #%d error = %v", i+1, err)
		}
		if got := run.Metrics["requests_total"]; got != int64(4) {
			t.Errorf("run #%d requests_total = %v, want 4", i+1, got)
		}
		if got := run.Metrics["errors_total"]; got != int64(1) {
			t.Errorf("run #%d errors_total = %v, want 1", i+1, got)
		}
	}
}

func TestProbe_NodeRateLimit(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t,
		WithNodeURL(node.server.URL),
		WithDescriptionURL(node.server.URL+"/openapi.yml"),
		WithMethods("get"),
		WithConcurrency(3),
		WithNodeRateLimit(20),
	)

	start := time.Now()
	run, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if run.Total != 3 {
		t.Fatalf("Total = %d, want 3", run.Total)
	}
	// Burst of one, then 50ms per request to the same node.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 requests at 20/s per node took %v, want >= 80ms", elapsed)
	}
}

func TestNew_RejectsNegativeNodeRateLimit(t *testing.T) {
	if _, err := New(WithNodeRateLimit(-1)); !errors.IsValidationError(err) {
		t.Errorf("New() error = %v, want validation error", err)
	}
}

func TestProbe_DescriptionFetchFails(t *testing.T) {
	node := newFakeNode(t)
	c := newClient(t,
		WithNodeURL(node.server.URL),
		WithDescriptionURL(node.server.URL+"/missing.yml"),
	)

	run, err := c.Probe(context.Background())
	if err == nil || run != nil {
		t.Fatalf("Probe() = %v, %v; want setup error", run, err)
	}
	if errors.GetStatusCode(err) != http.StatusNotFound {
		t.Errorf("status = %d, want 404", errors.GetStatusCode(err))
	}
}

func TestProbe_DiscoveryFails(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer service.Close()

	c := newClient(t, WithServiceURL(service.URL))
	if _, err := c.Probe(context.Background()); !errors.IsDiscoveryError(err) {
		t.Errorf("Probe() error = %v, want discovery error", err)
	}
}

func TestProbe_DiscoveredNode(t *testing.T) {
	node := newFakeNode(t)
	service := newService(t, node.server.URL)

	c := newClient(t,
		WithServiceURL(service.URL),
		WithDescriptionURL(node.server.URL+"/openapi.yml"),
		WithMethods("post"),
	)

	run, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if run.Node != node.server.URL || run.Total != 1 || run.Success != 1 {
		t.Errorf("run = %+v", run)
	}
}

// =============================================================================
// Watch Tests
// =============================================================================

func TestWatch(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"uid":"u1"}`))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"block","data":{}}`))
		}
		conn.ReadMessage()
	}))
	defer server.Close()

	c := newClient(t, WithNodeURL(server.URL))
	rec := ws.NewRecorder(10)

	session, err := c.Watch(context.Background(), ws.ChannelBlock, 2, rec.Record)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if session.UID != "u1" || session.Received != 2 || len(rec.Messages()) != 2 {
		t.Errorf("session = %+v, recorded %d", session, len(rec.Messages()))
	}
}
