// Package http provides the JSON HTTP client used to talk to gateway nodes.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/PentesterFlow/nodeprobe/internal/errors"
)

// ExcerptLength is how much of an error body is kept in error messages.
const ExcerptLength = 200

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 * 1024 * 1024

// Client is an HTTP client tuned for short JSON calls against many hosts.
type Client struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	headers   map[string]string
	retrier   *errors.Retrier
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	Timeout             time.Duration // Default per-attempt timeout
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	UserAgent           string
	Headers             map[string]string
	SkipTLSVerify       bool
}

// DefaultClientConfig returns defaults suited to gateway nodes.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 8,
		MaxConnsPerHost:     16,
		UserAgent:           "nodeprobe/1.0",
	}
}

// NewClient creates a new HTTP client.
func NewClient(config ClientConfig) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}
	// Falls back to HTTP/1.1 when the node does not negotiate h2.
	_, _ = http2.ConfigureTransports(transport)

	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
		},
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
		headers:   config.Headers,
		retrier:   errors.NewDefaultRetrier(),
	}
}

// Response is a decoded gateway response.
type Response struct {
	URL         string
	StatusCode  int
	Status      string
	ContentType string
	Raw         []byte
	Payload     any // Decoded JSON value, or the body as a string
	Duration    time.Duration
}

// IsJSON reports whether the response was decoded as JSON.
func (r *Response) IsJSON() bool {
	return isJSONContent(r.ContentType)
}

// Do performs one request bounded by timeout, or by the client default when
// timeout is zero. A non-nil body is sent as JSON. Non-2xx responses are
// returned together with an HTTPStatus error.
func (c *Client) Do(ctx context.Context, method, targetURL string, body any, timeout time.Duration) (*Response, error) {
	start := time.Now()

	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := encodeBody(body)
		if err != nil {
			return nil, errors.NewNodeError(errors.Parse, targetURL, "encode_body", "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), targetURL, reader)
	if err != nil {
		return nil, errors.NewNodeError(errors.Validation, targetURL, "request_creation", "failed to create request", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}

	result := &Response{
		URL:         targetURL,
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		ContentType: resp.Header.Get("Content-Type"),
		Raw:         raw,
		Duration:    time.Since(start),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Payload = string(raw)
		return result, errors.NewStatusError(targetURL, resp.StatusCode, resp.Status, Excerpt(raw))
	}

	payload, err := decodePayload(result.ContentType, raw)
	if err != nil {
		return result, errors.NewParseError(targetURL, "decode_response", err)
	}
	result.Payload = payload

	return result, nil
}

// Get performs a GET request bounded by timeout.
func (c *Client) Get(ctx context.Context, targetURL string, timeout time.Duration) (*Response, error) {
	return c.Do(ctx, http.MethodGet, targetURL, nil, timeout)
}

// FetchText downloads a document, retrying transient failures.
func (c *Client) FetchText(ctx context.Context, targetURL string, timeout time.Duration) ([]byte, error) {
	raw, outcome := errors.Retry(ctx, c.retrier, "fetch_document", targetURL, func(ctx context.Context) ([]byte, error) {
		resp, err := c.Do(ctx, http.MethodGet, targetURL, nil, timeout)
		if err != nil {
			return nil, err
		}
		return resp.Raw, nil
	})
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return raw, nil
}

// SetRetryConfig sets custom retry configuration.
func (c *Client) SetRetryConfig(config errors.RetryConfig) {
	c.retrier = errors.NewRetrier(config)
}

// Close closes idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// Excerpt returns at most ExcerptLength characters of a body.
func Excerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	runes := []rune(s)
	if len(runes) > ExcerptLength {
		return string(runes[:ExcerptLength])
	}
	return s
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		return b, nil
	}
}

func decodePayload(contentType string, raw []byte) (any, error) {
	if !isJSONContent(contentType) {
		return string(raw), nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isJSONContent(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}
