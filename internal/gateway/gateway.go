// Package gateway holds the URL rules for REST gateway nodes: which URLs are
// recognized gateway endpoints and which equivalent URLs to try for a node.
package gateway

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Well-known gateway ports.
const (
	PlainPort  = 3000
	SecurePort = 3001
)

// Gateway URL schemes.
const (
	SchemePlain  = "http"
	SchemeSecure = "https"
)

// Validate checks that raw is an absolute http(s) URL on one of the gateway
// ports and returns its normalized form without a trailing slash.
func Validate(raw string) (string, bool) {
	u, ok := parseGateway(raw)
	if !ok {
		return "", false
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""
	return u.String(), true
}

// IsGatewayURL reports whether raw passes the strict gateway validation.
func IsGatewayURL(raw string) bool {
	_, ok := parseGateway(raw)
	return ok
}

func parseGateway(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != SchemePlain && u.Scheme != SchemeSecure {
		return nil, false
	}
	switch u.Port() {
	case strconv.Itoa(PlainPort), strconv.Itoa(SecurePort):
		return u, true
	default:
		return nil, false
	}
}

// Expand returns the ordered candidate list for one node URL. The input is
// always first; a secure URL on the secure port is followed by its plaintext
// variant on the plaintext port. Only one level of fallback is produced.
func Expand(raw string) []string {
	candidates := []string{raw}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return candidates
	}
	if strings.EqualFold(u.Scheme, SchemeSecure) && u.Port() == strconv.Itoa(SecurePort) {
		plain := *u
		plain.Scheme = SchemePlain
		plain.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(PlainPort))
		candidates = append(candidates, plain.String())
	}

	return Unique(candidates)
}

// ExpandAll expands every URL and concatenates the results, keeping each
// node's fallback right after it and dropping repeated entries.
func ExpandAll(urls []string) []string {
	all := make([]string, 0, len(urls)*2)
	for _, u := range urls {
		all = append(all, Expand(u)...)
	}
	return Unique(all)
}

// Unique drops repeated strings, keeping first-seen order.
func Unique(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Join appends a path (with optional query) to a node base URL.
func Join(node, pathAndQuery string) string {
	return strings.TrimRight(node, "/") + pathAndQuery
}
