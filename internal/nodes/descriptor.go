package nodes

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/PentesterFlow/nodeprobe/internal/gateway"
)

// Kind identifies which shape a node descriptor has.
type Kind int

const (
	// KindUnusable is an entry with no usable address field.
	KindUnusable Kind = iota
	// KindString is a bare URL string.
	KindString
	// KindURL is an object with a URL-like field.
	KindURL
	// KindEndpoint is an object with an endpoint field.
	KindEndpoint
	// KindHostPort is an object with a host and optional ports.
	KindHostPort
)

// String returns the name of the descriptor kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindURL:
		return "url"
	case KindEndpoint:
		return "endpoint"
	case KindHostPort:
		return "host"
	default:
		return "unusable"
	}
}

// Descriptor is one entry of a node listing, classified by shape.
type Descriptor struct {
	Kind       Kind
	Address    string // URL for string/url/endpoint kinds, host for host kind
	SecurePort int
	PlainPort  int
}

// urlFields are the URL-like object fields, in priority order.
var urlFields = []string{"url", "apiStatus.restGatewayUrl"}

// ParseListing splits a listing payload into descriptors. The payload is a
// JSON array or an object carrying the array under "data"; anything else
// yields no descriptors.
func ParseListing(raw []byte) []Descriptor {
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		root = root.Get("data")
		if !root.IsArray() {
			return nil
		}
	}

	entries := root.Array()
	out := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		out = append(out, Classify(entry))
	}
	return out
}

// Classify inspects an entry's fields in fixed priority order: bare string,
// URL-like field, endpoint, then host.
func Classify(entry gjson.Result) Descriptor {
	if entry.Type == gjson.String {
		return Descriptor{Kind: KindString, Address: entry.String()}
	}
	if !entry.IsObject() {
		return Descriptor{Kind: KindUnusable}
	}

	for _, field := range urlFields {
		if v := entry.Get(field); truthy(v) {
			return Descriptor{Kind: KindURL, Address: v.String()}
		}
	}
	if v := entry.Get("endpoint"); truthy(v) {
		return Descriptor{Kind: KindEndpoint, Address: v.String()}
	}
	if v := entry.Get("host"); truthy(v) {
		d := Descriptor{
			Kind:       KindHostPort,
			Address:    v.String(),
			SecurePort: port(entry.Get("apiSslPort")),
			PlainPort:  port(entry.Get("apiPort")),
		}
		if d.SecurePort == 0 && d.PlainPort == 0 {
			switch port(entry.Get("port")) {
			case gateway.SecurePort:
				d.SecurePort = gateway.SecurePort
			case gateway.PlainPort:
				d.PlainPort = gateway.PlainPort
			}
		}
		return d
	}

	return Descriptor{Kind: KindUnusable}
}

// URLs normalizes the descriptor into zero or more base URLs. URL-carrying
// kinds must pass strict gateway validation; host entries are synthesized
// and left to the directory's post-filter.
func (d Descriptor) URLs() []string {
	switch d.Kind {
	case KindString, KindURL, KindEndpoint:
		if u, ok := gateway.Validate(d.Address); ok {
			return []string{u}
		}
		return nil
	case KindHostPort:
		return d.hostURLs()
	default:
		return nil
	}
}

func (d Descriptor) hostURLs() []string {
	if d.SecurePort == 0 && d.PlainPort == 0 {
		return []string{
			hostURL(gateway.SchemeSecure, d.Address, gateway.SecurePort),
			hostURL(gateway.SchemePlain, d.Address, gateway.PlainPort),
		}
	}

	urls := make([]string, 0, 2)
	if d.SecurePort != 0 {
		urls = append(urls, hostURL(gateway.SchemeSecure, d.Address, d.SecurePort))
	}
	if d.PlainPort != 0 {
		urls = append(urls, hostURL(gateway.SchemePlain, d.Address, d.PlainPort))
	}
	return urls
}

func hostURL(scheme, host string, p int) string {
	return fmt.Sprintf("%s://%s:%d", scheme, host, p)
}

// Extract normalizes a listing payload into a deduplicated URL list in
// listing order.
func Extract(raw []byte) []string {
	var urls []string
	for _, d := range ParseListing(raw) {
		urls = append(urls, d.URLs()...)
	}
	return gateway.Unique(urls)
}

// truthy mirrors a loose presence check: missing, null, false, zero and
// empty string all count as absent.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

// port reads a port given as a number or a numeric string.
func port(v gjson.Result) int {
	switch v.Type {
	case gjson.Number:
		return int(v.Int())
	case gjson.String:
		p, err := strconv.Atoi(v.Str)
		if err != nil {
			return 0
		}
		return p
	default:
		return 0
	}
}
