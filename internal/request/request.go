// Package request builds concrete URLs from logical gateway requests.
package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PentesterFlow/nodeprobe/internal/gateway"
)

// placeholder matches {name} tokens in a path template.
var placeholder = regexp.MustCompile(`\{([^}]+)\}`)

// Logical is a request independent of the node that serves it.
type Logical struct {
	ID         string         `json:"id,omitempty"`
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	PathParams map[string]any `json:"path_params,omitempty"`
	Query      map[string]any `json:"query,omitempty"`
	Body       any            `json:"body,omitempty"`
}

// New creates a logical request for method and path template.
func New(method, path string) *Logical {
	return &Logical{Method: method, Path: path}
}

// WithPathParam sets one path parameter and returns the request.
func (l *Logical) WithPathParam(name string, value any) *Logical {
	if l.PathParams == nil {
		l.PathParams = make(map[string]any)
	}
	l.PathParams[name] = value
	return l
}

// WithQuery sets one query parameter and returns the request.
func (l *Logical) WithQuery(name string, value any) *Logical {
	if l.Query == nil {
		l.Query = make(map[string]any)
	}
	l.Query[name] = value
	return l
}

// WithBody sets the request body and returns the request.
func (l *Logical) WithBody(body any) *Logical {
	l.Body = body
	return l
}

// HTTPMethod returns the upper-cased method, GET when unset.
func (l *Logical) HTTPMethod() string {
	if l.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(l.Method)
}

// Label identifies the request in reports: its ID, or "METHOD path".
func (l *Logical) Label() string {
	if l.ID != "" {
		return l.ID
	}
	return l.HTTPMethod() + " " + l.Path
}

// SendsBody reports whether the body goes on the wire for this method.
func (l *Logical) SendsBody() bool {
	if l.Body == nil {
		return false
	}
	switch l.HTTPMethod() {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// WireBody returns the body to send, or nil.
func (l *Logical) WireBody() any {
	if !l.SendsBody() {
		return nil
	}
	return l.Body
}

// URL resolves the request against one node base URL.
func (l *Logical) URL(node string) string {
	return BuildURL(node, l.Path, l.PathParams, l.Query)
}

// BuildPath substitutes every {name} token with the escaped parameter
// value. A token without a value is replaced by its own escaped text, so
// the result still shows which parameter was missing.
func BuildPath(template string, params map[string]any) string {
	return placeholder.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		v, ok := params[name]
		if !ok || v == nil {
			return url.PathEscape(token)
		}
		return url.PathEscape(FormatValue(v))
	})
}

// BuildQuery encodes the parameters as "?k=v&..." with nil values skipped.
// It returns "" when nothing remains.
func BuildQuery(params map[string]any) string {
	q := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		q.Set(k, FormatValue(v))
	}
	encoded := q.Encode()
	if encoded == "" {
		return ""
	}
	return "?" + encoded
}

// BuildURL joins node, substituted path and query.
func BuildURL(node, template string, pathParams, query map[string]any) string {
	return gateway.Join(node, BuildPath(template, pathParams)+BuildQuery(query))
}

// FormatValue renders a parameter value as text. Lists are comma-joined and
// objects are rendered as JSON.
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = FormatValue(e)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// ParseAssignments turns "k=v" pairs into a parameter map.
func ParseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
