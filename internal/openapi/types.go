package openapi

import "gopkg.in/yaml.v3"

// DefaultDescriptionURL is the published gateway API description.
const DefaultDescriptionURL = "https://symbol.github.io/symbol-openapi/v1.0.4/openapi3.yml"

// DefaultMethods are the operation methods probed by default.
var DefaultMethods = []string{"get", "post"}

// Operation is one (method, path) entry of an API description.
type Operation struct {
	Method      string // Upper case
	Path        string
	OperationID string
	Parameters  []Parameter
	Body        *MediaType // nil when the operation declares no usable body
}

// ID returns the operation identifier, or "METHOD path" when undeclared.
func (o Operation) ID() string {
	if o.OperationID != "" {
		return o.OperationID
	}
	return o.Method + " " + o.Path
}

// Parameter is a declared operation parameter.
type Parameter struct {
	Name     string
	In       string // path, query, header, cookie
	Required bool
	Example  *yaml.Node
	Schema   *Schema
}

// Schema holds the parts of a schema used for value synthesis.
type Schema struct {
	Type    string
	Example *yaml.Node
	Default *yaml.Node
	Enum    []*yaml.Node
}

// MediaType is a request body media type entry.
type MediaType struct {
	Example  *yaml.Node
	Examples []*yaml.Node // Example objects in declaration order
	Schema   *Schema
}

// Parameter locations.
const (
	InPath  = "path"
	InQuery = "query"
)

// Body media types, in preference order.
var bodyMediaTypes = []string{"application/json", "application/octet-stream"}
