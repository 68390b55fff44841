// Package openapi reads an API description and synthesizes one concrete
// request per declared operation.
package openapi

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxRefDepth bounds $ref chains.
const maxRefDepth = 16

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// AllMethods selects every operation when passed as a method filter.
var AllMethods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// Document is a parsed API description. YAML and JSON are both accepted.
type Document struct {
	root *yaml.Node
}

// Parse parses an API description.
func Parse(data []byte) (*Document, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse api description: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse api description: empty document")
	}
	root := deref(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse api description: top level is not a mapping")
	}
	return &Document{root: root}, nil
}

// Version returns the declared openapi (or swagger) version.
func (d *Document) Version() string {
	if v := scalar(get(d.root, "openapi")); v != "" {
		return v
	}
	return scalar(get(d.root, "swagger"))
}

// Operations lists the operations whose method is in methods, in document
// order. Method matching ignores case; an empty filter selects nothing.
func (d *Document) Operations(methods []string) []Operation {
	filter := make(map[string]bool, len(methods))
	for _, m := range methods {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			filter[m] = true
		}
	}

	if len(filter) == 0 {
		return nil
	}

	paths := d.resolve(get(d.root, "paths"))
	if paths == nil || paths.Kind != yaml.MappingNode {
		return nil
	}

	var ops []Operation
	for i := 0; i+1 < len(paths.Content); i += 2 {
		path := paths.Content[i].Value
		item := d.resolve(paths.Content[i+1])
		if item == nil || item.Kind != yaml.MappingNode {
			continue
		}
		shared := d.parameters(get(item, "parameters"))

		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToLower(item.Content[j].Value)
			if !httpMethods[method] {
				continue
			}
			if !filter[method] {
				continue
			}
			op := d.resolve(item.Content[j+1])
			if op == nil || op.Kind != yaml.MappingNode {
				continue
			}

			params := make([]Parameter, 0, len(shared))
			params = append(params, shared...)
			params = append(params, d.parameters(get(op, "parameters"))...)

			ops = append(ops, Operation{
				Method:      strings.ToUpper(method),
				Path:        path,
				OperationID: scalar(get(op, "operationId")),
				Parameters:  params,
				Body:        d.requestBody(get(op, "requestBody")),
			})
		}
	}
	return ops
}

func (d *Document) parameters(n *yaml.Node) []Parameter {
	n = d.resolve(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}

	params := make([]Parameter, 0, len(n.Content))
	for _, entry := range n.Content {
		p := d.resolve(entry)
		if p == nil || p.Kind != yaml.MappingNode {
			continue
		}
		params = append(params, Parameter{
			Name:     scalar(get(p, "name")),
			In:       scalar(get(p, "in")),
			Required: scalar(get(p, "required")) == "true",
			Example:  present(get(p, "example")),
			Schema:   d.schema(get(p, "schema")),
		})
	}
	return params
}

func (d *Document) schema(n *yaml.Node) *Schema {
	n = d.resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}

	s := &Schema{
		Type:    scalar(get(n, "type")),
		Example: present(get(n, "example")),
		Default: present(get(n, "default")),
	}
	if enum := deref(get(n, "enum")); enum != nil && enum.Kind == yaml.SequenceNode {
		s.Enum = enum.Content
	}
	return s
}

func (d *Document) requestBody(n *yaml.Node) *MediaType {
	n = d.resolve(n)
	if n == nil {
		return nil
	}
	content := d.resolve(get(n, "content"))
	if content == nil || content.Kind != yaml.MappingNode {
		return nil
	}

	var media *yaml.Node
	for _, mt := range bodyMediaTypes {
		if media = present(d.resolve(get(content, mt))); media != nil {
			break
		}
	}
	if media == nil {
		return nil
	}

	mt := &MediaType{Schema: d.schema(get(media, "schema"))}
	if media.Kind != yaml.MappingNode {
		return mt
	}
	mt.Example = present(get(media, "example"))
	if examples := d.resolve(get(media, "examples")); examples != nil && examples.Kind == yaml.MappingNode {
		for i := 1; i < len(examples.Content); i += 2 {
			mt.Examples = append(mt.Examples, d.resolve(examples.Content[i]))
		}
	}
	return mt
}

// resolve follows aliases and local "#/..." references. An unresolvable
// reference yields nil.
func (d *Document) resolve(n *yaml.Node) *yaml.Node {
	for depth := 0; depth < maxRefDepth; depth++ {
		n = deref(n)
		if n == nil || n.Kind != yaml.MappingNode {
			return n
		}
		ref := get(n, "$ref")
		if ref == nil {
			return n
		}
		n = d.pointer(ref.Value)
	}
	return nil
}

// pointer looks up a local JSON pointer such as
// "#/components/parameters/accountIdParam".
func (d *Document) pointer(ref string) *yaml.Node {
	if !strings.HasPrefix(ref, "#/") {
		return nil
	}
	n := d.root
	for _, token := range strings.Split(ref[2:], "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		n = deref(n)
		switch {
		case n == nil:
			return nil
		case n.Kind == yaml.MappingNode:
			n = get(n, token)
		case n.Kind == yaml.SequenceNode:
			var idx int
			if _, err := fmt.Sscanf(token, "%d", &idx); err != nil || idx < 0 || idx >= len(n.Content) {
				return nil
			}
			n = n.Content[idx]
		default:
			return nil
		}
	}
	return n
}

// get returns the value node for key in a mapping node.
func get(m *yaml.Node, key string) *yaml.Node {
	m = deref(m)
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// present drops missing and explicit null values.
func present(n *yaml.Node) *yaml.Node {
	n = deref(n)
	if n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		return nil
	}
	return n
}

func scalar(n *yaml.Node) string {
	n = deref(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}
