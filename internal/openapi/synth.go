package openapi

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/nodeprobe/internal/request"
)

// Presets maps parameter names to operator-supplied values.
type Presets map[string]string

// PresetEnv lists, per parameter name, the environment variables consulted
// for its preset value, first non-empty wins.
var PresetEnv = map[string][]string{
	"address":       {"MY_ADDRESS", "SYMBOL_ADDRESS"},
	"publicKey":     {"MY_PUBLIC_KEY", "SYMBOL_PUBLIC_KEY"},
	"mosaicId":      {"SYMBOL_MOSAIC_ID"},
	"namespaceId":   {"SYMBOL_NAMESPACE_ID"},
	"hash":          {"SYMBOL_HASH"},
	"transactionId": {"SYMBOL_TRANSACTION_ID"},
	"blockId":       {"SYMBOL_BLOCK_ID"},
	"accountId":     {"SYMBOL_ACCOUNT_ID"},
}

// PresetsFromEnv builds presets with lookup, os.Getenv when nil.
func PresetsFromEnv(lookup func(string) string) Presets {
	if lookup == nil {
		lookup = os.Getenv
	}
	presets := make(Presets)
	for name, keys := range PresetEnv {
		for _, key := range keys {
			if v := lookup(key); v != "" {
				presets[name] = v
				break
			}
		}
	}
	return presets
}

// pathFallback is used for path and required query parameters with no
// resolvable value.
const pathFallback = "0"

// Requests synthesizes one request per operation matching methods.
func (d *Document) Requests(methods []string, presets Presets) []*request.Logical {
	ops := d.Operations(methods)
	out := make([]*request.Logical, 0, len(ops))
	for _, op := range ops {
		out = append(out, Synthesize(op, presets))
	}
	return out
}

// Synthesize builds a concrete request for op. Path parameters always get a
// value; optional query parameters with no value are left out.
func Synthesize(op Operation, presets Presets) *request.Logical {
	req := &request.Logical{
		ID:     op.ID(),
		Method: op.Method,
		Path:   op.Path,
	}

	for _, p := range op.Parameters {
		if p.Name == "" {
			continue
		}
		v, ok := ResolveValue(p, presets)
		switch p.In {
		case InPath:
			if !ok {
				v = pathFallback
			}
			req.WithPathParam(p.Name, v)
		case InQuery:
			if ok {
				req.WithQuery(p.Name, v)
			} else if p.Required {
				req.WithQuery(p.Name, pathFallback)
			}
		}
	}

	if op.Body != nil {
		req.Body = BodyValue(op.Body)
	}
	return req
}

// ResolveValue picks a parameter value: preset, parameter example, schema
// example, schema default, first enum entry, then a type-based fallback.
func ResolveValue(p Parameter, presets Presets) (any, bool) {
	if v := presets[p.Name]; v != "" {
		return v, true
	}
	if v, ok := decode(p.Example); ok {
		return v, true
	}
	return SchemaValue(p.Schema)
}

// SchemaValue derives a value from a schema alone.
func SchemaValue(s *Schema) (any, bool) {
	if s == nil {
		return nil, false
	}
	if v, ok := decode(s.Example); ok {
		return v, true
	}
	if v, ok := decode(s.Default); ok {
		return v, true
	}
	if len(s.Enum) > 0 {
		if v, ok := decode(s.Enum[0]); ok {
			return v, true
		}
	}
	switch s.Type {
	case "integer", "number":
		return 1, true
	case "boolean":
		return true, true
	case "string":
		return "0", true
	}
	return nil, false
}

// BodyValue picks a request body: media example, first named example's
// value, schema example, schema default, else an empty object.
func BodyValue(mt *MediaType) any {
	if v, ok := decode(mt.Example); ok {
		return v
	}
	if len(mt.Examples) > 0 {
		if v, ok := decode(present(get(mt.Examples[0], "value"))); ok {
			return v
		}
	}
	if mt.Schema != nil {
		if v, ok := decode(mt.Schema.Example); ok {
			return v
		}
		if v, ok := decode(mt.Schema.Default); ok {
			return v
		}
	}
	return map[string]any{}
}

func decode(n *yaml.Node) (any, bool) {
	n = present(n)
	if n == nil {
		return nil, false
	}
	var v any
	if err := n.Decode(&v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}
