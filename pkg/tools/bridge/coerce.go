package bridge

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// inputSchema is the subset of JSON Schema the bridge understands. Anything
// beyond per-field types and the required set is left to the remote server's
// own validation.
type inputSchema struct {
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type propertySchema struct {
	Type string `json:"type"`
}

// coerceArgs shapes the model's loosely-typed arguments to the tool's
// declared schema. Optional fields supplied as null are dropped rather than
// sent: remote tool schemas reject explicit null for optional scalar fields.
// Values that cannot be coerced pass through unchanged so the remote schema
// produces the authoritative error.
func coerceArgs(schemaRaw, argsRaw json.RawMessage) map[string]any {
	args := decodeArgs(argsRaw)
	if args == nil {
		return map[string]any{}
	}

	var schema inputSchema
	if err := json.Unmarshal(schemaRaw, &schema); err != nil || schema.Properties == nil {
		return args
	}

	required := make(map[string]struct{}, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = struct{}{}
	}

	out := make(map[string]any, len(args))
	for name, value := range args {
		prop, declared := schema.Properties[name]
		if !declared {
			out[name] = value
			continue
		}

		if value == nil {
			if _, req := required[name]; req {
				out[name] = nil
			}
			continue
		}

		out[name] = coerceValue(prop.Type, value)
	}

	return out
}

// decodeArgs unmarshals the raw argument object preserving number precision.
func decodeArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil
	}
	return args
}

// coerceValue converts value to the declared JSON-Schema type where a lossless
// conversion exists, and returns it unchanged otherwise.
func coerceValue(declared string, value any) any {
	switch declared {
	case "string":
		switch v := value.(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	case "integer":
		switch v := value.(type) {
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i
			}
			if f, err := v.Float64(); err == nil {
				return int64(f)
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i
			}
		}
	case "number":
		switch v := value.(type) {
		case json.Number:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	case "array", "object":
		// Some models emit nested structures as JSON-encoded strings.
		if s, ok := value.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	}

	return value
}
