package reasoning

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// Decode validates a JSON result against schema and unmarshals it into out.
// Every failure wraps ports.ErrReasoningFailed.
func Decode(data []byte, schema *ports.ResultSchema, out any) error {
	data = []byte(stripFences(string(data)))

	if schema != nil {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: malformed result: %v", ports.ErrReasoningFailed, err)
		}
		if err := validate(doc, schema, "$"); err != nil {
			return fmt.Errorf("%w: %v", ports.ErrReasoningFailed, err)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", ports.ErrReasoningFailed, err)
	}
	return nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func validate(v any, schema *ports.ResultSchema, path string) error {
	switch schema.Type {
	case ports.TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object", path)
		}
		for _, name := range schema.Required {
			if val, ok := obj[name]; !ok || val == nil {
				return fmt.Errorf("%s: missing required field %q", path, name)
			}
		}
		for name, prop := range schema.Properties {
			val, ok := obj[name]
			if !ok || val == nil {
				continue
			}
			if err := validate(val, prop, path+"."+name); err != nil {
				return err
			}
		}
	case ports.TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array", path)
		}
		if schema.Items == nil {
			return nil
		}
		for i, item := range arr {
			if err := validate(item, schema.Items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case ports.TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%s: expected string", path)
		}
		if len(schema.Enum) > 0 && !slices.Contains(schema.Enum, s) {
			return fmt.Errorf("%s: %q is not one of %v", path, s, schema.Enum)
		}
	case ports.TypeNumber:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("%s: expected number", path)
		}
	case ports.TypeInteger:
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("%s: expected integer", path)
		}
	case ports.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s: expected boolean", path)
		}
	}
	return nil
}
