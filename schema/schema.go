// Package schema validates JSON-decoded request arguments against a small
// subset of JSON Schema before they reach the store.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/stevemurr/cosmoscope/errs"
)

// Schema is a decoded JSON Schema document.
type Schema = map[string]any

// numeric accepts plain numbers and the spelled-out non-finite values.
var numeric = Schema{"type": []any{"number", "string"}, "enum_strings": []any{"NaN", "Inf", "-Inf"}}

// Patch describes the dataset patch accepted by update_data.
var Patch = Schema{
	"type": "object",
	"properties": Schema{
		"name":               Schema{"type": "string"},
		"values":             Schema{"type": "array", "items": numeric},
		"unit":               Schema{"type": []any{"string", "null"}},
		"uncertainty":        Schema{"type": []any{"array", "null"}, "items": numeric},
		"uncertainty_type":   Schema{"type": []any{"string", "null"}, "enum": []any{"std", "var", "ivar", "unknown", "", nil}},
		"mask":               Schema{"type": []any{"array", "null"}, "items": Schema{"type": "boolean"}},
		"meta":               Schema{"type": []any{"object", "null"}},
		"spectral_axis":      Schema{"type": []any{"array", "null"}, "items": numeric},
		"spectral_axis_unit": Schema{"type": []any{"string", "null"}},
	},
	"additionalProperties": false,
	"minProperties":        1,
}

// Validate checks doc against s. A nil schema accepts everything. Failures
// are reported as invalid-argument errors naming the offending path.
//
// Supported keywords:
//   - type (a name or a list of names)
//   - properties, required, additionalProperties, minProperties
//   - items, minItems, maxItems
//   - minimum, maximum, exclusiveMinimum, exclusiveMaximum
//   - minLength, maxLength
//   - enum, and enum_strings which restricts only string values
func Validate(s Schema, doc any) error {
	if s == nil {
		return nil
	}
	if err := validateValue(s, doc, "$"); err != nil {
		return errs.Invalid("%v", err)
	}
	return nil
}

// ValidatePatch checks a dataset patch decoded from JSON.
func ValidatePatch(patch map[string]any) error {
	return Validate(Patch, patch)
}

func validateValue(s Schema, value any, path string) error {
	if err := checkType(s["type"], value, path); err != nil {
		return err
	}
	if allowed, ok := s["enum"].([]any); ok {
		if err := checkEnum(allowed, value, path); err != nil {
			return err
		}
	}

	switch v := value.(type) {
	case map[string]any:
		return validateObject(s, v, path)
	case []any:
		return validateArray(s, v, path)
	case string:
		return validateString(s, v, path)
	case float64:
		return validateNumber(s, v, path)
	case json.Number:
		f, _ := v.Float64()
		return validateNumber(s, f, path)
	}
	return nil
}

func checkType(raw any, value any, path string) error {
	var expected []string
	switch t := raw.(type) {
	case nil:
		return nil
	case string:
		expected = []string{t}
	case []any:
		for _, e := range t {
			if name, ok := e.(string); ok {
				expected = append(expected, name)
			}
		}
	default:
		return nil
	}

	actual := jsonType(value)
	for _, want := range expected {
		switch {
		case want == actual:
			return nil
		case want == "number" && actual == "integer":
			return nil
		case want == "integer" && actual == "number":
			if f, ok := value.(float64); ok && f == float64(int64(f)) {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: expected type %s, got %q", path, strings.Join(expected, " or "), actual)
}

func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	case int, int64:
		return "integer"
	}
	return reflect.TypeOf(v).String()
}

func checkEnum(allowed []any, value any, path string) error {
	for _, a := range allowed {
		if reflect.DeepEqual(a, value) {
			return nil
		}
	}
	return fmt.Errorf("%s: value %v not in %v", path, value, allowed)
}

func validateObject(s Schema, obj map[string]any, path string) error {
	if n, ok := toFloat(s["minProperties"]); ok && float64(len(obj)) < n {
		return fmt.Errorf("%s: expected at least %v properties", path, n)
	}
	if req, ok := s["required"].([]any); ok {
		for _, r := range req {
			field, _ := r.(string)
			if _, exists := obj[field]; !exists {
				return fmt.Errorf("%s: missing required field %q", path, field)
			}
		}
	}

	props, _ := s["properties"].(Schema)
	// Sorted so the first reported failure is stable.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var extra []string
	for _, field := range keys {
		ps, defined := props[field].(Schema)
		if !defined {
			extra = append(extra, field)
			continue
		}
		if err := validateValue(ps, obj[field], path+"."+field); err != nil {
			return err
		}
	}
	if ap, ok := s["additionalProperties"].(bool); ok && !ap && len(extra) > 0 {
		return fmt.Errorf("%s: unknown fields: %s", path, strings.Join(extra, ", "))
	}
	return nil
}

func validateArray(s Schema, arr []any, path string) error {
	if v, ok := toFloat(s["minItems"]); ok && float64(len(arr)) < v {
		return fmt.Errorf("%s: array length %d is less than minItems %v", path, len(arr), v)
	}
	if v, ok := toFloat(s["maxItems"]); ok && float64(len(arr)) > v {
		return fmt.Errorf("%s: array length %d is greater than maxItems %v", path, len(arr), v)
	}
	if item, ok := s["items"].(Schema); ok {
		for i, elem := range arr {
			if err := validateValue(item, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateString(s Schema, str string, path string) error {
	if allowed, ok := s["enum_strings"].([]any); ok {
		if err := checkEnum(allowed, str, path); err != nil {
			return err
		}
	}
	if v, ok := toFloat(s["minLength"]); ok && float64(len(str)) < v {
		return fmt.Errorf("%s: string length %d is less than minLength %v", path, len(str), v)
	}
	if v, ok := toFloat(s["maxLength"]); ok && float64(len(str)) > v {
		return fmt.Errorf("%s: string length %d is greater than maxLength %v", path, len(str), v)
	}
	return nil
}

func validateNumber(s Schema, n float64, path string) error {
	if v, ok := toFloat(s["minimum"]); ok && n < v {
		return fmt.Errorf("%s: %v is less than minimum %v", path, n, v)
	}
	if v, ok := toFloat(s["maximum"]); ok && n > v {
		return fmt.Errorf("%s: %v is greater than maximum %v", path, n, v)
	}
	if v, ok := toFloat(s["exclusiveMinimum"]); ok && n <= v {
		return fmt.Errorf("%s: %v is not greater than exclusiveMinimum %v", path, n, v)
	}
	if v, ok := toFloat(s["exclusiveMaximum"]); ok && n >= v {
		return fmt.Errorf("%s: %v is not less than exclusiveMaximum %v", path, n, v)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
