package schema_test

import (
	"errors"
	"testing"

	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/schema"
)

func TestValidateNilSchema(t *testing.T) {
	if err := schema.Validate(nil, map[string]any{"anything": "goes"}); err != nil {
		t.Fatalf("nil schema should pass: %v", err)
	}
}

func TestValidateReportsInvalid(t *testing.T) {
	err := schema.Validate(schema.Schema{"type": "object"}, []any{})
	if !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected an invalid-argument error, got %v", err)
	}
}

func TestValidateRequired(t *testing.T) {
	s := schema.Schema{
		"type":     "object",
		"required": []any{"path", "format"},
	}

	if err := schema.Validate(s, map[string]any{"path": "a.txt"}); err == nil {
		t.Fatal("expected error for missing 'format'")
	}
	if err := schema.Validate(s, map[string]any{"path": "a.txt", "format": "ascii"}); err != nil {
		t.Fatalf("expected pass: %v", err)
	}
}

func TestValidateTypeList(t *testing.T) {
	s := schema.Schema{"type": []any{"string", "null"}}

	for _, v := range []any{"Jy", nil} {
		if err := schema.Validate(s, v); err != nil {
			t.Fatalf("expected %v to pass: %v", v, err)
		}
	}
	if err := schema.Validate(s, 1.0); err == nil {
		t.Fatal("expected error for a number")
	}
}

func TestValidateNumberConstraints(t *testing.T) {
	s := schema.Schema{
		"type": "object",
		"properties": schema.Schema{
			"width": schema.Schema{"type": "integer", "minimum": float64(1), "maximum": float64(101)},
		},
	}

	tests := []struct {
		width any
		ok    bool
	}{
		{float64(3), true},
		{float64(0), false},
		{float64(102), false},
		{float64(2.5), false},
		{"3", false},
	}
	for _, tc := range tests {
		err := schema.Validate(s, map[string]any{"width": tc.width})
		if tc.ok && err != nil {
			t.Errorf("width %v: expected pass: %v", tc.width, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("width %v: expected error", tc.width)
		}
	}
}

func TestValidateArray(t *testing.T) {
	s := schema.Schema{
		"type":     "array",
		"items":    schema.Schema{"type": "string"},
		"minItems": float64(1),
		"maxItems": float64(3),
	}

	if err := schema.Validate(s, []any{}); err == nil {
		t.Fatal("expected error for empty array (minItems=1)")
	}
	if err := schema.Validate(s, []any{"a", "b", "c", "d"}); err == nil {
		t.Fatal("expected error for too many items")
	}
	if err := schema.Validate(s, []any{"a", float64(1)}); err == nil {
		t.Fatal("expected error for wrong item type")
	}
	if err := schema.Validate(s, []any{"values", "meta"}); err != nil {
		t.Fatalf("expected pass: %v", err)
	}
}

func TestValidatePatch(t *testing.T) {
	good := []map[string]any{
		{"name": "renamed"},
		{"values": []any{1.0, "NaN", 3.0}},
		{"uncertainty": nil, "uncertainty_type": nil},
		{"mask": []any{true, false}, "unit": "Jy"},
		{"meta": map[string]any{"k": 1.0}},
		{"spectral_axis": []any{4000.0, "Inf"}, "spectral_axis_unit": "Angstrom"},
	}
	for _, p := range good {
		if err := schema.ValidatePatch(p); err != nil {
			t.Errorf("patch %v: expected pass: %v", p, err)
		}
	}

	bad := []map[string]any{
		{},
		{"identifier": "x"},
		{"flux": []any{1.0}},
		{"values": []any{"many"}},
		{"values": 1.0},
		{"mask": []any{1.0}},
		{"uncertainty_type": "sigma"},
		{"name": nil},
	}
	for _, p := range bad {
		err := schema.ValidatePatch(p)
		if !errors.Is(err, errs.ErrInvalid) {
			t.Errorf("patch %v: expected invalid-argument error, got %v", p, err)
		}
	}
}

func TestValidateNestedObject(t *testing.T) {
	s := schema.Schema{
		"type": "object",
		"properties": schema.Schema{
			"axis": schema.Schema{
				"type": "object",
				"properties": schema.Schema{
					"unit":   schema.Schema{"type": "string"},
					"values": schema.Schema{"type": "array"},
				},
				"required": []any{"values"},
			},
		},
	}

	err := schema.Validate(s, map[string]any{"axis": map[string]any{"unit": "nm"}})
	if err == nil {
		t.Fatal("expected error for missing nested required field")
	}
	err = schema.Validate(s, map[string]any{"axis": map[string]any{"unit": "nm", "values": []any{}}})
	if err != nil {
		t.Fatalf("expected pass: %v", err)
	}
}
