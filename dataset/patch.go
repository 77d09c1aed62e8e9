package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stevemurr/cosmoscope/errs"
)

// Top-level field names, in the order patches are applied.
const (
	FieldIdentifier       = "identifier"
	FieldName             = "name"
	FieldValues           = "values"
	FieldUnit             = "unit"
	FieldUncertainty      = "uncertainty"
	FieldUncertaintyType  = "uncertainty_type"
	FieldMask             = "mask"
	FieldMeta             = "meta"
	FieldSpectralAxis     = "spectral_axis"
	FieldSpectralAxisUnit = "spectral_axis_unit"
)

var fields = []string{
	FieldIdentifier,
	FieldName,
	FieldValues,
	FieldUnit,
	FieldUncertainty,
	FieldUncertaintyType,
	FieldMask,
	FieldMeta,
	FieldSpectralAxis,
	FieldSpectralAxisUnit,
}

// Fields returns the top-level field names of a Dataset.
func Fields() []string {
	return append([]string{}, fields...)
}

// IsField reports whether name is a top-level Dataset field.
func IsField(name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// Patch is a partial update keyed by top-level field name. A nil value clears
// an optional field.
type Patch map[string]any

// Keys returns the patched field names in application order.
func (p Patch) Keys() []string {
	var keys []string
	for _, f := range fields {
		if _, ok := p[f]; ok {
			keys = append(keys, f)
		}
	}
	return keys
}

// Field returns the current value of a top-level field in its native form.
func (d *Dataset) Field(name string) (any, error) {
	switch name {
	case FieldIdentifier:
		return d.ID, nil
	case FieldName:
		return d.Name, nil
	case FieldValues:
		return cloneFloats(d.Values), nil
	case FieldUnit:
		return d.Unit, nil
	case FieldUncertainty:
		if d.Uncertainty == nil {
			return []float64(nil), nil
		}
		return cloneFloats(d.Uncertainty.Values), nil
	case FieldUncertaintyType:
		if d.Uncertainty == nil {
			return UncertaintyKind(""), nil
		}
		return d.Uncertainty.Kind, nil
	case FieldMask:
		if d.Mask == nil {
			return []bool(nil), nil
		}
		return append([]bool{}, d.Mask...), nil
	case FieldMeta:
		return CloneMeta(d.Meta), nil
	case FieldSpectralAxis:
		if d.SpectralAxis == nil {
			return []float64(nil), nil
		}
		return cloneFloats(d.SpectralAxis.Values), nil
	case FieldSpectralAxisUnit:
		if d.SpectralAxis == nil {
			return Unit(""), nil
		}
		return d.SpectralAxis.Unit, nil
	}
	return nil, errs.Invalid("unknown dataset field %q", name)
}

// Apply returns a new Dataset with p applied to a copy of d. The identifier
// cannot be patched.
func (d *Dataset) Apply(p Patch) (*Dataset, error) {
	for k := range p {
		if !IsField(k) {
			return nil, errs.Invalid("unknown dataset field %q", k)
		}
	}
	if _, ok := p[FieldIdentifier]; ok {
		return nil, errs.Invalid("field %q cannot be updated", FieldIdentifier)
	}

	out := d.Clone()
	for _, key := range p.Keys() {
		if err := out.set(key, p[key]); err != nil {
			return nil, err
		}
	}
	if out.Uncertainty != nil && out.Uncertainty.Kind == "" {
		out.Uncertainty.Kind = StdDev
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Dataset) set(key string, v any) error {
	switch key {
	case FieldName:
		s, err := toString(key, v)
		if err != nil {
			return err
		}
		d.Name = s
	case FieldValues:
		f, err := toFloats(key, v)
		if err != nil {
			return err
		}
		if f == nil {
			f = []float64{}
		}
		d.Values = f
	case FieldUnit:
		s, err := toString(key, v)
		if err != nil {
			return err
		}
		d.Unit = Unit(s)
	case FieldUncertainty:
		f, err := toFloats(key, v)
		if err != nil {
			return err
		}
		if f == nil {
			d.Uncertainty = nil
			return nil
		}
		kind := UncertaintyKind("")
		if d.Uncertainty != nil {
			kind = d.Uncertainty.Kind
		}
		d.Uncertainty = &Uncertainty{Kind: kind, Values: f}
	case FieldUncertaintyType:
		s, err := toString(key, v)
		if err != nil {
			return err
		}
		if d.Uncertainty == nil {
			if s != "" {
				return errs.Invalid("%s set without an uncertainty array", key)
			}
			return nil
		}
		d.Uncertainty.Kind = UncertaintyKind(s)
	case FieldMask:
		b, err := toBools(key, v)
		if err != nil {
			return err
		}
		d.Mask = b
	case FieldMeta:
		if v == nil {
			d.Meta = nil
			return nil
		}
		m, ok := v.(map[string]any)
		if !ok {
			return errs.Invalid("%s: expected an object, got %T", key, v)
		}
		d.Meta = CloneMeta(m)
	case FieldSpectralAxis:
		f, err := toFloats(key, v)
		if err != nil {
			return err
		}
		if f == nil {
			d.SpectralAxis = nil
			return nil
		}
		unit := Unit("")
		if d.SpectralAxis != nil {
			unit = d.SpectralAxis.Unit
		}
		d.SpectralAxis = &Axis{Values: f, Unit: unit}
	case FieldSpectralAxisUnit:
		s, err := toString(key, v)
		if err != nil {
			return err
		}
		if d.SpectralAxis == nil {
			if s != "" {
				return errs.Invalid("%s set without a spectral axis", key)
			}
			return nil
		}
		d.SpectralAxis.Unit = Unit(s)
	}
	return nil
}

// Diff returns the values old held for exactly the top-level fields that
// differ between old and updated. Applying the result to updated restores old.
func Diff(old, updated *Dataset) Patch {
	return diff(old, updated)
}

func diff(a, b *Dataset) Patch {
	out := Patch{}
	for _, f := range fields {
		if !fieldEqual(a, b, f) {
			v, _ := a.Field(f)
			out[f] = v
		}
	}
	return out
}

func fieldEqual(a, b *Dataset, f string) bool {
	switch f {
	case FieldIdentifier:
		return a.ID == b.ID
	case FieldName:
		return a.Name == b.Name
	case FieldValues:
		return floatsEqual(a.Values, b.Values)
	case FieldUnit:
		return a.Unit == b.Unit
	case FieldUncertainty:
		if a.Uncertainty == nil || b.Uncertainty == nil {
			return a.Uncertainty == nil && b.Uncertainty == nil
		}
		return floatsEqual(a.Uncertainty.Values, b.Uncertainty.Values)
	case FieldUncertaintyType:
		av, _ := a.Field(f)
		bv, _ := b.Field(f)
		return av == bv
	case FieldMask:
		return boolsEqual(a.Mask, b.Mask)
	case FieldMeta:
		return metaEqual(a.Meta, b.Meta)
	case FieldSpectralAxis:
		if a.SpectralAxis == nil || b.SpectralAxis == nil {
			return a.SpectralAxis == nil && b.SpectralAxis == nil
		}
		return floatsEqual(a.SpectralAxis.Values, b.SpectralAxis.Values)
	case FieldSpectralAxisUnit:
		av, _ := a.Field(f)
		bv, _ := b.Field(f)
		return av == bv
	}
	return false
}

func toString(key string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case Unit:
		return string(t), nil
	case UncertaintyKind:
		return string(t), nil
	}
	return "", errs.Invalid("%s: expected a string, got %T", key, v)
}

// toFloats accepts native slices and JSON-decoded arrays. The strings "NaN",
// "Inf" and "-Inf" stand for the non-finite values JSON cannot carry.
func toFloats(key string, v any) ([]float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return cloneFloats(t), nil
	case []any:
		out := make([]float64, len(t))
		for i, e := range t {
			f, err := ToFloat(e)
			if err != nil {
				return nil, errs.Invalid("%s[%d]: %v", key, i, err)
			}
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]float64, len(t))
		for i, e := range t {
			out[i] = float64(e)
		}
		return out, nil
	}
	return nil, errs.Invalid("%s: expected a numeric array, got %T", key, v)
}

// ToFloat converts a scalar from JSON or Go into a float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		switch strings.ToLower(n) {
		case "nan":
			return math.NaN(), nil
		case "inf", "+inf":
			return math.Inf(1), nil
		case "-inf":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toBools(key string, v any) ([]bool, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []bool:
		if t == nil {
			return nil, nil
		}
		return append([]bool{}, t...), nil
	case []any:
		out := make([]bool, len(t))
		for i, e := range t {
			b, ok := e.(bool)
			if !ok {
				return nil, errs.Invalid("%s[%d]: expected a boolean, got %T", key, i, e)
			}
			out[i] = b
		}
		return out, nil
	}
	return nil, errs.Invalid("%s: expected a boolean array, got %T", key, v)
}
