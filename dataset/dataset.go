// Package dataset defines the Dataset value held by the store.
//
// A Dataset is immutable by convention: the store keeps its own copy and
// updates install a new value under the same identifier rather than editing
// the stored one.
package dataset

import (
	"bytes"
	"math"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/stevemurr/cosmoscope/errs"
)

// Unit is a physical unit in its canonical string form. The empty unit means
// the dataset carries no unit.
type Unit string

// UncertaintyKind tags how an uncertainty array is to be read.
type UncertaintyKind string

const (
	StdDev           UncertaintyKind = "std"
	Variance         UncertaintyKind = "var"
	InverseVariance  UncertaintyKind = "ivar"
	UnknownKind      UncertaintyKind = "unknown"
	defaultDataDType                 = "float64"
)

// Valid reports whether k is one of the known uncertainty kinds.
func (k UncertaintyKind) Valid() bool {
	switch k {
	case StdDev, Variance, InverseVariance, UnknownKind:
		return true
	}
	return false
}

// Uncertainty is a per-element uncertainty array.
type Uncertainty struct {
	Kind   UncertaintyKind
	Values []float64
}

// Axis is a coordinate axis sampled at the same points as the values.
type Axis struct {
	Values []float64
	Unit   Unit
}

// Dataset is a named numeric sequence with unit, uncertainty, mask and
// free-form metadata.
type Dataset struct {
	ID           string
	Name         string
	Values       []float64
	Unit         Unit
	Uncertainty  *Uncertainty
	Mask         []bool
	Meta         map[string]any
	SpectralAxis *Axis
}

// DType is the element type tag of Values.
func (d *Dataset) DType() string { return defaultDataDType }

// NewID returns a fresh dataset identifier.
func NewID() string {
	return uuid.NewString()
}

// New copies src, assigns it a fresh identifier and validates the result.
func New(src Dataset) (*Dataset, error) {
	d := src.Clone()
	d.ID = NewID()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the length invariants between values and the optional
// per-element arrays.
func (d *Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errs.Invalid("dataset has no identifier")
	}
	n := len(d.Values)
	if d.Uncertainty != nil {
		if len(d.Uncertainty.Values) != n {
			return errs.Invalid("uncertainty length %d does not match values length %d", len(d.Uncertainty.Values), n)
		}
		if !d.Uncertainty.Kind.Valid() {
			return errs.Invalid("unknown uncertainty kind %q", d.Uncertainty.Kind)
		}
	}
	if d.Mask != nil && len(d.Mask) != n {
		return errs.Invalid("mask length %d does not match values length %d", len(d.Mask), n)
	}
	if d.SpectralAxis != nil && len(d.SpectralAxis.Values) != n {
		return errs.Invalid("spectral axis length %d does not match values length %d", len(d.SpectralAxis.Values), n)
	}
	return nil
}

// Clone returns a deep copy of d.
func (d *Dataset) Clone() *Dataset {
	cp := *d
	cp.Values = cloneFloats(d.Values)
	if d.Uncertainty != nil {
		cp.Uncertainty = &Uncertainty{Kind: d.Uncertainty.Kind, Values: cloneFloats(d.Uncertainty.Values)}
	}
	if d.Mask != nil {
		cp.Mask = append([]bool{}, d.Mask...)
	}
	if d.SpectralAxis != nil {
		cp.SpectralAxis = &Axis{Values: cloneFloats(d.SpectralAxis.Values), Unit: d.SpectralAxis.Unit}
	}
	cp.Meta = CloneMeta(d.Meta)
	return &cp
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	return append([]float64{}, in...)
}

// CloneMeta deep-copies a metadata map, descending into nested maps, lists
// and byte slices.
func CloneMeta(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMeta(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte{}, t...)
	default:
		return v
	}
}

// Equal reports whether a and b carry the same field values. NaN elements
// compare equal to NaN, and nil and empty collections compare equal.
func Equal(a, b *Dataset) bool {
	if a == nil || b == nil {
		return a == b
	}
	return len(diff(a, b)) == 0
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] == b[i] || (math.IsNaN(a[i]) && math.IsNaN(b[i])) {
			continue
		}
		return false
	}
	return true
}

func boolsEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func metaEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	a, b = canonicalValue(a), canonicalValue(b)
	switch at := a.(type) {
	case float64:
		bt, ok := b.(float64)
		return ok && (at == bt || (math.IsNaN(at) && math.IsNaN(bt)))
	case []byte:
		bt, ok := b.([]byte)
		return ok && bytes.Equal(at, bt)
	case map[string]any:
		bt, ok := b.(map[string]any)
		return ok && metaEqual(at, bt)
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !valueEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// canonicalValue maps metadata values onto the types the codec decodes them
// as, so a value and its round-tripped form compare equal.
func canonicalValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case Unit:
		return string(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return v
}
