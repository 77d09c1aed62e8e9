// Package codec converts datasets and their nested values to a tagged,
// transmissible tree and back.
//
// The tree is built only from map[string]any, []any, string, float64, bool
// and nil, so it can be written as JSON on the RPC boundary or as a protobuf
// Value for session snapshots. Every structured value is a map carrying a
// "__type__" tag plus the minimal payload needed to rebuild it.
package codec

import (
	"fmt"
	"sort"

	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
)

// TypeKey is the map key holding a value's type tag.
const TypeKey = "__type__"

// Type tags.
const (
	TagDataset     = "dataset"
	TagNDArray     = "ndarray"
	TagUnit        = "unit"
	TagUncertainty = "uncertainty"
	TagMask        = "mask"
	TagAxis        = "axis"
	TagMeta        = "meta"
	TagSession     = "session"
)

type decodeFunc func(node map[string]any) (any, error)

var decoders map[string]decodeFunc

func init() {
	decoders = map[string]decodeFunc{
		TagDataset:     func(n map[string]any) (any, error) { return decodeDataset(n) },
		TagNDArray:     func(n map[string]any) (any, error) { return decodeNDArray(n) },
		TagUnit:        func(n map[string]any) (any, error) { return decodeUnit(n) },
		TagUncertainty: func(n map[string]any) (any, error) { return decodeUncertainty(n) },
		TagMask:        func(n map[string]any) (any, error) { return decodeMask(n) },
		TagAxis:        func(n map[string]any) (any, error) { return decodeAxis(n) },
		TagMeta:        func(n map[string]any) (any, error) { return decodeMeta(n) },
		TagSession:     func(n map[string]any) (any, error) { return decodeSession(n) },
	}
}

// Encode returns the tagged tree for v. Supported inputs are *Dataset,
// Dataset, Unit, *Uncertainty, *Axis, []float64 (as ndarray), []bool (as
// mask), metadata maps and *Session.
func Encode(v any) (any, error) {
	switch t := v.(type) {
	case *dataset.Dataset:
		if t == nil {
			return nil, nil
		}
		return EncodeDataset(t)
	case dataset.Dataset:
		return EncodeDataset(&t)
	case dataset.Unit:
		return encodeUnit(t), nil
	case *dataset.Uncertainty:
		if t == nil {
			return nil, nil
		}
		return encodeUncertainty(t), nil
	case *dataset.Axis:
		if t == nil {
			return nil, nil
		}
		return encodeAxis(t), nil
	case []float64:
		return encodeNDArray(t), nil
	case []bool:
		return encodeMask(t), nil
	case map[string]any:
		return encodeMeta(t)
	case *Session:
		return encodeSession(t)
	}
	return nil, errs.Serialization("no encoder for %T", v)
}

// Decode rebuilds the value described by a tagged tree. Unknown or
// malformed tags are rejected; no partially built value is returned.
func Decode(tree any) (any, error) {
	if tree == nil {
		return nil, nil
	}
	node, ok := tree.(map[string]any)
	if !ok {
		return nil, errs.Serialization("expected a tagged object, got %T", tree)
	}
	tag, ok := node[TypeKey].(string)
	if !ok {
		return nil, errs.Serialization("object has no %s tag", TypeKey)
	}
	dec, ok := decoders[tag]
	if !ok {
		return nil, errs.Serialization("unknown type tag %q", tag)
	}
	v, err := dec(node)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeDataset returns the full tagged form of d.
func EncodeDataset(d *dataset.Dataset) (map[string]any, error) {
	return EncodeFields(d, nil)
}

// EncodeFields returns the tagged form of d restricted to the named
// top-level fields. The identifier is always included; an empty field list
// selects every field.
func EncodeFields(d *dataset.Dataset, fields []string) (map[string]any, error) {
	want := map[string]bool{}
	for _, f := range fields {
		if !dataset.IsField(f) {
			return nil, errs.Invalid("unknown dataset field %q", f)
		}
		want[f] = true
	}
	all := len(want) == 0
	sel := func(f ...string) bool {
		if all {
			return true
		}
		for _, name := range f {
			if want[name] {
				return true
			}
		}
		return false
	}

	out := map[string]any{
		TypeKey:                 TagDataset,
		dataset.FieldIdentifier: d.ID,
	}
	if sel(dataset.FieldName) {
		out[dataset.FieldName] = d.Name
	}
	if sel(dataset.FieldValues) {
		out[dataset.FieldValues] = encodeNDArray(d.Values)
	}
	if sel(dataset.FieldUnit) {
		out[dataset.FieldUnit] = optionalUnit(d.Unit)
	}
	if sel(dataset.FieldUncertainty, dataset.FieldUncertaintyType) {
		if d.Uncertainty != nil {
			out[dataset.FieldUncertainty] = encodeUncertainty(d.Uncertainty)
		} else {
			out[dataset.FieldUncertainty] = nil
		}
	}
	if sel(dataset.FieldMask) {
		if d.Mask != nil {
			out[dataset.FieldMask] = encodeMask(d.Mask)
		} else {
			out[dataset.FieldMask] = nil
		}
	}
	if sel(dataset.FieldMeta) {
		meta, err := encodeMeta(d.Meta)
		if err != nil {
			return nil, err
		}
		out[dataset.FieldMeta] = meta
	}
	if sel(dataset.FieldSpectralAxis, dataset.FieldSpectralAxisUnit) {
		if d.SpectralAxis != nil {
			out[dataset.FieldSpectralAxis] = encodeAxis(d.SpectralAxis)
		} else {
			out[dataset.FieldSpectralAxis] = nil
		}
	}
	return out, nil
}

// EncodeField returns the tagged form of a single top-level field of d.
// Scalar fields are returned as plain strings and absent optionals as nil.
func EncodeField(d *dataset.Dataset, name string) (any, error) {
	if !dataset.IsField(name) {
		return nil, errs.Invalid("unknown dataset field %q", name)
	}
	v, err := d.Field(name)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case dataset.Unit:
		return optionalUnit(t), nil
	case dataset.UncertaintyKind:
		if t == "" {
			return nil, nil
		}
		return string(t), nil
	case []float64:
		if t == nil {
			return nil, nil
		}
	case []bool:
		if t == nil {
			return nil, nil
		}
	}
	return Encode(v)
}

// DecodeDataset decodes a tree that must describe a dataset. Fields absent
// from a projection decode to their zero values.
func DecodeDataset(tree any) (*dataset.Dataset, error) {
	v, err := Decode(tree)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*dataset.Dataset)
	if !ok {
		return nil, errs.Serialization("expected a %s, got %T", TagDataset, v)
	}
	return d, nil
}

func decodeDataset(n map[string]any) (*dataset.Dataset, error) {
	id, err := stringField(n, dataset.FieldIdentifier, true)
	if err != nil {
		return nil, err
	}
	name, err := stringField(n, dataset.FieldName, false)
	if err != nil {
		return nil, err
	}
	d := &dataset.Dataset{ID: id, Name: name}

	if raw, ok := n[dataset.FieldValues]; ok && raw != nil {
		if d.Values, err = decodeTagged[[]float64](raw, TagNDArray); err != nil {
			return nil, fmt.Errorf("values: %w", err)
		}
	}
	if raw, ok := n[dataset.FieldUnit]; ok && raw != nil {
		if d.Unit, err = decodeTagged[dataset.Unit](raw, TagUnit); err != nil {
			return nil, fmt.Errorf("unit: %w", err)
		}
	}
	if raw, ok := n[dataset.FieldUncertainty]; ok && raw != nil {
		if d.Uncertainty, err = decodeTagged[*dataset.Uncertainty](raw, TagUncertainty); err != nil {
			return nil, fmt.Errorf("uncertainty: %w", err)
		}
	}
	if raw, ok := n[dataset.FieldMask]; ok && raw != nil {
		if d.Mask, err = decodeTagged[[]bool](raw, TagMask); err != nil {
			return nil, fmt.Errorf("mask: %w", err)
		}
	}
	if raw, ok := n[dataset.FieldMeta]; ok && raw != nil {
		if d.Meta, err = decodeTagged[map[string]any](raw, TagMeta); err != nil {
			return nil, fmt.Errorf("meta: %w", err)
		}
	}
	if raw, ok := n[dataset.FieldSpectralAxis]; ok && raw != nil {
		if d.SpectralAxis, err = decodeTagged[*dataset.Axis](raw, TagAxis); err != nil {
			return nil, fmt.Errorf("spectral_axis: %w", err)
		}
	}
	return d, nil
}

// decodeTagged decodes raw and checks that it carried the expected tag.
func decodeTagged[T any](raw any, tag string) (T, error) {
	var zero T
	node, ok := raw.(map[string]any)
	if !ok {
		return zero, errs.Serialization("expected a tagged %s, got %T", tag, raw)
	}
	if got, _ := node[TypeKey].(string); got != tag {
		return zero, errs.Serialization("expected tag %q, got %q", tag, got)
	}
	v, err := Decode(node)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, errs.Serialization("tag %q decoded to %T", tag, v)
	}
	return out, nil
}

func stringField(n map[string]any, key string, required bool) (string, error) {
	raw, ok := n[key]
	if !ok || raw == nil {
		if required {
			return "", errs.Serialization("missing %q", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", errs.Serialization("%q: expected a string, got %T", key, raw)
	}
	return s, nil
}

func encodeUnit(u dataset.Unit) map[string]any {
	return map[string]any{TypeKey: TagUnit, "value": string(u)}
}

func optionalUnit(u dataset.Unit) any {
	if u == "" {
		return nil
	}
	return encodeUnit(u)
}

func decodeUnit(n map[string]any) (dataset.Unit, error) {
	s, err := stringField(n, "value", true)
	if err != nil {
		return "", err
	}
	return dataset.Unit(s), nil
}

func encodeUncertainty(u *dataset.Uncertainty) map[string]any {
	return map[string]any{
		TypeKey: TagUncertainty,
		"kind":  string(u.Kind),
		"array": encodeNDArray(u.Values),
	}
}

func decodeUncertainty(n map[string]any) (*dataset.Uncertainty, error) {
	kind, err := stringField(n, "kind", true)
	if err != nil {
		return nil, err
	}
	if !dataset.UncertaintyKind(kind).Valid() {
		return nil, errs.Serialization("unknown uncertainty kind %q", kind)
	}
	values, err := decodeTagged[[]float64](n["array"], TagNDArray)
	if err != nil {
		return nil, err
	}
	return &dataset.Uncertainty{Kind: dataset.UncertaintyKind(kind), Values: values}, nil
}

func encodeAxis(a *dataset.Axis) map[string]any {
	return map[string]any{
		TypeKey: TagAxis,
		"array": encodeNDArray(a.Values),
		"unit":  optionalUnit(a.Unit),
	}
}

func decodeAxis(n map[string]any) (*dataset.Axis, error) {
	values, err := decodeTagged[[]float64](n["array"], TagNDArray)
	if err != nil {
		return nil, err
	}
	a := &dataset.Axis{Values: values}
	if raw := n["unit"]; raw != nil {
		if a.Unit, err = decodeTagged[dataset.Unit](raw, TagUnit); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func encodeMask(m []bool) map[string]any {
	data := make([]any, len(m))
	for i, b := range m {
		data[i] = b
	}
	return map[string]any{TypeKey: TagMask, "data": data}
}

func decodeMask(n map[string]any) ([]bool, error) {
	data, ok := n["data"].([]any)
	if !ok {
		return nil, errs.Serialization("mask: expected a data array, got %T", n["data"])
	}
	out := make([]bool, len(data))
	for i, e := range data {
		b, ok := e.(bool)
		if !ok {
			return nil, errs.Serialization("mask[%d]: expected a boolean, got %T", i, e)
		}
		out[i] = b
	}
	return out, nil
}

// sortedKeys keeps encoded output deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
