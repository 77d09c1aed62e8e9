package codec

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"

	"github.com/stevemurr/cosmoscope/dataset"
	"github.com/stevemurr/cosmoscope/errs"
)

const dtypeFloat64 = "float64"

// Metadata scalar kinds.
const (
	metaNull   = "null"
	metaBool   = "bool"
	metaInt    = "int"
	metaFloat  = "float"
	metaString = "string"
	metaBytes  = "bytes"
	metaList   = "list"
	metaMap    = "map"
)

func encodeNDArray(values []float64) map[string]any {
	data := make([]any, len(values))
	for i, v := range values {
		data[i] = encodeFloat(v)
	}
	return map[string]any{
		TypeKey: TagNDArray,
		"dtype": dtypeFloat64,
		"shape": []any{float64(len(values))},
		"data":  data,
	}
}

func decodeNDArray(n map[string]any) ([]float64, error) {
	if dtype, _ := n["dtype"].(string); dtype != dtypeFloat64 {
		return nil, errs.Serialization("ndarray: unsupported dtype %q", dtype)
	}
	data, ok := n["data"].([]any)
	if !ok {
		return nil, errs.Serialization("ndarray: expected a data array, got %T", n["data"])
	}
	if shape, ok := n["shape"].([]any); ok {
		if len(shape) != 1 {
			return nil, errs.Serialization("ndarray: expected one dimension, got %d", len(shape))
		}
		if size, _ := shape[0].(float64); int(size) != len(data) {
			return nil, errs.Serialization("ndarray: shape %v does not match %d elements", shape[0], len(data))
		}
	}
	out := make([]float64, len(data))
	for i, e := range data {
		f, err := decodeFloat(e)
		if err != nil {
			return nil, errs.Serialization("ndarray[%d]: %v", i, err)
		}
		out[i] = f
	}
	return out, nil
}

// encodeFloat keeps finite values as numbers and spells out the non-finite
// ones, which neither JSON nor a round trip through text can carry.
func encodeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return f
}

func decodeFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		switch t {
		case "NaN", "Inf", "-Inf":
			return dataset.ToFloat(t)
		}
		return 0, errs.Serialization("unexpected float literal %q", t)
	}
	return dataset.ToFloat(v)
}

func encodeMeta(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	items, err := encodeMetaMap(m)
	if err != nil {
		return nil, err
	}
	return map[string]any{TypeKey: TagMeta, "items": items}, nil
}

func decodeMeta(n map[string]any) (map[string]any, error) {
	items, ok := n["items"].(map[string]any)
	if !ok {
		return nil, errs.Serialization("meta: expected an items object, got %T", n["items"])
	}
	return decodeMetaMap(items)
}

func encodeMetaMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for _, k := range sortedKeys(m) {
		v, err := encodeMetaValue(m[k])
		if err != nil {
			return nil, errs.Serialization("meta %q: %v", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func decodeMetaMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, raw := range m {
		v, err := decodeMetaValue(raw)
		if err != nil {
			return nil, errs.Serialization("meta %q: %v", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func scalar(kind string, value any) map[string]any {
	return map[string]any{"kind": kind, "value": value}
}

func encodeMetaValue(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return scalar(metaNull, nil), nil
	case bool:
		return scalar(metaBool, t), nil
	case int:
		return scalar(metaInt, strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return scalar(metaInt, strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return scalar(metaInt, strconv.FormatInt(t, 10)), nil
	case uint32:
		return scalar(metaInt, strconv.FormatInt(int64(t), 10)), nil
	case float32:
		return scalar(metaFloat, encodeFloat(float64(t))), nil
	case float64:
		return scalar(metaFloat, encodeFloat(t)), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return scalar(metaInt, strconv.FormatInt(i, 10)), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return scalar(metaFloat, encodeFloat(f)), nil
	case string:
		return scalar(metaString, t), nil
	case dataset.Unit:
		return scalar(metaString, string(t)), nil
	case []byte:
		return scalar(metaBytes, base64.StdEncoding.EncodeToString(t)), nil
	case []string:
		list := make([]any, len(t))
		for i, s := range t {
			list[i] = scalar(metaString, s)
		}
		return scalar(metaList, list), nil
	case []any:
		list := make([]any, len(t))
		for i, e := range t {
			ev, err := encodeMetaValue(e)
			if err != nil {
				return nil, err
			}
			list[i] = ev
		}
		return scalar(metaList, list), nil
	case map[string]any:
		m, err := encodeMetaMap(t)
		if err != nil {
			return nil, err
		}
		return scalar(metaMap, m), nil
	}
	return nil, errs.Serialization("unsupported metadata value of type %T", v)
}

func decodeMetaValue(raw any) (any, error) {
	node, ok := raw.(map[string]any)
	if !ok {
		return nil, errs.Serialization("expected a tagged value, got %T", raw)
	}
	kind, _ := node["kind"].(string)
	value := node["value"]
	switch kind {
	case metaNull:
		return nil, nil
	case metaBool:
		b, ok := value.(bool)
		if !ok {
			return nil, errs.Serialization("bool: got %T", value)
		}
		return b, nil
	case metaInt:
		s, ok := value.(string)
		if !ok {
			return nil, errs.Serialization("int: got %T", value)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errs.Serialization("int: %v", err)
		}
		return i, nil
	case metaFloat:
		return decodeFloat(value)
	case metaString:
		s, ok := value.(string)
		if !ok {
			return nil, errs.Serialization("string: got %T", value)
		}
		return s, nil
	case metaBytes:
		s, ok := value.(string)
		if !ok {
			return nil, errs.Serialization("bytes: got %T", value)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errs.Serialization("bytes: %v", err)
		}
		return b, nil
	case metaList:
		items, ok := value.([]any)
		if !ok {
			return nil, errs.Serialization("list: got %T", value)
		}
		out := make([]any, len(items))
		for i, e := range items {
			v, err := decodeMetaValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case metaMap:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, errs.Serialization("map: got %T", value)
		}
		return decodeMetaMap(m)
	}
	return nil, errs.Serialization("unknown metadata kind %q", kind)
}
