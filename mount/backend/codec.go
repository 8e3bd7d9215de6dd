package backend

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
)

const timeKey = "$time"

// EncodeFields serializes document fields to JSON. Values may be strings,
// numbers, booleans, time.Time, string slices, string maps, or nested
// combinations of those. Times survive the round trip as time.Time.
func EncodeFields(fields map[string]any) ([]byte, error) {
	wire, err := encodeValue(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// DecodeFields reverses EncodeFields. Numbers come back as float64.
func DecodeFields(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode fields: %v", data.ErrBackingStore, err)
	}

	fields := make(map[string]any, len(wire))
	for k, v := range wire {
		fields[k] = decodeValue(v)
	}
	return fields, nil
}

// NormalizeFields brings in-process values to the shape DecodeFields
// produces, so every store reports the same types.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	raw, err := EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	return DecodeFields(raw)
}

func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return val, nil
	case time.Time:
		return map[string]any{timeKey: val.UTC().Format(time.RFC3339Nano)}, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			enc, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported field value %T", data.ErrInvalid, v)
	}
}

func decodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if ts, ok := val[timeKey].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
					return t
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = decodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = decodeValue(item)
		}
		return out
	default:
		return val
	}
}

// EncodeDocument wraps fields with their write time for stores that keep no
// native modification time per key.
func EncodeDocument(fields map[string]any, updateTime time.Time) ([]byte, error) {
	return EncodeFields(map[string]any{
		"t": updateTime.UTC(),
		"f": fields,
	})
}

// DecodeDocument reverses EncodeDocument. An empty value decodes to a
// missing document, which is how change feeds report deletions.
func DecodeDocument(path string, raw []byte) (*Snapshot, error) {
	if len(raw) == 0 {
		return Missing(path), nil
	}

	wrapper, err := DecodeFields(raw)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Path: path, Exists: true, Fields: map[string]any{}}
	if t, ok := wrapper["t"].(time.Time); ok {
		snap.UpdateTime = t
	}
	if f, ok := wrapper["f"].(map[string]any); ok {
		snap.Fields = f
	}
	return snap, nil
}
