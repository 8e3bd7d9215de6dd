package structured

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/mount"
)

// DateLayout is the canonical ISO-8601 form dates are exposed in. Any
// RFC 3339 timestamp is accepted on write.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// FieldToEntry converts a stored field value to an entry. A nil value yields
// a nil entry.
func FieldToEntry(name string, kind mount.Kind, value any) (*data.Entry, error) {
	if value == nil {
		return nil, nil
	}

	switch kind {
	case mount.KindString:
		s, ok := value.(string)
		if !ok {
			return nil, storedMismatch(name, kind, value)
		}
		return data.NewString(name, s), nil

	case mount.KindNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, storedMismatch(name, kind, value)
		}
		return data.NewString(name, strconv.FormatFloat(n, 'f', -1, 64)), nil

	case mount.KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, storedMismatch(name, kind, value)
		}
		if b {
			return data.NewString(name, "yes"), nil
		}
		return data.NewString(name, "no"), nil

	case mount.KindDate:
		t, ok := value.(time.Time)
		if !ok {
			return nil, storedMismatch(name, kind, value)
		}
		return data.NewString(name, t.UTC().Format(DateLayout)), nil

	case mount.KindStringMap:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, storedMismatch(name, kind, value)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		folder := data.NewFolder(name)
		for _, k := range keys {
			s, ok := m[k].(string)
			if !ok {
				return nil, storedMismatch(name+"/"+k, mount.KindString, m[k])
			}
			folder.Children = append(folder.Children, data.NewString(k, s))
		}
		return folder, nil
	}

	return nil, fmt.Errorf("%w: field '%s' has unknown kind %d", data.ErrInvalid, name, int(kind))
}

// EntryToField converts an entry written by a client to the stored value of
// a field of the given kind. It never writes anything; callers convert every
// field before touching the store.
func EntryToField(name string, kind mount.Kind, value *data.Entry) (any, error) {
	if kind == mount.KindStringMap {
		if value.Type != data.TypeFolder {
			return nil, dataerrors.TypeMismatch(name, data.TypeFolder, value.Type)
		}
		out := make(map[string]any, len(value.Children))
		for _, child := range value.Children {
			if child.Type != data.TypeString {
				return nil, dataerrors.TypeMismatch(name+"/"+child.Name, data.TypeString, child.Type)
			}
			out[child.Name] = child.StringValue
		}
		return out, nil
	}

	if value.Type != data.TypeString {
		return nil, dataerrors.TypeMismatch(name, data.TypeString, value.Type)
	}
	s := value.StringValue

	switch kind {
	case mount.KindString:
		return s, nil

	case mount.KindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, dataerrors.Validation(name, "'%s' is not a number", s)
		}
		return n, nil

	case mount.KindBoolean:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes":
			return true, nil
		case "no":
			return false, nil
		}
		return nil, dataerrors.Validation(name, "'%s' is neither yes nor no", s)

	case mount.KindDate:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return nil, dataerrors.Validation(name, "'%s' is not an ISO-8601 date", s)
		}
		return t.UTC(), nil
	}

	return nil, fmt.Errorf("%w: field '%s' has unknown kind %d", data.ErrInvalid, name, int(kind))
}

// ArrayToEntry exposes a stored list as a folder with 1-based index names.
func ArrayToEntry(name string, spec mount.ArrayOf, value any) (*data.Entry, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, storedMismatch(name, spec.Kind, value)
	}

	folder := data.NewFolder(name)
	for i, item := range items {
		child, err := FieldToEntry(strconv.Itoa(i+1), spec.Kind, item)
		if err != nil {
			return nil, err
		}
		if child != nil {
			folder.Children = append(folder.Children, child)
		}
	}
	return folder, nil
}

// EntryToArray accepts a folder whose children are named by their 1-based
// position. Children are stored in index order; gaps are closed.
func EntryToArray(name string, spec mount.ArrayOf, value *data.Entry) ([]any, error) {
	if value.Type != data.TypeFolder {
		return nil, dataerrors.TypeMismatch(name, data.TypeFolder, value.Type)
	}
	if spec.Max > 0 && len(value.Children) > spec.Max {
		return nil, dataerrors.Validation(name, "holds at most %d values, got %d", spec.Max, len(value.Children))
	}

	type indexed struct {
		index int
		value any
	}
	items := make([]indexed, 0, len(value.Children))
	seen := make(map[int]struct{}, len(value.Children))
	for _, child := range value.Children {
		index, err := strconv.Atoi(child.Name)
		if err != nil || index < 1 {
			return nil, dataerrors.Validation(name, "child '%s' is not a positive index", child.Name)
		}
		if spec.Max > 0 && index > spec.Max {
			return nil, dataerrors.Validation(name, "index %d exceeds bound %d", index, spec.Max)
		}
		if _, dup := seen[index]; dup {
			return nil, dataerrors.Validation(name, "index %d given twice", index)
		}
		seen[index] = struct{}{}

		v, err := EntryToField(name+"/"+child.Name, spec.Kind, child)
		if err != nil {
			return nil, err
		}
		items = append(items, indexed{index: index, value: v})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item.value
	}
	return out, nil
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func storedMismatch(name string, kind mount.Kind, value any) error {
	return fmt.Errorf("%w: stored field '%s' is %T, declared %s", data.ErrTypeMismatch, name, value, kind)
}
