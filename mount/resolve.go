package mount

import (
	"context"
	"strings"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
)

// Resolve walks path down from m. A nil handle with a nil error means the
// path does not exist.
//
// At each mapping an exact sub-path match wins, then the longest sub-path
// that prefixes the remaining path at a segment boundary, then the dynamic
// Children factory. Equal-length prefixes go to the first declared.
func Resolve(ctx context.Context, m *Mapping, path string) (entry.Handle, error) {
	path = data.Clean(path)

	for m != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if path == "" {
			return bindSelf(ctx, m)
		}

		sp, rest, ok := match(m, path)
		if !ok {
			if m.Children == nil {
				return nil, nil
			}
			segment, remaining := data.SplitFirst(path)
			name, err := data.DecodeSegment(segment)
			if err != nil || strings.Contains(name, "/") {
				return nil, nil
			}
			child, err := m.Children(name)
			if err != nil {
				return nil, err
			}
			m, path = child, remaining
			continue
		}

		switch spec := sp.Spec.(type) {
		case Nested:
			child, err := spec.Factory(m.Ref)
			if err != nil {
				return nil, err
			}
			m, path = child, rest
		case Scalar, ArrayOf:
			return bindField(ctx, m, sp, rest)
		default:
			data.RaiseProtocolBug(path, "sub-path '%s' has no spec", sp.Name)
		}
	}

	return nil, nil
}

func match(m *Mapping, path string) (SubPath, string, bool) {
	if sp, ok := m.SubPath(path); ok {
		return sp, "", true
	}

	best := -1
	for i, sp := range m.SubPaths {
		if !strings.HasPrefix(path, sp.Name+"/") {
			continue
		}
		if best < 0 || len(sp.Name) > len(m.SubPaths[best].Name) {
			best = i
		}
	}
	if best < 0 {
		return SubPath{}, "", false
	}

	sp := m.SubPaths[best]
	return sp, path[len(sp.Name)+1:], true
}

func bindSelf(ctx context.Context, m *Mapping) (entry.Handle, error) {
	if m.Binder == nil {
		return nil, nil
	}
	return m.Binder.BindSelf(ctx, m)
}

func bindField(ctx context.Context, m *Mapping, sp SubPath, rest string) (entry.Handle, error) {
	if m.Binder == nil {
		return nil, nil
	}
	h, err := m.Binder.BindField(ctx, m, sp)
	if err != nil || h == nil || rest == "" {
		return h, err
	}

	l, ok := h.(entry.Lookuper)
	if !ok {
		return nil, nil
	}
	return l.Lookup(ctx, rest)
}
