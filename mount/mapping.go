package mount

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// Kind is the declared data type of a document field.
type Kind int

const (
	KindString Kind = iota + 1
	KindNumber
	KindBoolean
	KindDate
	KindStringMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindStringMap:
		return "map"
	default:
		return "unknown"
	}
}

// SubPathSpec is one of Scalar, ArrayOf or Nested.
type SubPathSpec interface {
	subPathSpec()
}

// Scalar is a single field of the mapping's record.
type Scalar struct {
	Kind Kind
}

// ArrayOf is a field holding up to Max values of Kind. Max <= 0 is unbounded.
type ArrayOf struct {
	Kind Kind
	Max  int
}

// Nested builds a child mapping from the current reference on access.
type Nested struct {
	Factory MappingFactory
}

func (Scalar) subPathSpec()  {}
func (ArrayOf) subPathSpec() {}
func (Nested) subPathSpec()  {}

type MappingFactory func(ref backend.Ref) (*Mapping, error)

// SubPath names a declared child of a mapping. Names may span several
// segments, e.g. "prefs/theme", and are matched in encoded form.
type SubPath struct {
	Name string
	Spec SubPathSpec
}

// Binder turns a mapping, or one of its field sub-paths, into a handle.
type Binder interface {
	BindSelf(ctx context.Context, m *Mapping) (entry.Handle, error)
	BindField(ctx context.Context, m *Mapping, sp SubPath) (entry.Handle, error)
}

// Mapping is a routing rule rooted at one backing-store reference. It holds
// no data; everything it binds reads through Ref.
type Mapping struct {
	Name     string
	Ref      backend.Ref
	Binder   Binder
	SubPaths []SubPath

	// Children resolves a dynamic child by its decoded name when no declared
	// sub-path matches. A nil mapping means there is no such child.
	Children func(name string) (*Mapping, error)
}

// Resolve implements Resolver.
func (m *Mapping) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	return Resolve(ctx, m, path)
}

// SubPath looks up a declared sub-path by exact name.
func (m *Mapping) SubPath(name string) (SubPath, bool) {
	for _, sp := range m.SubPaths {
		if sp.Name == name {
			return sp, true
		}
	}
	return SubPath{}, false
}

// ParseSpec reads a field type tag: "string", "number", "boolean", "date",
// "map", or an array form "[kind]" / "[kind:max]".
func ParseSpec(tag string) (SubPathSpec, error) {
	tag = strings.TrimSpace(tag)
	if strings.HasPrefix(tag, "[") && strings.HasSuffix(tag, "]") {
		inner := tag[1 : len(tag)-1]
		max := 0
		if name, bound, ok := strings.Cut(inner, ":"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(bound))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: array bound '%s' in '%s'", data.ErrInvalid, bound, tag)
			}
			inner, max = name, n
		}

		kind, err := parseKind(inner)
		if err != nil {
			return nil, err
		}
		if kind == KindStringMap {
			return nil, fmt.Errorf("%w: arrays of maps are not supported", data.ErrInvalid)
		}
		return ArrayOf{Kind: kind, Max: max}, nil
	}

	kind, err := parseKind(tag)
	if err != nil {
		return nil, err
	}
	return Scalar{Kind: kind}, nil
}

func parseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "date", "timestamp":
		return KindDate, nil
	case "map", "string-map":
		return KindStringMap, nil
	default:
		return 0, fmt.Errorf("%w: unknown field type '%s'", data.ErrInvalid, name)
	}
}
