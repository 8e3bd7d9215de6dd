package skylink

import (
	"context"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/projection"
)

// virtualFolder stands in for a path above mount points that no mount
// covers. Its children are the next segments towards those mount points.
type virtualFolder struct {
	ns   *Namespace
	path string
}

func (v *virtualFolder) Name() string {
	if v.path == "" {
		return ""
	}
	_, segment := data.Parent(v.path)
	name, err := data.DecodeSegment(segment)
	if err != nil {
		return segment
	}
	return name
}

func (v *virtualFolder) Get(ctx context.Context) (*data.Entry, error) {
	folder := data.NewFolder(v.Name())
	for _, segment := range v.ns.childMountSegments(v.path) {
		name, err := data.DecodeSegment(segment)
		if err != nil {
			continue
		}
		folder.Children = append(folder.Children, data.NewFolderStub(name))
	}
	return folder, nil
}

// Enumerate continues into the mounts below, each with the remaining depth.
func (v *virtualFolder) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	e.Visit(data.NewFolderStub(v.Name()))
	if !e.CanDescend() {
		return nil
	}

	for _, segment := range v.ns.childMountSegments(v.path) {
		name, err := data.DecodeSegment(segment)
		if err != nil {
			continue
		}

		child, _, err := v.ns.Resolve(ctx, data.Child(v.path, segment))
		if err != nil {
			return err
		}

		e.Descend(name)
		switch h := child.(type) {
		case nil:
		case entry.Enumerable:
			err = h.Enumerate(ctx, e)
		case entry.Getter:
			var got *data.Entry
			if got, err = h.Get(ctx); err == nil && got != nil {
				e.Visit(got)
			}
		default:
			e.Visit(data.NewDevice(name))
		}
		e.Ascend()

		if err != nil {
			return err
		}
	}
	return nil
}

func (v *virtualFolder) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return entry.PollSubscribe(ctx, v, depth, ch, entry.DefaultPollInterval, v.ns.log)
}
