package structured

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/projection"
)

// PartitionDayLayout names daily partitions.
const PartitionDayLayout = "2006-01-02"

const (
	fieldHorizon = "horizon"
	fieldLatest  = "latest"

	partitionsCollection = "partitions"
	entriesCollection    = "entries"
)

type Partitioning int

const (
	// PartitionDaily keeps one partition per UTC calendar day.
	PartitionDaily Partitioning = iota
	// PartitionCounter numbers partitions from 1 and starts a new one every
	// PartitionSize entries.
	PartitionCounter
)

func ParsePartitioning(name string) (Partitioning, error) {
	switch name {
	case "", "daily", "date":
		return PartitionDaily, nil
	case "counter":
		return PartitionCounter, nil
	}
	return 0, fmt.Errorf("%w: unknown partitioning '%s'", data.ErrInvalid, name)
}

type LogOptions struct {
	Partitioning Partitioning
	// PartitionSize bounds counter partitions; 0 never rotates.
	PartitionSize int
	// Schema declares the fields of every log entry.
	Schema Schema
	// Clock picks the daily partition of appended entries.
	Clock func() time.Time
}

// Log is a two-level append-only structure. The root document holds the
// horizon and latest partition ids; each partition document holds the
// horizon and latest sequence numbers of its entries.
//
//	<root>                              {horizon, latest}
//	<root>/partitions/<id>              {horizon, latest}
//	<root>/partitions/<id>/entries/<n>  entry fields
type Log struct {
	ref     backend.Ref
	options LogOptions
	opts    *Options

	// appendMu serializes appends made through this handle's mapping.
	appendMu *sync.Mutex
}

// LogMapping routes a log rooted at the document ref.
func LogMapping(ref backend.Ref, options LogOptions, opts *Options) *mount.Mapping {
	if options.Clock == nil {
		options.Clock = time.Now
	}
	l := &Log{ref: ref, options: options, opts: opts, appendMu: &sync.Mutex{}}
	return l.mapping()
}

// SubLog declares a log rooted at the child id of the current reference.
func SubLog(id string, options LogOptions, opts *Options) mount.Nested {
	var mu sync.Mutex
	return mount.Nested{Factory: func(ref backend.Ref) (*mount.Mapping, error) {
		if options.Clock == nil {
			options.Clock = time.Now
		}
		l := &Log{ref: ref.Child(id), options: options, opts: opts, appendMu: &mu}
		return l.mapping(), nil
	}}
}

func (l *Log) mapping() *mount.Mapping {
	kind := mount.KindString
	if l.options.Partitioning == PartitionCounter {
		kind = mount.KindNumber
	}

	return &mount.Mapping{
		Name:   l.ref.ID(),
		Ref:    l.ref,
		Binder: logBinder{log: l},
		SubPaths: []mount.SubPath{
			{Name: fieldHorizon, Spec: mount.Scalar{Kind: kind}},
			{Name: fieldLatest, Spec: mount.Scalar{Kind: kind}},
		},
		Children: func(id string) (*mount.Mapping, error) {
			if !l.validPartition(id) {
				return nil, nil
			}
			return l.partition(id).mapping(), nil
		},
	}
}

type logBinder struct {
	log *Log
}

func (b logBinder) BindSelf(ctx context.Context, m *mount.Mapping) (entry.Handle, error) {
	return b.log, nil
}

func (b logBinder) BindField(ctx context.Context, m *mount.Mapping, sp mount.SubPath) (entry.Handle, error) {
	return &readOnlyField{Field: &Field{ref: m.Ref, key: sp.Name, spec: sp.Spec, opts: b.log.opts}}, nil
}

// readOnlyField exposes log bounds, which only appends may move.
type readOnlyField struct {
	*Field
}

func (f *readOnlyField) Put(ctx context.Context, value *data.Entry) error {
	return dataerrors.ReadOnly(f.key)
}

func (l *Log) Name() string {
	return l.ref.ID()
}

// Get lists the bounds and the partitions between them, as stubs.
func (l *Log) Get(ctx context.Context) (*data.Entry, error) {
	snap, err := l.opts.read(ctx, l.ref)
	if err != nil {
		return nil, err
	}
	return l.rootTree(snap)
}

// Enumerate lists the bounds and partition existence only; it never
// descends into partitions whatever the budget.
func (l *Log) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	tree, err := l.Get(ctx)
	if err != nil || tree == nil {
		return err
	}

	e.Visit(tree)
	if !e.CanDescend() {
		return nil
	}
	for _, child := range tree.Children {
		e.Descend(child.Name)
		e.Visit(child)
		e.Ascend()
	}
	return nil
}

func (l *Log) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	depth = min(depth, 1)
	return watch(ctx, ch, l.opts.logger(), func(sub *entry.Subscription) (backend.Unwatch, error) {
		return l.ref.Store.WatchDocument(sub.Context(), l.ref.Path, func(snap *backend.Snapshot) {
			sub.Guard(func() {
				tree, err := l.rootTree(snap)
				if err != nil {
					sub.Crash(err)
					return
				}
				entry.Project(sub.State(), tree, depth)
			})
		}, sub.Crash)
	})
}

// Invoke appends input and returns the new entry's path within the log.
func (l *Log) Invoke(ctx context.Context, input *data.Entry) (*data.Entry, error) {
	path, err := l.Append(ctx, input)
	if err != nil {
		return nil, err
	}
	return data.NewString("path", path), nil
}

// Partitions returns the partition ids from horizon to latest.
func (l *Log) Partitions(ctx context.Context) ([]string, error) {
	snap, err := l.opts.read(ctx, l.ref)
	if err != nil {
		return nil, err
	}
	return l.partitionIDs(snap), nil
}

// Append writes value as the next entry of the current partition, creating
// the partition and advancing the root bounds as needed. It returns the
// entry path "<partition>/<sequence>".
func (l *Log) Append(ctx context.Context, value *data.Entry) (string, error) {
	if value == nil {
		return "", dataerrors.Validation(l.Name(), "cannot append an empty entry")
	}
	fields, err := encodeDocument(l.options.Schema, value)
	if err != nil {
		return "", err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	root, err := l.ref.Store.Get(ctx, l.ref.Path)
	if err != nil {
		return "", err
	}

	id, fresh, err := l.currentPartition(ctx, root)
	if err != nil {
		return "", err
	}
	p := l.partition(id)

	if fresh {
		if err := p.ref.Store.Set(ctx, p.ref.Path, map[string]any{fieldHorizon: 1, fieldLatest: 0}, backend.SetReplace); err != nil {
			return "", err
		}
		bounds := map[string]any{fieldLatest: l.storedID(id)}
		if !root.Exists {
			bounds[fieldHorizon] = l.storedID(id)
		}
		if err := l.ref.Store.Set(ctx, l.ref.Path, bounds, backend.SetMerge); err != nil {
			return "", err
		}
	}

	psnap, err := p.ref.Store.Get(ctx, p.ref.Path)
	if err != nil {
		return "", err
	}
	latest, _ := intField(psnap, fieldLatest)
	seq := strconv.Itoa(latest + 1)

	if err := l.opts.write(ctx, p.entryRef(seq), fields, backend.SetReplace); err != nil {
		return "", err
	}
	if err := p.ref.Store.Set(ctx, p.ref.Path, map[string]any{fieldLatest: latest + 1}, backend.SetMerge); err != nil {
		return "", err
	}

	return data.Join(data.EncodeSegment(id), seq), nil
}

// currentPartition picks the partition for the next append and reports
// whether it still has to be created.
func (l *Log) currentPartition(ctx context.Context, root *backend.Snapshot) (string, bool, error) {
	ids := l.partitionIDs(root)
	var latest string
	if len(ids) > 0 {
		latest = ids[len(ids)-1]
	}

	if l.options.Partitioning == PartitionDaily {
		today := l.options.Clock().UTC().Format(PartitionDayLayout)
		if latest != "" && today <= latest {
			return latest, false, nil
		}
		return today, true, nil
	}

	if latest == "" {
		return "1", true, nil
	}
	if l.options.PartitionSize <= 0 {
		return latest, false, nil
	}

	psnap, err := l.ref.Store.Get(ctx, l.partition(latest).ref.Path)
	if err != nil {
		return "", false, err
	}
	horizon, _ := intField(psnap, fieldHorizon)
	count, _ := intField(psnap, fieldLatest)
	if count-horizon+1 < l.options.PartitionSize {
		return latest, false, nil
	}
	n, _ := strconv.Atoi(latest)
	return strconv.Itoa(n + 1), true, nil
}

func (l *Log) rootTree(snap *backend.Snapshot) (*data.Entry, error) {
	if snap == nil || !snap.Exists {
		return nil, nil
	}

	root := data.NewFolder(l.Name())
	for _, field := range []string{fieldHorizon, fieldLatest} {
		if id, ok := l.boundID(snap, field); ok {
			root.Children = append(root.Children, data.NewString(field, id))
		}
	}
	for _, id := range l.partitionIDs(snap) {
		root.Children = append(root.Children, data.NewFolderStub(id))
	}
	return root, nil
}

func (l *Log) partitionIDs(snap *backend.Snapshot) []string {
	horizon, ok := l.boundID(snap, fieldHorizon)
	if !ok {
		return nil
	}
	latest, ok := l.boundID(snap, fieldLatest)
	if !ok {
		return nil
	}

	var ids []string
	if l.options.Partitioning == PartitionDaily {
		from, err1 := time.Parse(PartitionDayLayout, horizon)
		to, err2 := time.Parse(PartitionDayLayout, latest)
		if err1 != nil || err2 != nil {
			return nil
		}
		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			ids = append(ids, day.Format(PartitionDayLayout))
		}
		return ids
	}

	from, _ := strconv.Atoi(horizon)
	to, _ := strconv.Atoi(latest)
	for n := max(from, 1); n <= to; n++ {
		ids = append(ids, strconv.Itoa(n))
	}
	return ids
}

// boundID reads a root bound as a partition id string.
func (l *Log) boundID(snap *backend.Snapshot, field string) (string, bool) {
	if l.options.Partitioning == PartitionDaily {
		v, ok := snap.Field(field)
		s, isString := v.(string)
		return s, ok && isString && s != ""
	}
	n, ok := intField(snap, field)
	return strconv.Itoa(n), ok
}

func (l *Log) storedID(id string) any {
	if l.options.Partitioning == PartitionDaily {
		return id
	}
	n, _ := strconv.Atoi(id)
	return n
}

func (l *Log) validPartition(id string) bool {
	if l.options.Partitioning == PartitionDaily {
		_, err := time.Parse(PartitionDayLayout, id)
		return err == nil
	}
	n, err := strconv.Atoi(id)
	return err == nil && n >= 1 && strconv.Itoa(n) == id
}

func (l *Log) partition(id string) *Partition {
	return &Partition{
		id:  id,
		ref: l.ref.Child(partitionsCollection).Child(id),
		log: l,
	}
}

// Partition is one bounded segment of a log.
type Partition struct {
	id  string
	ref backend.Ref
	log *Log
}

func (p *Partition) mapping() *mount.Mapping {
	return &mount.Mapping{
		Name:   p.id,
		Ref:    p.ref,
		Binder: partitionBinder{p: p},
		SubPaths: []mount.SubPath{
			{Name: fieldHorizon, Spec: mount.Scalar{Kind: mount.KindNumber}},
			{Name: fieldLatest, Spec: mount.Scalar{Kind: mount.KindNumber}},
		},
		Children: func(seq string) (*mount.Mapping, error) {
			n, err := strconv.Atoi(seq)
			if err != nil || n < 1 || strconv.Itoa(n) != seq {
				return nil, nil
			}
			return DocumentMapping(p.entryRef(seq), p.log.options.Schema, p.log.opts), nil
		},
	}
}

type partitionBinder struct {
	p *Partition
}

func (b partitionBinder) BindSelf(ctx context.Context, m *mount.Mapping) (entry.Handle, error) {
	return b.p, nil
}

func (b partitionBinder) BindField(ctx context.Context, m *mount.Mapping, sp mount.SubPath) (entry.Handle, error) {
	return &readOnlyField{Field: &Field{ref: m.Ref, key: sp.Name, spec: sp.Spec, opts: b.p.log.opts}}, nil
}

func (p *Partition) Name() string {
	return p.id
}

func (p *Partition) entryRef(seq string) backend.Ref {
	return p.ref.Child(entriesCollection).Child(seq)
}

// Get lists the bounds and the entries between them, as stubs.
func (p *Partition) Get(ctx context.Context) (*data.Entry, error) {
	snap, err := p.log.opts.read(ctx, p.ref)
	if err != nil {
		return nil, err
	}
	return p.tree(ctx, snap, false)
}

func (p *Partition) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	snap, err := p.log.opts.read(ctx, p.ref)
	if err != nil {
		return err
	}
	tree, err := p.tree(ctx, snap, false)
	if err != nil || tree == nil {
		return err
	}

	e.Visit(tree)
	if !e.CanDescend() {
		return nil
	}
	for _, child := range tree.Children {
		e.Descend(child.Name)
		if child.Type == data.TypeFolder {
			doc := &Document{m: DocumentMapping(p.entryRef(child.Name), p.log.options.Schema, p.log.opts), opts: p.log.opts}
			err = doc.Enumerate(ctx, e)
		} else {
			e.Visit(child)
		}
		e.Ascend()
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe follows the partition document. Entries are loaded through the
// document cache when the depth reaches their fields.
func (p *Partition) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return watch(ctx, ch, p.log.opts.logger(), func(sub *entry.Subscription) (backend.Unwatch, error) {
		return p.ref.Store.WatchDocument(sub.Context(), p.ref.Path, func(snap *backend.Snapshot) {
			sub.Guard(func() {
				tree, err := p.tree(sub.Context(), snap, depth >= 2)
				if err != nil {
					sub.Crash(err)
					return
				}
				entry.Project(sub.State(), tree, depth)
			})
		}, sub.Crash)
	})
}

func (p *Partition) tree(ctx context.Context, snap *backend.Snapshot, withEntries bool) (*data.Entry, error) {
	if snap == nil || !snap.Exists {
		return nil, nil
	}

	root := data.NewFolder(p.id)
	horizon, hasHorizon := intField(snap, fieldHorizon)
	latest, hasLatest := intField(snap, fieldLatest)
	if hasHorizon {
		root.Children = append(root.Children, data.NewString(fieldHorizon, strconv.Itoa(horizon)))
	}
	if hasLatest {
		root.Children = append(root.Children, data.NewString(fieldLatest, strconv.Itoa(latest)))
	}
	if !hasHorizon || !hasLatest {
		return root, nil
	}

	for n := max(horizon, 1); n <= latest; n++ {
		seq := strconv.Itoa(n)
		if !withEntries {
			root.Children = append(root.Children, data.NewFolderStub(seq))
			continue
		}

		ref := p.entryRef(seq)
		esnap, err := p.log.opts.read(ctx, ref)
		if err != nil {
			return nil, err
		}
		child, err := documentTree(seq, p.log.options.Schema, ref, esnap, p.log.opts)
		if err != nil {
			return nil, err
		}
		if child != nil {
			root.Children = append(root.Children, child)
		}
	}
	return root, nil
}

func intField(snap *backend.Snapshot, field string) (int, bool) {
	v, ok := snap.Field(field)
	if !ok {
		return 0, false
	}
	n, ok := toFloat(v)
	return int(n), ok
}
