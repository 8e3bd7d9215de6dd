// Package enumerate provides the depth-bounded tree walk that every
// enumerable handle drives. An Enumerator records visited entries keyed by
// their path relative to the walk's root.
package enumerate

import (
	"github.com/stardustapp/skychat-sub000/data"
)

type Enumerator struct {
	maxDepth int
	stack    []string
	results  []*data.Entry
}

// New creates an enumerator that descends at most maxDepth levels below the
// root. A depth of 0 visits the root only.
func New(maxDepth int) *Enumerator {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Enumerator{maxDepth: maxDepth}
}

// Visit records entry at the current position. Children are never copied;
// each descendant must be visited on its own.
func (e *Enumerator) Visit(entry *data.Entry) {
	if entry == nil {
		return
	}
	rec := entry.Shallow()
	rec.Name = e.Path()
	e.results = append(e.results, rec)
}

// CanDescend is false once the depth budget is spent.
func (e *Enumerator) CanDescend() bool {
	return len(e.stack) < e.maxDepth
}

// Descend pushes the display name of a child.
func (e *Enumerator) Descend(name string) {
	e.stack = append(e.stack, data.EncodeSegment(name))
}

// Ascend pops the last pushed segment.
func (e *Enumerator) Ascend() {
	if len(e.stack) == 0 {
		data.RaiseProtocolBug(e.Path(), "enumerator ascended above its root")
	}
	e.stack = e.stack[:len(e.stack)-1]
}

// Path is the encoded path of the current position.
func (e *Enumerator) Path() string {
	return data.Join(e.stack...)
}

func (e *Enumerator) Depth() int {
	return len(e.stack)
}

func (e *Enumerator) MaxDepth() int {
	return e.maxDepth
}

// Results returns visited entries in visit order. Each entry's Name is its
// encoded relative path; the root is "".
func (e *Enumerator) Results() []*data.Entry {
	return e.results
}

// Reconstruct rebuilds a materialized tree from the results. Folders that lay
// within the depth budget get an empty children list even when nothing was
// visited beneath them; those at the boundary stay stubs.
func (e *Enumerator) Reconstruct() *data.Entry {
	if len(e.results) == 0 || e.results[0].Name != "" {
		return nil
	}

	nodes := make(map[string]*data.Entry, len(e.results))
	var root *data.Entry

	for _, rec := range e.results {
		node := rec.Clone()
		if node.Type == data.TypeFolder && data.Depth(rec.Name) < e.maxDepth {
			node.Children = []*data.Entry{}
		}

		if rec.Name == "" {
			root = node
			nodes[""] = node
			continue
		}

		parentPath, segment := data.Parent(rec.Name)
		parent, ok := nodes[parentPath]
		if !ok || parent.Type != data.TypeFolder {
			continue
		}

		name, err := data.DecodeSegment(segment)
		if err != nil {
			name = segment
		}
		node.Name = name
		parent.Children = append(parent.Children, node)
		nodes[rec.Name] = node
	}

	return root
}

// Walk enumerates a materialized entry tree, honouring the depth budget.
// Literal and remote trees use it to answer enumerate calls.
func (e *Enumerator) Walk(entry *data.Entry) {
	e.Visit(entry)
	if entry.Type != data.TypeFolder || !e.CanDescend() {
		return
	}
	for _, child := range entry.Children {
		e.Descend(child.Name)
		e.Walk(child)
		e.Ascend()
	}
}
