package core

import (
	"sync/atomic"
)

// lifetime is the reference count shared by all handles of one node.
// A node with no handles yet is unowned; it becomes released once the last
// strong handle goes away and never comes back.
type lifetime struct {
	strong   atomic.Int32
	released atomic.Bool
}

// NodeRef is an owning handle to a node. Every NodeRef must be released
// exactly once; further calls to Release are no-ops.
type NodeRef struct {
	node Node
	done atomic.Bool
}

// Hold takes a strong reference to node. It fails on a released node.
func Hold(node Node) (*NodeRef, bool) {
	if node == nil {
		return nil, false
	}
	b := node.Base()
	if b.life.released.Load() {
		return nil, false
	}
	b.life.strong.Add(1)
	return &NodeRef{node: node}, true
}

// Node returns the referenced node.
func (r *NodeRef) Node() Node { return r.node }

// Weak returns a non-owning handle to the same node.
func (r *NodeRef) Weak() WeakRef { return WeakRef{node: r.node} }

// Release drops the reference. Dropping the last one releases the node:
// networks release their children in turn.
func (r *NodeRef) Release() {
	if r == nil || !r.done.CompareAndSwap(false, true) {
		return
	}
	b := r.node.Base()
	if b.life.strong.Add(-1) > 0 {
		return
	}
	if !b.life.released.CompareAndSwap(false, true) {
		return
	}
	if rel, ok := r.node.(interface{ releaseChildren() }); ok {
		rel.releaseChildren()
	}
}

// WeakRef observes a node without keeping it alive.
type WeakRef struct {
	node Node
}

// Alive reports whether the node still has an owner.
func (w WeakRef) Alive() bool {
	if w.node == nil {
		return false
	}
	b := w.node.Base()
	return !b.life.released.Load() && b.life.strong.Load() > 0
}

// Upgrade returns a new strong reference if the node is still owned.
func (w WeakRef) Upgrade() (*NodeRef, bool) {
	if w.node == nil {
		return nil, false
	}
	b := w.node.Base()
	for {
		n := b.life.strong.Load()
		if n <= 0 || b.life.released.Load() {
			return nil, false
		}
		if b.life.strong.CompareAndSwap(n, n+1) {
			return &NodeRef{node: w.node}, true
		}
	}
}
