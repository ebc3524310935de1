package core

import (
	"slices"
)

type phantomRecord struct {
	nid  int
	weak WeakRef
}

func (r *phantomRecord) NID() int { return r.nid }

func (r *phantomRecord) Node() (Node, error) {
	if !r.weak.Alive() {
		return nil, NewRuntimeError("node has been released")
	}
	return r.weak.node, nil
}

func (r *phantomRecord) Next() ([]int, error) {
	return nil, NewRuntimeError("no connection info for a phantom record")
}

func (r *phantomRecord) Link(int) error {
	return NewRuntimeError("no connection info for a phantom record")
}

func (r *phantomRecord) Unlink(int) {}

// PhantomRegistry is the non-owning record manager. It only observes its
// nodes and forgets them once their owners release them. Ids are never
// reused.
type PhantomRegistry struct {
	records map[int]*phantomRecord
	count   int
}

// NewPhantomRegistry creates an empty registry.
func NewPhantomRegistry() *PhantomRegistry {
	return &PhantomRegistry{records: make(map[int]*phantomRecord)}
}

// New records a weak observation of ref's node and releases ref.
func (p *PhantomRegistry) New(ref *NodeRef) int {
	nid := p.count
	p.count++
	p.records[nid] = &phantomRecord{nid: nid, weak: ref.Weak()}
	ref.Node().Base().nid = nid
	ref.Release()
	return nid
}

// Get resolves nid, pruning the entry if its node is gone.
func (p *PhantomRegistry) Get(nid int) (Record, error) {
	rec, ok := p.records[nid]
	if ok && rec.weak.Alive() {
		return rec, nil
	}
	if ok {
		delete(p.records, nid)
	}
	return nil, NewRuntimeError("there is no node with id %d", nid)
}

// Drop resolves nid and removes it. The returned reference keeps the node
// alive only as long as the caller holds it.
func (p *PhantomRegistry) Drop(nid int) (*NodeRef, error) {
	rec, err := p.Get(nid)
	if err != nil {
		return nil, err
	}
	delete(p.records, nid)
	ref, ok := rec.(*phantomRecord).weak.Upgrade()
	if !ok {
		return nil, NewRuntimeError("there is no node with id %d", nid)
	}
	return ref, nil
}

// Records returns the live records in ascending id order, forgetting dead ones.
func (p *PhantomRegistry) Records() []Record {
	ids := make([]int, 0, len(p.records))
	for nid, rec := range p.records {
		if !rec.weak.Alive() {
			delete(p.records, nid)
			continue
		}
		ids = append(ids, nid)
	}
	slices.Sort(ids)
	out := make([]Record, len(ids))
	for i, nid := range ids {
		out[i] = p.records[nid]
	}
	return out
}

// Len returns the number of live records.
func (p *PhantomRegistry) Len() int { return len(p.Records()) }

// Prune forgets every record whose node has been released.
func (p *PhantomRegistry) Prune() int {
	pruned := 0
	for nid, rec := range p.records {
		if !rec.weak.Alive() {
			delete(p.records, nid)
			pruned++
		}
	}
	return pruned
}
