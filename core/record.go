package core

import (
	"slices"
)

// Record is one entry of a record manager.
type Record interface {
	// NID returns the id the record is stored under.
	NID() int

	// Node returns the stored node.
	Node() (Node, error)

	// Next returns the ids this record forwards to, ascending.
	Next() ([]int, error)

	// Link adds a forward edge to id.
	Link(id int) error

	// Unlink removes the forward edge to id, if present.
	Unlink(id int)
}

// RecordManager assigns ids to the children of one network.
type RecordManager interface {
	// New stores ref and returns the id assigned to its node. The manager
	// takes ownership of ref.
	New(ref *NodeRef) int

	// Get returns the live record for nid or a *RuntimeError.
	Get(nid int) (Record, error)

	// Drop removes the record for nid and returns a strong reference to its
	// node that the caller now owns.
	Drop(nid int) (*NodeRef, error)

	// Records returns the live records in ascending id order.
	Records() []Record

	// Len returns the number of live records.
	Len() int
}

type arenaRecord struct {
	nid  int
	ref  *NodeRef
	next map[int]struct{}
}

func (r *arenaRecord) NID() int { return r.nid }

func (r *arenaRecord) Node() (Node, error) { return r.ref.Node(), nil }

func (r *arenaRecord) Next() ([]int, error) {
	ids := make([]int, 0, len(r.next))
	for id := range r.next {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *arenaRecord) Link(id int) error {
	r.next[id] = struct{}{}
	return nil
}

func (r *arenaRecord) Unlink(id int) { delete(r.next, id) }

// RecordArena is the owning record manager. Ids are dense: freed ids are
// reused smallest first, and freeing the tail shrinks the backing slice.
type RecordArena struct {
	records []*arenaRecord

	// free ids below len(records), ascending
	free []int
}

// NewRecordArena creates an empty arena.
func NewRecordArena() *RecordArena {
	return &RecordArena{}
}

// New stores ref in the smallest free slot, or appends.
func (a *RecordArena) New(ref *NodeRef) int {
	var nid int
	if len(a.free) > 0 {
		nid = a.free[0]
		a.free = a.free[1:]
	} else {
		nid = len(a.records)
		a.records = append(a.records, nil)
	}
	a.records[nid] = &arenaRecord{nid: nid, ref: ref, next: make(map[int]struct{})}
	ref.Node().Base().nid = nid
	return nid
}

func (a *RecordArena) isFree(nid int) bool {
	_, found := slices.BinarySearch(a.free, nid)
	return found
}

// Get returns the record for nid.
func (a *RecordArena) Get(nid int) (Record, error) {
	rec, err := a.get(nid)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *RecordArena) get(nid int) (*arenaRecord, error) {
	if nid < 0 || nid >= len(a.records) || a.isFree(nid) {
		return nil, NewRuntimeError("there is no node with id %d", nid)
	}
	return a.records[nid], nil
}

// Drop frees nid. Dropping the last slot truncates the slice together with
// any free slots that become the new tail.
func (a *RecordArena) Drop(nid int) (*NodeRef, error) {
	rec, err := a.get(nid)
	if err != nil {
		return nil, err
	}
	if nid == len(a.records)-1 {
		a.records[nid] = nil
		a.records = a.records[:nid]
		for n := len(a.records) - 1; n >= 0 && len(a.free) > 0 && a.free[len(a.free)-1] == n; n-- {
			a.free = a.free[:len(a.free)-1]
			a.records[n] = nil
			a.records = a.records[:n]
		}
	} else {
		i, _ := slices.BinarySearch(a.free, nid)
		a.free = slices.Insert(a.free, i, nid)
		a.records[nid] = nil
	}
	return rec.ref, nil
}

// Records returns the live records in ascending id order.
func (a *RecordArena) Records() []Record {
	out := make([]Record, 0, a.Len())
	for _, rec := range a.records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of live records.
func (a *RecordArena) Len() int { return len(a.records) - len(a.free) }

// Cap returns the length of the backing slice, holes included.
func (a *RecordArena) Cap() int { return len(a.records) }
