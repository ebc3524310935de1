package core

import (
	"reflect"
	"slices"
)

// Event is a message that networks route to subscribers. Every network the
// event enters appends itself to the traceback. Event types are pointers to
// structs embedding EventBase, so a network can give every branch of a
// fan-out its own copy.
type Event interface {
	Message

	// Traceback returns the networks the event has passed through, oldest first.
	Traceback() []*Network

	// IsPrimary reports whether the event has not entered any network yet.
	IsPrimary() bool

	eventBase() *EventBase
}

// EventBase carries the traceback. Embed it to declare an event type.
type EventBase struct {
	traceback []*Network
}

// Traceback returns a copy of the traceback.
func (e *EventBase) Traceback() []*Network {
	out := make([]*Network, len(e.traceback))
	copy(out, e.traceback)
	return out
}

// IsPrimary reports whether the traceback is empty.
func (e *EventBase) IsPrimary() bool { return len(e.traceback) == 0 }

func (e *EventBase) eventBase() *EventBase { return e }

func (e *EventBase) addTraceback(net *Network) {
	e.traceback = append(e.traceback, net)
}

// forkEvent returns a shallow copy of ev whose traceback no longer shares
// spare capacity with ev. Events that are not pointers to structs are
// returned as is.
func forkEvent(ev Event) Event {
	v := reflect.ValueOf(ev)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ev
	}
	c := reflect.New(v.Elem().Type())
	c.Elem().Set(v.Elem())
	out, ok := c.Interface().(Event)
	if !ok || out.eventBase() == ev.eventBase() {
		return ev
	}
	b := out.eventBase()
	b.traceback = slices.Clip(b.traceback)
	return out
}

func (e *EventBase) visited(net *Network) bool {
	for _, n := range e.traceback {
		if n == net {
			return true
		}
	}
	return false
}

// NetworkInitializeEvent fans NodeInitializeMessage out to a network's children.
type NetworkInitializeEvent struct {
	EventBase
}

func (*NetworkInitializeEvent) Kind() *Kind { return KindNetworkInitialize }

// NetworkFinalizeEvent starts a network's shutdown.
type NetworkFinalizeEvent struct {
	EventBase
}

func (*NetworkFinalizeEvent) Kind() *Kind { return KindNetworkFinalize }

// NodeFactory builds a node for the given owning network. The network
// assigns identity after the factory returns.
type NodeFactory func(net *Network) Node

// NodeNewEvent asks a network to allocate a node.
type NodeNewEvent struct {
	EventBase
	Factory NodeFactory
}

func (*NodeNewEvent) Kind() *Kind { return KindNodeNew }

// NodeDropEvent asks a network to release the node with the given id.
type NodeDropEvent struct {
	EventBase
	NID int
}

func (*NodeDropEvent) Kind() *Kind { return KindNodeDrop }

// NodeTransferEvent hands a node over to the receiving network. The event
// owns Ref until the receiver takes it.
type NodeTransferEvent struct {
	EventBase
	Ref *NodeRef
}

func (*NodeTransferEvent) Kind() *Kind { return KindNodeTransfer }
