package core

import "fmt"

// EventMode selects what a network does with an event nobody subscribed to.
type EventMode uint8

const (
	// EventIgnore drops unhandled events
	EventIgnore EventMode = iota

	// EventThrowErr escalates unhandled events as UnsupportedMessageError
	EventThrowErr

	// EventPropagate resends unhandled events to the parent network
	EventPropagate

	// EventForcePropagate resends events to the parent network even when handled
	EventForcePropagate
)

// String returns the string representation of EventMode.
func (m EventMode) String() string {
	switch m {
	case EventIgnore:
		return "ignore"
	case EventThrowErr:
		return "throw_err"
	case EventPropagate:
		return "propagate"
	case EventForcePropagate:
		return "force_propagate"
	default:
		return "unknown"
	}
}

// Kind is the type tag of a message. Kinds form a single-inheritance tree
// rooted at KindMessage; handler and subscriber lookup walk Chain().
type Kind struct {
	name   string
	parent *Kind
	mode   EventMode
	event  bool
	chain  []*Kind
}

// NewKind declares a message kind derived from parent.
// Kinds derived from an event kind inherit its mode.
func NewKind(name string, parent *Kind) *Kind {
	if parent == nil {
		panic(fmt.Sprintf("kes: kind %q needs a parent", name))
	}
	return newKind(name, parent, parent.mode, parent.event)
}

// NewEventKind declares an event kind with its own unhandled-event mode.
func NewEventKind(name string, parent *Kind, mode EventMode) *Kind {
	if parent == nil || !parent.event {
		panic(fmt.Sprintf("kes: event kind %q must derive from an event kind", name))
	}
	return newKind(name, parent, mode, true)
}

func newKind(name string, parent *Kind, mode EventMode, event bool) *Kind {
	k := &Kind{name: name, parent: parent, mode: mode, event: event}
	k.chain = []*Kind{k}
	if parent != nil {
		k.chain = append(k.chain, parent.chain...)
	}
	return k
}

// Name returns the kind name.
func (k *Kind) Name() string { return k.name }

// Parent returns the direct parent kind, nil for KindMessage.
func (k *Kind) Parent() *Kind { return k.parent }

// Mode returns the unhandled-event policy. Non-event kinds report EventIgnore.
func (k *Kind) Mode() EventMode { return k.mode }

// IsEvent reports whether k is KindEvent or derives from it.
func (k *Kind) IsEvent() bool { return k.event }

// Chain returns k followed by its ancestors, most specific first.
// The returned slice must not be modified.
func (k *Kind) Chain() []*Kind { return k.chain }

// Is reports whether k is other or derives from it.
func (k *Kind) Is(other *Kind) bool {
	for _, c := range k.chain {
		if c == other {
			return true
		}
	}
	return false
}

func (k *Kind) String() string { return k.name }

// Builtin kinds.
var (
	KindMessage        = newKind("Message", nil, EventIgnore, false)
	KindData           = NewKind("DataMessage", KindMessage)
	KindNodeInitialize = NewKind("NodeInitializeMessage", KindMessage)
	KindNodeFinalize   = NewKind("NodeFinalizeMessage", KindMessage)
	KindReflect        = NewKind("ReflectMessage", KindMessage)
	KindPortAction     = NewKind("PortAction", KindMessage)
	KindPortGet        = NewKind("PortGet", KindPortAction)
	KindPortSet        = NewKind("PortSet", KindPortAction)

	KindEvent             = newKind("Event", KindMessage, EventIgnore, true)
	KindNetworkInitialize = NewKind("NetworkInitializeEvent", KindEvent)
	KindNetworkFinalize   = NewKind("NetworkFinalizeEvent", KindEvent)
	KindNodeNew           = NewKind("NodeNewEvent", KindEvent)
	KindNodeDrop          = NewKind("NodeDropEvent", KindEvent)
	KindNodeTransfer      = NewKind("NodeTransferEvent", KindEvent)

	KindException          = NewEventKind("Exception", KindEvent, EventPropagate)
	KindPortError          = NewKind("PortError", KindException)
	KindValueError         = NewKind("ValueError", KindException)
	KindUnsupportedMessage = NewKind("UnsupportedMessageError", KindException)
	KindRuntimeError       = NewKind("RuntimeError", KindException)
	KindKernelError        = NewKind("KernelError", KindException)
)
