package core

import (
	"fmt"
	"time"
)

// Message is the unit of communication between nodes.
// A message type declares its place in the hierarchy through Kind.
type Message interface {
	Kind() *Kind
}

// DataMessage carries a handler's return value to its receivers.
type DataMessage struct {
	Data any
}

func (*DataMessage) Kind() *Kind { return KindData }

func (m *DataMessage) String() string {
	return fmt.Sprintf("<DataMessage %v>", m.Data)
}

// NodeInitializeMessage is sent to every node right after allocation.
type NodeInitializeMessage struct{}

func (*NodeInitializeMessage) Kind() *Kind { return KindNodeInitialize }

// NodeFinalizeMessage asks a node to shut itself down.
type NodeFinalizeMessage struct{}

func (*NodeFinalizeMessage) Kind() *Kind { return KindNodeFinalize }

// ReflectMessage asks the receiver to process Raw and reply to Target
// instead of its forward edges.
type ReflectMessage struct {
	Target Node
	Raw    Message
}

func (*ReflectMessage) Kind() *Kind { return KindReflect }

func (m *ReflectMessage) String() string {
	return fmt.Sprintf("<ReflectMessage %s to %s>", describe(m.Raw), describeNode(m.Target))
}

// PortGet reads the named port of the receiver.
type PortGet struct {
	Name string
}

func (*PortGet) Kind() *Kind { return KindPortGet }

// PortSet writes Value to the named port of the receiver.
type PortSet struct {
	Name  string
	Value any
}

func (*PortSet) Kind() *Kind { return KindPortSet }

// Stats is a snapshot of kernel counters.
type Stats struct {
	// Tasks executed by the loop
	TasksRun uint64

	// Tasks waiting in the queue
	TasksPending int

	// Tasks that ended with a cancellation signal
	TasksCancelled uint64

	// Messages dropped because the target had been released
	MessagesDropped uint64

	// Time the kernel was created
	CreatedAt time.Time
}

func describe(msg Message) string {
	if msg == nil {
		return "<nil>"
	}
	if s, ok := msg.(fmt.Stringer); ok {
		return s.String()
	}
	return "<" + msg.Kind().Name() + ">"
}
