package core

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Node is an addressable actor. Embed BaseNode (or Network) to implement it.
type Node interface {
	Base() *BaseNode
}

// BaseNode holds the state every node shares: identity within its owning
// network, exported ports and the handler table used for dispatch.
type BaseNode struct {
	self     Node
	net      *Network
	nid      int
	kernel   *Kernel
	id       uuid.UUID
	handlers *HandlerTable
	ports    map[string]Port
	current  Message
	life     lifetime
}

// NewNode is the factory for a plain node that only understands the builtin
// port and lifecycle messages.
func NewNode(*Network) Node {
	b := &BaseNode{}
	b.Setup(b, NodeHandlers)
	return b
}

// Setup binds the outer node value and its handler table. Node types call it
// from their factory; self must be the value that embeds b.
func (b *BaseNode) Setup(self Node, handlers *HandlerTable) {
	b.self = self
	b.handlers = handlers
	b.ensureID()
}

func (b *BaseNode) ensureID() {
	if b.id == uuid.Nil {
		b.id = uuid.Must(uuid.NewV7())
	}
}

// Base returns b.
func (b *BaseNode) Base() *BaseNode { return b }

// Self returns the outer node value registered with Setup.
func (b *BaseNode) Self() Node {
	if b.self == nil {
		return b
	}
	return b.self
}

// Net returns the owning network. The root network owns itself.
func (b *BaseNode) Net() *Network { return b.net }

// NID returns the id assigned by the owning network's record manager.
func (b *BaseNode) NID() int { return b.nid }

// ID returns the process-unique instance id.
func (b *BaseNode) ID() uuid.UUID { return b.id }

// Kernel returns the kernel the node is scheduled on.
func (b *BaseNode) Kernel() *Kernel { return b.kernel }

// Handlers returns the node's handler table.
func (b *BaseNode) Handlers() *HandlerTable {
	if b.handlers == nil {
		return NodeHandlers
	}
	return b.handlers
}

// Released reports whether the node's last owner let it go.
func (b *BaseNode) Released() bool { return b.life.released.Load() }

// Export publishes the exported struct field name as a port.
func (b *BaseNode) Export(name string, flags PortFlag) {
	b.ExportPort(NewAttrPort(b.Self(), name, flags))
}

// ExportPort publishes p under p.Name().
func (b *BaseNode) ExportPort(p Port) {
	if b.ports == nil {
		b.ports = make(map[string]Port)
	}
	b.ports[p.Name()] = p
}

// Port returns the named port.
func (b *BaseNode) Port(name string) (Port, bool) {
	p, ok := b.ports[name]
	return p, ok
}

// Ports returns the exported port names, sorted.
func (b *BaseNode) Ports() []string {
	names := make([]string, 0, len(b.ports))
	for name := range b.ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPort reads the named port.
func (b *BaseNode) GetPort(name string) (any, error) {
	p, ok := b.ports[name]
	if !ok {
		return nil, NewPortError(name, "node %s has no port %s", describeNode(b.Self()), name)
	}
	return p.Get()
}

// SetPort writes the named port.
func (b *BaseNode) SetPort(name string, value any) error {
	p, ok := b.ports[name]
	if !ok {
		return NewPortError(name, "node %s has no port %s", describeNode(b.Self()), name)
	}
	return p.Set(value)
}

// Send schedules delivery of msg to target.
func (b *BaseNode) Send(target Node, msg Message) {
	if b.kernel == nil {
		return
	}
	b.kernel.schedule(target, msg)
}

// SendEvent sends ev to the owning network.
func (b *BaseNode) SendEvent(ev Event) {
	if b.net != nil {
		b.Send(b.net.Self(), ev)
	}
}

// PassDown sends msg to every node linked from this one.
func (b *BaseNode) PassDown(msg Message) error {
	if b.net == nil {
		return NewRuntimeError("node %s is not attached to a network", describeNode(b.Self()))
	}
	next, err := b.net.NodeNext(b.nid)
	if err != nil {
		return err
	}
	for _, n := range next {
		b.Send(n, msg)
	}
	return nil
}

// Throw reports exc to the owning network and returns the cancellation
// signal the caller must return.
func (b *BaseNode) Throw(exc Exception) error {
	eb := exc.exceptionBase()
	if eb.source == nil {
		eb.source = b.Self()
	}
	if eb.srcMsg == nil {
		eb.srcMsg = b.current
	}
	if b.net != nil {
		b.Send(b.net.Self(), exc)
	}
	return &CancelledError{Exception: exc}
}

// dispatch runs the handlers for msg. It returns nil or a *CancelledError.
func (b *BaseNode) dispatch(msg Message) error {
	self := b.Self()
	raw := msg
	var target Node
	if r, ok := msg.(*ReflectMessage); ok {
		if r.Raw == nil {
			return b.Throw(NewUnsupportedMessageError("reflect message without payload", raw))
		}
		target, msg = r.Target, r.Raw
	}

	prev := b.current
	b.current = raw
	defer func() { b.current = prev }()

	table := b.Handlers()
	handled := false
	for _, k := range msg.Kind().Chain() {
		h, ok := table.Lookup(k)
		if !ok {
			continue
		}
		handled = true

		ret, err := invoke(h, self, msg)
		if err != nil {
			if IsCancelled(err) {
				return err
			}
			return b.Throw(asException(err))
		}

		if h.flags.Has(HandlerSendRet) {
			data := &DataMessage{Data: ret}
			if target != nil {
				if !h.flags.Has(HandlerReflective) {
					return b.Throw(NewUnsupportedMessageError(k.Name()+" is not reflective", raw))
				}
				b.Send(target, data)
			} else if err := b.PassDown(data); err != nil {
				if IsCancelled(err) {
					return err
				}
				return b.Throw(asException(err))
			}
		}

		if !h.flags.Has(HandlerPropagate) {
			break
		}
	}
	if !handled {
		return b.Throw(NewUnsupportedMessageError("unhandlable message", raw))
	}
	return nil
}

func invoke(h Handler, self Node, msg Message) (ret any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = NewKernelError(fmt.Errorf("handler for %s panicked: %w", h.kind.Name(), e))
				return
			}
			err = NewKernelError(fmt.Errorf("handler for %s panicked: %v", h.kind.Name(), r))
		}
	}()
	return h.fn(self, msg)
}

func nodePortGet(self Node, msg *PortGet) (any, error) {
	return self.Base().GetPort(msg.Name)
}

func nodePortSet(self Node, msg *PortSet) (any, error) {
	return nil, self.Base().SetPort(msg.Name, msg.Value)
}

func nodeInitialize(Node, *NodeInitializeMessage) (any, error) {
	return nil, nil
}

func nodeFinalize(self Node, _ *NodeFinalizeMessage) (any, error) {
	b := self.Base()
	if b.net == nil {
		return nil, nil
	}
	return nil, b.net.NodeDrop(b.nid)
}

func describeNode(n Node) string {
	if n == nil {
		return "<nil node>"
	}
	b := n.Base()
	if b == nil {
		return "<nil node>"
	}
	return fmt.Sprintf("<%T nid=%d id=%s>", n, b.nid, b.id)
}
