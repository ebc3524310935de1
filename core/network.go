package core

import (
	"github.com/rs/zerolog"
)

// NetworkNode is implemented by Network and every type embedding it.
type NetworkNode interface {
	Node
	AsNetwork() *Network
}

// Network is a node that owns child nodes and routes events between them.
// All of its state is touched only from tasks on the kernel loop.
type Network struct {
	BaseNode

	records  RecordManager
	eventMap map[*Kind][]Node
	stopping bool
	dropped  bool

	// ids below reserved are excluded from finalization and emptiness
	reserved int

	// phantom overrides the kernel's phantom network for drops
	phantom *Network
}

// NewNetwork is the factory for a plain network with an owning arena.
func NewNetwork(*Network) Node {
	n := &Network{}
	n.SetupNetwork(n, NetworkHandlers, NewRecordArena())
	return n
}

// SetupNetwork binds the outer node value, handler table and record manager.
// Types embedding Network call it from their factory.
func (n *Network) SetupNetwork(self NetworkNode, handlers *HandlerTable, records RecordManager) {
	n.Setup(self, handlers)
	n.records = records
	n.eventMap = make(map[*Kind][]Node)
}

// AsNetwork returns n.
func (n *Network) AsNetwork() *Network { return n }

// Records returns the record manager.
func (n *Network) Records() RecordManager { return n.records }

// Stopping reports whether finalization has started.
func (n *Network) Stopping() bool { return n.stopping }

// UsePhantom makes dropped children move to p instead of the kernel's
// phantom network. A nil p restores the default.
func (n *Network) UsePhantom(p *Network) { n.phantom = p }

// NodeNew asks the network to allocate a node built by factory.
func (n *Network) NodeNew(factory NodeFactory) error {
	if n.stopping {
		return NewRuntimeError("network %s is stopping", describeNode(n.Self()))
	}
	n.Send(n.Self(), &NodeNewEvent{Factory: factory})
	return nil
}

// NodeDrop asks the network to release child nid.
func (n *Network) NodeDrop(nid int) error {
	n.Send(n.Self(), &NodeDropEvent{NID: nid})
	return nil
}

// Alloc builds a node with factory, stores it and sends it a
// NodeInitializeMessage.
func (n *Network) Alloc(factory NodeFactory) (Node, error) {
	if n.stopping {
		return nil, NewRuntimeError("network %s is stopping", describeNode(n.Self()))
	}
	if _, weak := n.records.(*PhantomRegistry); weak {
		return nil, NewUnsupportedMessageError("cannot alloc a node in phantom network", nil)
	}
	if factory == nil {
		return nil, NewValueError("nil node factory")
	}
	node := factory(n)
	if node == nil || node.Base() == nil {
		return nil, NewValueError("node factory returned nil")
	}
	ref, ok := Hold(node)
	if !ok {
		return nil, NewRuntimeError("cannot allocate released node %s", describeNode(node))
	}
	n.adopt(ref)
	n.Send(node, &NodeInitializeMessage{})
	return node, nil
}

// adopt stores ref in the record manager and rebinds the node to n.
func (n *Network) adopt(ref *NodeRef) int {
	b := ref.Node().Base()
	b.ensureID()
	b.net = n
	b.kernel = n.kernel
	return n.records.New(ref)
}

// Dealloc releases child nid: edges towards it are removed, then the node is
// either moved to the phantom network or released for good.
func (n *Network) Dealloc(nid int) error {
	ref, err := n.detach(nid)
	if err != nil {
		return err
	}

	if p := n.phantomTarget(); p != nil {
		n.Send(p.Self(), &NodeTransferEvent{Ref: ref})
	} else {
		node := ref.Node()
		weak := ref.Weak()
		ref.Release()
		if weak.Alive() {
			n.maybeDropSelf()
			return NewRuntimeError("node %s is still referenced after release", describeNode(node))
		}
	}

	n.maybeDropSelf()
	return nil
}

// Transfer moves child nid into dst. dst receives a NodeTransferEvent.
func (n *Network) Transfer(nid int, dst NetworkNode) error {
	if dst == nil {
		return NewValueError("nil transfer target")
	}
	ref, err := n.detach(nid)
	if err != nil {
		return err
	}
	n.Send(dst, &NodeTransferEvent{Ref: ref})
	n.maybeDropSelf()
	return nil
}

func (n *Network) detach(nid int) (*NodeRef, error) {
	if _, err := n.records.Get(nid); err != nil {
		return nil, err
	}
	for _, rec := range n.records.Records() {
		rec.Unlink(nid)
	}
	return n.records.Drop(nid)
}

func (n *Network) phantomTarget() *Network {
	if n.phantom != nil {
		if n.phantom == n {
			return nil
		}
		return n.phantom
	}
	if n.kernel == nil || !n.kernel.opts.phantom {
		return nil
	}
	root := n.kernel.Root()
	if root == nil {
		return nil
	}
	p := root.PhantomNet()
	if p == nil || p == n {
		return nil
	}
	return p
}

// Connect adds a forward edge from src to dst.
func (n *Network) Connect(src, dst int) error {
	rec, err := n.records.Get(src)
	if err != nil {
		return err
	}
	if _, err := n.records.Get(dst); err != nil {
		return err
	}
	return rec.Link(dst)
}

// Disconnect removes the forward edge from src to dst.
func (n *Network) Disconnect(src, dst int) error {
	rec, err := n.records.Get(src)
	if err != nil {
		return err
	}
	rec.Unlink(dst)
	return nil
}

// NodeNext returns the nodes child nid forwards to.
func (n *Network) NodeNext(nid int) ([]Node, error) {
	rec, err := n.records.Get(nid)
	if err != nil {
		return nil, err
	}
	ids, err := rec.Next()
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		next, err := n.records.Get(id)
		if err != nil {
			return nil, err
		}
		node, err := next.Node()
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// ExportRecord publishes slot nid as a read-only port.
func (n *Network) ExportRecord(name string, nid int, flags PortFlag) {
	n.ExportPort(NewRecordPort(n, name, nid, flags))
}

// Subscribe registers node for events of exactly kind. Delivery follows
// registration order.
func (n *Network) Subscribe(kind *Kind, node Node) error {
	if kind == nil || !kind.IsEvent() {
		return NewValueError("%v is not an event kind", kind)
	}
	if node == nil {
		return NewValueError("nil subscriber")
	}
	for _, s := range n.eventMap[kind] {
		if s == node {
			return NewRuntimeError("%s already subscribed to %s", describeNode(node), kind.Name())
		}
	}
	n.eventMap[kind] = append(n.eventMap[kind], node)
	return nil
}

// Unsubscribe removes node from the subscribers of kind.
func (n *Network) Unsubscribe(kind *Kind, node Node) error {
	subs := n.eventMap[kind]
	for i, s := range subs {
		if s == node {
			subs = append(subs[:i:i], subs[i+1:]...)
			if len(subs) == 0 {
				delete(n.eventMap, kind)
			} else {
				n.eventMap[kind] = subs
			}
			return nil
		}
	}
	return NewRuntimeError("%s is not subscribed to %v", describeNode(node), kind)
}

// Subscribers returns the subscribers of exactly kind.
func (n *Network) Subscribers(kind *Kind) []Node {
	subs := n.eventMap[kind]
	out := make([]Node, len(subs))
	copy(out, subs)
	return out
}

// children returns the live non-reserved child nodes.
func (n *Network) children() []Node {
	var out []Node
	for _, rec := range n.records.Records() {
		if rec.NID() < n.reserved {
			continue
		}
		node, err := rec.Node()
		if err != nil || node.Base() == &n.BaseNode {
			continue
		}
		out = append(out, node)
	}
	return out
}

func (n *Network) maybeDropSelf() {
	if !n.stopping || n.dropped || len(n.children()) > 0 {
		return
	}
	n.dropped = true
	if n.net != nil {
		n.net.NodeDrop(n.nid)
	}
}

// routeEvent appends n to the traceback and delivers ev according to the
// subscriber map and the event mode.
func (n *Network) routeEvent(ev Event) error {
	ev.eventBase().addTraceback(n)
	targets := n.subscribersOf(ev)

	switch mode := ev.Kind().Mode(); {
	case mode == EventForcePropagate, len(targets) == 0 && mode == EventPropagate:
		if parent := n.propagationTarget(ev); parent != nil {
			targets = append(targets, parent.Self())
		}
	case len(targets) == 0 && mode == EventThrowErr:
		return n.Throw(NewUnsupportedMessageError("unhandled event", ev))
	}
	n.fanOut(ev, targets)
	return nil
}

// deliver sends ev to its subscribers and reports whether there were any.
func (n *Network) deliver(ev Event) bool {
	targets := n.subscribersOf(ev)
	n.fanOut(ev, targets)
	return len(targets) > 0
}

// subscribersOf collects the subscribers of every event kind in the chain
// of ev, most specific kind first.
func (n *Network) subscribersOf(ev Event) []Node {
	var out []Node
	for _, k := range ev.Kind().Chain() {
		if !k.IsEvent() {
			break
		}
		out = append(out, n.eventMap[k]...)
	}
	return out
}

// fanOut sends ev to every target. All but the last receive a fork, so the
// traceback of one branch never shows up in another.
func (n *Network) fanOut(ev Event, targets []Node) {
	for i, t := range targets {
		if i < len(targets)-1 {
			n.Send(t, forkEvent(ev))
			continue
		}
		n.Send(t, ev)
	}
}

func (n *Network) propagationTarget(ev Event) *Network {
	parent := n.net
	if parent == nil || parent == n {
		return nil
	}
	if n.kernel != nil && n.kernel.opts.detectCycles && ev.eventBase().visited(parent) {
		n.logger().Debug().
			Str("event", ev.Kind().Name()).
			Int("nid", n.nid).
			Msg("event already passed through parent network, not propagating")
		return nil
	}
	return parent
}

func (n *Network) logger() *zerolog.Logger {
	if n.kernel == nil {
		l := zerolog.Nop()
		return &l
	}
	return &n.kernel.log
}

// releaseChildren runs when the network's last owner lets go.
func (n *Network) releaseChildren() {
	for _, rec := range n.records.Records() {
		if node, err := rec.Node(); err == nil && node.Base() == &n.BaseNode {
			continue
		}
		if ref, err := n.records.Drop(rec.NID()); err == nil {
			ref.Release()
		}
	}
	n.eventMap = make(map[*Kind][]Node)
}

func networkOnEvent(self NetworkNode, ev Event) (any, error) {
	return nil, self.AsNetwork().routeEvent(ev)
}

func networkOnNodeNew(self NetworkNode, ev *NodeNewEvent) (any, error) {
	_, err := self.AsNetwork().Alloc(ev.Factory)
	return nil, err
}

func networkOnNodeDrop(self NetworkNode, ev *NodeDropEvent) (any, error) {
	return nil, self.AsNetwork().Dealloc(ev.NID)
}

func networkOnNodeTransfer(self NetworkNode, ev *NodeTransferEvent) (any, error) {
	if ev.Ref == nil {
		return nil, NewValueError("transfer event without node")
	}
	n := self.AsNetwork()
	ref := ev.Ref
	ev.Ref = nil
	if n.stopping {
		ref.Release()
		return nil, NewRuntimeError("network %s is stopping", describeNode(self))
	}
	n.adopt(ref)
	return nil, nil
}

func networkOnInitialize(self NetworkNode, _ *NetworkInitializeEvent) (any, error) {
	n := self.AsNetwork()
	for _, c := range n.children() {
		n.Send(c, &NodeInitializeMessage{})
	}
	return nil, nil
}

func networkOnFinalize(self NetworkNode, _ *NetworkFinalizeEvent) (any, error) {
	n := self.AsNetwork()
	n.stopping = true
	children := n.children()
	if len(children) == 0 {
		n.maybeDropSelf()
		return nil, nil
	}
	for _, c := range children {
		n.Send(c, &NodeFinalizeMessage{})
	}
	return nil, nil
}

func networkOnNodeInitialize(self NetworkNode, _ *NodeInitializeMessage) (any, error) {
	self.Base().Send(self, &NetworkInitializeEvent{})
	return nil, nil
}

func networkOnNodeFinalize(self NetworkNode, _ *NodeFinalizeMessage) (any, error) {
	self.Base().Send(self, &NetworkFinalizeEvent{})
	return nil, nil
}
