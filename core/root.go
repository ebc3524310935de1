package core

// Builtin describes a child the root network allocates at construction and
// exports under Name. Builtins occupy the reserved ids after the root itself.
type Builtin struct {
	Name    string
	Factory NodeFactory
}

const (
	// PhantomNetName is the builtin receiving dropped nodes
	PhantomNetName = "phantom_net"

	// TempNetName is the builtin hosting temporary reply nodes
	TempNetName = "temp_net"
)

// DefaultBuiltins returns the builtins of a root network: phantom_net at
// id 1 and temp_net at id 2.
func DefaultBuiltins() []Builtin {
	return []Builtin{
		{Name: PhantomNetName, Factory: NewPhantomNetwork},
		{Name: TempNetName, Factory: NewPhantomNetwork},
	}
}

// LookupBuiltins resolves builtin names to their definitions, keeping the
// given order.
func LookupBuiltins(names ...string) ([]Builtin, error) {
	known := make(map[string]Builtin)
	for _, b := range DefaultBuiltins() {
		known[b.Name] = b
	}
	out := make([]Builtin, 0, len(names))
	for _, name := range names {
		b, ok := known[name]
		if !ok {
			return nil, NewValueError("unknown builtin network %q", name)
		}
		out = append(out, b)
	}
	return out, nil
}

// RootNetwork is the self-owned top of the network tree. Uncaught exceptions
// and its own drop stop the kernel loop.
type RootNetwork struct {
	Network
	builtins map[string]int
}

// NewRootNetwork creates a root network scheduled on k. It stores itself at
// id 0 and allocates builtins after it.
func NewRootNetwork(k *Kernel, builtins ...Builtin) *RootNetwork {
	r := &RootNetwork{builtins: make(map[string]int)}
	r.SetupNetwork(r, RootHandlers, NewRecordArena())
	r.net = &r.Network
	r.kernel = k

	ref, _ := Hold(r)
	r.records.New(ref)
	r.reserved = 1

	for _, b := range builtins {
		node, err := r.Alloc(b.Factory)
		if err != nil {
			if k != nil {
				k.log.Error().Err(err).Str("builtin", b.Name).Msg("failed to allocate builtin node")
			}
			continue
		}
		nid := node.Base().NID()
		r.builtins[b.Name] = nid
		r.ExportRecord(b.Name, nid, DefaultPortFlags)
		r.reserved = nid + 1
	}
	return r
}

// AsRoot returns r.
func (r *RootNetwork) AsRoot() *RootNetwork { return r }

// Reserved returns the number of low ids held by the root and its builtins.
func (r *RootNetwork) Reserved() int { return r.reserved }

// Builtin returns the builtin node registered under name.
func (r *RootNetwork) Builtin(name string) (Node, bool) {
	nid, ok := r.builtins[name]
	if !ok {
		return nil, false
	}
	rec, err := r.records.Get(nid)
	if err != nil {
		return nil, false
	}
	node, err := rec.Node()
	if err != nil {
		return nil, false
	}
	return node, true
}

func (r *RootNetwork) builtinNetwork(name string) *Network {
	node, ok := r.Builtin(name)
	if !ok {
		return nil
	}
	if nn, ok := node.(NetworkNode); ok {
		return nn.AsNetwork()
	}
	return nil
}

// PhantomNet returns the builtin phantom network, or nil.
func (r *RootNetwork) PhantomNet() *Network { return r.builtinNetwork(PhantomNetName) }

// TempNet returns the builtin temporary network, or nil.
func (r *RootNetwork) TempNet() *Network { return r.builtinNetwork(TempNetName) }

// RootNode is implemented by RootNetwork and every type embedding it.
type RootNode interface {
	NetworkNode
	AsRoot() *RootNetwork
}

func rootOnException(node RootNode, exc Exception) (any, error) {
	self := node.AsRoot()
	exc.eventBase().addTraceback(&self.Network)
	if self.deliver(exc) {
		return nil, nil
	}
	if self.kernel != nil {
		self.kernel.fatal(exc)
	}
	return nil, nil
}

func rootOnNodeDrop(node RootNode, ev *NodeDropEvent) (any, error) {
	self := node.AsRoot()
	switch {
	case ev.NID == 0:
		if self.kernel != nil {
			self.kernel.shutdown()
		}
		return nil, nil
	case ev.NID < self.reserved:
		return nil, nil
	}
	return nil, self.Dealloc(ev.NID)
}

// PhantomNetwork is a network whose record manager only observes nodes.
// It cannot allocate and ignores drop requests.
type PhantomNetwork struct {
	Network
}

// NewPhantomNetwork is the factory for a phantom network.
func NewPhantomNetwork(*Network) Node {
	p := &PhantomNetwork{}
	p.SetupNetwork(p, PhantomHandlers, NewPhantomRegistry())
	return p
}

// Registry returns the phantom record manager.
func (p *PhantomNetwork) Registry() *PhantomRegistry {
	return p.records.(*PhantomRegistry)
}

func phantomOnNodeNew(self NetworkNode, _ *NodeNewEvent) (any, error) {
	return nil, NewUnsupportedMessageError("cannot alloc a node in phantom network", nil)
}

func phantomOnNodeDrop(NetworkNode, *NodeDropEvent) (any, error) {
	return nil, nil
}
