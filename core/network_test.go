package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	kindAlarm  = NewEventKind("Alarm", KindEvent, EventPropagate)
	kindFlood  = NewEventKind("Flood", KindEvent, EventForcePropagate)
	kindStrict = NewEventKind("Strict", KindEvent, EventThrowErr)
	kindQuiet  = NewKind("Quiet", KindEvent)
)

type alarmEvent struct{ EventBase }

func (*alarmEvent) Kind() *Kind { return kindAlarm }

type floodEvent struct{ EventBase }

func (*floodEvent) Kind() *Kind { return kindFlood }

type strictEvent struct{ EventBase }

func (*strictEvent) Kind() *Kind { return kindStrict }

type quietEvent struct{ EventBase }

func (*quietEvent) Kind() *Kind { return kindQuiet }

// recorder records every event and data message it receives.
type recorder struct {
	BaseNode
	name  string
	trail *[]string
	got   []Message
}

var (
	recorderOnce     sync.Once
	recorderHandlers *HandlerTable
)

func recorderTable() *HandlerTable {
	recorderOnce.Do(func() {
		record := func(self *recorder, msg Message) (any, error) {
			self.got = append(self.got, msg)
			if self.trail != nil {
				*self.trail = append(*self.trail, self.name)
			}
			return nil, nil
		}
		recorderHandlers = NodeHandlers.Extend(
			On(KindEvent, func(self *recorder, ev Event) (any, error) { return record(self, ev) }, 0),
			On(KindData, func(self *recorder, msg *DataMessage) (any, error) { return record(self, msg) }, 0),
		)
	})
	return recorderHandlers
}

func newRecorder(*Network) Node {
	p := &recorder{}
	p.Setup(p, recorderTable())
	return p
}

func namedRecorder(name string, trail *[]string) NodeFactory {
	return func(*Network) Node {
		p := &recorder{name: name, trail: trail}
		p.Setup(p, recorderTable())
		return p
	}
}

func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	k := NewKernel(opts...)
	k.Drain()
	stopped, _ := k.Stopped()
	require.False(t, stopped)
	return k
}

func alloc[T Node](t *testing.T, n *Network, factory NodeFactory) T {
	t.Helper()
	node, err := n.Alloc(factory)
	require.NoError(t, err)
	out, ok := node.(T)
	require.True(t, ok, "unexpected node type %T", node)
	return out
}

func TestRootReservedIDs(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()

	assert.Equal(t, 3, root.Reserved())
	assert.Equal(t, 0, root.NID())
	assert.Same(t, &root.Network, root.Net())
	require.NotNil(t, root.PhantomNet())
	require.NotNil(t, root.TempNet())
	assert.Equal(t, 1, root.PhantomNet().NID())
	assert.Equal(t, 2, root.TempNet().NID())

	v, err := root.GetPort(PhantomNetName)
	require.NoError(t, err)
	assert.Same(t, root.PhantomNet().Self(), v)

	err = root.SetPort(TempNetName, nil)
	var pe *PortError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, TempNetName, pe.Name)
}

func TestNetworkScenario(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()

	r := alloc[*Network](t, &root.Network, NewNetwork)
	assert.Equal(t, 3, r.NID())
	k.Drain()

	a := alloc[*BaseNode](t, r, NewNode)
	assert.Equal(t, 0, a.NID())
	require.NoError(t, r.NodeDrop(0))
	k.Drain()

	assert.True(t, a.Released())
	_, err := r.Records().Get(0)
	var rt *RuntimeError
	require.ErrorAs(t, err, &rt)

	b := alloc[*BaseNode](t, r, NewNode)
	assert.Equal(t, 0, b.NID())
	watcher := alloc[*recorder](t, r, newRecorder)
	require.NoError(t, r.Subscribe(KindUnsupportedMessage, watcher))
	k.Drain()

	msg := &DataMessage{Data: "nobody handles this"}
	k.Send(b, msg)
	k.Drain()

	require.Len(t, watcher.got, 1)
	exc, ok := watcher.got[0].(*UnsupportedMessageError)
	require.True(t, ok)
	assert.Equal(t, []*Network{r}, exc.Traceback())
	assert.Same(t, b, exc.Source())
	assert.Same(t, msg, exc.SourceMessage())
	assert.Equal(t, uint64(1), k.Stats().TasksCancelled)

	stopped, _ := k.Stopped()
	assert.False(t, stopped)
}

func TestNetworkEventFanOutOrder(t *testing.T) {
	k := newTestKernel(t)
	r := alloc[*Network](t, &k.Root().Network, NewNetwork)

	var trail []string
	first := alloc[*recorder](t, r, namedRecorder("first", &trail))
	second := alloc[*recorder](t, r, namedRecorder("second", &trail))
	require.NoError(t, r.Subscribe(kindQuiet, second))
	require.NoError(t, r.Subscribe(kindQuiet, first))
	k.Drain()

	ev := &quietEvent{}
	assert.True(t, ev.IsPrimary())
	k.Send(r, ev)
	k.Drain()

	assert.Equal(t, []string{"second", "first"}, trail)
	assert.False(t, ev.IsPrimary())
	assert.Equal(t, []*Network{r}, ev.Traceback())

	err := r.Subscribe(kindQuiet, first)
	var rt *RuntimeError
	assert.ErrorAs(t, err, &rt)

	err = r.Subscribe(KindData, first)
	var ve *ValueError
	assert.ErrorAs(t, err, &ve)

	require.NoError(t, r.Unsubscribe(kindQuiet, second))
	assert.Equal(t, []Node{first}, r.Subscribers(kindQuiet))
	assert.Error(t, r.Unsubscribe(kindQuiet, second))
}

func TestNetworkEventPropagatesOnce(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()
	r := alloc[*Network](t, &root.Network, NewNetwork)
	top := alloc[*recorder](t, &root.Network, newRecorder)
	require.NoError(t, root.Subscribe(kindAlarm, top))
	k.Drain()

	ev := &alarmEvent{}
	k.Send(r, ev)
	k.Drain()

	require.Len(t, top.got, 1)
	assert.Same(t, ev, top.got[0])
	assert.Equal(t, []*Network{r, &root.Network}, ev.Traceback())

	// A handled propagating event stops at the first matching network
	local := alloc[*recorder](t, r, newRecorder)
	require.NoError(t, r.Subscribe(kindAlarm, local))
	k.Drain()

	k.Send(r, &alarmEvent{})
	k.Drain()
	assert.Len(t, local.got, 1)
	assert.Len(t, top.got, 1)
}

func TestNetworkForcePropagate(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()
	r := alloc[*Network](t, &root.Network, NewNetwork)
	local := alloc[*recorder](t, r, newRecorder)
	top := alloc[*recorder](t, &root.Network, newRecorder)
	require.NoError(t, r.Subscribe(kindFlood, local))
	require.NoError(t, root.Subscribe(kindFlood, top))
	k.Drain()

	k.Send(r, &floodEvent{})
	k.Drain()

	assert.Len(t, local.got, 1)
	assert.Len(t, top.got, 1)
}

func TestNetworkForcePropagateKeepsBranchesApart(t *testing.T) {
	k := newTestKernel(t, WithCycleDetection(true))
	root := k.Root()
	r := alloc[*Network](t, &root.Network, NewNetwork)
	s := alloc[*Network](t, r, NewNetwork)
	inner := alloc[*recorder](t, s, newRecorder)
	top := alloc[*recorder](t, &root.Network, newRecorder)
	require.NoError(t, r.Subscribe(kindFlood, s))
	require.NoError(t, s.Subscribe(kindFlood, inner))
	require.NoError(t, root.Subscribe(kindFlood, top))
	k.Drain()

	k.Send(r, &floodEvent{})
	k.Drain()

	require.Len(t, top.got, 1)
	upward := top.got[0].(Event).Traceback()
	require.Len(t, upward, 2)
	assert.Same(t, r, upward[0])
	assert.Same(t, &root.Network, upward[1])

	require.Len(t, inner.got, 1)
	downward := inner.got[0].(Event).Traceback()
	require.Len(t, downward, 2)
	assert.Same(t, r, downward[0])
	assert.Same(t, s, downward[1])
}

func TestForkEventSeparatesTraceback(t *testing.T) {
	a, b, c := &Network{}, &Network{}, &Network{}
	ev := &alarmEvent{}
	ev.traceback = make([]*Network, 0, 4)
	ev.addTraceback(a)

	fork, ok := forkEvent(ev).(*alarmEvent)
	require.True(t, ok)
	assert.NotSame(t, ev, fork)

	ev.addTraceback(b)
	fork.addTraceback(c)
	require.Len(t, ev.Traceback(), 2)
	require.Len(t, fork.Traceback(), 2)
	assert.Same(t, b, ev.Traceback()[1])
	assert.Same(t, c, fork.Traceback()[1])
}

func TestNetworkCycleDetection(t *testing.T) {
	for _, detect := range []bool{true, false} {
		k := newTestKernel(t, WithCycleDetection(detect))
		root := k.Root()
		r := alloc[*Network](t, &root.Network, NewNetwork)
		c := alloc[*Network](t, r, NewNetwork)
		watcher := alloc[*recorder](t, r, newRecorder)
		require.NoError(t, r.Subscribe(kindAlarm, watcher))
		k.Drain()

		ev := &alarmEvent{}
		ev.addTraceback(r)
		k.Send(c, ev)
		k.Drain()

		if detect {
			assert.Empty(t, watcher.got)
		} else {
			assert.Len(t, watcher.got, 1)
		}
	}
}

func TestNetworkThrowErrEventIsFatal(t *testing.T) {
	k := newTestKernel(t)
	r := alloc[*Network](t, &k.Root().Network, NewNetwork)
	k.Drain()

	k.Send(r, &strictEvent{})
	k.Drain()

	stopped, cause := k.Stopped()
	require.True(t, stopped)
	var fatal *FatalError
	require.ErrorAs(t, cause, &fatal)
	exc, ok := fatal.Exception.(*UnsupportedMessageError)
	require.True(t, ok)
	assert.Equal(t, "unhandled event", exc.Text())
	assert.Same(t, r, exc.Source())
}

func TestRootExceptionSubscribers(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()
	r := alloc[*Network](t, &root.Network, NewNetwork)
	top := alloc[*recorder](t, &root.Network, newRecorder)
	require.NoError(t, root.Subscribe(KindException, top))
	k.Drain()

	k.Send(r, &strictEvent{})
	k.Drain()

	stopped, _ := k.Stopped()
	assert.False(t, stopped)
	require.Len(t, top.got, 1)
	exc := top.got[0].(Exception)
	assert.Equal(t, []*Network{&root.Network}, exc.Traceback())
}

// counter counts lifecycle messages and otherwise behaves like a plain node.
type counter struct {
	BaseNode
	inits int
	fins  int
}

var (
	counterOnce     sync.Once
	counterHandlers *HandlerTable
)

func newCounter(*Network) Node {
	counterOnce.Do(func() {
		counterHandlers = NodeHandlers.Extend(
			On(KindNodeInitialize, func(self *counter, _ *NodeInitializeMessage) (any, error) {
				self.inits++
				return nil, nil
			}, 0),
			On(KindNodeFinalize, func(self *counter, msg *NodeFinalizeMessage) (any, error) {
				self.fins++
				return nodeFinalize(self, msg)
			}, 0),
		)
	})
	c := &counter{}
	c.Setup(c, counterHandlers)
	return c
}

func TestNetworkLifecycle(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()
	r := alloc[*Network](t, &root.Network, NewNetwork)
	k.Drain()

	leaves := make([]*counter, 3)
	for i := range leaves {
		leaves[i] = alloc[*counter](t, r, newCounter)
	}
	k.Drain()
	for _, c := range leaves {
		assert.Equal(t, 1, c.inits)
	}

	k.Send(r, &NodeInitializeMessage{})
	k.Drain()
	for _, c := range leaves {
		assert.Equal(t, 2, c.inits)
	}

	k.Finalize(false)
	k.Drain()

	for _, c := range leaves {
		assert.Equal(t, 1, c.fins)
		assert.True(t, c.Released())
	}
	assert.True(t, r.Stopping())
	assert.True(t, r.Released())

	stopped, cause := k.Stopped()
	assert.True(t, stopped)
	assert.NoError(t, cause)
}

func TestKernelInitSkipsBuiltins(t *testing.T) {
	k := newTestKernel(t, WithBuiltins(Builtin{Name: "counter_net", Factory: newCounter}))
	root := k.Root()
	node, ok := root.Builtin("counter_net")
	require.True(t, ok)
	builtin := node.(*counter)
	assert.Equal(t, 1, builtin.inits)

	leaf := alloc[*counter](t, &root.Network, newCounter)
	k.Drain()
	k.Init(nil)
	k.Drain()

	assert.Equal(t, 1, builtin.inits)
	assert.Equal(t, 2, leaf.inits)
}

func TestNetworkStoppingRefusesAlloc(t *testing.T) {
	k := newTestKernel(t)
	r := alloc[*Network](t, &k.Root().Network, NewNetwork)
	alloc[*counter](t, r, newCounter)
	k.Drain()

	k.Send(r, &NodeFinalizeMessage{})
	k.Drain()
	assert.True(t, r.Stopping())
	assert.True(t, r.Released())

	_, err := r.Alloc(NewNode)
	var rt *RuntimeError
	assert.ErrorAs(t, err, &rt)
	assert.Error(t, r.NodeNew(NewNode))
}

func TestNetworkNodeNewEvent(t *testing.T) {
	k := newTestKernel(t)
	r := alloc[*Network](t, &k.Root().Network, NewNetwork)
	k.Drain()
	require.NoError(t, r.NodeNew(newCounter))
	k.Drain()

	require.Equal(t, 1, r.Records().Len())
	rec, err := r.Records().Get(0)
	require.NoError(t, err)
	node, err := rec.Node()
	require.NoError(t, err)
	c := node.(*counter)
	assert.Equal(t, 1, c.inits)
	assert.Same(t, r, c.Net())
	assert.Same(t, k, c.Kernel())
}

func TestNetworkPhantomDrop(t *testing.T) {
	k := newTestKernel(t, WithPhantom(true))
	root := k.Root()
	r := alloc[*Network](t, &root.Network, NewNetwork)
	leaf := alloc[*BaseNode](t, r, NewNode)
	k.Drain()

	phantom, ok := root.Builtin(PhantomNetName)
	require.True(t, ok)
	registry := phantom.(*PhantomNetwork).Registry()

	keep, ok := Hold(leaf)
	require.True(t, ok)
	require.NoError(t, r.NodeDrop(leaf.NID()))
	k.Drain()

	assert.Equal(t, 0, r.Records().Len())
	assert.False(t, leaf.Released())
	assert.Equal(t, 1, registry.Len())
	assert.Same(t, root.PhantomNet(), leaf.Net())

	keep.Release()
	assert.True(t, leaf.Released())
	assert.Equal(t, 0, registry.Len())

	// Allocation is refused by phantom networks
	_, err := root.PhantomNet().Alloc(NewNode)
	var ue *UnsupportedMessageError
	assert.ErrorAs(t, err, &ue)
}

func TestNetworkDropOfHeldNodeIsFatal(t *testing.T) {
	k := newTestKernel(t, WithPhantom(false))
	r := alloc[*Network](t, &k.Root().Network, NewNetwork)
	leaf := alloc[*BaseNode](t, r, NewNode)
	k.Drain()

	keep, ok := Hold(leaf)
	require.True(t, ok)
	defer keep.Release()

	require.NoError(t, r.NodeDrop(leaf.NID()))
	k.Drain()

	assert.Equal(t, 0, r.Records().Len())
	assert.False(t, leaf.Released())

	stopped, cause := k.Stopped()
	require.True(t, stopped)
	var fatal *FatalError
	require.ErrorAs(t, cause, &fatal)
	rt, ok := fatal.Exception.(*RuntimeError)
	require.True(t, ok, "unexpected exception %T", fatal.Exception)
	assert.Contains(t, rt.Text(), "still referenced after release")
	assert.Same(t, r, rt.Source())
}

func TestNetworkTransfer(t *testing.T) {
	k := newTestKernel(t)
	root := k.Root()
	src := alloc[*Network](t, &root.Network, NewNetwork)
	dst := alloc[*Network](t, &root.Network, NewNetwork)
	leaf := alloc[*counter](t, src, newCounter)
	k.Drain()

	require.NoError(t, src.Transfer(leaf.NID(), dst))
	k.Drain()

	assert.Equal(t, 0, src.Records().Len())
	assert.Equal(t, 1, dst.Records().Len())
	assert.Same(t, dst, leaf.Net())
	assert.False(t, leaf.Released())

	var ve *ValueError
	assert.ErrorAs(t, dst.Transfer(leaf.NID(), nil), &ve)
}

func TestNetworkPassDown(t *testing.T) {
	k := newTestKernel(t)
	r := alloc[*Network](t, &k.Root().Network, NewNetwork)
	src := alloc[*recorder](t, r, newRecorder)
	a := alloc[*recorder](t, r, newRecorder)
	b := alloc[*recorder](t, r, newRecorder)
	require.NoError(t, r.Connect(src.NID(), a.NID()))
	require.NoError(t, r.Connect(src.NID(), b.NID()))
	assert.Error(t, r.Connect(src.NID(), 42))
	k.Drain()

	msg := &DataMessage{Data: 7}
	require.NoError(t, src.PassDown(msg))
	k.Drain()
	assert.Equal(t, []Message{msg}, a.got)
	assert.Equal(t, []Message{msg}, b.got)

	require.NoError(t, r.Disconnect(src.NID(), b.NID()))
	next, err := r.NodeNext(src.NID())
	require.NoError(t, err)
	assert.Equal(t, []Node{a}, next)

	// Dropping a node removes the edges pointing at it
	require.NoError(t, r.NodeDrop(a.NID()))
	k.Drain()
	next, err = r.NodeNext(src.NID())
	require.NoError(t, err)
	assert.Empty(t, next)
}
