package core

import (
	"fmt"
	"strings"
)

// HandlerFlag modifies how dispatch treats a handler.
type HandlerFlag uint8

const (
	// HandlerReflective allows replies to a ReflectMessage target
	HandlerReflective HandlerFlag = 1 << iota

	// HandlerSendRet wraps the return value in a DataMessage and delivers it
	HandlerSendRet

	// HandlerPropagate continues the walk to less specific kinds
	HandlerPropagate

	// DefaultHandlerFlags marks a handler reflective only
	DefaultHandlerFlags = HandlerReflective
)

// Has reports whether all bits of f2 are set in f.
func (f HandlerFlag) Has(f2 HandlerFlag) bool { return f&f2 == f2 }

func (f HandlerFlag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(HandlerReflective) {
		parts = append(parts, "reflective")
	}
	if f.Has(HandlerSendRet) {
		parts = append(parts, "send_ret")
	}
	if f.Has(HandlerPropagate) {
		parts = append(parts, "propagate")
	}
	return strings.Join(parts, "|")
}

// HandlerFunc is the untyped form of a message handler. self is the node the
// message was dispatched to.
type HandlerFunc func(self Node, msg Message) (any, error)

// Handler binds a function to one message kind.
type Handler struct {
	kind  *Kind
	fn    HandlerFunc
	flags HandlerFlag
}

// Kind returns the message kind the handler is registered for.
func (h Handler) Kind() *Kind { return h.kind }

// Flags returns the handler flags.
func (h Handler) Flags() HandlerFlag { return h.flags }

// On builds a handler for kind. N is the node type the handler expects (a
// concrete pointer type or an interface such as NetworkNode); M is the Go type
// of messages of that kind.
//
// Dispatching a message whose Go type is not M, or to a node that is not N,
// is reported as UnsupportedMessageError.
func On[N Node, M Message](kind *Kind, fn func(self N, msg M) (any, error), flags HandlerFlag) Handler {
	return Handler{
		kind:  kind,
		flags: flags,
		fn: func(self Node, msg Message) (any, error) {
			n, ok := any(self).(N)
			if !ok {
				return nil, NewUnsupportedMessageError(
					fmt.Sprintf("handler for %s cannot run on %s", kind.Name(), describeNode(self)), msg)
			}
			m, ok := msg.(M)
			if !ok {
				return nil, NewUnsupportedMessageError(
					fmt.Sprintf("handler for %s got a %T", kind.Name(), msg), msg)
			}
			return fn(n, m)
		},
	}
}

// OnFunc builds a handler from an untyped function.
func OnFunc(kind *Kind, fn HandlerFunc, flags HandlerFlag) Handler {
	return Handler{kind: kind, fn: fn, flags: flags}
}

// HandlerTable maps message kinds to handlers for one node type. Tables are
// built once, usually in a package-level var, and never mutated afterwards.
type HandlerTable struct {
	handlers map[*Kind]Handler
	order    []*Kind
}

// NewHandlerTable builds a table from handlers. A later handler for the same
// kind replaces an earlier one.
func NewHandlerTable(handlers ...Handler) *HandlerTable {
	return (&HandlerTable{}).Extend(handlers...)
}

// Extend returns a copy of t with handlers added or overridden.
func (t *HandlerTable) Extend(handlers ...Handler) *HandlerTable {
	out := &HandlerTable{
		handlers: make(map[*Kind]Handler, len(t.handlers)+len(handlers)),
		order:    make([]*Kind, 0, len(t.order)+len(handlers)),
	}
	for _, k := range t.order {
		out.handlers[k] = t.handlers[k]
		out.order = append(out.order, k)
	}
	for _, h := range handlers {
		if h.kind == nil || h.fn == nil {
			panic("kes: handler needs a kind and a function")
		}
		if _, exists := out.handlers[h.kind]; !exists {
			out.order = append(out.order, h.kind)
		}
		out.handlers[h.kind] = h
	}
	return out
}

// Lookup returns the handler registered exactly for kind.
func (t *HandlerTable) Lookup(kind *Kind) (Handler, bool) {
	h, ok := t.handlers[kind]
	return h, ok
}

// Resolve returns the handlers that would run for a message of kind, most
// specific first, honoring HandlerPropagate.
func (t *HandlerTable) Resolve(kind *Kind) []Handler {
	var out []Handler
	for _, k := range kind.Chain() {
		h, ok := t.handlers[k]
		if !ok {
			continue
		}
		out = append(out, h)
		if !h.flags.Has(HandlerPropagate) {
			break
		}
	}
	return out
}

// Kinds returns the registered kinds in registration order.
func (t *HandlerTable) Kinds() []*Kind {
	out := make([]*Kind, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of registered kinds.
func (t *HandlerTable) Len() int { return len(t.order) }
