package core

import (
	"reflect"
)

// PortFlag controls what a port allows.
type PortFlag uint8

const (
	// PortReadable allows Get
	PortReadable PortFlag = 1 << iota

	// PortWritable allows Set
	PortWritable

	// DefaultPortFlags is read-only access
	DefaultPortFlags = PortReadable
)

// Has reports whether all bits of f2 are set in f.
func (f PortFlag) Has(f2 PortFlag) bool { return f&f2 == f2 }

// Port is a named, flag-guarded accessor exposed by a node.
type Port interface {
	Name() string
	Flags() PortFlag
	Get() (any, error)
	Set(value any) error
}

type portBase struct {
	name  string
	flags PortFlag
}

func (p *portBase) Name() string    { return p.name }
func (p *portBase) Flags() PortFlag { return p.flags }

func (p *portBase) checkGet() error {
	if !p.flags.Has(PortReadable) {
		return NewPortError(p.name, "port %s is not readable", p.name)
	}
	return nil
}

func (p *portBase) checkSet() error {
	if !p.flags.Has(PortWritable) {
		return NewPortError(p.name, "port %s is not writable", p.name)
	}
	return nil
}

// AttrPort binds a port to an exported struct field of its node.
type AttrPort struct {
	portBase
	node Node
}

// NewAttrPort binds the field called name on node.
func NewAttrPort(node Node, name string, flags PortFlag) *AttrPort {
	return &AttrPort{portBase: portBase{name: name, flags: flags}, node: node}
}

func (p *AttrPort) field() (reflect.Value, error) {
	v := reflect.ValueOf(p.node)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, NewPortError(p.name, "port %s is bound to a nil node", p.name)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, NewPortError(p.name, "node %s has no field %s", describeNode(p.node), p.name)
	}
	f := v.FieldByName(p.name)
	if !f.IsValid() || !f.CanInterface() {
		return reflect.Value{}, NewPortError(p.name, "node %s has no field %s", describeNode(p.node), p.name)
	}
	return f, nil
}

// Get returns the field value.
func (p *AttrPort) Get() (any, error) {
	if err := p.checkGet(); err != nil {
		return nil, err
	}
	f, err := p.field()
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// Set assigns value to the field. The value must be assignable to the field type.
func (p *AttrPort) Set(value any) error {
	if err := p.checkSet(); err != nil {
		return err
	}
	f, err := p.field()
	if err != nil {
		return err
	}
	if !f.CanSet() {
		return NewPortError(p.name, "field %s cannot be set", p.name)
	}
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(f.Type()) {
		if !v.Type().ConvertibleTo(f.Type()) {
			return NewPortError(p.name, "cannot assign %s to port %s of type %s", v.Type(), p.name, f.Type())
		}
		v = v.Convert(f.Type())
	}
	f.Set(v)
	return nil
}

// FuncPort delegates to accessor functions. A nil setter or getter makes the
// port fail that direction regardless of flags.
type FuncPort struct {
	portBase
	get func() (any, error)
	set func(any) error
}

// NewFuncPort creates a port backed by get and set.
func NewFuncPort(name string, flags PortFlag, get func() (any, error), set func(any) error) *FuncPort {
	return &FuncPort{portBase: portBase{name: name, flags: flags}, get: get, set: set}
}

func (p *FuncPort) Get() (any, error) {
	if err := p.checkGet(); err != nil {
		return nil, err
	}
	if p.get == nil {
		return nil, NewPortError(p.name, "port %s has no getter", p.name)
	}
	return p.get()
}

func (p *FuncPort) Set(value any) error {
	if err := p.checkSet(); err != nil {
		return err
	}
	if p.set == nil {
		return NewPortError(p.name, "port %s has no setter", p.name)
	}
	return p.set(value)
}

// RecordPort resolves to the node currently stored at a slot of a network's
// record manager. It is read-only.
type RecordPort struct {
	portBase
	net *Network
	nid int
}

// NewRecordPort creates a port for slot nid of net.
func NewRecordPort(net *Network, name string, nid int, flags PortFlag) *RecordPort {
	return &RecordPort{portBase: portBase{name: name, flags: flags}, net: net, nid: nid}
}

// NID returns the slot the port resolves.
func (p *RecordPort) NID() int { return p.nid }

func (p *RecordPort) Get() (any, error) {
	if err := p.checkGet(); err != nil {
		return nil, err
	}
	rec, err := p.net.records.Get(p.nid)
	if err != nil {
		return nil, err
	}
	return rec.Node()
}

func (p *RecordPort) Set(any) error {
	return NewPortError(p.name, "cannot write to node record")
}
