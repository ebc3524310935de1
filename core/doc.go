// Package core implements the KES kernel: a hierarchy of networks that own
// nodes, route events between them and schedule every message on a single
// cooperative loop.
//
// Messages are typed by Kind. A node's HandlerTable maps kinds to handlers;
// dispatch walks the message kind towards KindMessage and stops at the first
// handler unless it carries HandlerPropagate. Networks route events to their
// subscribers and, depending on the event mode, up to their parent network.
// The RootNetwork owns itself and stops the Kernel when it is dropped or an
// exception reaches it unhandled.
package core
