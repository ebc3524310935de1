package core

// Handler tables of the builtin node types. They are built in init because
// the handlers reach back into dispatch, which reads the tables.
var (
	// NodeHandlers serves plain nodes: ports and lifecycle.
	NodeHandlers *HandlerTable

	// NetworkHandlers adds event routing and child management.
	NetworkHandlers *HandlerTable

	// PhantomHandlers refuses allocation and ignores drops.
	PhantomHandlers *HandlerTable

	// RootHandlers makes exceptions fatal and the root's own drop terminal.
	RootHandlers *HandlerTable
)

func init() {
	NodeHandlers = NewHandlerTable(
		On(KindPortGet, nodePortGet, HandlerReflective|HandlerSendRet),
		On(KindPortSet, nodePortSet, 0),
		On(KindNodeInitialize, nodeInitialize, 0),
		On(KindNodeFinalize, nodeFinalize, 0),
	)

	NetworkHandlers = NodeHandlers.Extend(
		On(KindEvent, networkOnEvent, 0),
		On(KindNodeNew, networkOnNodeNew, HandlerPropagate),
		On(KindNodeDrop, networkOnNodeDrop, HandlerPropagate),
		On(KindNodeTransfer, networkOnNodeTransfer, HandlerPropagate),
		On(KindNetworkInitialize, networkOnInitialize, HandlerPropagate),
		On(KindNetworkFinalize, networkOnFinalize, HandlerPropagate),
		On(KindNodeInitialize, networkOnNodeInitialize, 0),
		On(KindNodeFinalize, networkOnNodeFinalize, 0),
	)

	PhantomHandlers = NetworkHandlers.Extend(
		On(KindNodeNew, phantomOnNodeNew, 0),
		On(KindNodeDrop, phantomOnNodeDrop, 0),
	)

	RootHandlers = NetworkHandlers.Extend(
		On(KindException, rootOnException, 0),
		On(KindNodeDrop, rootOnNodeDrop, HandlerPropagate),
	)
}
