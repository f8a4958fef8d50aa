// Package network defines the Network Boundary (C8) contract: the
// minimal async transport capability the core consumes, never the
// transport implementation itself (spec.md explicitly treats the
// low-level transport library as an external collaborator).
package network

import "context"

// ConnID identifies one live transport connection.
type ConnID uint64

// Opaque identifies one in-flight outbound connect attempt, allocated by
// the caller (the Cluster Router) and echoed back in OnConnected /
// OnConnectFailed so the caller can correlate it to a (host, port).
type Opaque uint64

// Callbacks are the delivery callbacks the Boundary invokes. None of them
// may be invoked while the Boundary holds an internal lock; none of them
// run on the Container's tick thread.
type Callbacks struct {
	OnBound         func(err error)
	OnAccepted      func(connID ConnID)
	OnConnected     func(opaque Opaque, connID ConnID)
	OnConnectFailed func(opaque Opaque, err error)
	OnReceived      func(connID ConnID, bytes []byte)
	OnClose         func(connID ConnID, err error)
}

// Boundary is the capability contract §4.8 specifies.
type Boundary interface {
	// Start spins up workerThreads worth of I/O processing and records cb
	// as the delivery target for every callback below.
	Start(workerThreads int, cb Callbacks) error

	// Listen begins accepting inbound connections on ip:port
	// asynchronously; exactly one OnBound fires once the listener is
	// live or has failed to become so.
	Listen(ctx context.Context, ip string, port int) error

	// Connect initiates an outbound connection to host:port
	// asynchronously, tagged with opaque; exactly one of OnConnected or
	// OnConnectFailed fires for this opaque.
	Connect(ctx context.Context, opaque Opaque, host string, port int) error

	// Send ships bytes out over connID.
	Send(connID ConnID, bytes []byte) error

	// Close tears down connID; OnClose fires for it if it was live.
	Close(connID ConnID) error

	// Tick is driven by the Container's main loop; implementations that
	// are purely callback/goroutine driven may leave it a no-op.
	Tick()
}
