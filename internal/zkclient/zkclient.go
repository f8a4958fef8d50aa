// Package zkclient defines the coordination-service boundary that the
// Service Registry (C5) and Service Discovery (C6) modules build on. It
// abstracts the handful of ZooKeeper operations those modules need behind
// a small interface so registry/discovery can be exercised against an
// in-memory fake (package fake) in tests, with zkconn providing the real
// *github.com/samuel/go-zookeeper/zk.Conn-backed implementation used in
// production — grounded on the teacher's common/zk_utils.go, which talks
// to zk.Conn directly throughout master/worker.
package zkclient

import "context"

// SessionState mirrors the subset of zk.State values the fabric cares
// about: whether the session backing ephemeral nodes is currently alive.
type SessionState int

const (
	StateUnknown SessionState = iota
	StateConnecting
	StateConnected
	StateHasSession
	StateDisconnected
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateHasSession:
		return "has-session"
	case StateDisconnected:
		return "disconnected"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Alive reports whether ephemeral nodes created under this session are
// still considered live by the coordination service.
func (s SessionState) Alive() bool {
	return s == StateConnected || s == StateHasSession
}

// EventType classifies a watch firing.
type EventType int

const (
	EventNodeCreated EventType = iota
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
)

// Event is delivered exactly once per watch registration — ZooKeeper
// watches are one-shot, and this boundary preserves that semantic so
// discovery's re-arm-after-fire loop is grounded in the real protocol.
type Event struct {
	Type EventType
	Path string
}

// Client is the coordination-service capability boundary. Paths are
// absolute, slash-separated znode paths.
type Client interface {
	// EnsurePath creates path and every missing ancestor as persistent,
	// empty nodes, tolerating concurrent creation by another client.
	EnsurePath(ctx context.Context, path string) error

	// Create creates path with data. Ephemeral nodes are removed by the
	// coordination service when this client's session ends.
	Create(ctx context.Context, path string, data []byte, ephemeral bool) error

	// Set overwrites the data at an existing path.
	Set(ctx context.Context, path string, data []byte) error

	// Get returns the data stored at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether path currently exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Deleting a path that does not exist is not an
	// error, matching the registry's idempotent-deregistration contract.
	Delete(ctx context.Context, path string) error

	// Children lists the immediate child names of path.
	Children(ctx context.Context, path string) ([]string, error)

	// ChildrenW lists the immediate child names of path and returns a
	// channel that receives a single Event the next time the child set
	// changes.
	ChildrenW(ctx context.Context, path string) ([]string, <-chan Event, error)

	// SessionState reports the current liveness of this client's session.
	SessionState() SessionState

	// OnSessionStateChange registers fn to be called, from an internal
	// goroutine, whenever the session transitions between states. fn must
	// not block.
	OnSessionStateChange(fn func(SessionState))

	// Close releases the underlying connection. Ephemeral nodes created
	// by this client are removed by the coordination service once its
	// session expires.
	Close() error
}
