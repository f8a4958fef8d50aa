// Package zkconn implements zkclient.Client over a real
// github.com/samuel/go-zookeeper/zk.Conn, the same driver the teacher
// dials in common/zk_utils.go's ConnectToZk.
package zkconn

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/zkclient"
	"github.com/samuel/go-zookeeper/zk"
	"go.uber.org/atomic"
)

// DefaultSessionTimeout matches the teacher's ConnectToZk dial timeout.
const DefaultSessionTimeout = 3 * time.Second

// loggerAdapter bridges zk.Conn's Printf-style logger onto zap, the same
// shape as the teacher's common.ZkLoggerAdapter.
type loggerAdapter struct{}

func (loggerAdapter) Printf(format string, args ...interface{}) {
	log.S().Infof("[zk] "+format, args...)
}

// Conn adapts *zk.Conn to zkclient.Client. The session state is an
// atomic flag per spec §5; change notifications are queued onto a
// separate goroutine, never invoked while any lock is held.
type Conn struct {
	conn *zk.Conn

	state atomic.Uint32 // zkclient.SessionState

	mu        sync.Mutex
	listeners []func(zkclient.SessionState)
}

// Dial connects to the ZooKeeper ensemble at servers, mirroring the
// teacher's ConnectToZk, and starts forwarding session-state transitions.
func Dial(servers []string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	conn, events, err := zk.Connect(servers, timeout)
	if err != nil {
		return nil, fmt.Errorf("zkconn: connect: %w", err)
	}
	conn.SetLogger(loggerAdapter{})
	c := &Conn{conn: conn}
	c.state.Store(uint32(zkclient.StateConnecting))
	go c.pump(events)
	return c, nil
}

func (c *Conn) pump(events <-chan zk.Event) {
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		st := translateState(ev.State)
		c.state.Store(uint32(st))
		c.mu.Lock()
		listeners := append([]func(zkclient.SessionState){}, c.listeners...)
		c.mu.Unlock()
		for _, fn := range listeners {
			fn(st)
		}
	}
}

func translateState(s zk.State) zkclient.SessionState {
	switch s {
	case zk.StateConnecting:
		return zkclient.StateConnecting
	case zk.StateConnected:
		return zkclient.StateConnected
	case zk.StateHasSession:
		return zkclient.StateHasSession
	case zk.StateDisconnected:
		return zkclient.StateDisconnected
	case zk.StateExpired:
		return zkclient.StateExpired
	default:
		return zkclient.StateUnknown
	}
}

func (c *Conn) EnsurePath(_ context.Context, p string) error {
	dirs := strings.Split(strings.Trim(p, "/"), "/")
	cp := "/"
	for _, d := range dirs {
		if d == "" {
			continue
		}
		cp = path.Join(cp, d)
		exists, _, err := c.conn.Exists(cp)
		if err != nil {
			return fmt.Errorf("zkconn: exists %q: %w", cp, err)
		}
		if exists {
			continue
		}
		if _, err := c.conn.Create(cp, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("zkconn: create %q: %w", cp, err)
		}
	}
	return nil
}

func (c *Conn) Create(_ context.Context, p string, data []byte, ephemeral bool) error {
	var flags int32
	if ephemeral {
		flags = zk.FlagEphemeral
	}
	_, err := c.conn.Create(p, data, flags, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("zkconn: create %q: %w", p, err)
	}
	return nil
}

func (c *Conn) Set(_ context.Context, p string, data []byte) error {
	_, stat, err := c.conn.Get(p)
	if err != nil {
		return fmt.Errorf("zkconn: get %q for set: %w", p, err)
	}
	if _, err := c.conn.Set(p, data, stat.Version); err != nil {
		return fmt.Errorf("zkconn: set %q: %w", p, err)
	}
	return nil
}

func (c *Conn) Get(_ context.Context, p string) ([]byte, error) {
	data, _, err := c.conn.Get(p)
	if err != nil {
		return nil, fmt.Errorf("zkconn: get %q: %w", p, err)
	}
	return data, nil
}

func (c *Conn) Exists(_ context.Context, p string) (bool, error) {
	exists, _, err := c.conn.Exists(p)
	if err != nil {
		return false, fmt.Errorf("zkconn: exists %q: %w", p, err)
	}
	return exists, nil
}

func (c *Conn) Delete(_ context.Context, p string) error {
	err := c.conn.Delete(p, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("zkconn: delete %q: %w", p, err)
	}
	return nil
}

func (c *Conn) Children(_ context.Context, p string) ([]string, error) {
	children, _, err := c.conn.Children(p)
	if err != nil {
		return nil, fmt.Errorf("zkconn: children %q: %w", p, err)
	}
	return children, nil
}

func (c *Conn) ChildrenW(_ context.Context, p string) ([]string, <-chan zkclient.Event, error) {
	children, _, zch, err := c.conn.ChildrenW(p)
	if err != nil {
		return nil, nil, fmt.Errorf("zkconn: childrenw %q: %w", p, err)
	}
	out := make(chan zkclient.Event, 1)
	go func() {
		ev := <-zch
		out <- zkclient.Event{Type: zkclient.EventNodeChildrenChanged, Path: ev.Path}
		close(out)
	}()
	return children, out, nil
}

func (c *Conn) SessionState() zkclient.SessionState {
	return zkclient.SessionState(c.state.Load())
}

func (c *Conn) OnSessionStateChange(fn func(zkclient.SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Conn) Close() error {
	c.conn.Close()
	return nil
}

var _ zkclient.Client = (*Conn)(nil)
