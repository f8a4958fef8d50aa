// Package fake provides an in-memory zkclient.Client for exercising the
// Service Registry and Service Discovery packages without a live
// ZooKeeper ensemble, the same role testify-based table tests play
// against common/zk_utils_test.go's ephemeral fixtures in the teacher.
package fake

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/nodefabric/basenode/internal/zkclient"
	"go.uber.org/atomic"
)

type node struct {
	data      []byte
	ephemeral bool
}

// Client is a single coordination-service session backed by an in-memory
// znode tree shared across every fake.Client that points at the same
// Tree, so multiple "clients" can observe each other's writes the way
// multiple processes would against a real ensemble.
type Client struct {
	tree *Tree

	state atomic.Uint32 // zkclient.SessionState

	mu        sync.Mutex
	listeners []func(zkclient.SessionState)
}

// Tree is the shared znode store. Construct one per simulated ensemble
// and hand out a Client per simulated session with NewClient.
type Tree struct {
	mu       sync.Mutex
	nodes    map[string]node
	watchers map[string][]chan zkclient.Event
}

// NewTree builds an empty shared znode store rooted at "/".
func NewTree() *Tree {
	return &Tree{
		nodes:    map[string]node{"/": {}},
		watchers: map[string][]chan zkclient.Event{},
	}
}

// NewClient attaches a new simulated session to t, starting in the
// connected state.
func (t *Tree) NewClient() *Client {
	c := &Client{tree: t}
	c.state.Store(uint32(zkclient.StateHasSession))
	return c
}

// DropSession simulates this client's session expiring: every ephemeral
// node it created is removed, the session state becomes Expired and
// session listeners are notified. Tree operations through this Client keep
// working; only SessionState reports the loss until a test calls Reconnect.
func (c *Client) DropSession() {
	c.tree.mu.Lock()
	var removed []string
	for p, n := range c.tree.nodes {
		if n.ephemeral && c.owns(p) {
			delete(c.tree.nodes, p)
			removed = append(removed, p)
		}
	}
	c.tree.mu.Unlock()
	for _, p := range removed {
		c.tree.fireChildrenWatch(path.Dir(p))
	}
	c.setState(zkclient.StateExpired)
}

// owns is a simplification: the fake does not track per-session
// ownership beyond "this Client created it", acceptable since tests use
// one Client per simulated session.
func (c *Client) owns(string) bool { return true }

// Reconnect restores a dropped session to connected.
func (c *Client) Reconnect() { c.setState(zkclient.StateHasSession) }

func (c *Client) setState(s zkclient.SessionState) {
	c.state.Store(uint32(s))
	c.mu.Lock()
	listeners := append([]func(zkclient.SessionState){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Client) SessionState() zkclient.SessionState {
	return zkclient.SessionState(c.state.Load())
}

func (c *Client) OnSessionStateChange(fn func(zkclient.SessionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) EnsurePath(_ context.Context, p string) error {
	dirs := strings.Split(strings.Trim(p, "/"), "/")
	cp := "/"
	for _, d := range dirs {
		if d == "" {
			continue
		}
		cp = path.Join(cp, d)
		c.tree.mu.Lock()
		if _, ok := c.tree.nodes[cp]; !ok {
			c.tree.nodes[cp] = node{}
			c.tree.fireChildrenWatchLocked(path.Dir(cp))
		}
		c.tree.mu.Unlock()
	}
	return nil
}

func (c *Client) Create(_ context.Context, p string, data []byte, ephemeral bool) error {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	if _, ok := c.tree.nodes[p]; ok {
		return fmt.Errorf("fake: node exists: %s", p)
	}
	c.tree.nodes[p] = node{data: append([]byte(nil), data...), ephemeral: ephemeral}
	c.tree.fireChildrenWatchLocked(path.Dir(p))
	return nil
}

func (c *Client) Set(_ context.Context, p string, data []byte) error {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	n, ok := c.tree.nodes[p]
	if !ok {
		return fmt.Errorf("fake: no node: %s", p)
	}
	n.data = append([]byte(nil), data...)
	c.tree.nodes[p] = n
	return nil
}

func (c *Client) Get(_ context.Context, p string) ([]byte, error) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	n, ok := c.tree.nodes[p]
	if !ok {
		return nil, fmt.Errorf("fake: no node: %s", p)
	}
	return append([]byte(nil), n.data...), nil
}

func (c *Client) Exists(_ context.Context, p string) (bool, error) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	_, ok := c.tree.nodes[p]
	return ok, nil
}

func (c *Client) Delete(_ context.Context, p string) error {
	c.tree.mu.Lock()
	_, ok := c.tree.nodes[p]
	delete(c.tree.nodes, p)
	c.tree.mu.Unlock()
	if ok {
		c.tree.fireChildrenWatch(path.Dir(p))
	}
	return nil
}

func (c *Client) Children(_ context.Context, p string) ([]string, error) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	return c.tree.childrenLocked(p), nil
}

func (c *Client) ChildrenW(_ context.Context, p string) ([]string, <-chan zkclient.Event, error) {
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()
	children := c.tree.childrenLocked(p)
	ch := make(chan zkclient.Event, 1)
	c.tree.watchers[p] = append(c.tree.watchers[p], ch)
	return children, ch, nil
}

func (c *Client) Close() error { return nil }

func (t *Tree) childrenLocked(p string) []string {
	prefix := strings.TrimSuffix(p, "/") + "/"
	if p == "/" {
		prefix = "/"
	}
	var out []string
	for node := range t.nodes {
		if node == p || !strings.HasPrefix(node, prefix) {
			continue
		}
		rest := strings.TrimPrefix(node, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, rest)
	}
	sort.Strings(out)
	return out
}

func (t *Tree) fireChildrenWatch(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fireChildrenWatchLocked(p)
}

func (t *Tree) fireChildrenWatchLocked(p string) {
	for _, ch := range t.watchers[p] {
		ch <- zkclient.Event{Type: zkclient.EventNodeChildrenChanged, Path: p}
		close(ch)
	}
	delete(t.watchers, p)
}

var _ zkclient.Client = (*Client)(nil)
