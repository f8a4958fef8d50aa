package fake_test

import (
	"context"
	"testing"
	"time"

	"github.com/nodefabric/basenode/internal/zkclient"
	"github.com/nodefabric/basenode/internal/zkclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsurePathCreatesAncestors(t *testing.T) {
	ctx := context.Background()
	c := fake.NewTree().NewClient()
	require.NoError(t, c.EnsurePath(ctx, "/fabric/services/echo"))
	exists, err := c.Exists(ctx, "/fabric/services")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEphemeralNodeRemovedOnSessionLoss(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	c := tree.NewClient()
	require.NoError(t, c.EnsurePath(ctx, "/fabric/services/echo"))
	require.NoError(t, c.Create(ctx, "/fabric/services/echo/instance-1", []byte("host:1"), true))

	children, err := c.Children(ctx, "/fabric/services/echo")
	require.NoError(t, err)
	assert.Equal(t, []string{"instance-1"}, children)

	c.DropSession()
	assert.Equal(t, zkclient.StateExpired, c.SessionState())

	other := tree.NewClient()
	children, err = other.Children(ctx, "/fabric/services/echo")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestChildrenWatchFiresOnce(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	c := tree.NewClient()
	require.NoError(t, c.EnsurePath(ctx, "/fabric/services/echo"))

	_, watch, err := c.ChildrenW(ctx, "/fabric/services/echo")
	require.NoError(t, err)

	other := tree.NewClient()
	require.NoError(t, other.Create(ctx, "/fabric/services/echo/instance-1", nil, true))

	select {
	case ev := <-watch:
		assert.Equal(t, zkclient.EventNodeChildrenChanged, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}
	_, ok := <-watch
	assert.False(t, ok, "watch channel must close after firing once")
}

func TestSessionStateListenerNotified(t *testing.T) {
	c := fake.NewTree().NewClient()
	seen := make(chan zkclient.SessionState, 1)
	c.OnSessionStateChange(func(s zkclient.SessionState) { seen <- s })
	c.DropSession()
	select {
	case s := <-seen:
		assert.Equal(t, zkclient.StateExpired, s)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
}
