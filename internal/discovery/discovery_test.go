package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/nodefabric/basenode/internal/discovery"
	"github.com/nodefabric/basenode/internal/registry"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/nodefabric/basenode/internal/zkclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServiceInstancesWalksTree(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	client := tree.NewClient()
	r := registry.New(client, "")
	d := discovery.New(client, "/basenode")

	inst := svcinstance.Instance{Host: "10.0.0.1", Port: 9527, ModuleName: "echo.Module", ServiceName: "303", InstanceID: "303", Healthy: true}
	require.NoError(t, r.RegisterService(ctx, inst))

	instances, err := d.GetServiceInstances(ctx, discovery.ServicesRootName)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst, instances[0])
}

func TestGetServiceInstancesOtherNameReturnsPlaceholder(t *testing.T) {
	ctx := context.Background()
	client := fake.NewTree().NewClient()
	d := discovery.New(client, "/basenode")
	instances, err := d.GetServiceInstances(ctx, "303")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Healthy)
	assert.Equal(t, "303", instances[0].ServiceName)
}

func TestEmptyModuleNodeSynthesizesPlaceholder(t *testing.T) {
	ctx := context.Background()
	client := fake.NewTree().NewClient()
	require.NoError(t, client.EnsurePath(ctx, "/basenode/services/10.0.0.2:9527/quiet.Module"))
	d := discovery.New(client, "/basenode")

	instances, err := d.GetServiceInstances(ctx, discovery.ServicesRootName)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Healthy)
	assert.Equal(t, "quiet.Module", instances[0].ModuleName)
}

func TestWatchFiresOnRegistration(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	client := tree.NewClient()
	r := registry.New(client, "")
	d := discovery.New(client, "/basenode")

	calls := make(chan []svcinstance.Instance, 8)
	d.WatchServiceInstances(ctx, discovery.ServicesRootName, nil, func(_ string, instances []svcinstance.Instance) {
		calls <- instances
	})

	select {
	case first := <-calls:
		assert.Empty(t, first)
	case <-time.After(time.Second):
		t.Fatal("initial callback did not fire")
	}

	inst := svcinstance.Instance{Host: "10.0.0.1", Port: 9527, ModuleName: "echo.Module", ServiceName: "303", InstanceID: "303", Healthy: true}
	require.NoError(t, r.RegisterService(ctx, inst))

	require.Eventually(t, func() bool {
		select {
		case got := <-calls:
			return len(got) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
