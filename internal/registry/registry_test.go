package registry_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/registry"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/nodefabric/basenode/internal/zkclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instanceFor(host string, port int, module, service string) svcinstance.Instance {
	return svcinstance.Instance{
		Host:        host,
		Port:        port,
		ModuleName:  module,
		ServiceName: service,
		InstanceID:  service,
		Healthy:     true,
	}
}

// leafOf renders the decimal service-key leaf name the registry derives
// from a ServiceInstance's ServiceName, per the coordination-service
// layout's bit-exact "{service_key_decimal}" leaf.
func leafOf(inst svcinstance.Instance) string {
	return fmt.Sprintf("%d", uint32(idhash.HashServiceKey(inst.ServiceName)))
}

func TestRegisterServiceCreatesLayout(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	client := tree.NewClient()
	r := registry.New(client, "")

	inst := instanceFor("10.0.0.1", 9527, "echo.Module", "echo.Module.Ping")
	require.NoError(t, r.RegisterService(ctx, inst))
	leaf := leafOf(inst)

	children, err := client.Children(ctx, "/basenode/services/10.0.0.1:9527/echo.Module")
	require.NoError(t, err)
	assert.Equal(t, []string{leaf}, children)

	raw, err := client.Get(ctx, "/basenode/services/10.0.0.1:9527/echo.Module/"+leaf)
	require.NoError(t, err)
	got, err := svcinstance.Parse(string(raw))
	require.NoError(t, err)
	assert.Equal(t, inst, got)
}

func TestDeregisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := fake.NewTree().NewClient()
	r := registry.New(client, "")
	inst := instanceFor("10.0.0.1", 9527, "echo.Module", "echo.Module.Ping")
	require.NoError(t, r.RegisterService(ctx, inst))
	require.NoError(t, r.DeregisterService(ctx, inst))
	require.NoError(t, r.DeregisterService(ctx, inst))
}

func TestSessionLossCleansUpEmptyTrackedNodes(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	client := tree.NewClient()
	r := registry.New(client, "")

	inst := instanceFor("10.0.0.1", 9527, "echo.Module", "echo.Module.Ping")
	require.NoError(t, r.RegisterService(ctx, inst))

	client.DropSession()

	require.Eventually(t, func() bool {
		exists, _ := client.Exists(ctx, "/basenode/services/10.0.0.1:9527")
		return !exists
	}, time.Second, 10*time.Millisecond)
}

func TestRegistrationDeferredWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	tree := fake.NewTree()
	client := tree.NewClient()
	r := registry.New(client, "")
	client.DropSession()

	inst := instanceFor("10.0.0.1", 9527, "echo.Module", "echo.Module.Ping")
	require.NoError(t, r.RegisterService(ctx, inst))
	leaf := leafOf(inst)

	exists, err := client.Exists(ctx, "/basenode/services/10.0.0.1:9527/echo.Module/"+leaf)
	require.NoError(t, err)
	assert.False(t, exists, "registration must be deferred, not attempted, while disconnected")

	client.Reconnect()
	require.Eventually(t, func() bool {
		exists, _ := client.Exists(ctx, "/basenode/services/10.0.0.1:9527/echo.Module/"+leaf)
		return exists
	}, time.Second, 10*time.Millisecond)
}

func TestRenewFailsWhenNodeGone(t *testing.T) {
	ctx := context.Background()
	client := fake.NewTree().NewClient()
	r := registry.New(client, "")
	inst := instanceFor("10.0.0.1", 9527, "echo.Module", "echo.Module.Ping")
	err := r.RenewService(ctx, inst)
	assert.Error(t, err)
}
