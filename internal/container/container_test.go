package container_test

import (
	"testing"
	"time"

	"github.com/nodefabric/basenode/internal/container"
	"github.com/nodefabric/basenode/internal/container/staticloader"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/modules/echo"
	"github.com/nodefabric/basenode/internal/moduleapi"
	"github.com/nodefabric/basenode/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInitTickUninit(t *testing.T) {
	r := router.New()
	loader := staticloader.New()
	loader.Register("echo", echo.New)

	c := container.New(loader, r)
	require.NoError(t, c.Load([]string{"echo"}))
	require.NoError(t, c.PostInit())

	m, ok := r.ModuleByID(idhash.HashModuleID("echo.Module"))
	require.True(t, ok)
	assert.Equal(t, moduleapi.PostInit, m.State())

	stop := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(stop)
	}()
	c.SetTickInterval(5 * time.Millisecond)
	c.Run(stop)

	c.Shutdown()
	_, ok = r.ModuleByID(idhash.HashModuleID("echo.Module"))
	assert.False(t, ok, "uninit must deregister the module from the router")
}

func TestLoadAbortsOnUnknownModule(t *testing.T) {
	r := router.New()
	loader := staticloader.New()
	c := container.New(loader, r)
	err := c.Load([]string{"does-not-exist"})
	assert.Error(t, err)
}

func TestPanicInTickIsIsolated(t *testing.T) {
	r := router.New()
	loader := staticloader.New()
	loader.Register("panicky", newPanickyModule)
	c := container.New(loader, r)
	require.NoError(t, c.Load([]string{"panicky"}))
	require.NoError(t, c.PostInit())

	done := make(chan struct{})
	go func() {
		stop := make(chan struct{})
		time.AfterFunc(15*time.Millisecond, func() { close(stop) })
		c.SetTickInterval(time.Millisecond)
		c.Run(stop)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("container.Run hung after a module panic")
	}
}

type panickyModule struct{ *moduleapi.Base }

func newPanickyModule() (moduleapi.Module, error) {
	m := &panickyModule{}
	m.Base = moduleapi.NewBase(m, "panicky", false)
	return m, nil
}
func (m *panickyModule) DoInit() error     { return nil }
func (m *panickyModule) DoPostInit() error { return nil }
func (m *panickyModule) DoTick()           { panic("boom") }
func (m *panickyModule) DoUninit() error   { return nil }
