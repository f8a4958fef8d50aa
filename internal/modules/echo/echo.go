// Package echo is a minimal demo business module: it answers "ping" with
// "pong". It exists to exercise the Module Container / Router fabric in
// tests the way the teacher's worker.PrimaryServer exercises the
// ZooKeeper/gRPC fabric — the key/value semantics themselves are out of
// this spec's scope.
package echo

import (
	"context"

	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/moduleapi"
)

// PingName is the symbolic name Module's handler is registered under;
// PingKey is its stable hash, the key a caller's request frame carries.
const PingName = "echo.Module.Ping"

// PingKey is the service key exposed by Module.
var PingKey = idhash.HashServiceKey(PingName)

// Module answers Ping requests with "pong", ignoring the request payload.
type Module struct {
	*moduleapi.Base
}

// New constructs a Module ready for Container.Load via a static
// constructor registration.
func New() (moduleapi.Module, error) {
	m := &Module{}
	m.Base = moduleapi.NewBase(m, "echo.Module", false)
	return m, nil
}

func (m *Module) DoInit() error {
	m.RegisterNamedHandler(PingName, m.handlePing)
	return nil
}

func (m *Module) handlePing(_ context.Context, _ []byte) ([]byte, error) {
	return []byte("pong"), nil
}

func (m *Module) DoPostInit() error { return nil }
func (m *Module) DoTick()           {}
func (m *Module) DoUninit() error   { return nil }
