package clusterrouter_test

import (
	"context"
	"sync"
	"testing"

	"github.com/nodefabric/basenode/internal/clusterrouter"
	"github.com/nodefabric/basenode/internal/discovery"
	"github.com/nodefabric/basenode/internal/frame"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/network"
	"github.com/nodefabric/basenode/internal/registry"
	"github.com/nodefabric/basenode/internal/router"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/nodefabric/basenode/internal/zkclient/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBoundary is a deterministic, synchronous stand-in for
// network.Boundary: Connect immediately calls OnConnected, one
// connection id per distinct (host, port) pair requested.
type fakeBoundary struct {
	mu         sync.Mutex
	cb         network.Callbacks
	nextConnID uint64
	byAddr     map[string]network.ConnID
	connectsTo map[network.ConnID]string
	sent       []sentFrame
}

type sentFrame struct {
	connID network.ConnID
	data   []byte
}

func newFakeBoundary() *fakeBoundary {
	return &fakeBoundary{byAddr: make(map[string]network.ConnID), connectsTo: make(map[network.ConnID]string)}
}

func (f *fakeBoundary) Start(_ int, cb network.Callbacks) error { f.cb = cb; return nil }
func (f *fakeBoundary) Listen(context.Context, string, int) error { return nil }

func (f *fakeBoundary) Connect(_ context.Context, opaque network.Opaque, host string, port int) error {
	key := host + ":" + itoa(port)
	f.mu.Lock()
	connID, ok := f.byAddr[key]
	if !ok {
		f.nextConnID++
		connID = network.ConnID(f.nextConnID)
		f.byAddr[key] = connID
		f.connectsTo[connID] = key
	}
	f.mu.Unlock()
	f.cb.OnConnected(opaque, connID)
	return nil
}

func (f *fakeBoundary) Send(connID network.ConnID, data []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{connID: connID, data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeBoundary) Close(network.ConnID) error { return nil }
func (f *fakeBoundary) Tick()                      {}

func itoa(p int) string {
	if p == 0 {
		return "0"
	}
	neg := p < 0
	if neg {
		p = -p
	}
	var buf [20]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = byte('0' + p%10)
		p /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestConnectionFanoutOneConnPerAddress(t *testing.T) {
	ctx := context.Background()
	client := fake.NewTree().NewClient()
	r := registry.New(client, "")
	require.NoError(t, r.RegisterService(ctx, svcinstance.Instance{Host: "10.0.0.7", Port: 9527, ModuleName: "g.Module", ServiceName: "1", InstanceID: "1", Healthy: true}))
	require.NoError(t, r.RegisterService(ctx, svcinstance.Instance{Host: "10.0.0.7", Port: 9527, ModuleName: "g.Module", ServiceName: "2", InstanceID: "2", Healthy: true}))
	require.NoError(t, r.RegisterService(ctx, svcinstance.Instance{Host: "10.0.0.8", Port: 9527, ModuleName: "h.Module", ServiceName: "3", InstanceID: "3", Healthy: true}))

	d := discovery.New(client, "/basenode")
	b := newFakeBoundary()
	rt := router.New()
	m, err := clusterrouter.New(d, b, rt)
	require.NoError(t, err)

	require.NoError(t, m.Init(rt))
	require.NoError(t, m.PostAllInit())

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Len(t, b.byAddr, 2, "expected exactly two outbound connections, one per address")
}

func TestForwardsRequestToResolvedInstance(t *testing.T) {
	ctx := context.Background()
	client := fake.NewTree().NewClient()
	r := registry.New(client, "")
	key := idhash.HashServiceKey("303")
	require.NoError(t, r.RegisterService(ctx, svcinstance.Instance{Host: "10.0.0.1", Port: 9527, ModuleName: "g.Module", ServiceName: "303", InstanceID: "303", Healthy: true}))

	d := discovery.New(client, "/basenode")
	b := newFakeBoundary()
	rt := router.New()
	m, err := clusterrouter.New(d, b, rt)
	require.NoError(t, err)
	require.NoError(t, m.Init(rt))
	require.NoError(t, m.PostAllInit())

	req := frame.Frame{Kind: frame.Request, Key: key, ClientID: idhash.ClientIDOf(idhash.HashModuleID("p.Module")), Payload: []byte("ping")}
	raw := frame.Encode(req)

	// Deliver the frame as if it arrived on some inbound connection
	// (e.g. from another cluster router) by invoking the callback
	// wiring the same way the boundary would.
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	cb.OnReceived(network.ConnID(999), raw)

	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.sent, 1)
	gotFrame, err := frame.Decode(b.sent[0].data)
	require.NoError(t, err)
	assert.Equal(t, key, gotFrame.Key)
}
