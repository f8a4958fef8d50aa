// Package wsboundary implements network.Boundary over
// github.com/gorilla/websocket, the concrete transport grounded on the
// retrieval pack's sneh-joshi-epochq repo (its server/client pair dials
// and upgrades with the same library). Each Frame (§3) travels as one
// binary websocket message.
package wsboundary

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/network"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Boundary implements network.Boundary with one websocket connection per
// ConnID, a dedicated read-pump goroutine per connection, and a shared
// write mutex per connection (gorilla/websocket forbids concurrent
// writers on one *websocket.Conn).
type Boundary struct {
	cb network.Callbacks

	nextConnID atomic.Uint64
	mu         sync.Mutex
	conns      map[network.ConnID]*wsConn

	listener net.Listener
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New builds an unstarted Boundary.
func New() *Boundary {
	return &Boundary{conns: make(map[network.ConnID]*wsConn)}
}

func (b *Boundary) Start(_ int, cb network.Callbacks) error {
	b.cb = cb
	return nil
}

func (b *Boundary) Listen(_ context.Context, ip string, port int) error {
	addr := fmt.Sprintf("%s:%d", ip, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if b.cb.OnBound != nil {
			b.cb.OnBound(err)
		}
		return err
	}
	b.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/basenode/frame", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.L().Error("wsboundary: upgrade failed", zap.Error(err))
			return
		}
		id := b.track(conn)
		if b.cb.OnAccepted != nil {
			b.cb.OnAccepted(id)
		}
		go b.readPump(id, conn)
	})
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && b.cb.OnBound == nil {
			log.L().Error("wsboundary: listener stopped", zap.Error(err))
		}
	}()
	if b.cb.OnBound != nil {
		b.cb.OnBound(nil)
	}
	return nil
}

func (b *Boundary) Connect(_ context.Context, opaque network.Opaque, host string, port int) error {
	go func() {
		url := fmt.Sprintf("ws://%s:%d/basenode/frame", host, port)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			if b.cb.OnConnectFailed != nil {
				b.cb.OnConnectFailed(opaque, err)
			}
			return
		}
		id := b.track(conn)
		if b.cb.OnConnected != nil {
			b.cb.OnConnected(opaque, id)
		}
		b.readPump(id, conn)
	}()
	return nil
}

func (b *Boundary) track(conn *websocket.Conn) network.ConnID {
	id := network.ConnID(b.nextConnID.Add(1))
	b.mu.Lock()
	b.conns[id] = &wsConn{conn: conn}
	b.mu.Unlock()
	return id
}

func (b *Boundary) readPump(id network.ConnID, conn *websocket.Conn) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			delete(b.conns, id)
			b.mu.Unlock()
			if b.cb.OnClose != nil {
				b.cb.OnClose(id, err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if b.cb.OnReceived != nil {
			b.cb.OnReceived(id, data)
		}
	}
}

func (b *Boundary) Send(id network.ConnID, data []byte) error {
	b.mu.Lock()
	wc, ok := b.conns[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("wsboundary: unknown connection %d", id)
	}
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	return wc.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (b *Boundary) Close(id network.ConnID) error {
	b.mu.Lock()
	wc, ok := b.conns[id]
	delete(b.conns, id)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return wc.conn.Close()
}

// Tick is a no-op: delivery is entirely goroutine/callback driven.
func (b *Boundary) Tick() {}

var _ network.Boundary = (*Boundary)(nil)
