// Package moduleapi defines the contract every plug-in module satisfies
// toward the Container and toward the Router, plus a Base implementation a
// concrete module embeds and specializes via three hooks.
package moduleapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nodefabric/basenode/internal/errs"
	"github.com/nodefabric/basenode/internal/frame"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/mailbox"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultCallTimeout is the default RPC deadline (spec §5).
const DefaultCallTimeout = 5 * time.Second

// State is the module lifecycle state machine (spec §4.2). Transitions are
// one-shot: Unregistered -> Registered -> Initialized -> PostInit ->
// Running -> Uninitialized.
type State int

const (
	Unregistered State = iota
	Registered
	Initialized
	PostInit
	Running
	Uninitialized
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Registered:
		return "Registered"
	case Initialized:
		return "Initialized"
	case PostInit:
		return "PostInit"
	case Running:
		return "Running"
	case Uninitialized:
		return "Uninitialized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SendFunc is an outbound egress closure bound by the Router at
// registration time. Neither send callback is ever invoked while the
// module (or the Router) holds a lock.
type SendFunc func(frame.Frame) error

// HandlerFunc answers one RPC request with a response payload, or an error
// to be serialized back to the caller.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Hooks are the three overridable lifecycle points a concrete module
// implements. Base calls these from its non-overridable container-facing
// methods.
type Hooks interface {
	// DoInit registers this module's handlers (via Base.RegisterHandler)
	// and performs any other one-time setup.
	DoInit() error
	// DoPostInit runs once every module in the container has completed
	// Init(); handler maps across the whole node are complete by then, so
	// this is the correct place for cross-module wiring.
	DoPostInit() error
	// DoTick runs once per container tick, after the mailbox has drained.
	DoTick()
	// DoUninit runs exactly once at shutdown, before Router deregistration.
	DoUninit() error
}

// NetworkHooks is an optional extension of Hooks: a module whose Hooks
// implement it takes over mailbox event dispatch entirely, in place of
// Base's default local-handler dispatch. The Router's designated network
// module (the Cluster Router) is the one module that never answers a
// request with a registered handler — it forwards the frame across a
// transport instead — so it dispatches its own mailbox this way rather
// than through handleRequest/handleResponse.
type NetworkHooks interface {
	Hooks
	DispatchNetworkEvent(e mailbox.Event)
}

// Registrar is the Router capability a module needs at Init time: just
// enough surface to register itself, without moduleapi importing router
// (which itself imports moduleapi for the Module type).
type Registrar interface {
	Register(m Module, isNetwork bool) error
	Deregister(m Module) error
}

// Module is the combined container-facing and router-facing contract every
// plug-in module satisfies.
type Module interface {
	ID() idhash.ModuleID
	ClassName() string
	IsNetworkModule() bool
	ServiceKeys() []idhash.ServiceKey
	ServiceNames() []string
	State() State

	// Router-facing.
	PushEvent(e mailbox.Event) error
	SetServerSendCB(fn SendFunc)
	SetClientSendCB(fn SendFunc)

	// Container-facing.
	Init(reg Registrar) error
	PostAllInit() error
	Tick()
	Uninit(reg Registrar)
}

// Base implements the non-overridable container-facing and router-facing
// contracts. A concrete module embeds *Base and passes itself as hooks so
// Base can call back into DoInit/DoPostInit/DoTick/DoUninit.
type Base struct {
	hooks       Hooks
	id          idhash.ModuleID
	className   string
	isNetwork   bool
	mb          *mailbox.Mailbox
	callTimeout time.Duration

	mu       sync.RWMutex
	state    State
	handlers map[idhash.ServiceKey]HandlerFunc
	names    map[idhash.ServiceKey]string

	serverSend atomic.Value // SendFunc
	clientSend atomic.Value // SendFunc

	nextCallID atomic.Uint64
	pendMu     sync.Mutex
	pending    map[uint64]chan frame.Frame
}

// NewBase constructs a Base bound to hooks. className is the module's
// fully-qualified type name; its stable hash is the ModuleID.
func NewBase(hooks Hooks, className string, isNetwork bool) *Base {
	return &Base{
		hooks:       hooks,
		id:          idhash.HashModuleID(className),
		className:   className,
		isNetwork:   isNetwork,
		mb:          mailbox.New(mailbox.DefaultCapacity),
		callTimeout: DefaultCallTimeout,
		state:       Unregistered,
		handlers:    make(map[idhash.ServiceKey]HandlerFunc),
		names:       make(map[idhash.ServiceKey]string),
		pending:     make(map[uint64]chan frame.Frame),
	}
}

func (b *Base) ID() idhash.ModuleID        { return b.id }
func (b *Base) ClassName() string          { return b.className }
func (b *Base) IsNetworkModule() bool      { return b.isNetwork }
func (b *Base) Mailbox() *mailbox.Mailbox  { return b.mb }

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// RegisterHandler is called by a concrete module's DoInit to populate its
// handler map. Must be called before Init() returns; ServiceKeys() only
// enumerates what's registered by the time DoInit finishes.
func (b *Base) RegisterHandler(key idhash.ServiceKey, h HandlerFunc) {
	b.mu.Lock()
	b.handlers[key] = h
	b.mu.Unlock()
}

// RegisterNamedHandler is RegisterHandler plus bookkeeping of the
// symbolic name the key was hashed from, so the Service Registry can
// advertise this handler under the same name a remote caller hashes to
// address it (ServiceNames; registry.RegisterService takes the name, not
// the already-opaque key).
func (b *Base) RegisterNamedHandler(name string, h HandlerFunc) {
	key := idhash.HashServiceKey(name)
	b.mu.Lock()
	b.handlers[key] = h
	b.names[key] = name
	b.mu.Unlock()
}

// ServiceKeys enumerates the handler keys registered during DoInit.
func (b *Base) ServiceKeys() []idhash.ServiceKey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]idhash.ServiceKey, 0, len(b.handlers))
	for k := range b.handlers {
		keys = append(keys, k)
	}
	return keys
}

// ServiceNames enumerates the symbolic names of handlers registered via
// RegisterNamedHandler. A handler registered through the lower-level
// RegisterHandler (key already known, no symbolic name) is not included.
func (b *Base) ServiceNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.names))
	for _, n := range b.names {
		names = append(names, n)
	}
	return names
}

func (b *Base) handlerFor(key idhash.ServiceKey) (HandlerFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[key]
	return h, ok
}

// SetServerSendCB binds the server-side egress closure (used to ship
// handler responses back out).
func (b *Base) SetServerSendCB(fn SendFunc) { b.serverSend.Store(fn) }

// SetClientSendCB binds the client-side egress closure (used to ship
// outbound requests).
func (b *Base) SetClientSendCB(fn SendFunc) { b.clientSend.Store(fn) }

func (b *Base) serverSendCB() SendFunc {
	v, _ := b.serverSend.Load().(SendFunc)
	return v
}

func (b *Base) clientSendCB() SendFunc {
	v, _ := b.clientSend.Load().(SendFunc)
	return v
}

// Init registers this module with reg; if registration fails, DoInit is
// never called and the module stays Registered-or-earlier. On success it
// calls DoInit. Handler keys only exist once DoInit has run, so a
// non-network module that registered any is then re-registered with reg
// to have them indexed (collision check and rollback included). Any
// init-phase failure leaves the module in Registered and the Container
// aborts load.
func (b *Base) Init(reg Registrar) error {
	if b.State() != Unregistered {
		return errs.Newf(errs.InvalidArguments, "module %s: Init called from state %s", b.className, b.State())
	}
	if err := reg.Register(b, b.isNetwork); err != nil {
		return err
	}
	b.setState(Registered)
	if err := b.hooks.DoInit(); err != nil {
		return err
	}
	if !b.isNetwork && len(b.ServiceKeys()) > 0 {
		if err := reg.Deregister(b); err != nil {
			return err
		}
		if err := reg.Register(b, false); err != nil {
			return err
		}
	}
	b.setState(Initialized)
	return nil
}

// PostAllInit is called by the Container once every module has completed
// Init().
func (b *Base) PostAllInit() error {
	if err := b.hooks.DoPostInit(); err != nil {
		return err
	}
	b.setState(PostInit)
	return nil
}

// Tick drains the mailbox, dispatching each event, then calls DoTick.
func (b *Base) Tick() {
	if b.State() == PostInit {
		b.setState(Running)
	}
	b.drainOnce()
	b.hooks.DoTick()
}

func (b *Base) drainOnce() {
	for {
		e, ok := b.mb.TryPop()
		if !ok {
			return
		}
		b.dispatch(e)
	}
}

func (b *Base) dispatch(e mailbox.Event) {
	if nh, ok := b.hooks.(NetworkHooks); ok {
		nh.DispatchNetworkEvent(e)
		return
	}
	switch e.Kind {
	case mailbox.RpcRequest:
		b.handleRequest(e.Bytes)
	case mailbox.RpcResponse:
		b.handleResponse(e.Bytes)
	default:
		log.L().Warn("mailbox: discarding event of unknown kind",
			zap.String("module", b.className), zap.Int("kind", int(e.Kind)))
	}
}

func (b *Base) handleRequest(raw []byte) {
	fr, err := frame.Decode(raw)
	if err != nil {
		log.L().Error("module: failed to decode request frame", zap.Error(err))
		return
	}
	h, ok := b.handlerFor(fr.Key)
	if !ok {
		log.L().Warn("module: no handler for service key",
			zap.String("module", b.className), zap.Uint32("key", uint32(fr.Key)))
		return
	}
	callID, payload, ok := stripCallID(fr.Payload)
	if !ok {
		log.L().Warn("module: request payload missing call id", zap.String("module", b.className))
		return
	}
	ctx := context.Background()
	resp, herr := h(ctx, payload)
	if herr != nil {
		resp = []byte(herr.Error())
	}
	send := b.serverSendCB()
	if send == nil {
		log.L().Error("module: server send callback not bound", zap.String("module", b.className))
		return
	}
	out := frame.Frame{
		Kind:     frame.Response,
		Key:      fr.Key,
		ClientID: fr.ClientID,
		Payload:  withCallID(callID, resp),
	}
	if err := send(out); err != nil {
		log.L().Error("module: failed to send response frame", zap.Error(err))
	}
}

func (b *Base) handleResponse(raw []byte) {
	fr, err := frame.Decode(raw)
	if err != nil {
		log.L().Error("module: failed to decode response frame", zap.Error(err))
		return
	}
	callID, payload, ok := stripCallID(fr.Payload)
	if !ok {
		log.L().Warn("module: response payload missing call id", zap.String("module", b.className))
		return
	}
	fr.Payload = payload
	b.pendMu.Lock()
	ch, ok := b.pending[callID]
	if ok {
		delete(b.pending, callID)
	}
	b.pendMu.Unlock()
	if !ok {
		// timed out already, or duplicate delivery: drop.
		return
	}
	ch <- fr
}

// PushEvent tries to enqueue e; on a full mailbox it performs one
// self-drain-and-retry as spec'd, failing with RecvBufferOverflow only if
// the mailbox is still full afterwards.
func (b *Base) PushEvent(e mailbox.Event) error {
	if b.mb.TryPush(e) {
		return nil
	}
	b.drainOnce()
	if b.mb.TryPush(e) {
		return nil
	}
	return errs.New(errs.RecvBufferOverflow)
}

// Call issues an outbound RPC to key with payload, blocking until a
// response arrives or ctx/the default timeout expires.
func (b *Base) Call(ctx context.Context, key idhash.ServiceKey, payload []byte) ([]byte, error) {
	send := b.clientSendCB()
	if send == nil {
		return nil, errs.Newf(errs.InvalidArguments, "module %s: client send callback not bound", b.className)
	}
	callID := b.nextCallID.Add(1)
	ch := make(chan frame.Frame, 1)
	b.pendMu.Lock()
	b.pending[callID] = ch
	b.pendMu.Unlock()

	fr := frame.Frame{
		Kind:     frame.Request,
		Key:      key,
		ClientID: idhash.ClientIDOf(b.id),
		Payload:  withCallID(callID, payload),
	}
	if err := send(fr); err != nil {
		b.pendMu.Lock()
		delete(b.pending, callID)
		b.pendMu.Unlock()
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		return resp.Payload, nil
	case <-ctx.Done():
		b.pendMu.Lock()
		delete(b.pending, callID)
		b.pendMu.Unlock()
		return nil, errs.Wrap(errs.Timeout, ctx.Err())
	}
}

// Uninit calls DoUninit (errors logged, never propagated), deregisters
// from reg — which always runs regardless of DoUninit's outcome — then
// transitions to Uninitialized.
func (b *Base) Uninit(reg Registrar) {
	if err := b.hooks.DoUninit(); err != nil {
		log.L().Error("module: DoUninit failed", zap.String("module", b.className), zap.Error(err))
	}
	if err := reg.Deregister(b); err != nil {
		log.L().Error("module: deregistration failed", zap.String("module", b.className), zap.Error(err))
	}
	b.setState(Uninitialized)
}

// withCallID prefixes payload with an 8-byte big-endian call id.
func withCallID(id uint64, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	putUint64(out, id)
	copy(out[8:], payload)
	return out
}

func stripCallID(payload []byte) (uint64, []byte, bool) {
	if len(payload) < 8 {
		return 0, nil, false
	}
	return getUint64(payload), payload[8:], true
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
