// Package rpcpeer implements the request/response engine shared by
// every SHV connection: one reader task per connection that dispatches
// inbound messages by shape, a caller-side Call that runs the full
// retry/progress/abort protocol, and the ls/dir introspection contract
// every path answers. It plays the role ron.Server's clientHandler and
// ron.client play together in the teacher repo -- a single decode loop
// over a framed connection, dispatching by message type -- generalized
// from ron's fixed Message.Type switch to rpcmsg's three message
// shapes, and from ron's fire-and-forget commands to a correlated
// call/response protocol with timeouts and retries.
package rpcpeer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/chainpack"
	"github.com/silicon-heaven/shvgo/pkg/cpon"
	log "github.com/silicon-heaven/shvgo/pkg/minilog"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/frame"
)

// Defaults for the Call protocol, per the query-timeout and
// retry-timeout values named in the call protocol.
const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultRetryTimeout = 500 * time.Millisecond
	DefaultCallAttempts = 3
)

// pendingCall is the slot a waiting Call blocks on.
type pendingCall struct {
	resp   chan *rpcmsg.Message
	cancel context.CancelFunc // cancels the in-flight handler, for Abort delivery to a local request we're serving
}

// Peer runs the reader task and Call protocol over one framed
// connection. It is safe for concurrent use by multiple goroutines
// calling Call, Signal, and Send.
type Peer struct {
	Framer frame.Framer
	Codec  frame.Kind

	// Router answers incoming requests (ls/dir plus registered
	// methods). May be nil, in which case every incoming request
	// fails with MethodNotFound.
	Router *noderouter.Router

	// AccessFor computes the access level granted to an incoming
	// request; nil grants access.Admin unconditionally, the right
	// default for a peer not embedded in a broker.
	AccessFor func(msg *rpcmsg.Message) access.Level

	// OnSignal is invoked for every inbound Signal message. May be nil.
	OnSignal func(msg *rpcmsg.Message)

	// RequestHandler, when set, takes over request handling completely,
	// bypassing Router/AccessFor/the built-in ls/dir contract -- the
	// hook internal/rpcbroker uses to implement mount-prefix routing
	// and the .broker admin subtree, neither of which fits the plain single-tree dispatch Router gives a
	// standalone peer or client.
	RequestHandler func(ctx context.Context, msg *rpcmsg.Message) (*shvdata.Value, error)

	// UserID is sent on a re-sent request after a UserIDRequired
	// error, per the call protocol's step 6.
	UserID string

	queryTimeoutDuration time.Duration
	retryTimeoutDuration time.Duration
	callAttempts         int

	mu       sync.Mutex
	pending  map[uint64]*pendingCall
	inflight map[uint64]context.CancelFunc // requests we are currently serving, for Abort
	nextID   uint64

	writeMu  sync.Mutex
	lastSend int64 // unix nanoseconds, for rpcclient's idle-ping timer

	closed   chan struct{}
	closeErr error
	once     sync.Once
}

// LastSend returns when Send last succeeded in writing a frame, the
// basis for rpcclient's idle keepalive.
func (p *Peer) LastSend() time.Time {
	ns := atomic.LoadInt64(&p.lastSend)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// NewPeer wraps fr as a peer speaking codec kind, dispatching requests
// through router (nil is valid: every request then fails NotFound).
func NewPeer(fr frame.Framer, kind frame.Kind, router *noderouter.Router) *Peer {
	return &Peer{
		Framer:               fr,
		Codec:                kind,
		Router:               router,
		queryTimeoutDuration: DefaultQueryTimeout,
		retryTimeoutDuration: DefaultRetryTimeout,
		callAttempts:         DefaultCallAttempts,
		pending:              make(map[uint64]*pendingCall),
		inflight:             make(map[uint64]context.CancelFunc),
		closed:               make(chan struct{}),
	}
}

func (p *Peer) queryTimeout() time.Duration {
	if p.queryTimeoutDuration == 0 {
		return DefaultQueryTimeout
	}
	return p.queryTimeoutDuration
}

func (p *Peer) retryTimeout() time.Duration {
	if p.retryTimeoutDuration == 0 {
		return DefaultRetryTimeout
	}
	return p.retryTimeoutDuration
}

func (p *Peer) attempts() int {
	if p.callAttempts == 0 {
		return DefaultCallAttempts
	}
	return p.callAttempts
}

// SetTimeouts overrides the default query/retry timeouts and attempt
// count.
func (p *Peer) SetTimeouts(query, retry time.Duration, attempts int) {
	p.queryTimeoutDuration = query
	p.retryTimeoutDuration = retry
	p.callAttempts = attempts
}

// Done returns a channel closed when Run returns.
func (p *Peer) Done() <-chan struct{} { return p.closed }

// Err returns the error that caused Run to return, if any.
func (p *Peer) Err() error { return p.closeErr }

func (p *Peer) close(err error) {
	p.once.Do(func() {
		p.closeErr = err
		close(p.closed)
	})
}

// Run reads frames until the connection ends or ctx is cancelled,
// dispatching each decoded message. Run blocks; call it in its own
// goroutine, mirroring ron.Server's one-clientHandler-goroutine-per-
// connection shape.
func (p *Peer) Run(ctx context.Context) error {
	defer p.close(ctx.Err())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := p.Framer.ReadFrame()
		if err != nil {
			if err == frame.ErrReset {
				p.handleReset()
				continue
			}
			return err
		}

		kind, body, err := frame.SplitProtocol(payload)
		if err != nil {
			log.Debug("rpcpeer: dropping malformed frame: %v", err)
			continue
		}

		v, err := decodeBody(kind, body)
		if err != nil {
			log.Debug("rpcpeer: dropping undecodable frame: %v", err)
			continue
		}

		msg := rpcmsg.FromValue(v)
		p.dispatch(ctx, msg)
	}
}

func decodeBody(kind frame.Kind, body []byte) (*shvdata.Value, error) {
	switch kind {
	case frame.ChainPack:
		return chainpack.Unmarshal(body)
	case frame.Cpon:
		return cpon.Unmarshal(body)
	default:
		return nil, fmt.Errorf("rpcpeer: unknown codec %v", kind)
	}
}

func encodeBody(kind frame.Kind, v *shvdata.Value) ([]byte, error) {
	switch kind {
	case frame.ChainPack:
		return chainpack.Marshal(v)
	case frame.Cpon:
		return cpon.Marshal(v)
	default:
		return nil, fmt.Errorf("rpcpeer: unknown codec %v", kind)
	}
}

// handleReset handles a Reset control message by waking every
// outstanding caller with a retriable TryAgainLater failure. No
// capability cache is dropped and no login is restarted, here or in
// internal/rpcclient.
func (p *Peer) handleReset() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[uint64]*pendingCall)
	p.mu.Unlock()

	resetErr := rpcmsg.NewError(rpcmsg.TryAgainLater, "connection reset")
	for id, pc := range pending {
		resp := rpcmsg.NewResponse(id, nil).SetErr(resetErr)
		pc.resp <- resp
		close(pc.resp)
	}
}

func (p *Peer) dispatch(ctx context.Context, msg *rpcmsg.Message) {
	switch {
	case msg.IsSignal():
		if p.OnSignal != nil {
			p.OnSignal(msg)
		}
	case msg.IsResponse():
		p.deliverResponse(msg)
	case msg.IsRequest():
		p.handleRequest(ctx, msg)
	default:
		log.Debug("rpcpeer: message matches no known shape")
	}
}

func (p *Peer) deliverResponse(msg *rpcmsg.Message) {
	id, ok := msg.RequestID()
	if !ok {
		return
	}
	p.mu.Lock()
	pc, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return // unknown or already-resolved request id; drop
	}
	pc.resp <- msg
	close(pc.resp)
}

// Send frames and writes msg as-is, for signals or hand-built
// responses.
func (p *Peer) Send(msg *rpcmsg.Message) error {
	body, err := encodeBody(p.Codec, msg.Value())
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.Framer.WriteFrame(frame.WithProtocol(p.Codec, body)); err != nil {
		return err
	}
	atomic.StoreInt64(&p.lastSend, time.Now().UnixNano())
	return nil
}

// Signal sends a Signal message for method at path with param.
func (p *Peer) Signal(path, method string, param *shvdata.Value) error {
	m := rpcmsg.NewSignal(method).SetPath(path)
	m.SetParam(param)
	return p.Send(m)
}

func (p *Peer) allocID() uint64 {
	return atomic.AddUint64(&p.nextID, 1)
}

// Call runs the full client-side call protocol against path/method,
// returning the terminal result or a *rpcmsg.RPCError/other error.
func (p *Peer) Call(ctx context.Context, path, method string, param *shvdata.Value) (*shvdata.Value, error) {
	withUserID := false
	attemptsUsed := 0
	id := p.allocID()

	for {
		req := rpcmsg.NewRequest(id, method).SetPath(path)
		req.SetParam(param)
		if withUserID {
			req.SetUserID(p.UserID)
		}

		result, rerr, transient, err := p.callOnce(ctx, id, req)
		if err != nil {
			return nil, err
		}
		if !transient {
			if rerr != nil {
				return nil, rerr
			}
			return result, nil
		}

		switch rerr.Kind {
		case rpcmsg.UserIDRequired:
			withUserID = true
			id = p.allocID()
			continue // new id, not counted as an attempt
		case rpcmsg.TryAgainLater:
			select {
			case <-time.After(p.retryTimeout()):
			case <-ctx.Done():
				p.sendAbort(id)
				return nil, ctx.Err()
			}
			id = p.allocID()
			continue // new id, not counted as an attempt
		default:
			attemptsUsed++
			if attemptsUsed >= p.attempts() {
				return nil, rpcmsg.NewError(rpcmsg.MethodCallTimeout, "call attempts exceeded")
			}
			// re-send with the SAME id, per step 4.
		}
	}
}

// callOnce sends req once and waits for its resolution, handling the
// query-timeout retry-same-id loop (step 4) and progress responses
// (step 5) internally; it returns to Call only on a terminal result,
// a non-retriable error, or a retriable error that Call itself must
// act on (UserIDRequired/TryAgainLater).
func (p *Peer) callOnce(ctx context.Context, id uint64, req *rpcmsg.Message) (result *shvdata.Value, rerr *rpcmsg.RPCError, transient bool, err error) {
	pc := &pendingCall{resp: make(chan *rpcmsg.Message, 1)}
	p.mu.Lock()
	p.pending[id] = pc
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if sendErr := p.Send(req); sendErr != nil {
		return nil, nil, false, sendErr
	}

	timer := time.NewTimer(p.queryTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.sendAbort(id)
			return nil, nil, false, ctx.Err()

		case <-timer.C:
			// step 4: timeout without response -> resend same id.
			if sendErr := p.Send(req); sendErr != nil {
				return nil, nil, false, sendErr
			}
			timer.Reset(p.queryTimeout())

		case resp, ok := <-pc.resp:
			if !ok {
				return nil, nil, false, fmt.Errorf("rpcpeer: call aborted")
			}
			// step 5: either shape of progress response resets the
			// timer and keeps waiting on the same request id.
			if _, hasDelay := resp.Delay(); hasDelay {
				timer.Reset(p.queryTimeout())
				// deliverResponse closed the old channel; wait on a
				// fresh one.
				pc = &pendingCall{resp: make(chan *rpcmsg.Message, 1)}
				p.mu.Lock()
				p.pending[id] = pc
				p.mu.Unlock()
				continue
			}
			if e := resp.Err(); e != nil {
				if e.Kind == rpcmsg.UserIDRequired || e.Kind == rpcmsg.TryAgainLater || rpcmsg.IsRetriable(e) {
					return nil, e, true, nil
				}
				return nil, e, false, nil
			}
			return resp.Result(), nil, false, nil
		}
	}
}

func (p *Peer) resend(id uint64, req *rpcmsg.Message) error {
	pc := &pendingCall{resp: make(chan *rpcmsg.Message, 1)}
	p.mu.Lock()
	p.pending[id] = pc
	p.mu.Unlock()
	return p.Send(req)
}

func (p *Peer) sendAbort(id uint64) {
	m := rpcmsg.NewRequest(id, "").SetAbort()
	_ = p.Send(m)
}

// handleRequest answers an inbound request by running the handler in
// its own goroutine (so a slow handler never blocks the reader task),
// tracking it so a subsequent Abort can cancel it.
func (p *Peer) handleRequest(ctx context.Context, msg *rpcmsg.Message) {
	id, _ := msg.RequestID()

	if msg.IsAbort() {
		p.mu.Lock()
		cancel, ok := p.inflight[id]
		p.mu.Unlock()
		if ok {
			cancel()
		}
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.inflight[id] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, id)
			p.mu.Unlock()
			cancel()
		}()

		result, err := p.serve(callCtx, msg)

		resp := rpcmsg.NewResponse(id, msg.CallerIDs())
		if err != nil {
			if callCtx.Err() != nil {
				resp.SetErr(rpcmsg.NewError(rpcmsg.RequestInvalid, "Request cancelled"))
			} else {
				resp.SetErr(rpcmsg.AsRPCError(err))
			}
		} else {
			resp.SetResult(result)
		}
		if sendErr := p.Send(resp); sendErr != nil {
			log.Debug("rpcpeer: failed to send response: %v", sendErr)
		}
	}()
}

func (p *Peer) serve(ctx context.Context, msg *rpcmsg.Message) (*shvdata.Value, error) {
	if p.RequestHandler != nil {
		return p.RequestHandler(ctx, msg)
	}

	path, _ := msg.Path()
	method, _ := msg.Method()
	userID, _ := msg.UserID()

	level := access.Admin
	if p.AccessFor != nil {
		level = p.AccessFor(msg)
	}

	if p.Router == nil {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, fmt.Sprintf("%s:%s", path, method))
	}

	switch method {
	case "ls":
		return ServeLs(p.Router, path, msg.Param())
	case "dir":
		return ServeDir(p.Router, path, msg.Param())
	default:
		result, err := p.Router.Call(ctx, &noderouter.Call{
			Path: path, Method: method, Param: msg.Param(), Access: level, UserID: userID,
		})
		if err != nil {
			return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, err.Error())
		}
		return result, nil
	}
}

// ServeLs answers the generic ls contract against any router, exported
// so internal/rpcbroker can reuse it for the broker's own local
// subtree (.app, .broker, and the synthetic top-level mount listing)
// without duplicating the Null/String dispatch rule.
func ServeLs(router *noderouter.Router, path string, param *shvdata.Value) (*shvdata.Value, error) {
	if param != nil && param.Kind == shvdata.KindString {
		return shvdata.Bool(router.Exists(path, param.String2())), nil
	}
	children, ok := router.Ls(path)
	if !ok {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, fmt.Sprintf("no such path %q", path))
	}
	out := shvdata.NewList()
	for _, c := range children {
		out.AppendList(shvdata.NewString(c))
	}
	return out, nil
}

// ServeDir is ServeLs's counterpart for the dir contract.
func ServeDir(router *noderouter.Router, path string, param *shvdata.Value) (*shvdata.Value, error) {
	if param != nil && param.Kind == shvdata.KindString {
		return shvdata.Bool(router.HasMethod(path, param.String2())), nil
	}
	descs, ok := router.Dir(path)
	if !ok {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, fmt.Sprintf("no such path %q", path))
	}
	out := shvdata.NewList()
	for _, d := range descs {
		out.AppendList(d.ToValue())
	}
	return out, nil
}
