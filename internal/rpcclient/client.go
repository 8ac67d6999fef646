// Package rpcclient wraps internal/rpcpeer with the pieces specific
// to the calling side of a connection: login, idle keepalive,
// reconnect with backoff, and subscription replay. It mirrors
// miniccc/ron.go's heartbeat-ticker-driven client loop in the teacher
// repo, generalized from a single fixed-rate heartbeat goroutine to a
// reconnect loop that re-dials, re-logs-in, and replays state after
// every disconnect.
package rpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/silicon-heaven/shvgo/pkg/minilog"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/rpcri"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/frame"
	"github.com/silicon-heaven/shvgo/internal/rpcpeer"
)

// IdleTimeout is the default inactivity window before a keepalive
// ping is sent; per spec.md a ping fires after half of it elapses.
const IdleTimeout = 180 * time.Second

// Dialer opens a fresh framed connection on demand, for both the
// initial connect and every reconnect attempt.
type Dialer func(ctx context.Context) (frame.Framer, frame.Kind, error)

// Options configures login and the peer's exposed subtree.
type Options struct {
	User           string
	Password       string
	PasswordIsSHA1 bool
	ForcePlain     bool // skip the PLAIN -> SHA1 elevation

	MountPoint          string
	DeviceID            string
	IdleWatchDogTimeOut float64

	// Router answers requests this client receives (its own .app
	// subtree plus any device methods); may be nil.
	Router *noderouter.Router

	// OnSignal, if set, is invoked for every inbound Signal message on
	// every connection this Client establishes.
	OnSignal func(msg *rpcmsg.Message)

	// MaxReconnectAttempts caps reconnects; 0 means unlimited.
	MaxReconnectAttempts int
}

// Client is a reconnecting, logged-in SHV peer.
type Client struct {
	dial Dialer
	opts Options

	mu       sync.Mutex
	peer     *rpcpeer.Peer
	ready    chan struct{} // closed and replaced each time peer becomes usable
	subs     map[string]struct{}
	subTTL   map[string]time.Duration // ri -> TTL to re-request on every (re)connect, 0 means none
	isV2Peer bool

	stop chan struct{}
}

// New returns a Client that does not yet connect; call Run to start
// the connect/login/reconnect loop.
func New(dial Dialer, opts Options) *Client {
	return &Client{
		dial:   dial,
		opts:   opts,
		ready:  make(chan struct{}),
		subs:   make(map[string]struct{}),
		subTTL: make(map[string]time.Duration),
		stop:   make(chan struct{}),
	}
}

// Run connects, logs in, and keeps the connection alive until ctx is
// cancelled, reconnecting with exponential backoff (capped at 60s) on
// every disconnect, replaying subscriptions after each successful
// reconnect.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		peer, runDone, err := c.connectOnce(ctx)
		if err != nil {
			log.Warn("rpcclient: connect failed: %v", err)
			if c.opts.MaxReconnectAttempts > 0 && attempt >= c.opts.MaxReconnectAttempts {
				return err
			}
			if !c.sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		attempt = 0

		idleCtx, idleCancel := context.WithCancel(ctx)
		go c.idleLoop(idleCtx, peer)

		select {
		case <-ctx.Done():
			idleCancel()
			return ctx.Err()
		case <-runDone:
			idleCancel()
			log.Info("rpcclient: disconnected: %v", peer.Err())
		}
	}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	backoff := time.Duration(1) << uint(attempt)
	if backoff > 60 {
		backoff = 60
	}
	select {
	case <-time.After(backoff * time.Second):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) connectOnce(ctx context.Context) (*rpcpeer.Peer, <-chan struct{}, error) {
	fr, kind, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	peer := rpcpeer.NewPeer(fr, kind, c.opts.Router)
	peer.OnSignal = c.opts.OnSignal
	runDone := make(chan struct{})
	go func() {
		peer.Run(ctx)
		close(runDone)
	}()

	if _, err := c.login(ctx, peer); err != nil {
		peer.Framer.WriteReset()
		return nil, nil, err
	}

	c.mu.Lock()
	c.peer = peer
	close(c.ready)
	c.ready = make(chan struct{})
	subs := make([]string, 0, len(c.subs))
	for ri := range c.subs {
		subs = append(subs, ri)
	}
	c.mu.Unlock()

	for _, ri := range subs {
		c.mu.Lock()
		ttl := c.subTTL[ri]
		c.mu.Unlock()
		if err := c.wireSubscribe(ctx, peer, ri, ttl); err != nil {
			log.Warn("rpcclient: failed to replay subscription %q: %v", ri, err)
		}
	}

	return peer, runDone, nil
}

func (c *Client) idleLoop(ctx context.Context, peer *rpcpeer.Peer) {
	t := time.NewTicker(IdleTimeout / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if time.Since(peer.LastSend()) < IdleTimeout/2 {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, rpcpeer.DefaultQueryTimeout)
			_, err := peer.Call(pingCtx, ".app", "ping", shvdata.Null())
			cancel()
			if err != nil {
				log.Debug("rpcclient: idle ping failed: %v", err)
			}
		}
	}
}

// currentPeer blocks until a logged-in peer is available or ctx ends.
func (c *Client) currentPeer(ctx context.Context) (*rpcpeer.Peer, error) {
	for {
		c.mu.Lock()
		p := c.peer
		ready := c.ready
		c.mu.Unlock()
		if p != nil {
			return p, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Call waits for an active logged-in connection and issues path.method
// over it, per "until the login completes, outbound user traffic is
// queued."
func (c *Client) Call(ctx context.Context, path, method string, param *shvdata.Value) (*shvdata.Value, error) {
	peer, err := c.currentPeer(ctx)
	if err != nil {
		return nil, err
	}
	return peer.Call(ctx, path, method, param)
}

// Subscribe adds ri to the replayed subscription set and installs it
// on the broker now.
func (c *Client) Subscribe(ctx context.Context, ri string) error {
	return c.SubscribeTTL(ctx, ri, 0)
}

// SubscribeTTL is Subscribe with a v3 expiry (spec.md §4.7): the
// broker drops the subscription on its own after ttl elapses unless
// it is renewed first. A reconnect replays it with the same ttl.
func (c *Client) SubscribeTTL(ctx context.Context, ri string, ttl time.Duration) error {
	peer, err := c.currentPeer(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[ri] = struct{}{}
	c.subTTL[ri] = ttl
	c.mu.Unlock()
	return c.wireSubscribe(ctx, peer, ri, ttl)
}

// Unsubscribe removes ri from the replayed set and tells the broker.
func (c *Client) Unsubscribe(ctx context.Context, ri string) error {
	peer, err := c.currentPeer(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.subs, ri)
	delete(c.subTTL, ri)
	c.mu.Unlock()

	if c.isV2Peer {
		param, err := legacySubParam(ri)
		if err != nil {
			return err
		}
		_, err = peer.Call(ctx, ".broker/app", "unsubscribe", param)
		return err
	}
	_, err = peer.Call(ctx, ".broker/currentClient", "unsubscribe", shvdata.NewString(ri))
	return err
}

func (c *Client) wireSubscribe(ctx context.Context, peer *rpcpeer.Peer, ri string, ttl time.Duration) error {
	if c.isV2Peer {
		param, err := legacySubParam(ri)
		if err != nil {
			return err
		}
		_, err = peer.Call(ctx, ".broker/app", "subscribe", param)
		return err
	}
	var param *shvdata.Value
	if ttl > 0 {
		param = shvdata.NewMap(nil)
		param.SetMapKey("ri", shvdata.NewString(ri))
		param.SetMapKey("ttl", shvdata.Int64(int64(ttl/time.Second)))
	} else {
		param = shvdata.NewString(ri)
	}
	_, err := peer.Call(ctx, ".broker/currentClient", "subscribe", param)
	return err
}

// legacySubParam builds the v2 {path,paths,method,methods} encoding
// of an RI for brokers that predate the single-RI-string subscribe
// call. A non-trivial source is disallowed because v2 subscriptions
// carry no source field at all.
func legacySubParam(riStr string) (*shvdata.Value, error) {
	ri := rpcri.Parse(riStr)
	if ri.Method != "*" && ri.Method != "" {
		return nil, fmt.Errorf("rpcclient: legacy v2 subscribe cannot express a non-trivial source (%q)", ri.Method)
	}
	m := shvdata.NewMap(nil)
	if containsWildcard(ri.Path) {
		m.SetMapKey("paths", shvdata.NewString(ri.Path))
	} else {
		m.SetMapKey("path", shvdata.NewString(ri.Path))
	}
	if containsWildcard(ri.Signal) {
		m.SetMapKey("methods", shvdata.NewString(ri.Signal))
	} else {
		m.SetMapKey("method", shvdata.NewString(ri.Signal))
	}
	return m, nil
}

func containsWildcard(s string) bool {
	for _, r := range s {
		if r == '*' {
			return true
		}
	}
	return false
}
