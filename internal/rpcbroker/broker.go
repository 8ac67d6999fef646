// Package rpcbroker implements the SHV broker: a peer hub that owns
// the connected-peer registry, the mount table, the subscription
// registry, and the broker-local admin subtree. It plays the role
// ron.Server plays in the teacher repo -- a registry of live client
// connections plus a request/response router between them -- but
// generalizes ron's fixed client/master topology to mount-prefix
// routing between arbitrarily many peers, any of which may itself be
// a sub-broker.
package rpcbroker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	log "github.com/silicon-heaven/shvgo/pkg/minilog"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/frame"
	"github.com/silicon-heaven/shvgo/internal/rpcpeer"
)

// LoginRequest is what a peer's login call presents to Config.Login.
type LoginRequest struct {
	User       string
	Password   string
	LoginType  string // "PLAIN" or "SHA1"
	Nonce      string
	DeviceID   string
	MountPoint string // explicitly requested by the peer, may be empty
}

// LoginResult is what Config.Login grants a successfully authenticated
// peer.
type LoginResult struct {
	Roles                []string
	InitialSubscriptions []string
}

// Config is the broker-wide configuration: credential/role resolution,
// the access ladder, and autosetup mount-point rules.
type Config struct {
	Name      string
	Access    *access.Config
	Login     func(req LoginRequest) (LoginResult, error)
	Autosetup []AutosetupRule

	InactivityTimeout time.Duration // default 5s, per §4.8.1
}

func (c *Config) inactivityTimeout() time.Duration {
	if c.InactivityTimeout == 0 {
		return 5 * time.Second
	}
	return c.InactivityTimeout
}

// PeerConn is one connected, logged-in peer.
type PeerConn struct {
	ID       int64
	Peer     *rpcpeer.Peer
	UserName string
	DeviceID string
	Roles    []string

	mu                 sync.Mutex
	mountPoint         string
	subscriptions      map[string]struct{}
	subscriptionTimers map[string]*time.Timer // ri -> pending TTL expiry, v3 subscriptions only
	upstreamRefs       map[string]int         // relative RI -> local subscriber count, for sub-broker forwarding
	isSubBroker        bool
	connectedAt        time.Time
}

func (pc *PeerConn) MountPoint() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.mountPoint
}

func (pc *PeerConn) Subscriptions() []string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := make([]string, 0, len(pc.subscriptions))
	for ri := range pc.subscriptions {
		out = append(out, ri)
	}
	return out
}

// Broker is a peer hub: the live registry of peers, the mount table,
// and the subscription registry, all protected by one lock since
// mount/subscribe/route decisions routinely need a consistent view of
// more than one of them at once.
type Broker struct {
	cfg Config

	mu         sync.Mutex
	peers      map[int64]*PeerConn
	mounts     map[string]int64 // mount path -> peer id
	nextPeerID int64

	router *noderouter.Router // the broker-local subtree: .app, .broker
}

// New returns a Broker ready to Accept connections.
func New(cfg Config) *Broker {
	b := &Broker{
		cfg:    cfg,
		peers:  make(map[int64]*PeerConn),
		mounts: make(map[string]int64),
	}
	b.router = noderouter.NewRouter()
	rpcpeer.RegisterAppMethods(b.router, "shvbroker", "1.0")
	b.registerAdminSubtree()
	return b
}

func (b *Broker) allocPeerID() int64 {
	b.nextPeerID++
	return b.nextPeerID
}

func randomNonce() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Accept performs the LoginPeer handshake over fr, then -- on success
// -- runs the peer's full message loop until it disconnects. Accept
// blocks for the whole connection lifetime; call it in its own
// goroutine per accepted connection.
func (b *Broker) Accept(ctx context.Context, fr frame.Framer, kind frame.Kind) {
	nonce := randomNonce()
	loginPeer := rpcpeer.NewPeer(fr, kind, nil)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var loggedIn int32
	deadline := time.AfterFunc(b.cfg.inactivityTimeout(), func() {
		if atomic.CompareAndSwapInt32(&loggedIn, 0, -1) {
			log.Debug("rpcbroker: peer failed to log in within the inactivity deadline")
			fr.WriteReset()
			cancelRun()
		}
	})
	defer deadline.Stop()

	loginPeer.RequestHandler = func(ctx context.Context, msg *rpcmsg.Message) (*shvdata.Value, error) {
		method, _ := msg.Method()
		switch method {
		case "hello":
			m := shvdata.NewMap(nil)
			m.SetMapKey("nonce", shvdata.NewString(nonce))
			return m, nil
		case "login":
			pc, err := b.handleLogin(msg, nonce)
			if err != nil {
				return nil, err
			}
			if !atomic.CompareAndSwapInt32(&loggedIn, 0, 1) {
				// the inactivity deadline raced us and already reset
				// the connection; nothing left to wire up.
				return nil, rpcmsg.NewError(rpcmsg.TryAgainLater, "login deadline already expired")
			}
			deadline.Stop()
			loginPeer.Router = nil // a PeerConn owns routing from here on
			result := shvdata.NewMap(nil)
			result.SetMapKey("clientId", shvdata.Int64(pc.ID))
			b.wireUpPeer(pc, loginPeer)
			return result, nil
		default:
			return nil, rpcmsg.NewError(rpcmsg.LoginRequired, "hello/login required before any other call")
		}
	}

	loginPeer.Run(runCtx)
}

func (b *Broker) handleLogin(msg *rpcmsg.Message, nonce string) (*PeerConn, error) {
	param := msg.Param()
	if param == nil || param.Kind != shvdata.KindMap {
		return nil, rpcmsg.NewError(rpcmsg.InvalidParam, "login: expected a map param")
	}
	loginMap, _ := param.Map()["login"]
	optionsMap, _ := param.Map()["options"]

	req := LoginRequest{Nonce: nonce}
	if loginMap != nil {
		if v, ok := loginMap.Map()["user"]; ok {
			req.User = v.String2()
		}
		if v, ok := loginMap.Map()["password"]; ok {
			req.Password = v.String2()
		}
		if v, ok := loginMap.Map()["type"]; ok {
			req.LoginType = v.String2()
		}
	}
	if optionsMap != nil {
		if dev, ok := optionsMap.Map()["device"]; ok && dev != nil {
			if v, ok := dev.Map()["deviceId"]; ok {
				req.DeviceID = v.String2()
			}
			if v, ok := dev.Map()["mountPoint"]; ok {
				req.MountPoint = v.String2()
			}
		}
	}

	if b.cfg.Login == nil {
		return nil, rpcmsg.NewError(rpcmsg.LoginRequired, "broker has no login configuration")
	}
	result, err := b.cfg.Login(req)
	if err != nil {
		return nil, rpcmsg.NewError(rpcmsg.InvalidParam, err.Error())
	}

	mountPoint := req.MountPoint
	if mountPoint == "" && req.DeviceID != "" {
		mountPoint = b.generateMountPoint(req.DeviceID, result.Roles)
	}

	b.mu.Lock()
	if mountPoint != "" {
		if err := b.checkMountCollisionLocked(mountPoint); err != nil {
			b.mu.Unlock()
			return nil, rpcmsg.NewError(rpcmsg.MethodCallException, "Mount point already mounted")
		}
	}
	pc := &PeerConn{
		ID:            b.allocPeerID(),
		UserName:      req.User,
		DeviceID:      req.DeviceID,
		Roles:         result.Roles,
		subscriptions: make(map[string]struct{}),
		connectedAt:   time.Now(),
	}
	b.peers[pc.ID] = pc
	if mountPoint != "" {
		pc.mountPoint = mountPoint
		b.mounts[mountPoint] = pc.ID
	}
	b.mu.Unlock()

	for _, ri := range result.InitialSubscriptions {
		b.Subscribe(pc.ID, ri)
	}

	if mountPoint != "" {
		b.emitLsmod(parentPath(mountPoint), lastSegment(mountPoint), true)
	}

	return pc, nil
}

// wireUpPeer installs pc as the handler of every subsequent request on
// peer, now that login has completed. It returns immediately -- the
// login response still needs to go out on this same request's reply
// path -- and tracks the connection's remaining lifetime in the
// background.
func (b *Broker) wireUpPeer(pc *PeerConn, peer *rpcpeer.Peer) {
	pc.Peer = peer
	peer.RequestHandler = func(ctx context.Context, msg *rpcmsg.Message) (*shvdata.Value, error) {
		return b.route(ctx, pc, msg)
	}
	peer.OnSignal = func(msg *rpcmsg.Message) {
		b.routeSignal(pc, msg)
	}

	go b.probeSubBroker(pc)

	go func() {
		<-peer.Done()
		b.disconnect(pc)
	}()
}

func (b *Broker) probeSubBroker(pc *PeerConn) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultQueryTimeout)
	defer cancel()
	result, err := pc.Peer.Call(ctx, ".broker", "ls", shvdata.NewString(""))
	if err != nil {
		return
	}
	if result != nil && result.Kind == shvdata.KindBool && result.Bool() {
		pc.mu.Lock()
		pc.isSubBroker = true
		pc.mu.Unlock()
	}
}

func (b *Broker) disconnect(pc *PeerConn) {
	b.mu.Lock()
	delete(b.peers, pc.ID)
	mountPoint := pc.mountPoint
	if mountPoint != "" {
		delete(b.mounts, mountPoint)
	}
	b.mu.Unlock()

	for _, ri := range pc.Subscriptions() {
		b.Unsubscribe(pc.ID, ri)
	}

	if mountPoint != "" {
		b.emitLsmod(parentPath(mountPoint), lastSegment(mountPoint), false)
	}
	log.Info("rpcbroker: peer %d disconnected", pc.ID)
}

func parentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func lastSegment(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func (b *Broker) checkMountCollisionLocked(mountPoint string) error {
	for existing := range b.mounts {
		if isStrictPrefix(mountPoint, existing) || isStrictPrefix(existing, mountPoint) || mountPoint == existing {
			return fmt.Errorf("mount collision with %q", existing)
		}
	}
	return nil
}

func isStrictPrefix(prefix, path string) bool {
	if prefix == path {
		return false
	}
	return strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+".")
}
