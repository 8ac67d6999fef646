package rpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/frame"
	"github.com/silicon-heaven/shvgo/internal/rpcpeer"
)

// fakeBrokerRouter answers hello/login/subscribe the way a broker
// would, enough to exercise the client's login and subscribe paths.
func fakeBrokerRouter(t *testing.T) *noderouter.Router {
	t.Helper()
	r := noderouter.NewRouter()
	rpcpeer.RegisterAppMethods(r, "fakebroker", "1.0")
	r.Method("", noderouter.Descriptor{Name: "hello", Access: access.Browse}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		m := shvdata.NewMap(nil)
		m.SetMapKey("nonce", shvdata.NewString("abc123"))
		return m, nil
	})
	r.Method("", noderouter.Descriptor{Name: "login", Access: access.Browse}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		m := shvdata.NewMap(nil)
		m.SetMapKey("clientId", shvdata.Int64(7))
		return m, nil
	})
	r.Method(".broker/currentClient", noderouter.Descriptor{Name: "subscribe", Access: access.Read}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.Bool(true), nil
	})
	return r
}

func pipeDialer(serverRouter *noderouter.Router) (Dialer, *rpcpeer.Peer) {
	var serverPeer *rpcpeer.Peer
	dial := func(ctx context.Context) (frame.Framer, frame.Kind, error) {
		a, b := net.Pipe()
		serverPeer = rpcpeer.NewPeer(frame.NewStreamFramer(a, a), frame.ChainPack, serverRouter)
		go serverPeer.Run(ctx)
		return frame.NewStreamFramer(b, b), frame.ChainPack, nil
	}
	return dial, serverPeer
}

func TestClientLoginAndCall(t *testing.T) {
	router := fakeBrokerRouter(t)
	dial, _ := pipeDialer(router)

	c := New(dial, Options{User: "alice", Password: "secret"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	result, err := c.Call(ctx, ".app", "ping", shvdata.Null())
	if err != nil {
		t.Fatalf("ping after login: %v", err)
	}
	if !result.IsNull() {
		t.Fatalf("expected Null result, got %v", result)
	}
}

func TestClientSubscribeTracksForReplay(t *testing.T) {
	router := fakeBrokerRouter(t)
	dial, _ := pipeDialer(router)

	c := New(dial, Options{User: "alice", Password: "secret"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx)

	if err := c.Subscribe(ctx, "device/**:*:chng"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.mu.Lock()
	_, tracked := c.subs["device/**:*:chng"]
	c.mu.Unlock()
	if !tracked {
		t.Fatalf("expected subscription to be tracked for replay")
	}
}

func TestLegacySubParamRejectsNonTrivialSource(t *testing.T) {
	_, err := legacySubParam("a/**:someMethod:chng")
	if err == nil {
		t.Fatalf("expected error for non-trivial source")
	}
}

func TestLegacySubParamSplitsWildcards(t *testing.T) {
	v, err := legacySubParam("a/**:*:chng")
	if err != nil {
		t.Fatalf("legacySubParam: %v", err)
	}
	if _, ok := v.Map()["paths"]; !ok {
		t.Fatalf("expected 'paths' key for wildcard path, got %v", v.MapKeys())
	}
	if _, ok := v.Map()["method"]; !ok {
		t.Fatalf("expected literal 'method' key, got %v", v.MapKeys())
	}
}
