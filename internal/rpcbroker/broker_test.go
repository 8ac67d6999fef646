package rpcbroker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/frame"
	"github.com/silicon-heaven/shvgo/internal/rpcclient"
)

func testAccessConfig(t *testing.T) *access.Config {
	t.Helper()
	cfg := access.NewConfig()
	role, err := access.NewRole("admin", "**:*:*:su")
	if err != nil {
		t.Fatalf("NewRole: %v", err)
	}
	cfg.AddRole(role)
	return cfg
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	return New(Config{
		Name:   "testbroker",
		Access: testAccessConfig(t),
		Login: func(req LoginRequest) (LoginResult, error) {
			return LoginResult{Roles: []string{"admin"}}, nil
		},
	})
}

// dialBrokerClient connects a rpcclient.Client to b over an in-memory
// pipe, running b.Accept on the server side of the pipe.
func dialBrokerClient(ctx context.Context, b *Broker, opts rpcclient.Options) *rpcclient.Client {
	dial := func(ctx context.Context) (frame.Framer, frame.Kind, error) {
		serverSide, clientSide := net.Pipe()
		go b.Accept(ctx, frame.NewStreamFramer(serverSide, serverSide), frame.ChainPack)
		return frame.NewStreamFramer(clientSide, clientSide), frame.ChainPack, nil
	}
	return rpcclient.New(dial, opts)
}

func TestBrokerLoginAndPing(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := dialBrokerClient(ctx, b, rpcclient.Options{User: "alice", Password: "secret"})
	go c.Run(ctx)

	result, err := c.Call(ctx, ".app", "ping", shvdata.Null())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !result.IsNull() {
		t.Fatalf("expected Null, got %v", result)
	}
}

func TestBrokerNameAdminMethod(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := dialBrokerClient(ctx, b, rpcclient.Options{User: "alice", Password: "secret"})
	go c.Run(ctx)

	result, err := c.Call(ctx, ".broker", "name", shvdata.Null())
	if err != nil {
		t.Fatalf(".broker/name: %v", err)
	}
	if result.String2() != "testbroker" {
		t.Fatalf("expected %q, got %q", "testbroker", result.String2())
	}
}

func TestBrokerMountCollision(t *testing.T) {
	b := newTestBroker(t)
	b.mounts["test/device1"] = 1
	b.peers[1] = &PeerConn{ID: 1, subscriptions: make(map[string]struct{})}

	if err := b.checkMountCollisionLocked("test/device1"); err == nil {
		t.Fatalf("expected collision error for identical mount")
	}
	if err := b.checkMountCollisionLocked("test/device1/sub"); err == nil {
		t.Fatalf("expected collision error for child of existing mount")
	}
	if err := b.checkMountCollisionLocked("test"); err == nil {
		t.Fatalf("expected collision error for ancestor of existing mount")
	}
	if err := b.checkMountCollisionLocked("test/device2"); err != nil {
		t.Fatalf("expected sibling mount to be free, got %v", err)
	}
}

func TestAutosetupMountPointExpansion(t *testing.T) {
	b := New(Config{
		Name:   "testbroker",
		Access: testAccessConfig(t),
		Autosetup: []AutosetupRule{
			{MountPattern: "test/device-%i"},
		},
	})

	first := b.generateMountPoint("dev1", nil)
	if first != "test/device-0" {
		t.Fatalf("expected test/device-0, got %q", first)
	}

	b.mu.Lock()
	b.mounts[first] = 1
	b.mu.Unlock()

	second := b.generateMountPoint("dev2", nil)
	if second != "test/device-1" {
		t.Fatalf("expected test/device-1, got %q", second)
	}
}

func TestAutosetupNoMatchingRuleLeavesUnmounted(t *testing.T) {
	b := New(Config{Name: "testbroker", Access: testAccessConfig(t)})
	if mp := b.generateMountPoint("dev1", nil); mp != "" {
		t.Fatalf("expected no mount point, got %q", mp)
	}
}

func TestResolveMountLongestPrefix(t *testing.T) {
	b := New(Config{Name: "testbroker", Access: testAccessConfig(t)})
	b.mu.Lock()
	b.mounts["a"] = 1
	b.mounts["a/b"] = 2
	b.mu.Unlock()

	id, remainder, ok := b.resolveMount("a/b/c")
	if !ok || id != 2 || remainder != "c" {
		t.Fatalf("expected peer 2 remainder c, got id=%d remainder=%q ok=%v", id, remainder, ok)
	}

	id, remainder, ok = b.resolveMount("a/x")
	if !ok || id != 1 || remainder != "x" {
		t.Fatalf("expected peer 1 remainder x, got id=%d remainder=%q ok=%v", id, remainder, ok)
	}

	_, _, ok = b.resolveMount("z")
	if ok {
		t.Fatalf("expected no match for unmounted path")
	}
}

func TestLsListsMountedChildren(t *testing.T) {
	b := New(Config{Name: "testbroker", Access: testAccessConfig(t)})
	b.mu.Lock()
	b.mounts["test/device1"] = 1
	b.mu.Unlock()

	result, err := ServeLsWithMounts(b, "test", shvdata.Null())
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	found := false
	for _, item := range result.List() {
		if item.String2() == "device1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected device1 among ls(test) children, got %v", result)
	}
}

func TestSubscribeAndSignalFanout(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := dialBrokerClient(ctx, b, rpcclient.Options{User: "alice", Password: "secret"})
	go c.Run(ctx)

	if _, err := c.Call(ctx, ".app", "ping", shvdata.Null()); err != nil {
		t.Fatalf("warm up login: %v", err)
	}
	if err := c.Subscribe(ctx, "test/**:*:chng"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.mu.Lock()
	var pc *PeerConn
	for _, p := range b.peers {
		pc = p
	}
	b.mu.Unlock()
	if pc == nil {
		t.Fatalf("expected a connected peer")
	}

	matches := b.matchSubscribers("test/device1/value", "get", "chng")
	if len(matches) != 1 {
		t.Fatalf("expected exactly one subscriber match, got %d", len(matches))
	}
}

func TestSubscribeTTLExpires(t *testing.T) {
	b := newTestBroker(t)

	pc := &PeerConn{ID: 1, subscriptions: make(map[string]struct{})}
	b.mu.Lock()
	b.peers[1] = pc
	b.mu.Unlock()

	if err := b.SubscribeTTL(1, "test/**:*:chng", 20*time.Millisecond); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(pc.Subscriptions()) != 1 {
		t.Fatalf("expected the subscription to be recorded immediately")
	}

	time.Sleep(80 * time.Millisecond)
	if len(pc.Subscriptions()) != 0 {
		t.Fatalf("expected the TTL subscription to have expired, still have %v", pc.Subscriptions())
	}
}

func TestParseSubscribeParamAcceptsMapWithTTL(t *testing.T) {
	m := shvdata.NewMap(nil)
	m.SetMapKey("ri", shvdata.NewString("test/**:*:chng"))
	m.SetMapKey("ttl", shvdata.Int64(5))
	ri, ttl := parseSubscribeParam(m)
	if ri != "test/**:*:chng" || ttl != 5*time.Second {
		t.Fatalf("expected (ri, ttl) = (%q, 5s), got (%q, %v)", "test/**:*:chng", ri, ttl)
	}

	ri2, ttl2 := parseSubscribeParam(shvdata.NewString("test/**:*:chng"))
	if ri2 != "test/**:*:chng" || ttl2 != 0 {
		t.Fatalf("expected a bare string to parse with zero TTL, got (%q, %v)", ri2, ttl2)
	}
}
