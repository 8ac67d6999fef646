package rpcpeer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/frame"
)

func pipePeers(t *testing.T, serverRouter *noderouter.Router, clientRouter *noderouter.Router) (*Peer, *Peer, context.CancelFunc) {
	t.Helper()
	a, b := net.Pipe()

	server := NewPeer(frame.NewStreamFramer(a, a), frame.ChainPack, serverRouter)
	client := NewPeer(frame.NewStreamFramer(b, b), frame.ChainPack, clientRouter)
	server.SetTimeouts(500*time.Millisecond, 50*time.Millisecond, 3)
	client.SetTimeouts(500*time.Millisecond, 50*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	go server.Run(ctx)
	go client.Run(ctx)

	return server, client, cancel
}

func TestCallDispatchesToHandler(t *testing.T) {
	r := noderouter.NewRouter()
	RegisterAppMethods(r, "testpeer", "1.0")
	r.Method("device", noderouter.Descriptor{Name: "echo", Access: access.Browse}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return call.Param, nil
	})

	server, client, cancel := pipePeers(t, r, nil)
	defer cancel()
	defer server.close(nil)
	defer client.close(nil)

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	got, err := client.Call(ctx, "device", "echo", shvdata.NewString("hi"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.String2() != "hi" {
		t.Fatalf("got %v", got)
	}
}

func TestLsAndDirOverWire(t *testing.T) {
	r := noderouter.NewRouter()
	RegisterAppMethods(r, "testpeer", "1.0")

	server, client, cancel := pipePeers(t, r, nil)
	defer cancel()
	defer server.close(nil)
	defer client.close(nil)

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	children, err := client.Call(ctx, "", "ls", shvdata.Null())
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	found := false
	for _, c := range children.List() {
		if c.String2() == ".app" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected .app among root children, got %v", children)
	}

	descs, err := client.Call(ctx, ".app", "dir", shvdata.Null())
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if len(descs.List()) == 0 {
		t.Fatalf("expected .app to have methods")
	}

	exists, err := client.Call(ctx, "", "ls", shvdata.NewString(".app"))
	if err != nil {
		t.Fatalf("ls exists: %v", err)
	}
	if !exists.Bool() {
		t.Fatalf("expected .app to exist at root")
	}
}

func TestCallMethodNotFoundError(t *testing.T) {
	r := noderouter.NewRouter()
	server, client, cancel := pipePeers(t, r, nil)
	defer cancel()
	defer server.close(nil)
	defer client.close(nil)

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	_, err := client.Call(ctx, "nope", "nope", shvdata.Null())
	if err == nil {
		t.Fatalf("expected error")
	}
	rerr, ok := err.(*rpcmsg.RPCError)
	if !ok {
		t.Fatalf("expected *RPCError, got %T: %v", err, err)
	}
	if rerr.Kind != rpcmsg.MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %v", rerr.Kind)
	}
}

func TestSignalDelivery(t *testing.T) {
	r := noderouter.NewRouter()
	server, client, cancel := pipePeers(t, r, nil)
	defer cancel()
	defer server.close(nil)
	defer client.close(nil)

	received := make(chan *rpcmsg.Message, 1)
	client.OnSignal = func(msg *rpcmsg.Message) {
		received <- msg
	}

	if err := server.Signal("device/sensor", "chng", shvdata.Double(21.5)); err != nil {
		t.Fatalf("signal: %v", err)
	}

	select {
	case msg := <-received:
		path, _ := msg.Path()
		method, _ := msg.Method()
		if path != "device/sensor" || method != "chng" {
			t.Fatalf("got path=%q method=%q", path, method)
		}
		if msg.Param().Double() != 21.5 {
			t.Fatalf("got param %v", msg.Param())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}
}

func TestCallContextCancellationReturnsError(t *testing.T) {
	r := noderouter.NewRouter()
	block := make(chan struct{})
	r.Method("slow", noderouter.Descriptor{Name: "wait", Access: access.Browse}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
			return shvdata.Null(), nil
		}
	})
	defer close(block)

	server, client, cancel := pipePeers(t, r, nil)
	defer cancel()
	defer server.close(nil)
	defer client.close(nil)

	ctx, done := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer done()

	_, err := client.Call(ctx, "slow", "wait", shvdata.Null())
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
