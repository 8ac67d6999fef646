package noderouter

import (
	"context"
	"testing"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

func TestLsAndDirAndCall(t *testing.T) {
	r := NewRouter()
	r.Method(".app", Descriptor{Name: "ping", Access: access.Browse}, func(ctx context.Context, call *Call) (*shvdata.Value, error) {
		return shvdata.Null(), nil
	})
	r.Method("device/relay", Descriptor{Name: "set", Access: access.Write, Param: "Bool"}, func(ctx context.Context, call *Call) (*shvdata.Value, error) {
		return shvdata.Bool(call.Param.Bool()), nil
	})

	children, ok := r.Ls("")
	if !ok {
		t.Fatalf("expected root to exist")
	}
	found := false
	for _, c := range children {
		if c == "device" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'device' among root children, got %v", children)
	}

	descs, ok := r.Dir(".app")
	if !ok || len(descs) != 1 || descs[0].Name != "ping" {
		t.Fatalf("expected one 'ping' method, got %+v ok=%v", descs, ok)
	}

	got, err := r.Call(context.Background(), &Call{Path: "device/relay", Method: "set", Param: shvdata.Bool(true), Access: access.Write})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !got.Bool() {
		t.Fatalf("expected true result")
	}
}

func TestCallDeniedBelowRequiredAccess(t *testing.T) {
	r := NewRouter()
	r.Method("x", Descriptor{Name: "set", Access: access.Write}, func(ctx context.Context, call *Call) (*shvdata.Value, error) {
		return shvdata.Null(), nil
	})
	_, err := r.Call(context.Background(), &Call{Path: "x", Method: "set", Param: shvdata.Null(), Access: access.Read})
	if err == nil {
		t.Fatalf("expected access denied error")
	}
}

func TestUnknownPathOrMethod(t *testing.T) {
	r := NewRouter()
	if _, ok := r.Ls("nope"); ok {
		t.Fatalf("expected nonexistent path to report not found")
	}
	if r.HasMethod("", "ping") {
		t.Fatalf("expected no ping method at root by default")
	}
}
