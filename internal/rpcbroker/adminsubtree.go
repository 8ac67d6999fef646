package rpcbroker

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/silicon-heaven/shvgo/pkg/access"
	"github.com/silicon-heaven/shvgo/pkg/noderouter"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/rpcpeer"
)

// parseSubscribeParam accepts either a bare RI string (no expiry) or
// a {"ri": string, "ttl": int seconds} map, the v3 encoding of a
// TTL-bearing subscription (spec.md §4.7: "an RI string with optional
// integer TTL").
func parseSubscribeParam(param *shvdata.Value) (ri string, ttl time.Duration) {
	if param == nil {
		return "", 0
	}
	if param.Kind == shvdata.KindMap {
		m := param.Map()
		if v, ok := m["ri"]; ok {
			ri = v.String2()
		}
		if v, ok := m["ttl"]; ok {
			ttl = time.Duration(v.Int()) * time.Second
		}
		return ri, ttl
	}
	return param.String2(), 0
}

// ServeLsWithMounts answers ls at a path the broker owns locally
// (anything not under a mount), unioning the broker's own router tree
// (.app, .broker) with the top-level segment of every mount path that
// sits directly under path -- a mounted device has no node in
// b.router, so plain ServeLs would never show it.
func ServeLsWithMounts(b *Broker, path string, param *shvdata.Value) (*shvdata.Value, error) {
	mountChildren := b.mountChildrenOf(path)

	if param != nil && param.Kind == shvdata.KindString {
		name := param.String2()
		if _, ok := mountChildren[name]; ok {
			return shvdata.Bool(true), nil
		}
		return rpcpeer.ServeLs(b.router, path, param)
	}

	routerChildren, _ := b.router.Ls(path)
	seen := make(map[string]struct{}, len(routerChildren)+len(mountChildren))
	merged := make([]string, 0, len(routerChildren)+len(mountChildren))
	for _, c := range routerChildren {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			merged = append(merged, c)
		}
	}
	for c := range mountChildren {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			merged = append(merged, c)
		}
	}
	sort.Strings(merged)

	out := shvdata.NewList()
	for _, c := range merged {
		out.AppendList(shvdata.NewString(c))
	}
	return out, nil
}

// mountChildrenOf returns the set of distinct first path segments,
// relative to path, of every mount that sits at or under path.
func (b *Broker) mountChildrenOf(path string) map[string]struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]struct{})
	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	for mount := range b.mounts {
		rest := mount
		if prefix != "" {
			if !strings.HasPrefix(mount, prefix) {
				continue
			}
			rest = strings.TrimPrefix(mount, prefix)
		} else if mount == "" {
			continue
		}
		seg := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			seg = rest[:idx]
		}
		if seg != "" {
			out[seg] = struct{}{}
		}
	}
	return out
}

func serveDirLocal(b *Broker, path string, param *shvdata.Value) (*shvdata.Value, error) {
	return rpcpeer.ServeDir(b.router, path, param)
}

// currentClientKey is the context key under which the issuing peer's
// PeerConn travels into .broker/currentClient handlers, since
// noderouter.Call itself carries no connection handle.
type currentClientKey struct{}

func (b *Broker) callAdmin(ctx context.Context, pc *PeerConn, granted access.Level, path, method string, param *shvdata.Value) (*shvdata.Value, error) {
	ctx = context.WithValue(ctx, currentClientKey{}, pc)
	result, err := b.router.Call(ctx, &noderouter.Call{
		Path: path, Method: method, Param: param, Access: granted, UserID: pc.UserName,
	})
	if err != nil {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, err.Error())
	}
	return result, nil
}

// registerAdminSubtree populates b.router with the .broker admin
// subtree §4.8.5 describes: broker identity/name, client/mount
// inventories, disconnection, and the per-connection currentClient
// facade. Everything here requires SuperService except the
// currentClient methods, which only require the floor the access
// package's Config.EffectiveLevel already grants .broker/currentClient
// (Read).
func (b *Broker) registerAdminSubtree() {
	r := b.router

	r.Method(".broker", noderouter.Descriptor{Name: "name", Access: access.SuperService}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		return shvdata.NewString(b.cfg.Name), nil
	})

	r.Method(".broker", noderouter.Descriptor{Name: "clientInfo", Access: access.SuperService, Param: "i", Result: "!clientInfo|n"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		id := call.Param.Int()
		b.mu.Lock()
		pc, ok := b.peers[int64(id)]
		b.mu.Unlock()
		if !ok {
			return shvdata.Null(), nil
		}
		return b.clientInfoValue(pc), nil
	})

	r.Method(".broker", noderouter.Descriptor{Name: "mountedClientInfo", Access: access.SuperService, Param: "s", Result: "!clientInfo|n"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		path := call.Param.String2()
		b.mu.Lock()
		var pc *PeerConn
		for mount, id := range b.mounts {
			if mount == path || strings.HasPrefix(path, mount+"/") {
				pc = b.peers[id]
				break
			}
		}
		b.mu.Unlock()
		if pc == nil {
			return shvdata.Null(), nil
		}
		return b.clientInfoValue(pc), nil
	})

	r.Method(".broker", noderouter.Descriptor{Name: "clients", Access: access.SuperService, Result: "[i]"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		b.mu.Lock()
		ids := make([]int64, 0, len(b.peers))
		for id := range b.peers {
			ids = append(ids, id)
		}
		b.mu.Unlock()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := shvdata.NewList()
		for _, id := range ids {
			out.AppendList(shvdata.Int64(id))
		}
		return out, nil
	})

	r.Method(".broker", noderouter.Descriptor{Name: "mounts", Access: access.SuperService, Result: "[s]"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		b.mu.Lock()
		mounts := make([]string, 0, len(b.mounts))
		for m := range b.mounts {
			mounts = append(mounts, m)
		}
		b.mu.Unlock()
		sort.Strings(mounts)
		out := shvdata.NewList()
		for _, m := range mounts {
			out.AppendList(shvdata.NewString(m))
		}
		return out, nil
	})

	r.Method(".broker", noderouter.Descriptor{Name: "disconnectClient", Access: access.SuperService, Param: "i"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		id := int64(call.Param.Int())
		b.mu.Lock()
		pc, ok := b.peers[id]
		b.mu.Unlock()
		if !ok {
			return nil, rpcmsg.NewError(rpcmsg.InvalidParam, "no such client id")
		}
		pc.Peer.Framer.WriteReset()
		return shvdata.Null(), nil
	})

	r.Method(".broker/currentClient", noderouter.Descriptor{Name: "info", Access: access.Read}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		pc := currentClientFrom(ctx)
		if pc == nil {
			return shvdata.Null(), nil
		}
		return b.clientInfoValue(pc), nil
	})

	r.Method(".broker/currentClient", noderouter.Descriptor{Name: "subscribe", Access: access.Read, Param: "s|SubscriptionParam"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		pc := currentClientFrom(ctx)
		if pc == nil {
			return nil, rpcmsg.NewError(rpcmsg.MethodCallException, "no current client context")
		}
		ri, ttl := parseSubscribeParam(call.Param)
		if err := b.SubscribeTTL(pc.ID, ri, ttl); err != nil {
			return nil, rpcmsg.NewError(rpcmsg.MethodCallException, err.Error())
		}
		return shvdata.Bool(true), nil
	})

	r.Method(".broker/currentClient", noderouter.Descriptor{Name: "unsubscribe", Access: access.Read, Param: "s"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		pc := currentClientFrom(ctx)
		if pc == nil {
			return nil, rpcmsg.NewError(rpcmsg.MethodCallException, "no current client context")
		}
		if err := b.Unsubscribe(pc.ID, call.Param.String2()); err != nil {
			return nil, rpcmsg.NewError(rpcmsg.MethodCallException, err.Error())
		}
		return shvdata.Bool(true), nil
	})

	r.Method(".broker/currentClient", noderouter.Descriptor{Name: "subscriptions", Access: access.Read, Result: "[s]"}, func(ctx context.Context, call *noderouter.Call) (*shvdata.Value, error) {
		pc := currentClientFrom(ctx)
		if pc == nil {
			return shvdata.NewList(), nil
		}
		out := shvdata.NewList()
		subs := pc.Subscriptions()
		sort.Strings(subs)
		for _, s := range subs {
			out.AppendList(shvdata.NewString(s))
		}
		return out, nil
	})
}

func (b *Broker) clientInfoValue(pc *PeerConn) *shvdata.Value {
	v := shvdata.NewMap(nil)
	v.SetMapKey("clientId", shvdata.Int64(pc.ID))
	v.SetMapKey("userName", shvdata.NewString(pc.UserName))
	v.SetMapKey("deviceId", shvdata.NewString(pc.DeviceID))
	v.SetMapKey("mountPoint", shvdata.NewString(pc.MountPoint()))
	roles := shvdata.NewList()
	for _, role := range pc.Roles {
		roles.AppendList(shvdata.NewString(role))
	}
	v.SetMapKey("roles", roles)
	return v
}

// currentClientFrom recovers the PeerConn callAdmin attached to ctx
// for a .broker/currentClient call.
func currentClientFrom(ctx context.Context) *PeerConn {
	pc, _ := ctx.Value(currentClientKey{}).(*PeerConn)
	return pc
}
