package rpcbroker

import (
	"context"
	"strings"

	"github.com/silicon-heaven/shvgo/pkg/access"
	log "github.com/silicon-heaven/shvgo/pkg/minilog"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"
)

// resolveMount finds the longest mount-path prefix of path, returning
// the owning peer id, the path with that prefix stripped, and whether
// any mount matched at all.
func (b *Broker) resolveMount(path string) (peerID int64, remainder string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bestLen := -1
	var bestID int64
	var bestMount string
	for mount, id := range b.mounts {
		if mount == path {
			if len(mount) > bestLen {
				bestLen, bestID, bestMount = len(mount), id, mount
			}
			continue
		}
		if strings.HasPrefix(path, mount+"/") {
			if len(mount) > bestLen {
				bestLen, bestID, bestMount = len(mount), id, mount
			}
		}
	}
	if bestLen < 0 {
		return 0, path, false
	}
	remainder = strings.TrimPrefix(path, bestMount)
	remainder = strings.TrimPrefix(remainder, "/")
	return bestID, remainder, true
}

// route implements §4.8.3's request-routing steps for a request
// arriving from pc.
func (b *Broker) route(ctx context.Context, pc *PeerConn, msg *rpcmsg.Message) (*shvdata.Value, error) {
	path, _ := msg.Path()
	method, _ := msg.Method()

	if strings.HasPrefix(path, ".broker/client/") {
		return b.routeToClientID(ctx, path, method, msg)
	}

	granted, ok := b.cfg.Access.EffectiveLevel(pc.Roles, path, method)
	if !ok {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, "No access")
	}

	if incoming, hasIncoming := msg.Access(); hasIncoming {
		if lvl, err := access.ParseLevel(incoming); err == nil && lvl < granted {
			granted = lvl
		}
	}

	if userID, ok := msg.UserID(); ok && userID != "" {
		msg.SetUserID(userID + "," + b.cfg.Name + ":" + pc.UserName)
	}

	targetID, remainder, mounted := b.resolveMount(path)
	local := !mounted || isBrokerLocal(path)
	if local {
		return b.serveLocal(ctx, pc, granted, path, method, msg)
	}

	b.mu.Lock()
	target, ok := b.peers[targetID]
	b.mu.Unlock()
	if !ok {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, "target peer gone")
	}

	// Forwarding blocks on the downstream peer's own Call machinery
	// rather than relaying the raw caller-id stack: each hop mints its
	// own request id and waits synchronously, so the multi-broker tree
	// behaves like a chain of ordinary calls instead of needing the
	// caller-id-stack bookkeeping a fire-and-forward design would.
	result, err := target.Peer.Call(ctx, remainder, method, msg.Param())
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isBrokerLocal(path string) bool {
	return path == "" || path == "." || strings.HasPrefix(path, ".broker") || strings.HasPrefix(path, ".app")
}

func (b *Broker) routeToClientID(ctx context.Context, path, method string, msg *rpcmsg.Message) (*shvdata.Value, error) {
	rest := strings.TrimPrefix(path, ".broker/client/")
	parts := strings.SplitN(rest, "/", 2)
	var id int64
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return nil, rpcmsg.NewError(rpcmsg.InvalidParam, "bad client id in path")
		}
		id = id*10 + int64(c-'0')
	}
	remainder := ""
	if len(parts) > 1 {
		remainder = parts[1]
	}
	b.mu.Lock()
	target, ok := b.peers[id]
	b.mu.Unlock()
	if !ok {
		return nil, rpcmsg.NewError(rpcmsg.MethodNotFound, "no such client id")
	}
	return target.Peer.Call(ctx, remainder, method, msg.Param())
}

func (b *Broker) serveLocal(ctx context.Context, pc *PeerConn, granted access.Level, path, method string, msg *rpcmsg.Message) (*shvdata.Value, error) {
	switch method {
	case "ls":
		return ServeLsWithMounts(b, path, msg.Param())
	case "dir":
		return serveDirLocal(b, path, msg.Param())
	}
	return b.callAdmin(ctx, pc, granted, path, method, msg.Param())
}

// routeSignal implements §4.8.4: prefix the emitting peer's mount
// path, then fan out to every subscriber whose RI matches and whose
// role grants at least the signal's access level (default Read).
func (b *Broker) routeSignal(pc *PeerConn, msg *rpcmsg.Message) {
	path, _ := msg.Path()
	method, _ := msg.Method()
	mount := pc.MountPoint()
	full := path
	if mount != "" {
		if path == "" {
			full = mount
		} else {
			full = mount + "/" + path
		}
	}
	source, _ := msg.Source()
	if source == "" {
		source = method
	}

	reqLevel := access.Read
	if lvlStr, ok := msg.Access(); ok {
		if lvl, err := access.ParseLevel(lvlStr); err == nil {
			reqLevel = lvl
		}
	}

	for _, sub := range b.matchSubscribers(full, source, method) {
		granted, ok := b.cfg.Access.EffectiveLevel(sub.pc.Roles, full, method)
		if !ok || granted < reqLevel {
			continue
		}
		fwd := rpcmsg.NewSignal(method).SetPath(full)
		fwd.SetParam(msg.Param())
		if err := sub.pc.Peer.Send(fwd); err != nil {
			log.Debug("rpcbroker: failed forwarding signal to peer %d: %v", sub.pc.ID, err)
		}
	}
}
