package rpcbroker

import (
	"context"
	"time"

	log "github.com/silicon-heaven/shvgo/pkg/minilog"
	"github.com/silicon-heaven/shvgo/pkg/rpcmsg"
	"github.com/silicon-heaven/shvgo/pkg/rpcri"
	"github.com/silicon-heaven/shvgo/pkg/shvdata"

	"github.com/silicon-heaven/shvgo/internal/rpcpeer"
)

// subscriberMatch is one (peer, parsed RI) pair a signal is checked
// against.
type subscriberMatch struct {
	pc *PeerConn
	ri rpcri.RI
}

// Subscribe records ri as a standing subscription for peerID, and
// forwards it, made relative to the mount point, to every mounted
// sub-broker below whose mount ri can still match, so that sub-broker
// starts relaying matching signals down to us (§4.8.6).
func (b *Broker) Subscribe(peerID int64, ri string) error {
	return b.SubscribeTTL(peerID, ri, 0)
}

// SubscribeTTL is Subscribe with a v3 expiry: when ttl is positive,
// the broker drops the subscription on its own once ttl elapses
// without a renewing subscribe call for the same ri, rather than
// relying on the peer to ever unsubscribe.
func (b *Broker) SubscribeTTL(peerID int64, ri string, ttl time.Duration) error {
	b.mu.Lock()
	pc, ok := b.peers[peerID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	pc.mu.Lock()
	_, already := pc.subscriptions[ri]
	pc.subscriptions[ri] = struct{}{}
	if pc.subscriptionTimers == nil {
		pc.subscriptionTimers = make(map[string]*time.Timer)
	}
	if t, ok := pc.subscriptionTimers[ri]; ok {
		t.Stop()
		delete(pc.subscriptionTimers, ri)
	}
	if ttl > 0 {
		pc.subscriptionTimers[ri] = time.AfterFunc(ttl, func() {
			log.Debug("rpcbroker: subscription %q on peer %d expired", ri, peerID)
			b.Unsubscribe(peerID, ri)
		})
	}
	pc.mu.Unlock()
	if already {
		return nil
	}

	b.forwardSubscriptionDelta(ri, 1)
	return nil
}

// Unsubscribe drops ri from peerID's standing subscriptions, and
// forwards the removal upstream once the last local subscriber
// referencing an upstream subscription drops it.
func (b *Broker) Unsubscribe(peerID int64, ri string) error {
	b.mu.Lock()
	pc, ok := b.peers[peerID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	pc.mu.Lock()
	_, existed := pc.subscriptions[ri]
	delete(pc.subscriptions, ri)
	if t, ok := pc.subscriptionTimers[ri]; ok {
		t.Stop()
		delete(pc.subscriptionTimers, ri)
	}
	pc.mu.Unlock()
	if !existed {
		return nil
	}

	b.forwardSubscriptionDelta(ri, -1)
	return nil
}

// forwardSubscriptionDelta maintains the counted multiset of how many
// local subscribers reference a subscription against each mounted
// sub-broker whose subtree the RI could reach, issuing an upstream
// subscribe/unsubscribe call only on the 0->1 or 1->0 transition, the
// rule §4.8.6 describes to avoid redundant upstream chatter.
func (b *Broker) forwardSubscriptionDelta(riStr string, delta int) {
	parsed := rpcri.Parse(riStr)

	b.mu.Lock()
	type target struct {
		pc  *PeerConn
		rel rpcri.RI
	}
	var targets []target
	for mount, id := range b.mounts {
		pc := b.peers[id]
		if pc == nil || !pc.isSubBroker {
			continue
		}
		rel, ok := rpcri.RelativeTo(parsed, mount)
		if !ok {
			continue
		}
		targets = append(targets, target{pc: pc, rel: rel})
	}
	b.mu.Unlock()

	for _, t := range targets {
		t.pc.mu.Lock()
		if t.pc.upstreamRefs == nil {
			t.pc.upstreamRefs = make(map[string]int)
		}
		before := t.pc.upstreamRefs[t.rel.String()]
		after := before + delta
		if after <= 0 {
			delete(t.pc.upstreamRefs, t.rel.String())
		} else {
			t.pc.upstreamRefs[t.rel.String()] = after
		}
		t.pc.mu.Unlock()

		if before == 0 && after > 0 {
			go subscribeUpstream(t.pc.Peer, t.rel.String())
		} else if before > 0 && after <= 0 {
			go unsubscribeUpstream(t.pc.Peer, t.rel.String())
		}
	}
}

func subscribeUpstream(peer *rpcpeer.Peer, ri string) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultQueryTimeout)
	defer cancel()
	if _, err := peer.Call(ctx, ".broker/currentClient", "subscribe", shvdata.NewString(ri)); err != nil {
		log.Debug("rpcbroker: upstream subscribe %q failed: %v", ri, err)
	}
}

func unsubscribeUpstream(peer *rpcpeer.Peer, ri string) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcpeer.DefaultQueryTimeout)
	defer cancel()
	if _, err := peer.Call(ctx, ".broker/currentClient", "unsubscribe", shvdata.NewString(ri)); err != nil {
		log.Debug("rpcbroker: upstream unsubscribe %q failed: %v", ri, err)
	}
}

// matchSubscribers returns every connected peer with a standing
// subscription matching (path, source, signal).
func (b *Broker) matchSubscribers(path, source, signal string) []subscriberMatch {
	b.mu.Lock()
	peers := make([]*PeerConn, 0, len(b.peers))
	for _, pc := range b.peers {
		peers = append(peers, pc)
	}
	b.mu.Unlock()

	var out []subscriberMatch
	for _, pc := range peers {
		for _, riStr := range pc.Subscriptions() {
			ri := rpcri.Parse(riStr)
			if ri.MatchesSignal(path, source, signal) {
				out = append(out, subscriberMatch{pc: pc, ri: ri})
				break
			}
		}
	}
	return out
}

// emitLsmod broadcasts the mount add/remove signal every peer
// subscribed to the parent node's child list receives, per §4.8.2's
// "ls modified" notification.
func (b *Broker) emitLsmod(parent, child string, added bool) {
	result := shvdata.NewMap(nil)
	result.SetMapKey(child, shvdata.Bool(added))

	b.mu.Lock()
	peers := make([]*PeerConn, 0, len(b.peers))
	for _, pc := range b.peers {
		peers = append(peers, pc)
	}
	b.mu.Unlock()

	for _, pc := range peers {
		for _, riStr := range pc.Subscriptions() {
			ri := rpcri.Parse(riStr)
			if ri.MatchesSignal(parent, "ls", "lsmod") {
				sig := rpcmsg.NewSignal("lsmod").SetPath(parent).SetSource("ls")
				sig.SetParam(result)
				if err := pc.Peer.Send(sig); err != nil {
					log.Debug("rpcbroker: lsmod delivery to peer %d failed: %v", pc.ID, err)
				}
				break
			}
		}
	}
}
