package dht

import (
	"github.com/anacrolix/log"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

// Peers learned from one get_peers reply.
type PeersValues struct {
	Peers []krpc.NodeAddr
	// The node that returned the peers.
	krpc.NodeInfo
}

// An iterative get_peers lookup. Responders hand out tokens, and when the
// lookup finishes we announce ourselves with those tokens to the closest of
// them, if an announce port was given.
type PeerLookupTask struct {
	lookup
	announcePort int
	impliedPort  bool
	// Stop querying new nodes once this many peers are known. Zero means no
	// limit.
	wantPeers    int
	peers        []krpc.NodeAddr
	seenPeers    map[string]struct{}
	announceTo   pendingAnnouncePeers
	numAnnounced int
	// Called with the Server locked for each reply carrying new peers.
	onPeers func(PeersValues)
}

var _ task = (*PeerLookupTask)(nil)

func (s *Server) newPeerLookupTask(infoHash int160.T, announcePort int, impliedPort bool) *PeerLookupTask {
	t := &PeerLookupTask{
		announcePort: announcePort,
		impliedPort:  impliedPort,
		seenPeers:    make(map[string]struct{}),
		announceTo:   newPendingAnnouncePeers(infoHash),
	}
	t.init(s, infoHash, t)
	return t
}

func (t *PeerLookupTask) createMessage(remote *Node) Message {
	return t.s.factory.newGetPeers(remote, t.target)
}

func (t *PeerLookupTask) onReceivedInternal(m Message) {
	r, ok := m.(*GetPeersReply)
	if !ok {
		return
	}
	if r.Token != "" {
		t.announceTo = t.announceTo.Push(pendingAnnouncePeer{r.remote, r.Token})
	} else {
		expvars.Add("get_peers replies without token", 1)
	}
	var fresh []krpc.NodeAddr
	for _, p := range r.Values {
		if p.Port == 0 {
			continue
		}
		key := p.String()
		if _, ok := t.seenPeers[key]; ok {
			continue
		}
		t.seenPeers[key] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return
	}
	t.peers = append(t.peers, fresh...)
	if t.onPeers != nil {
		t.onPeers(PeersValues{Peers: fresh, NodeInfo: r.remote.NodeInfo()})
	}
}

func (t *PeerLookupTask) getNodesFromMessage(m Message) []*Node {
	if r, ok := m.(*GetPeersReply); ok {
		return r.Nodes
	}
	return nil
}

func (t *PeerLookupTask) needsAdditionalOutgoingMessage() bool {
	return t.wantPeers <= 0 || len(t.peers) < t.wantPeers
}

func (t *PeerLookupTask) onFinish() {
	if t.announcePort == 0 && !t.impliedPort {
		return
	}
	t.announceTo.Range(func(p pendingAnnouncePeer) {
		m := t.s.factory.newAnnouncePeer(p.node, t.target, t.announcePort, t.impliedPort, p.token)
		t.s.dispatcher.addMessageToQueue(m, t.s.config.QueryTimeout, nil)
		t.numAnnounced++
	})
	t.s.logger().Levelf(log.Debug, "announcing %v to %d nodes", t.target, t.numAnnounced)
}

// All distinct peers found so far.
func (t *PeerLookupTask) Peers() []krpc.NodeAddr {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return append([]krpc.NodeAddr(nil), t.peers...)
}

// How many announce_peer queries were sent when the lookup finished.
func (t *PeerLookupTask) NumAnnounced() int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.numAnnounced
}
