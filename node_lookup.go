package dht

import (
	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

// An iterative find_node lookup. Replies feed the routing table along the
// way, and the closest nodes found are available once it's Done.
type NodeLookupTask struct {
	lookup
}

var _ task = (*NodeLookupTask)(nil)

func (s *Server) newNodeLookupTask(target int160.T) *NodeLookupTask {
	t := &NodeLookupTask{}
	t.init(s, target, t)
	return t
}

func (t *NodeLookupTask) createMessage(remote *Node) Message {
	return t.s.factory.newFindNode(remote, t.target)
}

func (t *NodeLookupTask) onReceivedInternal(Message) {}

func (t *NodeLookupTask) getNodesFromMessage(m Message) []*Node {
	if r, ok := m.(*FindNodeReply); ok {
		return r.Nodes
	}
	return nil
}

func (t *NodeLookupTask) needsAdditionalOutgoingMessage() bool {
	return true
}

func (t *NodeLookupTask) onFinish() {}

// The closest nodes the lookup found, nearest first.
func (t *NodeLookupTask) Nodes() (ret []krpc.NodeInfo) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, n := range t.closestNodes() {
		ret = append(ret, n.NodeInfo())
	}
	return
}
