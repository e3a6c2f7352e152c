package dht

import (
	"fmt"
	"time"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

const (
	// A node we haven't heard from for this long is questionable.
	questionableNodeAge = 15 * time.Minute
	// Consecutive failed round trips before a node is bad.
	maxNodeFailures = 5
)

type nodeCondition int

const (
	nodeUnknown nodeCondition = iota
	nodeGood
	nodeBad
)

func (c nodeCondition) String() string {
	switch c {
	case nodeUnknown:
		return "unknown"
	case nodeGood:
		return "good"
	case nodeBad:
		return "bad"
	default:
		return fmt.Sprintf("nodeCondition(%d)", int(c))
	}
}

// A remote node as the routing table sees it. Nodes are owned by the Server
// and only touched with its lock held.
type Node struct {
	id           int160.T
	addr         krpc.NodeAddr
	rtt          time.Duration
	condition    nodeCondition
	failureCount int
	// Zero until we actually hear from the node.
	lastContact time.Time
}

func newNode(id int160.T, addr krpc.NodeAddr) *Node {
	return &Node{
		id:   id,
		addr: addr,
	}
}

func (n *Node) ID() int160.T {
	return n.id
}

func (n *Node) Addr() krpc.NodeAddr {
	return n.addr
}

func (n *Node) RTT() time.Duration {
	return n.rtt
}

func (n *Node) FailureCount() int {
	return n.failureCount
}

func (n *Node) LastContact() time.Time {
	return n.lastContact
}

func (n *Node) NodeInfo() krpc.NodeInfo {
	return krpc.NodeInfo{
		ID:   n.id.AsByteArray(),
		Addr: n.addr,
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("%v at %v", n.id, n.addr)
}

// Nodes are the same only if the ID and the address match.
func (n *Node) Equal(other *Node) bool {
	return n.id == other.id && n.addr.Equal(other.addr)
}

func (n *Node) IsBad() bool {
	return n.condition == nodeBad
}

func (n *Node) IsQuestionable(now time.Time) bool {
	return !n.IsBad() && now.Sub(n.lastContact) >= questionableNodeAge
}

func (n *Node) IsGood(now time.Time) bool {
	return !n.IsBad() && !n.IsQuestionable(now)
}

// Records a failed round trip. Enough consecutive failures make the node bad
// however recently we last heard from it.
func (n *Node) Timeout() {
	n.failureCount++
	if n.failureCount >= maxNodeFailures {
		n.condition = nodeBad
	}
}

func (n *Node) MarkGood() {
	n.condition = nodeGood
	n.failureCount = 0
}

func (n *Node) MarkBad() {
	n.condition = nodeBad
}

func (n *Node) UpdateLastContact(now time.Time) {
	n.lastContact = now
}

func (n *Node) UpdateRTT(rtt time.Duration) {
	n.rtt = rtt
}
