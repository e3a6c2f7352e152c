package dht

import (
	"time"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

// The routing table. It's the canonical owner of Nodes: tracker entries and
// tasks refer to nodes it holds, or to nodes it has yet to accept.
type routingTable struct {
	localID    int160.T
	root       *bucketTreeNode
	numBuckets int
}

func newRoutingTable(localID int160.T, now time.Time) *routingTable {
	return &routingTable{
		localID:    localID,
		root:       newBucketTreeLeaf(newRootBucket(localID, now), nil),
		numBuckets: 1,
	}
}

// Adds the node, splitting buckets near our own ID as needed. If there's no
// room, a good node is kept as a replacement candidate. The bucket the node
// belongs in is returned either way, unless it's our own ID.
func (t *routingTable) addNode(n *Node, good bool, now time.Time) (added bool, b *bucket) {
	if n.id == t.localID {
		return false, nil
	}
	for {
		tn := findTreeNodeFor(t.root, n.id)
		b = tn.bucket
		if b.addNode(n, now) {
			return true, b
		}
		if !tn.splitBucket() {
			break
		}
		t.numBuckets++
	}
	if good {
		b.cacheNode(n)
	}
	return false, b
}

func (t *routingTable) getClosestKNodes(target int160.T) []*Node {
	return findClosestKNodes(t.root, target)
}

func (t *routingTable) getBucketFor(id int160.T) *bucket {
	return findBucketFor(t.root, id)
}

func (t *routingTable) getBuckets() []*bucket {
	return enumerateBuckets(t.root)
}

func (t *routingTable) getNode(id int160.T, addr krpc.NodeAddr) *Node {
	return t.getBucketFor(id).getNode(id, addr)
}

func (t *routingTable) dropNode(n *Node) bool {
	return t.getBucketFor(n.id).dropNode(n)
}

func (t *routingTable) moveBucketHead(n *Node) {
	t.getBucketFor(n.id).moveToHead(n)
}

func (t *routingTable) moveBucketTail(n *Node) {
	t.getBucketFor(n.id).moveToTail(n)
}

func (t *routingTable) forNodes(f func(*Node) bool) bool {
	for _, b := range t.getBuckets() {
		for _, n := range b.nodes {
			if !f(n) {
				return false
			}
		}
	}
	return true
}

func (t *routingTable) numNodes() (num int) {
	t.forNodes(func(*Node) bool {
		num++
		return true
	})
	return
}

func (t *routingTable) numGoodNodes(now time.Time) (num int) {
	t.forNodes(func(n *Node) bool {
		if n.IsGood(now) {
			num++
		}
		return true
	})
	return
}
