package dht

import (
	"fmt"
	"time"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

const (
	// Nodes per bucket, the K in Kademlia.
	bucketSize = 8
	// Replacement candidates kept per bucket.
	bucketCacheSize = 2
	// Buckets not touched for this long get refreshed with a lookup.
	bucketRefreshInterval = 15 * time.Minute
)

// Covers the inclusive ID range [min, max]. The range always shares the first
// prefixLength bits, with min having zeros and max ones after that.
type bucket struct {
	prefixLength int
	min, max     int160.T
	localID      int160.T
	// Least recently seen first.
	nodes []*Node
	// Most recent first.
	cache       []*Node
	lastUpdated time.Time
	// A ReplaceNodeTask for this bucket is queued or running.
	replacing bool
}

func newRootBucket(localID int160.T, now time.Time) *bucket {
	return &bucket{
		max:         int160.Max(),
		localID:     localID,
		lastUpdated: now,
	}
}

func (b *bucket) String() string {
	return fmt.Sprintf("bucket %v-%v (prefix %d, %d nodes, %d cached)",
		b.min, b.max, b.prefixLength, len(b.nodes), len(b.cache))
}

func (b *bucket) isInRange(id int160.T) bool {
	return id.Cmp(b.min) >= 0 && id.Cmp(b.max) <= 0
}

func (b *bucket) numNodes() int {
	return len(b.nodes)
}

func nodeIndex(nodes []*Node, n *Node) int {
	for i, o := range nodes {
		if o.Equal(n) {
			return i
		}
	}
	return -1
}

func removeNodeAt(nodes []*Node, i int) []*Node {
	copy(nodes[i:], nodes[i+1:])
	nodes[len(nodes)-1] = nil
	return nodes[:len(nodes)-1]
}

// Returns false, leaving the bucket untouched, if the bucket is full of nodes
// that aren't bad. A node already present is moved to the tail.
func (b *bucket) addNode(n *Node, now time.Time) bool {
	if i := nodeIndex(b.nodes, n); i != -1 {
		n = b.nodes[i]
		b.nodes = append(removeNodeAt(b.nodes, i), n)
		b.lastUpdated = now
		return true
	}
	if len(b.nodes) >= bucketSize {
		i := b.firstBadNode()
		if i == -1 {
			return false
		}
		b.nodes = removeNodeAt(b.nodes, i)
	}
	b.nodes = append(b.nodes, n)
	if i := nodeIndex(b.cache, n); i != -1 {
		b.cache = removeNodeAt(b.cache, i)
	}
	b.lastUpdated = now
	return true
}

func (b *bucket) firstBadNode() int {
	for i, n := range b.nodes {
		if n.IsBad() {
			return i
		}
	}
	return -1
}

func (b *bucket) cacheNode(n *Node) {
	if i := nodeIndex(b.cache, n); i != -1 {
		b.cache = removeNodeAt(b.cache, i)
	}
	b.cache = append([]*Node{n}, b.cache...)
	if len(b.cache) > bucketCacheSize {
		for i := bucketCacheSize; i < len(b.cache); i++ {
			b.cache[i] = nil
		}
		b.cache = b.cache[:bucketCacheSize]
	}
}

// Removes the node, replacing it with the freshest cached candidate.
func (b *bucket) dropNode(n *Node) bool {
	i := nodeIndex(b.nodes, n)
	if i == -1 {
		return false
	}
	b.nodes = removeNodeAt(b.nodes, i)
	if len(b.cache) != 0 {
		b.nodes = append(b.nodes, b.cache[0])
		b.cache = removeNodeAt(b.cache, 0)
	}
	return true
}

func (b *bucket) moveToHead(n *Node) {
	if i := nodeIndex(b.nodes, n); i != -1 {
		n = b.nodes[i]
		copy(b.nodes[1:i+1], b.nodes[:i])
		b.nodes[0] = n
	}
}

func (b *bucket) moveToTail(n *Node) {
	if i := nodeIndex(b.nodes, n); i != -1 {
		n = b.nodes[i]
		b.nodes = append(removeNodeAt(b.nodes, i), n)
	}
}

func (b *bucket) goodNodes() (ret []*Node) {
	for _, n := range b.nodes {
		if !n.IsBad() {
			ret = append(ret, n)
		}
	}
	return
}

func (b *bucket) getNode(id int160.T, addr krpc.NodeAddr) *Node {
	for _, n := range b.nodes {
		if n.id == id && n.addr.Equal(addr) {
			return n
		}
	}
	return nil
}

func (b *bucket) splitAllowed() bool {
	return b.prefixLength < int160.NumBits && b.isInRange(b.localID)
}

// Returns a new bucket covering the lower half of the range. The receiver
// keeps the upper half. Nodes and cached candidates go to whichever half
// covers them. Returns nil and does nothing if the bucket can't be split.
func (b *bucket) split() *bucket {
	if !b.splitAllowed() {
		return nil
	}
	lower := &bucket{
		prefixLength: b.prefixLength + 1,
		min:          b.min,
		max:          b.max,
		localID:      b.localID,
		lastUpdated:  b.lastUpdated,
	}
	lower.max.SetBit(b.prefixLength, false)
	b.min.SetBit(b.prefixLength, true)
	b.prefixLength++
	var upperNodes, upperCache []*Node
	for _, n := range b.nodes {
		if b.isInRange(n.id) {
			upperNodes = append(upperNodes, n)
		} else {
			lower.nodes = append(lower.nodes, n)
		}
	}
	for _, n := range b.cache {
		if b.isInRange(n.id) {
			upperCache = append(upperCache, n)
		} else {
			lower.cache = append(lower.cache, n)
		}
	}
	b.nodes = upperNodes
	b.cache = upperCache
	return lower
}

func (b *bucket) needsRefresh(now time.Time) bool {
	return len(b.nodes) < bucketSize || now.Sub(b.lastUpdated) >= bucketRefreshInterval
}

func (b *bucket) notifyUpdate(now time.Time) {
	b.lastUpdated = now
}

// The least recently seen questionable node.
func (b *bucket) lruQuestionableNode(now time.Time) *Node {
	for _, n := range b.nodes {
		if n.IsQuestionable(now) {
			return n
		}
	}
	return nil
}

func (b *bucket) randomID() int160.T {
	return int160.RandomInPrefixRange(b.min, b.max)
}
