package dht

import (
	"github.com/anacrolix/mldht/int160"
)

// A node in the binary tree partitioning the ID space. Leaves hold exactly
// one bucket; internal nodes hold exactly two children, left covering the
// lower half of the range. The parent pointer doesn't own anything, it's
// only for walking back up.
type bucketTreeNode struct {
	parent      *bucketTreeNode
	left, right *bucketTreeNode
	bucket      *bucket
	min, max    int160.T
}

func newBucketTreeLeaf(b *bucket, parent *bucketTreeNode) *bucketTreeNode {
	return &bucketTreeNode{
		parent: parent,
		bucket: b,
		min:    b.min,
		max:    b.max,
	}
}

func (tn *bucketTreeNode) isLeaf() bool {
	return tn.bucket != nil
}

func (tn *bucketTreeNode) isInRange(key int160.T) bool {
	return key.Cmp(tn.min) >= 0 && key.Cmp(tn.max) <= 0
}

// The child covering key, or nil for a leaf.
func (tn *bucketTreeNode) dig(key int160.T) *bucketTreeNode {
	if tn.isLeaf() {
		return nil
	}
	if tn.left.isInRange(key) {
		return tn.left
	}
	return tn.right
}

// Turns the leaf into an internal node with the two halves of its bucket as
// children. Returns false if the bucket can't be split.
func (tn *bucketTreeNode) splitBucket() bool {
	lower := tn.bucket.split()
	if lower == nil {
		return false
	}
	tn.left = newBucketTreeLeaf(lower, tn)
	tn.right = newBucketTreeLeaf(tn.bucket, tn)
	tn.bucket = nil
	return true
}

func findTreeNodeFor(root *bucketTreeNode, key int160.T) *bucketTreeNode {
	tn := root
	for !tn.isLeaf() {
		tn = tn.dig(key)
	}
	return tn
}

func findBucketFor(root *bucketTreeNode, key int160.T) *bucket {
	return findTreeNodeFor(root, key).bucket
}

// Appends non-bad nodes from the subtree in tree order, stopping once there
// are enough.
func collectNodes(nodes []*Node, tn *bucketTreeNode, leftFirst bool) []*Node {
	if len(nodes) >= bucketSize {
		return nodes
	}
	if tn.isLeaf() {
		return append(nodes, tn.bucket.goodNodes()...)
	}
	if leftFirst {
		nodes = collectNodes(nodes, tn.left, leftFirst)
		return collectNodes(nodes, tn.right, leftFirst)
	}
	nodes = collectNodes(nodes, tn.right, leftFirst)
	return collectNodes(nodes, tn.left, leftFirst)
}

// Gathers up to bucketSize nodes near key, starting from key's own bucket
// and widening to sibling subtrees on the way up. This approximates XOR
// closeness rather than sorting the whole table.
func findClosestKNodes(root *bucketTreeNode, key int160.T) []*Node {
	leaf := findTreeNodeFor(root, key)
	nodes := leaf.bucket.goodNodes()
	for up := leaf; len(nodes) < bucketSize && up.parent != nil; up = up.parent {
		p := up.parent
		if p.left == up {
			nodes = collectNodes(nodes, p.right, true)
		} else {
			nodes = collectNodes(nodes, p.left, false)
		}
	}
	if len(nodes) > bucketSize {
		nodes = nodes[:bucketSize]
	}
	return nodes
}

// Buckets in order of increasing range.
func enumerateBuckets(root *bucketTreeNode) (ret []*bucket) {
	var walk func(*bucketTreeNode)
	walk = func(tn *bucketTreeNode) {
		if tn.isLeaf() {
			ret = append(ret, tn.bucket)
			return
		}
		walk(tn.left)
		walk(tn.right)
	}
	walk(root)
	return
}
