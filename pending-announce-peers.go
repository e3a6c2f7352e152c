package dht

import (
	"bytes"

	"github.com/anacrolix/multiless"
	"github.com/benbjohnson/immutable"

	"github.com/anacrolix/mldht/int160"
)

// A responder to get_peers that gave us a token to announce with.
type pendingAnnouncePeer struct {
	node  *Node
	token string
}

// The closest k responders holding tokens, ordered by distance to the target.
type pendingAnnouncePeers struct {
	inner *immutable.SortedMap
	k     int
}

func newPendingAnnouncePeers(target int160.T) pendingAnnouncePeers {
	return pendingAnnouncePeers{
		k: bucketSize,
		inner: immutable.NewSortedMap(comparer{less: func(l, r interface{}) bool {
			a, b := l.(pendingAnnouncePeer).node, r.(pendingAnnouncePeer).node
			return multiless.New().Cmp(
				a.id.Distance(target).Cmp(b.id.Distance(target)),
			).Cmp(
				bytes.Compare(a.addr.IP.To16(), b.addr.IP.To16()),
			).Int(
				a.addr.Port, b.addr.Port,
			).Less()
		}}),
	}
}

func (me pendingAnnouncePeers) Range(f func(pendingAnnouncePeer)) {
	iter := me.inner.Iterator()
	for !iter.Done() {
		key, _ := iter.Next()
		f(key.(pendingAnnouncePeer))
	}
}

func (me pendingAnnouncePeers) Len() int {
	return me.inner.Len()
}

// A later token from the same node replaces the earlier one.
func (me pendingAnnouncePeers) Push(x pendingAnnouncePeer) pendingAnnouncePeers {
	me.inner = me.inner.Set(x, nil)
	for me.inner.Len() > me.k {
		iter := me.inner.Iterator()
		iter.Last()
		key, _ := iter.Next()
		me.inner = me.inner.Delete(key)
	}
	return me
}

func (me pendingAnnouncePeers) Farthest() (value pendingAnnouncePeer, ok bool) {
	iter := me.inner.Iterator()
	iter.Last()
	if iter.Done() {
		return
	}
	key, _ := iter.Next()
	value = key.(pendingAnnouncePeer)
	ok = true
	return
}

type lessFunc func(l, r interface{}) bool

type comparer struct {
	less lessFunc
}

func (me comparer) Compare(i, j interface{}) int {
	if me.less(i, j) {
		return -1
	} else if me.less(j, i) {
		return 1
	} else {
		return 0
	}
}
