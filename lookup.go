package dht

import (
	"bytes"
	"sort"

	"github.com/anacrolix/log"
	"github.com/anacrolix/multiless"
	"github.com/willf/bloom"

	"github.com/anacrolix/mldht/int160"
)

// Queries in flight at once for a lookup, the alpha in Kademlia.
const lookupAlpha = 3

type lookupEntry struct {
	node *Node
	used bool
}

// What node and peer lookups do differently.
type lookupHooks interface {
	createMessage(remote *Node) Message
	// Inspects a reply before its nodes are merged.
	onReceivedInternal(Message)
	getNodesFromMessage(Message) []*Node
	// False once the lookup has what it wants, so no more queries are sent.
	needsAdditionalOutgoingMessage() bool
	onFinish()
}

// The iterative lookup shared by node and peer lookups. Entries are kept
// sorted by distance to the target and truncated to the closest
// bucketSize. Queries go to the closest unused entries, lookupAlpha at a
// time, until nothing is in flight.
type lookup struct {
	taskBase
	target   int160.T
	entries  []*lookupEntry
	inFlight int
	// Addresses already queried, so that nodes learned again later aren't
	// queried twice.
	queried *bloom.BloomFilter
	hooks   lookupHooks
}

func (l *lookup) init(s *Server, target int160.T, hooks lookupHooks) {
	l.s = s
	l.target = target
	l.hooks = hooks
	l.queried = bloom.NewWithEstimates(1000, 0.001)
}

func (l *lookup) startup() {
	for _, n := range l.s.table.getClosestKNodes(l.target) {
		l.entries = append(l.entries, &lookupEntry{node: n})
	}
	l.sortEntries()
	if len(l.entries) == 0 {
		l.s.logger().Levelf(log.Debug, "lookup for %v has no nodes to start from", l.target)
		l.finishLookup()
		return
	}
	l.sendMessage()
	if l.inFlight == 0 {
		l.finishLookup()
	}
}

func (l *lookup) sendMessage() {
	for _, e := range l.entries {
		if l.inFlight >= lookupAlpha {
			break
		}
		if e.used {
			continue
		}
		e.used = true
		l.inFlight++
		l.queried.AddString(e.node.addr.String())
		l.s.dispatcher.addMessageToQueue(l.hooks.createMessage(e.node), l.s.config.QueryTimeout, l)
	}
}

func (l *lookup) sendMessageAndCheckFinish() {
	if l.hooks.needsAdditionalOutgoingMessage() {
		l.sendMessage()
	}
	if l.inFlight == 0 {
		l.finishLookup()
	}
}

func (l *lookup) finishLookup() {
	l.s.logger().Levelf(log.Debug, "lookup for %v finished with %d entries", l.target, len(l.entries))
	l.hooks.onFinish()
	l.finish()
}

func (l *lookup) onReceived(m Message) {
	if l.finished() {
		return
	}
	l.inFlight--
	remote := m.Remote()
	// The responder may have a different ID than the entry we queried.
	for _, e := range l.entries {
		if e.node.addr.Equal(remote.addr) {
			e.node = remote
		}
	}
	l.hooks.onReceivedInternal(m)
	for _, n := range l.hooks.getNodesFromMessage(m) {
		if n.id == l.s.id {
			continue
		}
		l.entries = append(l.entries, &lookupEntry{
			node: n,
			used: l.queried.TestString(n.addr.String()),
		})
	}
	l.sortEntries()
	l.dedupeEntries()
	if len(l.entries) > bucketSize {
		for i := bucketSize; i < len(l.entries); i++ {
			l.entries[i] = nil
		}
		l.entries = l.entries[:bucketSize]
	}
	l.sendMessageAndCheckFinish()
}

func (l *lookup) onTimeout(n *Node) {
	if l.finished() {
		return
	}
	l.inFlight--
	entries := l.entries[:0]
	for _, e := range l.entries {
		if !e.node.Equal(n) {
			entries = append(entries, e)
		}
	}
	for i := len(entries); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = entries
	l.sendMessageAndCheckFinish()
}

func (l *lookup) sortEntries() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		a, b := l.entries[i].node, l.entries[j].node
		return multiless.New().Cmp(
			a.id.Distance(l.target).Cmp(b.id.Distance(l.target)),
		).Cmp(
			bytes.Compare(a.addr.IP.To16(), b.addr.IP.To16()),
		).Int(
			a.addr.Port, b.addr.Port,
		).Less()
	})
}

// Entries must be sorted. Duplicates are adjacent then, and are merged
// keeping the used flag.
func (l *lookup) dedupeEntries() {
	if len(l.entries) == 0 {
		return
	}
	out := l.entries[:1]
	for _, e := range l.entries[1:] {
		last := out[len(out)-1]
		if last.node.Equal(e.node) {
			last.used = last.used || e.used
			continue
		}
		out = append(out, e)
	}
	for i := len(out); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = out
}

// The nodes currently closest to the target.
func (l *lookup) closestNodes() (ret []*Node) {
	for _, e := range l.entries {
		ret = append(ret, e.node)
	}
	return
}

// Safe to call without the Server's lock.
func (l *lookup) Target() int160.T {
	return l.target
}
