package dht

import (
	"time"

	"github.com/anacrolix/log"

	"github.com/anacrolix/mldht/krpc"
)

// Receives the outcome of a query. Exactly one of the methods is called,
// once, with the Server locked. A handler may have been abandoned by the time
// it's called, and should check for that.
type messageHandler interface {
	onReceived(Message)
	onTimeout(*Node)
}

type trackerEntry struct {
	target     *Node
	t          string
	method     string
	handler    messageHandler
	dispatched time.Time
	timeout    time.Duration
}

func (e *trackerEntry) expired(now time.Time) bool {
	return now.Sub(e.dispatched) >= e.timeout
}

func (e *trackerEntry) match(t string, addr krpc.NodeAddr) bool {
	return e.t == t && e.target.addr.Equal(addr)
}

// Queries we're waiting on a reply for.
type tracker struct {
	entries []*trackerEntry
	factory *messageFactory
	table   *routingTable
	logger  log.Logger
}

func (me *tracker) addMessage(m Message, timeout time.Duration, handler messageHandler, now time.Time) {
	me.entries = append(me.entries, &trackerEntry{
		target:     m.Remote(),
		t:          m.TransactionID(),
		method:     m.Method(),
		handler:    handler,
		dispatched: now,
		timeout:    timeout,
	})
}

func (me *tracker) removeEntry(i int) *trackerEntry {
	e := me.entries[i]
	copy(me.entries[i:], me.entries[i+1:])
	me.entries[len(me.entries)-1] = nil
	me.entries = me.entries[:len(me.entries)-1]
	return e
}

// Consumes the entry the reply answers, if any. The returned handler is
// still to be resolved by the caller. If the reply is an error or can't be
// interpreted, the handler is resolved as a failure here and a nil handler
// returned.
func (me *tracker) messageArrived(m krpc.Msg, addr krpc.NodeAddr, now time.Time) (Message, messageHandler, bool) {
	i := -1
	for j, e := range me.entries {
		if e.match(m.T, addr) {
			i = j
			break
		}
	}
	if i == -1 {
		return nil, nil, false
	}
	e := me.removeEntry(i)
	reply, err := me.factory.createResponse(m, e.method, e.target)
	if err != nil {
		me.logger.Levelf(log.Debug, "bad %q reply from %v: %v", e.method, addr, err)
		me.resolveFailure(e)
		return &Unknown{Addr: addr, Err: err}, nil, true
	}
	if _, ok := reply.(*ErrorReply); ok {
		me.logger.Levelf(log.Debug, "got %v", reply)
		me.resolveFailure(e)
		return reply, nil, true
	}
	e.target.UpdateRTT(now.Sub(e.dispatched))
	switch {
	case e.target.id.IsZero():
		// We dialed an address without knowing who's there.
	case reply.Remote().id != e.target.id:
		me.logger.Levelf(log.Debug, "%v replied with ID %v, dropping it", e.target, reply.Remote().id)
		me.table.dropNode(e.target)
	default:
		me.table.moveBucketTail(e.target)
	}
	return reply, e.handler, true
}

func (me *tracker) resolveFailure(e *trackerEntry) {
	if e.handler != nil {
		e.handler.onTimeout(e.target)
	}
}

// Fails every query that has run out of time.
func (me *tracker) handleTimeout(now time.Time) {
	var expired []*trackerEntry
	kept := me.entries[:0]
	for _, e := range me.entries {
		if e.expired(now) {
			expired = append(expired, e)
		} else {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(me.entries); i++ {
		me.entries[i] = nil
	}
	me.entries = kept
	for _, e := range expired {
		queryTimeouts.Add(1)
		me.logger.Levelf(log.Debug, "%q query to %v timed out", e.method, e.target)
		e.target.Timeout()
		if e.target.IsBad() {
			me.table.dropNode(e.target)
		} else {
			// First in line for replacement.
			me.table.moveBucketHead(e.target)
		}
		me.resolveFailure(e)
	}
}

func (me *tracker) numEntries() int {
	return len(me.entries)
}
