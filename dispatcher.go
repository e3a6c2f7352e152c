package dht

import (
	"net"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

type dispatcherEntry struct {
	msg     Message
	timeout time.Duration
	handler messageHandler
}

// The outgoing message queue. Messages go out in the order they were queued.
type dispatcher struct {
	queue   []dispatcherEntry
	conn    Conn
	tracker *tracker
	factory *messageFactory
	limiter *rate.Limiter
	blocked func(net.IP) bool
	logger  log.Logger
}

// Replies are never tracked, so timeout and handler only apply to queries.
func (d *dispatcher) addMessageToQueue(m Message, timeout time.Duration, handler messageHandler) {
	d.queue = append(d.queue, dispatcherEntry{m, timeout, handler})
}

// Sends queued messages until the queue is empty or the network pushes back.
// Queries that fail to send are tracked as already expired, so whoever waits
// on them hears about it on the next timeout sweep.
func (d *dispatcher) sendMessages(now time.Time) {
	for len(d.queue) != 0 {
		e := d.queue[0]
		err := d.send(e.msg)
		if errors.Is(err, ErrSendBackpressure) {
			expvars.Add("dispatcher backpressure", 1)
			break
		}
		d.queue[0] = dispatcherEntry{}
		d.queue = d.queue[1:]
		if err != nil {
			writeErrors.Add(1)
			d.logger.Levelf(log.Debug, "error sending %v: %v", e.msg, err)
			if !e.msg.IsReply() {
				d.tracker.addMessage(e.msg, 0, e.handler, now)
			}
			continue
		}
		if !e.msg.IsReply() {
			d.tracker.addMessage(e.msg, e.timeout, e.handler, now)
		}
	}
	if len(d.queue) == 0 {
		d.queue = nil
	}
}

func (d *dispatcher) send(m Message) error {
	to := m.Remote().addr
	if d.blocked != nil && d.blocked(to.IP) {
		return errors.Errorf("destination %v is blocked", to)
	}
	if d.limiter != nil && !d.limiter.Allow() {
		return ErrSendBackpressure
	}
	b, err := bencode.Marshal(d.factory.encode(m))
	if err != nil {
		return errors.Wrap(err, "encoding")
	}
	err = d.conn.Send(b, to)
	if err != nil {
		return err
	}
	writes.Add(1)
	if m.IsReply() {
		expvars.Add("replies sent", 1)
	} else {
		expvars.Add("queries sent", 1)
	}
	return nil
}

func (d *dispatcher) countMessageInQueue() int {
	return len(d.queue)
}
