package testutil

import (
	"net"
	"sync"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/krpc"
)

// An ID that's zero except for its first byte.
func IDWithFirstByte(b byte) (id krpc.ID) {
	id[0] = b
	return
}

type Packet struct {
	B    []byte
	Addr krpc.NodeAddr
}

// An in-memory Conn. Sends are recorded, and Receive returns what's Fed.
type FakeConn struct {
	Addr krpc.NodeAddr

	mu   sync.Mutex
	sent []Packet
	// Returned by Send in order, before it starts succeeding.
	sendErrs []error
	incoming chan Packet
	closed   chansync.SetOnce
}

func NewFakeConn(addr krpc.NodeAddr) *FakeConn {
	return &FakeConn{
		Addr:     addr,
		incoming: make(chan Packet, 16),
	}
}

func (c *FakeConn) Send(b []byte, to krpc.NodeAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.IsSet() {
		return errors.New("closed")
	}
	if len(c.sendErrs) != 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		return err
	}
	c.sent = append(c.sent, Packet{append([]byte(nil), b...), to})
	return nil
}

// Makes the next sends fail with the given errors.
func (c *FakeConn) FailSends(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrs = append(c.sendErrs, errs...)
}

// Returns and forgets everything sent so far.
func (c *FakeConn) TakeSent() (ret []Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret, c.sent = c.sent, nil
	return
}

func (c *FakeConn) NumSent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// Queues a packet for Receive.
func (c *FakeConn) Feed(b []byte, from krpc.NodeAddr) {
	select {
	case c.incoming <- Packet{b, from}:
	case <-c.closed.Done():
	}
}

func (c *FakeConn) Receive(b []byte) (int, krpc.NodeAddr, error) {
	select {
	case p := <-c.incoming:
		return copy(b, p.B), p.Addr, nil
	case <-c.closed.Done():
		return 0, krpc.NodeAddr{}, net.ErrClosed
	}
}

func (c *FakeConn) LocalAddr() net.Addr {
	return c.Addr.UDP()
}

func (c *FakeConn) Close() error {
	c.closed.Set()
	return nil
}

// A clock that only moves when told to.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
