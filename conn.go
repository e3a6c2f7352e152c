package dht

import (
	"io"
	"net"
	"syscall"

	"github.com/anacrolix/missinggo"
	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/krpc"
)

// Returned by Conn.Send when the packet should be retried later. The
// dispatcher stops sending for the current tick when it sees this.
var ErrSendBackpressure = errors.New("send backpressure")

// The datagram transport a Server runs on.
type Conn interface {
	Send(b []byte, to krpc.NodeAddr) error
	// Blocks until a packet arrives.
	Receive(b []byte) (n int, from krpc.NodeAddr, err error)
	LocalAddr() net.Addr
	Close() error
}

type packetConn struct {
	net.PacketConn
}

// Adapts a UDP socket.
func NewPacketConn(pc net.PacketConn) Conn {
	return packetConn{pc}
}

func (me packetConn) Send(b []byte, to krpc.NodeAddr) error {
	n, err := me.WriteTo(b, to.UDP())
	if err != nil {
		if errors.Is(err, syscall.ENOBUFS) {
			return ErrSendBackpressure
		}
		return errors.Wrapf(err, "writing %d bytes to %v", len(b), to)
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

func (me packetConn) Receive(b []byte) (int, krpc.NodeAddr, error) {
	n, addr, err := me.ReadFrom(b)
	if err != nil {
		return n, krpc.NodeAddr{}, err
	}
	return n, krpc.NewNodeAddr(missinggo.AddrIP(addr), missinggo.AddrPort(addr)), nil
}
