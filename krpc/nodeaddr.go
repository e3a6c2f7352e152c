package krpc

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

const (
	compactIPv4AddrLen = net.IPv4len + 2
	compactIPv6AddrLen = net.IPv6len + 2
)

// A UDP endpoint as it appears in compact peer and node info.
type NodeAddr struct {
	IP   net.IP
	Port int
}

func NewNodeAddr(ip net.IP, port int) NodeAddr {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return NodeAddr{IP: ip, Port: port}
}

func NodeAddrFromUDP(ua *net.UDPAddr) NodeAddr {
	return NewNodeAddr(ua.IP, ua.Port)
}

// A zero Port is taken to mean no port provided, per BEP 7.
func (me NodeAddr) String() string {
	if me.Port == 0 {
		return me.IP.String()
	}
	return net.JoinHostPort(me.IP.String(), strconv.FormatInt(int64(me.Port), 10))
}

func (me NodeAddr) IsIPv4() bool {
	return me.IP.To4() != nil
}

func (me *NodeAddr) UnmarshalBinary(b []byte) error {
	switch len(b) {
	case compactIPv4AddrLen, compactIPv6AddrLen:
	default:
		return errors.Errorf("bad compact address length %d", len(b))
	}
	me.IP = make(net.IP, len(b)-2)
	copy(me.IP, b[:len(b)-2])
	me.Port = int(binary.BigEndian.Uint16(b[len(b)-2:]))
	return nil
}

func (me *NodeAddr) UnmarshalBencode(b []byte) (err error) {
	return unmarshalBencodedBinary(me, b)
}

// IPv4 addresses (including v4-in-v6) are always written in 4 bytes.
func (me NodeAddr) MarshalBinary() ([]byte, error) {
	ip := me.IP.To4()
	if ip == nil {
		ip = me.IP.To16()
	}
	if ip == nil {
		return nil, errors.Errorf("can't marshal ip %v", me.IP)
	}
	b := make([]byte, len(ip)+2)
	copy(b, ip)
	binary.BigEndian.PutUint16(b[len(ip):], uint16(me.Port))
	return b, nil
}

func (me NodeAddr) MarshalBencode() ([]byte, error) {
	return bencodeBytesResult(me.MarshalBinary())
}

func (me NodeAddr) UDP() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   me.IP,
		Port: me.Port,
	}
}

func (me NodeAddr) Equal(x NodeAddr) bool {
	return me.IP.Equal(x.IP) && me.Port == x.Port
}
