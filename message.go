package dht

import (
	"fmt"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

// Message is one of the KRPC message variants the Server knows how to build
// and interpret: Ping, PingReply, FindNode, FindNodeReply, GetPeers,
// GetPeersReply, AnnouncePeer, AnnouncePeerReply, ErrorReply and Unknown.
// Messages are immutable once built.
type Message interface {
	// The query method, or "" for Unknown.
	Method() string
	IsReply() bool
	// The node on the other end of the exchange.
	Remote() *Node
	TransactionID() string
	String() string
	header() *messageHeader
}

type messageHeader struct {
	remote *Node
	t      string
	// Client version string of the remote, for received messages.
	v string
}

func (h *messageHeader) Remote() *Node {
	return h.remote
}

func (h *messageHeader) TransactionID() string {
	return h.t
}

func (h *messageHeader) Version() string {
	return h.v
}

func (h *messageHeader) header() *messageHeader {
	return h
}

func (h *messageHeader) describe(what string) string {
	return fmt.Sprintf("%s t=%q remote=%v", what, h.t, h.remote)
}

type queryMessage struct{}

func (queryMessage) IsReply() bool { return false }

type replyMessage struct{}

func (replyMessage) IsReply() bool { return true }

type Ping struct {
	messageHeader
	queryMessage
}

func (*Ping) Method() string { return krpc.QPing }
func (m *Ping) String() string { return m.describe("ping") }

type PingReply struct {
	messageHeader
	replyMessage
}

func (*PingReply) Method() string { return krpc.QPing }
func (m *PingReply) String() string { return m.describe("ping reply") }

type FindNode struct {
	messageHeader
	queryMessage
	Target int160.T
}

func (*FindNode) Method() string { return krpc.QFindNode }

func (m *FindNode) String() string {
	return m.describe(fmt.Sprintf("find_node target=%v", m.Target))
}

type FindNodeReply struct {
	messageHeader
	replyMessage
	Nodes []*Node
}

func (*FindNodeReply) Method() string { return krpc.QFindNode }

func (m *FindNodeReply) String() string {
	return m.describe(fmt.Sprintf("find_node reply nodes=%d", len(m.Nodes)))
}

type GetPeers struct {
	messageHeader
	queryMessage
	InfoHash int160.T
}

func (*GetPeers) Method() string { return krpc.QGetPeers }

func (m *GetPeers) String() string {
	return m.describe(fmt.Sprintf("get_peers info_hash=%v", m.InfoHash))
}

type GetPeersReply struct {
	messageHeader
	replyMessage
	Token  string
	Values []krpc.NodeAddr
	Nodes  []*Node
}

func (*GetPeersReply) Method() string { return krpc.QGetPeers }

func (m *GetPeersReply) String() string {
	return m.describe(fmt.Sprintf("get_peers reply token=%x values=%d nodes=%d", m.Token, len(m.Values), len(m.Nodes)))
}

type AnnouncePeer struct {
	messageHeader
	queryMessage
	InfoHash int160.T
	// The port as sent. Ignored by the receiver if ImpliedPort is set.
	Port        int
	ImpliedPort bool
	Token       string
}

func (*AnnouncePeer) Method() string { return krpc.QAnnouncePeer }

func (m *AnnouncePeer) String() string {
	return m.describe(fmt.Sprintf("announce_peer info_hash=%v port=%d implied=%v", m.InfoHash, m.Port, m.ImpliedPort))
}

// The port the announcing peer can be reached on.
func (m *AnnouncePeer) PeerPort() int {
	if m.ImpliedPort {
		return m.remote.addr.Port
	}
	return m.Port
}

type AnnouncePeerReply struct {
	messageHeader
	replyMessage
}

func (*AnnouncePeerReply) Method() string { return krpc.QAnnouncePeer }

func (m *AnnouncePeerReply) String() string { return m.describe("announce_peer reply") }

// An error message. When sent it answers a query we couldn't serve; when
// received it fails the query it answers.
type ErrorReply struct {
	messageHeader
	replyMessage
	Err krpc.Error
	// The method of the query being answered, if known.
	method string
}

func (m *ErrorReply) Method() string { return m.method }

func (m *ErrorReply) String() string {
	return m.describe(fmt.Sprintf("error reply %v", m.Err))
}

// Stands in for anything received that isn't usable: undecodable packets,
// replies nobody is waiting for, malformed queries.
type Unknown struct {
	messageHeader
	Addr krpc.NodeAddr
	Err  error
}

func (*Unknown) Method() string { return "" }
func (*Unknown) IsReply() bool { return false }

func (m *Unknown) String() string {
	return fmt.Sprintf("unknown message from %v: %v", m.Addr, m.Err)
}

var (
	_ Message = (*Ping)(nil)
	_ Message = (*PingReply)(nil)
	_ Message = (*FindNode)(nil)
	_ Message = (*FindNodeReply)(nil)
	_ Message = (*GetPeers)(nil)
	_ Message = (*GetPeersReply)(nil)
	_ Message = (*AnnouncePeer)(nil)
	_ Message = (*AnnouncePeerReply)(nil)
	_ Message = (*ErrorReply)(nil)
	_ Message = (*Unknown)(nil)
)
