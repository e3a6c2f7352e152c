package dht

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
	"github.com/anacrolix/mldht/transactions"
)

var errMethodUnknown = errors.New("method unknown")

// Builds messages for sending, turns decoded KRPC into typed messages, and
// back again. Nodes referred to by incoming messages are resolved against
// the routing table so that state updates land on the stored instance.
type messageFactory struct {
	localID int160.T
	ipv6    bool
	version string
	table   *routingTable
	tokens  *tokenServer
	tIssuer transactions.IdIssuer
}

func (f *messageFactory) getOrCreateNode(id int160.T, addr krpc.NodeAddr) *Node {
	if n := f.table.getNode(id, addr); n != nil {
		return n
	}
	return newNode(id, addr)
}

func (f *messageFactory) queryHeader(remote *Node) messageHeader {
	return messageHeader{
		remote: remote,
		t:      f.tIssuer.Issue(),
	}
}

func replyHeader(query Message) messageHeader {
	return messageHeader{
		remote: query.Remote(),
		t:      query.TransactionID(),
	}
}

func (f *messageFactory) newPing(remote *Node) *Ping {
	return &Ping{messageHeader: f.queryHeader(remote)}
}

func (f *messageFactory) newFindNode(remote *Node, target int160.T) *FindNode {
	return &FindNode{
		messageHeader: f.queryHeader(remote),
		Target:        target,
	}
}

func (f *messageFactory) newGetPeers(remote *Node, infoHash int160.T) *GetPeers {
	return &GetPeers{
		messageHeader: f.queryHeader(remote),
		InfoHash:      infoHash,
	}
}

func (f *messageFactory) newAnnouncePeer(remote *Node, infoHash int160.T, port int, impliedPort bool, token string) *AnnouncePeer {
	return &AnnouncePeer{
		messageHeader: f.queryHeader(remote),
		InfoHash:      infoHash,
		Port:          port,
		ImpliedPort:   impliedPort,
		Token:         token,
	}
}

func (f *messageFactory) newErrorReply(remote *Node, t string, err krpc.Error) *ErrorReply {
	return &ErrorReply{
		messageHeader: messageHeader{remote: remote, t: t},
		Err:           err,
	}
}

// Builds the typed query sent to us from addr. Malformed arguments are
// errors. An unsupported method gives an error with cause errMethodUnknown.
func (f *messageFactory) createQuery(m krpc.Msg, addr krpc.NodeAddr) (Message, error) {
	switch m.Q {
	case krpc.QPing, krpc.QFindNode, krpc.QGetPeers, krpc.QAnnouncePeer:
	default:
		return nil, errors.Wrapf(errMethodUnknown, "%q", m.Q)
	}
	args := m.A
	if args == nil {
		return nil, errors.Errorf("%q query without arguments", m.Q)
	}
	// Decoding leaves the ID zero if it's absent.
	if args.ID.IsZero() {
		return nil, errors.Errorf("%q query without sender id", m.Q)
	}
	h := messageHeader{
		remote: f.getOrCreateNode(args.ID.Int160(), addr),
		t:      m.T,
		v:      m.V,
	}
	switch m.Q {
	case krpc.QPing:
		return &Ping{messageHeader: h}, nil
	case krpc.QFindNode:
		if args.Target == nil {
			return nil, errors.New("find_node without target")
		}
		return &FindNode{messageHeader: h, Target: args.Target.Int160()}, nil
	case krpc.QGetPeers:
		if args.InfoHash == nil {
			return nil, errors.New("get_peers without info_hash")
		}
		return &GetPeers{messageHeader: h, InfoHash: args.InfoHash.Int160()}, nil
	case krpc.QAnnouncePeer:
		if args.InfoHash == nil {
			return nil, errors.New("announce_peer without info_hash")
		}
		if !f.tokens.ValidToken(args.Token, addr) {
			return nil, errors.Errorf("announce_peer with invalid token %x", args.Token)
		}
		ap := &AnnouncePeer{
			messageHeader: h,
			InfoHash:      args.InfoHash.Int160(),
			ImpliedPort:   args.ImpliedPort != 0,
			Token:         args.Token,
		}
		if args.Port != nil {
			ap.Port = *args.Port
		}
		if !ap.ImpliedPort && (ap.Port <= 0 || ap.Port > 0xffff) {
			return nil, errors.Errorf("announce_peer with bad port %d", ap.Port)
		}
		return ap, nil
	default:
		panic(m.Q)
	}
}

// Builds the typed reply to a query of the given method that we sent to
// dialed. The remote of the reply is whoever the responder claims to be.
func (f *messageFactory) createResponse(m krpc.Msg, method string, dialed *Node) (Message, error) {
	if m.Y == krpc.YError {
		return &ErrorReply{
			messageHeader: messageHeader{remote: dialed, t: m.T, v: m.V},
			Err:           *m.Error(),
			method:        method,
		}, nil
	}
	r := m.R
	if r == nil {
		return nil, errors.New("response without return values")
	}
	if r.ID.IsZero() {
		return nil, errors.New("response without sender id")
	}
	remote := dialed
	if id := r.ID.Int160(); id != dialed.id {
		remote = f.getOrCreateNode(id, dialed.addr)
	}
	h := messageHeader{remote: remote, t: m.T, v: m.V}
	switch method {
	case krpc.QPing:
		return &PingReply{messageHeader: h}, nil
	case krpc.QFindNode:
		return &FindNodeReply{messageHeader: h, Nodes: f.nodesFromReturn(r)}, nil
	case krpc.QGetPeers:
		reply := &GetPeersReply{
			messageHeader: h,
			Values:        r.Values,
			Nodes:         f.nodesFromReturn(r),
		}
		if r.Token != nil {
			reply.Token = *r.Token
		}
		return reply, nil
	case krpc.QAnnouncePeer:
		return &AnnouncePeerReply{messageHeader: h}, nil
	default:
		return nil, errors.Errorf("response to unexpected method %q", method)
	}
}

// Nodes in the reply for our address family, excluding ourselves.
func (f *messageFactory) nodesFromReturn(r *krpc.Return) (ret []*Node) {
	var infos []krpc.NodeInfo = r.Nodes
	if f.ipv6 {
		infos = r.Nodes6
	}
	for _, ni := range infos {
		id := ni.ID.Int160()
		if id == f.localID || ni.Addr.Port == 0 {
			continue
		}
		ret = append(ret, f.getOrCreateNode(id, ni.Addr))
	}
	return
}

func (f *messageFactory) setReturnNodes(r *krpc.Return, nodes []*Node) {
	for _, n := range nodes {
		if n.addr.IsIPv4() == f.ipv6 {
			continue
		}
		if f.ipv6 {
			r.Nodes6 = append(r.Nodes6, n.NodeInfo())
		} else {
			r.Nodes = append(r.Nodes, n.NodeInfo())
		}
	}
}

// The wire form of a message we're about to send.
func (f *messageFactory) encode(m Message) krpc.Msg {
	local := krpc.ID(f.localID.AsByteArray())
	msg := krpc.Msg{
		T: m.TransactionID(),
		V: f.version,
	}
	if m.IsReply() {
		msg.Y = krpc.YResponse
		msg.R = &krpc.Return{ID: local}
	} else {
		msg.Y = krpc.YQuery
		msg.Q = m.Method()
		msg.A = &krpc.MsgArgs{ID: local}
	}
	switch m := m.(type) {
	case *Ping, *PingReply, *AnnouncePeerReply:
	case *FindNode:
		target := krpc.ID(m.Target.AsByteArray())
		msg.A.Target = &target
	case *GetPeers:
		infoHash := krpc.ID(m.InfoHash.AsByteArray())
		msg.A.InfoHash = &infoHash
	case *AnnouncePeer:
		infoHash := krpc.ID(m.InfoHash.AsByteArray())
		port := m.Port
		msg.A.InfoHash = &infoHash
		msg.A.Port = &port
		msg.A.Token = m.Token
		if m.ImpliedPort {
			msg.A.ImpliedPort = 1
		}
	case *FindNodeReply:
		f.setReturnNodes(msg.R, m.Nodes)
	case *GetPeersReply:
		token := m.Token
		msg.R.Token = &token
		msg.R.Values = m.Values
		f.setReturnNodes(msg.R, m.Nodes)
	case *ErrorReply:
		err := m.Err
		msg.Y = krpc.YError
		msg.R = nil
		msg.E = &err
	default:
		panic(fmt.Sprintf("can't encode %T", m))
	}
	return msg
}
