package dht

import (
	"fmt"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
	peer_store "github.com/anacrolix/mldht/peer-store"
)

// Keeps get_peers replies comfortably inside a UDP datagram.
const maxPeersPerReply = 50

// Processes one packet from the network. The returned message is what the
// packet was understood as. Anything that couldn't be used is an Unknown.
func (s *Server) ReceiveMessage(b []byte, from krpc.NodeAddr) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiveMessage(b, from, s.now())
}

func (s *Server) unknownMessage(from krpc.NodeAddr, err error) *Unknown {
	s.logger().Levelf(log.Debug, "dropping message from %v: %v", from, err)
	expvars.Add("unknown messages received", 1)
	return &Unknown{Addr: from, Err: err}
}

func (s *Server) receiveMessage(b []byte, from krpc.NodeAddr, now time.Time) Message {
	if s.closed.IsSet() {
		return s.unknownMessage(from, errors.New("server closed"))
	}
	if from.Port == 0 {
		readZeroPort.Add(1)
		return s.unknownMessage(from, errors.New("zero source port"))
	}
	if from.IP.To16() == nil {
		return s.unknownMessage(from, errors.New("bad source ip"))
	}
	if s.ipBlocked(from.IP) {
		readBlocked.Add(1)
		return s.unknownMessage(from, errors.New("source is blocked"))
	}
	if len(b) < 2 || b[0] != 'd' {
		// KRPC messages are bencoded dicts.
		readNotKRPCDict.Add(1)
		return s.unknownMessage(from, errors.New("not a bencoded dict"))
	}
	var d krpc.Msg
	err := bencode.Unmarshal(b, &d)
	if _, ok := err.(bencode.ErrUnusedTrailingBytes); ok {
		expvars.Add("processed packets with trailing bytes", 1)
	} else if err != nil {
		readUnmarshalError.Add(1)
		return s.unknownMessage(from, errors.Wrap(err, "decoding"))
	}
	var (
		m Message
		h messageHandler
	)
	switch d.Y {
	case krpc.YResponse, krpc.YError:
		var ok bool
		m, h, ok = s.tracker.messageArrived(d, from, now)
		if !ok {
			return s.unknownMessage(from, errors.Errorf("no query pending for %q reply", d.T))
		}
		switch m.(type) {
		case *Unknown, *ErrorReply:
			// The tracker has already failed the query.
			return m
		}
	case krpc.YQuery:
		expvars.Add(fmt.Sprintf("received query %q", d.Q), 1)
		m, err = s.factory.createQuery(d, from)
		if err != nil {
			if errors.Cause(err) == errMethodUnknown {
				s.sendError(from, d.T, krpc.ErrorMethodUnknown)
			}
			return s.unknownMessage(from, err)
		}
		if m.Remote().id == s.id {
			return s.unknownMessage(from, errors.New("query from our own ID"))
		}
	default:
		return s.unknownMessage(from, errors.Errorf("bad message type %q", d.Y))
	}
	s.handleReceived(m, now)
	remote := m.Remote()
	remote.MarkGood()
	remote.UpdateLastContact(now)
	s.addGoodNode(remote, now)
	if h != nil {
		h.onReceived(m)
	}
	return m
}

// Answers queries, and takes in what replies tell us.
func (s *Server) handleReceived(m Message, now time.Time) {
	switch m := m.(type) {
	case *Ping:
		s.reply(&PingReply{messageHeader: replyHeader(m)})
	case *FindNode:
		s.reply(&FindNodeReply{
			messageHeader: replyHeader(m),
			Nodes:         s.table.getClosestKNodes(m.Target),
		})
	case *GetPeers:
		s.reply(&GetPeersReply{
			messageHeader: replyHeader(m),
			Token:         s.tokenServer.CreateToken(m.remote.addr),
			Values:        s.storedPeers(metainfo.Hash(m.InfoHash.AsByteArray())),
			Nodes:         s.table.getClosestKNodes(m.InfoHash),
		})
	case *AnnouncePeer:
		readAnnouncePeer.Add(1)
		ih := metainfo.Hash(m.InfoHash.AsByteArray())
		ip := m.remote.addr.IP
		port := m.PeerPort()
		if h := s.config.OnAnnouncePeer; h != nil {
			go h(ih, ip, port, true)
		}
		if ps := s.config.PeerStore; ps != nil {
			ps.AddPeer(peer_store.InfoHash(ih), krpc.NewNodeAddr(ip, port))
		}
		s.reply(&AnnouncePeerReply{messageHeader: replyHeader(m)})
	case *FindNodeReply:
		// We haven't heard from these nodes ourselves yet.
		for _, n := range m.Nodes {
			s.table.addNode(n, false, now)
		}
	case *AnnouncePeerReply:
		s.stats.SuccessfulOutboundAnnouncePeerQueries++
	case *PingReply, *GetPeersReply:
	default:
		panic(fmt.Sprintf("unexpected %T", m))
	}
}

// Stored peers of our address family for the info-hash.
func (s *Server) storedPeers(ih metainfo.Hash) (ret []krpc.NodeAddr) {
	ps := s.config.PeerStore
	if ps == nil {
		return
	}
	for _, p := range ps.GetPeers(peer_store.InfoHash(ih)) {
		if len(ret) == maxPeersPerReply {
			break
		}
		if p.IsIPv4() == s.config.IPv6 {
			continue
		}
		ret = append(ret, p)
	}
	return
}

// Adds a node we just heard from. If its bucket is full of nodes we haven't
// heard from lately, one of them is pinged to see if it should make way.
func (s *Server) addGoodNode(n *Node, now time.Time) {
	if n.addr.IsIPv4() == s.config.IPv6 {
		return
	}
	added, b := s.table.addNode(n, true, now)
	if added || b == nil || b.replacing {
		return
	}
	if b.lruQuestionableNode(now) == nil {
		return
	}
	s.taskQueue.addPeriodicTask(s.newReplaceNodeTask(b, n))
}

func (s *Server) reply(m Message) {
	s.dispatcher.addMessageToQueue(m, 0, nil)
}

func (s *Server) sendError(to krpc.NodeAddr, t string, e krpc.Error) {
	s.reply(s.factory.newErrorReply(newNode(int160.T{}, to), t, e))
}
