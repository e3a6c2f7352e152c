package dht

import (
	"net"
	"testing"
	"time"

	"github.com/anacrolix/torrent/iplist"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/mldht/internal/testutil"
	"github.com/anacrolix/mldht/krpc"
	peer_store "github.com/anacrolix/mldht/peer-store"
)

func query(t testing.TB, q string, id krpc.ID, f func(*krpc.MsgArgs)) []byte {
	args := &krpc.MsgArgs{ID: id}
	if f != nil {
		f(args)
	}
	return encodeMsg(t, krpc.Msg{T: "aa", Y: krpc.YQuery, Q: q, A: args})
}

// Ticks the node and returns the one message it sends.
func tickForReply(t testing.TB, n testNode) krpc.Msg {
	n.Tick()
	sent := n.conn.TakeSent()
	require.Len(t, sent, 1)
	return decodePacket(t, sent[0])
}

func TestReceiveUnusable(t *testing.T) {
	a := newTestNode(t, testutil.NewClock(testEpoch), testutil.IDWithFirstByte(0x01), 1001)
	from := krpc.NewNodeAddr(localhost, 2000)
	remoteID := testutil.IDWithFirstByte(0x80)
	for _, tc := range []struct {
		name string
		b    []byte
		from krpc.NodeAddr
	}{
		{"NotDict", []byte("li1ee"), from},
		{"Truncated", []byte("d1:t"), from},
		{"ZeroPort", query(t, krpc.QPing, remoteID, nil), krpc.NewNodeAddr(localhost, 0)},
		{"BadType", encodeMsg(t, krpc.Msg{T: "aa", Y: "x"}), from},
		{"UnsolicitedReply", encodeMsg(t, krpc.Msg{T: "aa", Y: krpc.YResponse, R: &krpc.Return{ID: remoteID}}), from},
		{"NoArgs", encodeMsg(t, krpc.Msg{T: "aa", Y: krpc.YQuery, Q: krpc.QPing}), from},
		{"FindNodeNoTarget", query(t, krpc.QFindNode, remoteID, nil), from},
		{"GetPeersNoInfoHash", query(t, krpc.QGetPeers, remoteID, nil), from},
		{"OurOwnID", query(t, krpc.QPing, a.ID(), nil), from},
		{"NoSenderID", query(t, krpc.QFindNode, krpc.ID{}, func(args *krpc.MsgArgs) {
			target := remoteID
			args.Target = &target
		}), from},
		{"NoSourceIP", query(t, krpc.QGetPeers, remoteID, func(args *krpc.MsgArgs) {
			ih := remoteID
			args.InfoHash = &ih
		}), krpc.NodeAddr{Port: 2000}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := a.ReceiveMessage(tc.b, tc.from)
			require.IsType(t, (*Unknown)(nil), m)
			assert.Error(t, m.(*Unknown).Err)
		})
	}
	a.Tick()
	assert.Zero(t, a.conn.NumSent())
	assert.Zero(t, a.NumNodes())
}

func TestBlockedAddresses(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001)
	a.SetIPBlockList(iplist.New([]iplist.Range{{
		First: net.IPv4(10, 0, 0, 0).To4(),
		Last:  net.IPv4(10, 255, 255, 255).To4(),
	}}))
	blocked := krpc.NewNodeAddr(net.IPv4(10, 1, 2, 3), 2000)
	m := a.ReceiveMessage(query(t, krpc.QPing, testutil.IDWithFirstByte(0x80), nil), blocked)
	assert.IsType(t, (*Unknown)(nil), m)
	pt, err := a.Ping(blocked)
	require.NoError(t, err)
	a.Tick()
	a.Tick()
	a.Tick()
	assert.True(t, pt.Finished())
	assert.False(t, pt.Succeeded())
	assert.Zero(t, a.conn.NumSent())
	assert.Equal(t, 1, a.Stats().BlockedIPs)
}

func TestUnknownMethodGetsError(t *testing.T) {
	a := newTestNode(t, testutil.NewClock(testEpoch), testutil.IDWithFirstByte(0x01), 1001)
	from := krpc.NewNodeAddr(localhost, 2000)
	m := a.ReceiveMessage(query(t, "vote", testutil.IDWithFirstByte(0x80), nil), from)
	assert.IsType(t, (*Unknown)(nil), m)
	r := tickForReply(t, a)
	assert.Equal(t, krpc.YError, r.Y)
	assert.Equal(t, "aa", r.T)
	require.NotNil(t, r.E)
	assert.Equal(t, krpc.ErrorCodeMethodUnknown, r.E.Code)
	// The sender isn't trusted with a table slot.
	assert.Zero(t, a.NumNodes())
}

func TestPingQuery(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001, func(c *ServerConfig) {
		c.ClientVersion = "mt01"
	})
	from := krpc.NewNodeAddr(localhost, 2000)
	remoteID := testutil.IDWithFirstByte(0x80)
	m := a.ReceiveMessage(encodeMsg(t, krpc.Msg{
		T: "aa",
		Y: krpc.YQuery,
		Q: krpc.QPing,
		A: &krpc.MsgArgs{ID: remoteID},
		V: "ut01",
	}), from)
	require.IsType(t, (*Ping)(nil), m)
	assert.Equal(t, "ut01", m.(*Ping).Version())
	assert.True(t, m.Remote().IsGood(clock.Now()))
	r := tickForReply(t, a)
	assert.Equal(t, krpc.YResponse, r.Y)
	assert.Equal(t, "aa", r.T)
	assert.Equal(t, "mt01", r.V)
	assert.EqualValues(t, a.ID(), r.R.ID)
	assert.Equal(t, []krpc.NodeInfo{{ID: remoteID, Addr: from}}, a.Nodes())
}

func TestFindNodeQuery(t *testing.T) {
	a := newTestNode(t, testutil.NewClock(testEpoch), testutil.IDWithFirstByte(0x01), 1001)
	var known []krpc.NodeInfo
	for i := 0; i < 3; i++ {
		ni := krpc.NodeInfo{
			ID:   testutil.IDWithFirstByte(byte(0x80 + i)),
			Addr: krpc.NewNodeAddr(localhost, 3000+i),
		}
		require.NoError(t, a.AddNode(ni))
		known = append(known, ni)
	}
	from := krpc.NewNodeAddr(localhost, 2000)
	target := testutil.IDWithFirstByte(0x81)
	m := a.ReceiveMessage(query(t, krpc.QFindNode, testutil.IDWithFirstByte(0x40), func(args *krpc.MsgArgs) {
		args.Target = &target
	}), from)
	require.IsType(t, (*FindNode)(nil), m)
	assert.EqualValues(t, target.Int160(), m.(*FindNode).Target)
	r := tickForReply(t, a)
	require.NotNil(t, r.R)
	assert.ElementsMatch(t, known, []krpc.NodeInfo(r.R.Nodes))
	assert.Empty(t, r.R.Nodes6)
}

func TestGetPeersAndAnnounce(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	// Keep bucket refreshes out of the way of the replies.
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001, func(c *ServerConfig) {
		c.MaintenanceInterval = time.Hour
	})
	ih := testutil.IDWithFirstByte(0x81)
	v4 := krpc.NewNodeAddr(net.IPv4(10, 0, 0, 1), 5000)
	a.PeerStore().AddPeer(metainfo.Hash(ih), v4)
	a.PeerStore().AddPeer(metainfo.Hash(ih), krpc.NewNodeAddr(net.ParseIP("2001:db8::1"), 5000))
	from := krpc.NewNodeAddr(localhost, 2000)
	remoteID := testutil.IDWithFirstByte(0x80)

	m := a.ReceiveMessage(query(t, krpc.QGetPeers, remoteID, func(args *krpc.MsgArgs) {
		args.InfoHash = &ih
	}), from)
	require.IsType(t, (*GetPeers)(nil), m)
	r := tickForReply(t, a)
	require.NotNil(t, r.R)
	require.NotNil(t, r.R.Token)
	token := *r.R.Token
	// Only peers of our address family.
	assert.Equal(t, []krpc.NodeAddr{v4}, r.R.Values)

	announce := func(token string, port int) Message {
		return a.ReceiveMessage(query(t, krpc.QAnnouncePeer, remoteID, func(args *krpc.MsgArgs) {
			args.InfoHash = &ih
			args.Token = token
			args.Port = &port
		}), from)
	}
	assert.IsType(t, (*Unknown)(nil), announce("bogus", 7000))
	assert.IsType(t, (*Unknown)(nil), announce(token, 0))
	a.Tick()
	assert.Zero(t, a.conn.NumSent())

	// Tokens outlive a rotation.
	clock.Advance(5 * time.Minute)
	m = announce(token, 7000)
	require.IsType(t, (*AnnouncePeer)(nil), m)
	assert.Equal(t, 7000, m.(*AnnouncePeer).PeerPort())
	r = tickForReply(t, a)
	assert.Equal(t, krpc.YResponse, r.Y)
	assert.Contains(t, a.PeerStore().GetPeers(metainfo.Hash(ih)), krpc.NewNodeAddr(localhost, 7000))
}

func TestMaintenanceExpiresPeers(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001)
	ih := metainfo.Hash(testutil.IDWithFirstByte(0x81))
	a.PeerStore().AddPeer(ih, krpc.NewNodeAddr(net.IPv4(10, 0, 0, 1), 5000))
	store := a.PeerStore().(*peer_store.InMemory)
	clock.Advance(peer_store.DefaultMaxAge)
	assert.Len(t, store.GetAll(), 1)
	a.Tick()
	assert.Empty(t, store.GetAll())
}
