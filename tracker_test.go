package dht

import (
	"testing"
	"time"

	"github.com/bradfitz/iter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/mldht/internal/testutil"
	"github.com/anacrolix/mldht/krpc"
)

type recordingHandler struct {
	received []Message
	timeouts []*Node
}

func (h *recordingHandler) onReceived(m Message) {
	h.received = append(h.received, m)
}

func (h *recordingHandler) onTimeout(n *Node) {
	h.timeouts = append(h.timeouts, n)
}

// Sends a ping to remote, and returns it as it went out.
func sendTrackedPing(t testing.TB, n testNode, remote *Node, h messageHandler) krpc.Msg {
	n.dispatcher.addMessageToQueue(n.factory.newPing(remote), defaultQueryTimeout, h)
	return tickForReply(t, n)
}

type trackerTest struct {
	clock      *testutil.Clock
	a          testNode
	remoteID   krpc.ID
	remoteAddr krpc.NodeAddr
	remote     *Node
}

func newTrackerTest(t *testing.T) trackerTest {
	clock := testutil.NewClock(testEpoch)
	remoteID := testutil.IDWithFirstByte(0x80)
	remoteAddr := krpc.NewNodeAddr(localhost, 2000)
	return trackerTest{
		clock:      clock,
		a:          newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001),
		remoteID:   remoteID,
		remoteAddr: remoteAddr,
		remote:     newNode(remoteID.Int160(), remoteAddr),
	}
}

func TestReplyMatchesOnce(t *testing.T) {
	tt := newTrackerTest(t)
	var h recordingHandler
	q := sendTrackedPing(t, tt.a, tt.remote, &h)
	assert.Equal(t, krpc.QPing, q.Q)
	assert.Equal(t, 1, tt.a.Stats().OutstandingQueries)
	reply := encodeMsg(t, krpc.Msg{T: q.T, Y: krpc.YResponse, R: &krpc.Return{ID: tt.remoteID}})
	// Same transaction ID from elsewhere.
	assert.IsType(t, (*Unknown)(nil), tt.a.ReceiveMessage(reply, krpc.NewNodeAddr(localhost, 2001)))
	assert.Empty(t, h.received)
	m := tt.a.ReceiveMessage(reply, tt.remoteAddr)
	require.IsType(t, (*PingReply)(nil), m)
	assert.Same(t, tt.remote, m.Remote())
	require.Len(t, h.received, 1)
	assert.Same(t, m, h.received[0])
	assert.IsType(t, (*Unknown)(nil), tt.a.ReceiveMessage(reply, tt.remoteAddr))
	tt.clock.Advance(defaultQueryTimeout)
	tt.a.Tick()
	assert.Len(t, h.received, 1)
	assert.Empty(t, h.timeouts)
	assert.Zero(t, tt.a.Stats().OutstandingQueries)
}

func TestQueryTimesOutOnce(t *testing.T) {
	tt := newTrackerTest(t)
	var h recordingHandler
	q := sendTrackedPing(t, tt.a, tt.remote, &h)
	tt.clock.Advance(defaultQueryTimeout - time.Second)
	tt.a.Tick()
	assert.Empty(t, h.timeouts)
	tt.clock.Advance(time.Second)
	tt.a.Tick()
	require.Len(t, h.timeouts, 1)
	assert.Same(t, tt.remote, h.timeouts[0])
	assert.Equal(t, 1, tt.remote.FailureCount())
	tt.a.Tick()
	assert.Len(t, h.timeouts, 1)
	// Too late.
	reply := encodeMsg(t, krpc.Msg{T: q.T, Y: krpc.YResponse, R: &krpc.Return{ID: tt.remoteID}})
	assert.IsType(t, (*Unknown)(nil), tt.a.ReceiveMessage(reply, tt.remoteAddr))
	assert.Empty(t, h.received)
}

func TestErrorReplyFailsQueryOnce(t *testing.T) {
	tt := newTrackerTest(t)
	var h recordingHandler
	q := sendTrackedPing(t, tt.a, tt.remote, &h)
	m := tt.a.ReceiveMessage(encodeMsg(t, krpc.Msg{
		T: q.T,
		Y: krpc.YError,
		E: &krpc.Error{Code: krpc.ErrorCodeGenericError, Msg: "nope"},
	}), tt.remoteAddr)
	require.IsType(t, (*ErrorReply)(nil), m)
	er := m.(*ErrorReply)
	assert.Equal(t, krpc.ErrorCodeGenericError, er.Err.Code)
	assert.Equal(t, krpc.QPing, er.Method())
	require.Len(t, h.timeouts, 1)
	assert.Empty(t, h.received)
	// Answering at all isn't a failure to answer.
	assert.Zero(t, tt.remote.FailureCount())
	tt.clock.Advance(defaultQueryTimeout)
	tt.a.Tick()
	assert.Len(t, h.timeouts, 1)
}

func TestMalformedReplyFailsQuery(t *testing.T) {
	tt := newTrackerTest(t)
	var h recordingHandler
	q := sendTrackedPing(t, tt.a, tt.remote, &h)
	m := tt.a.ReceiveMessage(encodeMsg(t, krpc.Msg{T: q.T, Y: krpc.YResponse}), tt.remoteAddr)
	assert.IsType(t, (*Unknown)(nil), m)
	assert.Len(t, h.timeouts, 1)
	assert.Zero(t, tt.a.NumNodes())
}

func TestResponderWithOtherIDReplacesDialed(t *testing.T) {
	tt := newTrackerTest(t)
	require.NoError(t, tt.a.AddNode(tt.remote.NodeInfo()))
	dialed := tt.a.table.getNode(tt.remote.id, tt.remoteAddr)
	require.NotNil(t, dialed)
	var h recordingHandler
	q := sendTrackedPing(t, tt.a, dialed, &h)
	otherID := testutil.IDWithFirstByte(0x90)
	m := tt.a.ReceiveMessage(encodeMsg(t, krpc.Msg{T: q.T, Y: krpc.YResponse, R: &krpc.Return{ID: otherID}}), tt.remoteAddr)
	require.IsType(t, (*PingReply)(nil), m)
	assert.NotSame(t, dialed, m.Remote())
	assert.Len(t, h.received, 1)
	assert.Equal(t, []krpc.NodeInfo{{ID: otherID, Addr: tt.remoteAddr}}, tt.a.Nodes())
}

func TestRepeatedTimeoutsDropNode(t *testing.T) {
	tt := newTrackerTest(t)
	require.NoError(t, tt.a.AddNode(tt.remote.NodeInfo()))
	n := tt.a.table.getNode(tt.remote.id, tt.remoteAddr)
	require.NotNil(t, n)
	for i := range iter.N(maxNodeFailures) {
		assert.Equal(t, 1, tt.a.NumNodes(), i)
		sendTrackedPing(t, tt.a, n, nil)
		tt.clock.Advance(defaultQueryTimeout)
		tt.a.Tick()
	}
	assert.True(t, n.IsBad())
	assert.Zero(t, tt.a.NumNodes())
}

func TestTimedOutNodeMovesToBucketHead(t *testing.T) {
	tt := newTrackerTest(t)
	other := krpc.NodeInfo{ID: testutil.IDWithFirstByte(0x81), Addr: krpc.NewNodeAddr(localhost, 2001)}
	require.NoError(t, tt.a.AddNode(tt.remote.NodeInfo()))
	require.NoError(t, tt.a.AddNode(other))
	b := tt.a.table.getBucketFor(tt.remote.id)
	require.Len(t, b.nodes, 2)
	late := b.nodes[1]
	require.EqualValues(t, other.ID, late.id.AsByteArray())
	sendTrackedPing(t, tt.a, late, nil)
	tt.clock.Advance(defaultQueryTimeout)
	tt.a.Tick()
	assert.Same(t, late, b.nodes[0])
	assert.False(t, late.IsBad())
}

func TestReplyWithoutSenderIDFailsQuery(t *testing.T) {
	tt := newTrackerTest(t)
	require.NoError(t, tt.a.AddNode(tt.remote.NodeInfo()))
	dialed := tt.a.table.getNode(tt.remote.id, tt.remoteAddr)
	require.NotNil(t, dialed)
	var h recordingHandler
	q := sendTrackedPing(t, tt.a, dialed, &h)
	m := tt.a.ReceiveMessage(encodeMsg(t, krpc.Msg{T: q.T, Y: krpc.YResponse, R: &krpc.Return{}}), tt.remoteAddr)
	assert.IsType(t, (*Unknown)(nil), m)
	assert.Empty(t, h.received)
	assert.Len(t, h.timeouts, 1)
	assert.Equal(t, []krpc.NodeInfo{tt.remote.NodeInfo()}, tt.a.Nodes())
}

func TestPingByAddrKeepsKnownNode(t *testing.T) {
	tt := newTrackerTest(t)
	require.NoError(t, tt.a.AddNode(tt.remote.NodeInfo()))
	known := tt.a.table.getNode(tt.remote.id, tt.remoteAddr)
	pt, err := tt.a.Ping(tt.remoteAddr)
	require.NoError(t, err)
	q := tickForReply(t, tt.a)
	m := tt.a.ReceiveMessage(encodeMsg(t, krpc.Msg{T: q.T, Y: krpc.YResponse, R: &krpc.Return{ID: tt.remoteID}}), tt.remoteAddr)
	require.IsType(t, (*PingReply)(nil), m)
	assert.Same(t, known, m.Remote())
	assert.True(t, pt.Succeeded())
	assert.Equal(t, []krpc.NodeInfo{tt.remote.NodeInfo()}, tt.a.Nodes())
	assert.True(t, known.IsGood(tt.clock.Now()))
}
