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

type testTask struct {
	taskBase
	started int
}

func (t *testTask) startup() {
	t.started++
}

func TestTaskExecutorLimit(t *testing.T) {
	e := taskExecutor{limit: 2}
	tasks := []*testTask{{}, {}, {}}
	for _, tt := range tasks {
		e.add(tt)
	}
	e.update()
	assert.Equal(t, 1, tasks[0].started)
	assert.Equal(t, 1, tasks[1].started)
	assert.Zero(t, tasks[2].started)
	assert.Equal(t, taskRunning, tasks[0].state)
	assert.Equal(t, taskCreated, tasks[2].state)
	assert.Equal(t, 3, e.numTasks())
	e.update()
	assert.Zero(t, tasks[2].started)
	tasks[1].finish()
	e.update()
	assert.Equal(t, 1, tasks[2].started)
	assert.Equal(t, 1, tasks[0].started)
	assert.Equal(t, 2, e.numTasks())
	tasks[0].finish()
	tasks[2].finish()
	e.update()
	assert.Zero(t, e.numTasks())
}

func TestTaskFinishOnce(t *testing.T) {
	var tt testTask
	calls := 0
	tt.onFinished(func() { calls++ })
	assert.False(t, tt.Finished())
	tt.finish()
	tt.finish()
	assert.Equal(t, 1, calls)
	assert.True(t, tt.Finished())
	select {
	case <-tt.Done():
	default:
		t.Fatal("not done")
	}
}

// Fills the upper half of a's ID space with nodes we've never heard from,
// and has a new node send us a ping so that it wants in.
func fillBucketWithQuestionable(t *testing.T, a testNode) (incumbents []krpc.NodeInfo, newcomer krpc.NodeInfo) {
	for i := range iter.N(bucketSize) {
		ni := krpc.NodeInfo{
			ID:   testutil.IDWithFirstByte(byte(0x80 + i)),
			Addr: krpc.NewNodeAddr(localhost, 3000+i),
		}
		require.NoError(t, a.AddNode(ni))
		incumbents = append(incumbents, ni)
	}
	newcomer = krpc.NodeInfo{
		ID:   testutil.IDWithFirstByte(0xff),
		Addr: krpc.NewNodeAddr(localhost, 4000),
	}
	a.ReceiveMessage(query(t, krpc.QPing, newcomer.ID, nil), newcomer.Addr)
	require.Equal(t, bucketSize, a.NumNodes())
	require.Equal(t, 1, a.Stats().Tasks)
	return
}

// Ticks and returns the ping sent to addr.
func tickForPingTo(t *testing.T, a testNode, addr krpc.NodeAddr) krpc.Msg {
	a.Tick()
	for _, p := range a.conn.TakeSent() {
		if p.Addr.Equal(addr) {
			m := decodePacket(t, p)
			require.Equal(t, krpc.QPing, m.Q)
			return m
		}
	}
	t.Fatalf("no ping sent to %v", addr)
	panic("unreachable")
}

func TestReplaceNodeTaskReplacesUnresponsive(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001)
	incumbents, newcomer := fillBucketWithQuestionable(t, a)
	lru := incumbents[0]
	tickForPingTo(t, a, lru.Addr)
	clock.Advance(defaultQueryTimeout)
	tickForPingTo(t, a, lru.Addr)
	clock.Advance(defaultQueryTimeout)
	a.Tick()
	nodes := a.Nodes()
	assert.Len(t, nodes, bucketSize)
	assert.Contains(t, nodes, newcomer)
	assert.NotContains(t, nodes, lru)
	b := a.table.getBucketFor(newcomer.ID.Int160())
	assert.False(t, b.replacing)
	a.Tick()
	assert.Zero(t, a.Stats().Tasks)
}

func TestReplaceNodeTaskKeepsLiveIncumbent(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001)
	incumbents, newcomer := fillBucketWithQuestionable(t, a)
	lru := incumbents[0]
	q := tickForPingTo(t, a, lru.Addr)
	m := a.ReceiveMessage(encodeMsg(t, krpc.Msg{
		T: q.T,
		Y: krpc.YResponse,
		R: &krpc.Return{ID: lru.ID},
	}), lru.Addr)
	require.IsType(t, (*PingReply)(nil), m)
	assert.True(t, m.Remote().IsGood(clock.Now()))
	nodes := a.Nodes()
	assert.Contains(t, nodes, lru)
	assert.NotContains(t, nodes, newcomer)
	a.Tick()
	assert.Zero(t, a.Stats().Tasks)
	// Free for the next newcomer.
	b := a.table.getBucketFor(newcomer.ID.Int160())
	assert.False(t, b.replacing)
}

func TestBucketRefreshOnlyStale(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001, func(c *ServerConfig) {
		c.MaintenanceInterval = time.Hour
	})
	for i := range iter.N(bucketSize) {
		require.NoError(t, a.AddNode(krpc.NodeInfo{
			ID:   testutil.IDWithFirstByte(byte(0x80 + i)),
			Addr: krpc.NewNodeAddr(localhost, 3000+i),
		}))
	}
	require.Equal(t, 1, a.Stats().Buckets)
	rt := a.RefreshBuckets(false)
	a.Tick()
	assert.True(t, rt.Finished())
	assert.Zero(t, a.conn.NumSent())
	clock.Advance(bucketRefreshInterval)
	rt = a.RefreshBuckets(false)
	a.Tick()
	assert.True(t, rt.Finished())
	sent := a.conn.TakeSent()
	assert.Len(t, sent, lookupAlpha)
	for _, p := range sent {
		assert.Equal(t, krpc.QFindNode, decodePacket(t, p).Q)
	}
	// Refreshing marked the bucket updated.
	rt = a.RefreshBuckets(false)
	a.Tick()
	assert.True(t, rt.Finished())
	assert.Zero(t, a.conn.NumSent())
}

func TestBucketRefreshForced(t *testing.T) {
	clock := testutil.NewClock(testEpoch)
	a := newTestNode(t, clock, testutil.IDWithFirstByte(0x01), 1001)
	require.NoError(t, a.AddNode(krpc.NodeInfo{
		ID:   testutil.IDWithFirstByte(0x80),
		Addr: krpc.NewNodeAddr(localhost, 3000),
	}))
	a.RefreshBuckets(true)
	a.Tick()
	sent := a.conn.TakeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, krpc.QFindNode, decodePacket(t, sent[0]).Q)
}
