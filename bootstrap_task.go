package dht

import (
	"github.com/anacrolix/log"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

// Joins the network: pings the entry points, then looks up our own ID and
// refreshes every bucket. It's Done after the lookup of our own ID.
type BootstrapTask struct {
	taskBase
	addrs        []krpc.NodeAddr
	numPingsDone int
	numResponses int
}

var _ task = (*BootstrapTask)(nil)

func (s *Server) newBootstrapTask(addrs []krpc.NodeAddr) *BootstrapTask {
	return &BootstrapTask{
		taskBase: taskBase{s: s},
		addrs:    addrs,
	}
}

func (t *BootstrapTask) startup() {
	if len(t.addrs) == 0 {
		t.s.logger().Levelf(log.Warning, "no bootstrap nodes")
		t.finish()
		return
	}
	for _, addr := range t.addrs {
		// We don't know the ID yet. The reply will tell us.
		p := t.s.newPingTask(newNode(int160.T{}, addr), 1)
		p.onFinished(func() { t.pingDone(p) })
		t.s.taskQueue.addImmediateTask(p)
	}
}

func (t *BootstrapTask) pingDone(p *PingTask) {
	t.numPingsDone++
	if p.succeeded {
		t.numResponses++
	}
	if t.numPingsDone < len(t.addrs) {
		return
	}
	t.s.logger().Levelf(log.Debug, "bootstrap: %d of %d entry points replied", t.numResponses, len(t.addrs))
	if t.numResponses == 0 {
		t.finish()
		return
	}
	lookup := t.s.newNodeLookupTask(t.s.id)
	lookup.onFinished(func() {
		t.s.taskQueue.addPeriodicTask(t.s.newBucketRefreshTask(true))
		t.finish()
	})
	t.s.taskQueue.addImmediateTask(lookup)
}

// How many entry points replied to our ping.
func (t *BootstrapTask) NumResponses() int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.numResponses
}
