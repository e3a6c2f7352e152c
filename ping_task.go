package dht

import (
	"github.com/anacrolix/mldht/krpc"
)

const defaultPingAttempts = 2

// Pings a node until it replies or we've tried maxAttempts times.
type PingTask struct {
	taskBase
	remote      *Node
	maxAttempts int
	attempts    int
	succeeded   bool
	// The node that replied, which may claim a different ID to the one we
	// dialed.
	responder *Node
}

var (
	_ task           = (*PingTask)(nil)
	_ messageHandler = (*PingTask)(nil)
)

func (s *Server) newPingTask(remote *Node, maxAttempts int) *PingTask {
	return &PingTask{
		taskBase:    taskBase{s: s},
		remote:      remote,
		maxAttempts: maxAttempts,
	}
}

func (t *PingTask) startup() {
	t.sendPing()
}

func (t *PingTask) sendPing() {
	t.s.dispatcher.addMessageToQueue(t.s.factory.newPing(t.remote), t.s.config.QueryTimeout, t)
}

func (t *PingTask) onReceived(m Message) {
	if t.finished() {
		return
	}
	t.succeeded = true
	t.responder = m.Remote()
	t.finish()
}

func (t *PingTask) onTimeout(*Node) {
	if t.finished() {
		return
	}
	t.attempts++
	if t.attempts >= t.maxAttempts {
		t.finish()
		return
	}
	t.sendPing()
}

// Whether the node replied. Only meaningful once the task is Done.
func (t *PingTask) Succeeded() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.succeeded
}

// The node that replied, if any.
func (t *PingTask) Responder() (ret krpc.NodeInfo, ok bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.responder == nil {
		return
	}
	return t.responder.NodeInfo(), true
}
