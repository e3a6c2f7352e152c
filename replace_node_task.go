package dht

import (
	"github.com/anacrolix/log"
)

// Pings allowed to a questionable node before it's replaced.
const maxReplaceRetry = 2

// Makes room in a full bucket for a new good node, if the bucket's least
// recently seen questionable node doesn't answer.
type ReplaceNodeTask struct {
	taskBase
	bucket   *bucket
	newNode  *Node
	numRetry int
}

var (
	_ task           = (*ReplaceNodeTask)(nil)
	_ messageHandler = (*ReplaceNodeTask)(nil)
)

func (s *Server) newReplaceNodeTask(b *bucket, newNode *Node) *ReplaceNodeTask {
	t := &ReplaceNodeTask{
		taskBase: taskBase{s: s},
		bucket:   b,
		newNode:  newNode,
	}
	b.replacing = true
	t.onFinished(func() { b.replacing = false })
	return t
}

func (t *ReplaceNodeTask) startup() {
	t.sendMessage()
}

func (t *ReplaceNodeTask) sendMessage() {
	questionable := t.bucket.lruQuestionableNode(t.s.now())
	if questionable == nil {
		t.finish()
		return
	}
	t.s.dispatcher.addMessageToQueue(t.s.factory.newPing(questionable), t.s.config.QueryTimeout, t)
}

// The incumbent is alive, so it stays.
func (t *ReplaceNodeTask) onReceived(Message) {
	if t.finished() {
		return
	}
	t.finish()
}

func (t *ReplaceNodeTask) onTimeout(n *Node) {
	if t.finished() {
		return
	}
	t.numRetry++
	if t.numRetry < maxReplaceRetry {
		t.sendMessage()
		return
	}
	t.s.logger().Levelf(log.Debug, "replacing %v with %v", n, t.newNode)
	n.MarkBad()
	if !t.bucket.addNode(t.newNode, t.s.now()) {
		t.s.logger().Levelf(log.Debug, "failed to add %v to %v", t.newNode, t.bucket)
	}
	t.finish()
}
