package dht

import "time"

// ServerStats instance is returned by Server.Stats() and stores Server metrics
type ServerStats struct {
	// Count of nodes in the node table that responded to our last query or
	// haven't yet been queried.
	GoodNodes int
	// Count of nodes in the node table.
	Nodes int
	// Nodes that have failed too many queries in a row.
	BadNodes int
	Buckets  int
	// Queries we're waiting on a reply for.
	OutstandingQueries int
	// Messages waiting to be sent.
	QueuedMessages int
	// Running and pending tasks.
	Tasks int
	// Number of nodes that have been blocked.
	BlockedIPs int
	// Announces that got a reply.
	SuccessfulOutboundAnnouncePeerQueries int64
}

// Stats returns statistics for the server.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked(s.now())
}

func (s *Server) statsLocked(now time.Time) ServerStats {
	ss := s.stats
	ss.GoodNodes = s.table.numGoodNodes(now)
	ss.Nodes = s.table.numNodes()
	s.table.forNodes(func(n *Node) bool {
		if n.IsBad() {
			ss.BadNodes++
		}
		return true
	})
	ss.Buckets = s.table.numBuckets
	ss.OutstandingQueries = s.tracker.numEntries()
	ss.QueuedMessages = s.dispatcher.countMessageInQueue()
	ss.Tasks = s.taskQueue.numTasks()
	if s.ipBlockList != nil {
		ss.BlockedIPs = s.ipBlockList.NumRanges()
	}
	return ss
}
