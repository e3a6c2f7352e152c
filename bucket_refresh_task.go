package dht

// Starts a node lookup for a random ID in each bucket that needs refreshing,
// or in every bucket if forced.
type BucketRefreshTask struct {
	taskBase
	force bool
}

var _ task = (*BucketRefreshTask)(nil)

func (s *Server) newBucketRefreshTask(force bool) *BucketRefreshTask {
	return &BucketRefreshTask{
		taskBase: taskBase{s: s},
		force:    force,
	}
}

func (t *BucketRefreshTask) startup() {
	now := t.s.now()
	for _, b := range t.s.table.getBuckets() {
		if !t.force && !b.needsRefresh(now) {
			continue
		}
		b.notifyUpdate(now)
		t.s.taskQueue.addImmediateTask(t.s.newNodeLookupTask(b.randomID()))
	}
	t.finish()
}
