package dht

// get_peers and announce_peers.

import (
	"fmt"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/chansync/events"
	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/int160"
)

// Maintains state for an ongoing Announce operation. An Announce is started by calling
// Server.Announce.
type Announce struct {
	// Peers are sent here as they're found. It's closed once the lookup is
	// done and everything found has been received, or the Announce is
	// closed.
	Peers chan PeersValues

	server *Server
	task   *PeerLookupTask
	// Found but not yet sent on Peers. Guarded by the Server's lock.
	pending   []PeersValues
	newValues chansync.BroadcastCond
	closed    chansync.SetOnce
}

func (a *Announce) String() string {
	return fmt.Sprintf("%[1]T %[1]p of %v on %v", a, a.task.target, a.server)
}

type AnnounceOpt func(*PeerLookupTask)

// Stop querying further nodes once n peers are known.
func WantPeers(n int) AnnounceOpt {
	return func(t *PeerLookupTask) {
		t.wantPeers = n
	}
}

// Traverses the DHT graph toward nodes that store peers for the infohash, streaming them to the
// caller, and announcing the local node to the closest responding nodes if port is non-zero or
// impliedPort is true.
func (s *Server) Announce(infoHash [20]byte, port int, impliedPort bool, opts ...AnnounceOpt) (*Announce, error) {
	a := &Announce{
		Peers:  make(chan PeersValues),
		server: s,
		task:   s.newPeerLookupTask(int160.FromByteArray(infoHash), port, impliedPort),
	}
	for _, opt := range opts {
		opt(a.task)
	}
	a.task.onPeers = func(pv PeersValues) {
		a.pending = append(a.pending, pv)
		a.newValues.Broadcast()
	}
	if err := s.addImmediateTask(a.task); err != nil {
		return nil, errors.Wrap(err, "starting peer lookup")
	}
	go a.ferry()
	return a, nil
}

// Moves values found by the task onto Peers.
func (a *Announce) ferry() {
	defer close(a.Peers)
	for {
		a.server.mu.Lock()
		var (
			next PeersValues
			have bool
		)
		if len(a.pending) != 0 {
			next, have = a.pending[0], true
			a.pending = a.pending[1:]
		}
		signaled := a.newValues.Signaled()
		finished := a.task.finished()
		a.server.mu.Unlock()
		if have {
			select {
			case a.Peers <- next:
				continue
			case <-a.closed.Done():
				return
			}
		}
		if finished {
			return
		}
		select {
		case <-signaled:
		case <-a.task.Done():
		case <-a.closed.Done():
			return
		}
	}
}

// Closed when the lookup is done, and any announces are queued.
func (a *Announce) Finished() events.Done {
	return a.task.Done()
}

// The number of nodes we announced to. Only meaningful once Finished.
func (a *Announce) NumAnnounced() int {
	return a.task.NumAnnounced()
}

// Stops delivering Peers. The lookup itself runs to completion.
func (a *Announce) Close() {
	a.closed.Set()
}
