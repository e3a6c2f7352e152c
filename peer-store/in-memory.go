package peer_store

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/multiless"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
)

// Peers are forgotten if they haven't announced for this long. BEP 5 doesn't
// fix a value; 30 minutes matches common re-announce intervals.
const DefaultMaxAge = 30 * time.Minute

type InMemory struct {
	// This is used for sorting infohashes by distance in WriteDebug.
	RootId int160.T
	// Zero means DefaultMaxAge.
	MaxAge time.Duration
	// Defaults to time.Now.
	Now   func() time.Time
	mu    sync.RWMutex
	index map[InfoHash]indexValue
}

var _ Interface = (*InMemory)(nil)

// Binary encoded krpc.NodeAddr to time of last add.
type indexValue = map[string]time.Time

func (me *InMemory) now() time.Time {
	if me.Now != nil {
		return me.Now()
	}
	return time.Now()
}

func (me *InMemory) maxAge() time.Duration {
	if me.MaxAge == 0 {
		return DefaultMaxAge
	}
	return me.MaxAge
}

func (me *InMemory) expired(added, now time.Time) bool {
	return now.Sub(added) >= me.maxAge()
}

func (me *InMemory) GetPeers(ih InfoHash) (ret []krpc.NodeAddr) {
	now := me.now()
	me.mu.RLock()
	defer me.mu.RUnlock()
	for b, added := range me.index[ih] {
		if me.expired(added, now) {
			continue
		}
		var r krpc.NodeAddr
		err := r.UnmarshalBinary([]byte(b))
		if err != nil {
			panic(err)
		}
		ret = append(ret, r)
	}
	return
}

func (me *InMemory) AddPeer(ih InfoHash, na krpc.NodeAddr) {
	b, err := na.MarshalBinary()
	if err != nil {
		panic(err)
	}
	s := string(b)
	now := me.now()
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.index == nil {
		me.index = make(map[InfoHash]indexValue)
	}
	nodes := me.index[ih]
	if nodes == nil {
		nodes = make(indexValue)
		me.index[ih] = nodes
	}
	nodes[s] = now
}

// Drops expired peers, and info-hashes left without any.
func (me *InMemory) Expire() (removed int) {
	now := me.now()
	me.mu.Lock()
	defer me.mu.Unlock()
	for ih, nodes := range me.index {
		for b, added := range nodes {
			if me.expired(added, now) {
				delete(nodes, b)
				removed++
			}
		}
		if len(nodes) == 0 {
			delete(me.index, ih)
		}
	}
	return
}

type NodeAndTime struct {
	krpc.NodeAddr
	time.Time
}

func (me *InMemory) GetAll() (ret map[InfoHash][]NodeAndTime) {
	me.mu.RLock()
	defer me.mu.RUnlock()
	ret = make(map[InfoHash][]NodeAndTime, len(me.index))
	for ih, nodes := range me.index {
		for b, t := range nodes {
			var r krpc.NodeAddr
			r.UnmarshalBinary([]byte(b))
			ret[ih] = append(ret[ih], NodeAndTime{r, t})
		}
	}
	return
}

func (me *InMemory) WriteDebug(w io.Writer) {
	all := me.GetAll()
	now := me.now()
	var totalCount int
	type sliceElem struct {
		InfoHash
		addrs []NodeAndTime
	}
	var allSlice []sliceElem
	for ih, addrs := range all {
		totalCount += len(addrs)
		allSlice = append(allSlice, sliceElem{ih, addrs})
	}
	fmt.Fprintf(w, "total count: %v\n\n", totalCount)
	sort.Slice(allSlice, func(i, j int) bool {
		return int160.Distance(int160.FromByteArray(allSlice[i].InfoHash), me.RootId).Cmp(
			int160.Distance(int160.FromByteArray(allSlice[j].InfoHash), me.RootId)) < 0
	})
	for _, elem := range allSlice {
		addrs := elem.addrs
		fmt.Fprintf(w, "%v (count %v):\n", elem.InfoHash, len(addrs))
		sort.Slice(addrs, func(i, j int) bool {
			return multiless.New().Cmp(
				bytes.Compare(addrs[i].IP, addrs[j].IP)).Int(
				addrs[i].Port, addrs[j].Port,
			).MustLess()
		})
		for _, na := range addrs {
			fmt.Fprintf(w, "\t%v (age: %v)\n", na.NodeAddr, now.Sub(na.Time))
		}
	}
	fmt.Fprintln(w)
}
