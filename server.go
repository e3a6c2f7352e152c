package dht

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"text/tabwriter"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/anacrolix/torrent/iplist"
	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/int160"
	"github.com/anacrolix/mldht/krpc"
	peer_store "github.com/anacrolix/mldht/peer-store"
	"github.com/anacrolix/mldht/transactions"
)

// A Server is a DHT node: it answers queries from the network, and runs
// lookups and maintenance against it. All of its state is guarded by one
// lock, and it's driven by Tick and ReceiveMessage, or by Serve which calls
// both. Use NewServer to create one.
type Server struct {
	id     int160.T
	conn   Conn
	config ServerConfig

	mu              sync.Mutex
	table           *routingTable
	factory         *messageFactory
	tracker         *tracker
	dispatcher      *dispatcher
	taskQueue       taskQueue
	tokenServer     tokenServer // Manages tokens we issue to our queriers.
	ipBlockList     iplist.Ranger
	stats           ServerStats
	lastMaintenance time.Time
	closed          chansync.SetOnce
}

// NewServer initializes a new DHT node server. A nil config gets
// NewDefaultServerConfig.
func NewServer(c *ServerConfig) (s *Server, err error) {
	if c == nil {
		c = NewDefaultServerConfig()
	}
	if c.Conn == nil {
		return nil, errors.New("non-nil Conn required")
	}
	s = &Server{
		conn:        c.Conn,
		config:      *c,
		ipBlockList: c.IPBlocklist,
	}
	s.config.setDefaults()
	s.id = s.config.NodeId.Int160()
	if s.config.PeerStore == nil {
		s.config.PeerStore = &peer_store.InMemory{
			RootId: s.id,
			Now:    s.config.Now,
		}
	}
	secret := make([]byte, 20)
	if _, err = rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "generating token secret")
	}
	s.tokenServer = tokenServer{
		secret:           secret,
		interval:         5 * time.Minute,
		maxIntervalDelta: 2,
		timeNow:          s.config.Now,
	}
	now := s.now()
	s.lastMaintenance = now
	s.table = newRoutingTable(s.id, now)
	s.factory = &messageFactory{
		localID: s.id,
		ipv6:    s.config.IPv6,
		version: s.config.ClientVersion,
		table:   s.table,
		tokens:  &s.tokenServer,
		tIssuer: transactions.NewVarintIdIssuer(),
	}
	s.tracker = &tracker{
		factory: s.factory,
		table:   s.table,
		logger:  s.logger(),
	}
	s.dispatcher = &dispatcher{
		conn:    s.conn,
		tracker: s.tracker,
		factory: s.factory,
		limiter: s.config.SendLimiter,
		blocked: s.ipBlocked,
		logger:  s.logger(),
	}
	s.taskQueue = newTaskQueue(numPeriodicTasks, s.config.NumConcurrentTasks)
	return
}

func (s *Server) now() time.Time {
	return s.config.Now()
}

func (s *Server) logger() log.Logger {
	return s.config.Logger
}

// Returns a description of the Server.
func (s *Server) String() string {
	return fmt.Sprintf("dht server on %s (node id %v)", s.conn.LocalAddr(), s.id)
}

// ID returns the 20-byte server ID. This is the ID used to communicate with the
// DHT network.
func (s *Server) ID() [20]byte {
	return s.id.AsByteArray()
}

// Addr returns the listen address for the server. Packets arriving to this address
// are processed by the server (unless aliens are involved).
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Packets to and from any address matching a range in the list are dropped.
func (s *Server) SetIPBlockList(list iplist.Ranger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipBlockList = list
}

func (s *Server) IPBlocklist() iplist.Ranger {
	return s.ipBlockList
}

func (s *Server) ipBlocked(ip net.IP) (blocked bool) {
	if s.ipBlockList == nil {
		return
	}
	_, blocked = s.ipBlockList.Lookup(ip)
	return
}

func (s *Server) PeerStore() peer_store.Interface {
	return s.config.PeerStore
}

// Advances the engine: fails queries that have timed out, starts pending
// tasks, and sends what's queued. Maintenance runs every
// MaintenanceInterval.
func (s *Server) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.IsSet() {
		return
	}
	now := s.now()
	s.tracker.handleTimeout(now)
	if now.Sub(s.lastMaintenance) >= s.config.MaintenanceInterval {
		s.lastMaintenance = now
		s.maintain()
	}
	s.taskQueue.executeTask()
	s.dispatcher.sendMessages(now)
}

func (s *Server) maintain() {
	s.taskQueue.addPeriodicTask(s.newBucketRefreshTask(false))
	if e, ok := s.config.PeerStore.(interface{ Expire() int }); ok {
		if n := e.Expire(); n != 0 {
			s.logger().Levelf(log.Debug, "expired %d stored peers", n)
		}
	}
}

// Reads from the Conn and ticks the engine until the context is done, the
// Server is closed, or reading fails.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.tickUntilDone(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed.Done():
		}
		cancel()
	}()
	var b [0x10000]byte
	for {
		n, from, err := s.conn.Receive(b[:])
		if s.closed.IsSet() {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		expvars.Add("packets read", 1)
		if n == len(b) {
			s.logger().Levelf(log.Warning, "received dht packet exceeds buffer size")
			continue
		}
		s.ReceiveMessage(b[:n], from)
	}
}

func (s *Server) tickUntilDone(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stops the server network activity, and finishes every outstanding task
// unsuccessfully. This is all that's required to clean-up a Server.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed.Set() {
		return
	}
	s.taskQueue.finishAll()
	s.conn.Close()
}

func (s *Server) addImmediateTask(t task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.IsSet() {
		return errors.New("server closed")
	}
	s.taskQueue.addImmediateTask(t)
	return nil
}

// Pings addr, retrying once. The task is Done when a reply arrives or
// every attempt times out.
func (s *Server) Ping(addr krpc.NodeAddr) (*PingTask, error) {
	t := s.newPingTask(newNode(int160.T{}, addr), defaultPingAttempts)
	return t, s.addImmediateTask(t)
}

// Looks up the nodes closest to target.
func (s *Server) FindNode(target krpc.ID) (*NodeLookupTask, error) {
	t := s.newNodeLookupTask(target.Int160())
	return t, s.addImmediateTask(t)
}

// Looks up peers for the info-hash. If port is non-zero or impliedPort is
// set, we announce ourselves to the closest nodes that gave us a token once
// the lookup finishes.
func (s *Server) LookupPeers(infoHash krpc.ID, port int, impliedPort bool) (*PeerLookupTask, error) {
	t := s.newPeerLookupTask(infoHash.Int160(), port, impliedPort)
	return t, s.addImmediateTask(t)
}

// Joins the network through the configured StartingNodes. It's safe to
// call again later, like when the table has emptied.
func (s *Server) Bootstrap() (*BootstrapTask, error) {
	if s.config.StartingNodes == nil {
		return nil, errors.New("no starting nodes getter configured")
	}
	addrs, err := s.config.StartingNodes()
	if err != nil {
		return nil, errors.Wrap(err, "getting starting nodes")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.IsSet() {
		return nil, errors.New("server closed")
	}
	var usable []krpc.NodeAddr
	for _, a := range addrs {
		if a.IsIPv4() == s.config.IPv6 || a.Port == 0 || s.ipBlocked(a.IP) {
			continue
		}
		usable = append(usable, a)
	}
	t := s.newBootstrapTask(usable)
	s.taskQueue.addPeriodicTask(t)
	return t, nil
}

// Queues lookups for stale buckets, or every bucket if force is set.
func (s *Server) RefreshBuckets(force bool) *BucketRefreshTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.newBucketRefreshTask(force)
	s.taskQueue.addPeriodicTask(t)
	return t
}

// Adds directly to the routing table, without contacting the node. A node
// with a zero ID is pinged instead, and added if it replies.
func (s *Server) AddNode(ni krpc.NodeInfo) error {
	if ni.ID.IsZero() {
		_, err := s.Ping(ni.Addr)
		return err
	}
	if ni.Addr.IsIPv4() == s.config.IPv6 {
		return errors.Errorf("%v is the wrong address family", ni.Addr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.factory.getOrCreateNode(ni.ID.Int160(), ni.Addr)
	s.table.addNode(n, false, s.now())
	return nil
}

// Exports the current node table.
func (s *Server) Nodes() (nis []krpc.NodeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.forNodes(func(n *Node) bool {
		nis = append(nis, n.NodeInfo())
		return true
	})
	return
}

// Returns how many nodes are in the node table.
func (s *Server) NumNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.numNodes()
}

func prettySince(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	d /= time.Second
	d *= time.Second
	return fmt.Sprintf("%s ago", d)
}

func (s *Server) WriteStatus(w io.Writer) {
	fmt.Fprintf(w, "Listening on %s\n", s.Addr())
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	fmt.Fprintf(w, "Nodes in table: %d good, %d total\n", s.table.numGoodNodes(now), s.table.numNodes())
	fmt.Fprintf(w, "Ongoing queries: %d\n", s.tracker.numEntries())
	fmt.Fprintf(w, "Queued messages: %d\n", s.dispatcher.countMessageInQueue())
	fmt.Fprintf(w, "Tasks: %d\n", s.taskQueue.numTasks())
	fmt.Fprintf(w, "Server node ID: %v\n", s.id)
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "b#\tprefix\tnode id\taddr\tlast contact\trtt\tcf\tstate\n")
	for i, b := range s.table.getBuckets() {
		for _, n := range b.nodes {
			fmt.Fprintf(tw, "%d\t%d\t%v\t%s\t%s\t%s\t%d\t%s\n",
				i,
				b.prefixLength,
				n.id,
				n.addr,
				prettySince(now, n.LastContact()),
				n.RTT(),
				n.failureCount,
				func() string {
					switch {
					case n.IsBad():
						return "bad"
					case n.IsQuestionable(now):
						return "questionable"
					default:
						return "good"
					}
				}(),
			)
		}
	}
	tw.Flush()
	fmt.Fprintln(w)
	if dw, ok := s.config.PeerStore.(interface{ WriteDebug(io.Writer) }); ok {
		dw.WriteDebug(w)
	}
}
