package dht

import (
	"net"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/torrent/iplist"
	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/time/rate"

	"github.com/anacrolix/mldht/krpc"
	peer_store "github.com/anacrolix/mldht/peer-store"
)

// Shared by servers unless configured otherwise, so that several servers in
// one process don't multiply the outgoing rate.
var DefaultSendLimiter = rate.NewLimiter(250, 25)

type StartingNodesGetter func() ([]krpc.NodeAddr, error)

// ServerConfig allows setting up a configuration of the `Server` instance to be created with
// NewServer.
type ServerConfig struct {
	// Set NodeId Manually. A random ID is used if it's zero.
	NodeId krpc.ID
	Conn   Conn
	// Run as the IPv6 engine: replies carry nodes6, and only IPv6 nodes are
	// kept. A client runs one Server per address family.
	IPv6 bool
	// Entry points to the network, used by Bootstrap.
	StartingNodes StartingNodesGetter
	// Packets to and from any address matching a range in the list are dropped.
	IPBlocklist iplist.Ranger
	// Stores peers announced to us. Defaults to an in-memory store.
	PeerStore peer_store.Interface
	// Called for each valid announce_peer, in its own goroutine.
	OnAnnouncePeer func(infoHash metainfo.Hash, ip net.IP, port int, portOk bool)
	// Defaults to the "dht" named default logger, at Info.
	Logger log.Logger
	// How long to wait for a reply to a query.
	QueryTimeout time.Duration
	// Limits sends. Messages over the limit wait in the queue for a later
	// tick.
	SendLimiter *rate.Limiter
	// Sent in the "v" key of every message.
	ClientVersion string
	// How often Serve ticks the engine.
	TickInterval time.Duration
	// How often buckets are checked for refresh and stale peers expired.
	MaintenanceInterval time.Duration
	// Lookups and pings run at once.
	NumConcurrentTasks int
	// Replaces time.Now.
	Now func() time.Time
}

const (
	defaultQueryTimeout        = 10 * time.Second
	defaultTickInterval        = 100 * time.Millisecond
	defaultMaintenanceInterval = time.Minute
	defaultNumConcurrentTasks  = 5
	// Replacement and refresh tasks run one at a time.
	numPeriodicTasks = 1
)

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Conn:                NewPacketConn(mustListen(":0")),
		StartingNodes:       func() ([]krpc.NodeAddr, error) { return GlobalBootstrapAddrs("udp4") },
		QueryTimeout:        defaultQueryTimeout,
		SendLimiter:         DefaultSendLimiter,
		TickInterval:        defaultTickInterval,
		MaintenanceInterval: defaultMaintenanceInterval,
		NumConcurrentTasks:  defaultNumConcurrentTasks,
	}
}

// Fills in anything left zero.
func (c *ServerConfig) setDefaults() {
	if c.Logger.IsZero() {
		c.Logger = log.Default.FilterLevel(log.Info).WithNames("dht")
	}
	// Add log.Debug by default.
	c.Logger = c.Logger.WithDefaultLevel(log.Debug)
	if c.NodeId.IsZero() {
		c.NodeId = krpc.RandomNodeID()
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = defaultMaintenanceInterval
	}
	if c.NumConcurrentTasks == 0 {
		c.NumConcurrentTasks = defaultNumConcurrentTasks
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func mustListen(addr string) net.PacketConn {
	ret, err := net.ListenPacket("udp", addr)
	if err != nil {
		panic(err)
	}
	return ret
}
