package dht

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters for packets the receiver drops, and for the write side.
var (
	readZeroPort       = expvar.NewInt("dhtReadZeroPort")
	readBlocked        = expvar.NewInt("dhtReadBlocked")
	readNotKRPCDict    = expvar.NewInt("dhtReadNotKRPCDict")
	readUnmarshalError = expvar.NewInt("dhtReadUnmarshalError")
	readAnnouncePeer   = expvar.NewInt("dhtReadAnnouncePeer")
	queryTimeouts      = expvar.NewInt("dhtQueryTimeouts")
	writeErrors        = expvar.NewInt("dhtWriteErrors")
	writes             = expvar.NewInt("dhtWrites")
	// Everything else, keyed by a short description.
	expvars = expvar.NewMap("dht")
)

func init() {
	prometheus.MustRegister(prometheus.NewExpvarCollector(map[string]*prometheus.Desc{
		"dht": prometheus.NewDesc("expvar_dht", "DHT engine events by kind.", []string{"key"}, nil),
		"dhtQueryTimeouts": prometheus.NewDesc("dht_query_timeouts", "Outgoing queries that went unanswered.", nil, nil),
		"dhtWrites":        prometheus.NewDesc("dht_writes", "Packets sent.", nil, nil),
		"dhtWriteErrors":   prometheus.NewDesc("dht_write_errors", "Packets that failed to send.", nil, nil),
	}))
}
