// Pings DHT nodes with the given network addresses.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/tagflag"

	dht "github.com/anacrolix/mldht"
	"github.com/anacrolix/mldht/krpc"
)

func main() {
	os.Exit(mainErr())
}

func mainErr() int {
	var args = struct {
		Timeout time.Duration
		tagflag.StartPos
		Nodes []string `help:"nodes to ping e.g. router.bittorrent.com:6881"`
	}{
		Timeout: time.Minute,
	}
	tagflag.Parse(&args)
	s, err := dht.NewServer(nil)
	if err != nil {
		log.Printf("error creating server: %s", err)
		return 1
	}
	defer s.Close()
	go s.Serve(context.Background())
	log.Printf("dht server on %s with id %x", s.Addr(), s.ID())
	type ping struct {
		hostPort string
		started  time.Time
		task     *dht.PingTask
	}
	var pings []ping
	for _, hp := range args.Nodes {
		ua, err := net.ResolveUDPAddr("udp4", hp)
		if err != nil {
			log.Printf("error resolving %q: %s", hp, err)
			return 1
		}
		started := time.Now()
		pt, err := s.Ping(krpc.NodeAddrFromUDP(ua))
		if err != nil {
			log.Printf("error pinging %q: %s", hp, err)
			return 1
		}
		pings = append(pings, ping{hp, started, pt})
	}
	timeout := time.After(args.Timeout)
	for _, p := range pings {
		select {
		case <-p.task.Done():
		case <-timeout:
			log.Print("timed out")
			return 1
		}
		if ni, ok := p.task.Responder(); ok {
			fmt.Printf("%s: %x: %s\n", p.hostPort, ni.ID, time.Since(p.started))
		} else {
			fmt.Printf("%s: no response\n", p.hostPort)
		}
	}
	return 0
}
