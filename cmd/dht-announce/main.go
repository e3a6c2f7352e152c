package main

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	_ "github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/anacrolix/tagflag"
	"github.com/davecgh/go-spew/spew"

	dht "github.com/anacrolix/mldht"
)

func main() {
	code := mainErr()
	if code != 0 {
		os.Exit(code)
	}
}

func mainErr() int {
	var flags = struct {
		Port        int
		ImpliedPort bool
		WantPeers   int  `help:"stop querying once this many peers are known"`
		Debug       bool
		Stats       bool `help:"dump server stats when done"`
		tagflag.StartPos
		Infohash [][20]byte
	}{}
	tagflag.Parse(&flags)
	s, err := dht.NewServer(func() *dht.ServerConfig {
		sc := dht.NewDefaultServerConfig()
		if flags.Debug {
			sc.Logger = log.Default.WithNames("dht")
		}
		return sc
	}())
	if err != nil {
		log.Printf("error creating server: %s", err)
		return 1
	}
	defer s.Close()
	go s.Serve(context.Background())
	bt, err := s.Bootstrap()
	if err != nil {
		log.Printf("error bootstrapping: %s", err)
		return 1
	}
	<-bt.Done()
	log.Printf("bootstrapped with %d nodes", s.NumNodes())
	var opts []dht.AnnounceOpt
	if flags.WantPeers != 0 {
		opts = append(opts, dht.WantPeers(flags.WantPeers))
	}
	var wg sync.WaitGroup
	addrs := make(map[[20]byte]map[string]struct{}, len(flags.Infohash))
	for _, ih := range flags.Infohash {
		a, err := s.Announce(ih, flags.Port, flags.ImpliedPort, opts...)
		if err != nil {
			log.Printf("error announcing %x: %s", ih, err)
			continue
		}
		wg.Add(1)
		seen := make(map[string]struct{})
		addrs[ih] = seen
		go func(ih [20]byte) {
			defer wg.Done()
			for ps := range a.Peers {
				for _, p := range ps.Peers {
					s := p.String()
					if _, ok := seen[s]; !ok {
						log.Printf("got peer %s for %x from %v", p, ih, ps.NodeInfo)
						seen[s] = struct{}{}
					}
				}
			}
			log.Printf("%v announced to %v nodes", a, a.NumAnnounced())
		}(ih)
	}
	wg.Wait()
	// Let the queued announce_peer queries go out.
	for s.Stats().QueuedMessages != 0 {
		time.Sleep(100 * time.Millisecond)
	}
	for _, ih := range flags.Infohash {
		ips := make(map[string]struct{}, len(addrs[ih]))
		for s := range addrs[ih] {
			ip, _, err := net.SplitHostPort(s)
			if err != nil {
				log.Printf("error parsing addr: %s", err)
			}
			ips[ip] = struct{}{}
		}
		log.Printf("%x: %d addrs %d distinct ips", ih, len(addrs[ih]), len(ips))
	}
	if flags.Stats {
		spew.Dump(s.Stats())
	}
	return 0
}
