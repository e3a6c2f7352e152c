// Runs a DHT node, bootstrapping from the global routers, and serves its
// routing table status over HTTP.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"

	_ "github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/anacrolix/tagflag"

	dht "github.com/anacrolix/mldht"
	"github.com/anacrolix/mldht/krpc"
)

func main() {
	os.Exit(mainErr())
}

func mainErr() int {
	flags := struct {
		Addr  string `help:"local UDP address"`
		Debug bool
	}{
		Addr: ":0",
	}
	tagflag.Parse(&flags)
	conn, err := net.ListenPacket("udp4", flags.Addr)
	if err != nil {
		log.Printf("error listening: %s", err)
		return 1
	}
	sc := &dht.ServerConfig{
		Conn: dht.NewPacketConn(conn),
		StartingNodes: func() ([]krpc.NodeAddr, error) {
			return dht.GlobalBootstrapAddrs("udp4")
		},
	}
	if flags.Debug {
		sc.Logger = log.Default.WithNames("dht")
	}
	s, err := dht.NewServer(sc)
	if err != nil {
		log.Printf("error creating server: %s", err)
		return 1
	}
	// Served alongside envpprof's handlers.
	http.HandleFunc("/debug/dht", func(w http.ResponseWriter, r *http.Request) {
		s.WriteStatus(w)
	})
	log.Printf("dht server on %s, ID is %x", s.Addr(), s.ID())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx)
	}()
	if bt, err := s.Bootstrap(); err != nil {
		log.Printf("error bootstrapping: %s", err)
	} else {
		go func() {
			select {
			case <-bt.Done():
				log.Printf("finished bootstrapping: %d responses, %d nodes in table", bt.NumResponses(), s.NumNodes())
			case <-ctx.Done():
			}
		}()
	}
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Printf("error serving: %s", err)
		return 1
	}
	s.Close()
	<-serveErr
	s.WriteStatus(os.Stdout)
	return 0
}
