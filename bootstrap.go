package dht

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/anacrolix/log"
	"github.com/pkg/errors"
	"github.com/rs/dnscache"

	"github.com/anacrolix/mldht/krpc"
)

var (
	// Bootstrapping hits the same few hosts repeatedly.
	dnsResolver     *dnscache.Resolver
	dnsResolverInit sync.Once
)

func initDnsResolver(resolver dnscache.DNSResolver) {
	dnsResolverInit.Do(func() {
		dnsResolver = &dnscache.Resolver{
			Resolver: resolver,
		}
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				dnsResolver.Refresh(false)
			}
		}()
	})
}

// Well known entry points to the Mainline DHT.
var DefaultGlobalBootstrapHostPorts = []string{
	"router.utorrent.com:6881",
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"dht.aelitis.com:6881",     // Vuze
	"router.silotis.us:6881",   // IPv6
	"dht.libtorrent.org:25401", // @arvidn's
	"dht.anacrolix.link:42069",
	"router.bittorrent.cloud:42069",
}

// Resolves DefaultGlobalBootstrapHostPorts for the network ("udp4" or
// "udp6"). Hosts that fail to resolve are skipped, unless they all do.
func GlobalBootstrapAddrs(network string) ([]krpc.NodeAddr, error) {
	return ResolveHostPorts(network, DefaultGlobalBootstrapHostPorts)
}

func ResolveHostPorts(network string, hostPorts []string) (addrs []krpc.NodeAddr, err error) {
	initDnsResolver(net.DefaultResolver)
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for _, hp := range hostPorts {
		wg.Add(1)
		go func(hp string) {
			defer wg.Done()
			as, err := resolveHostPort(network, hp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Default.Levelf(log.Debug, "error resolving %q: %v", hp, err)
				errs = append(errs, err)
				return
			}
			addrs = append(addrs, as...)
		}(hp)
	}
	wg.Wait()
	if len(addrs) == 0 && len(errs) != 0 {
		err = errors.Wrapf(errs[0], "resolving %d host ports", len(hostPorts))
	}
	return
}

func resolveHostPort(network, hostPort string) (ret []krpc.NodeAddr, err error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing port of %q", hostPort)
	}
	hosts, err := dnsResolver.LookupHost(context.Background(), host)
	if err != nil {
		return
	}
	for _, h := range hosts {
		ip := net.ParseIP(h)
		if ip == nil {
			continue
		}
		if (ip.To4() != nil) != (network != "udp6") {
			continue
		}
		ret = append(ret, krpc.NewNodeAddr(ip, int(port)))
	}
	return
}
