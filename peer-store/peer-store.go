package peer_store

import (
	"github.com/anacrolix/torrent/metainfo"

	"github.com/anacrolix/mldht/krpc"
)

type InfoHash = metainfo.Hash

// Stores peers announced to us with announce_peer, and serves them in
// get_peers replies.
type Interface interface {
	AddPeer(InfoHash, krpc.NodeAddr)
	GetPeers(InfoHash) []krpc.NodeAddr
}
