package krpc

// Values of the "y" key.
const (
	YQuery    = "q"
	YResponse = "r"
	YError    = "e"
)

// Values of the "q" key.
const (
	QPing         = "ping"
	QFindNode     = "find_node"
	QGetPeers     = "get_peers"
	QAnnouncePeer = "announce_peer"
)

// Msg represents messages that nodes in the network send to each other as
// specified by the protocol. They are also referred to as the KRPC messages.
// There are three types of messages: QUERY, RESPONSE, ERROR. The message is a
// dictionary that is then "bencoded" (serialization & compression format
// adopted by BitTorrent) and sent via the UDP connection to peers.
//
// A KRPC message is a single dictionary with two keys common to every message
// and additional keys depending on the type of message. Every message has a
// key "t" with a string value representing a transaction ID. This transaction
// ID is generated by the querying node and is echoed in the response, so
// responses may be correlated with multiple queries to the same node. The
// other key contained in every KRPC message is "y" with a single character
// string value describing the type of message. The value of the "y" key is
// one of "q" for query, "r" for response, or "e" for error.
type Msg struct {
	Q string   `bencode:"q,omitempty"` // Query method (one of 4: "ping", "find_node", "get_peers", "announce_peer")
	A *MsgArgs `bencode:"a,omitempty"` // named arguments sent with a query
	T string   `bencode:"t"`           // required: transaction ID
	Y string   `bencode:"y"`           // required: type of the message: q for QUERY, r for RESPONSE, e for ERROR
	R *Return  `bencode:"r,omitempty"` // RESPONSE type only
	E *Error   `bencode:"e,omitempty"` // ERROR type only
	V string   `bencode:"v,omitempty"` // client version
}

type MsgArgs struct {
	ID          ID     `bencode:"id"`                     // ID of the querying Node
	InfoHash    *ID    `bencode:"info_hash,omitempty"`    // InfoHash of the torrent
	Target      *ID    `bencode:"target,omitempty"`       // ID of the node sought
	Token       string `bencode:"token,omitempty"`        // Token received from an earlier get_peers query
	Port        *int   `bencode:"port,omitempty"`         // Sender's torrent port
	ImpliedPort int    `bencode:"implied_port,omitempty"` // Use senders apparent DHT port
}

type Return struct {
	ID     ID                  `bencode:"id"`               // ID of the queried (and responding) node
	Nodes  CompactIPv4NodeInfo `bencode:"nodes,omitempty"`  // K closest nodes to the requested target
	Nodes6 CompactIPv6NodeInfo `bencode:"nodes6,omitempty"` // K closest nodes to the requested target
	Token  *string             `bencode:"token,omitempty"`  // Token for future announce_peer
	Values []NodeAddr          `bencode:"values,omitempty"` // Torrent peers
}

// The ID of the sending node, or nil if the message doesn't carry one.
func (m Msg) SenderID() *ID {
	switch m.Y {
	case YQuery:
		if m.A == nil {
			return nil
		}
		return &m.A.ID
	case YResponse:
		if m.R == nil {
			return nil
		}
		return &m.R.ID
	}
	return nil
}

// Returns the KRPC error, if this is an error message.
func (m Msg) Error() *Error {
	if m.Y != YError {
		return nil
	}
	if m.E == nil {
		return &Error{Code: ErrorCodeGenericError, Msg: "error message without error"}
	}
	return m.E
}

