package krpc

// The "nodes" value: concatenated 20 byte IDs each followed by a 6 byte
// IPv4 compact address.
type CompactIPv4NodeInfo []NodeInfo

func (CompactIPv4NodeInfo) ElemSize() int {
	return 20 + compactIPv4AddrLen
}

func (me CompactIPv4NodeInfo) MarshalBinary() ([]byte, error) {
	return marshalNodeInfos(me, me.ElemSize())
}

func (me CompactIPv4NodeInfo) MarshalBencode() ([]byte, error) {
	return bencodeBytesResult(me.MarshalBinary())
}

func (me *CompactIPv4NodeInfo) UnmarshalBinary(b []byte) (err error) {
	*me, err = unmarshalNodeInfos(b, me.ElemSize())
	return
}

func (me *CompactIPv4NodeInfo) UnmarshalBencode(b []byte) error {
	return unmarshalBencodedBinary(me, b)
}
