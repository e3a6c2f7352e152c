package krpc

// The "nodes6" value from BEP 32: 20 byte IDs each followed by an 18 byte
// IPv6 compact address.
type CompactIPv6NodeInfo []NodeInfo

func (CompactIPv6NodeInfo) ElemSize() int {
	return 20 + compactIPv6AddrLen
}

func (me CompactIPv6NodeInfo) MarshalBinary() ([]byte, error) {
	return marshalNodeInfos(me, me.ElemSize())
}

func (me CompactIPv6NodeInfo) MarshalBencode() ([]byte, error) {
	return bencodeBytesResult(me.MarshalBinary())
}

func (me *CompactIPv6NodeInfo) UnmarshalBinary(b []byte) (err error) {
	*me, err = unmarshalNodeInfos(b, me.ElemSize())
	return
}

func (me *CompactIPv6NodeInfo) UnmarshalBencode(b []byte) error {
	return unmarshalBencodedBinary(me, b)
}
