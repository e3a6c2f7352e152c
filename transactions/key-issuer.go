package transactions

import (
	"encoding/binary"
	"math/rand"
)

// A transaction ID as it appears in the "t" key.
type Id = string

type IdIssuer interface {
	Issue() Id
}

// Issues short IDs from a counter. Each Server holds its own, seeded randomly
// so that IDs don't repeat across restarts against the same remote.
type VarintIdIssuer struct {
	buf  [binary.MaxVarintLen64]byte
	next uint64
}

var _ IdIssuer = (*VarintIdIssuer)(nil)

func NewVarintIdIssuer() *VarintIdIssuer {
	return &VarintIdIssuer{next: uint64(rand.Int63n(1 << 16))}
}

func (me *VarintIdIssuer) Issue() Id {
	n := binary.PutUvarint(me.buf[:], me.next)
	me.next++
	return string(me.buf[:n])
}
