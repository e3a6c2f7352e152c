// Package int160 provides the 160-bit unsigned integer used for node IDs and
// info-hashes, ordered as big-endian and measured against each other by XOR.
package int160

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"math/big"
	"math/bits"

	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"
)

const (
	NumBytes = 20
	NumBits  = NumBytes * 8
)

type T struct {
	bits [NumBytes]uint8
}

var (
	_ bencode.Marshaler   = T{}
	_ bencode.Unmarshaler = (*T)(nil)
)

func (me T) String() string {
	return hex.EncodeToString(me.bits[:])
}

func (me T) AsByteArray() [NumBytes]byte {
	return me.bits
}

func (me T) ByteString() string {
	return string(me.bits[:])
}

func (me T) Bytes() []byte {
	return me.bits[:]
}

func (me T) BitLen() int {
	for i, b := range me.bits {
		if b != 0 {
			return (NumBytes-i)*8 - bits.LeadingZeros8(b)
		}
	}
	return 0
}

func (me *T) SetBytes(b []byte) {
	n := copy(me.bits[:], b)
	if n != NumBytes {
		panic(n)
	}
}

// Bit 0 is the most significant bit.
func (me *T) SetBit(index int, val bool) {
	var orVal uint8
	if val {
		orVal = 1 << (7 - index%8)
	}
	var mask uint8 = ^(1 << (7 - index%8))
	me.bits[index/8] = me.bits[index/8]&mask | orVal
}

func (me T) GetBit(index int) bool {
	return me.bits[index/8]>>(7-index%8)&1 == 1
}

func (l T) Cmp(r T) int {
	for i := range l.bits {
		if l.bits[i] < r.bits[i] {
			return -1
		} else if l.bits[i] > r.bits[i] {
			return 1
		}
	}
	return 0
}

func (me *T) SetMax() {
	for i := range me.bits {
		me.bits[i] = math.MaxUint8
	}
}

func (me *T) Xor(a, b *T) {
	for i := range me.bits {
		me.bits[i] = a.bits[i] ^ b.bits[i]
	}
}

func (me T) IsZero() bool {
	return me == T{}
}

func (me T) Distance(other T) T {
	return Distance(me, other)
}

// Returns a big.Int with the same value, for arithmetic the fixed width type
// doesn't provide.
func (me T) Int() *big.Int {
	return new(big.Int).SetBytes(me.bits[:])
}

func (me T) MarshalBencode() ([]byte, error) {
	return bencode.Marshal(me.bits[:])
}

func (me *T) UnmarshalBencode(b []byte) error {
	var s string
	if err := bencode.Unmarshal(b, &s); err != nil {
		return err
	}
	if len(s) != NumBytes {
		return errors.Errorf("expected %d bytes, got %d", NumBytes, len(s))
	}
	me.SetBytes([]byte(s))
	return nil
}

func FromByteArray(b [NumBytes]byte) (ret T) {
	ret.bits = b
	return
}

func FromByteString(s string) (ret T) {
	ret.SetBytes([]byte(s))
	return
}

func Max() (ret T) {
	ret.SetMax()
	return
}

func Random() (ret T) {
	rand.Read(ret.bits[:])
	return
}

func Distance(a, b T) (ret T) {
	ret.Xor(&a, &b)
	return
}

// Returns a random value in the inclusive range [min, max]. The range must be
// a prefix range: min and max agree on every bit before the first bit where
// min is 0 and max is 1, and every later bit is 0 in min and 1 in max.
func RandomInPrefixRange(min, max T) (ret T) {
	r := Random()
	for i := range ret.bits {
		mask := min.bits[i] ^ max.bits[i]
		ret.bits[i] = min.bits[i]&^mask | r.bits[i]&mask
	}
	return
}
