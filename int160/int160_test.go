package int160

import (
	"testing"

	"github.com/bradfitz/iter"
	qt "github.com/frankban/quicktest"

	"github.com/anacrolix/torrent/bencode"
)

const zeroID = "\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"

func bitCount(b []byte) (n int) {
	for _, c := range b {
		for ; c != 0; c &= c - 1 {
			n++
		}
	}
	return
}

func TestDistances(t *testing.T) {
	c := qt.New(t)
	ids := []T{
		FromByteString(zeroID),
		FromByteString("\x03" + zeroID[1:]),
		FromByteString("\x03" + zeroID[1:18] + "\x55\xf0"),
		FromByteString("\x55" + zeroID[1:17] + "\xff\x55\x0f"),
	}
	c.Check(bitCount(Distance(ids[3], ids[0]).Bytes()), qt.Equals, 4+8+4+4)
	c.Check(bitCount(Distance(ids[3], ids[1]).Bytes()), qt.Equals, 4+8+4+4)
	c.Check(bitCount(Distance(ids[3], ids[2]).Bytes()), qt.Equals, 4+8+8)
}

func TestMaxString(t *testing.T) {
	c := qt.New(t)
	max := Max()
	c.Check(max.ByteString(), qt.Equals, "\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff\xff")
	c.Check(max.BitLen(), qt.Equals, NumBits)
}

func TestBitLen(t *testing.T) {
	c := qt.New(t)
	var a T
	c.Check(a.BitLen(), qt.Equals, 0)
	for i := range iter.N(NumBits) {
		var b T
		b.SetBit(i, true)
		c.Check(b.BitLen(), qt.Equals, NumBits-i)
		c.Check(b.GetBit(i), qt.IsTrue)
		c.Check(b.Int().BitLen(), qt.Equals, NumBits-i)
	}
}

func TestCmp(t *testing.T) {
	c := qt.New(t)
	var lo, hi T
	hi.SetBit(NumBits-1, true)
	c.Check(lo.Cmp(hi), qt.Equals, -1)
	c.Check(hi.Cmp(lo), qt.Equals, 1)
	c.Check(hi.Cmp(hi), qt.Equals, 0)
}

func TestRandomInPrefixRange(t *testing.T) {
	c := qt.New(t)
	var min T
	min.SetBit(0, true)
	min.SetBit(2, true)
	max := min
	for i := 3; i < NumBits; i++ {
		max.SetBit(i, true)
	}
	for range iter.N(100) {
		r := RandomInPrefixRange(min, max)
		c.Assert(r.Cmp(min) >= 0, qt.IsTrue)
		c.Assert(r.Cmp(max) <= 0, qt.IsTrue)
	}
}

func TestBencodeRoundTrip(t *testing.T) {
	c := qt.New(t)
	id := Random()
	b, err := bencode.Marshal(id)
	c.Assert(err, qt.IsNil)
	c.Check(string(b), qt.Equals, "20:"+id.ByteString())
	var out T
	c.Assert(bencode.Unmarshal(b, &out), qt.IsNil)
	c.Check(out, qt.Equals, id)
	c.Check(bencode.Unmarshal([]byte("3:abc"), &out), qt.IsNotNil)
}
