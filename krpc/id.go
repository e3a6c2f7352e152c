package krpc

import (
	"crypto/rand"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"

	"github.com/anacrolix/mldht/int160"
)

// A node ID or info-hash as it appears on the wire.
type ID [20]byte

var (
	_ bencode.Marshaler   = ID{}
	_ bencode.Unmarshaler = (*ID)(nil)
)

func (me ID) MarshalBencode() ([]byte, error) {
	return bencode.Marshal(me[:])
}

func (me *ID) UnmarshalBencode(b []byte) error {
	var s string
	if err := bencode.Unmarshal(b, &s); err != nil {
		return err
	}
	if n := copy(me[:], s); n != len(me) || len(s) != len(me) {
		return errors.Errorf("id has %d bytes, expected %d", len(s), len(me))
	}
	return nil
}

func (me ID) String() string {
	return fmt.Sprintf("%x", me[:])
}

func (me ID) Int160() int160.T {
	return int160.FromByteArray(me)
}

func (me ID) IsZero() bool {
	return me == ID{}
}

func IdFromString(s string) (id ID) {
	if n := copy(id[:], s); n != 20 {
		panic(n)
	}
	return
}

func RandomNodeID() (id ID) {
	rand.Read(id[:])
	return
}
