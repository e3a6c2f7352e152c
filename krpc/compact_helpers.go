package krpc

import (
	"encoding"
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"
)

func unmarshalBencodedBinary(u encoding.BinaryUnmarshaler, b []byte) (err error) {
	var _b []byte
	err = bencode.Unmarshal(b, &_b)
	if err != nil {
		return
	}
	return u.UnmarshalBinary(_b)
}

// Splits concatenated fixed size node info records. A trailing partial
// record is an error.
func unmarshalNodeInfos(b []byte, elemSize int) (ret []NodeInfo, err error) {
	if len(b)%elemSize != 0 {
		err = errors.Errorf("%d bytes is not a multiple of %d", len(b), elemSize)
		return
	}
	for ; len(b) != 0; b = b[elemSize:] {
		var ni NodeInfo
		err = ni.UnmarshalBinary(b[:elemSize])
		if err != nil {
			return
		}
		ret = append(ret, ni)
	}
	return
}

func marshalNodeInfos(nis []NodeInfo, elemSize int) (ret []byte, err error) {
	for _, ni := range nis {
		var b []byte
		b, err = ni.MarshalBinary()
		if err != nil {
			return
		}
		if len(b) != elemSize {
			err = fmt.Errorf("marshalled %d bytes for %v, but expected %d", len(b), ni, elemSize)
			return
		}
		ret = append(ret, b...)
	}
	return
}

func bencodeBytesResult(b []byte, err error) ([]byte, error) {
	if err != nil {
		return b, err
	}
	return bencode.Marshal(b)
}
