package krpc

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/pkg/errors"
)

type NodeInfo struct {
	ID   ID
	Addr NodeAddr
}

func (me NodeInfo) String() string {
	return fmt.Sprintf("{%x at %s}", me.ID, me.Addr)
}

var _ interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
} = (*NodeInfo)(nil)

func (ni NodeInfo) MarshalBinary() ([]byte, error) {
	var w bytes.Buffer
	w.Write(ni.ID[:])
	addrBytes, err := ni.Addr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	w.Write(addrBytes)
	return w.Bytes(), nil
}

func (ni *NodeInfo) UnmarshalBinary(b []byte) error {
	if len(b) < len(ni.ID) {
		return errors.Errorf("node info too short: %d bytes", len(b))
	}
	copy(ni.ID[:], b)
	return ni.Addr.UnmarshalBinary(b[len(ni.ID):])
}
