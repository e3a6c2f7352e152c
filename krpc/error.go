package krpc

import (
	"fmt"

	"github.com/anacrolix/torrent/bencode"
	"github.com/pkg/errors"
)

// These are documented in BEP 5.
const (
	ErrorCodeGenericError  = 201
	ErrorCodeServerError   = 202
	ErrorCodeProtocolError = 203
	ErrorCodeMethodUnknown = 204
)

var ErrorMethodUnknown = Error{
	Code: ErrorCodeMethodUnknown,
	Msg:  "Method Unknown",
}

// Represented as a two element list [code, message] on the wire.
type Error struct {
	Code int
	Msg  string
}

var (
	_ bencode.Marshaler   = Error{}
	_ bencode.Unmarshaler = (*Error)(nil)
	_ error               = Error{}
)

func (e Error) MarshalBencode() ([]byte, error) {
	return bencode.Marshal([]interface{}{e.Code, e.Msg})
}

func (e *Error) UnmarshalBencode(b []byte) (err error) {
	var v interface{}
	err = bencode.Unmarshal(b, &v)
	if err != nil {
		return
	}
	l, ok := v.([]interface{})
	if !ok {
		return errors.Errorf("expected list, got %T", v)
	}
	switch n := len(l); {
	case n >= 2:
		msg, ok := l[1].(string)
		if !ok {
			return errors.Errorf("error message has type %T", l[1])
		}
		e.Msg = msg
		fallthrough
	case n == 1:
		code, ok := l[0].(int64)
		if !ok {
			return errors.Errorf("error code has type %T", l[0])
		}
		e.Code = int(code)
	}
	return nil
}

func (e Error) Error() string {
	return fmt.Sprintf("KRPC error %d: %s", e.Code, e.Msg)
}
