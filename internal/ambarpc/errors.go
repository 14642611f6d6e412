package ambarpc

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout         = errors.New("timed out waiting for message")
	ErrUnauthenticated = errors.New("session is not authenticated")
	// ErrIdle is returned by Conn.Receive when the idle interval elapsed
	// without data. It is not a failure.
	ErrIdle         = errors.New("connection idle")
	ErrNotConnected = errors.New("not connected")
	// ErrReentrant is returned by blocking calls made from a handler while
	// the receive side is delivering messages.
	ErrReentrant = errors.New("blocking call from a message handler")
)

// ConnectionError is a socket level failure.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RPCError is a response carrying a nonzero rval.
type RPCError struct {
	MsgID    int
	Code     int
	Response Message
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("msg_id %d failed with rval %d", e.MsgID, e.Code)
}

func newRPCError(msgID int, resp Message) *RPCError {
	return &RPCError{MsgID: msgID, Code: resp.Rval(), Response: resp}
}
