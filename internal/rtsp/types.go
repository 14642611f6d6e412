package rtsp

import (
	"context"
	"net"
)

type Client interface {
	// SendRequest assigns the next CSeq to request, writes it and waits for
	// the matching response.
	SendRequest(ctx context.Context, request *Request) (*Response, error)
	SubscribeInterleavedFrames(h func(channel uint8, payload []byte)) func()

	Conn() net.Conn

	Done() <-chan struct{}
	Err() error
	Close() error
}
