package ambarpc

import (
	"context"
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultAddress     = "192.168.42.1"
	DefaultPort        = 7878
	DefaultIdleTimeout = time.Second
	DefaultDialTimeout = 5 * time.Second
)

type conn struct {
	nc   net.Conn
	idle time.Duration
}

// NewConn wraps an established connection. Each Receive waits at most idle
// for data before reporting ErrIdle.
func NewConn(nc net.Conn, idle time.Duration) Conn {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &conn{nc: nc, idle: idle}
}

// Dial opens a TCP connection to addr ("host:port").
func Dial(ctx context.Context, addr string, dialTimeout, idle time.Duration) (Conn, error) {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	log.WithField("addr", addr).Info("connecting")
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	log.WithField("addr", addr).Info("connected")
	return NewConn(nc, idle), nil
}

func (c *conn) Send(b []byte) error {
	for len(b) > 0 {
		n, err := c.nc.Write(b)
		if err != nil {
			return &ConnectionError{Op: "send", Addr: c.remote(), Err: err}
		}
		b = b[n:]
	}
	return nil
}

func (c *conn) Receive(max int) ([]byte, error) {
	_ = c.nc.SetReadDeadline(time.Now().Add(c.idle))
	buf := make([]byte, max)
	n, err := c.nc.Read(buf)
	if n > 0 {
		// data wins over a simultaneous error, the error resurfaces on the next read
		return buf[:n], nil
	}
	var ne net.Error
	switch {
	case err == nil:
		return nil, nil
	case errors.As(err, &ne) && ne.Timeout():
		return nil, ErrIdle
	default:
		return nil, &ConnectionError{Op: "receive", Addr: c.remote(), Err: err}
	}
}

func (c *conn) Close() error {
	return c.nc.Close()
}

func (c *conn) remote() string {
	if addr := c.nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
