package ambarpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveCamera answers authenticate and battery requests on the first
// accepted connection, pushing a status event ahead of every battery reply.
func serveCamera(ln net.Listener) <-chan []map[string]interface{} {
	received := make(chan []map[string]interface{}, 1)
	go func() {
		var got []map[string]interface{}
		defer func() { received <- got }()

		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()

		dec := json.NewDecoder(nc)
		for {
			var req map[string]interface{}
			if err := dec.Decode(&req); err != nil {
				return
			}
			got = append(got, req)
			var reply string
			switch req["msg_id"] {
			case float64(MsgAuthenticate):
				reply = `{ "rval": 0, "msg_id": 257, "param": 7 }`
			case float64(MsgBattery):
				// split the event mid document
				if _, err := nc.Write([]byte(`{"msg_id":7,"type":"vf`)); err != nil {
					return
				}
				time.Sleep(10 * time.Millisecond)
				reply = `_start"}` + "\n" + `{"rval":0,"msg_id":13,"type":"battery","param":"80"}`
			default:
				continue
			}
			if _, err := nc.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()
	return received
}

func TestClientOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	received := serveCamera(ln)

	addr := ln.Addr().(*net.TCPAddr)
	c := NewClient("127.0.0.1", addr.Port, WithIdleTimeout(20*time.Millisecond), WithCallTimeout(5*time.Second))
	assert.Equal(t, ln.Addr().String(), c.Addr())

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Authenticate(ctx))
	assert.Equal(t, 7, c.Token())

	var events []string
	c.SubscribeAllEvents(func(event string, _ Message) error {
		events = append(events, event)
		return nil
	})

	resp, err := c.Call(ctx, MsgBattery, nil)
	require.NoError(t, err)
	assert.Equal(t, "80", resp.Param())
	assert.Equal(t, []string{EventViewfinderStart}, events)

	require.NoError(t, c.Close())
	got := <-received
	require.Len(t, got, 2)
	assert.Equal(t, float64(0), got[0]["token"])
	assert.Equal(t, float64(7), got[1]["token"])
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := NewClient("127.0.0.1", port, WithDialTimeout(time.Second))
	err = c.Connect(context.Background())

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "dial", connErr.Op)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), connErr.Addr)
}

func TestConnReceive(t *testing.T) {
	local, remote := net.Pipe()
	conn := NewConn(local, 20*time.Millisecond)
	defer conn.Close()

	_, err := conn.Receive(receiveSize)
	assert.ErrorIs(t, err, ErrIdle)

	go func() {
		_, _ = remote.Write([]byte(`{"msg_id":7}`))
		_ = remote.Close()
	}()

	var data []byte
	for {
		b, err := conn.Receive(receiveSize)
		if errors.Is(err, ErrIdle) {
			continue
		}
		if err != nil {
			var connErr *ConnectionError
			require.True(t, errors.As(err, &connErr))
			assert.Equal(t, "receive", connErr.Op)
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		data = append(data, b...)
	}
	assert.Equal(t, `{"msg_id":7}`, string(data))
}

func TestConnSendAfterClose(t *testing.T) {
	local, remote := net.Pipe()
	_ = remote.Close()
	conn := NewConn(local, 0)

	err := conn.Send([]byte(`{"msg_id":13}`))
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
	assert.Equal(t, "send", connErr.Op)
}

func TestReconnectAfterClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		// the first session leaves half a message behind
		for _, reply := range []string{
			`{"rval":0,"msg_id":257,"param":7}{"msg_id":7,"ty`,
			`{"rval":0,"msg_id":257,"param":8}`,
		} {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			var req map[string]interface{}
			if err := json.NewDecoder(nc).Decode(&req); err == nil {
				_, _ = nc.Write([]byte(reply))
			}
			// held open until the client hangs up
			go func() {
				_, _ = io.Copy(io.Discard, nc)
				_ = nc.Close()
			}()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := NewClient("127.0.0.1", port, WithIdleTimeout(20*time.Millisecond), WithCallTimeout(5*time.Second))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Authenticate(ctx))
	assert.Equal(t, 7, c.Token())
	require.NoError(t, c.Close())

	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Authenticate(ctx))
	assert.Equal(t, 8, c.Token())
}
