package rtsp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrDuplicateSequence = errors.New("duplicate sequence")
	ErrStatus            = errors.New("unexpected RTSP status")
)

const interleavedMagic = 0x24

type client struct {
	sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	mtu int

	interleavedFrameSubscribers map[string]func(channel uint8, payload []byte)
	rtspSocket                  net.Conn
	requestQueue                *requestQueue

	writeMu  sync.Mutex
	sequence int

	errMu sync.Mutex
	err   error
}

type requestQueue struct {
	mu    sync.Mutex
	items map[int]func(response *Response)
}

// NewClient starts reading nc until ctx ends or the connection fails.
func NewClient(ctx context.Context, nc net.Conn) Client {
	ctx, cancel := context.WithCancel(ctx)
	return NewClientWithContextCancel(nc, ctx, cancel)
}

func NewClientWithContextCancel(nc net.Conn, ctx context.Context, cancel context.CancelFunc) Client {
	c := &client{
		ctx:                         ctx,
		cancel:                      cancel,
		requestQueue:                newRequestQueue(),
		interleavedFrameSubscribers: make(map[string]func(channel uint8, payload []byte)),
		mtu:                         4096,
		rtspSocket:                  nc,
	}
	go c.readLoop()

	return c
}

func (c *client) Conn() net.Conn {
	return c.rtspSocket
}

func (c *client) SendRequest(ctx context.Context, request *Request) (*Response, error) {
	done := make(chan *Response, 1)

	c.writeMu.Lock()
	c.sequence++
	request.Sequence = c.sequence
	err := c.requestQueue.Enqueue(request.Sequence, func(r *Response) {
		done <- r
	})
	if err != nil {
		c.writeMu.Unlock()
		return nil, fmt.Errorf("failed to enqueue request: %w", err)
	}
	log.WithFields(log.Fields{"method": request.Method, "url": request.Url, "cseq": request.Sequence}).Debug("rtsp request")
	err = request.Write(c.rtspSocket)
	c.writeMu.Unlock()
	if err != nil {
		_, _ = c.requestQueue.Dequeue(request.Sequence)
		return nil, err
	}

	select {
	case <-ctx.Done():
		_, _ = c.requestQueue.Dequeue(request.Sequence)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, c.ctx.Err()
	case response := <-done:
		if response.Code < 200 || response.Code >= 300 {
			return response, fmt.Errorf("%w: %s returned %d %s", ErrStatus, request.Method, response.Code, response.Message)
		}
		return response, nil
	}
}

func (c *client) SubscribeInterleavedFrames(h func(channel uint8, payload []byte)) func() {
	c.Lock()
	defer c.Unlock()
	id := uuid.NewString()
	c.interleavedFrameSubscribers[id] = h
	return func() {
		c.Lock()
		defer c.Unlock()
		delete(c.interleavedFrameSubscribers, id)
	}
}

func (c *client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *client) Close() error {
	c.cancel()
	return c.rtspSocket.Close()
}

func (c *client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.cancel()
}

func (c *client) readLoop() {
	br := bufio.NewReaderSize(c.rtspSocket, c.mtu)
	reader := textproto.NewReader(br)
	for {
		if c.ctx.Err() != nil {
			return
		}
		_ = c.rtspSocket.SetReadDeadline(time.Now().Add(time.Second))
		first, err := br.Peek(1)
		var ne net.Error
		switch {
		case err == nil:
		case errors.As(err, &ne) && ne.Timeout():
			continue
		default:
			c.fail(fmt.Errorf("failed to read from RTSP connection: %w", err))
			return
		}
		// a message has started, let it arrive however long it takes
		_ = c.rtspSocket.SetReadDeadline(time.Time{})

		if first[0] == interleavedMagic {
			if err := c.readInterleavedFrame(br); err != nil {
				c.fail(err)
				return
			}
			continue
		}

		if err := c.readResponse(br, reader); err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *client) readInterleavedFrame(br *bufio.Reader) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("failed to read interleaved frame header: %w", err)
	}
	channel := header[1]
	length := binary.BigEndian.Uint16(header[2:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return fmt.Errorf("failed to read interleaved frame payload: %w", err)
	}

	c.RLock()
	handlers := make([]func(uint8, []byte), 0, len(c.interleavedFrameSubscribers))
	for _, h := range c.interleavedFrameSubscribers {
		handlers = append(handlers, h)
	}
	c.RUnlock()
	for _, h := range handlers {
		h(channel, payload)
	}
	return nil
}

func (c *client) readResponse(br *bufio.Reader, reader *textproto.Reader) error {
	statusLine, err := reader.ReadLine()
	if err != nil {
		return fmt.Errorf("failed to read RTSP status line: %w", err)
	}
	headers, err := reader.ReadMIMEHeader()
	if err != nil {
		return fmt.Errorf("failed to read RTSP headers: %w", err)
	}
	header := http.Header(headers)

	var body []byte
	if lengthHeader := header.Get("Content-Length"); lengthHeader != "" {
		length, err := strconv.Atoi(lengthHeader)
		if err != nil {
			return fmt.Errorf("failed to parse content-length: %w", err)
		}
		body = make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return fmt.Errorf("failed to read body of RTSP message: %w", err)
		}
	}

	if !strings.HasPrefix(statusLine, "RTSP/") {
		// server to client requests are not served
		log.WithField("request", statusLine).Debug("ignoring RTSP request from server")
		return nil
	}

	version, code, message, err := parseStatusLine(statusLine)
	if err != nil {
		return err
	}
	seq, err := strconv.Atoi(header.Get("CSeq"))
	if err != nil {
		return fmt.Errorf("failed to parse CSeq: %w", err)
	}
	hf, err := c.requestQueue.Dequeue(seq)
	if err != nil {
		log.WithField("cseq", seq).Warn("dropping RTSP response without pending request")
		return nil
	}
	hf(&Response{
		Version:  version,
		Code:     code,
		Message:  message,
		Sequence: seq,
		Header:   header,
		Body:     body,
	})
	return nil
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items: make(map[int]func(response *Response)),
	}
}

func (r *requestQueue) Enqueue(key int, h func(response *Response)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return ErrDuplicateSequence
	}
	r.items[key] = h
	return nil
}

func (r *requestQueue) Dequeue(key int) (func(response *Response), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.items[key]
	if !ok {
		return nil, fmt.Errorf("no request pending for CSeq %d", key)
	}
	delete(r.items, key)
	return h, nil
}
