package ambarpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const receiveSize = 1024

// Client is a session with the camera control service. Blocking calls
// (Call, WaitFor, Run, Authenticate) are serialised: a second one waits for
// the first within its own timeout and context. Send and the subscription
// methods may be used from any goroutine, including from handlers.
type Client struct {
	Publisher

	addr        string
	dialTimeout time.Duration
	idleTimeout time.Duration
	callTimeout time.Duration
	now         func() time.Time

	// one slot, held for the whole receive side of a blocking call
	recv chan struct{}
	// set while the receive side runs handlers
	publishing int32

	// guards conn and its decoder, serialises writes
	connMu  sync.Mutex
	conn    Conn
	decoder *Decoder

	tokenMu sync.RWMutex
	token   int
}

// Option configures a Client.
type Option func(*Client)

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.idleTimeout = d
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithCallTimeout sets the timeout used by Call when none is passed.
// Zero or less never times out.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithConn uses an already established connection; Connect becomes a no-op.
func WithConn(conn Conn) Option {
	return func(c *Client) {
		c.conn = conn
		c.decoder = NewDecoder()
	}
}

// WithPublisher shares a subscriber registry between clients.
func WithPublisher(p Publisher) Option {
	return func(c *Client) {
		c.Publisher = p
	}
}

// NewClient creates a client for host:port. Nothing is dialled until Connect.
func NewClient(host string, port int, opts ...Option) *Client {
	c := &Client{
		Publisher:   NewDispatcher(),
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout: DefaultDialTimeout,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		recv:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Addr() string {
	return c.addr
}

// Connect dials the camera.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := Dial(ctx, c.addr, c.dialTimeout, c.idleTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.decoder = NewDecoder()
	return nil
}

// Close closes the connection and drops anything still buffered from it.
// A blocking call in progress fails with a ConnectionError on its next
// receive. The client can be connected again afterwards.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.decoder = nil
	return err
}

func (c *Client) getConn() (Conn, *Decoder) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn, c.decoder
}

// acquire takes the receive side, giving up when ctx ends or timeout
// passes. Handlers run by the receive side cannot wait for it.
func (c *Client) acquire(ctx context.Context, timeout time.Duration, label string) (func(), error) {
	if atomic.LoadInt32(&c.publishing) == 1 {
		return nil, ErrReentrant
	}
	release := func() { <-c.recv }
	select {
	case c.recv <- struct{}{}:
		return release, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case c.recv <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		waitTimeouts.WithLabelValues(label).Inc()
		return nil, ErrTimeout
	}
}

func (c *Client) deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return c.now().Add(timeout)
}

func (c *Client) publish(msg Message) {
	atomic.StoreInt32(&c.publishing, 1)
	defer atomic.StoreInt32(&c.publishing, 0)
	c.Publish(msg)
}

func (c *Client) Token() int {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) Authenticated() bool {
	return c.Token() != 0
}

func (c *Client) setToken(token int) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Authenticate requests a session token. The current token is cleared once
// the request is about to be sent and only replaced when the camera answers
// with rval 0.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.call(ctx, MsgAuthenticate, nil, callOptions{raise: true, timeout: c.callTimeout, resetToken: true})
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	token, ok := resp.Int("param")
	if !ok {
		return fmt.Errorf("failed to authenticate: token %v is not an integer", resp.Param())
	}
	c.setToken(token)
	log.WithField("token", token).Info("authenticated")
	return nil
}

type callOptions struct {
	raise      bool
	timeout    time.Duration
	resetToken bool
}

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

// WithTimeout bounds the wait for the response. Zero or less waits forever.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// WithoutRaise returns responses with a nonzero rval instead of an RPCError.
func WithoutRaise() CallOption {
	return func(o *callOptions) {
		o.raise = false
	}
}

// Call sends a request and waits for the response with the same msg_id.
func (c *Client) Call(ctx context.Context, msgID int, fields Fields, opts ...CallOption) (Message, error) {
	o := callOptions{raise: true, timeout: c.callTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if msgID != MsgAuthenticate && !c.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return c.call(ctx, msgID, fields, o)
}

func (c *Client) call(ctx context.Context, msgID int, fields Fields, o callOptions) (Message, error) {
	deadline := c.deadline(o.timeout)
	release, err := c.acquire(ctx, o.timeout, strconv.Itoa(msgID))
	if err != nil {
		return nil, err
	}
	defer release()

	if o.resetToken {
		c.setToken(0)
	}
	if err := c.send(msgID, fields); err != nil {
		return nil, err
	}
	resp, err := c.waitFor(ctx, MatchID(msgID, nil), deadline)
	if err != nil {
		return nil, err
	}
	if resp.Rval() != 0 {
		rpcErrors.WithLabelValues(strconv.Itoa(msgID)).Inc()
		if o.raise {
			return nil, newRPCError(msgID, resp)
		}
	}
	return resp, nil
}

// Send writes a request without waiting for its response.
func (c *Client) Send(msgID int, fields Fields) error {
	if msgID != MsgAuthenticate && !c.Authenticated() {
		return ErrUnauthenticated
	}
	return c.send(msgID, fields)
}

func (c *Client) send(msgID int, fields Fields) error {
	envelope := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		envelope[k] = v
	}
	envelope["msg_id"] = msgID
	envelope["token"] = c.Token()

	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode msg_id %d: %w", msgID, err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	log.Debugf(">> %s", b)
	return c.conn.Send(b)
}

// WaitFor blocks until a message satisfying match is decoded or timeout
// passes. Every message decoded meanwhile is still published.
func (c *Client) WaitFor(ctx context.Context, match Match, timeout time.Duration) (Message, error) {
	deadline := c.deadline(timeout)
	release, err := c.acquire(ctx, timeout, matchLabel(match))
	if err != nil {
		return nil, err
	}
	defer release()
	return c.waitFor(ctx, match, deadline)
}

// Run publishes incoming messages until the connection fails or ctx ends.
// Blocking calls from other goroutines wait until Run returns.
func (c *Client) Run(ctx context.Context) error {
	release, err := c.acquire(ctx, 0, "any")
	if err != nil {
		return err
	}
	defer release()
	for {
		if _, err := c.waitFor(ctx, MatchAny(), time.Time{}); err != nil {
			return err
		}
	}
}

func matchLabel(match Match) string {
	if match.Any {
		return "any"
	}
	return strconv.Itoa(match.MsgID)
}

func (c *Client) waitFor(ctx context.Context, match Match, deadline time.Time) (Message, error) {
	conn, decoder := c.getConn()
	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		for {
			msg, ok := decoder.Next()
			if !ok {
				break
			}
			c.publish(msg)
			if match.Matches(msg) {
				return msg, nil
			}
		}

		if !deadline.IsZero() && c.now().After(deadline) {
			waitTimeouts.WithLabelValues(matchLabel(match)).Inc()
			return nil, ErrTimeout
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := conn.Receive(receiveSize)
		switch {
		case errors.Is(err, ErrIdle):
			continue
		case err != nil:
			return nil, err
		}
		decoder.Feed(b)
	}
}
