package ambarpc

import (
	"sync"
	"time"
)

// fakeConn replays scripted chunks and answers requests by msg_id.
type fakeConn struct {
	mu      sync.Mutex
	chunks  [][]byte
	replies map[int]string
	sent    []Message
	closed  bool

	// err is returned once the chunks run out
	err error
	// idle runs every time Receive finds nothing to deliver
	idle func(f *fakeConn)
}

func newFakeConn(chunks ...string) *fakeConn {
	f := &fakeConn{replies: map[int]string{}}
	f.push(chunks...)
	return f
}

func (f *fakeConn) push(chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.chunks = append(f.chunks, []byte(c))
	}
}

func (f *fakeConn) reply(msgID int, doc string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[msgID] = doc
	return f
}

func (f *fakeConn) Send(b []byte) error {
	msg, err := toMessage(b)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if id, ok := msg.MsgID(); ok {
		if doc, ok := f.replies[id]; ok {
			f.chunks = append(f.chunks, []byte(doc))
		}
	}
	return nil
}

func (f *fakeConn) Receive(max int) ([]byte, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		chunk := f.chunks[0]
		if len(chunk) > max {
			f.chunks[0] = chunk[max:]
			chunk = chunk[:max]
		} else {
			f.chunks = f.chunks[1:]
		}
		f.mu.Unlock()
		return chunk, nil
	}
	err, idle := f.err, f.idle
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if idle != nil {
		idle(f)
	}
	return nil, ErrIdle
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
