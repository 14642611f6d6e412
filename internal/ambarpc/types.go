package ambarpc

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Message is one decoded JSON object from the camera. Integral numbers are
// held as int64, other numbers as float64.
type Message map[string]interface{}

// Fields are the optional request fields merged into an outgoing envelope.
type Fields map[string]interface{}

// RawHandler receives every decoded message. fields holds everything except msg_id.
// Handlers run on the receiving goroutine and must not block on the client:
// Call, WaitFor, Run and Authenticate fail with ErrReentrant there, Send is fine.
type RawHandler func(msgID int, fields Message) error

// EventHandler receives status events. fields holds everything except msg_id and type.
// The same restrictions as for RawHandler apply.
type EventHandler func(event string, fields Message) error

// Conn is the byte level connection to the camera.
type Conn interface {
	Send(b []byte) error
	// Receive reads at most max bytes, returning ErrIdle if nothing arrived
	// within the idle interval.
	Receive(max int) ([]byte, error)
	Close() error
}

// Publisher fans decoded messages out to subscribers.
type Publisher interface {
	Publish(msg Message)
	SubscribeMessage(msgID int, h RawHandler) func()
	SubscribeAllMessages(h RawHandler) func()
	SubscribeEvent(name string, h EventHandler) func()
	SubscribeAllEvents(h EventHandler) func()
}

// Caller is the request side of a session, consumed by the command catalog.
type Caller interface {
	Call(ctx context.Context, msgID int, fields Fields, opts ...CallOption) (Message, error)
	Send(msgID int, fields Fields) error
	WaitFor(ctx context.Context, match Match, timeout time.Duration) (Message, error)
}

// Match selects the message a wait returns.
type Match struct {
	Any    bool
	MsgID  int
	Fields Fields
}

// MatchAny matches whatever message is decoded next.
func MatchAny() Match {
	return Match{Any: true}
}

// MatchID matches msg_id and, when given, every key/value in fields.
func MatchID(msgID int, fields Fields) Match {
	return Match{MsgID: msgID, Fields: fields}
}

// Matches reports whether msg satisfies m. Fields are only considered when
// a msg_id is targeted.
func (m Match) Matches(msg Message) bool {
	if m.Any {
		return true
	}
	id, ok := msg.MsgID()
	if !ok || id != m.MsgID {
		return false
	}
	for k, want := range m.Fields {
		got, ok := msg[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// MsgID returns the msg_id field.
func (m Message) MsgID() (int, bool) {
	return m.Int("msg_id")
}

// Rval returns the result code, zero when absent.
func (m Message) Rval() int {
	v, _ := m.Int("rval")
	return v
}

// Type returns the event type of a status message.
func (m Message) Type() (string, bool) {
	return m.Str("type")
}

func (m Message) Param() interface{} {
	return m["param"]
}

func (m Message) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int64:
		return int(v), true
	case int:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int(v), true
		}
	}
	return 0, false
}

func (m Message) Str(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// without returns a shallow copy of m minus the given keys.
func (m Message) without(keys ...string) Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// valuesEqual compares two JSON values by their canonical encoding, so 42,
// int64(42) and 42.0 are all equal.
func valuesEqual(a, b interface{}) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
