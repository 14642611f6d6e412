package ambarpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	log "github.com/sirupsen/logrus"
)

// Decoder reassembles a stream of back-to-back JSON objects. The buffer
// always holds exactly the bytes not yet returned as a message.
type Decoder struct {
	buf []byte
	// length of buf when a desync was last reported, so a stuck buffer is
	// only reported once per state
	desyncAt int
}

func NewDecoder() *Decoder {
	return &Decoder{desyncAt: -1}
}

// Feed appends received bytes.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Len is the number of buffered bytes.
func (d *Decoder) Len() int {
	return len(d.buf)
}

// Next returns the next complete message, or false when the buffer holds
// only a partial (or unparseable) document. The buffer is left untouched
// when no message is returned.
func (d *Decoder) Next() (Message, bool) {
	for {
		if len(bytes.TrimSpace(d.buf)) == 0 {
			d.buf = d.buf[:0]
			return nil, false
		}

		dec := json.NewDecoder(bytes.NewReader(d.buf))
		dec.UseNumber()
		var raw json.RawMessage
		err := dec.Decode(&raw)
		switch {
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			log.WithField("buffered", len(d.buf)).Debug("partial message buffered")
			return nil, false
		case err != nil:
			d.reportDesync(err)
			return nil, false
		}

		end := int(dec.InputOffset())
		d.consume(end)

		msg, err := toMessage(raw)
		if err != nil {
			log.WithError(err).WithField("document", string(raw)).Warn("dropping non-object JSON document")
			continue
		}
		log.Debugf("<< %s", raw)
		return msg, true
	}
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	d.desyncAt = -1
}

func (d *Decoder) reportDesync(err error) {
	if d.desyncAt == len(d.buf) {
		return
	}
	d.desyncAt = len(d.buf)
	desyncs.Inc()
	log.WithError(err).WithField("buffered", len(d.buf)).Warn("protocol desync: receive buffer is not a JSON prefix")
}

func toMessage(raw json.RawMessage) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("null document")
	}
	for k, v := range obj {
		obj[k] = normalize(v)
	}
	return Message(obj), nil
}

// normalize replaces json.Number with int64 or float64.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}
