package ambarpc

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type rawSubscriber struct {
	id    string
	all   bool
	msgID int
	h     RawHandler
}

type eventSubscriber struct {
	id   string
	all  bool
	name string
	h    EventHandler
}

type dispatcher struct {
	sync.RWMutex
	raw    []rawSubscriber
	events []eventSubscriber
}

// NewDispatcher returns an empty subscriber registry.
func NewDispatcher() Publisher {
	return &dispatcher{}
}

func (d *dispatcher) SubscribeMessage(msgID int, h RawHandler) func() {
	return d.addRaw(rawSubscriber{msgID: msgID, h: h})
}

func (d *dispatcher) SubscribeAllMessages(h RawHandler) func() {
	return d.addRaw(rawSubscriber{all: true, h: h})
}

func (d *dispatcher) SubscribeEvent(name string, h EventHandler) func() {
	return d.addEvent(eventSubscriber{name: name, h: h})
}

func (d *dispatcher) SubscribeAllEvents(h EventHandler) func() {
	return d.addEvent(eventSubscriber{all: true, h: h})
}

func (d *dispatcher) addRaw(s rawSubscriber) func() {
	d.Lock()
	defer d.Unlock()
	s.id = uuid.NewString()
	d.raw = append(d.raw, s)
	return func() {
		d.Lock()
		defer d.Unlock()
		for i, sub := range d.raw {
			if sub.id == s.id {
				d.raw = append(d.raw[:i:i], d.raw[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) addEvent(s eventSubscriber) func() {
	d.Lock()
	defer d.Unlock()
	s.id = uuid.NewString()
	d.events = append(d.events, s)
	return func() {
		d.Lock()
		defer d.Unlock()
		for i, sub := range d.events {
			if sub.id == s.id {
				d.events = append(d.events[:i:i], d.events[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers msg to raw subscribers and, for status messages with a
// type, to event subscribers. Handlers run in subscription order on the
// calling goroutine.
func (d *dispatcher) Publish(msg Message) {
	msgID, ok := msg.MsgID()
	if !ok {
		msgID = NoMessageID
	}
	messagesReceived.WithLabelValues(strconv.Itoa(msgID)).Inc()

	d.RLock()
	raw := d.raw
	events := d.events
	d.RUnlock()

	fields := msg.without("msg_id")
	for _, sub := range raw {
		if !sub.all && (msgID == NoMessageID || sub.msgID != msgID) {
			continue
		}
		if err := safeCall(func() error { return sub.h(msgID, fields.without()) }); err != nil {
			handlerFailures.WithLabelValues("message").Inc()
			log.WithError(err).WithField("msg_id", msgID).Warn("message handler failed")
		}
	}

	if msgID != MsgStatus {
		return
	}
	event, ok := eventName(msg)
	if !ok {
		return
	}
	eventsReceived.WithLabelValues(event).Inc()
	eventFields := fields.without("type")
	for _, sub := range events {
		if !sub.all && sub.name != event {
			continue
		}
		if err := safeCall(func() error { return sub.h(event, eventFields.without()) }); err != nil {
			handlerFailures.WithLabelValues("event").Inc()
			log.WithError(err).WithField("event", event).Warn("event handler failed")
		}
	}
}

// eventName reads the type of a status message. Numbers and booleans are
// formatted, null and composite values carry no usable name.
func eventName(msg Message) (string, bool) {
	v, ok := msg["type"]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case int64, float64, bool:
		return fmt.Sprint(t), true
	}
	log.WithField("type", v).Warn("skipping status event without a scalar type")
	return "", false
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}
