package mqtt

import "log"

// pending is a formatted message waiting for the broker.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues messages while the broker is unreachable. When it is full
// the oldest unretained message is evicted first, so lifecycle events
// (STARTUP, FAULT) outlive a burst of relay events. The caller serialises
// access.
type outbox struct {
	limit   int
	msgs    []pending
	evicted int // since the last take
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, msgs: make([]pending, 0, limit)}
}

func (o *outbox) add(m pending) {
	if len(o.msgs) >= o.limit {
		if o.evicted == 0 {
			log.Printf("mqtt: outbox full (%d messages), evicting oldest", o.limit)
		}
		o.evict()
	}
	o.msgs = append(o.msgs, m)
}

// evict removes the oldest unretained message, or the oldest message when
// all of them are retained.
func (o *outbox) evict() {
	victim := 0
	for i, m := range o.msgs {
		if !m.retained {
			victim = i
			break
		}
	}
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	o.evicted++
}

// take empties the outbox, returning its messages in publish order and how
// many were evicted since the previous take.
func (o *outbox) take() ([]pending, int) {
	evicted := o.evicted
	o.evicted = 0
	if len(o.msgs) == 0 {
		return nil, evicted
	}
	out := o.msgs
	o.msgs = make([]pending, 0, o.limit)
	return out, evicted
}

func (o *outbox) size() int {
	return len(o.msgs)
}
