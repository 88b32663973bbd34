// Package transmission implements the UDPCP transmission table: the set of
// outbound fragments awaiting acknowledgement, and the timed-retransmission
// policy over them.
//
// The table is not safe for concurrent use. Per the protocol's concurrency
// model, it is owned exclusively by the connection engine's single driver
// task — no intra-table locking is needed or provided.
package transmission

import (
	"time"

	"github.com/appnet-org/udpcp/internal/wire"
)

// StatusEvent mirrors the engine-facing (kind, cause, messageId) tuple
// described by the protocol's status-event stream.
type StatusEvent struct {
	Kind      string // "sent" or "failed"
	Cause     string // "ack" or "no-ack"
	MessageID uint16
}

const (
	KindSent   = "sent"
	KindFailed = "failed"

	CauseAck   = "ack"
	CauseNoAck = "no-ack"
)

type key struct {
	messageID      uint16
	fragmentNumber uint8
}

type entry struct {
	encoded        []byte
	deadline       time.Time
	retries        int
	singleAck      bool
	fragmentAmount uint8
}

// Table tracks in-flight fragments keyed by (messageId, fragmentNumber).
type Table struct {
	entries    map[key]*entry
	ackDelay   time.Duration
	maxRetries int
}

// New creates an empty transmission table with the given retry policy.
func New(ackDelay time.Duration, maxRetries int) *Table {
	return &Table{
		entries:    make(map[key]*entry),
		ackDelay:   ackDelay,
		maxRetries: maxRetries,
	}
}

// Register records a freshly-sent fragment for retransmission tracking. If
// the fragment's header requests no acknowledgement, it emits a
// ("sent","no-ack",id) status event instead and is not tracked further.
func (t *Table) Register(h wire.Header, encoded []byte, now time.Time) []StatusEvent {
	if h.NoAck {
		return []StatusEvent{{Kind: KindSent, Cause: CauseNoAck, MessageID: h.MessageID}}
	}

	k := key{messageID: h.MessageID, fragmentNumber: h.FragmentNumber}
	t.entries[k] = &entry{
		encoded:        encoded,
		deadline:       now.Add(t.ackDelay),
		retries:        0,
		singleAck:      h.SingleAck,
		fragmentAmount: h.FragmentAmount,
	}
	return nil
}

// Retransmission is one fragment's encoded bytes due for resend.
type Retransmission struct {
	MessageID      uint16
	FragmentNumber uint8
	Encoded        []byte
}

// OnTick advances the retry clock. Every entry whose deadline has elapsed is
// either retransmitted (if under maxRetries, with its deadline and retry
// count bumped) or dropped with a ("failed","ack",id) status event.
func (t *Table) OnTick(now time.Time) ([]Retransmission, []StatusEvent) {
	var retransmissions []Retransmission
	var events []StatusEvent

	for k, e := range t.entries {
		if e.deadline.After(now) {
			continue
		}

		if e.retries < t.maxRetries {
			e.retries++
			e.deadline = now.Add(t.ackDelay)
			retransmissions = append(retransmissions, Retransmission{
				MessageID:      k.messageID,
				FragmentNumber: k.fragmentNumber,
				Encoded:        e.encoded,
			})
			continue
		}

		delete(t.entries, k)
		events = append(events, StatusEvent{Kind: KindFailed, Cause: CauseAck, MessageID: k.messageID})
	}

	return retransmissions, events
}

// OnAck applies a received ACK header to the table. An ack for an entry that
// no longer exists (stale or duplicate) is ignored. A single-ack message
// clears every fragment of that messageId at once; a per-fragment-ack
// message clears only the acked fragment, emitting the "sent" status event
// once the last fragment of that messageId is cleared.
func (t *Table) OnAck(h wire.Header) []StatusEvent {
	k := key{messageID: h.MessageID, fragmentNumber: h.FragmentNumber}
	e, ok := t.entries[k]
	if !ok {
		return nil
	}

	if e.singleAck {
		for n := uint8(0); n < e.fragmentAmount; n++ {
			delete(t.entries, key{messageID: h.MessageID, fragmentNumber: n})
		}
		return []StatusEvent{{Kind: KindSent, Cause: CauseAck, MessageID: h.MessageID}}
	}

	delete(t.entries, k)
	if !t.hasAny(h.MessageID) {
		return []StatusEvent{{Kind: KindSent, Cause: CauseAck, MessageID: h.MessageID}}
	}
	return nil
}

func (t *Table) hasAny(messageID uint16) bool {
	for k := range t.entries {
		if k.messageID == messageID {
			return true
		}
	}
	return false
}

// Len reports the number of fragments currently tracked, across all messages.
func (t *Table) Len() int {
	return len(t.entries)
}

// HasMessage reports whether any fragment of messageID is still tracked.
func (t *Table) HasMessage(messageID uint16) bool {
	return t.hasAny(messageID)
}
