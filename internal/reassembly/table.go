// Package reassembly implements the UDPCP reassembly table: accumulation of
// inbound fragments into complete logical messages, keyed by messageId.
//
// Like the transmission table, this is owned exclusively by the connection
// engine's single driver task and is not safe for concurrent use.
package reassembly

import "github.com/appnet-org/udpcp/internal/wire"

type entry struct {
	fragmentAmount uint8
	slots          [][]byte
	bits           *bitset
	singleAck      bool
}

// Table accumulates fragments of incoming multi-fragment messages.
type Table struct {
	entries map[uint16]*entry
}

// New creates an empty reassembly table.
func New() *Table {
	return &Table{entries: make(map[uint16]*entry)}
}

// Outcome describes what a caller must do in response to one inbound
// fragment: optionally send Ack, and optionally (once) deliver Delivered —
// the ordered fragment payloads of a message that just completed.
type Outcome struct {
	Ack       *wire.Header
	Delivered [][]byte
	MessageID uint16
}

// OnFragment processes one inbound DATA fragment. historyHas reports
// whether messageId is already present in the caller's message-history set
// (step 1 of the spec's algorithm); the caller is responsible for consulting
// and, on a completed Outcome, updating that set — history itself is not
// owned by this table.
func (t *Table) OnFragment(h wire.Header, payload []byte, historyHas bool) Outcome {
	if historyHas {
		ack := wire.MakeAck(h, true)
		return Outcome{Ack: &ack, MessageID: h.MessageID}
	}

	e, ok := t.entries[h.MessageID]
	if !ok {
		e = &entry{
			fragmentAmount: h.FragmentAmount,
			slots:          make([][]byte, h.FragmentAmount),
			bits:           newBitset(uint32(h.FragmentAmount)),
			singleAck:      h.SingleAck,
		}
		t.entries[h.MessageID] = e
	}

	if e.bits.get(uint32(h.FragmentNumber)) {
		ack := wire.MakeAck(h, true)
		return Outcome{Ack: &ack, MessageID: h.MessageID}
	}

	e.slots[h.FragmentNumber] = payload
	e.bits.set(uint32(h.FragmentNumber))
	// All fragments of a message are expected to carry the same SingleAck
	// flag; the spec leaves mixed-flag behavior undefined and recommends
	// using the arriving fragment's flag.
	e.singleAck = h.SingleAck

	var ack *wire.Header
	if !h.SingleAck {
		a := wire.MakeAck(h, false)
		ack = &a
	}

	if e.bits.popCount() != uint32(e.fragmentAmount) {
		return Outcome{Ack: ack, MessageID: h.MessageID}
	}

	delivered := make([][]byte, e.fragmentAmount)
	copy(delivered, e.slots)
	delete(t.entries, h.MessageID)

	if e.singleAck {
		standIn := h
		standIn.FragmentNumber = 0
		a := wire.MakeAck(standIn, false)
		ack = &a
	}

	return Outcome{Ack: ack, Delivered: delivered, MessageID: h.MessageID}
}

// Len reports the number of messages currently mid-assembly.
func (t *Table) Len() int {
	return len(t.entries)
}
