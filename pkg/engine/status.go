package engine

import (
	"time"

	"github.com/appnet-org/udpcp/internal/transmission"
)

// Status kinds and causes, mirrored from the transmission table's internal
// vocabulary so callers of this package never need to import internal/.
const (
	StatusSent   = transmission.KindSent
	StatusFailed = transmission.KindFailed

	CauseAck   = transmission.CauseAck
	CauseNoAck = transmission.CauseNoAck
)

// StatusEvent is the engine-facing (kind, cause, messageId) tuple described
// by the protocol's status-event stream.
type StatusEvent struct {
	Kind      string
	Cause     string
	MessageID uint16
}

func fromInternal(e transmission.StatusEvent) StatusEvent {
	return StatusEvent{Kind: e.Kind, Cause: e.Cause, MessageID: e.MessageID}
}

// Stats is a point-in-time snapshot of the engine's operational counters.
// These are purely observational — never placed on the wire and never
// gating protocol behavior.
type Stats struct {
	FragmentsSent          uint64
	FragmentsReceived      uint64
	FragmentsRetransmitted uint64
	MessagesDelivered      uint64
	MessagesFailed         uint64
	DuplicatesSuppressed   uint64
	SyncComplete           bool
	// LastSyncDuration is the time from the sync message's first send to its
	// ack, valid only once SyncComplete is true.
	LastSyncDuration time.Duration
}
