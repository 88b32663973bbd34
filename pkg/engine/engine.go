// Package engine implements the UDPCP connection engine: the component that
// owns the transmission table, reassembly table, message history, peer
// address, and the outbound/delivered/status queues, and drives the
// synchronization handshake and the send/receive/retry loop described by
// the protocol.
package engine

import (
	"net"
	"sync"
	"time"

	"github.com/appnet-org/udpcp/internal/history"
	"github.com/appnet-org/udpcp/internal/reassembly"
	"github.com/appnet-org/udpcp/internal/transmission"
	"github.com/appnet-org/udpcp/internal/wire"
	"github.com/appnet-org/udpcp/pkg/socket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxDatagramSize bounds a single Recv call; it must comfortably exceed any
// configured MaxPayloadSize plus the 12-octet header.
const maxDatagramSize = 65507

// Engine is a UDPCP endpoint talking to a single peer.
type Engine struct {
	sock   socket.Socket
	target net.Addr
	opts   Options
	logger *zap.Logger

	txTable *transmission.Table
	rxTable *reassembly.Table
	hist    *history.Set

	lastID    uint16
	synced    bool
	syncStart time.Time

	outbound  *queue[[]byte]
	delivered *queue[[][]byte]
	status    *queue[StatusEvent]

	statsMu sync.Mutex
	stats   Stats

	done  chan struct{}
	once  sync.Once
	grp   *errgroup.Group
	fatal chan error
}

// New creates an Engine that will exchange datagrams with targetAddr,
// binding a UDP socket at localAddr (which may be "" or ":0" to let the OS
// choose).
func New(targetAddr, localAddr string, opts ...Option) (*Engine, error) {
	o := DefaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	sock, err := socket.Listen(localAddr)
	if err != nil {
		return nil, err
	}

	target, err := socket.ResolveTarget(targetAddr)
	if err != nil {
		sock.Close()
		return nil, err
	}

	return newEngine(sock, target, o), nil
}

// newEngine builds an Engine around an already-constructed Socket, letting
// tests inject a socket.FakeSocket.
func newEngine(sock socket.Socket, target net.Addr, o Options) *Engine {
	return &Engine{
		sock:      sock,
		target:    target,
		opts:      o,
		logger:    o.Logger,
		txTable:   transmission.New(o.AckDelay, o.MaxRetries),
		rxTable:   reassembly.New(),
		hist:      history.New(),
		outbound:  newQueue[[]byte](),
		delivered: newQueue[[][]byte](),
		status:    newQueue[StatusEvent](),
		done:      make(chan struct{}),
		fatal:     make(chan error, 1),
	}
}

// Send enqueues payload on the outbound queue. The drive loop later pops it,
// splits it into fragments of at most MaxPayloadSize octets each sharing one
// messageId, and assigns that messageId at transmission time, not here.
func (e *Engine) Send(payload []byte) error {
	e.outbound.Push(payload)
	return nil
}

// TryReceive performs a non-blocking removal from the delivered queue,
// yielding the ordered fragment payloads of one complete assembled message.
func (e *Engine) TryReceive() ([][]byte, bool) {
	return e.delivered.TryPop()
}

// TryStatus performs a non-blocking removal from the status-event queue.
func (e *Engine) TryStatus() (StatusEvent, bool) {
	return e.status.TryPop()
}

// Stats returns a snapshot of the engine's operational counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := e.stats
	s.SyncComplete = e.synced
	return s
}

// Err returns the channel on which the engine signals ErrSyncFailed — the
// only fatal condition that terminates the drive loop. The channel is
// closed-over-buffered-write-once: at most one error is ever sent.
func (e *Engine) Err() <-chan error {
	return e.fatal
}

// Start launches the driver task. It returns immediately; handshake
// completion, delivery, status events, and fatal errors are all observed
// asynchronously via Stats().SyncComplete, TryReceive, TryStatus, and Err.
func (e *Engine) Start() error {
	if err := e.sock.SetReadTimeout(e.opts.ReadTimeout); err != nil {
		return err
	}

	var grp errgroup.Group
	e.grp = &grp
	grp.Go(e.run)
	return nil
}

// Stop flips the alive flag observed at the top of each drive iteration,
// then waits for the driver task to exit and the socket to close. In-flight
// unacked messages at stop time are abandoned without status events.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.done) })
	if e.grp != nil {
		e.grp.Wait()
	}
}

// run is the single driver task. It owns every piece of mutable engine
// state; nothing else touches the transmission table, reassembly table,
// message history, lastID, or the socket.
func (e *Engine) run() error {
	if e.opts.NoSync {
		e.lastID = 0
		e.synced = true
		e.logger.Debug("sync skipped", zap.Bool("noSync", true))
	} else {
		e.sendSync()
	}

	for {
		select {
		case <-e.done:
			e.sock.Close()
			return nil
		default:
		}

		e.drainInbound()

		if e.synced {
			e.drainOutbound()
		}

		if failed := e.tick(); failed {
			e.logger.Error("sync handshake failed: retries exhausted")
			e.sock.Close()
			select {
			case e.fatal <- ErrSyncFailed:
			default:
			}
			return ErrSyncFailed
		}
	}
}

// drainInbound repeatedly reads datagrams until the socket's read timeout
// expires, dispatching each to the ack or data handler.
func (e *Engine) drainInbound() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := e.sock.Recv(buf)
		if err != nil {
			if socket.IsTimeout(err) {
				return
			}
			e.logger.Warn("transport error, continuing", zap.Error(err))
			return
		}

		e.handleDatagram(buf[:n], addr)
	}
}

func (e *Engine) handleDatagram(data []byte, addr net.Addr) {
	msg, err := wire.Decode(data)
	if err != nil {
		e.logger.Debug("discarding corrupted or undersized datagram", zap.Error(err))
		return
	}

	if msg.Header.Type == wire.TypeAck {
		e.handleAck(msg.Header)
		return
	}

	e.addStats(func(s *Stats) { s.FragmentsReceived++ })
	e.handleData(msg, addr)
}

func (e *Engine) handleAck(h wire.Header) {
	if !e.synced && h.MessageID == wire.SyncMessageID {
		e.synced = true
		e.lastID = 0
		e.hist.Clear()
		// Drop the sync entry so it is not retransmitted; the sync exchange
		// itself emits no status event.
		e.txTable.OnAck(h)
		e.addStats(func(s *Stats) { s.LastSyncDuration = time.Since(e.syncStart) })
		e.logger.Info("synchronization complete", zap.Duration("duration", time.Since(e.syncStart)))
		return
	}

	events := e.txTable.OnAck(h)
	e.pushStatus(events)
}

func (e *Engine) handleData(msg wire.Message, addr net.Addr) {
	outcome := e.rxTable.OnFragment(msg.Header, msg.Payload, e.hist.Contains(msg.Header.MessageID))

	if outcome.Ack != nil {
		if outcome.Ack.Duplicate {
			e.addStats(func(s *Stats) { s.DuplicatesSuppressed++ })
		}
		encoded := wire.Encode(*outcome.Ack, nil)
		if _, err := e.sock.SendTo(encoded, addr); err != nil {
			e.logger.Warn("failed to send ack", zap.Error(err))
		}
	}

	if outcome.Delivered != nil {
		e.hist.Add(msg.Header.MessageID)
		if msg.Header.MessageID != wire.SyncMessageID {
			e.delivered.Push(outcome.Delivered)
			e.addStats(func(s *Stats) { s.MessagesDelivered++ })
		}
	}
}

// drainOutbound pops and transmits every message currently queued, assigning
// each its messageId at transmission time.
func (e *Engine) drainOutbound() {
	for {
		payload, ok := e.outbound.TryPop()
		if !ok {
			return
		}
		e.transmit(payload)
	}
}

func (e *Engine) transmit(payload []byte) {
	id := e.nextID()
	flags := wire.Flags{NoAck: e.opts.NoAck, UseChecksum: true, SingleAck: e.opts.SingleAck}
	fragments := wire.Fragment(payload, e.opts.MaxPayloadSize, id, flags)

	for _, frag := range fragments {
		encoded := wire.Encode(frag.Header, frag.Payload)
		if _, err := e.sock.SendTo(encoded, e.target); err != nil {
			e.logger.Warn("failed to send fragment", zap.Error(err))
			continue
		}
		e.addStats(func(s *Stats) { s.FragmentsSent++ })
		e.pushStatus(e.txTable.Register(frag.Header, encoded, time.Now()))
	}
}

func (e *Engine) sendSync() {
	h := wire.Header{
		Type:           wire.TypeData,
		UseChecksum:    true,
		SingleAck:      true,
		FragmentAmount: 1,
		FragmentNumber: 0,
		MessageID:      wire.SyncMessageID,
		DataLength:     0,
	}
	encoded := wire.Encode(h, nil)

	e.syncStart = time.Now()
	if _, err := e.sock.SendTo(encoded, e.target); err != nil {
		e.logger.Warn("failed to send sync message", zap.Error(err))
	}
	e.txTable.Register(h, encoded, e.syncStart)
}

// tick drives the transmission table's retry clock. It returns true when
// the sync message itself has exhausted retries while still unsynchronized
// — the one fatal condition in this protocol.
func (e *Engine) tick() bool {
	retransmissions, events := e.txTable.OnTick(time.Now())

	for _, r := range retransmissions {
		if _, err := e.sock.SendTo(r.Encoded, e.target); err != nil {
			e.logger.Warn("failed to retransmit fragment", zap.Error(err))
			continue
		}
		e.addStats(func(s *Stats) { s.FragmentsRetransmitted++ })
	}

	for _, ev := range events {
		if !e.synced && ev.MessageID == wire.SyncMessageID && ev.Kind == transmission.KindFailed {
			return true
		}
		if ev.Kind == transmission.KindFailed {
			e.addStats(func(s *Stats) { s.MessagesFailed++ })
		}
		e.status.Push(fromInternal(ev))
	}

	return false
}

func (e *Engine) pushStatus(events []transmission.StatusEvent) {
	for _, ev := range events {
		if ev.Kind == transmission.KindFailed {
			e.addStats(func(s *Stats) { s.MessagesFailed++ })
		}
		e.status.Push(fromInternal(ev))
	}
}

// nextID implements the sequence-counter rollover rule: ids are assigned
// from [1, 0xFFFE] and wrap directly from 0xFFFE back to 1, clearing message
// history, per the protocol's boundary behavior (§8).
func (e *Engine) nextID() uint16 {
	next := e.lastID + 1
	if next == 0 || next > 0xFFFE {
		next = 1
		e.hist.Clear()
	}
	e.lastID = next
	return next
}

func (e *Engine) addStats(mutate func(*Stats)) {
	e.statsMu.Lock()
	mutate(&e.stats)
	e.statsMu.Unlock()
}
