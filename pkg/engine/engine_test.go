package engine

import (
	"net"
	"testing"
	"time"

	"github.com/appnet-org/udpcp/internal/wire"
	"github.com/appnet-org/udpcp/pkg/socket"
	"github.com/stretchr/testify/require"
)

var (
	localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	peerAddr  = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40001}
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *socket.FakeSocket) {
	t.Helper()
	fake := socket.NewFakeSocket(localAddr)
	o := DefaultOptions()
	o.ReadTimeout = 5 * time.Millisecond
	o.AckDelay = 30 * time.Millisecond
	o.MaxRetries = 3
	for _, apply := range opts {
		apply(&o)
	}
	e := newEngine(fake, peerAddr, o)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e, fake
}

func awaitCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

// decodeSent decodes the n-th datagram written by the engine.
func decodeSent(t *testing.T, fake *socket.FakeSocket, n int) wire.Message {
	t.Helper()
	sent := fake.Sent()
	require.Greater(t, len(sent), n)
	msg, err := wire.Decode(sent[n].Data)
	require.NoError(t, err)
	return msg
}

func ackFor(t *testing.T, msg wire.Message, duplicate bool) []byte {
	t.Helper()
	ack := wire.MakeAck(msg.Header, duplicate)
	return wire.Encode(ack, nil)
}

func TestSyncHandshakeCompletes(t *testing.T) {
	e, fake := newTestEngine(t)

	awaitCondition(t, time.Second, func() bool { return len(fake.Sent()) >= 1 })
	sync := decodeSent(t, fake, 0)
	require.Equal(t, wire.SyncMessageID, sync.Header.MessageID)
	require.True(t, sync.Header.SingleAck)

	fake.Deliver(ackFor(t, sync, false), peerAddr)

	awaitCondition(t, time.Second, func() bool { return e.Stats().SyncComplete })
}

func TestSyncFailureExhaustsRetries(t *testing.T) {
	e, _ := newTestEngine(t, WithMaxRetries(2), func(o *Options) { o.AckDelay = 10 * time.Millisecond })

	select {
	case err := <-e.Err():
		require.ErrorIs(t, err, ErrSyncFailed)
	case <-time.After(2 * time.Second):
		require.Fail(t, "expected ErrSyncFailed before timeout")
	}
	require.False(t, e.Stats().SyncComplete)
}

// synced brings e past the handshake so outbound sends are drained.
func synced(t *testing.T, e *Engine, fake *socket.FakeSocket) {
	t.Helper()
	awaitCondition(t, time.Second, func() bool { return len(fake.Sent()) >= 1 })
	sync := decodeSent(t, fake, 0)
	fake.Deliver(ackFor(t, sync, false), peerAddr)
	awaitCondition(t, time.Second, func() bool { return e.Stats().SyncComplete })
	fake.ClearSent()
}

func TestSingleFragmentSendReceivesAck(t *testing.T) {
	e, fake := newTestEngine(t)
	synced(t, e, fake)

	require.NoError(t, e.Send([]byte("ping")))
	awaitCondition(t, time.Second, func() bool { return len(fake.Sent()) >= 1 })

	msg := decodeSent(t, fake, 0)
	require.Equal(t, []byte("ping"), msg.Payload)
	require.EqualValues(t, 1, msg.Header.FragmentAmount)

	fake.Deliver(ackFor(t, msg, false), peerAddr)

	awaitCondition(t, time.Second, func() bool {
		ev, ok := e.TryStatus()
		if !ok {
			return false
		}
		require.Equal(t, StatusSent, ev.Kind)
		require.Equal(t, CauseAck, ev.Cause)
		return true
	})
}

func TestThreeFragmentInboundSingleAck(t *testing.T) {
	e, fake := newTestEngine(t)
	synced(t, e, fake)

	id := uint16(7)
	flags := wire.Flags{UseChecksum: true, SingleAck: true}
	fragments := wire.Fragment([]byte("abcdefghi"), 3, id, flags)
	require.Len(t, fragments, 3)

	for _, frag := range fragments {
		fake.Deliver(wire.Encode(frag.Header, frag.Payload), peerAddr)
	}

	awaitCondition(t, time.Second, func() bool {
		_, ok := e.TryReceive()
		return ok
	})

	// Only one ack should have been sent for the whole message.
	awaitCondition(t, 200*time.Millisecond, func() bool { return len(fake.Sent()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	require.Len(t, fake.Sent(), 1)
	ack := decodeSent(t, fake, 0)
	require.Equal(t, wire.TypeAck, ack.Header.Type)
	require.Equal(t, id, ack.Header.MessageID)
}

func TestThreeFragmentInboundPerFragmentAck(t *testing.T) {
	e, fake := newTestEngine(t)
	synced(t, e, fake)

	id := uint16(9)
	flags := wire.Flags{UseChecksum: true, SingleAck: false}
	fragments := wire.Fragment([]byte("abcdefghi"), 3, id, flags)
	require.Len(t, fragments, 3)

	for _, frag := range fragments {
		fake.Deliver(wire.Encode(frag.Header, frag.Payload), peerAddr)
	}

	awaitCondition(t, time.Second, func() bool {
		_, ok := e.TryReceive()
		return ok
	})

	awaitCondition(t, time.Second, func() bool { return len(fake.Sent()) >= 3 })
}

func TestOutboundRetransmitsOnMissingAck(t *testing.T) {
	e, fake := newTestEngine(t, WithAckDelay(15*time.Millisecond))
	synced(t, e, fake)

	require.NoError(t, e.Send([]byte("x")))
	awaitCondition(t, time.Second, func() bool { return len(fake.Sent()) >= 1 })

	awaitCondition(t, time.Second, func() bool { return len(fake.Sent()) >= 2 })

	first := decodeSent(t, fake, 0)
	second := decodeSent(t, fake, 1)
	require.Equal(t, first.Header.MessageID, second.Header.MessageID)
	require.True(t, e.Stats().FragmentsRetransmitted >= 1)
}

func TestNextIDWrapsPastFFFEAndClearsHistory(t *testing.T) {
	fake := socket.NewFakeSocket(localAddr)
	e := newEngine(fake, peerAddr, DefaultOptions())

	e.lastID = 0xFFFD
	require.EqualValues(t, 0xFFFE, e.nextID())

	e.hist.Add(0x1234)
	require.True(t, e.hist.Contains(0x1234))

	require.EqualValues(t, 1, e.nextID(), "id following 0xFFFE must be 1, not 0")
	require.False(t, e.hist.Contains(0x1234), "message history must be cleared on rollover")
	require.EqualValues(t, 1, e.lastID)

	require.EqualValues(t, 2, e.nextID(), "ids continue normally after the wrap")
}

func TestDuplicateInboundSuppressed(t *testing.T) {
	e, fake := newTestEngine(t)
	synced(t, e, fake)

	id := uint16(3)
	flags := wire.Flags{UseChecksum: true, SingleAck: true}
	fragments := wire.Fragment([]byte("hi"), 64, id, flags)
	msg := fragments[0]
	enc := wire.Encode(msg.Header, msg.Payload)

	fake.Deliver(enc, peerAddr)
	awaitCondition(t, time.Second, func() bool {
		_, ok := e.TryReceive()
		return ok
	})

	fake.ClearSent()
	fake.Deliver(enc, peerAddr)

	awaitCondition(t, time.Second, func() bool { return e.Stats().DuplicatesSuppressed >= 1 })
	_, ok := e.TryReceive()
	require.False(t, ok, "duplicate must not be delivered twice")
}
