package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Type:           TypeData,
		UseChecksum:    true,
		NoAck:          false,
		SingleAck:      true,
		FragmentAmount: 3,
		FragmentNumber: 1,
		MessageID:      42,
		DataLength:     12,
	}
	payload := []byte("2222")

	buf := Encode(h, payload)
	msg, err := Decode(buf)
	require.NoError(t, err)

	require.Equal(t, h.Type, msg.Header.Type)
	require.Equal(t, h.SingleAck, msg.Header.SingleAck)
	require.Equal(t, h.FragmentAmount, msg.Header.FragmentAmount)
	require.Equal(t, h.FragmentNumber, msg.Header.FragmentNumber)
	require.Equal(t, h.MessageID, msg.Header.MessageID)
	require.Equal(t, h.DataLength, msg.Header.DataLength)
	require.Equal(t, payload, msg.Payload)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, 11))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	h := Header{Type: TypeData, UseChecksum: true, MessageID: 1, FragmentAmount: 1}
	buf := Encode(h, []byte("hello"))

	// Flip a payload byte so the checksum no longer matches.
	buf[len(buf)-1] ^= 0xFF

	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestChecksumNeverZero(t *testing.T) {
	// A zero checksum field is the disabled-checksum encoding; verify the
	// field is non-zero whenever UseChecksum is set, even for an empty
	// payload with most header fields zero.
	h := Header{Type: TypeData, UseChecksum: true}
	buf := Encode(h, nil)
	sum := buf[0:4]
	require.False(t, sum[0] == 0 && sum[1] == 0 && sum[2] == 0 && sum[3] == 0)
}

func TestUseChecksumFalseLeavesFieldZero(t *testing.T) {
	h := Header{Type: TypeData, UseChecksum: false}
	buf := Encode(h, []byte("payload"))
	require.Equal(t, []byte{0, 0, 0, 0}, buf[0:4])

	msg, err := Decode(buf)
	require.NoError(t, err)
	require.False(t, msg.Header.UseChecksum)
}

func TestMakeAck(t *testing.T) {
	in := Header{
		Type:           TypeData,
		FragmentAmount: 2,
		FragmentNumber: 1,
		MessageID:      7,
		UseChecksum:    true,
	}

	ack := MakeAck(in, true)
	require.Equal(t, TypeAck, ack.Type)
	require.True(t, ack.NoAck)
	require.True(t, ack.SingleAck)
	require.True(t, ack.Duplicate)
	require.Equal(t, in.MessageID, ack.MessageID)
	require.Equal(t, in.FragmentNumber, ack.FragmentNumber)
	require.Equal(t, in.FragmentAmount, ack.FragmentAmount)
	require.Equal(t, uint16(0), ack.DataLength)
}
