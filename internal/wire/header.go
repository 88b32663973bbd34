// Package wire implements the UDPCP on-wire header codec: a fixed 12-octet,
// big-endian header plus an opaque payload slice, with an Adler-32 checksum
// over the full datagram.
package wire

import (
	"encoding/binary"
	"errors"
	"hash/adler32"
)

// HeaderSize is the fixed size, in octets, of a UDPCP header.
const HeaderSize = 12

// MessageType is the 2-bit message-type tag carried in the header.
type MessageType uint8

const (
	TypeData MessageType = 1
	TypeAck  MessageType = 2
)

// Version is the fixed 3-bit protocol version encoded in every header.
const Version uint8 = 2

// SyncMessageID is the reserved messageId used by the synchronization handshake.
const SyncMessageID uint16 = 0

// ErrShortBuffer is returned by Decode when the buffer is shorter than HeaderSize.
var ErrShortBuffer = errors.New("wire: buffer shorter than header size")

// ErrCorrupted is returned by Decode when the checksum does not match within tolerance.
var ErrCorrupted = errors.New("wire: checksum mismatch")

// Header is the 12-octet UDPCP header, decoded into its logical fields.
type Header struct {
	Checksum       uint32
	Type           MessageType
	Version        uint8
	NoAck          bool
	UseChecksum    bool
	SingleAck      bool
	Duplicate      bool
	FragmentAmount uint8
	FragmentNumber uint8
	MessageID      uint16
	DataLength     uint16
}

// Message is a decoded (header, payload-slice) pair. For a fragment, Payload
// is that fragment's slice; Header.DataLength reports the full logical
// payload length across all fragments of the message.
type Message struct {
	Header  Header
	Payload []byte
}

// Encode serializes h and payload into a single buffer. When h.UseChecksum is
// true, the checksum field is computed over the entire buffer with the
// checksum field itself treated as zero, then spliced into octets 0-3.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, h)
	copy(buf[HeaderSize:], payload)

	if h.UseChecksum {
		sum := checksum(buf)
		binary.BigEndian.PutUint32(buf[0:4], sum)
	}

	return buf
}

// Decode parses buf into a Message. It rejects buffers shorter than
// HeaderSize. When the header's UseChecksum flag is set, the checksum is
// recomputed over buf with the checksum field zeroed and compared against
// the stored value; because of the zero-avoidance normalization applied by
// checksum, a difference of at most 1 is tolerated.
func Decode(buf []byte) (Message, error) {
	if len(buf) < HeaderSize {
		return Message{}, ErrShortBuffer
	}

	h := getHeader(buf)

	if h.UseChecksum {
		scratch := make([]byte, len(buf))
		copy(scratch, buf)
		binary.BigEndian.PutUint32(scratch[0:4], 0)
		computed := checksum(scratch)

		if diff := int64(h.Checksum) - int64(computed); diff > 1 || diff < -1 {
			return Message{}, ErrCorrupted
		}
	}

	payload := buf[HeaderSize:]
	return Message{Header: h, Payload: payload}, nil
}

// putHeader writes all header fields (with the checksum field left as
// whatever h.Checksum currently is; Encode overwrites it afterward when
// UseChecksum is set).
func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Checksum)

	var flags byte
	flags |= byte(h.Type&0x3) << 6
	flags |= byte(Version&0x7) << 3
	if h.NoAck {
		flags |= 1 << 2
	}
	if h.UseChecksum {
		flags |= 1 << 1
	}
	if h.SingleAck {
		flags |= 1
	}
	buf[4] = flags

	var b5 byte
	if h.Duplicate {
		b5 |= 1 << 7
	}
	buf[5] = b5

	buf[6] = h.FragmentAmount
	buf[7] = h.FragmentNumber
	binary.BigEndian.PutUint16(buf[8:10], h.MessageID)
	binary.BigEndian.PutUint16(buf[10:12], h.DataLength)
}

func getHeader(buf []byte) Header {
	h := Header{}
	h.Checksum = binary.BigEndian.Uint32(buf[0:4])

	flags := buf[4]
	h.Type = MessageType((flags >> 6) & 0x3)
	h.Version = (flags >> 3) & 0x7
	h.NoAck = flags&(1<<2) != 0
	h.UseChecksum = flags&(1<<1) != 0
	h.SingleAck = flags&1 != 0

	b5 := buf[5]
	h.Duplicate = b5&(1<<7) != 0

	h.FragmentAmount = buf[6]
	h.FragmentNumber = buf[7]
	h.MessageID = binary.BigEndian.Uint16(buf[8:10])
	h.DataLength = binary.BigEndian.Uint16(buf[10:12])

	return h
}

// checksum computes Adler-32 over buf, normalizing away the all-zero result
// (which would otherwise be indistinguishable from UseChecksum=false).
func checksum(buf []byte) uint32 {
	sum := adler32.Checksum(buf)
	if sum%0xFFFFFFFF == 0 {
		return (sum % 0xFFFFFFFF) + 1
	}
	return sum
}

// MakeAck builds the ACK header for a received DATA message. The caller
// supplies whether the inbound fragment was detected as a duplicate.
func MakeAck(in Header, duplicate bool) Header {
	return Header{
		Type:           TypeAck,
		UseChecksum:    in.UseChecksum,
		NoAck:          true,
		SingleAck:      true,
		Duplicate:      duplicate,
		FragmentAmount: in.FragmentAmount,
		FragmentNumber: in.FragmentNumber,
		MessageID:      in.MessageID,
		DataLength:     0,
	}
}
