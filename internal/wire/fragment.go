package wire

// Flags carries the sender-controlled header bits that apply uniformly to
// every fragment of one logical message.
type Flags struct {
	NoAck       bool
	UseChecksum bool
	SingleAck   bool
}

// Fragment splits payload into a list of DATA messages of at most maxSize
// octets of payload each, all sharing messageID, with correct
// FragmentNumber/FragmentAmount/DataLength. A zero-length payload yields a
// single fragment with an empty payload slice, per spec.
func Fragment(payload []byte, maxSize int, messageID uint16, flags Flags) []Message {
	total := len(payload)

	amount := 1
	if total > 0 {
		amount = (total + maxSize - 1) / maxSize
	}
	if amount > 255 {
		amount = 255 // FragmentAmount is a single octet; callers must keep within this.
	}

	messages := make([]Message, 0, amount)
	for i := 0; i < amount; i++ {
		start := i * maxSize
		end := start + maxSize
		if end > total {
			end = total
		}

		h := Header{
			Type:           TypeData,
			UseChecksum:    flags.UseChecksum,
			NoAck:          flags.NoAck,
			SingleAck:      flags.SingleAck,
			FragmentAmount: uint8(amount),
			FragmentNumber: uint8(i),
			MessageID:      messageID,
			DataLength:     uint16(total),
		}

		messages = append(messages, Message{Header: h, Payload: payload[start:end]})
	}

	return messages
}
