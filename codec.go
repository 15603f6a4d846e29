package coaptcp

import "encoding/binary"

// Length-code thresholds of the stream framing. A length nibble below 13
// is the body length itself; 13, 14 and 15 announce an extended length
// field of 1, 2 or 4 bytes holding the body length minus the offset.
const (
	lenNibble8  = 13
	lenNibble16 = 14
	lenNibble32 = 15

	lenOffset8  = 13
	lenOffset16 = 269
	lenOffset32 = 65805
)

// measureFrame inspects the bytes accumulated so far and determines
// whether a complete length prefix is present. It returns the offset of
// the first token byte (the code byte sits immediately before it), the
// token length, and the body length (options region plus payload). The
// total frame length is tokenOffset + tokenLen + bodyLen. ok is false
// while the buffer is too short to read the full prefix; that is not an
// error, the caller waits for more bytes.
//
// measureFrame allocates nothing and is safe to call repeatedly on the
// same growing buffer.
func measureFrame(data []byte) (tokenOffset, tokenLen, bodyLen int, ok bool) {
	if len(data) == 0 {
		return 0, 0, 0, false
	}

	l := int(data[0] >> 4)
	tkl := int(data[0] & 0x0f)
	tokenOffset = 2

	if l >= lenNibble8 {
		var extLen, offset int
		switch l {
		case lenNibble8:
			extLen, offset = 1, lenOffset8
		case lenNibble16:
			extLen, offset = 2, lenOffset16
		default:
			extLen, offset = 4, lenOffset32
		}
		if len(data) < 1+extLen {
			return 0, 0, 0, false
		}
		ext := 0
		for _, b := range data[1 : 1+extLen] {
			ext = ext<<8 | int(b)
		}
		tokenOffset = 2 + extLen
		l = ext + offset
	}

	return tokenOffset, tkl, l, true
}

// decodeFrame decodes one complete frame. data must hold exactly the
// frame length computed by measureFrame. The options+payload region is
// delegated to the option codec.
func decodeFrame(data []byte, oc OptionCodec) (*Message, error) {
	tokenOffset, tkl, _, ok := measureFrame(data)
	if !ok {
		return nil, ErrUnparsableMessage
	}
	if tkl > maxTokenLength {
		return nil, ErrUnparsableMessage
	}
	if len(data) < tokenOffset+tkl {
		return nil, ErrUnparsableMessage
	}

	msg := &Message{
		Code:  Code(data[tokenOffset-1]),
		Token: append([]byte(nil), data[tokenOffset:tokenOffset+tkl]...),
	}

	opts, payload, err := oc.Decode(data[tokenOffset+tkl:])
	if err != nil {
		return nil, ErrUnparsableMessage
	}
	msg.Options = opts
	msg.Payload = payload
	return msg, nil
}

// encodeLength computes the length nibble and extended-length bytes for
// a body of n bytes. It is the exact inverse of the arithmetic in
// measureFrame.
func encodeLength(n int) (nibble byte, ext []byte) {
	switch {
	case n < lenOffset8:
		return byte(n), nil
	case n < lenOffset16:
		return lenNibble8, []byte{byte(n - lenOffset8)}
	case n < lenOffset32:
		ext = make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(n-lenOffset16))
		return lenNibble16, ext
	default:
		ext = make([]byte, 4)
		binary.BigEndian.PutUint32(ext, uint32(n-lenOffset32))
		return lenNibble32, ext
	}
}

// encodeFrame serializes a message into its on-wire frame.
func encodeFrame(msg *Message, oc OptionCodec) ([]byte, error) {
	if len(msg.Token) > maxTokenLength {
		return nil, ErrTokenTooLong
	}

	body, err := oc.Encode(msg.Options, msg.Payload)
	if err != nil {
		return nil, err
	}

	nibble, ext := encodeLength(len(body))

	frame := make([]byte, 0, 2+len(ext)+len(msg.Token)+len(body))
	frame = append(frame, nibble<<4|byte(len(msg.Token)))
	frame = append(frame, ext...)
	frame = append(frame, byte(msg.Code))
	frame = append(frame, msg.Token...)
	frame = append(frame, body...)
	return frame, nil
}
