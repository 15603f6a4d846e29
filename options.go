package coaptcp

import (
	"encoding/binary"
	"sort"
)

// Well-known option numbers.
const (
	// OptionURIHost and OptionURIPort locate the request destination.
	OptionURIHost = 3
	OptionURIPort = 7

	// OptionMaxMessageSize and OptionBlockWiseTransfer are carried by
	// CSM frames. OptionBadCSMOption is carried by Abort frames to name
	// the option that caused the abort.
	OptionMaxMessageSize    = 2
	OptionBlockWiseTransfer = 4
	OptionBadCSMOption      = 2
)

// MessageOption is a single option value attached to a message.
type MessageOption struct {
	Number uint16
	Value  []byte
}

// Critical reports whether an unrecognized option with this number must
// cause rejection rather than silent skip. By convention the low bit of
// the option number marks criticality.
func (o MessageOption) Critical() bool {
	return o.Number&1 == 1
}

// Uint decodes the option value as a big-endian unsigned integer.
func (o MessageOption) Uint() uint64 {
	var v uint64
	for _, b := range o.Value {
		v = v<<8 | uint64(b)
	}
	return v
}

// UintOption constructs an option holding a minimally-encoded big-endian
// unsigned integer. A zero value encodes as an empty option value.
func UintOption(number uint16, value uint64) MessageOption {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	i := 0
	for i < 8 && buf[i] == 0 {
		i++
	}
	return MessageOption{Number: number, Value: buf[i:]}
}

// StringOption constructs an option holding a UTF-8 string value.
func StringOption(number uint16, value string) MessageOption {
	return MessageOption{Number: number, Value: []byte(value)}
}

// Options is an ordered option list.
type Options []MessageOption

// Get returns the first option with the given number.
func (opts Options) Get(number uint16) (MessageOption, bool) {
	for _, o := range opts {
		if o.Number == number {
			return o, true
		}
	}
	return MessageOption{}, false
}

// OptionCodec converts between an option list plus payload and the
// options+payload byte region of a frame. The framing codec treats the
// region as opaque and delegates it entirely to this interface.
type OptionCodec interface {
	// Encode serializes the option list followed, for a non-empty
	// payload, by the 0xFF marker and the payload bytes.
	Encode(opts Options, payload []byte) ([]byte, error)
	// Decode parses the options+payload region back into an option
	// list and payload.
	Decode(data []byte) (Options, []byte, error)
}

// payloadMarker separates the option list from the payload.
const payloadMarker = 0xff

// wireOptionCodec implements the standard CoAP option wire encoding:
// per option one byte of delta and length nibbles, each nibble extended
// by one byte (+13) or two bytes (+269) when 13 or 14.
type wireOptionCodec struct{}

// DefaultOptionCodec returns the standard CoAP option-region codec.
func DefaultOptionCodec() OptionCodec {
	return wireOptionCodec{}
}

func encodeOptionNibble(v uint32) (nibble byte, ext []byte) {
	switch {
	case v < 13:
		return byte(v), nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ext = make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-269))
		return 14, ext
	}
}

func (wireOptionCodec) Encode(opts Options, payload []byte) ([]byte, error) {
	sorted := make(Options, len(opts))
	copy(sorted, opts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	var out []byte
	prev := uint32(0)
	for _, o := range sorted {
		delta := uint32(o.Number) - prev
		prev = uint32(o.Number)

		dn, dext := encodeOptionNibble(delta)
		ln, lext := encodeOptionNibble(uint32(len(o.Value)))
		out = append(out, dn<<4|ln)
		out = append(out, dext...)
		out = append(out, lext...)
		out = append(out, o.Value...)
	}

	if len(payload) > 0 {
		out = append(out, payloadMarker)
		out = append(out, payload...)
	}
	return out, nil
}

func decodeOptionNibble(nibble byte, data []byte) (value uint32, rest []byte, err error) {
	switch nibble {
	case 15:
		return 0, nil, ErrUnparsableMessage
	case 14:
		if len(data) < 2 {
			return 0, nil, ErrUnparsableMessage
		}
		return uint32(binary.BigEndian.Uint16(data)) + 269, data[2:], nil
	case 13:
		if len(data) < 1 {
			return 0, nil, ErrUnparsableMessage
		}
		return uint32(data[0]) + 13, data[1:], nil
	default:
		return uint32(nibble), data, nil
	}
}

func (wireOptionCodec) Decode(data []byte) (Options, []byte, error) {
	var opts Options
	number := uint32(0)

	for len(data) > 0 {
		if data[0] == payloadMarker {
			if len(data) == 1 {
				// A marker with no payload behind it is malformed.
				return nil, nil, ErrUnparsableMessage
			}
			return opts, data[1:], nil
		}

		dn := data[0] >> 4
		ln := data[0] & 0x0f
		data = data[1:]

		delta, rest, err := decodeOptionNibble(dn, data)
		if err != nil {
			return nil, nil, err
		}
		length, rest, err := decodeOptionNibble(ln, rest)
		if err != nil {
			return nil, nil, err
		}
		if uint32(len(rest)) < length {
			return nil, nil, ErrUnparsableMessage
		}

		number += delta
		if number > 0xffff {
			return nil, nil, ErrUnparsableMessage
		}
		value := make([]byte, length)
		copy(value, rest[:length])
		opts = append(opts, MessageOption{Number: uint16(number), Value: value})
		data = rest[length:]
	}

	return opts, nil, nil
}
