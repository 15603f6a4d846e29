package coaptcp

// Code is a CoAP message code: a 3-bit class and a 5-bit detail packed
// into one byte. Class 0 carries requests, classes 2-5 carry responses,
// and class 7 is reserved for connection signaling.
type Code byte

// Signaling codes used by the connection-management sub-protocol
// (RFC 8323 section 5).
const (
	CodeEmpty   Code = 0
	CodeCSM     Code = 7<<5 | 1 // 7.01 capability and settings
	CodePing    Code = 7<<5 | 2 // 7.02
	CodePong    Code = 7<<5 | 3 // 7.03
	CodeRelease Code = 7<<5 | 4 // 7.04
	CodeAbort   Code = 7<<5 | 5 // 7.05
)

// Class returns the 3-bit code class.
func (c Code) Class() int {
	return int(c >> 5)
}

// Detail returns the 5-bit code detail.
func (c Code) Detail() int {
	return int(c & 0x1f)
}

// IsRequest reports whether the code is in the request class.
func (c Code) IsRequest() bool {
	return c.Class() == 0 && c != CodeEmpty
}

// IsResponse reports whether the code is in one of the response classes.
func (c Code) IsResponse() bool {
	class := c.Class()
	return class >= 2 && class <= 5
}

// IsSignaling reports whether the code belongs to the connection
// signaling class.
func (c Code) IsSignaling() bool {
	return c.Class() == 7
}

// maxTokenLength is the longest token the wire format can carry.
const maxTokenLength = 8

// Message is one application or signaling message carried over a
// connection. Token is an opaque correlation id of at most 8 bytes.
// Remote is set on decoded messages to the connection they arrived on,
// and may be set on outgoing messages to pin them to a known connection.
type Message struct {
	Code    Code
	Token   []byte
	Options Options
	Payload []byte

	// Remote is the connection this message is bound to.
	Remote *Conn

	// UnresolvedRemote is an authority string ("host:port", port
	// optional) used by the client pool to derive a destination when
	// Remote is not set.
	UnresolvedRemote string
}

// NewMessage constructs a message with the given code and token.
func NewMessage(code Code, token []byte) *Message {
	return &Message{Code: code, Token: token}
}
