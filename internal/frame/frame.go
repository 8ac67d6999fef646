// Package frame implements the three wire framings that carry SHV
// messages across stream and packet media: length-prefixed Stream,
// byte-stuffed Serial, and WebSocket binary messages. All three
// present the same Framer interface to internal/rpcpeer, which reads
// a connection through one reader loop regardless of which framing
// is in play -- the same shape internal/meshage's clientHandler and
// internal/minitunnel's Tunnel give their own single message type,
// generalized here to three wire encodings of one logical frame.
package frame

import "errors"

// Kind identifies which protocol indicator tags a frame's payload.
type Kind byte

const (
	ChainPack Kind = 0x01
	Cpon      Kind = 0x02
)

// resetByte is the single-byte Reset control payload.
const resetByte = 0x00

// ErrReset is returned by Framer.ReadFrame when the frame read was a
// Reset control message rather than a message payload.
var ErrReset = errors.New("frame: reset")

// Framer reads and writes framed SHV messages over one connection.
// Payload always includes the leading protocol-indicator byte;
// callers peel it off before handing the rest to a codec.
type Framer interface {
	ReadFrame() (payload []byte, err error)
	WriteFrame(payload []byte) error
	WriteReset() error
}

// SplitProtocol separates the leading protocol indicator from the
// codec bytes that follow it.
func SplitProtocol(payload []byte) (Kind, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, errors.New("frame: empty payload")
	}
	k := Kind(payload[0])
	if k != ChainPack && k != Cpon {
		return 0, nil, errors.New("frame: unknown protocol indicator")
	}
	return k, payload[1:], nil
}

// WithProtocol prepends k's indicator byte to body.
func WithProtocol(k Kind, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(k))
	out = append(out, body...)
	return out
}
