package frame

import (
	"errors"
	"net/http"

	"golang.org/x/net/websocket"
)

// Subprotocol is the WebSocket subprotocol SHV peers negotiate.
const Subprotocol = "shv3"

// WebSocketFramer frames messages as WebSocket binary messages. Each
// ReadFrame/WriteFrame call corresponds to exactly one WebSocket
// message; there is no length prefix or byte-stuffing, since the
// WebSocket layer already delimits messages.
type WebSocketFramer struct {
	ws *websocket.Conn
}

// NewWebSocketFramer wraps an already-handshaken connection.
func NewWebSocketFramer(ws *websocket.Conn) *WebSocketFramer {
	return &WebSocketFramer{ws: ws}
}

func (f *WebSocketFramer) ReadFrame() ([]byte, error) {
	for {
		var payload []byte
		var payloadType byte
		codec := websocket.Codec{Unmarshal: func(data []byte, pt byte, _ interface{}) error {
			payload, payloadType = data, pt
			return nil
		}}
		if err := codec.Receive(f.ws, nil); err != nil {
			return nil, err
		}
		// Text messages are discarded; only binary messages carry
		// SHV frames.
		if payloadType != websocket.BinaryFrame {
			continue
		}
		if len(payload) == 1 && payload[0] == resetByte {
			return nil, ErrReset
		}
		if len(payload) == 0 {
			continue
		}
		return payload, nil
	}
}

func (f *WebSocketFramer) WriteFrame(payload []byte) error {
	return websocket.Message.Send(f.ws, payload)
}

func (f *WebSocketFramer) WriteReset() error {
	return f.WriteFrame([]byte{resetByte})
}

// DialWebSocket connects to url, negotiating the shv3 subprotocol.
func DialWebSocket(url, origin string) (*websocket.Conn, error) {
	config, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, err
	}
	config.Protocol = []string{Subprotocol}
	return websocket.DialConfig(config)
}

// Handshake is a websocket.Server Handshake callback that accepts
// only the shv3 subprotocol, rejecting any other or missing one.
func Handshake(config *websocket.Config, req *http.Request) error {
	for _, p := range config.Protocol {
		if p == Subprotocol {
			config.Protocol = []string{Subprotocol}
			return nil
		}
	}
	return errors.New("frame: client did not offer the shv3 subprotocol")
}
