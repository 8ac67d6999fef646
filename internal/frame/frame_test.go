package frame

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/net/websocket"
)

func TestStreamFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewStreamFramer(&buf, &buf)

	msgs := [][]byte{
		{0x01, 0xFF},
		[]byte("hello world"),
		{},
	}
	for _, m := range msgs {
		if err := f.WriteFrame(m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %v want %v", i, got, want)
		}
	}
}

func TestStreamFrameReset(t *testing.T) {
	var buf bytes.Buffer
	f := NewStreamFramer(&buf, &buf)
	if err := f.WriteReset(); err != nil {
		t.Fatalf("write reset: %v", err)
	}
	_, err := f.ReadFrame()
	if !errors.Is(err, ErrReset) {
		t.Fatalf("expected ErrReset, got %v", err)
	}
}

func TestStreamFramesReadInOrder(t *testing.T) {
	var buf bytes.Buffer
	f := NewStreamFramer(&buf, &buf)
	if err := f.WriteFrame([]byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := f.WriteFrame([]byte("second")); err != nil {
		t.Fatal(err)
	}
	got1, err := f.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	got2, err := f.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if string(got1) != "first" || string(got2) != "second" {
		t.Fatalf("out of order: %q then %q", got1, got2)
	}
}

func TestSerialFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewSerialFramer(&buf, &buf, false)

	payload := []byte{stx, etx, atx, esc, 0x00, 0x7f, 'h', 'i'}
	if err := f.WriteFrame(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v want %v", got, payload)
	}
}

func TestSerialFrameEscapedOutputContainsNoRawDelimiters(t *testing.T) {
	var buf bytes.Buffer
	f := NewSerialFramer(&buf, &buf, false)
	payload := []byte{stx, etx, atx, esc}
	if err := f.WriteFrame(payload); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	// strip the leading STX and trailing ETX delimiters themselves
	body := b[1 : len(b)-1]
	for _, special := range []byte{stx, etx, atx} {
		// a raw (non-escape-prefixed) occurrence would corrupt framing
		for i, c := range body {
			if c == special && (i == 0 || body[i-1] != esc) {
				t.Fatalf("unescaped delimiter 0x%x found in escaped body", special)
			}
		}
	}
}

func TestSerialFrameWithCRCRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewSerialFramer(&buf, &buf, true)
	payload := []byte("chainpack payload bytes")
	if err := f.WriteFrame(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v want %v", got, payload)
	}
}

func TestSerialFrameCorruptedCRCDiscarded(t *testing.T) {
	var buf bytes.Buffer
	f := NewSerialFramer(&buf, &buf, true)
	if err := f.WriteFrame([]byte("bad")); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip a CRC byte
	buf.Reset()
	buf.Write(raw)

	if err := f.WriteFrame([]byte("good")); err != nil {
		t.Fatal(err)
	}

	got, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("expected corrupted frame to be skipped, not errored: %v", err)
	}
	if string(got) != "good" {
		t.Fatalf("expected to recover the next good frame, got %q", got)
	}
}

func TestSerialFrameReset(t *testing.T) {
	var buf bytes.Buffer
	f := NewSerialFramer(&buf, &buf, false)
	if err := f.WriteReset(); err != nil {
		t.Fatal(err)
	}
	_, err := f.ReadFrame()
	if !errors.Is(err, ErrReset) {
		t.Fatalf("expected ErrReset, got %v", err)
	}
}

func TestWebSocketFrameRoundTrip(t *testing.T) {
	done := make(chan struct{})
	var serverErr error
	handler := websocket.Handler(func(ws *websocket.Conn) {
		defer close(done)
		f := NewWebSocketFramer(ws)
		got, err := f.ReadFrame()
		if err != nil {
			serverErr = err
			return
		}
		serverErr = f.WriteFrame(got)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, err := DialWebSocket(url, "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	f := NewWebSocketFramer(ws)
	want := []byte{0x01, 0x02, 0x03}
	if err := f.WriteFrame(want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	<-done
	if serverErr != nil {
		t.Fatalf("server: %v", serverErr)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
