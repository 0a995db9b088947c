// Package transport carries raw SPTPS wire bytes over a concrete network
// connection. SPTPS itself is transport-agnostic (it only produces and
// consumes byte slices via Session.SendRecord/ReceiveData); this package
// supplies the demo transports used to exercise it end to end.
package transport

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// BinaryTransport moves opaque binary frames in and out, honoring context
// deadlines and cancellation. A stream-mode SPTPS session reads whatever
// byte count arrives and feeds it to its internal reassembly buffer; a
// datagram-mode session treats each frame as one complete packet.
type BinaryTransport interface {
	ReadBinary(ctx context.Context) ([]byte, error)
	WriteBinary(ctx context.Context, b []byte) error
	Close() error
}

// WebSocketBinaryTransport adapts a gorilla/websocket connection to
// BinaryTransport. It accepts only binary messages; a text message is
// treated as a protocol error since SPTPS records are raw binary data.
type WebSocketBinaryTransport struct {
	c *websocket.Conn
}

// NewWebSocketBinaryTransport wraps a websocket connection for SPTPS frames.
func NewWebSocketBinaryTransport(c *websocket.Conn) *WebSocketBinaryTransport {
	return &WebSocketBinaryTransport{c: c}
}

// ReadBinary blocks until a binary frame is received or the context is done.
func (t *WebSocketBinaryTransport) ReadBinary(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = t.c.SetReadDeadline(deadline)
	} else {
		_ = t.c.SetReadDeadline(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = t.c.SetReadDeadline(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	for {
		mt, b, err := t.c.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if cerr := ctx.Err(); cerr != nil {
					return nil, cerr
				}
				if hasDeadline && !time.Now().Before(deadline) {
					return nil, context.DeadlineExceeded
				}
			}
			return nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return b, nil
		case websocket.TextMessage:
			return nil, errors.New("transport: unexpected ws text message")
		default:
			continue
		}
	}
}

// WriteBinary writes a binary frame and respects context deadlines.
func (t *WebSocketBinaryTransport) WriteBinary(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = t.c.SetWriteDeadline(deadline)
	} else {
		_ = t.c.SetWriteDeadline(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = t.c.SetWriteDeadline(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	err := t.c.WriteMessage(websocket.BinaryMessage, b)
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}

// Close closes the underlying websocket connection.
func (t *WebSocketBinaryTransport) Close() error {
	return t.c.Close()
}

// StreamBinaryTransport adapts a net.Conn (e.g. a yamux stream) to
// BinaryTransport for SPTPS's stream mode, where records arrive as a
// contiguous byte stream rather than discrete messages.
type StreamBinaryTransport struct {
	c net.Conn
}

// NewStreamBinaryTransport wraps a net.Conn for SPTPS stream-mode framing.
func NewStreamBinaryTransport(c net.Conn) *StreamBinaryTransport {
	return &StreamBinaryTransport{c: c}
}

// ReadBinary reads whatever is currently available, up to a fixed buffer,
// and hands it to the caller for SPTPS reassembly.
func (t *StreamBinaryTransport) ReadBinary(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.c.SetReadDeadline(deadline)
	} else {
		_ = t.c.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, 65536)
	n, err := t.c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteBinary writes b in full.
func (t *StreamBinaryTransport) WriteBinary(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.c.SetWriteDeadline(deadline)
	} else {
		_ = t.c.SetWriteDeadline(time.Time{})
	}
	_, err := t.c.Write(b)
	return err
}

// Close closes the underlying connection.
func (t *StreamBinaryTransport) Close() error {
	return t.c.Close()
}
