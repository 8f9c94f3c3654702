// Package ws hosts the websocket transport: handshake authentication,
// the per-connection session, and its read/write pumps.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after the session has been closed.
var ErrClosed = errors.New("session closed")

// ErrBufferFull is returned when the outbound buffer is saturated.
var ErrBufferFull = errors.New("send buffer full")

// Session is one live websocket connection. It implements presence.Conn:
// events are marshalled and queued for the write pump, never written
// from the caller's goroutine.
type Session struct {
	ID   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func newSession(id string, conn *websocket.Conn, sendBuffer int) *Session {
	return &Session{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send marshals the event and queues it for delivery. It never blocks:
// a saturated buffer drops the event and reports ErrBufferFull.
func (s *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrBufferFull
	}
}

// Close tears the session down. Safe to call from any goroutine and more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

func (s *Session) writeMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *Session) setWriteDeadline(t time.Time) {
	_ = s.conn.SetWriteDeadline(t)
}
