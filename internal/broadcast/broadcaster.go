// Package broadcast implements the fan-out to all connected browser
// sessions (spec §4.G), generalizing the teacher's Hub broadcast loop.
package broadcast

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
)

const (
	sendBufferSize = 256
	broadcastQueue = 1024

	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
)

// Session is one connected browser's outbound half. The Browser Session
// Handler owns the inbound half (reading commands); this package only ever
// writes to Session.send.
type Session struct {
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed atomic.Bool
}

// newSession wraps a live connection for broadcast bookkeeping.
func newSession(conn *websocket.Conn) *Session {
	return &Session{conn: conn, send: make(chan []byte, sendBufferSize)}
}

// SafeSend enqueues data for the session's write pump, never blocking and
// never panicking on a session that closed concurrently (spec §5: sending
// to a browser socket must not block other sockets; spec §7: browser send
// errors are ignored per-socket).
func (s *Session) SafeSend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.send)
	})
}

// WritePump pumps queued frames to the underlying connection and keeps it
// alive with periodic pings, mirroring the teacher's Client.writePump.
// Run it in its own goroutine for the lifetime of the session.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcaster owns the set of open browser sessions and the async queue
// that decouples state changes from the fan-out goroutine (grounded on the
// teacher's Hub.broadcastLoop/doBroadcast/queueBroadcast).
type Broadcaster struct {
	log zerolog.Logger

	mu       sync.RWMutex
	sessions map[*Session]bool

	queue chan []byte
}

// New creates a Broadcaster. Call Run in its own goroutine before Register
// is used.
func New(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:      log.With().Str("component", "broadcaster").Logger(),
		sessions: make(map[*Session]bool),
		queue:    make(chan []byte, broadcastQueue),
	}
}

// Run drains the broadcast queue until done is closed, restarting on panic.
func (b *Broadcaster) Run(done <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("broadcast loop crashed, restarting")
			select {
			case <-done:
			default:
				go b.Run(done)
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data := <-b.queue:
			b.deliver(data)
		}
	}
}

func (b *Broadcaster) deliver(data []byte) {
	b.mu.RLock()
	sessions := make([]*Session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	for _, s := range sessions {
		s.SafeSend(data)
	}
}

// Publish queues data for delivery to every open browser session. Non-blocking:
// drops with a warning if the queue is saturated.
func (b *Broadcaster) Publish(data []byte) {
	select {
	case b.queue <- data:
	default:
		b.log.Warn().Msg("broadcast queue full, dropping message")
	}
}

// PublishEvent marshals {type, data} and queues it for every open session.
// Marshal failures are logged and dropped rather than propagated, since a
// broadcast has no caller waiting on its result.
func (b *Broadcaster) PublishEvent(eventType string, data any) {
	frame, err := protocol.NewBrowserFrame(eventType, data)
	if err != nil {
		b.log.Error().Err(err).Str("type", eventType).Msg("failed to marshal broadcast event")
		return
	}
	b.Publish(frame)
}

// Register adds conn as a new open session and returns it; the caller's read
// pump should call Unregister on exit.
func (b *Broadcaster) Register(conn *websocket.Conn) *Session {
	s := newSession(conn)
	b.mu.Lock()
	b.sessions[s] = true
	b.mu.Unlock()
	return s
}

// Unregister removes and closes a session.
func (b *Broadcaster) Unregister(s *Session) {
	b.mu.Lock()
	_, ok := b.sessions[s]
	delete(b.sessions, s)
	b.mu.Unlock()
	if ok {
		s.Close()
	}
}
