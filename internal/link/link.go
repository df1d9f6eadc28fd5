// Package link implements the Homebase Link (spec §4.C): one supervised
// WebSocket session per device, generalizing the teacher's
// agent.WebSocketClient (dial/backoff/heartbeat/reconnect) into a
// request/response client with queueing, chunk reassembly, and datapoint
// translation.
//
// Every mutation of a Link's own state (its state machine, pending request
// table, chunk buffers and timers) runs inside a single goroutine's inbox
// loop (spec §5, §9: single-writer invariant). External callers — Eval,
// Stop — only ever enqueue a closure onto that loop; they never touch
// Link fields directly.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/broadcast"
	"github.com/nixfleet-labs/homebase-gateway/internal/config"
	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
	"github.com/nixfleet-labs/homebase-gateway/internal/status"
	"github.com/nixfleet-labs/homebase-gateway/internal/translate"
)

// State is the Link's position in the Idle -> Connecting -> Open ->
// Draining -> Closed -> (back to Connecting) state machine of spec §4.C.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	writeWait        = 10 * time.Second
	refreshInterval  = 60 * time.Second
	pollInterval     = 10 * time.Second
	actionBufferSize = 64
)

// Link is one supervised session to a single homebase at ws://addr:2565/ws.
type Link struct {
	addr        string
	cfg         *config.Config
	log         zerolog.Logger
	cache       *status.Cache
	broadcaster *broadcast.Broadcaster
	catalog     []string

	ctx     context.Context
	actions chan func()
	stopped chan struct{}

	// Inbox-owned. Touched only by closures executed on the inbox loop.
	state      State
	generation int
	conn       *websocket.Conn
	connDone   chan struct{}

	inFlight  map[string]*pendingRequest
	waitQueue *queue.Queue
	chunks    *chunkBuffers
	reconnect *reconnectPolicy

	staleTimer     *time.Timer
	heartbeatTimer *time.Timer
	pongTimer      *time.Timer

	// Mirrored atomically so background goroutines (heartbeat/refresh/poll
	// tickers) can cheaply check liveness without round-tripping through
	// the inbox.
	stateAtomic      atomic.Int32
	generationAtomic atomic.Int32
}

// New constructs a Link for addr. Call Start to begin connecting.
func New(addr string, cfg *config.Config, log zerolog.Logger, cache *status.Cache, broadcaster *broadcast.Broadcaster, catalog []string) *Link {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	return &Link{
		addr:        addr,
		cfg:         cfg,
		log:         log.With().Str("component", "link").Str("addr", addr).Logger(),
		cache:       cache,
		broadcaster: broadcaster,
		catalog:     catalog,
		actions:     make(chan func(), actionBufferSize),
		stopped:     make(chan struct{}),
		inFlight:    make(map[string]*pendingRequest),
		waitQueue:   newWaitQueue(),
		chunks:      newChunkBuffers(),
		reconnect:   newReconnectPolicy(cfg),
	}
}

// Addr returns the device address this Link serves.
func (l *Link) Addr() string { return l.addr }

// State returns the Link's current state. Safe for concurrent use.
func (l *Link) State() State { return State(l.stateAtomic.Load()) }

// Start runs the inbox loop and kicks off the first connect attempt. ctx's
// cancellation tears the Link down permanently.
func (l *Link) Start(ctx context.Context) {
	l.ctx = ctx
	go l.run()
	l.submit(func() { l.beginConnect() })
}

// Stop tears the Link down and waits for its inbox loop to exit.
func (l *Link) Stop() {
	l.submit(func() { l.forceClose("stopped") })
	<-l.stopped
}

func (l *Link) submit(fn func()) {
	select {
	case l.actions <- fn:
	case <-l.ctx.Done():
	}
}

func (l *Link) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.ctx.Done():
			l.forceClose("context canceled")
			return
		case act := <-l.actions:
			act()
		}
	}
}

func (l *Link) setState(s State) {
	l.state = s
	l.stateAtomic.Store(int32(s))
}

// beginConnect transitions Idle/Closed -> Connecting and kicks off a dial.
// Refuses to start a second concurrent dial (spec §4.C connect contract).
func (l *Link) beginConnect() {
	if l.state == StateConnecting || l.state == StateOpen {
		return
	}
	l.setState(StateConnecting)
	l.generation++
	l.generationAtomic.Store(int32(l.generation))
	gen := l.generation
	go l.dial(gen)
}

func (l *Link) url() string {
	return fmt.Sprintf("ws://%s:2565/ws", l.addr)
}

// dial runs outside the inbox loop: it is the one blocking operation the
// Link performs before anything else can proceed, bounded by
// connect_timeout_ms (spec §4.C "hard connect-attempt timeout").
func (l *Link) dial(gen int) {
	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url(), nil)
	if err != nil {
		l.submit(func() { l.onConnectFailed(gen, err) })
		return
	}
	l.submit(func() { l.onConnected(gen, conn) })
}

func (l *Link) onConnectFailed(gen int, err error) {
	if gen != l.generation {
		return // superseded by a later attempt
	}
	l.log.Debug().Err(err).Msg("dial failed")
	l.setState(StateClosed)
	l.scheduleReconnect()
}

// onConnected transitions to Open: resets reconnect counters, arms the
// heartbeat/staleness/refresh/poll loops, broadcasts the synthetic
// connected=1 status, and seeds every catalog key (spec §4.C "On Open").
func (l *Link) onConnected(gen int, conn *websocket.Conn) {
	if gen != l.generation {
		_ = conn.Close()
		return
	}

	l.conn = conn
	l.setState(StateOpen)
	l.reconnect.Reset()
	l.chunks.Clear()
	l.connDone = make(chan struct{})

	conn.SetPongHandler(func(string) error {
		l.submit(func() { l.onPong(gen) })
		return nil
	})

	l.armStale(gen)
	l.scheduleHeartbeat(gen)

	l.cache.Apply(l.ctx, l.addr, "ess", "connected", "1")

	for _, key := range l.catalog {
		_ = l.writeJSON(subscribeCommand(key, l.cfg.SubscribeEveryDefault))
		_ = l.writeJSON(touchCommand(key))
	}

	go l.readLoop(gen, conn)
	go l.refreshLoop(gen, l.connDone)
	go l.pollLoop(gen, l.connDone)

	l.log.Info().Msg("homebase link open")
}

func subscribeCommand(match string, every int) any {
	return protocol.SubscribeCommand{Cmd: "subscribe", Match: match, Every: every}
}

func touchCommand(name string) any {
	return protocol.TouchCommand{Cmd: "touch", Name: name}
}

func (l *Link) writeJSON(v any) error {
	if l.conn == nil {
		return errors.New("link: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// forceClose tears the current connection down (if any) and schedules a
// reconnect. Idempotent per generation: a stale close request (from a
// connection already superseded) is a no-op.
func (l *Link) forceClose(reason string) {
	if l.state == StateClosed && l.conn == nil {
		return
	}

	l.log.Debug().Str("reason", reason).Msg("tearing down link")

	l.setState(StateClosed)
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	if l.connDone != nil {
		close(l.connDone)
		l.connDone = nil
	}
	if l.staleTimer != nil {
		l.staleTimer.Stop()
		l.staleTimer = nil
	}
	if l.heartbeatTimer != nil {
		l.heartbeatTimer.Stop()
		l.heartbeatTimer = nil
	}
	if l.pongTimer != nil {
		l.pongTimer.Stop()
		l.pongTimer = nil
	}
	l.chunks.Clear()
	l.rejectAllPending()

	l.cache.Apply(l.ctx, l.addr, "ess", "connected", "0")

	select {
	case <-l.ctx.Done():
		return // process shutting down, do not schedule another attempt
	default:
	}
	l.scheduleReconnect()
}

func (l *Link) scheduleReconnect() {
	delay := l.reconnect.NextDelay()
	time.AfterFunc(delay, func() { l.submit(func() { l.beginConnect() }) })
}

// handleDatapoint translates and caches one (name, value) pair (spec §4.D,
// §4.E), preserving per-Link ordering through the Translator into the
// Cache (spec §5 "Ordering guarantees").
func (l *Link) handleDatapoint(name, value string) {
	st := translate.Translate(name, value)
	l.cache.Apply(l.ctx, l.addr, st.Source, st.Type, st.Value)
}
