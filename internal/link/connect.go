package link

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/itchyny/gojq"

	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
)

// readLoop owns the single reader of conn for this connection's lifetime
// (spec §5: one reader, one writer). It never touches Link fields directly;
// every frame is handed to the inbox loop via submit.
func (l *Link) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.submit(func() { l.onReadError(gen, err) })
			return
		}

		var frame protocol.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			l.log.Debug().Err(err).Msg("malformed frame, dropping")
			continue
		}
		l.submit(func() { l.handleFrame(gen, &frame) })
	}
}

func (l *Link) onReadError(gen int, err error) {
	if gen != l.generation {
		return
	}
	l.forceClose("read error: " + err.Error())
}

// handleFrame dispatches one inbound frame by shape (spec §4.C "On Message").
// Runs inside the inbox loop.
func (l *Link) handleFrame(gen int, frame *protocol.InboundFrame) {
	if gen != l.generation {
		return // leftover frame from a superseded connection
	}
	l.resetStale(gen)

	if frame.IsChunkedMessage {
		reassembled, err := l.chunks.Accept(frame)
		if err != nil {
			l.log.Debug().Err(err).Str("messageId", frame.MessageID).Msg("dropping malformed chunk sequence")
			return
		}
		if reassembled == nil {
			return // still waiting on more chunks
		}
		frame = reassembled
	}

	switch {
	case frame.IsResponse():
		l.handleResponse(frame)
	case frame.IsDatapoint():
		l.handleDatapoint(frame.Name, frame.Data)
	case frame.IsControlAck():
		l.log.Trace().Str("action", frame.Action).Msg("control ack")
	default:
		l.log.Debug().Msg("unrecognized frame shape, ignoring")
	}
}

// armStale (re)starts the staleness watchdog: if no frame of any kind
// arrives within stale_timeout_ms, the Link is forced closed and reconnects
// (spec §4.C "Staleness watchdog").
func (l *Link) armStale(gen int) {
	if l.staleTimer != nil {
		l.staleTimer.Stop()
	}
	l.staleTimer = time.AfterFunc(l.cfg.StaleTimeout, func() {
		l.submit(func() { l.onStale(gen) })
	})
}

func (l *Link) resetStale(gen int) {
	if l.staleTimer != nil {
		l.staleTimer.Reset(l.cfg.StaleTimeout)
	}
}

func (l *Link) onStale(gen int) {
	if gen != l.generation {
		return
	}
	l.forceClose("no data within stale_timeout_ms")
}

// scheduleHeartbeat arms the next protocol-level ping (spec §4.C
// "Heartbeat"). Each firing both sends the ping and reschedules itself,
// so the loop self-perpetuates for as long as this connection is open.
func (l *Link) scheduleHeartbeat(gen int) {
	l.heartbeatTimer = time.AfterFunc(l.cfg.HeartbeatInterval, func() {
		l.submit(func() { l.sendPing(gen) })
	})
}

func (l *Link) sendPing(gen int) {
	if gen != l.generation || l.state != StateOpen || l.conn == nil {
		return
	}

	deadline := time.Now().Add(l.cfg.HeartbeatTimeout)
	if err := l.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		l.forceClose("ping write failed: " + err.Error())
		return
	}

	l.pongTimer = time.AfterFunc(l.cfg.HeartbeatTimeout, func() {
		l.submit(func() { l.onPongTimeout(gen) })
	})

	l.scheduleHeartbeat(gen)
}

func (l *Link) onPong(gen int) {
	if gen != l.generation {
		return
	}
	if l.pongTimer != nil {
		l.pongTimer.Stop()
		l.pongTimer = nil
	}
}

func (l *Link) onPongTimeout(gen int) {
	if gen != l.generation || l.state != StateOpen {
		return
	}
	l.forceClose("pong not received within heartbeat_timeout_ms")
}

// refreshLoop periodically re-touches every catalog key so a homebase that
// silently stopped pushing a value (without closing the socket) is still
// eventually corrected (spec §4.C "Periodic refresh").
func (l *Link) refreshLoop(gen int, done <-chan struct{}) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.submit(func() { l.sendRefreshTouches(gen) })
		}
	}
}

func (l *Link) sendRefreshTouches(gen int) {
	if gen != l.generation || l.state != StateOpen {
		return
	}
	for _, key := range l.catalog {
		_ = l.writeJSON(touchCommand(key))
	}
}

// pollLoop issues the two fixed eval polls described in spec §4.C every
// pollInterval, translating their (possibly JSON-wrapped) results into
// synthetic system/24v-v and system/charging status entries. It runs
// outside the inbox loop and calls Eval directly: Eval's own submit/block
// round-trip happens on this goroutine, never on the inbox goroutine
// itself, so it cannot deadlock the single-writer loop.
func (l *Link) pollLoop(gen int, done <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			go l.runPollCycle(gen)
		}
	}
}

func (l *Link) runPollCycle(gen int) {
	if State(l.stateAtomic.Load()) != StateOpen || int(l.generationAtomic.Load()) != gen {
		return
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.cfg.RequestDefaultTimeout)
	defer cancel()

	if raw, err := l.Eval(ctx, "pump_voltage", 0); err == nil {
		if v, err := decodeEvalValue(raw); err == nil {
			l.cache.Apply(l.ctx, l.addr, "system", "24v-v", v)
		}
	}
	if raw, err := l.Eval(ctx, "charging", 0); err == nil {
		if v, err := decodeEvalValue(raw); err == nil {
			l.cache.Apply(l.ctx, l.addr, "system", "charging", v)
		}
	}
}

// decodeEvalValue tolerates an eval result that is a bare scalar or an
// object wrapping the value under a "value" key, per spec §4.C's polling
// contract. gojq does the extraction so neither shape needs bespoke
// unmarshaling.
func decodeEvalValue(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}

	query, err := gojq.Parse(".value // .")
	if err != nil {
		return "", err
	}

	iter := query.Run(v)
	out, ok := iter.Next()
	if !ok {
		return "", errNoEvalResult
	}
	if qerr, ok := out.(error); ok {
		return "", qerr
	}

	switch t := out.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", errNoEvalResult
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
