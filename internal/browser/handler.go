// Package browser implements the Browser Session Handler (spec §4.H): the
// WebSocket endpoint served to dashboard clients, seeding each new
// connection with a snapshot of cached state and dispatching inbound
// commands by msg_type.
package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/broadcast"
	"github.com/nixfleet-labs/homebase-gateway/internal/protocol"
	"github.com/nixfleet-labs/homebase-gateway/internal/registry"
	"github.com/nixfleet-labs/homebase-gateway/internal/status"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const readLimit = 1 << 20

// Handler serves the browser-facing WebSocket endpoint.
type Handler struct {
	log         zerolog.Logger
	cache       *status.Cache
	broadcaster *broadcast.Broadcaster
	registry    *registry.Registry
	store       store.Store
}

// New constructs a Handler.
func New(log zerolog.Logger, cache *status.Cache, broadcaster *broadcast.Broadcaster, reg *registry.Registry, st store.Store) *Handler {
	return &Handler{
		log:         log.With().Str("component", "browser-handler").Logger(),
		cache:       cache,
		broadcaster: broadcaster,
		registry:    reg,
		store:       st,
	}
}

// ServeHTTP upgrades the connection, seeds it with the current snapshot,
// and runs its read loop until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	session := h.broadcaster.Register(conn)
	defer h.broadcaster.Unregister(session)

	conn.SetReadLimit(readLimit)

	h.seed(session)

	go session.WritePump()
	h.readLoop(r.Context(), conn, session)
}

// seed sends the three snapshot frames a newly connected browser needs
// before it can render anything (spec §4.G "On a new connection", §6):
// status, commStatus, and perfStats, each from its own cache collection.
func (h *Handler) seed(session *broadcast.Session) {
	entries := h.cache.Snapshot()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Host != entries[j].Host {
			return entries[i].Host < entries[j].Host
		}
		return entries[i].Source < entries[j].Source
	})
	if frame, err := protocol.NewBrowserFrame(protocol.SnapshotStatus, entries); err == nil {
		session.SafeSend(frame)
	}

	commEntries := h.cache.CommStatusSnapshot()
	sort.Slice(commEntries, func(i, j int) bool {
		if commEntries[i].Device != commEntries[j].Device {
			return commEntries[i].Device < commEntries[j].Device
		}
		return commEntries[i].Address < commEntries[j].Address
	})
	if frame, err := protocol.NewBrowserFrame(protocol.SnapshotCommStatus, commEntries); err == nil {
		session.SafeSend(frame)
	}

	perfEntries := h.cache.PerfStatsSnapshot()
	sort.Slice(perfEntries, func(i, j int) bool {
		if perfEntries[i].Host != perfEntries[j].Host {
			return perfEntries[i].Host < perfEntries[j].Host
		}
		return perfEntries[i].Type < perfEntries[j].Type
	})
	if frame, err := protocol.NewBrowserFrame(protocol.SnapshotPerfStats, perfEntries); err == nil {
		session.SafeSend(frame)
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *broadcast.Session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.BrowserRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.sendError(session, "malformed request")
			continue
		}

		h.dispatch(ctx, session, &req)
	}
}

// dispatch routes one browser request by msg_type (spec §4.H "Command
// dispatch").
func (h *Handler) dispatch(ctx context.Context, session *broadcast.Session, req *protocol.BrowserRequest) {
	switch req.MsgType {
	case protocol.MsgEssCmd:
		h.handleEval(ctx, session, req, false)
	case protocol.MsgGitCmd:
		h.handleEval(ctx, session, req, true)
	case protocol.MsgAddDevice:
		h.handleAddDevice(session, req)
	case protocol.MsgAddSubject:
		h.handleAddSubject(ctx, session, req)
	case protocol.MsgSQLQuery, protocol.MsgGetOptions:
		h.handleSQLQuery(ctx, session, req)
	default:
		h.sendError(session, "unrecognized msg_type")
	}
}

func (h *Handler) handleEval(ctx context.Context, session *broadcast.Session, req *protocol.BrowserRequest, gitPrefix bool) {
	var payload protocol.EvalPayload
	if err := json.Unmarshal(req.Msg, &payload); err != nil {
		h.sendError(session, "malformed eval payload")
		return
	}

	l, ok := h.registry.Get(req.IP)
	if !ok {
		h.sendCmdResult(session, req.IP, false, "device not connected")
		return
	}

	script := payload.Script
	if gitPrefix {
		script = "git " + script
	}

	evalCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := l.Eval(evalCtx, script, 0); err != nil {
		h.sendCmdResult(session, req.IP, false, err.Error())
		return
	}
	h.sendCmdResult(session, req.IP, true, "")
}

func (h *Handler) sendCmdResult(session *broadcast.Session, ip string, ok bool, errMsg string) {
	eventType := protocol.EventCmdOK
	if !ok {
		eventType = protocol.EventCmdError
	}
	frame, err := json.Marshal(protocol.BrowserEnvelope{Type: eventType, Kind: "cmd", IP: ip, Error: errMsg})
	if err != nil {
		return
	}
	session.SafeSend(frame)
}

func (h *Handler) handleAddDevice(session *broadcast.Session, req *protocol.BrowserRequest) {
	var payload protocol.AddDevicePayload
	if err := json.Unmarshal(req.Msg, &payload); err != nil {
		h.sendError(session, "malformed AddDevice payload")
		return
	}

	if _, err := h.registry.Add(payload.Address, payload.Name); err != nil {
		h.sendError(session, err.Error())
		return
	}
}

// HandleAddDevice implements the POST /admin/devices HTTP path (SPEC_FULL.md
// ambient HTTP surface): parity with the browser AddDevice intent for
// callers that aren't a connected dashboard WebSocket.
func (h *Handler) HandleAddDevice(w http.ResponseWriter, r *http.Request) {
	var payload protocol.AddDevicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	if _, err := h.registry.Add(payload.Address, payload.Name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddSubject recomputes the fleet-wide subject-options list once a new
// subject has been attached, then persists and broadcasts the update to
// every device (spec §4.H "Addsubject" / Subject-option rules): the option
// list is collected from every device's ess/animalOptions entry, deduped
// case-insensitively with "test" guaranteed first, then upserted per device.
func (h *Handler) handleAddSubject(ctx context.Context, session *broadcast.Session, req *protocol.BrowserRequest) {
	var payload protocol.AddSubjectPayload
	if err := json.Unmarshal(req.Msg, &payload); err != nil {
		h.sendError(session, "malformed Addsubject payload")
		return
	}

	addrs := h.registry.Addresses()
	merged := mergeSubjectOptions(h.collectSubjectOptions(addrs), payload.Subject)
	csv := strings.Join(merged, ",")

	for _, addr := range addrs {
		if err := h.store.UpsertSubjectOptions(ctx, addr, csv); err != nil {
			h.sendError(session, "failed to persist subject options")
			return
		}
		h.cache.Reconcile(addr, "ess", "animalOptions", csv)
	}
}

// collectSubjectOptions gathers the cached ess/animalOptions CSV value from
// every device address into one flat list of raw (not yet deduped) options.
func (h *Handler) collectSubjectOptions(addrs []string) []string {
	var all []string
	for _, addr := range addrs {
		csv, ok := h.cache.Get(addr, "ess", "animalOptions")
		if !ok {
			continue
		}
		all = append(all, strings.Split(csv, ",")...)
	}
	return all
}

// mergeSubjectOptions applies the Subject-option rules (spec §4.H): dedupe
// case-insensitively, strip empties, guarantee "test" is present as the
// first element, and append subject only if its lowercase form is absent.
func mergeSubjectOptions(existing []string, subject string) []string {
	seen := map[string]bool{"test": true}
	out := []string{"test"}

	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		lower := strings.ToLower(v)
		if seen[lower] {
			return
		}
		seen[lower] = true
		out = append(out, v)
	}

	for _, v := range existing {
		add(v)
	}
	add(subject)

	return out
}

func (h *Handler) handleSQLQuery(ctx context.Context, session *broadcast.Session, req *protocol.BrowserRequest) {
	var payload protocol.SQLQueryPayload
	if err := json.Unmarshal(req.Msg, &payload); err != nil {
		h.sendError(session, "malformed query payload")
		return
	}

	if err := store.ValidateReadOnly(payload.Query); err != nil {
		h.sendError(session, err.Error())
		return
	}

	rows, err := h.store.ExecReadOnlyQuery(ctx, payload.Query)
	if err != nil {
		h.sendError(session, err.Error())
		return
	}

	eventType := protocol.EventSQLTable
	if req.MsgType == protocol.MsgGetOptions {
		eventType = protocol.EventListboxOptions
	}
	if frame, err := protocol.NewBrowserFrame(eventType, rows); err == nil {
		session.SafeSend(frame)
	}
}

func (h *Handler) sendError(session *broadcast.Session, msg string) {
	frame, err := protocol.NewBrowserFrame(protocol.EventError, msg)
	if err != nil {
		return
	}
	session.SafeSend(frame)
}
