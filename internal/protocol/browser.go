package protocol

import "encoding/json"

// BrowserEnvelope is the single frame shape sent to browser clients:
// {"type": "...", "data": ...} or with "result"/"error" in place of data,
// depending on the event. Marshal with NewBrowserFrame to keep field
// selection centralized.
type BrowserEnvelope struct {
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Command-reply specific fields (cmd_ok / cmd_error).
	Kind string `json:"kind,omitempty"`
	IP   string `json:"ip,omitempty"`
}

// NewBrowserFrame marshals an envelope for the given event type.
func NewBrowserFrame(msgType string, data any) ([]byte, error) {
	return json.Marshal(BrowserEnvelope{Type: msgType, Data: data})
}

// Browser -> gateway request frame.
type BrowserRequest struct {
	MsgType string          `json:"msg_type"`
	IP      string          `json:"ip,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
}

// Browser -> gateway request kinds (msg_type values).
const (
	MsgEssCmd     = "esscmd"
	MsgGitCmd     = "gitcmd"
	MsgAddDevice  = "AddDevice"
	MsgAddSubject = "Addsubject"
	MsgSQLQuery   = "sql_query"
	MsgGetOptions = "get_options"
)

// Gateway -> browser streaming event types.
const (
	EventStatusChanges     = "status_changes"
	EventCommStatusChanges = "comm_status_changes"
	EventPerfStatsChanges  = "perf_stats_changes"
	EventTCLError          = "TCL_ERROR"
	EventCmdOK             = "cmd_ok"
	EventCmdError          = "cmd_error"
	EventError             = "error"
	EventSQLTable          = "sql_table"
	EventListboxOptions    = "listbox_options"

	SnapshotStatus     = "status"
	SnapshotCommStatus = "commStatus"
	SnapshotPerfStats  = "perfStats"
)

// AddDevicePayload is the browser-supplied payload for MsgAddDevice.
type AddDevicePayload struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// AddSubjectPayload is the browser-supplied payload for MsgAddSubject.
type AddSubjectPayload struct {
	Address string `json:"address"`
	Subject string `json:"subject"`
}

// EvalPayload is the browser-supplied payload for esscmd/gitcmd.
type EvalPayload struct {
	Script string `json:"script"`
}

// SQLQueryPayload is the browser-supplied payload for sql_query/get_options.
type SQLQueryPayload struct {
	Query string `json:"query"`
}
