// Package notify implements the Notification Listener (spec §4.F): a
// pq.Listener subscribed to the store's four notification channels, folding
// each payload back into the matching Status Cache collection (Status,
// CommStatus, or PerfStats) so changes made outside this gateway process
// (another gateway instance, a direct SQL write) still reach connected
// browsers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/nixfleet-labs/homebase-gateway/internal/status"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

const (
	channelStatusChanges     = "status_changes"
	channelCommStatusChanges = "comm_status_changes"
	channelPerfStatsChanges  = "perf_stats_changes"
	channelNewImage          = "new_image"

	reconnectDelay = 5 * time.Second
	pingInterval   = 90 * time.Second
)

// statusChangePayload is the JSON body NOTIFY sends on status_changes,
// keyed by host+type (spec §4.F).
type statusChangePayload struct {
	Host   string `json:"host"`
	Source string `json:"source"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// commStatusPayload is the JSON body NOTIFY sends on comm_status_changes,
// keyed by device+address (spec §4.F).
type commStatusPayload struct {
	Device  string `json:"device"`
	Address string `json:"address"`
	Value   string `json:"value"`
}

// perfStatsPayload is the JSON body NOTIFY sends on perf_stats_changes,
// keyed by host+type+subject+system+protocol+variant (spec §4.F). A
// trials==0 payload is a transient placeholder row and is dropped.
type perfStatsPayload struct {
	Host     string `json:"host"`
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	System   string `json:"system"`
	Protocol string `json:"protocol"`
	Variant  string `json:"variant"`
	Value    string `json:"value"`
	Trials   int    `json:"trials"`
}

// newImagePayload identifies the row to re-fetch and re-translate.
type newImagePayload struct {
	Host string `json:"host"`
	Type string `json:"type"`
}

// Listener owns the pq.Listener connection and its reconnect loop.
type Listener struct {
	connStr string
	log     zerolog.Logger
	cache   *status.Cache
	store   store.Store
}

// New constructs a Listener. connStr is the same DSN used for the regular
// connection pool; pq.Listener manages its own dedicated connection.
func New(connStr string, log zerolog.Logger, cache *status.Cache, st store.Store) *Listener {
	return &Listener{
		connStr: connStr,
		log:     log.With().Str("component", "notify-listener").Logger(),
		cache:   cache,
		store:   st,
	}
}

// Run subscribes to every channel and processes notifications until ctx is
// done. On any listener-level error it waits reconnectDelay and starts over
// rather than propagating the failure (spec §4.F "never crash the process").
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		l.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Warn().Err(err).Msg("listener connection event")
		}
	}

	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, reportProblem)
	defer listener.Close()

	for _, ch := range []string{channelStatusChanges, channelCommStatusChanges, channelPerfStatsChanges, channelNewImage} {
		if err := listener.Listen(ch); err != nil {
			l.log.Error().Err(err).Str("channel", ch).Msg("failed to subscribe to notification channel")
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go func() { _ = listener.Ping() }()
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				continue // reconnect happened; listener re-sends LISTEN state itself
			}
			l.handle(ctx, n)
		}
	}
}

func (l *Listener) handle(ctx context.Context, n *pq.Notification) {
	switch n.Channel {
	case channelStatusChanges:
		var p statusChangePayload
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.log.Debug().Err(err).Str("channel", n.Channel).Msg("malformed notification payload")
			return
		}
		l.cache.Reconcile(p.Host, p.Source, p.Type, p.Value)

	case channelCommStatusChanges:
		var p commStatusPayload
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.log.Debug().Err(err).Msg("malformed comm_status_changes payload")
			return
		}
		l.cache.ReconcileCommStatus(p.Device, p.Address, p.Value)

	case channelPerfStatsChanges:
		var p perfStatsPayload
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.log.Debug().Err(err).Msg("malformed perf_stats_changes payload")
			return
		}
		if p.Trials == 0 {
			return // transient placeholder row, not a real observation
		}
		l.cache.ReconcilePerfStats(p.Host, p.Type, p.Subject, p.System, p.Protocol, p.Variant, p.Value)

	case channelNewImage:
		var p newImagePayload
		if err := json.Unmarshal([]byte(n.Extra), &p); err != nil {
			l.log.Debug().Err(err).Msg("malformed new_image payload")
			return
		}
		l.reprocessImage(ctx, p)

	default:
		l.log.Debug().Str("channel", n.Channel).Msg("unrecognized notification channel")
	}
}

// reprocessImage re-fetches the full row a new_image notification refers
// to, since the notification payload itself only carries the row's key
// (spec §4.F "new_image carries no value, only identity").
func (l *Listener) reprocessImage(ctx context.Context, p newImagePayload) {
	data, err := l.store.FetchImageRow(ctx, p.Host, p.Type)
	if err != nil {
		l.log.Error().Err(err).Str("host", p.Host).Str("type", p.Type).Msg("failed to fetch new_image row")
		return
	}
	l.cache.Reconcile(p.Host, "image", p.Type, string(data))
}
