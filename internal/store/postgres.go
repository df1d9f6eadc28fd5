package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	_ "github.com/lib/pq" // postgres driver, also the LISTEN/NOTIFY carrier used by internal/notify
)

// PostgresStore is the production Store backed by database/sql + lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to the store at dsn.
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) LoadDeviceAddresses(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, display_name, ping_avg, ping_success, last_ping, server_time, hidden
		FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		var lastPing, serverTime sql.NullTime
		if err := rows.Scan(&d.Address, &d.DisplayName, &d.PingAvg, &d.PingSuccess, &lastPing, &serverTime, &d.Hidden); err != nil {
			return nil, err
		}
		if lastPing.Valid {
			d.LastPing = &lastPing.Time
		}
		if serverTime.Valid {
			d.LastServerTime = &serverTime.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddDevice(ctx context.Context, address, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (address, display_name)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING`, address, displayName)
	return err
}

func (s *PostgresStore) UpsertProbeAggregates(ctx context.Context, addr string, pingAvg int, pingSuccess float64, serverTime time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET ping_avg = $1, ping_success = $2, server_time = $3
		WHERE address = $4`, pingAvg, pingSuccess, serverTime, addr)
	return err
}

func (s *PostgresStore) MarkLastPing(ctx context.Context, addr string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_ping = $1 WHERE address = $2`, t, addr)
	return err
}

func (s *PostgresStore) UpsertStatus(ctx context.Context, host, source, typ, value string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_entries (host, source, type, value, sys_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host, source, type) DO UPDATE SET
			value = excluded.value,
			sys_time = excluded.sys_time`, host, source, typ, value, ts)
	return err
}

func (s *PostgresStore) UpsertSubjectOptions(ctx context.Context, addr string, csvOptions string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_entries (host, source, type, value, sys_time)
		VALUES ($1, 'ess', 'animalOptions', $2, now())
		ON CONFLICT (host, source, type) DO UPDATE SET
			value = excluded.value,
			sys_time = excluded.sys_time`, addr, csvOptions)
	return err
}

func (s *PostgresStore) FetchImageRow(ctx context.Context, host, statusType string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM status_entries WHERE host = $1 AND type = $2`, host, statusType).Scan(&data)
	return data, err
}

// ExecReadOnlyQuery runs query (already passed ValidateReadOnly) and
// coerces each column's value per spec §4.H: dates render as YYYY-MM-DD,
// numeric strings become JSON numbers only when the round trip through
// strconv is exact, everything else stays a string.
func (s *PostgresStore) ExecReadOnlyQuery(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = coerce(raw[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func coerce(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02")
	case []byte:
		s := string(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(f, 'g', -1, 64) == s {
			return f
		}
		return s
	default:
		return v
	}
}
