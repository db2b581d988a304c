// Package journal keeps a local SQLite record of ingested station events,
// so the presence state can be rebuilt after a restart when the event
// source cannot backfill by itself.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/awilliams/openwrt-presence/internal/presence"
)

// Journal is an append-only event store. All methods are safe for
// concurrent use (SQLite serializes writes).
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	// ts is Unix nanoseconds so ordering is numeric.
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		ts   INTEGER NOT NULL,
		kind TEXT NOT NULL,
		mac  TEXT NOT NULL,
		node TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends ev.
func (j *Journal) Record(ctx context.Context, ev presence.Event) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, mac, node) VALUES (?, ?, ?, ?)`,
		ev.Timestamp.UnixNano(),
		ev.Kind.String(),
		ev.MAC.String(),
		ev.Node,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Replay returns the events at or after since, ordered by timestamp and
// then by the order they were recorded. A zero since returns everything.
func (j *Journal) Replay(ctx context.Context, since time.Time) ([]presence.Event, error) {
	from := int64(math.MinInt64)
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT ts, kind, mac, node FROM events WHERE ts >= ? ORDER BY ts, id`,
		from,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []presence.Event
	for rows.Next() {
		var (
			ts              int64
			kind, mac, node string
		)
		if err := rows.Scan(&ts, &kind, &mac, &node); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := decode(ts, kind, mac, node)
		if err != nil {
			// Rows are only written by Record; skip anything else.
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// Prune deletes the events before t and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, t time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Backfill is Replay; it lets the journal stand in for an event source's
// backfill.
func (j *Journal) Backfill(ctx context.Context, since time.Time) ([]presence.Event, error) {
	return j.Replay(ctx, since)
}

func decode(ts int64, kind, mac, node string) (presence.Event, error) {
	ev := presence.Event{Node: node, Timestamp: time.Unix(0, ts)}
	switch kind {
	case presence.Connect.String():
		ev.Kind = presence.Connect
	case presence.Disconnect.String():
		ev.Kind = presence.Disconnect
	default:
		return presence.Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	var err error
	ev.MAC, err = presence.ParseMAC(mac)
	return ev, err
}
