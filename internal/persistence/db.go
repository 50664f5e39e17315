// Package persistence stores world snapshots and event history in SQLite
// and as zstd-compressed snapshot files.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/chronicle/internal/engine"
	"github.com/talgya/chronicle/internal/event"
)

// ErrNoSnapshot is returned when the database holds no saved world.
var ErrNoSnapshot = errors.New("no saved world")

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		tick INTEGER PRIMARY KEY,
		seed INTEGER NOT NULL,
		saved_at TEXT NOT NULL,
		data BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		tick INTEGER NOT NULL,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		significance REAL NOT NULL,
		failed INTEGER NOT NULL,
		description TEXT NOT NULL,
		body TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSnapshot stores a compressed snapshot, replacing any at the same tick.
func (db *DB) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO snapshots (tick, seed, saved_at, data) VALUES (?, ?, ?, ?)",
		snap.World.Tick, snap.World.Seed, time.Now().UTC().Format(time.RFC3339), data,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	slog.Debug("snapshot stored", "tick", snap.World.Tick, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// LoadLatestSnapshot returns the snapshot with the highest tick.
func (db *DB) LoadLatestSnapshot(ctx context.Context) (engine.Snapshot, error) {
	var data []byte
	err := db.conn.GetContext(ctx, &data, "SELECT data FROM snapshots ORDER BY tick DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return Decode(data)
}

// HasWorldState reports whether a snapshot has been saved.
func (db *DB) HasWorldState(ctx context.Context) (bool, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM snapshots"); err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (db *DB) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM snapshots WHERE tick NOT IN (SELECT tick FROM snapshots ORDER BY tick DESC LIMIT ?)",
		keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveEvents appends events to the database. Events already stored are
// left untouched.
func (db *DB) SaveEvents(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR IGNORE INTO events
		(id, tick, type, source, significance, failed, description, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		res, err := stmt.ExecContext(ctx, e.ID, e.Tick, e.Type, e.Source, e.Significance, e.Failed, e.Description, string(body))
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stored++
		}
	}

	return stored, tx.Commit()
}

// EventQuery filters stored events. Zero values do not filter.
type EventQuery struct {
	FromTick        uint64
	ToTick          uint64
	Types           []event.Type
	MinSignificance float64
	Limit           int
}

// QueryEvents returns stored events matching q, oldest first. With a
// limit, the most recent matches are kept.
func (db *DB) QueryEvents(ctx context.Context, q EventQuery) ([]event.Event, error) {
	query := "SELECT body FROM events WHERE tick >= ? AND significance >= ?"
	args := []any{q.FromTick, q.MinSignificance}
	if q.ToTick > 0 {
		query += " AND tick <= ?"
		args = append(args, q.ToTick)
	}
	if len(q.Types) > 0 {
		query += " AND type IN (?)"
		args = append(args, q.Types)
	}
	query += " ORDER BY tick DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var bodies []string
	if err := db.conn.SelectContext(ctx, &bodies, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out := make([]event.Event, len(bodies))
	for i, body := range bodies {
		if err := json.Unmarshal([]byte(body), &out[len(bodies)-1-i]); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
	}
	return out, nil
}

// RecentEvents returns the most recent N events, oldest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]event.Event, error) {
	return db.QueryEvents(ctx, EventQuery{Limit: limit})
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// SaveWorldState performs a full save: the snapshot, any events not yet
// stored and the last saved tick.
func (db *DB) SaveWorldState(ctx context.Context, sim *engine.Simulation) error {
	snap := sim.Export()
	tick := snap.World.Tick
	slog.Info("saving world state", "tick", tick, "events", len(snap.Orchestrator.History))

	if err := db.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	stored, err := db.SaveEvents(ctx, snap.Orchestrator.History)
	if err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveMeta(ctx, "last_tick", strconv.FormatUint(tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("world state saved", "tick", tick, "new_events", stored)
	return nil
}
