// Package persistence provides SQLite storage for the durable scheduler
// state and the dispatch journal.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/pantheon/internal/pantheon"
	"github.com/talgya/pantheon/internal/scheduler"
	"github.com/talgya/pantheon/internal/state"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; the API reads through the same handle.
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
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS instances (
		seed INTEGER PRIMARY KEY,
		altar_state INTEGER NOT NULL,
		last_polled_tick INTEGER NOT NULL,
		mood_json TEXT NOT NULL,
		dead_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedule (
		seed INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		params_json TEXT NOT NULL,
		PRIMARY KEY (seed, tick, seq)
	);

	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		subject TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dispatches_tick ON dispatches(tick);
	CREATE INDEX IF NOT EXISTS idx_dispatches_entry ON dispatches(entry_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type counterRow struct {
	Name  string `db:"name"`
	Value int    `db:"value"`
}

type instanceRow struct {
	Seed           int64  `db:"seed"`
	AltarState     int    `db:"altar_state"`
	LastPolledTick int64  `db:"last_polled_tick"`
	MoodJSON       string `db:"mood_json"`
	DeadJSON       string `db:"dead_json"`
}

type scheduleRow struct {
	Seed       int64  `db:"seed"`
	Tick       int64  `db:"tick"`
	Seq        int    `db:"seq"`
	ID         string `db:"id"`
	Kind       string `db:"kind"`
	Attempts   int    `db:"attempts"`
	ParamsJSON string `db:"params_json"`
}

// Load reads the durable state. An empty database yields empty state.
func (db *DB) Load(ctx context.Context) (*state.Durable, error) {
	d := state.New()

	var counters []counterRow
	if err := db.conn.SelectContext(ctx, &counters, "SELECT name, value FROM counters"); err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	for _, c := range counters {
		d.Counters[c.Name] = c.Value
	}

	var instances []instanceRow
	if err := db.conn.SelectContext(ctx, &instances,
		"SELECT seed, altar_state, last_polled_tick, mood_json, dead_json FROM instances"); err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}
	for _, row := range instances {
		inst := d.Instance(row.Seed)
		inst.AltarState = row.AltarState
		inst.LastPolledTick = row.LastPolledTick
		if err := json.Unmarshal([]byte(row.MoodJSON), &inst.Mood); err != nil {
			return nil, fmt.Errorf("instance %d mood: %w", row.Seed, err)
		}
		var dead []string
		if err := json.Unmarshal([]byte(row.DeadJSON), &dead); err != nil {
			return nil, fmt.Errorf("instance %d dead: %w", row.Seed, err)
		}
		for _, name := range dead {
			inst.Dead[name] = true
		}
	}

	var rows []scheduleRow
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT seed, tick, seq, id, kind, attempts, params_json FROM schedule ORDER BY seed, tick, seq"); err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	for _, row := range rows {
		var params []string
		if err := json.Unmarshal([]byte(row.ParamsJSON), &params); err != nil {
			return nil, fmt.Errorf("schedule entry %s: %w", row.ID, err)
		}
		e, err := state.RebuildEntry(row.ID, row.Kind, row.Attempts, params)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %s: %w", row.ID, err)
		}
		d.Instance(row.Seed).Schedule.Insert(0, row.Tick, e)
	}

	if err := db.loadTail(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Keys in world_meta that belong to the durable state.
const (
	metaWorldSeed = "state_world_seed"
	metaSeenLog   = "state_seen_log"
)

func (db *DB) loadTail(ctx context.Context, d *state.Durable) error {
	var seed string
	err := db.conn.GetContext(ctx, &seed, "SELECT value FROM world_meta WHERE key = ?", metaWorldSeed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load world seed: %w", err)
	default:
		if d.WorldSeed, err = strconv.ParseInt(seed, 10, 64); err != nil {
			return fmt.Errorf("world seed %q: %w", seed, err)
		}
	}

	var seen string
	err = db.conn.GetContext(ctx, &seen, "SELECT value FROM world_meta WHERE key = ?", metaSeenLog)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load seen log: %w", err)
	default:
		d.SeenLog = []string{}
		if err := json.Unmarshal([]byte(seen), &d.SeenLog); err != nil {
			return fmt.Errorf("seen log: %w", err)
		}
	}
	return nil
}

// Save writes d (full replace).
func (db *DB) Save(ctx context.Context, d *state.Durable) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"counters", "instances", "schedule"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, name := range d.Counters.Names() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO counters (name, value) VALUES (?, ?)",
			name, d.Counters[name]); err != nil {
			return fmt.Errorf("insert counter %s: %w", name, err)
		}
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO schedule
		(seed, tick, seq, id, kind, attempts, params_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	scheduled := 0
	for _, seed := range d.Seeds() {
		inst := d.Instances[seed]
		if err := saveInstance(ctx, tx, inst); err != nil {
			return err
		}
		for _, tick := range inst.Schedule.Ticks() {
			for seq, e := range inst.Schedule.Bucket(tick) {
				if e.Action.Kind() == scheduler.KindContinuation {
					continue
				}
				paramsJSON, _ := json.Marshal(state.EntryParams(e.Action))
				if _, err := stmt.ExecContext(ctx,
					seed, tick, seq, e.ID.String(), e.Action.Kind().String(), e.Attempts, string(paramsJSON),
				); err != nil {
					return fmt.Errorf("insert schedule entry %s: %w", e.ID, err)
				}
				scheduled++
			}
		}
	}

	meta := map[string]string{
		"scheduled_entries": strconv.Itoa(scheduled),
		metaWorldSeed:       strconv.FormatInt(d.WorldSeed, 10),
	}
	if d.SeenLog != nil {
		seenJSON, err := json.Marshal(d.SeenLog)
		if err != nil {
			return fmt.Errorf("seen log: %w", err)
		}
		meta[metaSeenLog] = string(seenJSON)
	} else if _, err := tx.ExecContext(ctx, "DELETE FROM world_meta WHERE key = ?", metaSeenLog); err != nil {
		return fmt.Errorf("clear seen log: %w", err)
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
			key, value); err != nil {
			return fmt.Errorf("save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("state saved", "instances", len(d.Instances), "scheduled", scheduled)
	return nil
}

func saveInstance(ctx context.Context, tx *sqlx.Tx, inst *state.Instance) error {
	moodJSON, err := json.Marshal(inst.Mood)
	if err != nil {
		return fmt.Errorf("instance %d mood: %w", inst.Seed, err)
	}
	dead := make([]string, 0, len(inst.Dead))
	for name, ok := range inst.Dead {
		if ok {
			dead = append(dead, name)
		}
	}
	deadJSON, _ := json.Marshal(dead)

	_, err = tx.ExecContext(ctx, `INSERT INTO instances
		(seed, altar_state, last_polled_tick, mood_json, dead_json)
		VALUES (?, ?, ?, ?, ?)`,
		inst.Seed, inst.AltarState, inst.LastPolledTick, string(moodJSON), string(deadJSON),
	)
	if err != nil {
		return fmt.Errorf("insert instance %d: %w", inst.Seed, err)
	}
	return nil
}

// RecordDispatch appends one journal row.
func (db *DB) RecordDispatch(ctx context.Context, d pantheon.Dispatch) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO dispatches
		(tick, seed, entry_id, kind, subject, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Tick, d.Seed, d.EntryID, d.Kind, d.Subject, string(d.Outcome), d.Error,
	)
	return err
}

// RecentDispatches returns the most recent N journal rows, newest first.
func (db *DB) RecentDispatches(ctx context.Context, limit int) ([]pantheon.Dispatch, error) {
	var rows []pantheon.Dispatch
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT tick, seed, entry_id, kind, subject, outcome, error
		 FROM dispatches ORDER BY id DESC LIMIT ?`,
		limit,
	)
	return rows, err
}

// EntryHistory returns every journal row for one scheduled entry, oldest
// first.
func (db *DB) EntryHistory(ctx context.Context, entryID string) ([]pantheon.Dispatch, error) {
	var rows []pantheon.Dispatch
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT tick, seed, entry_id, kind, subject, outcome, error
		 FROM dispatches WHERE entry_id = ? ORDER BY id`,
		entryID,
	)
	return rows, err
}

// SaveMeta stores a key-value pair in the metadata table.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key yields "" and no error.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
