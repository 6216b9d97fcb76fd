// Package seed provides the local event cache used to seed engine state
// before the live subscription catches up. SQLite with WAL mode; safe for a
// single writer with concurrent readers.
package seed

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tradeflow/internal/event"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Store is the on-disk event cache.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Idempotent; safe to call on an existing cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the cache.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries. Prefer the Store
// methods when one fits.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Save upserts one event. The newest copy of an id wins by published_at;
// an older duplicate leaves the stored row untouched.
func (s *Store) Save(ev *event.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("refusing to cache event without id")
	}

	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags for %s: %w", ev.ID, err)
	}
	data := []byte("{}")
	if ev.Data != nil {
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal data for %s: %w", ev.ID, err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, kind, author, published_at, tags, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			author = excluded.author,
			published_at = excluded.published_at,
			tags = excluded.tags,
			data = excluded.data
		WHERE excluded.published_at > events.published_at`,
		ev.ID, ev.Kind, ev.Author, ev.PublishedAt.Unix(), string(tags), string(data))
	if err != nil {
		return fmt.Errorf("cache event %s: %w", ev.ID, err)
	}
	return nil
}

// SaveAll upserts a batch of events in one transaction.
func (s *Store) SaveAll(events []*event.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin cache batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (id, kind, author, published_at, tags, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			author = excluded.author,
			published_at = excluded.published_at,
			tags = excluded.tags,
			data = excluded.data
		WHERE excluded.published_at > events.published_at`)
	if err != nil {
		return fmt.Errorf("prepare cache batch: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if ev == nil || ev.ID == "" {
			continue
		}
		tags, err := json.Marshal(ev.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags for %s: %w", ev.ID, err)
		}
		data := []byte("{}")
		if ev.Data != nil {
			data, err = json.Marshal(ev.Data)
			if err != nil {
				return fmt.Errorf("marshal data for %s: %w", ev.ID, err)
			}
		}
		if _, err := stmt.Exec(ev.ID, ev.Kind, ev.Author, ev.PublishedAt.Unix(), string(tags), string(data)); err != nil {
			return fmt.Errorf("cache event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache batch: %w", err)
	}
	return nil
}

// LoadKinds returns cached events of the given kinds, newest first. An empty
// kinds list loads everything.
func (s *Store) LoadKinds(kinds []int) ([]*event.Event, error) {
	query := `SELECT id, kind, author, published_at, tags, data FROM events`
	args := make([]any, 0, len(kinds))
	if len(kinds) > 0 {
		query += ` WHERE kind IN (?` + repeatPlaceholder(len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	query += ` ORDER BY published_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load cached events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var (
			ev       event.Event
			unixSecs int64
			tagsRaw  string
			dataRaw  string
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Author, &unixSecs, &tagsRaw, &dataRaw); err != nil {
			return nil, fmt.Errorf("scan cached event: %w", err)
		}
		ev.PublishedAt = time.Unix(unixSecs, 0).UTC()
		if err := json.Unmarshal([]byte(tagsRaw), &ev.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(dataRaw), &ev.Data); err != nil {
			return nil, fmt.Errorf("decode data for %s: %w", ev.ID, err)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached events: %w", err)
	}
	return out, nil
}

// Count returns the number of cached events.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached events: %w", err)
	}
	return n, nil
}

// CountByKind returns cached event counts per kind.
func (s *Store) CountByKind() (map[int]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count cached events by kind: %w", err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var kind, n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and stamps the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}
