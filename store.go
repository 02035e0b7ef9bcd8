package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// errVersionConflict is returned by Save when another writer got in
// between Load and Save. Handlers reload and retry.
var errVersionConflict = errors.New("game version conflict")

const schema = `
CREATE TABLE IF NOT EXISTS games (
	room_id    TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS connections (
	connection_id TEXT PRIMARY KEY,
	room_id       TEXT NOT NULL DEFAULT '',
	player_name   TEXT NOT NULL DEFAULT '',
	joined_at     INTEGER NOT NULL
);`

// openDB opens the sqlite database shared by the game store and the
// connection registry, creating the schema on first use.
func openDB(path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Store persists Game records keyed by room id, one JSON blob per room
// with a version stamp for optimistic concurrency.
type Store struct {
	db *sql.DB
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load fetches a game. An unknown room returns (nil, nil).
func (s *Store) Load(ctx context.Context, roomID string) (*Game, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM games WHERE room_id = ?`, roomID,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", roomID, err)
	}

	var g Game
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", roomID, err)
	}
	g.Version = version
	return &g, nil
}

// Save writes a game back, compare-and-set on the version it was loaded
// with. A zero version inserts; hitting an existing row or a concurrent
// update returns errVersionConflict.
func (s *Store) Save(ctx context.Context, g *Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game %s: %w", g.RoomID, err)
	}
	now := nowUTC().UnixMilli()

	if g.Version == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO games (room_id, version, data, updated_at) VALUES (?, 1, ?, ?)
			 ON CONFLICT (room_id) DO NOTHING`,
			g.RoomID, string(data), now)
		if err != nil {
			return fmt.Errorf("insert game %s: %w", g.RoomID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errVersionConflict
		}
		g.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE games SET version = ?, data = ?, updated_at = ? WHERE room_id = ? AND version = ?`,
		g.Version+1, string(data), now, g.RoomID, g.Version)
	if err != nil {
		return fmt.Errorf("update game %s: %w", g.RoomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errVersionConflict
	}
	g.Version++
	return nil
}

// Delete removes a game record. Deleting an unknown room is not an error.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete game %s: %w", roomID, err)
	}
	return nil
}

// StaleRooms lists rooms untouched since the cutoff, for the idle reaper.
func (s *Store) StaleRooms(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id FROM games WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stale rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
