package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Registry maps live connections to a (room, player name) pair. A bare
// connection is registered with empty fields on upgrade and bound to a
// room at joinRoom.
type Registry struct {
	db *sql.DB
}

func newRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Add registers or rebinds a connection.
func (r *Registry) Add(ctx context.Context, connectionID, roomID, playerName string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connections (connection_id, room_id, player_name, joined_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (connection_id) DO UPDATE SET room_id = excluded.room_id, player_name = excluded.player_name`,
		connectionID, roomID, playerName, nowUTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("add connection %s: %w", connectionID, err)
	}
	return nil
}

// Remove drops a connection. Removing an unknown connection is not an
// error.
func (r *Registry) Remove(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("remove connection %s: %w", connectionID, err)
	}
	return nil
}

// Get looks a connection up; ok is false for unknown connections.
func (r *Registry) Get(ctx context.Context, connectionID string) (roomID, playerName string, ok bool, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT room_id, player_name FROM connections WHERE connection_id = ?`, connectionID,
	).Scan(&roomID, &playerName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("get connection %s: %w", connectionID, err)
	}
	return roomID, playerName, true, nil
}
