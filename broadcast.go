package main

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// client is one live websocket connection. Messages are queued on a
// buffered channel and written by a single goroutine so broadcasts never
// interleave writes on the underlying connection.
type client struct {
	conn         *websocket.Conn
	send         chan any
	connectionID string
}

func newClient(conn *websocket.Conn, connectionID string) *client {
	return &client{
		conn:         conn,
		send:         make(chan any, 8),
		connectionID: connectionID,
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Broadcaster fans messages out to every connection registered to a
// room. Delivery is at-least-effort: a slow or dead recipient is logged,
// evicted from the registry and skipped, never retried.
type Broadcaster struct {
	cfg      *Config
	store    *Store
	registry *Registry

	mu    sync.RWMutex
	conns map[string]*client
}

func newBroadcaster(cfg *Config, store *Store, registry *Registry) *Broadcaster {
	return &Broadcaster{
		cfg:      cfg,
		store:    store,
		registry: registry,
		conns:    make(map[string]*client),
	}
}

func (b *Broadcaster) register(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.connectionID] = c
}

func (b *Broadcaster) unregister(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[connectionID]; ok {
		delete(b.conns, connectionID)
		close(c.send)
	}
}

// sendTo queues a message for a single connection, typically an error
// reply to the offending client.
func (b *Broadcaster) sendTo(ctx context.Context, connectionID string, msg any) {
	b.deliver(ctx, connectionID, msg)
}

// fanOut loads the room's roster and attempts delivery to every player's
// connection. One bad connection never blocks the rest of the room.
func (b *Broadcaster) fanOut(ctx context.Context, roomID string, msg any) {
	g, err := b.store.Load(ctx, roomID)
	if err != nil {
		logf(b.cfg, "CAST: Failed to load room %s for fan-out: %v", roomID, err)
		return
	}
	if g == nil {
		return
	}

	for i := range g.Players {
		b.deliver(ctx, g.Players[i].ConnectionID, msg)
	}
}

// deliver queues a message, evicting the recipient when its buffer is
// full. Eviction also drops the registry row so a dead connection is not
// retried on the next fan-out. The send happens under the read lock so
// it cannot race unregister closing the channel.
func (b *Broadcaster) deliver(ctx context.Context, connectionID string, msg any) {
	b.mu.RLock()
	c, registered := b.conns[connectionID]
	queued := false
	if registered {
		select {
		case c.send <- msg:
			queued = true
		default:
		}
	}
	b.mu.RUnlock()
	if !registered || queued {
		return
	}

	logf(b.cfg, "CAST: Evicting unresponsive connection %s", connectionID)
	b.unregister(connectionID)
	if err := b.registry.Remove(ctx, connectionID); err != nil {
		logf(b.cfg, "CAST: Failed to drop connection %s from registry: %v", connectionID, err)
	}
}
