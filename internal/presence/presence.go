// Package presence tracks which users currently hold a live connection.
package presence

import "sync"

// Conn defines the minimal interface the table needs from a connection:
// the ability to push an event to the connected client and to close it.
type Conn interface {
	Send(v any) error
	Close() error
}

// Status is one entry of a presence snapshot.
type Status struct {
	UserID   string
	Username string
	Status   string
}

type entry struct {
	username string
	connID   string
	conn     Conn
}

// Table is the process-wide presence registry, keyed by user id. At most
// one connection is registered per user: registering again replaces the
// prior record. Mutation happens only through the connection lifecycle;
// the relays only read.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewTable creates an empty presence table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register inserts or replaces the record for userID and returns the
// connection it displaced, if any. Registering the same connection twice
// is idempotent and returns nil.
func (t *Table) Register(userID, username, connID string, c Conn) Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.entries[userID]
	if ok && prev.connID == connID {
		return nil
	}

	t.entries[userID] = &entry{username: username, connID: connID, conn: c}
	if ok {
		return prev.conn
	}
	return nil
}

// Lookup returns the live connection for userID, if present.
func (t *Table) Lookup(userID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Deregister removes the record for userID, but only when it still
// belongs to the given connection. A disconnect racing a reconnect must
// not knock out the newer session's record. Reports whether a record was
// removed.
func (t *Table) Deregister(userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[userID]
	if !ok || e.connID != connID {
		return false
	}
	delete(t.entries, userID)
	return true
}

// Snapshot returns the current online roster.
func (t *Table) Snapshot() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.entries))
	for userID, e := range t.entries {
		out = append(out, Status{UserID: userID, Username: e.username, Status: "online"})
	}
	return out
}

// Broadcast sends the event to every registered connection except the
// given user. Delivery is best effort; send errors are left to the
// connection's own lifecycle to surface.
func (t *Table) Broadcast(exceptUserID string, v any) {
	t.mu.RLock()
	conns := make([]Conn, 0, len(t.entries))
	for userID, e := range t.entries {
		if userID == exceptUserID {
			continue
		}
		conns = append(conns, e.conn)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		_ = c.Send(v)
	}
}

// Count returns the number of registered users.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
