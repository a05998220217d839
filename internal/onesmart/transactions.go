package onesmart

import (
	"sync"
	"time"
)

// transaction is one request awaiting or holding its response.
type transaction struct {
	command  Command
	sentAt   time.Time
	detached bool
	done     bool
	msg      Message
}

// registry correlates responses with the commands that caused them.
//
// Ids are a per-connection counter starting at 1 that wraps after
// MaxTransactionID, skipping ids still in use. Safe for concurrent use.
type registry struct {
	mu      sync.Mutex
	last    uint32
	entries map[uint32]*transaction
	now     func() time.Time
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[uint32]*transaction),
		now:     time.Now,
	}
}

// register allocates the next id for cmd and records it as pending.
// Detached transactions have their response discarded on arrival.
func (r *registry) register(cmd Command, detached bool) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.last
	for range MaxTransactionID {
		id++
		if id > MaxTransactionID {
			id = 1
		}
		if _, busy := r.entries[id]; !busy {
			break
		}
	}
	r.last = id
	r.entries[id] = &transaction{command: cmd, sentAt: r.now(), detached: detached}
	return id
}

// resolve stores msg against its transaction. It returns the entry's
// command and whether the id was known; detached entries are dropped.
func (r *registry) resolve(msg Message) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.entries[msg.Transaction]
	if !ok {
		return "", false
	}
	if tx.detached {
		delete(r.entries, msg.Transaction)
		return tx.command, true
	}
	tx.done = true
	tx.msg = msg
	return tx.command, true
}

// pop removes and returns a resolved transaction. Pending entries are left
// in place.
func (r *registry) pop(id uint32) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.entries[id]
	if !ok || !tx.done {
		return Message{}, false
	}
	delete(r.entries, id)
	return tx.msg, true
}

// abandon marks a transaction whose waiter gave up. A late response is
// discarded instead of being retained forever.
func (r *registry) abandon(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.entries[id]
	if !ok {
		return
	}
	if tx.done {
		delete(r.entries, id)
		return
	}
	tx.detached = true
}

// forget drops an entry whose command was never written.
func (r *registry) forget(id uint32) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// prune removes detached entries older than maxAge and returns how many
// were removed.
func (r *registry) prune(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, tx := range r.entries {
		if tx.detached && tx.sentAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// reset clears all entries and restarts the counter. Called on reconnect.
func (r *registry) reset() {
	r.mu.Lock()
	r.last = 0
	r.entries = make(map[uint32]*transaction)
	r.mu.Unlock()
}

// pending returns the number of entries still tracked.
func (r *registry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
