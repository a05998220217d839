package onesmart

import (
	"fmt"
	"sync"
)

// UpdateFlag asks the poll loop to re-fetch one cache entry on its next
// cycle. DeviceID narrows an apparatus/get refresh to one device.
type UpdateFlag struct {
	Command  Command
	Action   Action
	DeviceID string
}

// FlagFor builds the flag that refreshes key.
func FlagFor(key CacheKey) (UpdateFlag, error) {
	cmd, action, ok := key.Split()
	if !ok {
		return UpdateFlag{}, fmt.Errorf("%w: %q is not command-keyed", ErrInvalidFlag, key)
	}
	f := UpdateFlag{Command: cmd, Action: action}
	if _, known := fetchers[f.Key()]; !known {
		return UpdateFlag{}, fmt.Errorf("%w: no fetch for %q", ErrInvalidFlag, key)
	}
	return f, nil
}

// ApparatusFlag refreshes every polled attribute of one device.
func ApparatusFlag(deviceID string) UpdateFlag {
	return UpdateFlag{Command: CmdApparatus, Action: ActionGet, DeviceID: deviceID}
}

// Key returns the cache key the flag refreshes.
func (f UpdateFlag) Key() CacheKey {
	return KeyFor(f.Command, f.Action)
}

// String renders the flag for logs.
func (f UpdateFlag) String() string {
	if f.DeviceID != "" {
		return string(f.Key()) + "#" + f.DeviceID
	}
	return string(f.Key())
}

// Seed flags queued when the poll channel (re)connects and on the
// definitions and cache intervals.
var (
	definitionFlags = []UpdateFlag{
		{Command: CmdSite, Action: ActionGet},
		{Command: CmdMeter, Action: ActionList},
		{Command: CmdDevice, Action: ActionList},
		{Command: CmdRoom, Action: ActionList},
		{Command: CmdPreset, Action: ActionList},
	}
	cacheFlags = []UpdateFlag{
		{Command: CmdEnergy, Action: ActionTotal},
	}
)

// flagQueue is a FIFO of update flags. Duplicates are kept: a flag queued
// twice is fetched twice. Safe for concurrent use.
type flagQueue struct {
	mu    sync.Mutex
	items []UpdateFlag
}

func (q *flagQueue) push(flags ...UpdateFlag) {
	q.mu.Lock()
	q.items = append(q.items, flags...)
	q.mu.Unlock()
}

// drain returns the queued flags in order and empties the queue.
func (q *flagQueue) drain() []UpdateFlag {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *flagQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
