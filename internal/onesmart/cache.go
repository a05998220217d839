package onesmart

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// CacheKey names one cache entry: a "command/action" pair for polled data
// or an event type for pushed data.
type CacheKey string

// Cache keys.
const (
	KeySite              CacheKey = "site/get"
	KeyMeters            CacheKey = "meter/list"
	KeyDevices           CacheKey = "device/list"
	KeyRooms             CacheKey = "room/list"
	KeyPresets           CacheKey = "preset/list"
	KeyEnergyTotal       CacheKey = "energy/total"
	KeyApparatus         CacheKey = "apparatus/get"
	KeyEnergyConsumption CacheKey = CacheKey(EventEnergyConsumption)
	KeySiteUpdate        CacheKey = CacheKey(EventSiteUpdate)
)

// KeyFor builds the cache key of a command/action pair.
func KeyFor(cmd Command, action Action) CacheKey {
	return CacheKey(string(cmd) + "/" + string(action))
}

// Split returns the command and action of a command-keyed entry.
func (k CacheKey) Split() (Command, Action, bool) {
	cmd, action, ok := strings.Cut(string(k), "/")
	if !ok {
		return "", "", false
	}
	return Command(cmd), Action(action), true
}

// Cache is the last known gateway state.
//
// Readers use Get, Lookup and Snapshot. Writes are unexported and split per
// producer: the poll loop owns command-keyed entries, the push loop owns
// event-keyed entries, and both may write the site-update entry (last
// writer wins). Writers replace values instead of mutating them, so a value
// returned by Get is never changed afterwards and must not be modified by
// the caller.
//
// Entries are never deleted.
type Cache struct {
	mu      sync.RWMutex
	entries map[CacheKey]any
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey]any)}
}

// Get returns the value stored under key.
func (c *Cache) Get(key CacheKey) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Snapshot returns every entry. The map is a copy; the values are shared
// and immutable.
func (c *Cache) Snapshot() map[CacheKey]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[CacheKey]any, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Keys returns the populated keys in sorted order.
func (c *Cache) Keys() []CacheKey {
	c.mu.RLock()
	keys := make([]CacheKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Lookup resolves a dotted path inside an entry, e.g. "12.room_temp" under
// KeyApparatus. An empty path returns the whole entry. Numeric segments
// index lists.
func (c *Cache) Lookup(key CacheKey, path string) (any, bool) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	if path == "" {
		return v, true
	}
	for _, part := range strings.Split(path, ".") {
		switch t := v.(type) {
		case map[string]any:
			v, ok = t[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			v, ok = t[i], true
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}
	return v, true
}

// Len returns the number of elements of a list or mapping entry; zero when
// absent or scalar.
func (c *Cache) Len(key CacheKey) int {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t)
	case []any:
		return len(t)
	default:
		return 0
	}
}

// put replaces an entry. Poll loop only, for command-keyed entries.
func (c *Cache) put(key CacheKey, value any) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

// putSiteUpdate replaces the site-update entry. Written by both loops.
func (c *Cache) putSiteUpdate(value any) {
	c.put(KeySiteUpdate, value)
}

// mergeApparatus merges polled attribute values into a device's entry,
// keeping attributes outside this batch. Poll loop only.
func (c *Cache) mergeApparatus(deviceID string, attrs map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, _ := c.entries[KeyApparatus].(map[string]any)
	devices := make(map[string]any, len(prev)+1)
	for k, v := range prev {
		devices[k] = v
	}

	old, _ := devices[deviceID].(map[string]any)
	merged := make(map[string]any, len(old)+len(attrs))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	devices[deviceID] = merged
	c.entries[KeyApparatus] = devices
}

// mergeMeterPower records live power readings. Readings are dropped while
// no meter definitions exist. Push loop only.
//
// Returns:
//   - bool: true if the readings were applied
func (c *Cache) mergeMeterPower(readings map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !populated(c.entries[KeyMeters]) {
		return false
	}

	prev, _ := c.entries[KeyEnergyConsumption].(map[string]any)
	next := make(map[string]any, len(prev)+len(readings))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range readings {
		next[k] = v
	}
	c.entries[KeyEnergyConsumption] = next
	return true
}

// markPresetActive flags a cached preset as active. Push loop only.
//
// Returns:
//   - bool: false if the preset is not cached
func (c *Cache) markPresetActive(presetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	presets, _ := c.entries[KeyPresets].(map[string]any)
	preset, ok := presets[presetID].(map[string]any)
	if !ok {
		return false
	}

	updated := make(map[string]any, len(preset)+1)
	for k, v := range preset {
		updated[k] = v
	}
	updated[FieldActive] = true

	next := make(map[string]any, len(presets))
	for k, v := range presets {
		next[k] = v
	}
	next[presetID] = updated
	c.entries[KeyPresets] = next
	return true
}

// populated reports whether v is a non-empty list or mapping.
func populated(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return false
	}
}
