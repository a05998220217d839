package onesmart

import (
	"reflect"
	"testing"
)

func TestCacheLookup(t *testing.T) {
	c := NewCache()
	c.put(KeyMeters, []any{map[string]any{"id": int64(1), "name": "Grid"}})
	c.mergeApparatus("10", map[string]any{"room_temp": 21.5})
	c.putSiteUpdate(map[string]any{"mode": "AWAY"})

	tests := []struct {
		name   string
		key    CacheKey
		path   string
		want   any
		wantOK bool
	}{
		{name: "nested mapping", key: KeyApparatus, path: "10.room_temp", want: 21.5, wantOK: true},
		{name: "list index", key: KeyMeters, path: "0.name", want: "Grid", wantOK: true},
		{name: "site mode", key: KeySiteUpdate, path: "mode", want: "AWAY", wantOK: true},
		{name: "missing attribute", key: KeyApparatus, path: "10.nothing", wantOK: false},
		{name: "index out of range", key: KeyMeters, path: "3.name", wantOK: false},
		{name: "missing entry", key: KeyRooms, path: "1", wantOK: false},
		{name: "through scalar", key: KeySiteUpdate, path: "mode.x", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Lookup(tt.key, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%s, %q) ok = %v, want %v", tt.key, tt.path, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Lookup(%s, %q) = %v, want %v", tt.key, tt.path, got, tt.want)
			}
		})
	}
}

func TestCacheMergeApparatusKeepsOtherAttributes(t *testing.T) {
	c := NewCache()
	c.mergeApparatus("10", map[string]any{"a": 1, "b": 2})
	before, _ := c.Get(KeyApparatus)

	c.mergeApparatus("10", map[string]any{"b": 3, "c": 4})
	c.mergeApparatus("12", map[string]any{"x": 5})

	want := map[string]any{"a": 1, "b": 3, "c": 4}
	if got, _ := c.Lookup(KeyApparatus, "10"); !reflect.DeepEqual(got, want) {
		t.Errorf("device 10 = %v, want %v", got, want)
	}
	if got, _ := c.Lookup(KeyApparatus, "12.x"); got != 5 {
		t.Errorf("device 12 x = %v, want 5", got)
	}

	// Values handed out earlier are never mutated.
	old := before.(map[string]any)["10"].(map[string]any)
	if !reflect.DeepEqual(old, map[string]any{"a": 1, "b": 2}) {
		t.Errorf("earlier snapshot changed to %v", old)
	}
}

func TestCacheMeterPowerRequiresMeters(t *testing.T) {
	c := NewCache()
	readings := map[string]any{"1": int64(350)}

	if c.mergeMeterPower(readings) {
		t.Error("mergeMeterPower() applied readings before meters were loaded")
	}
	if _, ok := c.Get(KeyEnergyConsumption); ok {
		t.Error("energy_consumption entry created before meters were loaded")
	}

	c.put(KeyMeters, []any{map[string]any{"id": int64(1)}})
	if !c.mergeMeterPower(readings) {
		t.Fatal("mergeMeterPower() rejected readings with meters loaded")
	}
	if got, _ := c.Lookup(KeyEnergyConsumption, "1"); got != int64(350) {
		t.Errorf("power reading = %v, want 350", got)
	}
}

func TestCacheMarkPresetActive(t *testing.T) {
	c := NewCache()
	if c.markPresetActive("1") {
		t.Error("markPresetActive() succeeded with no presets cached")
	}

	c.put(KeyPresets, map[string]any{"1": map[string]any{"id": int64(1), "name": "Relax"}})
	before, _ := c.Lookup(KeyPresets, "1")

	if !c.markPresetActive("1") {
		t.Fatal("markPresetActive() = false for a cached preset")
	}
	if got, _ := c.Lookup(KeyPresets, "1."+FieldActive); got != true {
		t.Errorf("active = %v, want true", got)
	}
	if _, set := before.(map[string]any)[FieldActive]; set {
		t.Error("earlier preset value was mutated")
	}
}

func TestCacheKeysAndLen(t *testing.T) {
	c := NewCache()
	c.put(KeyRooms, map[string]any{"1": nil, "2": nil})
	c.put(KeySite, map[string]any{"name": "Home"})

	if got := c.Keys(); !reflect.DeepEqual(got, []CacheKey{KeyRooms, KeySite}) {
		t.Errorf("Keys() = %v", got)
	}
	if c.Len(KeyRooms) != 2 {
		t.Errorf("Len(rooms) = %d, want 2", c.Len(KeyRooms))
	}
	if c.Len(KeyDevices) != 0 {
		t.Errorf("Len(devices) = %d, want 0", c.Len(KeyDevices))
	}
	if len(c.Snapshot()) != 2 {
		t.Errorf("Snapshot() has %d entries, want 2", len(c.Snapshot()))
	}
}

func TestCacheKeySplit(t *testing.T) {
	cmd, action, ok := KeyEnergyTotal.Split()
	if !ok || cmd != CmdEnergy || action != ActionTotal {
		t.Errorf("Split() = %q, %q, %v", cmd, action, ok)
	}
	if _, _, ok := KeySiteUpdate.Split(); ok {
		t.Error("event key split as command key")
	}
}
