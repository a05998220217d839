package onesmart

import (
	"context"
	"reflect"
	"slices"
	"sort"
	"testing"
)

// fakeCommander answers commands from a function and records them.
type fakeCommander struct {
	calls   []Fields
	respond func(cmd Command, fields Fields) Result
}

func (f *fakeCommander) CommandWait(_ context.Context, cmd Command, fields Fields) Result {
	f.calls = append(f.calls, fields)
	return f.respond(cmd, fields)
}

func okResult(v any) Result {
	return Result{Status: ResultOK, Message: Message{HasTransaction: true, Result: v}}
}

func discoveryCache() *Cache {
	c := NewCache()
	c.put(KeySite, map[string]any{"nodeID": "node1", "name": "Home"})
	c.put(KeyMeters, []any{
		map[string]any{"id": int64(1), "name": "Grid"},
		map[string]any{"id": int64(2)},
	})
	c.put(KeyDevices, map[string]any{
		"10": map[string]any{"id": int64(10), "name": "Heat pump", "group": "CLIMATE", "room": int64(1), "visible": true},
		"11": map[string]any{"id": int64(11), "name": "Hidden", "group": "CLIMATE", "visible": false},
		"12": map[string]any{"id": int64(12), "name": "Kitchen", "group": "LIGHTS", "room": int64(1), "visible": true},
	})
	c.put(KeyRooms, map[string]any{"1": map[string]any{"id": int64(1), "name": "Living"}})
	c.put(KeyPresets, map[string]any{
		"1": map[string]any{"id": int64(1), "name": "Relax", "room": int64(1), "group": "LIGHTS"},
		"2": map[string]any{"id": int64(2), "name": "Bright", "room": int64(1), "group": "LIGHTS"},
		"3": map[string]any{"id": int64(3), "name": "Solo", "room": int64(2), "group": "LIGHTS"},
	})
	return c
}

func fixtureCommander(mode OutputMode) *fakeCommander {
	return &fakeCommander{respond: func(cmd Command, fields Fields) Result {
		id := idString(fields[FieldID])
		switch fields[FieldAction] {
		case ActionList:
			switch id {
			case "10":
				return okResult(map[string]any{"attributes": heatPumpAttributes})
			case "12":
				return okResult(map[string]any{"attributes": []any{
					map[string]any{"name": "output_1", "access": "READWRITE", "type": "NUMBER"},
					map[string]any{"name": "outputmode", "access": "READWRITE", "type": "NUMBER"},
				}})
			}
		case ActionGet:
			return okResult(map[string]any{"attributes": map[string]any{"outputmode": int64(mode)}})
		}
		return Result{Status: ResultError, Err: ErrGatewayError}
	}}
}

func TestDiscoverSkipsInvisibleDevices(t *testing.T) {
	c := fixtureCommander(OutputDimmer)
	d := Discover(context.Background(), c, discoveryCache(), noopLogger{})

	for _, call := range c.calls {
		if idString(call[FieldID]) == "11" {
			t.Error("apparatus/list issued for an invisible device")
		}
	}
	if got := d.Devices(); !reflect.DeepEqual(got, []string{"10", "12"}) {
		t.Errorf("Devices() = %v, want [10 12]", got)
	}
}

func TestDiscoverDescriptors(t *testing.T) {
	d := Discover(context.Background(), fixtureCommander(OutputDimmer), discoveryCache(), noopLogger{})

	ids := func(p Platform) []string {
		var out []string
		for _, desc := range d.Entities(p) {
			out = append(out, desc.ID)
		}
		sort.Strings(out)
		return out
	}

	tests := []struct {
		platform Platform
		want     []string
	}{
		{PlatformClimate, []string{"onesmart-10-heat_pump"}},
		{PlatformSwitch, nil},
		{PlatformLight, []string{"onesmart-12-output_1"}},
		{PlatformSelect, []string{"onesmart-room1-preset_lights"}},
		{PlatformAlarmPanel, []string{"onesmart-node1-site_mode"}},
		{PlatformSensor, []string{
			"onesmart-10-compressor_power",
			"onesmart-10-outdoor_temp",
			"onesmart-meter1-energy",
			"onesmart-meter1-power",
			"onesmart-meter2-energy",
			"onesmart-meter2-power",
		}},
		{PlatformWaterHeater, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			if got := ids(tt.platform); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Entities(%s) = %v, want %v", tt.platform, got, tt.want)
			}
		})
	}
}

func TestDiscoverTemplateAttributesNotReclassified(t *testing.T) {
	d := Discover(context.Background(), fixtureCommander(OutputDimmer), discoveryCache(), noopLogger{})

	claimed := make(map[string]bool)
	for _, name := range capabilityTemplates[0].Roles {
		claimed[descriptorID("10", name)] = true
	}
	for _, p := range []Platform{PlatformSensor, PlatformSwitch, PlatformSelect, PlatformLight} {
		for _, desc := range d.Entities(p) {
			if claimed[desc.ID] {
				t.Errorf("template attribute also produced %s descriptor %s", p, desc.ID)
			}
		}
	}

	// Claimed attributes stay in the poll set.
	schedule := d.schedule["10"]
	for _, name := range capabilityTemplates[0].Roles {
		if !slices.Contains(schedule, name) {
			t.Errorf("poll set %v lacks template attribute %s", schedule, name)
		}
	}
}

func TestDiscoverClimateTemplate(t *testing.T) {
	d := Discover(context.Background(), fixtureCommander(OutputDimmer), discoveryCache(), noopLogger{})
	climate := d.Entities(PlatformClimate)
	if len(climate) != 1 {
		t.Fatalf("got %d climate descriptors, want 1", len(climate))
	}
	c := climate[0]

	if c.Attributes[RoleTargetTemp] != "10.hc_thermostat_target_temperature_zone1" {
		t.Errorf("target path = %q", c.Attributes[RoleTargetTemp])
	}
	if c.Modes[HVACModeAuto] != "on" || c.Actions["legionella"] != HVACActionOff {
		t.Errorf("mode/action maps = %v / %v", c.Modes, c.Actions)
	}
	if _, err := c.Template(CommandSetValue); err != nil {
		t.Errorf("writable target has no set_value: %v", err)
	}
	if _, err := c.Template(CommandSetMode); err != nil {
		t.Errorf("writable on/off has no set_mode: %v", err)
	}
}

func TestDiscoverLightOutputModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      OutputMode
		wantLight bool
		wantColor string
	}{
		{name: "dimmer", mode: OutputDimmer, wantLight: true, wantColor: ColorModeBrightness},
		{name: "relay", mode: OutputRelay, wantLight: true, wantColor: ColorModeOnOff},
		{name: "binary", mode: OutputBinary, wantLight: true, wantColor: ColorModeOnOff},
		{name: "off", mode: OutputOff, wantLight: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Discover(context.Background(), fixtureCommander(tt.mode), discoveryCache(), noopLogger{})
			lights := d.Entities(PlatformLight)
			if (len(lights) == 1) != tt.wantLight {
				t.Fatalf("got %d lights, want light=%v", len(lights), tt.wantLight)
			}
			if !tt.wantLight {
				return
			}
			if lights[0].ColorMode != tt.wantColor {
				t.Errorf("ColorMode = %q, want %q", lights[0].ColorMode, tt.wantColor)
			}
			on, err := lights[0].Template(CommandTurnOn)
			if err != nil {
				t.Fatalf("Template(turn_on) error: %v", err)
			}
			if on.HasPlaceholder() != (tt.mode == OutputDimmer) {
				t.Errorf("turn_on placeholder = %v for %s", on.HasPlaceholder(), tt.name)
			}
		})
	}
}

func TestDiscoverIsolatesDeviceFailures(t *testing.T) {
	base := fixtureCommander(OutputDimmer)
	c := &fakeCommander{respond: func(cmd Command, fields Fields) Result {
		if idString(fields[FieldID]) == "10" {
			return Result{Status: ResultTimeout, Err: ErrCommandTimeout}
		}
		return base.respond(cmd, fields)
	}}

	d := Discover(context.Background(), c, discoveryCache(), noopLogger{})
	if got := d.Failed(); !reflect.DeepEqual(got, []string{"10"}) {
		t.Errorf("Failed() = %v, want [10]", got)
	}
	if got := d.Devices(); !reflect.DeepEqual(got, []string{"12"}) {
		t.Errorf("Devices() = %v, want [12]", got)
	}
	if len(d.Entities(PlatformLight)) != 1 {
		t.Error("failure of one device removed another device's descriptors")
	}
}

func TestDiscoverPresetSelect(t *testing.T) {
	d := Discover(context.Background(), fixtureCommander(OutputDimmer), discoveryCache(), noopLogger{})
	selects := d.Entities(PlatformSelect)
	if len(selects) != 1 {
		t.Fatalf("got %d selects, want 1", len(selects))
	}
	s := selects[0]
	if !reflect.DeepEqual(s.Options, []string{"Relax", "Bright"}) {
		t.Errorf("Options = %v, want [Relax Bright]", s.Options)
	}
	if s.Name != "Living Lights" {
		t.Errorf("Name = %q, want %q", s.Name, "Living Lights")
	}
	perform, err := s.Template("Bright")
	if err != nil {
		t.Fatalf("Template(Bright) error: %v", err)
	}
	if perform.Command != CmdPreset || perform.Fields[FieldID] != int64(2) {
		t.Errorf("perform template = %+v", perform)
	}
}

func TestDiscoverAlarmPanel(t *testing.T) {
	d := Discover(context.Background(), fixtureCommander(OutputDimmer), discoveryCache(), noopLogger{})
	panels := d.Entities(PlatformAlarmPanel)
	if len(panels) != 1 {
		t.Fatalf("got %d panels, want 1", len(panels))
	}
	p := panels[0]
	if p.Source != KeySiteUpdate || p.Key != FieldMode {
		t.Errorf("panel source = %s/%s, want site_update/mode", p.Source, p.Key)
	}
	away, err := p.Template(CommandArmAway)
	if err != nil {
		t.Fatalf("Template(arm_away) error: %v", err)
	}
	if away.Command != CmdSitePreset || away.Fields[FieldPerform] != SitePresetAway {
		t.Errorf("arm_away template = %+v", away)
	}
}

func TestRedefineKeepsSchedule(t *testing.T) {
	cache := discoveryCache()
	c := fixtureCommander(OutputDimmer)
	d := Discover(context.Background(), c, cache, noopLogger{})
	calls := len(c.calls)

	cache.put(KeyMeters, []any{map[string]any{"id": int64(1), "name": "Grid"}})
	next := d.Redefine(cache)

	if len(c.calls) != calls {
		t.Error("Redefine() issued gateway commands")
	}
	if next.generation != d.generation {
		t.Error("Redefine() changed the schedule generation")
	}
	if !reflect.DeepEqual(next.Schedule("10"), d.Schedule("10")) {
		t.Error("Redefine() changed the poll schedule")
	}
	if got := len(next.Entities(PlatformSensor)); got != len(d.Entities(PlatformSensor))-2 {
		t.Errorf("sensors after dropping a meter = %d, want %d", got, len(d.Entities(PlatformSensor))-2)
	}
}

func TestRoundRobin(t *testing.T) {
	d := &Discovery{
		generation: 1,
		schedule:   map[string][]string{"10": {"a", "b", "c", "d", "e"}},
		devices:    []string{"10"},
	}

	var r roundRobin
	var batches [][]string
	for i := 0; i < 3; i++ {
		batch, _ := r.next(d, "10", 2)
		batches = append(batches, batch)
	}
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(batches, want) {
		t.Errorf("batches = %v, want %v", batches, want)
	}
	if !r.cycleComplete(d) {
		t.Error("cycleComplete() = false after a full pass")
	}
	if r.cycleComplete(d) {
		t.Error("cycleComplete() = true twice for one pass")
	}

	// A new discovery resets the cursors.
	next := &Discovery{generation: 2, schedule: d.schedule, devices: d.devices}
	if batch, _ := r.next(next, "10", 2); !reflect.DeepEqual(batch, []string{"a", "b"}) {
		t.Errorf("batch after new generation = %v, want [a b]", batch)
	}
}

func TestDiscoveryDescriptorLookup(t *testing.T) {
	d := Discover(context.Background(), fixtureCommander(OutputDimmer), discoveryCache(), noopLogger{})

	got, ok := d.Descriptor("onesmart-12-output_1")
	if !ok || got.Platform != PlatformLight {
		t.Errorf("Descriptor(light) = %+v, %v", got, ok)
	}
	if _, ok := d.Descriptor("onesmart-99-missing"); ok {
		t.Error("Descriptor() found an unknown id")
	}
	var empty *Discovery
	if _, ok := empty.Descriptor("x"); ok {
		t.Error("nil Discovery returned a descriptor")
	}
}
