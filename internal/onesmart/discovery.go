package onesmart

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Device is one entry of the device/list cache.
type Device struct {
	ID      string
	WireID  any // id as sent by the gateway, echoed back in commands
	Name    string
	Type    string
	Group   string
	Room    string
	Visible bool
}

// Attribute is one entry of an apparatus/list response.
type Attribute struct {
	Name   string
	Access Access
	Type   string
	Enum   []string
}

// commander sends a command and waits for its response.
type commander interface {
	CommandWait(ctx context.Context, cmd Command, fields Fields) Result
}

// Discovery is the outcome of one discovery pass. It is immutable once
// built and replaced as a whole when the device list changes.
type Discovery struct {
	generation  uint64
	deviceDescs []Descriptor
	byPlatform  map[Platform][]Descriptor
	schedule    map[string][]string
	wireIDs     map[string]any
	devices     []string
	failed      []string
}

// generations numbers device discoveries so poll cursors survive a
// definitions-only refresh.
var generations atomic.Uint64

// Entities returns the descriptors of one platform.
func (d *Discovery) Entities(platform Platform) []Descriptor {
	if d == nil {
		return nil
	}
	return append([]Descriptor(nil), d.byPlatform[platform]...)
}

// Descriptors returns every descriptor, grouped by platform.
func (d *Discovery) Descriptors() []Descriptor {
	if d == nil {
		return nil
	}
	var out []Descriptor
	for _, p := range Platforms {
		out = append(out, d.byPlatform[p]...)
	}
	return out
}

// Descriptor returns the descriptor with the given id.
func (d *Discovery) Descriptor(id string) (Descriptor, bool) {
	if d == nil {
		return Descriptor{}, false
	}
	for _, p := range Platforms {
		for _, desc := range d.byPlatform[p] {
			if desc.ID == id {
				return desc, true
			}
		}
	}
	return Descriptor{}, false
}

// Devices returns the ids of devices with a poll schedule, sorted.
func (d *Discovery) Devices() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.devices...)
}

// Schedule returns the attributes polled for a device.
func (d *Discovery) Schedule(deviceID string) []string {
	if d == nil {
		return nil
	}
	return d.schedule[deviceID]
}

// Failed returns the ids of devices whose attribute listing failed.
func (d *Discovery) Failed() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.failed...)
}

func (d *Discovery) wireID(deviceID string) any {
	if id, ok := d.wireIDs[deviceID]; ok {
		return id
	}
	return deviceID
}

// Len returns the number of descriptors.
func (d *Discovery) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, list := range d.byPlatform {
		n += len(list)
	}
	return n
}

func (d *Discovery) add(desc Descriptor) {
	d.byPlatform[desc.Platform] = append(d.byPlatform[desc.Platform], desc)
}

// Discover builds descriptors for the cached devices, meters, presets and
// site.
//
// Each visible device costs one apparatus/list round trip plus one
// outputmode query per lighting output. A device whose listing fails is
// recorded in Failed and skipped; the others are unaffected.
//
// Parameters:
//   - ctx: Context for cancellation
//   - c: Channel used for the listing commands
//   - cache: Populated cache to read definitions from
//   - logger: Destination for per-device failures
//
// Returns:
//   - *Discovery: The new discovery result, never nil
func Discover(ctx context.Context, c commander, cache *Cache, logger Logger) *Discovery {
	d := &Discovery{
		generation: generations.Add(1),
		schedule:   make(map[string][]string),
		wireIDs:    make(map[string]any),
	}

	for _, device := range parseDevices(cache) {
		if !device.Visible {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if err := d.discoverDevice(ctx, c, device); err != nil {
			d.failed = append(d.failed, device.ID)
			logger.Warn("device discovery failed", "device_id", device.ID, "error", err)
		}
	}
	sort.Strings(d.devices)

	d.finish(cache)
	return d
}

// Redefine rebuilds the meter, preset and site descriptors from the cache
// while keeping the device descriptors and poll schedule of d.
func (d *Discovery) Redefine(cache *Cache) *Discovery {
	next := &Discovery{
		schedule: make(map[string][]string),
		wireIDs:  make(map[string]any),
	}
	if d != nil {
		next.generation = d.generation
		next.deviceDescs = d.deviceDescs
		next.schedule = d.schedule
		next.wireIDs = d.wireIDs
		next.devices = d.devices
		next.failed = d.failed
	}
	next.finish(cache)
	return next
}

// finish assembles the platform index from the device descriptors and the
// cached definitions.
func (d *Discovery) finish(cache *Cache) {
	d.byPlatform = make(map[Platform][]Descriptor)
	for _, desc := range d.deviceDescs {
		d.add(desc)
	}
	d.discoverPresets(cache)
	d.discoverMeters(cache)
	d.discoverSite(cache)

	for p := range d.byPlatform {
		list := d.byPlatform[p]
		sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
}

func (d *Discovery) discoverDevice(ctx context.Context, c commander, device Device) error {
	res := c.CommandWait(ctx, CmdApparatus, Fields{FieldAction: ActionList, FieldID: device.WireID})
	if !res.OK() {
		return fmt.Errorf("listing attributes: %s: %w", res.Status, res.Err)
	}
	raw, _ := res.Field(FieldAttributes)
	attrs := parseAttributes(raw)

	byName := make(map[string]Attribute, len(attrs))
	for _, a := range attrs {
		byName[a.Name] = a
	}

	// Attributes claimed by a template are polled but never classified
	// again on their own.
	polled := make(map[string]bool)
	consumed := make(map[string]bool)
	for _, t := range capabilityTemplates {
		if !t.matches(byName) {
			continue
		}
		d.deviceDescs = append(d.deviceDescs, t.descriptor(device, byName))
		for _, name := range t.Roles {
			polled[name] = true
			consumed[name] = true
		}
	}

	for _, a := range attrs {
		if consumed[a.Name] {
			continue
		}
		desc, ok := d.describeAttribute(ctx, c, device, a)
		if !ok {
			continue
		}
		d.deviceDescs = append(d.deviceDescs, desc)
		if a.Access.Readable() {
			polled[a.Name] = true
		}
	}

	if len(polled) == 0 {
		return nil
	}
	names := make([]string, 0, len(polled))
	for name := range polled {
		names = append(names, name)
	}
	sort.Strings(names)
	d.schedule[device.ID] = names
	d.wireIDs[device.ID] = device.WireID
	d.devices = append(d.devices, device.ID)
	return nil
}

// describeAttribute applies the single-attribute rules in order.
func (d *Discovery) describeAttribute(ctx context.Context, c commander, device Device, a Attribute) (Descriptor, bool) {
	base := Descriptor{
		ID:       descriptorID(device.ID, a.Name),
		Name:     device.Name + " " + titleCase(a.Name),
		DeviceID: device.ID,
		Source:   KeyApparatus,
		Key:      device.ID + "." + a.Name,
		Topic:    UpdateApparatus,
		Access:   a.Access,
	}

	if kind := Classify(a.Name); kind != KindUnclassified {
		spec := SpecFor(kind)
		base.Platform = PlatformSensor
		base.Kind = kind
		base.Unit = spec.Unit
		base.DeviceClass = spec.DeviceClass
		base.StateClass = spec.StateClass
		return base, true
	}

	if hasOnOffEnum(a.Enum) {
		base.Kind = KindBoolean
		if a.Access.Writable() {
			base.Platform = PlatformSwitch
			base.StateOn = "on"
			base.StateOff = "off"
			base.Commands = map[string]CommandTemplate{
				CommandTurnOn:  apparatusSet(device.WireID, a.Name, "on"),
				CommandTurnOff: apparatusSet(device.WireID, a.Name, "off"),
			}
			return base, true
		}
		base.Platform = PlatformSensor
		base.DeviceClass = "enum"
		base.Options = append([]string(nil), a.Enum...)
		return base, true
	}

	if isLightOutput(device, a) {
		mode, err := outputMode(ctx, c, device)
		if err != nil || mode == OutputOff {
			return Descriptor{}, false
		}
		base.Platform = PlatformLight
		base.Kind = KindLightOutput
		base.StateOff = 0
		if mode == OutputDimmer {
			base.ColorMode = ColorModeBrightness
			base.Commands = map[string]CommandTemplate{
				CommandTurnOn:   apparatusSet(device.WireID, a.Name, ValuePlaceholder),
				CommandTurnOff:  apparatusSet(device.WireID, a.Name, 0),
				CommandSetValue: apparatusSet(device.WireID, a.Name, ValuePlaceholder),
			}
		} else {
			base.ColorMode = ColorModeOnOff
			base.Commands = map[string]CommandTemplate{
				CommandTurnOn:  apparatusSet(device.WireID, a.Name, 100),
				CommandTurnOff: apparatusSet(device.WireID, a.Name, 0),
			}
		}
		return base, true
	}

	return Descriptor{}, false
}

// Light color modes.
const (
	ColorModeOnOff      = "onoff"
	ColorModeBrightness = "brightness"
)

// outputMode asks the gateway how a lighting channel is wired.
func outputMode(ctx context.Context, c commander, device Device) (OutputMode, error) {
	res := c.CommandWait(ctx, CmdApparatus, Fields{
		FieldAction:     ActionGet,
		FieldID:         device.WireID,
		FieldAttributes: []string{FieldOutputMode},
	})
	if !res.OK() {
		return OutputOff, fmt.Errorf("querying output mode: %s: %w", res.Status, res.Err)
	}
	attrs, _ := res.Field(FieldAttributes)
	values, _ := attrs.(map[string]any)
	switch v := values[FieldOutputMode].(type) {
	case int64:
		return OutputMode(v), nil
	case uint64:
		return OutputMode(v), nil
	case float64:
		return OutputMode(v), nil
	default:
		return OutputOff, fmt.Errorf("%w: outputmode %v", ErrUnexpectedResult, v)
	}
}

// discoverPresets yields one select per (room, group) with two or more
// presets.
func (d *Discovery) discoverPresets(cache *Cache) {
	presets, _ := cache.Lookup(KeyPresets, "")
	entries, _ := presets.(map[string]any)

	type groupKey struct{ room, group string }
	groups := make(map[groupKey][]map[string]any)
	for _, v := range entries {
		p, ok := v.(map[string]any)
		if !ok {
			continue
		}
		k := groupKey{room: idString(p[FieldRoom]), group: idString(p[FieldGroup])}
		groups[k] = append(groups[k], p)
	}

	for k, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return idString(members[i][FieldID]) < idString(members[j][FieldID])
		})

		desc := Descriptor{
			ID:         descriptorID("room"+k.room, "preset_"+strings.ToLower(k.group)),
			Platform:   PlatformSelect,
			Name:       roomName(cache, k.room) + " " + titleCase(strings.ToLower(k.group)),
			Source:     KeyPresets,
			Topic:      UpdatePreset,
			Kind:       KindPresetSelect,
			Commands:   make(map[string]CommandTemplate, len(members)),
			Attributes: make(map[string]string, len(members)),
		}
		for _, p := range members {
			name, _ := p[FieldName].(string)
			id := idString(p[FieldID])
			if name == "" {
				name = id
			}
			desc.Options = append(desc.Options, name)
			desc.Attributes[name] = id + "." + FieldActive
			desc.Commands[name] = CommandTemplate{
				Command: CmdPreset,
				Fields:  Fields{FieldAction: ActionPerform, FieldID: p[FieldID]},
			}
		}
		d.add(desc)
	}
}

// discoverMeters yields a live power and a total energy sensor per meter.
func (d *Discovery) discoverMeters(cache *Cache) {
	meters, _ := cache.Lookup(KeyMeters, "")
	list, _ := meters.([]any)
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		id := idString(m[FieldID])
		if id == "" {
			continue
		}
		name, _ := m[FieldName].(string)
		if name == "" {
			name = "Meter " + id
		}

		power := SpecFor(KindMeterPower)
		d.add(Descriptor{
			ID:          descriptorID("meter"+id, "power"),
			Platform:    PlatformSensor,
			Name:        name + " Power",
			Source:      KeyEnergyConsumption,
			Key:         id,
			Topic:       UpdatePush,
			Kind:        KindMeterPower,
			Unit:        power.Unit,
			DeviceClass: power.DeviceClass,
			StateClass:  power.StateClass,
		})

		energy := SpecFor(KindMeterEnergy)
		d.add(Descriptor{
			ID:          descriptorID("meter"+id, "energy"),
			Platform:    PlatformSensor,
			Name:        name + " Energy",
			Source:      KeyEnergyTotal,
			Key:         id,
			Topic:       UpdatePoll,
			Kind:        KindMeterEnergy,
			Unit:        energy.Unit,
			DeviceClass: energy.DeviceClass,
			StateClass:  energy.StateClass,
		})
	}
}

// Alarm panel commands.
const (
	CommandArmHome  = "arm_home"
	CommandArmAway  = "arm_away"
	CommandArmNight = "arm_night"
)

// discoverSite yields the site-mode alarm panel.
func (d *Discovery) discoverSite(cache *Cache) {
	site, ok := cache.Get(KeySite)
	if !ok {
		return
	}
	m, _ := site.(map[string]any)
	nodeID := idString(m[FieldNodeID])
	name, _ := m[FieldName].(string)
	if name == "" {
		name = "One Smart Control"
	}

	perform := func(preset string) CommandTemplate {
		return CommandTemplate{
			Command: CmdSitePreset,
			Fields:  Fields{FieldAction: ActionPerform, FieldPerform: preset},
		}
	}
	d.add(Descriptor{
		ID:       descriptorID(nodeID, "site_mode"),
		Platform: PlatformAlarmPanel,
		Name:     name + " Mode",
		DeviceID: nodeID,
		Source:   KeySiteUpdate,
		Key:      FieldMode,
		Topic:    UpdatePush,
		Kind:     KindSiteMode,
		Options:  []string{SitePresetHome, SitePresetAway, SitePresetAsleep},
		Commands: map[string]CommandTemplate{
			CommandArmHome:  perform(SitePresetHome),
			CommandArmAway:  perform(SitePresetAway),
			CommandArmNight: perform(SitePresetAsleep),
		},
	})
}

// parseDevices reads the device/list cache entry.
func parseDevices(cache *Cache) []Device {
	v, _ := cache.Get(KeyDevices)
	entries, _ := v.(map[string]any)

	devices := make([]Device, 0, len(entries))
	for id, raw := range entries {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		dev := Device{
			ID:      id,
			WireID:  m[FieldID],
			Visible: true,
		}
		if dev.WireID == nil {
			dev.WireID = id
		}
		dev.Name, _ = m[FieldName].(string)
		dev.Type, _ = m[FieldType].(string)
		dev.Group, _ = m[FieldGroup].(string)
		dev.Room = idString(m[FieldRoom])
		if visible, ok := m[FieldVisible].(bool); ok {
			dev.Visible = visible
		}
		if dev.Name == "" {
			dev.Name = "Device " + id
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// parseAttributes reads the attribute list of an apparatus/list result.
func parseAttributes(raw any) []Attribute {
	list, _ := raw.([]any)
	attrs := make([]Attribute, 0, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		a := Attribute{}
		a.Name, _ = m[FieldName].(string)
		if a.Name == "" {
			continue
		}
		access, _ := m[FieldAccess].(string)
		a.Access = Access(strings.ToUpper(access))
		a.Type, _ = m[FieldType].(string)
		a.Type = strings.ToUpper(a.Type)
		if enum, ok := m[FieldEnum].([]any); ok {
			for _, e := range enum {
				if s, ok := e.(string); ok {
					a.Enum = append(a.Enum, s)
				}
			}
		}
		attrs = append(attrs, a)
	}
	return attrs
}

func roomName(cache *Cache, roomID string) string {
	if name, ok := cache.Lookup(KeyRooms, roomID+"."+FieldName); ok {
		if s, ok := name.(string); ok && s != "" {
			return s
		}
	}
	return "Room " + roomID
}

func descriptorID(owner, facet string) string {
	return "onesmart-" + owner + "-" + facet
}

// titleCase turns "room_temperature" into "Room Temperature".
func titleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// roundRobin tracks the next attribute batch per device.
//
// Owned by the poll loop. Cursors are reset when a new device discovery is
// swapped in so they never index a stale schedule.
type roundRobin struct {
	generation uint64
	cursors    map[string]int
	completed  map[string]bool
}

func (r *roundRobin) sync(d *Discovery) {
	gen := uint64(0)
	if d != nil {
		gen = d.generation
	}
	if r.cursors == nil || r.generation != gen {
		r.generation = gen
		r.cursors = make(map[string]int)
		r.completed = make(map[string]bool)
	}
}

// next returns the next batch of at most n names for deviceID and whether
// the batch completed a full pass over the device's schedule.
func (r *roundRobin) next(d *Discovery, deviceID string, n int) ([]string, bool) {
	r.sync(d)
	names := d.Schedule(deviceID)
	if len(names) == 0 || n <= 0 {
		return nil, true
	}

	cursor := r.cursors[deviceID]
	if cursor >= len(names) {
		cursor = 0
	}
	end := min(cursor+n, len(names))
	batch := names[cursor:end]

	cursor += len(batch)
	wrapped := cursor >= len(names)
	if wrapped {
		cursor = 0
		r.completed[deviceID] = true
	}
	r.cursors[deviceID] = cursor
	return batch, wrapped
}

// cycleComplete reports whether every scheduled device has completed a
// pass since the last complete cycle, and starts a new cycle if so.
func (r *roundRobin) cycleComplete(d *Discovery) bool {
	r.sync(d)
	devices := d.Devices()
	if len(devices) == 0 {
		return false
	}
	for _, id := range devices {
		if !r.completed[id] {
			return false
		}
	}
	r.completed = make(map[string]bool)
	return true
}
