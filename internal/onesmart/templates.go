package onesmart

// Template roles used in Descriptor.Attributes.
const (
	RoleAction      = "action"
	RoleCurrentTemp = "current_temperature"
	RoleTargetTemp  = "target_temperature"
	RoleMode        = "mode"
)

// capabilityTemplate describes a multi-attribute entity. A device matches
// when it exposes every attribute named in Roles; optional roles are left
// empty.
type capabilityTemplate struct {
	Name     string
	Platform Platform
	Kind     Kind
	Roles    map[string]string
	// Modes maps consumer modes to the value written to the mode role.
	// An empty value means the mode is reported but not settable.
	Modes map[string]string
	// Actions maps values read from the action role to consumer actions.
	Actions map[string]string
}

// Consumer-facing climate modes and actions.
const (
	HVACModeOff     = "off"
	HVACModeAuto    = "auto"
	HVACModeFanOnly = "fan_only"

	HVACActionOff     = "off"
	HVACActionHeating = "heating"
	HVACActionCooling = "cooling"
	HVACActionFan     = "fan"

	WaterHeaterEco         = "eco"
	WaterHeaterPerformance = "performance"
)

var capabilityTemplates = []capabilityTemplate{
	{
		Name:     "heat_pump",
		Platform: PlatformClimate,
		Kind:     KindClimate,
		Roles: map[string]string{
			RoleAction:      "operating_mode",
			RoleCurrentTemp: "room_temperature_zone1",
			RoleTargetTemp:  "hc_thermostat_target_temperature_zone1",
			RoleMode:        "system_onoff",
		},
		Modes: map[string]string{
			HVACModeOff:  "off",
			HVACModeAuto: "on",
		},
		Actions: map[string]string{
			"stop":        HVACActionOff,
			"hot_water":   HVACActionOff,
			"heating":     HVACActionHeating,
			"cooling":     HVACActionCooling,
			"freeze_stat": HVACActionOff,
			"legionella":  HVACActionOff,
		},
	},
	{
		Name:     "ventilation",
		Platform: PlatformClimate,
		Kind:     KindClimate,
		Roles: map[string]string{
			RoleAction:      "bypass_percentage",
			RoleCurrentTemp: "outlet_air_temperature",
			RoleTargetTemp:  "comfort_temperature",
		},
		Modes: map[string]string{
			HVACModeFanOnly: "",
		},
		Actions: map[string]string{
			"0":   HVACActionFan,
			"100": HVACActionCooling,
		},
	},
	{
		Name:     "domestic_hot_water",
		Platform: PlatformWaterHeater,
		Kind:     KindWaterHeater,
		Roles: map[string]string{
			RoleTargetTemp:  "water_tank_setpoint",
			RoleCurrentTemp: "water_tank_temperature",
			RoleMode:        "operating_mode_dhw",
		},
		Modes: map[string]string{
			WaterHeaterEco:         "eco",
			WaterHeaterPerformance: "normal",
		},
	},
}

// matches reports whether attrs holds every attribute the template needs.
func (t capabilityTemplate) matches(attrs map[string]Attribute) bool {
	for _, name := range t.Roles {
		if _, ok := attrs[name]; !ok {
			return false
		}
	}
	return true
}

// descriptor builds the template's descriptor for one device.
func (t capabilityTemplate) descriptor(device Device, attrs map[string]Attribute) Descriptor {
	d := Descriptor{
		ID:         descriptorID(device.ID, t.Name),
		Platform:   t.Platform,
		Name:       device.Name,
		DeviceID:   device.ID,
		Source:     KeyApparatus,
		Key:        device.ID,
		Topic:      UpdateApparatus,
		Kind:       t.Kind,
		Unit:       SpecFor(KindTemperature).Unit,
		Attributes: make(map[string]string, len(t.Roles)),
		Modes:      t.Modes,
		Actions:    t.Actions,
		Commands:   make(map[string]CommandTemplate),
	}
	for role, name := range t.Roles {
		d.Attributes[role] = device.ID + "." + name
	}

	if target, ok := attrs[t.Roles[RoleTargetTemp]]; ok && target.Access.Writable() {
		d.Commands[CommandSetValue] = apparatusSet(device.WireID, target.Name, ValuePlaceholder)
	}
	if mode, ok := attrs[t.Roles[RoleMode]]; ok && mode.Access.Writable() {
		d.Commands[CommandSetMode] = apparatusSet(device.WireID, mode.Name, ValuePlaceholder)
	}
	return d
}
