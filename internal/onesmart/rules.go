package onesmart

import "strings"

// Kind is the semantic classification of a single apparatus attribute.
type Kind string

// Attribute kinds.
const (
	KindTemperature  Kind = "temperature"
	KindPercentage   Kind = "percentage"
	KindCO2          Kind = "co2"
	KindPowerFactor  Kind = "power_factor"
	KindPower        Kind = "power"
	KindCurrent      Kind = "current"
	KindVoltage      Kind = "voltage"
	KindFrequency    Kind = "frequency"
	KindEnergyTotal  Kind = "energy_total"
	KindEnergyDaily  Kind = "energy_daily"
	KindRPM          Kind = "rpm"
	KindFlowRate     Kind = "flow_rate"
	KindBoolean      Kind = "boolean"
	KindLightOutput  Kind = "light_output"
	KindSiteMode     Kind = "site_mode"
	KindPresetSelect Kind = "preset_select"
	KindClimate      Kind = "climate"
	KindWaterHeater  Kind = "water_heater"
	KindMeterPower   Kind = "meter_power"
	KindMeterEnergy  Kind = "meter_energy"
	KindUnclassified Kind = ""
)

// State classes.
const (
	stateMeasurement     = "measurement"
	stateTotal           = "total"
	stateTotalIncreasing = "total_increasing"
)

// KindSpec is the unit and semantic tags attached to a kind.
type KindSpec struct {
	Unit        string
	DeviceClass string
	StateClass  string
}

// classificationRule maps name substrings to a kind. A rule matches when
// the attribute name contains any of its patterns.
type classificationRule struct {
	Patterns []string
	Kind     Kind
}

// classificationRules is evaluated top to bottom; the first match wins.
// power_factor precedes _power so that power factors are not read as watts.
var classificationRules = []classificationRule{
	{Patterns: []string{"_temp"}, Kind: KindTemperature},
	{Patterns: []string{"_percent", "efficiency"}, Kind: KindPercentage},
	{Patterns: []string{"co2_level"}, Kind: KindCO2},
	{Patterns: []string{"power_factor"}, Kind: KindPowerFactor},
	{Patterns: []string{"_power"}, Kind: KindPower},
	{Patterns: []string{"current"}, Kind: KindCurrent},
	{Patterns: []string{"voltage"}, Kind: KindVoltage},
	{Patterns: []string{"frequency"}, Kind: KindFrequency},
	{Patterns: []string{"e_total"}, Kind: KindEnergyTotal},
	{Patterns: []string{"e_day"}, Kind: KindEnergyDaily},
	{Patterns: []string{"_rpm"}, Kind: KindRPM},
	{Patterns: []string{"flow_rate_4graph"}, Kind: KindFlowRate},
}

// kindSpecs holds the unit and tags per kind.
var kindSpecs = map[Kind]KindSpec{
	KindTemperature: {Unit: "°C", DeviceClass: "temperature", StateClass: stateMeasurement},
	KindPercentage:  {Unit: "%", StateClass: stateMeasurement},
	KindCO2:         {Unit: "ppm", DeviceClass: "carbon_dioxide", StateClass: stateMeasurement},
	KindPowerFactor: {DeviceClass: "power_factor", StateClass: stateMeasurement},
	KindPower:       {Unit: "W", DeviceClass: "power", StateClass: stateMeasurement},
	KindCurrent:     {Unit: "A", DeviceClass: "current", StateClass: stateMeasurement},
	KindVoltage:     {Unit: "V", DeviceClass: "voltage", StateClass: stateMeasurement},
	KindFrequency:   {Unit: "Hz", DeviceClass: "frequency", StateClass: stateMeasurement},
	KindEnergyTotal: {Unit: "kWh", DeviceClass: "energy", StateClass: stateTotal},
	KindEnergyDaily: {Unit: "kWh", DeviceClass: "energy", StateClass: stateTotalIncreasing},
	KindRPM:         {Unit: "rpm", StateClass: stateMeasurement},
	KindFlowRate:    {Unit: "L/min", StateClass: stateMeasurement},
	KindMeterPower:  {Unit: "W", DeviceClass: "power", StateClass: stateMeasurement},
	KindMeterEnergy: {Unit: "Wh", DeviceClass: "energy", StateClass: stateTotal},
}

// Classify returns the kind of an attribute name, or KindUnclassified.
func Classify(name string) Kind {
	lower := strings.ToLower(name)
	for _, rule := range classificationRules {
		for _, p := range rule.Patterns {
			if strings.Contains(lower, p) {
				return rule.Kind
			}
		}
	}
	return KindUnclassified
}

// SpecFor returns the unit and tags of a kind.
func SpecFor(kind Kind) KindSpec {
	return kindSpecs[kind]
}

// hasOnOffEnum reports whether an attribute enum offers both "on" and "off".
func hasOnOffEnum(enum []string) bool {
	var on, off bool
	for _, v := range enum {
		switch strings.ToLower(v) {
		case "on":
			on = true
		case "off":
			off = true
		}
	}
	return on && off
}

// isLightOutput reports whether an attribute is the output value of a
// lighting channel.
func isLightOutput(device Device, attr Attribute) bool {
	return strings.EqualFold(device.Group, GroupLights) &&
		strings.Contains(strings.ToLower(attr.Name), "output") &&
		attr.Name != FieldOutputMode &&
		attr.Access.Writable() &&
		(attr.Type == TypeNumber || attr.Type == TypeReal)
}
