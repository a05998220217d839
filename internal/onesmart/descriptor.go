package onesmart

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Platform is the kind of consumer entity a descriptor maps to.
type Platform string

// Platforms.
const (
	PlatformSensor      Platform = "sensor"
	PlatformSwitch      Platform = "switch"
	PlatformLight       Platform = "light"
	PlatformClimate     Platform = "climate"
	PlatformWaterHeater Platform = "water_heater"
	PlatformSelect      Platform = "select"
	PlatformAlarmPanel  Platform = "alarm_control_panel"
)

// Platforms lists every platform in a stable order.
var Platforms = []Platform{
	PlatformSensor, PlatformSwitch, PlatformLight, PlatformClimate,
	PlatformWaterHeater, PlatformSelect, PlatformAlarmPanel,
}

// Command template names used in Descriptor.Commands.
const (
	CommandTurnOn   = "turn_on"
	CommandTurnOff  = "turn_off"
	CommandSetValue = "set_value"
	CommandSetMode  = "set_mode"
)

// CommandTemplate is a ready-to-send command. A field holding
// ValuePlaceholder is replaced by WithValue.
type CommandTemplate struct {
	Command Command `json:"cmd"`
	Fields  Fields  `json:"fields"`
}

// WithValue returns a copy of the template with every ValuePlaceholder
// replaced by v, at any depth.
func (t CommandTemplate) WithValue(v any) CommandTemplate {
	return CommandTemplate{
		Command: t.Command,
		Fields:  replacePlaceholder(t.Fields, v).(Fields),
	}
}

// HasPlaceholder reports whether the template expects a value.
func (t CommandTemplate) HasPlaceholder() bool {
	return containsPlaceholder(t.Fields)
}

func replacePlaceholder(v, with any) any {
	switch t := v.(type) {
	case Fields:
		out := make(Fields, len(t))
		for k, val := range t {
			out[k] = replacePlaceholder(val, with)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = replacePlaceholder(val, with)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = replacePlaceholder(val, with)
		}
		return out
	default:
		if isPlaceholder(v) {
			return with
		}
		return v
	}
}

func containsPlaceholder(v any) bool {
	switch t := v.(type) {
	case Fields:
		for _, val := range t {
			if containsPlaceholder(val) {
				return true
			}
		}
	case map[string]any:
		for _, val := range t {
			if containsPlaceholder(val) {
				return true
			}
		}
	case []any:
		for _, val := range t {
			if containsPlaceholder(val) {
				return true
			}
		}
	default:
		return isPlaceholder(v)
	}
	return false
}

func isPlaceholder(v any) bool {
	switch n := v.(type) {
	case int64:
		return n == ValuePlaceholder
	case uint64:
		return n == uint64(ValuePlaceholder)
	case float64:
		return n == float64(ValuePlaceholder)
	case int:
		return int64(n) == ValuePlaceholder
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		return err == nil && i == ValuePlaceholder
	default:
		return false
	}
}

// Descriptor describes one observable or controllable facet of a device.
//
// Descriptors reference cache locations (Source plus Key) rather than
// holding values; the current value is always read from the Cache.
type Descriptor struct {
	ID          string                     `json:"id"`
	Platform    Platform                   `json:"platform"`
	Name        string                     `json:"name"`
	DeviceID    string                     `json:"device_id,omitempty"`
	Source      CacheKey                   `json:"source"`
	Key         string                     `json:"key"`
	Topic       UpdateTopic                `json:"topic"`
	Kind        Kind                       `json:"kind,omitempty"`
	Unit        string                     `json:"unit,omitempty"`
	DeviceClass string                     `json:"device_class,omitempty"`
	StateClass  string                     `json:"state_class,omitempty"`
	Access      Access                     `json:"access,omitempty"`
	Options     []string                   `json:"options,omitempty"`
	StateOn     any                        `json:"state_on,omitempty"`
	StateOff    any                        `json:"state_off,omitempty"`
	ColorMode   string                     `json:"color_mode,omitempty"`
	Commands    map[string]CommandTemplate `json:"commands,omitempty"`
	// Attributes maps template roles to cache paths for multi-attribute
	// descriptors (climate, water heater).
	Attributes map[string]string `json:"attributes,omitempty"`
	// Modes maps consumer modes to gateway values; Actions maps gateway
	// values to consumer actions.
	Modes   map[string]string `json:"modes,omitempty"`
	Actions map[string]string `json:"actions,omitempty"`
}

// Resolve reads the descriptor's current value from the cache.
func (d Descriptor) Resolve(c *Cache) (any, bool) {
	return c.Lookup(d.Source, d.Key)
}

// ResolveAttribute reads one template role's value from the cache.
func (d Descriptor) ResolveAttribute(c *Cache, role string) (any, bool) {
	path, ok := d.Attributes[role]
	if !ok {
		return nil, false
	}
	return c.Lookup(d.Source, path)
}

// Template returns the named command template.
func (d Descriptor) Template(name string) (CommandTemplate, error) {
	t, ok := d.Commands[name]
	if !ok {
		return CommandTemplate{}, fmt.Errorf("descriptor %s has no %q command", d.ID, name)
	}
	return t, nil
}

// apparatusSet builds an apparatus/set template for one attribute.
func apparatusSet(device any, attribute string, value any) CommandTemplate {
	return CommandTemplate{
		Command: CmdApparatus,
		Fields: Fields{
			FieldAction:     ActionSet,
			FieldID:         device,
			FieldAttributes: map[string]any{attribute: value},
		},
	}
}
