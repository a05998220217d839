package onesmart

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the gateway protocol mandates SHA-1 password digests
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Wire protocol constants.
const (
	// DefaultPort is the gateway's TLS port.
	DefaultPort = 9010

	// MaxTransactionID is the largest transaction id before the counter wraps.
	MaxTransactionID = 65535

	// ValuePlaceholder is substituted in command templates with the value a
	// consumer supplies (brightness, setpoint).
	ValuePlaceholder int64 = 4294967296

	// frameDelimiter terminates every message on the wire.
	frameDelimiter = "\r\n"

	// minFrameLength filters keep-alive noise; shorter segments are skipped.
	minFrameLength = 8
)

// Command is the "cmd" field of an outbound message.
type Command string

// Gateway commands.
const (
	CmdApparatus    Command = "apparatus"
	CmdAuthenticate Command = "authenticate"
	CmdDevice       Command = "device"
	CmdEnergy       Command = "energy"
	CmdEvents       Command = "events"
	CmdGetToken     Command = "gettoken"
	CmdLogbook      Command = "logbook"
	CmdMeter        Command = "meter"
	CmdModules      Command = "modules"
	CmdPing         Command = "ping"
	CmdPreset       Command = "preset"
	CmdPresetGroup  Command = "presetgroup"
	CmdRole         Command = "role"
	CmdRoom         Command = "room"
	CmdSite         Command = "site"
	CmdUser         Command = "user"
	CmdUpgrade      Command = "upgrade"
	CmdSitePreset   Command = "sitepreset"
	CmdTrigger      Command = "trigger"
)

// Action is the "action" field of an outbound message.
type Action string

// Command actions.
const (
	ActionAdd       Action = "add"
	ActionCheck     Action = "check"
	ActionDelete    Action = "delete"
	ActionGet       Action = "get"
	ActionList      Action = "list"
	ActionPerform   Action = "perform"
	ActionSet       Action = "set"
	ActionSubscribe Action = "subscribe"
	ActionTotal     Action = "total"
	ActionUpdate    Action = "update"
)

// Field names used on the wire.
const (
	FieldAccess      = "access"
	FieldAction      = "action"
	FieldActive      = "active"
	FieldAttributes  = "attributes"
	FieldCmd         = "cmd"
	FieldData        = "data"
	FieldDevices     = "devices"
	FieldEnum        = "enum"
	FieldError       = "error"
	FieldEvent       = "event"
	FieldGroup       = "group"
	FieldID          = "id"
	FieldMAC         = "mac"
	FieldMeters      = "meters"
	FieldMode        = "mode"
	FieldName        = "name"
	FieldNodeID      = "nodeID"
	FieldOutputMode  = "outputmode"
	FieldPassword    = "password"
	FieldPerform     = "perform"
	FieldPresets     = "presets"
	FieldResult      = "result"
	FieldRoom        = "room"
	FieldRooms       = "rooms"
	FieldTopics      = "topics"
	FieldTransaction = "transaction"
	FieldType        = "type"
	FieldUsername    = "username"
	FieldValue       = "value"
	FieldValues      = "values"
	FieldVersion     = "version"
	FieldVisible     = "visible"
)

// EventType is the "event" tag of an unsolicited message.
type EventType string

// Gateway events.
const (
	EventDeviceData        EventType = "device_data"
	EventDeviceInput       EventType = "device_input"
	EventDeviceStatus      EventType = "device_status"
	EventEnergyConsumption EventType = "energy_consumption"
	EventPresetPerform     EventType = "preset_perform"
	EventPresetStop        EventType = "preset_stop"
	EventPresetDelete      EventType = "preset_delete"
	EventRoomCreate        EventType = "room_create"
	EventRoomUpdate        EventType = "room_update"
	EventRoomDelete        EventType = "room_delete"
	EventSiteUpdate        EventType = "site_update"
	EventTriggerCreate     EventType = "trigger_create"
	EventTriggerPerform    EventType = "trigger_perform"
	EventTriggerDelete     EventType = "trigger_delete"
)

// EventTopic is a topic accepted by events/subscribe.
type EventTopic string

// Subscription topics.
const (
	TopicAuthentication EventTopic = "AUTHENTICATION"
	TopicEnergy         EventTopic = "ENERGY"
	TopicDevice         EventTopic = "DEVICE"
	TopicMessage        EventTopic = "MESSAGE"
	TopicMeter          EventTopic = "METER"
	TopicPreset         EventTopic = "PRESET"
	TopicPresetGroup    EventTopic = "PRESETGROUP"
	TopicRole           EventTopic = "ROLE"
	TopicRoom           EventTopic = "ROOM"
	TopicTrigger        EventTopic = "TRIGGER"
	TopicSite           EventTopic = "SITE"
	TopicSitePreset     EventTopic = "SITEPRESET"
	TopicUpgrade        EventTopic = "UPGRADE"
	TopicUser           EventTopic = "USER"
)

// AllEventTopics is what the push channel subscribes to after connecting.
var AllEventTopics = []EventTopic{
	TopicAuthentication, TopicEnergy, TopicDevice, TopicMessage, TopicMeter,
	TopicPreset, TopicPresetGroup, TopicRole, TopicRoom, TopicTrigger,
	TopicSite, TopicSitePreset, TopicUpgrade, TopicUser,
}

// Apparatus attribute data types.
const (
	TypeArray  = "ARRAY"
	TypeNumber = "NUMBER"
	TypeObject = "OBJECT"
	TypeReal   = "REAL"
	TypeString = "STRING"
)

// Access is the access level of an apparatus attribute.
type Access string

// Access levels.
const (
	AccessRead      Access = "READ"
	AccessReadWrite Access = "READWRITE"
	AccessWrite     Access = "WRITE"
)

// Readable reports whether the attribute value can be polled.
func (a Access) Readable() bool { return a == AccessRead || a == AccessReadWrite }

// Writable reports whether the attribute accepts apparatus/set.
func (a Access) Writable() bool { return a == AccessWrite || a == AccessReadWrite }

// Device groups.
const (
	GroupAccess   = "ACCESS"
	GroupAudio    = "AUDIO"
	GroupBlinds   = "BLINDS"
	GroupClimate  = "CLIMATE"
	GroupLights   = "LIGHTS"
	GroupSecurity = "SECURITY"
	GroupVideo    = "VIDEO"
)

// OutputMode is the configured mode of a lighting output.
type OutputMode int

// Lighting output modes.
const (
	OutputOff    OutputMode = 0
	OutputBinary OutputMode = 16
	OutputDimmer OutputMode = 22
	OutputRelay  OutputMode = 35
)

// Site presets accepted by sitepreset/perform.
const (
	SitePresetHome   = "HOME"
	SitePresetAway   = "AWAY"
	SitePresetAsleep = "ASLEEP"
)

// Channel names one of the two gateway connections.
type Channel string

// Channels.
const (
	ChannelPush Channel = "push"
	ChannelPoll Channel = "poll"
)

// SetupStatus is the typed outcome of connecting a channel or the client.
type SetupStatus int

// Setup outcomes.
const (
	SetupSuccess SetupStatus = iota
	SetupFailNetwork
	SetupFailAuth
	SetupFailCache
)

// String returns a readable name for the status.
func (s SetupStatus) String() string {
	switch s {
	case SetupSuccess:
		return "success"
	case SetupFailNetwork:
		return "fail_network"
	case SetupFailAuth:
		return "fail_auth"
	case SetupFailCache:
		return "fail_cache"
	default:
		return "unknown"
	}
}

// UpdateTopic identifies a cache area for change notifications.
type UpdateTopic string

// Notification topics.
const (
	UpdateDefinitions UpdateTopic = "definitions"
	UpdatePoll        UpdateTopic = "poll"
	UpdateApparatus   UpdateTopic = "apparatus"
	UpdatePush        UpdateTopic = "push"
	UpdatePreset      UpdateTopic = "preset"
)

// Fields holds the command-specific fields of an outbound message.
type Fields map[string]any

// Message is a decoded inbound frame.
//
// A message with HasTransaction set is a response; otherwise it is an event.
// Numbers inside Result, Error and Data are normalised to int64, uint64 or
// float64.
type Message struct {
	Transaction    uint32
	HasTransaction bool
	Result         any
	Error          any
	Event          EventType
	Data           any
}

// IsEvent reports whether the message is an unsolicited event.
func (m Message) IsEvent() bool { return !m.HasTransaction }

// Failed reports whether the response carries an error field.
func (m Message) Failed() bool { return m.Error != nil }

// decodeMessage parses one frame into a Message.
func decodeMessage(frame []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if raw == nil {
		return Message{}, fmt.Errorf("%w: null frame", ErrMalformedFrame)
	}

	var msg Message
	if v, ok := raw[FieldTransaction]; ok {
		id, err := transactionID(v)
		if err != nil {
			return Message{}, err
		}
		msg.Transaction = id
		msg.HasTransaction = true
	}
	msg.Result = normalizeNumbers(raw[FieldResult])
	msg.Error = normalizeNumbers(raw[FieldError])
	msg.Data = normalizeNumbers(raw[FieldData])
	if ev, ok := raw[FieldEvent].(string); ok {
		msg.Event = EventType(ev)
	}
	return msg, nil
}

// transactionID converts the decoded transaction field into an id.
func transactionID(v any) (uint32, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: transaction %v is not a number", ErrMalformedFrame, v)
	}
	id, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: transaction %s: %w", ErrMalformedFrame, n, err)
	}
	return uint32(id), nil
}

// normalizeNumbers replaces json.Number values with int64, uint64 or
// float64 so the cache never exposes decoder types.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return u
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) {
			return f
		}
		return t.String()
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}

// encodeCommand serialises a command with its transaction id and delimiter.
func encodeCommand(cmd Command, id uint32, fields Fields) ([]byte, error) {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload[FieldCmd] = cmd
	payload[FieldTransaction] = id

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd, err)
	}
	return append(data, frameDelimiter...), nil
}

// HashPassword returns the hex SHA-1 digest the gateway expects.
func HashPassword(password string) string {
	sum := sha1.Sum([]byte(password)) //nolint:gosec // protocol requirement
	return hex.EncodeToString(sum[:])
}

// idString renders a gateway id (number or string) as a map key.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
