package bridge

import (
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// CommandMessage asks the bridge to run one descriptor command.
// Topic: onesmart/command/{descriptor}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DescriptorID is taken from the topic for MQTT commands.
	DescriptorID string `json:"descriptor_id"`

	// Command is a template name such as "turn_on", "set_value" or a
	// preset option.
	Command string `json:"command"`

	// Value replaces the template placeholder, if the template has one.
	Value any `json:"value,omitempty"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was written to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckQueued indicates the channel was down; the command is sent once
	// it reconnects.
	AckQueued AckStatus = "queued"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: onesmart/ack/{descriptor}
type AckMessage struct {
	CommandID     string    `json:"command_id"`
	Timestamp     time.Time `json:"timestamp"`
	DescriptorID  string    `json:"descriptor_id"`
	Status        AckStatus `json:"status"`
	TransactionID uint32    `json:"transaction_id,omitempty"`
	Error         *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeQueueFull         = "QUEUE_FULL"
	ErrCodeGatewayError      = "GATEWAY_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// HealthStatus is the overall bridge state.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// ChannelHealth summarises one gateway channel.
type ChannelHealth struct {
	State      string `json:"state"`
	LastSetup  string `json:"last_setup"`
	Reconnects uint64 `json:"reconnects"`
	Timeouts   uint64 `json:"timeouts"`
	Failures   uint64 `json:"failures"`
	Queued     int    `json:"queued"`
}

// HealthMessage is published periodically.
// Topic: onesmart/system/health (retained)
type HealthMessage struct {
	Bridge        string        `json:"bridge"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        HealthStatus  `json:"status"`
	Version       string        `json:"version,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Push          ChannelHealth `json:"push"`
	Poll          ChannelHealth `json:"poll"`
	Devices       int           `json:"devices"`
	Descriptors   int           `json:"descriptors"`
	FailedDevices []string      `json:"failed_devices,omitempty"`
	CacheEntries  int           `json:"cache_entries"`
	PendingFlags  int           `json:"pending_flags"`
	Reason        string        `json:"reason,omitempty"`
}

// DescriptorMessage is a descriptor together with its current state.
// Topic: onesmart/descriptors/{platform}/{id} (retained)
type DescriptorMessage struct {
	onesmart.Descriptor
	State      any            `json:"state,omitempty"`
	RoleStates map[string]any `json:"role_states,omitempty"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, txID uint32) AckMessage {
	return AckMessage{
		CommandID:     cmd.ID,
		Timestamp:     time.Now().UTC(),
		DescriptorID:  cmd.DescriptorID,
		Status:        status,
		TransactionID: txID,
	}
}

// NewAckError creates a failed acknowledgement with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, 0)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

func channelHealth(cs onesmart.ChannelStatus, queued int) ChannelHealth {
	return ChannelHealth{
		State:      cs.State.String(),
		LastSetup:  cs.LastSetup.String(),
		Reconnects: cs.Reconnects,
		Timeouts:   cs.Timeouts,
		Failures:   cs.Failures,
		Queued:     queued,
	}
}
